package report

import (
	"testing"
	"time"

	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func income(t time.Time, price int64) Entry {
	return Entry{Date: t, Type: models.EntryIncome, Price: price}
}

func expense(t time.Time, price int64) Entry {
	return Entry{Date: t, Type: models.EntryExpense, Price: price}
}

func months(rows []models.MonthlyReport) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Month
	}
	return out
}

func TestBuildWindow(t *testing.T) {
	rows := Build(day(2024, 2, 1), nil, DefaultOptions())

	assert.Equal(t, []string{"2023-11", "2023-12", "2024-01", "2024-02", "2024-03", "2024-04"}, months(rows))
}

func TestBuildNoHistoryIsAllZero(t *testing.T) {
	rows := Build(day(2024, 2, 1), nil, DefaultOptions())

	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.Zero(t, r.SumIncome, r.Month)
		assert.Zero(t, r.SumExpense, r.Month)
		assert.Zero(t, r.IncomePrediction, r.Month)
		assert.Zero(t, r.ExpensePrediction, r.Month)
	}
}

func TestBuildScenario(t *testing.T) {
	entries := []Entry{
		income(day(2024, 1, 10), 100),
		expense(day(2024, 1, 15), 40),
	}

	rows := Build(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), entries, DefaultOptions())
	require.Len(t, rows, 6)

	assert.Equal(t, models.MonthlyReport{Month: "2023-12"}, rows[1])
	assert.Equal(t, models.MonthlyReport{Month: "2024-01", SumIncome: 100, SumExpense: 40}, rows[2])
	// cumulative: February still carries January's totals
	assert.Equal(t, models.MonthlyReport{Month: "2024-02", SumIncome: 100, SumExpense: 40}, rows[3])
	// flat history gives a zero rate, so the prediction is the balance at cutoff
	assert.Equal(t, models.MonthlyReport{Month: "2024-03", IncomePrediction: 100, ExpensePrediction: 40}, rows[4])
	assert.Equal(t, models.MonthlyReport{Month: "2024-04", IncomePrediction: 100, ExpensePrediction: 40}, rows[5])
}

func TestBuildPastMonthsNeverPredict(t *testing.T) {
	entries := []Entry{
		income(day(2023, 9, 1), 500),
		income(day(2023, 12, 1), 300),
		expense(day(2024, 1, 20), 70),
	}

	rows := Build(day(2024, 2, 10), entries, DefaultOptions())
	for _, r := range rows[:4] {
		assert.Zero(t, r.IncomePrediction, r.Month)
		assert.Zero(t, r.ExpensePrediction, r.Month)
	}
}

func TestBuildLinearPrediction(t *testing.T) {
	entries := []Entry{
		income(day(2024, 1, 5), 100),
		income(day(2024, 2, 3), 100),
	}

	rows := Build(day(2024, 2, 20), entries, DefaultOptions())

	// positive buckets: Jan=100, Feb=200 -> (200-100)/2 = 50 per month
	assert.Equal(t, int64(250), rows[4].IncomePrediction)
	assert.Equal(t, int64(300), rows[5].IncomePrediction)
	assert.Zero(t, rows[4].ExpensePrediction)
	assert.Zero(t, rows[4].SumIncome)
}

func TestBuildRateRounds(t *testing.T) {
	entries := []Entry{
		income(day(2023, 12, 1), 100),
		income(day(2024, 1, 1), 50),
	}

	rows := Build(day(2024, 2, 1), entries, DefaultOptions())

	// positive buckets: Dec=100, Jan=150, Feb=150 -> 50/3 = 16.67 -> 17
	assert.Equal(t, int64(167), rows[4].IncomePrediction)
	assert.Equal(t, int64(184), rows[5].IncomePrediction)
}

func TestRunRateRoundsHalfUp(t *testing.T) {
	sumIncome := func(b *bucket) int64 { return b.sumIncome }
	past := func(sums ...int64) []bucket {
		out := make([]bucket, len(sums))
		for i, s := range sums {
			out[i] = bucket{offset: i - len(sums) + 1, sumIncome: s}
		}
		return out
	}

	assert.Equal(t, int64(0), runRate(past(), sumIncome))
	assert.Equal(t, int64(0), runRate(past(0, 0), sumIncome))
	// 10/4 = 2.5
	assert.Equal(t, int64(3), runRate(past(10, 15, 18, 20), sumIncome))
	// 10/3 = 3.33
	assert.Equal(t, int64(3), runRate(past(10, 15, 20), sumIncome))
	// future buckets are ignored
	withFuture := append(past(10, 20), bucket{offset: 1, sumIncome: 1000})
	assert.Equal(t, int64(5), runRate(withFuture, sumIncome))
}

func TestBuildFutureDatedEntriesUseBucketSum(t *testing.T) {
	entries := []Entry{
		income(day(2024, 1, 10), 100),
		income(day(2024, 4, 10), 500),
	}

	rows := Build(day(2024, 2, 1), entries, DefaultOptions())

	assert.Equal(t, int64(100), rows[4].IncomePrediction)
	assert.Equal(t, int64(600), rows[5].IncomePrediction)
	// the future entry is not part of the past rate
	assert.Equal(t, int64(100), rows[3].SumIncome)
}

func TestBuildBoundedBuckets(t *testing.T) {
	entries := []Entry{
		income(day(2024, 1, 10), 100),
		income(day(2024, 2, 10), 30),
	}
	opts := DefaultOptions()
	opts.Bounded = true

	rows := Build(day(2024, 2, 15), entries, opts)

	assert.Equal(t, int64(100), rows[2].SumIncome)
	assert.Equal(t, int64(30), rows[3].SumIncome)
	// (100-30)/2 = 35, future buckets hold nothing of their own
	assert.Equal(t, int64(35), rows[4].IncomePrediction)
	assert.Equal(t, int64(70), rows[5].IncomePrediction)
}

func TestBuildUsesLocationForMonthBoundaries(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2024-02-01 05:00 in Tokyo
	entries := []Entry{income(time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC), 100)}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	utcRows := Build(now, entries, DefaultOptions())
	assert.Equal(t, int64(100), utcRows[2].SumIncome)

	opts := DefaultOptions()
	opts.Location = tokyo
	tokyoRows := Build(now, entries, opts)
	assert.Equal(t, "2024-01", tokyoRows[2].Month)
	assert.Zero(t, tokyoRows[2].SumIncome)
	assert.Equal(t, int64(100), tokyoRows[3].SumIncome)
}
