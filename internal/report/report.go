// Package report builds the monthly income/expense series with a linear
// run-rate prediction for the months after the current one.
package report

import (
	"time"

	"github.com/rongwang/debtbook-server/internal/models"
)

// Entry is one dated ledger amount
type Entry struct {
	Date  time.Time
	Type  models.EntryType
	Price int64
}

// Options controls the bucket window. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	Location    *time.Location
	MonthsBack  int  // first bucket is thisMonth - MonthsBack
	MonthsAhead int  // last bucket is thisMonth + MonthsAhead
	WindowAfter int  // rows returned have from > thisMonth - WindowAfter
	Bounded     bool // sum only entries inside each bucket instead of all history up to its end
}

// DefaultOptions reproduces the report served to the client: buckets from
// 12 months back to 2 months ahead, the last 6 of them returned.
func DefaultOptions() Options {
	return Options{
		Location:    time.UTC,
		MonthsBack:  12,
		MonthsAhead: 2,
		WindowAfter: 4,
	}
}

type bucket struct {
	from, to   time.Time
	offset     int // months relative to the current month
	sumIncome  int64
	sumExpense int64
}

// Build aggregates entries into monthly rows as of now.
func Build(now time.Time, entries []Entry, opts Options) []models.MonthlyReport {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	thisMonth := monthStart(now.In(loc))

	buckets := monthBuckets(thisMonth, opts.MonthsBack, opts.MonthsAhead)
	if opts.Bounded {
		sumWithinBuckets(buckets, entries)
	} else {
		sumUpToBucketEnd(buckets, entries)
	}

	incomeRate := runRate(buckets, func(b *bucket) int64 { return b.sumIncome })
	expenseRate := runRate(buckets, func(b *bucket) int64 { return b.sumExpense })

	windowStart := thisMonth.AddDate(0, -opts.WindowAfter, 0)
	rows := make([]models.MonthlyReport, 0, len(buckets))
	for i := range buckets {
		b := &buckets[i]
		if !b.from.After(windowStart) {
			continue
		}

		row := models.MonthlyReport{Month: b.from.Format("2006-01")}
		if b.offset <= 0 {
			row.SumIncome = b.sumIncome
			row.SumExpense = b.sumExpense
		} else {
			row.IncomePrediction = incomeRate*int64(b.offset) + b.sumIncome
			row.ExpensePrediction = expenseRate*int64(b.offset) + b.sumExpense
		}
		rows = append(rows, row)
	}

	return rows
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func monthBuckets(thisMonth time.Time, back, ahead int) []bucket {
	buckets := make([]bucket, 0, back+ahead+1)
	for offset := -back; offset <= ahead; offset++ {
		from := thisMonth.AddDate(0, offset, 0)
		buckets = append(buckets, bucket{
			from:   from,
			to:     from.AddDate(0, 1, 0),
			offset: offset,
		})
	}
	return buckets
}

// sumUpToBucketEnd gives every bucket the total of all entries dated
// before the bucket's end, so each bucket is a running balance.
func sumUpToBucketEnd(buckets []bucket, entries []Entry) {
	for i := range buckets {
		b := &buckets[i]
		for _, e := range entries {
			if e.Date.Before(b.to) {
				b.add(e)
			}
		}
	}
}

// sumWithinBuckets gives every bucket only the entries dated inside it.
func sumWithinBuckets(buckets []bucket, entries []Entry) {
	for i := range buckets {
		b := &buckets[i]
		for _, e := range entries {
			if !e.Date.Before(b.from) && e.Date.Before(b.to) {
				b.add(e)
			}
		}
	}
}

func (b *bucket) add(e Entry) {
	switch e.Type {
	case models.EntryIncome:
		b.sumIncome += e.Price
	case models.EntryExpense:
		b.sumExpense += e.Price
	}
}

// runRate is round((max - min) / count) over the current and past buckets
// whose sum is positive, rounding half away from zero. Prices are BIGINT, so
// their SUM is NUMERIC in PostgreSQL and the division is not truncated.
// No such bucket gives 0.
func runRate(buckets []bucket, sum func(*bucket) int64) int64 {
	var (
		count  int64
		lo, hi int64
	)
	for i := range buckets {
		b := &buckets[i]
		if b.offset > 0 {
			continue
		}
		s := sum(b)
		if s <= 0 {
			continue
		}
		if count == 0 || s < lo {
			lo = s
		}
		if count == 0 || s > hi {
			hi = s
		}
		count++
	}
	if count == 0 {
		return 0
	}
	// hi >= lo, so adding half the divisor rounds half up
	return (2*(hi-lo) + count) / (2 * count)
}
