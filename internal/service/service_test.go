package service

import (
	"context"
	"testing"
	"time"

	"github.com/rongwang/debtbook-server/internal/auth"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSalt = "test-salt"

type fixture struct {
	svc   Service
	repo  *repository.MemoryRepository
	owner *models.User
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryRepository()

	svc, err := NewDefaultService(repo, Options{
		Salt:    testSalt,
		MaxWait: time.Second,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	owner := createUser(t, repo, "owner@example.com", "secret")
	return &fixture{svc: svc, repo: repo, owner: owner, now: now}
}

func createUser(t *testing.T, repo repository.Repository, loginID, password string) *models.User {
	t.Helper()
	user := &models.User{UserID: loginID, Password: auth.SHA256Hex(password + testSalt)}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func TestLoginAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, models.LoginRequest{UserID: "owner@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)

	user, err := f.svc.AuthenticateAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, user.ID)
}

func TestLoginFailsTheSameWayForUnknownUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errWrong := f.svc.Login(ctx, models.LoginRequest{UserID: "owner@example.com", Password: "nope"})
	_, errMissing := f.svc.Login(ctx, models.LoginRequest{UserID: "ghost@example.com", Password: "secret"})

	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.ErrorIs(t, errMissing, ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errMissing.Error())
}

func TestSecondLoginInvalidatesFirstToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := models.LoginRequest{UserID: "owner@example.com", Password: "secret"}

	first, err := f.svc.Login(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.AuthenticateAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.AuthenticateAccessToken(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AuthenticateAccessToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.AuthenticateAccessToken(context.Background(), "abc.def.ghi")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMonthlyReportScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []models.InsertIncomeExpenseHistoryRequest{
		{Price: 100, Date: "2024-01-10", Type: models.EntryIncome},
		{Price: 40, Date: "2024-01-15", Type: models.EntryExpense},
	} {
		_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, req)
		require.NoError(t, err)
	}

	rows, err := f.svc.GetMonthlyReport(ctx, f.owner.ID, models.ReportRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 6)

	byMonth := map[string]models.MonthlyReport{}
	for _, r := range rows {
		byMonth[r.Month] = r
	}

	assert.Equal(t, models.MonthlyReport{Month: "2024-01", SumIncome: 100, SumExpense: 40}, byMonth["2024-01"])
	assert.Equal(t, int64(100), byMonth["2024-03"].IncomePrediction)
	assert.Equal(t, int64(40), byMonth["2024-03"].ExpensePrediction)
}

func TestMonthlyReportModeKeepsPlainEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lender, err := f.svc.InsertBorrowedUser(ctx, f.owner.ID, models.InsertBorrowedUserRequest{Name: "Aiko", Mode: models.ModeLending})
	require.NoError(t, err)

	for _, req := range []models.InsertIncomeExpenseHistoryRequest{
		{Price: 100, Date: "2024-01-10", Type: models.EntryIncome},
		{Price: 40, Date: "2024-01-15", Type: models.EntryExpense},
		{Price: 7, Date: "2024-01-20", Type: models.EntryExpense, BorrowedUserID: models.SomeID(lender.ID)},
	} {
		_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, req)
		require.NoError(t, err)
	}

	borrowing, err := f.svc.GetMonthlyReport(ctx, f.owner.ID, models.ReportRequest{Mode: models.ModeBorrowing})
	require.NoError(t, err)
	assert.Equal(t, models.MonthlyReport{Month: "2024-01", SumIncome: 100, SumExpense: 40}, borrowing[2])

	lending, err := f.svc.GetMonthlyReport(ctx, f.owner.ID, models.ReportRequest{Mode: models.ModeLending})
	require.NoError(t, err)
	assert.Equal(t, models.MonthlyReport{Month: "2024-01", SumIncome: 100, SumExpense: 47}, lending[2])

	entries, err := f.svc.GetIncomeExpenseHistory(ctx, f.owner.ID, models.ReportRequest{Mode: models.ModeBorrowing})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMonthlyReportCountsOnlyDoneEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 100, Date: "2024-01-10", Type: models.EntryIncome,
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.InsertHistory(ctx, &models.IncomeExpenseHistory{
		UserID: f.owner.ID, CreatedAt: f.now.AddDate(0, 0, -5), Price: 999,
		Type: models.EntryIncome, Status: models.StatusPending,
	}))

	rows, err := f.svc.GetMonthlyReport(ctx, f.owner.ID, models.ReportRequest{})
	require.NoError(t, err)
	for _, r := range rows {
		if r.Month == "2024-01" {
			assert.Equal(t, int64(100), r.SumIncome)
		}
	}
}

func TestInsertValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 10, Date: "10/01/2024", Type: models.EntryIncome,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 0, Date: "2024-01-10", Type: models.EntryIncome,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	entry, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 10, Date: "2024-01-10T12:00:00Z", Type: models.EntryExpense,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, entry.Status)
	require.NotNil(t, entry.CreatedBy)
	assert.Equal(t, f.owner.ID, *entry.CreatedBy)
}

func TestInsertRejectsForeignBorrowedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := createUser(t, f.repo, "other@example.com", "pw")

	foreign, err := f.svc.InsertBorrowedUser(ctx, other.ID, models.InsertBorrowedUserRequest{Name: "Bank", Mode: models.ModeBorrowing})
	require.NoError(t, err)

	_, err = f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 10, Date: "2024-01-10", Type: models.EntryIncome, BorrowedUserID: models.SomeID(foreign.ID),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnlyOwnEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := createUser(t, f.repo, "other@example.com", "pw")

	entry, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 10, Date: "2024-01-10", Type: models.EntryIncome,
	})
	require.NoError(t, err)

	result, err := f.svc.DeleteIncomeExpenseHistory(ctx, other.ID, models.DeleteIncomeExpenseHistoryRequest{ID: entry.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ResultError, result)

	still, err := f.repo.GetHistory(ctx, entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)

	result, err = f.svc.DeleteIncomeExpenseHistory(ctx, f.owner.ID, models.DeleteIncomeExpenseHistoryRequest{ID: entry.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, result)
}

// registerCounterparty creates a borrowed user for the owner and registers
// an account for it through an invitation.
func registerCounterparty(t *testing.T, f *fixture, mode models.Mode) (*models.BorrowedUser, *models.User) {
	t.Helper()
	ctx := context.Background()

	borrowed, err := f.svc.InsertBorrowedUser(ctx, f.owner.ID, models.InsertBorrowedUserRequest{Name: "Aiko", Mode: mode})
	require.NoError(t, err)

	inv, err := f.svc.InsertInvitation(ctx, f.owner.ID, models.InsertInvitationRequest{BorrowedUserID: models.SomeID(borrowed.ID)})
	require.NoError(t, err)

	user, err := f.svc.RegisterUser(ctx, models.InsertUserInfoRequest{
		Code: inv.InvitationCode, Email: "aiko@example.com", Password: "pw",
	})
	require.NoError(t, err)

	borrowed, err = f.repo.GetBorrowedUser(ctx, borrowed.ID)
	require.NoError(t, err)
	return borrowed, user
}

func TestInvitationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	borrowed, err := f.svc.InsertBorrowedUser(ctx, f.owner.ID, models.InsertBorrowedUserRequest{Name: " Aiko ", Mode: models.ModeLending})
	require.NoError(t, err)
	assert.Equal(t, "Aiko", borrowed.Name)
	assert.Equal(t, models.BorrowedUserPending, borrowed.Status)

	inv, err := f.svc.InsertInvitation(ctx, f.owner.ID, models.InsertInvitationRequest{BorrowedUserID: models.SomeID(borrowed.ID)})
	require.NoError(t, err)
	assert.Len(t, inv.InvitationCode, 36)
	assert.Equal(t, f.now.Add(time.Hour), inv.ExpiresAt)

	got, err := f.svc.GetInvitation(ctx, models.GetInvitationRequest{Code: inv.InvitationCode})
	require.NoError(t, err)
	assert.Equal(t, borrowed.ID, got.User.ID)

	user, err := f.svc.RegisterUser(ctx, models.InsertUserInfoRequest{
		Code: inv.InvitationCode, Email: "aiko@example.com", Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "aiko@example.com", user.UserID)

	// the new account can log in
	_, err = f.svc.Login(ctx, models.LoginRequest{UserID: "aiko@example.com", Password: "pw"})
	assert.NoError(t, err)

	// single use
	_, err = f.svc.RegisterUser(ctx, models.InsertUserInfoRequest{
		Code: inv.InvitationCode, Email: "someone@example.com", Password: "pw",
	})
	assert.ErrorIs(t, err, ErrConflict)

	// already active counterparties are not invited again
	_, err = f.svc.InsertInvitation(ctx, f.owner.ID, models.InsertInvitationRequest{BorrowedUserID: models.SomeID(borrowed.ID)})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInvitationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := createUser(t, f.repo, "other@example.com", "pw")

	_, err := f.svc.GetInvitation(ctx, models.GetInvitationRequest{Code: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.InsertInvitation(ctx, f.owner.ID, models.InsertInvitationRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	borrowed, err := f.svc.InsertBorrowedUser(ctx, f.owner.ID, models.InsertBorrowedUserRequest{Name: "Aiko", Mode: models.ModeLending})
	require.NoError(t, err)

	_, err = f.svc.InsertInvitation(ctx, other.ID, models.InsertInvitationRequest{BorrowedUserID: models.SomeID(borrowed.ID)})
	assert.ErrorIs(t, err, ErrNotFound)

	expired := &models.UserInvitation{
		InvitationCode: "expired-code",
		CreatedAt:      f.now.Add(-2 * time.Hour),
		ExpiresAt:      f.now.Add(-time.Hour),
		BorrowedUserID: borrowed.ID,
	}
	require.NoError(t, f.repo.CreateInvitation(ctx, expired))

	_, err = f.svc.GetInvitation(ctx, models.GetInvitationRequest{Code: "expired-code"})
	assert.ErrorIs(t, err, ErrInvitationExpired)
	_, err = f.svc.RegisterUser(ctx, models.InsertUserInfoRequest{Code: "expired-code", Email: "x@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvitationExpired)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	borrowed, counterparty := registerCounterparty(t, f, models.ModeLending)
	stranger := createUser(t, f.repo, "stranger@example.com", "pw")

	entry, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 500, Date: "2024-01-20", Type: models.EntryExpense, BorrowedUserID: models.SomeID(borrowed.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status)

	update := func(userID int64, status models.EntryStatus) error {
		return f.svc.UpdateIncomeExpenseHistoryStatus(ctx, userID, models.UpdateHistoryStatusRequest{ID: entry.ID, Status: status})
	}

	assert.ErrorIs(t, update(stranger.ID, models.StatusDone), ErrNotFound)
	assert.ErrorIs(t, update(f.owner.ID, models.StatusDone), ErrForbidden, "owner cannot confirm their own entry")

	require.NoError(t, update(counterparty.ID, models.StatusRejected))
	assert.ErrorIs(t, update(counterparty.ID, models.StatusPending), ErrForbidden)

	require.NoError(t, update(f.owner.ID, models.StatusPending))
	require.NoError(t, update(counterparty.ID, models.StatusDone))
	assert.ErrorIs(t, update(counterparty.ID, models.StatusRejected), ErrForbidden)

	got, err := f.repo.GetHistory(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
}

func TestCounterpartyHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	borrowed, counterparty := registerCounterparty(t, f, models.ModeBorrowing)

	// recorded by the owner, invisible in the counterparty's own history
	entry, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 500, Date: "2024-01-20", Type: models.EntryExpense, BorrowedUserID: models.SomeID(borrowed.ID),
	})
	require.NoError(t, err)
	_, err = f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 80, Date: "2024-01-21", Type: models.EntryExpense,
	})
	require.NoError(t, err)

	own, err := f.svc.GetIncomeExpenseHistory(ctx, counterparty.ID, models.ReportRequest{})
	require.NoError(t, err)
	assert.Empty(t, own)

	pending, err := f.svc.GetCounterpartyHistory(ctx, counterparty.ID, models.CounterpartyHistoryRequest{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.ID, pending[0].ID)

	require.NoError(t, f.svc.UpdateIncomeExpenseHistoryStatus(ctx, counterparty.ID,
		models.UpdateHistoryStatusRequest{ID: pending[0].ID, Status: models.StatusDone}))

	pending, err = f.svc.GetCounterpartyHistory(ctx, counterparty.ID, models.CounterpartyHistoryRequest{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := f.svc.GetCounterpartyHistory(ctx, counterparty.ID, models.CounterpartyHistoryRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	mine, err := f.svc.GetCounterpartyHistory(ctx, f.owner.ID, models.CounterpartyHistoryRequest{})
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestReportTaskLongPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, models.InsertIncomeExpenseHistoryRequest{
		Price: 100, Date: "2024-01-10", Type: models.EntryIncome,
	})
	require.NoError(t, err)

	started, err := f.svc.StartMonthlyReport(ctx, f.owner.ID, models.ReportRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, started.TaskID)

	done, err := f.svc.WaitMonthlyReport(ctx, f.owner.ID, started.TaskID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "done", done.Status)
	assert.Len(t, done.MonthlyReport, 6)

	_, err = f.svc.WaitMonthlyReport(ctx, f.owner.ID+1, started.TaskID, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepaymentSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bank, err := f.svc.InsertBorrowedUser(ctx, f.owner.ID, models.InsertBorrowedUserRequest{Name: "Bank", Mode: models.ModeBorrowing})
	require.NoError(t, err)

	for _, req := range []models.InsertIncomeExpenseHistoryRequest{
		{Price: 3000000, Date: "2023-06-01", Type: models.EntryIncome},
		{Price: 1000000, Date: "2023-09-01", Type: models.EntryExpense},
		{Price: 500000, Date: "2023-12-01", Type: models.EntryExpense},
	} {
		req.BorrowedUserID = models.SomeID(bank.ID)
		_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, req)
		require.NoError(t, err)
	}

	// salary and groceries are not part of any debt
	for _, req := range []models.InsertIncomeExpenseHistoryRequest{
		{Price: 400000, Date: "2023-10-25", Type: models.EntryIncome},
		{Price: 30000, Date: "2023-11-03", Type: models.EntryExpense},
	} {
		_, err := f.svc.InsertIncomeExpenseHistory(ctx, f.owner.ID, req)
		require.NoError(t, err)
	}

	summary, err := f.svc.GetRepaymentSummary(ctx, f.owner.ID, models.ReportRequest{Mode: models.ModeBorrowing})
	require.NoError(t, err)
	assert.Equal(t, int64(3000000), summary.Principal)
	assert.Equal(t, int64(1500000), summary.Repaid)
	assert.Equal(t, int64(1500000), summary.Remaining)
	assert.Equal(t, "50", summary.RepaymentRatio.String())
	assert.Equal(t, "¥1,500,000", summary.RemainingDisplay)

	lending, err := f.svc.GetRepaymentSummary(ctx, f.owner.ID, models.ReportRequest{Mode: models.ModeLending})
	require.NoError(t, err)
	assert.Zero(t, lending.Principal)
	assert.True(t, lending.RepaymentRatio.IsZero())

	_, err = f.svc.GetRepaymentSummary(ctx, f.owner.ID, models.ReportRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSummarizeRoundsRatio(t *testing.T) {
	s := summarize(models.ModeLending, 3, 2)
	assert.Equal(t, "66.7", s.RepaymentRatio.String())
	assert.Equal(t, int64(1), s.Remaining)

	over := summarize(models.ModeLending, 100, 150)
	assert.Equal(t, int64(0), over.Remaining)
	assert.Equal(t, "150", over.RepaymentRatio.String())
}
