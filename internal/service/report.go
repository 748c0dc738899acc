package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/report"
	"github.com/rongwang/debtbook-server/internal/tasks"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.Japanese)

// doneEntries loads the confirmed entries matching the filter
func (s *DefaultService) doneEntries(
	ctx context.Context,
	userID int64,
	filter models.HistoryFilter,
) ([]models.IncomeExpenseHistory, error) {
	filter.Status = models.StatusDone

	entries, err := s.repo.ListHistory(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing history: %w", err)
	}
	return entries, nil
}

func (s *DefaultService) GetMonthlyReport(
	ctx context.Context,
	userID int64,
	req models.ReportRequest,
) ([]models.MonthlyReport, error) {
	history, err := s.doneEntries(ctx, userID, req.Filter())
	if err != nil {
		return nil, err
	}

	entries := make([]report.Entry, 0, len(history))
	for _, h := range history {
		entries = append(entries, report.Entry{Date: h.CreatedAt, Type: h.Type, Price: h.Price})
	}

	return report.Build(s.now(), entries, s.reportOptions), nil
}

// StartMonthlyReport computes the report in the background. Overlapping
// identical requests from the same user share one computation.
func (s *DefaultService) StartMonthlyReport(
	ctx context.Context,
	userID int64,
	req models.ReportRequest,
) (*models.ReportTaskResponse, error) {
	key := fmt.Sprintf("%d|%s|%v|%d", userID, req.Mode, req.BorrowedUserID.Valid, req.BorrowedUserID.Value)

	task := s.tasks.Submit(userID, key, func(ctx context.Context) ([]models.MonthlyReport, error) {
		return s.GetMonthlyReport(ctx, userID, req)
	})

	s.logger.Debug("Report task submitted", "task_id", task.ID, "user", userID)
	return taskResponse(task), nil
}

// WaitMonthlyReport long-polls a report task for at most wait, capped by
// the configured maximum.
func (s *DefaultService) WaitMonthlyReport(
	ctx context.Context,
	userID int64,
	taskID string,
	wait time.Duration,
) (*models.ReportTaskResponse, error) {
	if wait > s.maxWait {
		wait = s.maxWait
	}

	task, err := s.tasks.Wait(ctx, userID, taskID, wait)
	if errors.Is(err, tasks.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}

	return taskResponse(task), nil
}

func taskResponse(task *tasks.Task[[]models.MonthlyReport]) *models.ReportTaskResponse {
	status, result, err := task.Snapshot()
	resp := &models.ReportTaskResponse{
		TaskID:        task.ID,
		Status:        string(status),
		MonthlyReport: result,
	}
	if err != nil {
		resp.Error = "report computation failed"
	}
	return resp
}

// GetRepaymentSummary compares principal and repayments for one mode over
// entries recorded against borrowed users. In borrowing mode income is money
// received and expense is repayment; in lending mode it is the other way round.
func (s *DefaultService) GetRepaymentSummary(
	ctx context.Context,
	userID int64,
	req models.ReportRequest,
) (*models.RepaymentSummary, error) {
	if req.Mode != models.ModeBorrowing && req.Mode != models.ModeLending {
		return nil, fmt.Errorf("%w: mode must be borrowing or lending", ErrInvalidInput)
	}

	filter := req.Filter()
	filter.LinkedOnly = true

	history, err := s.doneEntries(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	var income, expense int64
	for _, h := range history {
		switch h.Type {
		case models.EntryIncome:
			income += h.Price
		case models.EntryExpense:
			expense += h.Price
		}
	}

	principal, repaid := income, expense
	if req.Mode == models.ModeLending {
		principal, repaid = expense, income
	}

	return summarize(req.Mode, principal, repaid), nil
}

func summarize(mode models.Mode, principal, repaid int64) *models.RepaymentSummary {
	ratio := decimal.Zero
	if principal > 0 {
		ratio = decimal.NewFromInt(repaid).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(principal)).
			Round(1)
	}

	remaining := principal - repaid
	if remaining < 0 {
		remaining = 0
	}

	return &models.RepaymentSummary{
		Mode:             mode,
		Principal:        principal,
		Repaid:           repaid,
		Remaining:        remaining,
		RepaymentRatio:   ratio,
		RemainingDisplay: amountPrinter.Sprintf("¥%d", remaining),
	}
}
