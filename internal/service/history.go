package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rongwang/debtbook-server/internal/models"
)

// Accepted layouts for the date of a history entry
var entryDateLayouts = []string{time.DateOnly, time.RFC3339}

func (s *DefaultService) GetIncomeExpenseHistory(
	ctx context.Context,
	userID int64,
	req models.ReportRequest,
) ([]models.IncomeExpenseHistory, error) {
	entries, err := s.repo.ListHistory(ctx, userID, req.Filter())
	if err != nil {
		return nil, fmt.Errorf("error listing history: %w", err)
	}
	return entries, nil
}

// GetCounterpartyHistory lists the entries other users recorded against the
// caller, so the caller can confirm or reject the pending ones.
func (s *DefaultService) GetCounterpartyHistory(
	ctx context.Context,
	userID int64,
	req models.CounterpartyHistoryRequest,
) ([]models.IncomeExpenseHistory, error) {
	entries, err := s.repo.ListCounterpartyHistory(ctx, userID, req.Status)
	if err != nil {
		return nil, fmt.Errorf("error listing counterparty history: %w", err)
	}
	return entries, nil
}

func (s *DefaultService) InsertIncomeExpenseHistory(
	ctx context.Context,
	userID int64,
	req models.InsertIncomeExpenseHistoryRequest,
) (*models.IncomeExpenseHistory, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if req.Type != models.EntryIncome && req.Type != models.EntryExpense {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, req.Type)
	}

	date, err := s.parseEntryDate(req.Date)
	if err != nil {
		return nil, err
	}

	entry := &models.IncomeExpenseHistory{
		UserID:      userID,
		CreatedAt:   date,
		Price:       req.Price,
		Type:        req.Type,
		Description: req.Description,
		Status:      models.StatusDone,
		CreatedBy:   &userID,
	}

	if req.BorrowedUserID.Valid {
		borrowed, err := s.ownedBorrowedUser(ctx, userID, req.BorrowedUserID.Value)
		if err != nil {
			return nil, err
		}
		entry.BorrowedUserID = &borrowed.ID
		// A registered counterparty confirms entries against them
		if borrowed.Status == models.BorrowedUserActive {
			entry.Status = models.StatusPending
		}
	}

	if err := s.repo.InsertHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("error inserting history: %w", err)
	}

	return entry, nil
}

func (s *DefaultService) parseEntryDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range entryDateLayouts {
		if t, err := time.ParseInLocation(layout, value, s.reportOptions.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD or RFC3339", ErrInvalidInput, value)
}

// DeleteIncomeExpenseHistory reports models.ResultError when the caller
// owns no entry with that id.
func (s *DefaultService) DeleteIncomeExpenseHistory(
	ctx context.Context,
	userID int64,
	req models.DeleteIncomeExpenseHistoryRequest,
) (string, error) {
	deleted, err := s.repo.DeleteHistory(ctx, userID, req.ID)
	if err != nil {
		return "", fmt.Errorf("error deleting history: %w", err)
	}
	if !deleted {
		return models.ResultError, nil
	}
	return models.ResultSuccess, nil
}

// UpdateIncomeExpenseHistoryStatus lets the counterparty confirm or reject a
// pending entry and lets the owner resubmit a rejected one.
func (s *DefaultService) UpdateIncomeExpenseHistoryStatus(
	ctx context.Context,
	userID int64,
	req models.UpdateHistoryStatusRequest,
) error {
	entry, err := s.repo.GetHistory(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("error getting history: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("%w: history %d", ErrNotFound, req.ID)
	}

	isOwner := entry.UserID == userID
	isCounterparty := false
	if entry.BorrowedUserID != nil {
		borrowed, err := s.repo.GetBorrowedUser(ctx, *entry.BorrowedUserID)
		if err != nil {
			return fmt.Errorf("error getting borrowed user: %w", err)
		}
		isCounterparty = borrowed != nil && borrowed.LinkedUserID != nil && *borrowed.LinkedUserID == userID
	}

	if !isOwner && !isCounterparty {
		return fmt.Errorf("%w: history %d", ErrNotFound, req.ID)
	}
	if !allowedTransition(entry.Status, req.Status, isOwner, isCounterparty) {
		return fmt.Errorf("%w: cannot move entry from %s to %s", ErrForbidden, entry.Status, req.Status)
	}

	updated, err := s.repo.UpdateHistoryStatus(ctx, entry.ID, entry.Status, req.Status)
	if err != nil {
		return fmt.Errorf("error updating history status: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: entry changed concurrently", ErrConflict)
	}

	s.logger.Info("History status changed", "id", entry.ID, "from", entry.Status, "to", req.Status, "by", userID)
	return nil
}

func allowedTransition(from, to models.EntryStatus, isOwner, isCounterparty bool) bool {
	switch {
	case isCounterparty && from == models.StatusPending:
		return to == models.StatusDone || to == models.StatusRejected
	case isOwner && from == models.StatusRejected:
		return to == models.StatusPending
	}
	return false
}
