package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rongwang/debtbook-server/internal/models"
)

func (s *DefaultService) GetBorrowedUsers(ctx context.Context, userID int64) ([]models.BorrowedUser, error) {
	users, err := s.repo.ListBorrowedUsers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing borrowed users: %w", err)
	}
	return users, nil
}

func (s *DefaultService) InsertBorrowedUser(
	ctx context.Context,
	userID int64,
	req models.InsertBorrowedUserRequest,
) (*models.BorrowedUser, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.Mode != models.ModeBorrowing && req.Mode != models.ModeLending {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}

	borrowed := &models.BorrowedUser{
		UserID:    userID,
		Name:      name,
		Email:     req.Email,
		Mode:      req.Mode,
		Status:    models.BorrowedUserPending,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.CreateBorrowedUser(ctx, borrowed); err != nil {
		return nil, fmt.Errorf("error creating borrowed user: %w", err)
	}

	return borrowed, nil
}

func (s *DefaultService) InsertInvitation(
	ctx context.Context,
	userID int64,
	req models.InsertInvitationRequest,
) (*models.UserInvitation, error) {
	if !req.BorrowedUserID.Valid {
		return nil, fmt.Errorf("%w: borrowed_user_id is required", ErrInvalidInput)
	}

	borrowed, err := s.ownedBorrowedUser(ctx, userID, req.BorrowedUserID.Value)
	if err != nil {
		return nil, err
	}
	if borrowed.Status == models.BorrowedUserActive {
		return nil, fmt.Errorf("%w: borrowed user %d is already registered", ErrConflict, borrowed.ID)
	}

	now := s.now().UTC()
	invitation := &models.UserInvitation{
		InvitationCode: uuid.NewString(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.invitationTTL),
		BorrowedUserID: borrowed.ID,
	}

	if err := s.repo.CreateInvitation(ctx, invitation); err != nil {
		return nil, fmt.Errorf("error creating invitation: %w", err)
	}

	s.logger.Info("Invitation created", "borrowed_user_id", borrowed.ID, "expires_at", invitation.ExpiresAt)
	return invitation, nil
}

func (s *DefaultService) GetInvitation(ctx context.Context, req models.GetInvitationRequest) (*models.InvitationResponse, error) {
	invitation, err := s.repo.GetInvitationByCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("error getting invitation: %w", err)
	}
	if err := s.checkInvitation(invitation); err != nil {
		return nil, err
	}

	borrowed, err := s.repo.GetBorrowedUser(ctx, invitation.BorrowedUserID)
	if err != nil {
		return nil, fmt.Errorf("error getting borrowed user: %w", err)
	}
	if borrowed == nil {
		return nil, fmt.Errorf("%w: invitation", ErrNotFound)
	}

	return &models.InvitationResponse{Invitation: *invitation, User: *borrowed}, nil
}

// ownedBorrowedUser loads a borrowed user and hides those of other owners
func (s *DefaultService) ownedBorrowedUser(ctx context.Context, userID, id int64) (*models.BorrowedUser, error) {
	borrowed, err := s.repo.GetBorrowedUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting borrowed user: %w", err)
	}
	if borrowed == nil || borrowed.UserID != userID {
		return nil, fmt.Errorf("%w: borrowed user %d", ErrNotFound, id)
	}
	return borrowed, nil
}
