package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rongwang/debtbook-server/internal/auth"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/report"
	"github.com/rongwang/debtbook-server/internal/repository"
	"github.com/rongwang/debtbook-server/internal/tasks"
	"github.com/rongwang/debtbook-server/internal/utils"
)

// Errors returned by the service. Callers match them with errors.Is; the
// messages wrapped around them are safe to show to clients.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid user id or password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrConflict           = errors.New("conflict")
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	AuthenticateAccessToken(ctx context.Context, token string) (*models.User, error)
	RegisterUser(ctx context.Context, req models.InsertUserInfoRequest) (*models.User, error)

	// Reports
	GetMonthlyReport(ctx context.Context, userID int64, req models.ReportRequest) ([]models.MonthlyReport, error)
	StartMonthlyReport(ctx context.Context, userID int64, req models.ReportRequest) (*models.ReportTaskResponse, error)
	WaitMonthlyReport(ctx context.Context, userID int64, taskID string, wait time.Duration) (*models.ReportTaskResponse, error)
	GetRepaymentSummary(ctx context.Context, userID int64, req models.ReportRequest) (*models.RepaymentSummary, error)

	// Income/expense history
	GetIncomeExpenseHistory(ctx context.Context, userID int64, req models.ReportRequest) ([]models.IncomeExpenseHistory, error)
	GetCounterpartyHistory(ctx context.Context, userID int64, req models.CounterpartyHistoryRequest) ([]models.IncomeExpenseHistory, error)
	InsertIncomeExpenseHistory(ctx context.Context, userID int64, req models.InsertIncomeExpenseHistoryRequest) (*models.IncomeExpenseHistory, error)
	DeleteIncomeExpenseHistory(ctx context.Context, userID int64, req models.DeleteIncomeExpenseHistoryRequest) (string, error)
	UpdateIncomeExpenseHistoryStatus(ctx context.Context, userID int64, req models.UpdateHistoryStatusRequest) error

	// Borrowed users and invitations
	GetBorrowedUsers(ctx context.Context, userID int64) ([]models.BorrowedUser, error)
	InsertBorrowedUser(ctx context.Context, userID int64, req models.InsertBorrowedUserRequest) (*models.BorrowedUser, error)
	InsertInvitation(ctx context.Context, userID int64, req models.InsertInvitationRequest) (*models.UserInvitation, error)
	GetInvitation(ctx context.Context, req models.GetInvitationRequest) (*models.InvitationResponse, error)

	// Close stops background report tasks
	Close()
}

// Options configures a DefaultService. Zero values fall back to the
// defaults of the configuration layer.
type Options struct {
	Salt           string
	TokenTTL       time.Duration
	PasswordScheme string
	InvitationTTL  time.Duration
	Location       *time.Location
	BoundedBuckets bool
	MaxWait        time.Duration

	// Tasks runs asynchronous reports. When nil the service creates and
	// owns one with default settings.
	Tasks  *tasks.Manager[[]models.MonthlyReport]
	Logger *utils.Logger
	Now    func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	hasher        auth.PasswordHasher
	tokens        *auth.TokenIssuer
	salt          string
	invitationTTL time.Duration
	reportOptions report.Options
	maxWait       time.Duration
	tasks         *tasks.Manager[[]models.MonthlyReport]
	logger        *utils.Logger
	now           func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, opts Options) (Service, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = time.Hour
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.Tasks == nil {
		opts.Tasks = tasks.NewManager[[]models.MonthlyReport](tasks.Options{Logger: opts.Logger, Now: opts.Now})
	}

	hasher, err := auth.NewPasswordHasher(opts.PasswordScheme, opts.Salt)
	if err != nil {
		return nil, fmt.Errorf("error creating password hasher: %w", err)
	}

	reportOptions := report.DefaultOptions()
	if opts.Location != nil {
		reportOptions.Location = opts.Location
	}
	reportOptions.Bounded = opts.BoundedBuckets

	return &DefaultService{
		repo:          repo,
		hasher:        hasher,
		tokens:        auth.NewTokenIssuer(opts.Salt, opts.TokenTTL, opts.Now),
		salt:          opts.Salt,
		invitationTTL: opts.InvitationTTL,
		reportOptions: reportOptions,
		maxWait:       opts.MaxWait,
		tasks:         opts.Tasks,
		logger:        opts.Logger.WithComponent("service"),
		now:           opts.Now,
	}, nil
}

// Close stops the report task manager
func (s *DefaultService) Close() {
	s.tasks.Close()
}

// Authentication methods
func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.repo.GetUserByLoginID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	// Same answer for unknown users and wrong passwords
	if user == nil || !s.hasher.Verify(user.Password, req.Password) {
		s.logger.Warn("Login failed", "user_id", req.UserID)
		return nil, ErrInvalidCredentials
	}

	sessionToken, err := auth.NewSessionToken(s.salt)
	if err != nil {
		return nil, fmt.Errorf("error generating session token: %w", err)
	}

	// Overwriting the stored token ends any earlier session
	ok, err := s.repo.UpdateAccessToken(ctx, user.ID, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("error storing session token: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	s.logger.Info("User logged in", "id", user.ID, "expires_in", s.tokens.TTL())
	return &models.LoginResponse{AccessToken: token}, nil
}

func (s *DefaultService) AuthenticateAccessToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: access token required", ErrUnauthorized)
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := s.repo.GetUserBySession(ctx, claims.ID, claims.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("error checking session: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: session is no longer valid", ErrUnauthorized)
	}

	return user, nil
}

func (s *DefaultService) RegisterUser(ctx context.Context, req models.InsertUserInfoRequest) (*models.User, error) {
	invitation, err := s.repo.GetInvitationByCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("error getting invitation: %w", err)
	}
	if err := s.checkInvitation(invitation); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		UserID:    req.Email,
		Name:      req.Name,
		Password:  hashed,
		CreatedAt: s.now().UTC(),
	}

	borrowed, err := s.repo.RegisterInvitedUser(ctx, req.Code, user, s.now())
	switch {
	case errors.Is(err, repository.ErrDuplicateUser):
		return nil, fmt.Errorf("%w: user %s already exists", ErrConflict, req.Email)
	case errors.Is(err, repository.ErrInvitationUnavailable):
		return nil, fmt.Errorf("%w: invitation is no longer available", ErrConflict)
	case err != nil:
		return nil, fmt.Errorf("error registering user: %w", err)
	}

	s.logger.Info("Invited user registered", "id", user.ID, "borrowed_user_id", borrowed.ID)
	return user, nil
}

// checkInvitation classifies an invitation that cannot be used
func (s *DefaultService) checkInvitation(invitation *models.UserInvitation) error {
	switch {
	case invitation == nil:
		return fmt.Errorf("%w: invitation", ErrNotFound)
	case invitation.UsedAt != nil:
		return fmt.Errorf("%w: invitation already used", ErrConflict)
	case !invitation.ExpiresAt.After(s.now()):
		return ErrInvitationExpired
	}
	return nil
}
