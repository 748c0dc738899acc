package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/debtbook-server/internal/models"
)

var (
	// ErrDuplicateUser is returned when the login name is already taken
	ErrDuplicateUser = errors.New("user already exists")
	// ErrInvitationUnavailable covers unknown, used and expired invitation codes
	ErrInvitationUnavailable = errors.New("invitation is not available")
)

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByLoginID(ctx context.Context, loginID string) (*models.User, error)
	GetUserBySession(ctx context.Context, id int64, accessToken string) (*models.User, error)
	UpdateAccessToken(ctx context.Context, id int64, accessToken string) (bool, error)

	// Income/expense history operations
	InsertHistory(ctx context.Context, entry *models.IncomeExpenseHistory) error
	GetHistory(ctx context.Context, id int64) (*models.IncomeExpenseHistory, error)
	ListHistory(ctx context.Context, ownerID int64, filter models.HistoryFilter) ([]models.IncomeExpenseHistory, error)
	ListCounterpartyHistory(ctx context.Context, linkedUserID int64, status models.EntryStatus) ([]models.IncomeExpenseHistory, error)
	DeleteHistory(ctx context.Context, ownerID, id int64) (bool, error)
	UpdateHistoryStatus(ctx context.Context, id int64, from, to models.EntryStatus) (bool, error)

	// Borrowed user operations
	CreateBorrowedUser(ctx context.Context, user *models.BorrowedUser) error
	GetBorrowedUser(ctx context.Context, id int64) (*models.BorrowedUser, error)
	ListBorrowedUsers(ctx context.Context, ownerID int64) ([]models.BorrowedUser, error)

	// Invitation operations
	CreateInvitation(ctx context.Context, invitation *models.UserInvitation) error
	GetInvitationByCode(ctx context.Context, code string) (*models.UserInvitation, error)
	RegisterInvitedUser(ctx context.Context, code string, user *models.User, now time.Time) (*models.BorrowedUser, error)
}

const (
	userColumns         = `id, user_id, name, password, access_token, created_at`
	historyColumns      = `id, user_id, created_at, price, type, description, borrowed_user_id, status, created_by`
	borrowedUserColumns = `id, user_id, name, email, mode, status, linked_user_id, created_at`
	invitationColumns   = `id, invitation_code, expires_at, created_at, borrowed_user_id, used_at`

	joinedHistoryColumns = `h.id, h.user_id, h.created_at, h.price, h.type, h.description,
		h.borrowed_user_id, h.status, h.created_by`
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO user_info (user_id, name, password, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowxContext(ctx, query,
		user.UserID, user.Name, user.Password, user.CreatedAt).Scan(&user.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	return err
}

func (r *PostgresRepository) GetUserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_info WHERE user_id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, loginID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserBySession(ctx context.Context, id int64, accessToken string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_info WHERE id = $1 AND access_token = $2`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, id, accessToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No live session with this token
		}
		return nil, err
	}

	return &user, nil
}

// UpdateAccessToken overwrites the stored session token. The last writer wins.
func (r *PostgresRepository) UpdateAccessToken(ctx context.Context, id int64, accessToken string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE user_info SET access_token = $1 WHERE id = $2`, accessToken, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// History repository methods
func (r *PostgresRepository) InsertHistory(ctx context.Context, entry *models.IncomeExpenseHistory) error {
	query := `
		INSERT INTO income_expense_history (user_id, created_at, price, type, description, borrowed_user_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	return r.db.QueryRowxContext(ctx, query,
		entry.UserID, entry.CreatedAt, entry.Price, entry.Type, entry.Description,
		entry.BorrowedUserID, entry.Status, entry.CreatedBy).Scan(&entry.ID)
}

func (r *PostgresRepository) GetHistory(ctx context.Context, id int64) (*models.IncomeExpenseHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM income_expense_history WHERE id = $1`

	var entry models.IncomeExpenseHistory
	err := r.db.GetContext(ctx, &entry, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Entry not found
		}
		return nil, err
	}

	return &entry, nil
}

func (r *PostgresRepository) ListHistory(
	ctx context.Context,
	ownerID int64,
	filter models.HistoryFilter,
) ([]models.IncomeExpenseHistory, error) {
	query := `
		SELECT ` + joinedHistoryColumns + `
		FROM income_expense_history h
		LEFT JOIN borrowed_users b ON b.id = h.borrowed_user_id
		WHERE h.user_id = $1
	`

	args := []interface{}{ownerID}

	if filter.BorrowedUserID.Valid {
		args = append(args, filter.BorrowedUserID.Value)
		query += fmt.Sprintf(` AND h.borrowed_user_id = $%d`, len(args))
	}
	if filter.LinkedOnly {
		query += ` AND h.borrowed_user_id IS NOT NULL`
	}
	if filter.Mode != "" {
		args = append(args, filter.Mode)
		query += fmt.Sprintf(` AND (h.borrowed_user_id IS NULL OR b.mode = $%d)`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND h.status = $%d`, len(args))
	}

	query += ` ORDER BY h.created_at DESC, h.id DESC`

	entries := []models.IncomeExpenseHistory{}
	err := r.db.SelectContext(ctx, &entries, query, args...)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// ListCounterpartyHistory lists entries other users recorded against the
// borrowed users linked to linkedUserID.
func (r *PostgresRepository) ListCounterpartyHistory(
	ctx context.Context,
	linkedUserID int64,
	status models.EntryStatus,
) ([]models.IncomeExpenseHistory, error) {
	query := `
		SELECT ` + joinedHistoryColumns + `
		FROM income_expense_history h
		JOIN borrowed_users b ON b.id = h.borrowed_user_id
		WHERE b.linked_user_id = $1
	`

	args := []interface{}{linkedUserID}
	if status != "" {
		args = append(args, status)
		query += ` AND h.status = $2`
	}

	query += ` ORDER BY h.created_at DESC, h.id DESC`

	entries := []models.IncomeExpenseHistory{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *PostgresRepository) DeleteHistory(ctx context.Context, ownerID, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM income_expense_history WHERE user_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// UpdateHistoryStatus moves an entry from one status to another; it reports
// false when the entry was not in the expected status.
func (r *PostgresRepository) UpdateHistoryStatus(
	ctx context.Context,
	id int64,
	from models.EntryStatus,
	to models.EntryStatus,
) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE income_expense_history SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Borrowed user repository methods
func (r *PostgresRepository) CreateBorrowedUser(ctx context.Context, user *models.BorrowedUser) error {
	query := `
		INSERT INTO borrowed_users (user_id, name, email, mode, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return r.db.QueryRowxContext(ctx, query,
		user.UserID, user.Name, user.Email, user.Mode, user.Status, user.CreatedAt).Scan(&user.ID)
}

func (r *PostgresRepository) GetBorrowedUser(ctx context.Context, id int64) (*models.BorrowedUser, error) {
	query := `SELECT ` + borrowedUserColumns + ` FROM borrowed_users WHERE id = $1`

	var user models.BorrowedUser
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Borrowed user not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) ListBorrowedUsers(ctx context.Context, ownerID int64) ([]models.BorrowedUser, error) {
	query := `SELECT ` + borrowedUserColumns + ` FROM borrowed_users WHERE user_id = $1 ORDER BY id ASC`

	users := []models.BorrowedUser{}
	err := r.db.SelectContext(ctx, &users, query, ownerID)
	if err != nil {
		return nil, err
	}

	return users, nil
}

// Invitation repository methods
func (r *PostgresRepository) CreateInvitation(ctx context.Context, invitation *models.UserInvitation) error {
	query := `
		INSERT INTO user_invitations (invitation_code, expires_at, created_at, borrowed_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	return r.db.QueryRowxContext(ctx, query,
		invitation.InvitationCode, invitation.ExpiresAt, invitation.CreatedAt,
		invitation.BorrowedUserID).Scan(&invitation.ID)
}

func (r *PostgresRepository) GetInvitationByCode(ctx context.Context, code string) (*models.UserInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM user_invitations WHERE invitation_code = $1`

	var invitation models.UserInvitation
	err := r.db.GetContext(ctx, &invitation, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Invitation not found
		}
		return nil, err
	}

	return &invitation, nil
}

// RegisterInvitedUser claims the invitation, creates the account and
// activates the borrowed user in one transaction.
func (r *PostgresRepository) RegisterInvitedUser(
	ctx context.Context,
	code string,
	user *models.User,
	now time.Time,
) (borrowed *models.BorrowedUser, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// The used_at guard makes the claim single-use under concurrent registrations
	var borrowedUserID int64
	err = tx.QueryRowxContext(ctx, `
		UPDATE user_invitations SET used_at = $2
		WHERE invitation_code = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING borrowed_user_id`,
		code, now).Scan(&borrowedUserID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrInvitationUnavailable
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO user_info (user_id, name, password, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		user.UserID, user.Name, user.Password, user.CreatedAt).Scan(&user.ID)
	if isUniqueViolation(err) {
		err = ErrDuplicateUser
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	borrowed = &models.BorrowedUser{}
	err = tx.GetContext(ctx, borrowed, `
		UPDATE borrowed_users
		SET status = $2, linked_user_id = $3, email = COALESCE(email, $4)
		WHERE id = $1
		RETURNING `+borrowedUserColumns,
		borrowedUserID, models.BorrowedUserActive, user.ID, user.UserID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return borrowed, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ Repository = (*PostgresRepository)(nil)
