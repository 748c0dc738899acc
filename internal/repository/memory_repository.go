package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rongwang/debtbook-server/internal/models"
)

// MemoryRepository keeps everything in process memory. It backs the
// "memory" data backend and the API tests.
type MemoryRepository struct {
	mu sync.RWMutex

	nextID        int64
	users         map[int64]models.User
	history       map[int64]models.IncomeExpenseHistory
	borrowedUsers map[int64]models.BorrowedUser
	invitations   map[string]models.UserInvitation
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[int64]models.User),
		history:       make(map[int64]models.IncomeExpenseHistory),
		borrowedUsers: make(map[int64]models.BorrowedUser),
		invitations:   make(map[string]models.UserInvitation),
	}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createUserLocked(user)
}

func (r *MemoryRepository) createUserLocked(user *models.User) error {
	for _, u := range r.users {
		if u.UserID == user.UserID {
			return ErrDuplicateUser
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = r.id()
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetUserByLoginID(_ context.Context, loginID string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.UserID == loginID {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetUserBySession(_ context.Context, id int64, accessToken string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok || u.AccessToken == nil || *u.AccessToken != accessToken {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) UpdateAccessToken(_ context.Context, id int64, accessToken string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	u.AccessToken = &accessToken
	r.users[id] = u
	return true, nil
}

func (r *MemoryRepository) InsertHistory(_ context.Context, entry *models.IncomeExpenseHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = r.id()
	r.history[entry.ID] = *entry
	return nil
}

func (r *MemoryRepository) GetHistory(_ context.Context, id int64) (*models.IncomeExpenseHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.history[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r *MemoryRepository) ListHistory(
	_ context.Context,
	ownerID int64,
	filter models.HistoryFilter,
) ([]models.IncomeExpenseHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []models.IncomeExpenseHistory{}
	for _, h := range r.history {
		if h.UserID != ownerID {
			continue
		}
		if filter.BorrowedUserID.Valid && (h.BorrowedUserID == nil || *h.BorrowedUserID != filter.BorrowedUserID.Value) {
			continue
		}
		if h.BorrowedUserID == nil {
			if filter.LinkedOnly {
				continue
			}
		} else if filter.Mode != "" {
			if bu, ok := r.borrowedUsers[*h.BorrowedUserID]; !ok || bu.Mode != filter.Mode {
				continue
			}
		}
		if filter.Status != "" && h.Status != filter.Status {
			continue
		}
		entries = append(entries, h)
	}

	sortNewestFirst(entries)
	return entries, nil
}

func (r *MemoryRepository) ListCounterpartyHistory(
	_ context.Context,
	linkedUserID int64,
	status models.EntryStatus,
) ([]models.IncomeExpenseHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []models.IncomeExpenseHistory{}
	for _, h := range r.history {
		if h.BorrowedUserID == nil {
			continue
		}
		bu, ok := r.borrowedUsers[*h.BorrowedUserID]
		if !ok || bu.LinkedUserID == nil || *bu.LinkedUserID != linkedUserID {
			continue
		}
		if status != "" && h.Status != status {
			continue
		}
		entries = append(entries, h)
	}

	sortNewestFirst(entries)
	return entries, nil
}

func sortNewestFirst(entries []models.IncomeExpenseHistory) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}

func (r *MemoryRepository) DeleteHistory(_ context.Context, ownerID, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[id]
	if !ok || h.UserID != ownerID {
		return false, nil
	}
	delete(r.history, id)
	return true, nil
}

func (r *MemoryRepository) UpdateHistoryStatus(_ context.Context, id int64, from, to models.EntryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[id]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	r.history[id] = h
	return true, nil
}

func (r *MemoryRepository) CreateBorrowedUser(_ context.Context, user *models.BorrowedUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = r.id()
	r.borrowedUsers[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetBorrowedUser(_ context.Context, id int64) (*models.BorrowedUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.borrowedUsers[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) ListBorrowedUsers(_ context.Context, ownerID int64) ([]models.BorrowedUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := []models.BorrowedUser{}
	for _, u := range r.borrowedUsers {
		if u.UserID == ownerID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *MemoryRepository) CreateInvitation(_ context.Context, invitation *models.UserInvitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	invitation.ID = r.id()
	r.invitations[invitation.InvitationCode] = *invitation
	return nil
}

func (r *MemoryRepository) GetInvitationByCode(_ context.Context, code string) (*models.UserInvitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invitations[code]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *MemoryRepository) RegisterInvitedUser(
	_ context.Context,
	code string,
	user *models.User,
	now time.Time,
) (*models.BorrowedUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[code]
	if !ok || inv.UsedAt != nil || !inv.ExpiresAt.After(now) {
		return nil, ErrInvitationUnavailable
	}
	bu, ok := r.borrowedUsers[inv.BorrowedUserID]
	if !ok {
		return nil, ErrInvitationUnavailable
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if err := r.createUserLocked(user); err != nil {
		return nil, err
	}

	usedAt := now
	inv.UsedAt = &usedAt
	r.invitations[code] = inv

	linked := user.ID
	bu.Status = models.BorrowedUserActive
	bu.LinkedUserID = &linked
	if bu.Email == nil {
		email := user.UserID
		bu.Email = &email
	}
	r.borrowedUsers[bu.ID] = bu

	return &bu, nil
}

var _ Repository = (*MemoryRepository)(nil)
