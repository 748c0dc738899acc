package models

import (
	"time"
)

// EntryType is the kind of a history record: "0" income, "1" expense
type EntryType string

const (
	EntryIncome  EntryType = "0"
	EntryExpense EntryType = "1"
)

// EntryStatus tracks counterparty confirmation of a history record
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusDone     EntryStatus = "done"
	StatusRejected EntryStatus = "rejected"
)

// Mode selects the borrowing or lending perspective over the ledger
type Mode string

const (
	ModeBorrowing Mode = "borrowing"
	ModeLending   Mode = "lending"
)

// BorrowedUserStatus is "pending" until the counterparty registers
type BorrowedUserStatus string

const (
	BorrowedUserPending BorrowedUserStatus = "pending"
	BorrowedUserActive  BorrowedUserStatus = "active"
)

// User represents an account that can log in
type User struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"` // login name
	Name        *string   `db:"name" json:"name,omitempty"`
	Password    string    `db:"password" json:"-"`     // Password hash, not returned in JSON
	AccessToken *string   `db:"access_token" json:"-"` // hashed token of the live session
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// IncomeExpenseHistory is one ledger entry owned by a user
type IncomeExpenseHistory struct {
	ID             int64       `db:"id" json:"id"`
	UserID         int64       `db:"user_id" json:"user_id"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Price          int64       `db:"price" json:"price"`
	Type           EntryType   `db:"type" json:"type"`
	Description    string      `db:"description" json:"description"`
	BorrowedUserID *int64      `db:"borrowed_user_id" json:"borrowed_user_id"`
	Status         EntryStatus `db:"status" json:"status"`
	CreatedBy      *int64      `db:"created_by" json:"created_by"`
}

// BorrowedUser is a counterparty the owner borrows from or lends to
type BorrowedUser struct {
	ID           int64              `db:"id" json:"id"`
	UserID       int64              `db:"user_id" json:"user_id"`
	Name         string             `db:"name" json:"name"`
	Email        *string            `db:"email" json:"email"`
	Mode         Mode               `db:"mode" json:"mode"`
	Status       BorrowedUserStatus `db:"status" json:"status"`
	LinkedUserID *int64             `db:"linked_user_id" json:"linked_user_id,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// UserInvitation lets a borrowed user register an account
type UserInvitation struct {
	ID             int64      `db:"id" json:"id"`
	InvitationCode string     `db:"invitation_code" json:"invitation_code"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	BorrowedUserID int64      `db:"borrowed_user_id" json:"borrowed_user_id"`
	UsedAt         *time.Time `db:"used_at" json:"used_at,omitempty"`
}

// MonthlyReport is one month of the aggregated/predicted series
type MonthlyReport struct {
	Month             string `json:"month"` // YYYY-MM
	SumIncome         int64  `json:"sumIncome"`
	SumExpense        int64  `json:"sumExpense"`
	IncomePrediction  int64  `json:"incomePrediction"`
	ExpensePrediction int64  `json:"expensePrediction"`
}

// HistoryFilter narrows history queries. Zero values mean "no filter".
// Mode selects the borrowed users of that mode and keeps entries that
// have no borrowed user; LinkedOnly drops those.
type HistoryFilter struct {
	BorrowedUserID OptionalID
	Mode           Mode
	Status         EntryStatus
	LinkedOnly     bool
}
