package models

import "github.com/shopspring/decimal"

// Envelope wraps every API response. Status mirrors the HTTP status code;
// exactly one of Result and Error is set.
type Envelope struct {
	Status int    `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Results reported by insert/delete, kept as plain strings for the client
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// UserInfo carries the access token inside request bodies
type UserInfo struct {
	AccessToken string `json:"accessToken"`
}

// Request models
type LoginRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ReportRequest struct {
	BorrowedUserID OptionalID `json:"borrowed_user_id" form:"borrowed_user_id"`
	Mode           Mode       `json:"mode" form:"mode" binding:"omitempty,oneof=borrowing lending"`
}

// Filter converts the request into a history filter
func (r ReportRequest) Filter() HistoryFilter {
	return HistoryFilter{BorrowedUserID: r.BorrowedUserID, Mode: r.Mode}
}

type CounterpartyHistoryRequest struct {
	Status EntryStatus `json:"status" form:"status" binding:"omitempty,oneof=pending done rejected"`
}

type InsertIncomeExpenseHistoryRequest struct {
	Price          int64      `json:"price" binding:"required,gt=0"`
	Date           string     `json:"date" binding:"required"`
	Description    string     `json:"description"`
	Type           EntryType  `json:"type" binding:"required,oneof=0 1"`
	BorrowedUserID OptionalID `json:"borrowed_user_id"`
}

type DeleteIncomeExpenseHistoryRequest struct {
	ID int64 `json:"id" binding:"required"`
}

type UpdateHistoryStatusRequest struct {
	ID     int64       `json:"id" binding:"required"`
	Status EntryStatus `json:"status" binding:"required,oneof=pending done rejected"`
}

type InsertBorrowedUserRequest struct {
	Name  string  `json:"name" binding:"required"`
	Email *string `json:"email" binding:"omitempty,email"`
	Mode  Mode    `json:"mode" binding:"required,oneof=borrowing lending"`
}

type InsertInvitationRequest struct {
	BorrowedUserID OptionalID `json:"borrowed_user_id"`
}

type GetInvitationRequest struct {
	Code string `json:"code" binding:"required"`
}

type InsertUserInfoRequest struct {
	Code     string  `json:"code" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required"`
	Name     *string `json:"name"`
}

type ReportTaskWaitRequest struct {
	Wait string `form:"wait"`
}

// Response models
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
}

type InvitationResponse struct {
	Invitation UserInvitation `json:"invitation"`
	User       BorrowedUser   `json:"user"`
}

type ReportTaskResponse struct {
	TaskID        string          `json:"taskId"`
	Status        string          `json:"status"`
	MonthlyReport []MonthlyReport `json:"monthlyReport,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type RepaymentSummary struct {
	Mode             Mode            `json:"mode"`
	Principal        int64           `json:"principal"`
	Repaid           int64           `json:"repaid"`
	Remaining        int64           `json:"remaining"`
	RepaymentRatio   decimal.Decimal `json:"repaymentRatio"` // percent, one decimal place
	RemainingDisplay string          `json:"remainingDisplay"`
}
