package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/service"
	"github.com/rongwang/debtbook-server/internal/utils"
)

// defaultTaskWait is used when a long-poll request names no wait
const defaultTaskWait = 10 * time.Second

// Handler handles API requests
type Handler struct {
	service service.Service
	logger  *utils.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, logger *utils.Logger) *Handler {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Handler{
		service: svc,
		logger:  logger.WithComponent("api"),
	}
}

// SetupRoutes configures the API routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/api/v1")

	// Routes that need no access token
	v1.POST("/auth/login", h.Login)
	v1.POST("/get/invitation", h.GetInvitation)
	v1.POST("/post/insertUserInfo", h.InsertUserInfo)

	authorized := v1.Group("")
	authorized.Use(AuthMiddleware(h.service))
	{
		authorized.POST("/auth/accessToken", h.AccessToken)

		authorized.GET("/get/monthlyReport", h.GetMonthlyReport)
		authorized.POST("/get/monthlyReport", h.GetMonthlyReport)
		authorized.POST("/post/monthlyReportTask", h.StartMonthlyReportTask)
		authorized.GET("/get/monthlyReportTask/:taskId", h.GetMonthlyReportTask)

		authorized.GET("/get/incomeExpenseHistory", h.GetIncomeExpenseHistory)
		authorized.POST("/get/incomeExpenseHistory", h.GetIncomeExpenseHistory)
		authorized.GET("/get/counterpartyHistory", h.GetCounterpartyHistory)
		authorized.POST("/get/counterpartyHistory", h.GetCounterpartyHistory)
		authorized.POST("/post/insertIncomeExpenseHistory", h.InsertIncomeExpenseHistory)
		authorized.POST("/post/deleteIncomeExpenseHistory", h.DeleteIncomeExpenseHistory)
		authorized.POST("/post/updateIncomeExpenseHistoryStatus", h.UpdateIncomeExpenseHistoryStatus)

		authorized.GET("/get/borrowedUsers", h.GetBorrowedUsers)
		authorized.POST("/get/borrowedUsers", h.GetBorrowedUsers)
		authorized.POST("/post/insertBorrowedUser", h.InsertBorrowedUser)
		authorized.POST("/post/insertInvitation", h.InsertInvitation)

		authorized.GET("/get/repaymentSummary", h.GetRepaymentSummary)
		authorized.POST("/get/repaymentSummary", h.GetRepaymentSummary)
	}
}

func (h *Handler) Health(c *gin.Context) {
	h.ok(c, "ok")
}

// Authentication handlers
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, resp)
}

func (h *Handler) AccessToken(c *gin.Context) {
	h.ok(c, models.ResultSuccess)
}

func (h *Handler) InsertUserInfo(c *gin.Context) {
	var req models.InsertUserInfoRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	if _, err := h.service.RegisterUser(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, models.ResultSuccess)
}

// Report handlers
func (h *Handler) GetMonthlyReport(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}

	rows, err := h.service.GetMonthlyReport(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, rows)
}

func (h *Handler) StartMonthlyReportTask(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}

	resp, err := h.service.StartMonthlyReport(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusAccepted, resp)
}

func (h *Handler) GetMonthlyReportTask(c *gin.Context) {
	var query models.ReportTaskWaitRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		h.badRequest(c, err)
		return
	}

	wait, err := parseWait(query.Wait)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.service.WaitMonthlyReport(c.Request.Context(), currentUserID(c), c.Param("taskId"), wait)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// client went away, nobody reads the answer
			return
		}
		h.fail(c, err)
		return
	}

	h.ok(c, resp)
}

// parseWait accepts a Go duration ("10s") or a number of seconds
func parseWait(value string) (time.Duration, error) {
	if value == "" {
		return defaultTaskWait, nil
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errors.New("wait must be a duration such as 10s")
	}
	return d, nil
}

func (h *Handler) GetRepaymentSummary(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}

	summary, err := h.service.GetRepaymentSummary(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, summary)
}

// History handlers
func (h *Handler) GetIncomeExpenseHistory(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}

	entries, err := h.service.GetIncomeExpenseHistory(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, entries)
}

func (h *Handler) GetCounterpartyHistory(c *gin.Context) {
	var req models.CounterpartyHistoryRequest
	if err := bindFilter(c, &req); err != nil {
		h.badRequest(c, err)
		return
	}

	entries, err := h.service.GetCounterpartyHistory(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, entries)
}

func (h *Handler) InsertIncomeExpenseHistory(c *gin.Context) {
	var req models.InsertIncomeExpenseHistoryRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	if _, err := h.service.InsertIncomeExpenseHistory(c.Request.Context(), currentUserID(c), req); err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, models.ResultSuccess)
}

func (h *Handler) DeleteIncomeExpenseHistory(c *gin.Context) {
	var req models.DeleteIncomeExpenseHistoryRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.service.DeleteIncomeExpenseHistory(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, result)
}

func (h *Handler) UpdateIncomeExpenseHistoryStatus(c *gin.Context) {
	var req models.UpdateHistoryStatusRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.service.UpdateIncomeExpenseHistoryStatus(c.Request.Context(), currentUserID(c), req); err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, models.ResultSuccess)
}

// Borrowed user handlers
func (h *Handler) GetBorrowedUsers(c *gin.Context) {
	users, err := h.service.GetBorrowedUsers(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, users)
}

func (h *Handler) InsertBorrowedUser(c *gin.Context) {
	var req models.InsertBorrowedUserRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.service.InsertBorrowedUser(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, user)
}

func (h *Handler) InsertInvitation(c *gin.Context) {
	var req models.InsertInvitationRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	invitation, err := h.service.InsertInvitation(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, invitation)
}

func (h *Handler) GetInvitation(c *gin.Context) {
	var req models.GetInvitationRequest
	if err := bindBody(c, &req, false); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.service.GetInvitation(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.ok(c, resp)
}

func (h *Handler) reportRequest(c *gin.Context) (models.ReportRequest, bool) {
	var req models.ReportRequest
	if err := bindFilter(c, &req); err != nil {
		h.badRequest(c, err)
		return req, false
	}
	return req, true
}

// bindFilter reads optional filters from the query on GET and from the
// JSON body otherwise.
func bindFilter(c *gin.Context, obj any) error {
	if c.Request.Method == http.MethodGet {
		return c.ShouldBindQuery(obj)
	}
	return bindBody(c, obj, true)
}

// bindBody binds the JSON body. It goes through the cached body because
// AuthMiddleware may already have read it. An empty body is accepted
// when optional is set.
func bindBody(c *gin.Context, obj any, optional bool) error {
	err := c.ShouldBindBodyWith(obj, binding.JSON)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) ok(c *gin.Context, result any) {
	h.respond(c, http.StatusOK, result)
}

func (h *Handler) respond(c *gin.Context, status int, result any) {
	c.JSON(status, models.Envelope{Status: status, Result: result})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.Envelope{
		Status: http.StatusBadRequest,
		Error:  "Invalid request: " + err.Error(),
	})
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}
	c.JSON(status, models.Envelope{Status: status, Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvitationExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
