package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/debtbook-server/internal/api"
	"github.com/rongwang/debtbook-server/internal/auth"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/repository"
	"github.com/rongwang/debtbook-server/internal/service"
	"github.com/stretchr/testify/require"
)

const (
	TestSalt     = "test-salt"
	TestLoginID  = "testuser@example.com"
	TestPassword = "testpassword"
)

// TestNow is the fixed clock of every test context
var TestNow = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router      *gin.Engine
	Repository  *repository.MemoryRepository
	Service     service.Service
	TestUserID  int64
	TestUserJWT string
}

// SetupTestContext creates a new test context backed by the in-memory
// repository, with one user already logged in.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	repo := repository.NewMemoryRepository()

	svc, err := service.NewDefaultService(repo, service.Options{
		Salt:    TestSalt,
		MaxWait: 2 * time.Second,
		Now:     func() time.Time { return TestNow },
	})
	require.NoError(t, err, "Failed to create service")

	handler := api.NewHandler(svc, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery(), api.SecurityHeaders())
	handler.SetupRoutes(router)

	testCtx := &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
	}
	testCtx.TestUserID = CreateUser(t, repo, TestLoginID, TestPassword)
	testCtx.TestUserJWT = Login(t, svc, TestLoginID, TestPassword)

	return testCtx
}

// CleanupTestContext releases background resources
func CleanupTestContext(t *TestContext) {
	t.Service.Close()
}

// CreateUser stores an account with a salted SHA-256 password hash
func CreateUser(t *testing.T, repo repository.Repository, loginID, password string) int64 {
	t.Helper()

	user := &models.User{
		UserID:   loginID,
		Password: auth.SHA256Hex(password + TestSalt),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user), "Failed to create test user")
	return user.ID
}

// Login returns a fresh access token for the account
func Login(t *testing.T, svc service.Service, loginID, password string) string {
	t.Helper()

	resp, err := svc.Login(context.Background(), models.LoginRequest{UserID: loginID, Password: password})
	require.NoError(t, err, "Failed to log in test user")
	return resp.AccessToken
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeEnvelope unmarshals the response envelope, decoding result into out
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, out interface{}) models.Envelope {
	t.Helper()

	var raw struct {
		Status int             `json:"status"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), "response is not an envelope: %s", w.Body.String())

	if out != nil && len(raw.Result) > 0 {
		require.NoError(t, json.Unmarshal(raw.Result, out))
	}
	return models.Envelope{Status: raw.Status, Error: raw.Error}
}
