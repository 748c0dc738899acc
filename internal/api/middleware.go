package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/service"
	"github.com/rongwang/debtbook-server/internal/utils"
)

const userIDKey = "userId"

// tokenCarrier is the part of a JSON body that may hold the access token
type tokenCarrier struct {
	UserInfo models.UserInfo `json:"userInfo"`
}

// AuthMiddleware returns a Gin middleware for authentication. The token is
// taken from the Authorization header, the accessToken query parameter or
// userInfo.accessToken in a JSON body, in that order.
func AuthMiddleware(svc service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := accessTokenFrom(c)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := svc.AuthenticateAccessToken(c.Request.Context(), tokenString)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				abortWithError(c, http.StatusUnauthorized, "Invalid token")
				return
			}
			abortWithError(c, http.StatusInternalServerError, "Internal server error")
			return
		}

		// Set user ID in the context
		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

func accessTokenFrom(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		// Check if the Authorization header starts with "Bearer "
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", errors.New("invalid token format")
		}
		return parts[1], nil
	}

	if token := c.Query("accessToken"); token != "" {
		return token, nil
	}

	if c.Request.Method != http.MethodGet && c.ContentType() == binding.MIMEJSON {
		var carrier tokenCarrier
		// The body is cached so handlers can bind it again
		if err := c.ShouldBindBodyWith(&carrier, binding.JSON); err == nil && carrier.UserInfo.AccessToken != "" {
			return carrier.UserInfo.AccessToken, nil
		}
	}

	return "", errors.New("authentication required")
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, models.Envelope{Status: status, Error: message})
}

// currentUserID returns the id stored by AuthMiddleware
func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// RequestLogger logs every request once it has been served, at a level
// chosen by the status class.
func RequestLogger(logger *utils.Logger) gin.HandlerFunc {
	logger = logger.WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.Log(c.Request.Context(), level, "HTTP request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// SecurityHeaders sets the headers every JSON response should carry
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// CORS allows the web client's origin. An empty origin allows any.
func CORS(frontendURL string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if frontendURL == "" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{strings.TrimRight(frontendURL, "/")}
	}
	return cors.New(cfg)
}
