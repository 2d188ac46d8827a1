package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/gin-gonic/gin"
)

const accountKey = "account"

var errUnauthenticated = errors.New("not authenticated")

// bearerToken extracts the access token from the Authorization header, or from
// the token query parameter when allowQuery is set.
func bearerToken(c *gin.Context, allowQuery bool) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// authenticate resolves the request's token to a live account.
func (s *Server) authenticate(c *gin.Context, allowQuery bool) (chat.Account, error) {
	token := bearerToken(c, allowQuery)
	if token == "" {
		return chat.Account{}, errUnauthenticated
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return chat.Account{}, err
	}
	account, err := s.accounts.Get(userID)
	if err != nil {
		// Tokens of deleted accounts stop working immediately.
		return chat.Account{}, errUnauthenticated
	}
	return account, nil
}

// requireAuth rejects requests without a valid bearer token and stores the
// caller's account in the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := s.authenticate(c, false)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(accountKey, account)
		c.Next()
	}
}

// requireAdmin must run after requireAuth.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentAccount(c).IsAdmin() {
			respondError(c, chat.ErrForbidden)
			return
		}
		c.Next()
	}
}

func currentAccount(c *gin.Context) chat.Account {
	account, _ := c.MustGet(accountKey).(chat.Account)
	return account
}

// cors answers preflight requests and sets CORS headers for allowed origins.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.origins.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}
