package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clarify/internal/ratelimit"
	"clarify/utils"

	"github.com/gin-gonic/gin"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("middleware-test-secret")
	r := gin.New()
	r.GET("/me", AuthMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	valid, err := utils.GenerateJWTToken("ada", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	expired, err := utils.GenerateJWTToken("ada", -time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer " + valid, status: http.StatusOK, body: "ada"},
		{name: "query token", query: "?token=" + valid, status: http.StatusOK, body: "ada"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Token " + valid, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestAuthMiddlewareChargesTheUser(t *testing.T) {
	r := newAuthRouter()
	r.GET("/caller", AuthMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, ratelimit.CallerFrom(c.Request.Context()))
	})
	token, err := utils.GenerateJWTToken("grace", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/caller", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "grace" {
		t.Errorf("caller = %q, want grace", w.Body.String())
	}
}
