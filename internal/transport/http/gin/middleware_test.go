package httpgin

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatline/internal/auth"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/service/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ctxRequestID)) })

	w := serve(r, http.MethodGet, "/", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-1", w.Body.String())

	w = serve(r, http.MethodGet, "/", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuthAndRequireRole(t *testing.T) {
	tokens := auth.NewService("secret", "", time.Hour)

	r := gin.New()
	r.Use(AuthMiddleware(tokens))
	r.GET("/any", RequireRole(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/admin", RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		a, _ := actorFrom(c)
		c.String(http.StatusOK, fmt.Sprint(a.ID))
	})

	customer, err := tokens.Issue(domain.Actor{ID: 5, Roles: []string{domain.RoleCustomer}})
	require.NoError(t, err)
	admin, err := tokens.Issue(domain.Actor{ID: 1, Roles: []string{domain.RoleAdmin}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "anonymous", path: "/any", want: http.StatusUnauthorized},
		{name: "not bearer", path: "/any", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", path: "/any", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "any role", path: "/any", header: "Bearer " + customer, want: http.StatusOK},
		{name: "wrong role", path: "/admin", header: "Bearer " + customer, want: http.StatusForbidden},
		{name: "admin", path: "/admin", header: "Bearer " + admin, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.header != "" {
				h["Authorization"] = tt.header
			}
			w := serve(r, http.MethodGet, tt.path, h)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { respondErr(c, errors.New("db down")) })

	serve(r, http.MethodGet, "/ok?x=1", nil)
	serve(r, http.MethodGet, "/boom", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok?x=1", entries[0].ContextMap()["path"])

	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Contains(t, entries[1].ContextMap()["errors"], "db down")
}

func TestRespondErr(t *testing.T) {
	leg := domain.Leg{Direction: domain.Outbound, VehicleID: 1, SeatID: 2, Date: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{name: "validation", err: domain.ValidationError{Field: "seat_id"}, status: http.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("op:%w", domain.NotFoundError{Resource: "seat", ID: 2}), status: http.StatusNotFound},
		{name: "conflict", err: domain.ConflictError{Legs: []domain.Leg{leg}}, status: http.StatusConflict},
		{name: "contended", err: domain.ConflictError{Retryable: true}, status: http.StatusConflict, retryAfter: "1"},
		{name: "transition", err: domain.InvalidTransitionError{From: domain.StatusCancelled, To: domain.StatusConfirmed}, status: http.StatusConflict},
		{name: "forbidden", err: fmt.Errorf("op:%w", domain.ErrForbidden), status: http.StatusForbidden},
		{name: "rate limited", err: reservation.RateLimitedError{RetryAfter: 1500 * time.Millisecond}, status: http.StatusTooManyRequests, retryAfter: "2"},
		{name: "code exhausted", err: domain.ErrCodeGenerationExhausted, status: http.StatusServiceUnavailable, retryAfter: "1"},
		{name: "internal", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondErr(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "boom")
			}
		})
	}
}

func TestETagMatches(t *testing.T) {
	tag := etagOf([]byte(`{"a":1}`), true)

	assert.True(t, etagMatches(tag, tag))
	assert.True(t, etagMatches(`"x", `+tag, tag))
	assert.True(t, etagMatches(strings.TrimPrefix(tag, "W/"), tag))
	assert.True(t, etagMatches("*", tag))
	assert.False(t, etagMatches("", tag))
	assert.False(t, etagMatches(etagOf([]byte(`{"a":2}`), true), tag))
}
