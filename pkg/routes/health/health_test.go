package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() PingFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) PingFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(c *Checker, path string) *httptest.ResponseRecorder {
	e := echo.New()
	c.Register(e.Group("/api/v1"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		checker *Checker
		code    int
		status  string
	}{
		{
			name:    "all healthy",
			checker: NewChecker("1.0.0", time.Second).Require("database", ok()).Optional("redis", ok()),
			code:    http.StatusOK,
			status:  statusHealthy,
		},
		{
			name:    "optional dependency down",
			checker: NewChecker("1.0.0", time.Second).Require("database", ok()).Optional("redis", failing("connection refused")),
			code:    http.StatusOK,
			status:  statusDegraded,
		},
		{
			name:    "required dependency down",
			checker: NewChecker("1.0.0", time.Second).Require("database", failing("connection refused")).Optional("redis", ok()),
			code:    http.StatusServiceUnavailable,
			status:  statusUnhealthy,
		},
		{
			name:    "required dependency missing",
			checker: NewChecker("1.0.0", time.Second).Require("database", nil),
			code:    http.StatusServiceUnavailable,
			status:  statusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.checker, "/api/v1/health")
			require.Equal(t, tt.code, rec.Code)

			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, "1.0.0", body.Version)
		})
	}
}

func TestHealth_CheckTimesOut(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewChecker("dev", 10*time.Millisecond).Require("database", slow)

	rec := serve(c, "/api/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["database"].Message)
}

func TestReady(t *testing.T) {
	c := NewChecker("dev", 0)

	assert.Equal(t, http.StatusServiceUnavailable, serve(c, "/api/v1/health/ready").Code)
	c.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/live").Code)
}
