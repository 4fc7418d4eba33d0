package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func healthy(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler().LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		postgres    Checker
		redis       Checker
		kafka       Checker
		wantCode    int
		wantOverall Status
	}{
		{"all healthy", healthy, healthy, healthy, http.StatusOK, StatusUp},
		{"critical down", failing, healthy, healthy, http.StatusServiceUnavailable, StatusDown},
		{"non-critical down", healthy, failing, failing, http.StatusOK, StatusDegraded},
		{"both kinds down", failing, failing, healthy, http.StatusServiceUnavailable, StatusDown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler()
			h.RegisterCritical("postgres", tc.postgres)
			h.RegisterNonCritical("redis", tc.redis)
			h.RegisterNonCritical("kafka", tc.kafka)

			code, resp := ready(t, h)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantOverall, resp.Status)
			assert.Len(t, resp.Checks, 3)
			assert.True(t, resp.Checks["postgres"].Critical)
			assert.False(t, resp.Checks["redis"].Critical)
		})
	}
}

func TestReadiness_ReportsError(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", failing)

	_, resp := ready(t, h)
	assert.Equal(t, StatusDown, resp.Checks["postgres"].Status)
	assert.Equal(t, "connection refused", resp.Checks["postgres"].Error)
}

func TestReadiness_ChecksShareDeadline(t *testing.T) {
	h := NewHandler()
	h.timeout = 20 * time.Millisecond
	h.RegisterCritical("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	code, _ := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Less(t, time.Since(start), time.Second)
}
