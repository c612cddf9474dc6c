package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func readiness(t *testing.T, rec *httptest.ResponseRecorder) ReadinessResponse {
	t.Helper()
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLiveness(t *testing.T) {
	h := New("test")
	h.RegisterCheck("db", func(context.Context) error { return errors.New("down") })

	rec := serve(h, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("all up", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("db", up)
		h.RegisterOptionalCheck("kafka", up)

		rec := serve(h, "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := readiness(t, rec)
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, map[string]string{"db": "up", "kafka": "up"}, resp.Checks)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("db", up)
		h.RegisterOptionalCheck("kafka", down)

		rec := serve(h, "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := readiness(t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down: connection refused", resp.Checks["kafka"])
	})

	t.Run("required failure is not ready", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("redis", down)
		h.RegisterOptionalCheck("kafka", down)

		rec := serve(h, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "not_ready", readiness(t, rec).Status)
	})

	t.Run("slow checks are bounded", func(t *testing.T) {
		h := New("test")
		h.checkTimeout = 20 * time.Millisecond
		h.RegisterCheck("db", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		start := time.Now()
		rec := serve(h, "/health/ready")
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatusListsDependencies(t *testing.T) {
	h := New("staging")
	h.RegisterCheck("redis", func(context.Context) error { return nil })
	h.RegisterCheck("db", func(context.Context) error { return nil })

	rec := serve(h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "staging", resp.Environment)
	assert.Equal(t, []string{"db", "redis"}, resp.Dependencies)
}
