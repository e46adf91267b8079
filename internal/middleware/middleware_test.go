package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(bucketTTL + time.Minute)
	rl.Allow("b")
	assert.NotContains(t, rl.buckets, "a")
	assert.Contains(t, rl.buckets, "b")
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(1, 0)(ok)

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, i)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	var seen string
	h := APIKeyAuth(map[string]string{"field-team": "s3cret"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClientFromContext(r.Context())
	}))

	cases := map[string]int{"": http.StatusUnauthorized, "Bearer nope": http.StatusUnauthorized, "Bearer s3cret": http.StatusOK, "s3cret": http.StatusOK}
	for header, want := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, header)
	}
	assert.Equal(t, "field-team", seen)
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	h := HealthHandler(map[string]HealthChecker{
		"db":    CheckerFunc(func(context.Context) error { return nil }),
		"minio": CheckerFunc(func(context.Context) error { return errors.New("unreachable") }),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["db"].Status)
	assert.Equal(t, "unreachable", body.Checks["minio"].Message)
}

func TestRecordUnit(t *testing.T) {
	before := GetMetrics()
	RecordUnit(failures.UnitIngestion, nil)
	RecordUnit(failures.UnitIngestion, errors.New("x"))
	after := GetMetrics()
	assert.Equal(t, before["ingestions_total"].(uint64)+2, after["ingestions_total"])
	assert.Equal(t, before["ingestions_failed"].(uint64)+1, after["ingestions_failed"])
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	h := LoggingMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, float64(404), entry["status"])
	assert.Equal(t, "/v1/models/x", entry["path"])
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateModelFile("estacao.IFC"))
	assert.Error(t, ValidateModelFile("estacao.dwg"))
	assert.NoError(t, ValidateImageFile("fotos/frente.jpeg"))
	assert.ErrorContains(t, ValidateImageFile("frente.gif"), ".jpeg, .jpg, .png, .webp")
	assert.Error(t, ValidateImageFile("../../etc/x.png"))

	for _, uri := range []string{"https://cdn.example.com/a.ifc", "s3://bucket/a.ifc", "file:///srv/uploads/a.ifc", "models/a.ifc"} {
		assert.NoError(t, ValidateSourceURI(uri), uri)
	}
	for _, uri := range []string{"", "ftp://host/a", "https:///nohost", "file:///srv/../etc/passwd"} {
		assert.Error(t, ValidateSourceURI(uri), uri)
	}

	assert.NoError(t, ValidateProjectID("linha-5_lilas"))
	assert.Error(t, ValidateProjectID("linha 5"))
	assert.NoError(t, ValidateID("0b9e4c1e-6f0a-4a8e-9d55-1f2b3c4d5e6f"))
	assert.Error(t, ValidateID("r1"))

	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = ParseLimit("-1")
	assert.Error(t, err)

	assert.Equal(t, "a b", SanitizeString(" a\x00 b\x07 "))
}
