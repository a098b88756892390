package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/config"
	redisinfra "github.com/agencyhub/api/internal/infra/redis"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/jwt"
	"github.com/agencyhub/api/pkg/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func newGenerator() *jwt.Generator {
	return jwt.NewGenerator(jwt.TokenConfig{Secret: "test-secret", Issuer: "agencyhub", AccessTokenDuration: time.Minute})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
}

func TestAuthenticate(t *testing.T) {
	gen := newGenerator()
	userID, agencyID := shared.NewID(), shared.NewID()
	token, _, err := gen.GenerateAccessToken(userID.String(), agencyID.String(), false)
	require.NoError(t, err)

	var got tenancy.Principal
	h := Authenticate(gen, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenancy.PrincipalFrom(r.Context())
		assert.Equal(t, agencyID.String(), r.Context().Value(logger.ContextKeyAgencyID))
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/buildings", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, got.UserID.Equals(userID))
		assert.True(t, got.AgencyID.Equals(agencyID))
		assert.False(t, got.IsUnrestricted())
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/buildings", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/buildings", nil)
		req.Header.Set("Authorization", "Basic "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("query token only on upgrade", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+token, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+token, nil)
		req.Header.Set("Upgrade", "websocket")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

type expiredValidator struct{}

func (expiredValidator) ValidateAccessToken(string) (*jwt.Claims, error) {
	return nil, jwt.ErrExpiredToken
}

func TestAuthenticate_Expired(t *testing.T) {
	h := Authenticate(expiredValidator{}, logger.NewNop())(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Token expired")
}

func TestRequireUnrestricted(t *testing.T) {
	h := RequireUnrestricted()(okHandler)

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"anonymous", context.Background(), http.StatusForbidden},
		{"agency member", tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), AgencyID: shared.NewID()}), http.StatusForbidden},
		{"platform admin", tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), Unrestricted: true}), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireAgency(t *testing.T) {
	h := RequireAgency()(okHandler)

	noAgency := tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(noAgency))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	member := tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), AgencyID: shared.NewID()})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(member))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientLimiter(t *testing.T) {
	cl := NewClientLimiter(config.RateLimitConfig{RPS: 0.001, Burst: 2}, logger.NewNop())
	defer cl.Stop()
	h := cl.Middleware()(okHandler)

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1001").Code)
	rec := call("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another address has its own bucket.
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1000").Code)
}

type fakeQuota struct {
	res  *redisinfra.RateLimitResult
	err  error
	keys []string
}

func (f *fakeQuota) Allow(_ context.Context, key string) (*redisinfra.RateLimitResult, error) {
	f.keys = append(f.keys, key)
	return f.res, f.err
}

func (f *fakeQuota) Limit() int { return 60 }

func TestSubmissionQuota(t *testing.T) {
	agencyID := shared.NewID()
	ctx := tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), AgencyID: agencyID})

	t.Run("allowed", func(t *testing.T) {
		q := &fakeQuota{res: &redisinfra.RateLimitResult{Allowed: true, Remaining: 59, ResetAt: time.Now().Add(time.Hour)}}
		rec := httptest.NewRecorder()
		SubmissionQuota(q, logger.NewNop())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"agency:" + agencyID.String()}, q.keys)
		assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("exhausted", func(t *testing.T) {
		q := &fakeQuota{res: &redisinfra.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(90 * time.Second)}}
		rec := httptest.NewRecorder()
		SubmissionQuota(q, logger.NewNop())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
		assert.NotEqual(t, "0", rec.Header().Get("Retry-After"))
	})

	t.Run("store down lets the request through", func(t *testing.T) {
		q := &fakeQuota{err: errors.New("connection refused")}
		rec := httptest.NewRecorder()
		SubmissionQuota(q, logger.NewNop())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func echoBody(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	_, _ = w.Write(b)
}

func TestDecompress(t *testing.T) {
	h := Decompress(DefaultDecompressConfig())(http.HandlerFunc(echoBody))
	payload := []byte(`{"kind":"market_trends","input":{"city":"Lisbon"}}`)

	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write(payload)
		require.NoError(t, zw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, string(payload), rec.Body.String())
	})

	t.Run("zstd", func(t *testing.T) {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		body := enc.EncodeAll(payload, nil)
		_ = enc.Close()

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.Header.Set("Content-Encoding", "zstd")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, string(payload), rec.Body.String())
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		req.Header.Set("Content-Encoding", "br")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("ratio bomb", func(t *testing.T) {
		var buf bytes.Buffer
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		_, _ = zw.Write(bytes.Repeat([]byte{'a'}, 4<<20))
		require.NoError(t, zw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("corrupt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(8)(http.HandlerFunc(echoBody))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	assert.Equal(t, "short", rec.Body.String())
}

func TestTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(50 * time.Millisecond)
	})
	rec := httptest.NewRecorder()
	Timeout(20*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = httptest.NewRecorder()
	Timeout(time.Second)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecovery(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	Recovery(logger.NewNop(), true)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")

	rec = httptest.NewRecorder()
	SecurityHeaders(false)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	h := CORS(config.CORSConfig{AllowedOrigins: []string{"https://app.agencyhub.io"}, MaxAge: 300})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "https://app.agencyhub.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.agencyhub.io", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
