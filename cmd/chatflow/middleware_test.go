package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/ctxkeys"
	"github.com/BaSui01/chatflow/internal/metrics"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := serve(SecurityHeaders()(inner), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
}

func TestRequestID_PropagatesClientValue(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-42")
	w := serve(RequestID()(inner), r)

	assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-42", seen)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := serve(Recovery(zap.NewNop())(inner), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

// =============================================================================
// 认证
// =============================================================================

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := ctxkeys.Subject(r.Context())
		w.Write([]byte(subject))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1", "k2"}, []string{"/health"}, true, zap.NewNop())(subjectEcho())

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "header key", path: "/v1/chats", header: "k2", wantStatus: http.StatusOK, wantBody: "api-key-1"},
		{name: "query key", path: "/v1/chats?api_key=k1", wantStatus: http.StatusOK, wantBody: "api-key-0"},
		{name: "wrong key", path: "/v1/chats", header: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing key", path: "/v1/chats", wantStatus: http.StatusUnauthorized},
		{name: "skip path", path: "/health", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := serve(handler, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
			} else {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestJWTAuth(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "chatflow", JWTAudience: "api"}
	handler := JWTAuth(cfg, nil, zap.NewNop())(subjectEcho())

	valid := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject: "alice", Issuer: "chatflow", Audience: jwt.ClaimStrings{"api"},
	})
	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "valid", token: valid, wantStatus: http.StatusOK},
		{name: "wrong secret", token: signToken(t, "other", jwt.RegisteredClaims{
			Subject: "alice", Issuer: "chatflow", Audience: jwt.ClaimStrings{"api"},
		}), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", token: signToken(t, "s3cret", jwt.RegisteredClaims{
			Subject: "alice", Issuer: "someone", Audience: jwt.ClaimStrings{"api"},
		}), wantStatus: http.StatusUnauthorized},
		{name: "expired", token: signToken(t, "s3cret", jwt.RegisteredClaims{
			Subject: "alice", Issuer: "chatflow", Audience: jwt.ClaimStrings{"api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}), wantStatus: http.StatusUnauthorized},
		{name: "missing", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := serve(handler, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestAuth_Combined(t *testing.T) {
	assert.Nil(t, Auth(config.AuthConfig{}, nil, zap.NewNop()))

	cfg := config.AuthConfig{APIKeys: []string{"k1"}, JWTSecret: "s3cret"}
	handler := Auth(cfg, skipAuthPaths, zap.NewNop())(subjectEcho())

	r := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	r.Header.Set("X-API-Key", "k1")
	w := serve(handler, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api-key-0", w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "bob"}))
	w = serve(handler, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())

	// 无效的 JWT 不会回退到 API Key
	r = httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	r.Header.Set("X-API-Key", "k1")
	w = serve(handler, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(handler, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// 限流
// =============================================================================

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limited := RateLimiter(ctx, 0.001, 1, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, http.StatusOK, serve(limited, r).Code)

	w := serve(limited, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	// 其他 IP 与已认证主体各自计数
	other := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, serve(limited, other).Code)

	subj := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	subj.RemoteAddr = "10.0.0.1:1234"
	subj = subj.WithContext(ctxkeys.WithSubject(subj.Context(), "alice"))
	assert.Equal(t, http.StatusOK, serve(limited, subj).Code)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := serve(handler, r)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/v1/chats", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = serve(handler, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	closed := CORS(nil)(okHandler())
	r = httptest.NewRequest(http.MethodOptions, "/v1/chats", nil)
	r.Header.Set("Origin", "https://app.example.com")
	assert.Equal(t, http.StatusForbidden, serve(closed, r).Code)
}

// =============================================================================
// 指标
// =============================================================================

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/v1/chats", "/v1/chats"},
		{"/v1/chats/stream", "/v1/chats/stream"},
		{"/v1/chats/3f2a9c1e-1b2c-4d5e-8f90-123456789abc", "/v1/chats/:id"},
		{"/v1/chats/my-chat", "/v1/chats/:id"},
		{"/v1/scenarios", "/v1/scenarios"},
		{"/other/12345/items", "/other/:id/items"},
		{"/other/static", "/other/static"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("mw", reg, zap.NewNop())
	handler := MetricsMiddleware(collector)(okHandler())

	serve(handler, httptest.NewRequest(http.MethodGet, "/v1/chats/a1", nil))
	serve(handler, httptest.NewRequest(http.MethodGet, "/v1/chats/b2", nil))

	count, err := testutil.GatherAndCount(reg, "mw_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "chat IDs share one label set")
}

func TestMiddlewareChain_WebsocketUpgrade(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("ws", reg, zap.NewNop())

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		var msg map[string]string
		if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
			return
		}
		wsjson.Write(r.Context(), conn, msg)
		conn.Close(websocket.StatusNormalClosure, "")
	})
	handler := Chain(echo,
		Recovery(zap.NewNop()),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(collector),
		RequestLogger(zap.NewNop()),
	)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/chats/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"hello": "world"}))
	var got map[string]string
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "world", got["hello"])
}
