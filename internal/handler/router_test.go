package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tokenbridge/internal/metrics"
	"github.com/hitoshi/tokenbridge/internal/middleware"
	"github.com/hitoshi/tokenbridge/internal/model"
)

type mockTokenValidator struct {
	validateFn func(ctx context.Context, credential string) (*model.User, error)
}

func (m *mockTokenValidator) Validate(ctx context.Context, credential string) (*model.User, error) {
	return m.validateFn(ctx, credential)
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(deps.RateLimiter.Stop)
	}
	if deps.SessionIssuer == nil {
		deps.SessionIssuer = &mockSessionIssuer{}
	}
	if deps.TokenValidator == nil {
		deps.TokenValidator = &mockTokenValidator{
			validateFn: func(context.Context, string) (*model.User, error) {
				return nil, model.ErrAuthenticationFailed
			},
		}
	}
	if deps.CORSAllowedOrigin == "" {
		deps.CORSAllowedOrigin = "http://localhost:3000"
	}
	return NewRouter(deps)
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		HealthChecker:  &mockHealthChecker{},
		MetricsHandler: metrics.Handler(prometheus.NewRegistry()),
		SessionIssuer: &mockSessionIssuer{
			issueSessionFn: func(context.Context, string) (*model.IssuedToken, error) {
				return &model.IssuedToken{Token: "0123456789abcdef0123456789abcdef"}, nil
			},
		},
		TokenValidator: &mockTokenValidator{
			validateFn: func(context.Context, string) (*model.User, error) {
				return &model.User{ID: "user-1", Email: "a@example.com"}, nil
			},
		},
	})

	tests := []struct {
		method     string
		path       string
		body       string
		auth       string
		wantStatus int
	}{
		{http.MethodPost, "/v1/auth/google", `{"access_token":"tok"}`, "", http.StatusOK},
		{http.MethodGet, "/v1/info", "", "0123456789abcdef0123456789abcdef", http.StatusOK},
		{http.MethodGet, "/v1/info", "", "", http.StatusUnauthorized},
		{http.MethodGet, "/health", "", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", "", http.StatusOK},
		{http.MethodGet, "/v1/unknown", "", "", http.StatusNotFound},
		{http.MethodGet, "/v1/auth/google", "", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_HealthUnavailable(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		HealthChecker: &mockHealthChecker{err: errors.New("db down")},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestNewRouter_AuthRateLimited はトークン交換がIP単位で制限されることを検証する。
func TestNewRouter_AuthRateLimited(t *testing.T) {
	cfg := middleware.NewRateLimiterConfig(120, 2)
	rl := middleware.NewRateLimiter(cfg)
	defer rl.Stop()

	svc := &mockSessionIssuer{
		issueSessionFn: func(context.Context, string) (*model.IssuedToken, error) {
			return &model.IssuedToken{Token: "0123456789abcdef0123456789abcdef"}, nil
		},
	}
	router := newTestRouter(t, &RouterDeps{RateLimiter: rl, SessionIssuer: svc})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/google", strings.NewReader(`{"access_token":"tok"}`))
		req.RemoteAddr = "203.0.113.9:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, statuses[i], want[i])
		}
	}
	if svc.calls != 2 {
		t.Errorf("IssueSession called %d times, want 2", svc.calls)
	}
}

func TestNewRouter_RecordsHTTPStatusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	router := newTestRouter(t, &RouterDeps{Metrics: collector})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/info", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "tokenbridge_http_status_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status_code" && lp.GetValue() == "401" && m.GetCounter().GetValue() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected tokenbridge_http_status_total{status_code=\"401\"} = 1")
	}
}

func TestNewRouter_SecurityAndCORSHeaders(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{CORSAllowedOrigin: "https://app.example.com"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/info", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
