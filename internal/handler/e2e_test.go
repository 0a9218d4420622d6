package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/tokenbridge/internal/auth"
	"github.com/hitoshi/tokenbridge/internal/middleware"
	"github.com/hitoshi/tokenbridge/internal/repository"
)

// --- 統合テスト用の環境 ---

// testClock はテストから進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// e2eEnv は実際の認証サービスとインメモリリポジトリで構成したルーター。
// IdPはhttptestのスタブで置き換える。
type e2eEnv struct {
	router http.Handler
	repo   *repository.MemoryAuthRepo
	clock  *testClock
	idp    *httptest.Server
}

// newE2EEnv はアクセストークンとemailの対応表を持つIdPスタブを起動し、ルーターを構築する。
func newE2EEnv(t *testing.T, accounts map[string]string) *e2eEnv {
	t.Helper()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := accounts[r.URL.Query().Get("access_token")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_token","error_description":"Invalid Credentials"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":            "sub-" + email,
			"email":          email,
			"email_verified": true,
		})
	}))
	t.Cleanup(idp.Close)

	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryAuthRepo()

	provider := auth.NewGoogleIdentityProvider(auth.GoogleIdentityConfig{
		UserInfoURL: idp.URL,
		Timeout:     2 * time.Second,
		HTTPClient:  idp.Client(),
	})
	svc := auth.NewService(provider, repo, auth.ServiceConfig{TokenTTL: auth.DefaultTokenTTL}, auth.WithClock(clock.Now))

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		SessionIssuer:     svc,
		TokenValidator:    svc,
		Now:               clock.Now,
	})

	return &e2eEnv{router: router, repo: repo, clock: clock, idp: idp}
}

func (e *e2eEnv) exchange(t *testing.T, accessToken string) (int, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"access_token": accessToken})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/google", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp struct {
		Token string `json:"token"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	return w.Code, resp.Token
}

type infoBody struct {
	Time   int64  `json:"time"`
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

func (e *e2eEnv) info(t *testing.T, authorization string) (int, infoBody) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body infoBody
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode info: %v", err)
		}
	}
	return w.Code, body
}

// --- シナリオ ---

// TestE2E_NewUserExchangeAndInfo は新規ユーザーのトークン交換から/v1/infoまでの一連の流れを検証する。
func TestE2E_NewUserExchangeAndInfo(t *testing.T) {
	env := newE2EEnv(t, map[string]string{"google-token-alice": "alice@example.com"})

	status, token := env.exchange(t, "google-token-alice")
	if status != http.StatusOK {
		t.Fatalf("exchange status = %d, want %d", status, http.StatusOK)
	}
	if len(token) != 32 {
		t.Fatalf("token = %q, want 32 hex chars", token)
	}
	if env.repo.UserCount() != 1 || env.repo.TokenCount() != 1 {
		t.Errorf("users=%d tokens=%d, want 1/1", env.repo.UserCount(), env.repo.TokenCount())
	}

	status, info := env.info(t, token)
	if status != http.StatusOK {
		t.Fatalf("info status = %d, want %d", status, http.StatusOK)
	}
	if info.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", info.Email)
	}
	if info.UserID == "" {
		t.Error("userId should not be empty")
	}
	if info.Time != env.clock.Now().Unix() {
		t.Errorf("time = %d, want %d", info.Time, env.clock.Now().Unix())
	}
}

// TestE2E_ReturningUserGetsNewToken は既存ユーザーの再交換で新しいトークンが発行され、ユーザーは増えないことを検証する。
func TestE2E_ReturningUserGetsNewToken(t *testing.T) {
	env := newE2EEnv(t, map[string]string{
		"google-token-1": "bob@example.com",
		"google-token-2": "bob@example.com",
	})

	_, first := env.exchange(t, "google-token-1")
	_, second := env.exchange(t, "google-token-2")

	if first == "" || second == "" {
		t.Fatal("both exchanges should succeed")
	}
	if first == second {
		t.Error("tokens should differ between exchanges")
	}
	if env.repo.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", env.repo.UserCount())
	}
	if env.repo.TokenCount() != 2 {
		t.Errorf("TokenCount = %d, want 2", env.repo.TokenCount())
	}

	_, info1 := env.info(t, first)
	_, info2 := env.info(t, second)
	if info1.UserID != info2.UserID {
		t.Errorf("userId differs: %s vs %s", info1.UserID, info2.UserID)
	}
}

// TestE2E_EmailReturnedVerbatim はIdPが返したemailが変換されずに/v1/infoまで届くことを検証する。
func TestE2E_EmailReturnedVerbatim(t *testing.T) {
	env := newE2EEnv(t, map[string]string{
		"google-token-upper": "Alice@Example.com",
		"google-token-lower": "alice@example.com",
	})

	_, upper := env.exchange(t, "google-token-upper")
	_, lower := env.exchange(t, "google-token-lower")
	if upper == "" || lower == "" {
		t.Fatal("both exchanges should succeed")
	}

	status, info := env.info(t, upper)
	if status != http.StatusOK {
		t.Fatalf("info status = %d, want %d", status, http.StatusOK)
	}
	if info.Email != "Alice@Example.com" {
		t.Errorf("email = %q, want %q", info.Email, "Alice@Example.com")
	}

	_, lowerInfo := env.info(t, lower)
	if lowerInfo.UserID == info.UserID {
		t.Error("emails differing in case should resolve to distinct users")
	}
	if env.repo.UserCount() != 2 {
		t.Errorf("UserCount = %d, want 2", env.repo.UserCount())
	}
}

// TestE2E_InvalidGoogleToken はIdPが拒否したトークンで401となり、何も保存されないことを検証する。
func TestE2E_InvalidGoogleToken(t *testing.T) {
	env := newE2EEnv(t, map[string]string{})

	status, token := env.exchange(t, "revoked-google-token")
	if status != http.StatusUnauthorized {
		t.Errorf("exchange status = %d, want %d", status, http.StatusUnauthorized)
	}
	if token != "" {
		t.Errorf("token should be empty, got %q", token)
	}
	if env.repo.UserCount() != 0 || env.repo.TokenCount() != 0 {
		t.Errorf("users=%d tokens=%d, want 0/0", env.repo.UserCount(), env.repo.TokenCount())
	}
}

func TestE2E_MissingAccessToken(t *testing.T) {
	env := newE2EEnv(t, map[string]string{})

	status, _ := env.exchange(t, "")
	if status != http.StatusBadRequest {
		t.Errorf("exchange status = %d, want %d", status, http.StatusBadRequest)
	}
}

// TestE2E_InvalidCredentials は形式不正、未知、期限切れのトークンがいずれも401になることを検証する。
func TestE2E_InvalidCredentials(t *testing.T) {
	env := newE2EEnv(t, map[string]string{"google-token-carol": "carol@example.com"})

	_, token := env.exchange(t, "google-token-carol")
	if token == "" {
		t.Fatal("exchange should succeed")
	}

	for _, credential := range []string{"", "garbage", "ffffffffffffffffffffffffffffffff"} {
		if status, _ := env.info(t, credential); status != http.StatusUnauthorized {
			t.Errorf("info(%q) status = %d, want %d", credential, status, http.StatusUnauthorized)
		}
	}

	// 有効期限ちょうどまでは有効
	env.clock.Advance(auth.DefaultTokenTTL)
	if status, _ := env.info(t, "Bearer "+token); status != http.StatusOK {
		t.Errorf("info at expiry status = %d, want %d", status, http.StatusOK)
	}

	// 期限を過ぎると拒否される
	env.clock.Advance(time.Second)
	if status, _ := env.info(t, token); status != http.StatusUnauthorized {
		t.Errorf("info after expiry status = %d, want %d", status, http.StatusUnauthorized)
	}
}
