package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// 到達不能なDBを指すため、各コマンドはDB接続段階で即座に失敗する。
func TestRun_DBCommands_FailWithoutDatabase(t *testing.T) {
	for _, args := range [][]string{{"serve"}, {"worker"}, {}} {
		t.Run(ParseCommand(args).String(), func(t *testing.T) {
			setTestEnv(t)

			var buf bytes.Buffer
			if err := Run(&buf, args); err == nil {
				t.Fatalf("Run(%v) should fail when the database is unreachable", args)
			}
		})
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	clearRequiredEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

// TestRun_Healthcheck はhealthcheckサブコマンドが設定読み込みなしで/healthを叩くことを検証する。
func TestRun_Healthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, _ := url.Parse(srv.URL)
			clearRequiredEnv(t)
			t.Setenv("SERVER_PORT", u.Port())

			err := Run(&bytes.Buffer{}, []string{"healthcheck"})
			if (err != nil) != tt.wantErr {
				t.Errorf("Run(healthcheck) error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotPath != "/health" {
				t.Errorf("path = %q, want /health", gotPath)
			}
		})
	}
}

func setTestEnv(t *testing.T) {
	t.Helper()
	// ポート1には通常何も待ち受けていないため、接続は即座に拒否される
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "1")
	t.Setenv("DB_USER", "tokenbridge")
	t.Setenv("DB_PASSWORD", "tokenbridge")
	t.Setenv("DB_NAME", "tokenbridge")
	t.Setenv("LOG_LEVEL", "info")
}

func clearRequiredEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		t.Setenv(key, "")
	}
}
