package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/tokenbridge/internal/metrics"
	"github.com/hitoshi/tokenbridge/internal/model"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultIdentityTimeout   = 5 * time.Second
	defaultMaxResponseSize   = 1 << 20
)

// IdP検証失敗の原因。メトリクスのラベルとして使う。
const (
	failureRequest      = "request"
	failureTimeout      = "timeout"
	failureStatus       = "status"
	failureRead         = "read"
	failureParse        = "parse"
	failureMissingEmail = "missing_email"
)

// GoogleIdentityConfig はGoogle IdPブリッジの設定。
type GoogleIdentityConfig struct {
	// UserInfoURL はユーザー情報エンドポイント。テスト用にオーバーライド可能。
	UserInfoURL string
	// Timeout はIdP呼び出し全体の上限時間。
	Timeout time.Duration
	// MaxResponseSize はレスポンスボディの最大バイト数。
	MaxResponseSize int64
	// HTTPClient は送信に使うクライアント。本番ではSSRFガード付きクライアントを渡す。
	HTTPClient *http.Client
	// Metrics は呼び出し結果の記録先。nilの場合は記録しない。
	Metrics metrics.MetricsCollector
}

// GoogleIdentityProvider はGoogleのアクセストークンを検証済みのユーザー属性に交換する。
// ローカルの状態は一切変更しない。
type GoogleIdentityProvider struct {
	config GoogleIdentityConfig
}

// NewGoogleIdentityProvider はGoogleIdentityProviderを生成する。
func NewGoogleIdentityProvider(config GoogleIdentityConfig) *GoogleIdentityProvider {
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultIdentityTimeout
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = defaultMaxResponseSize
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.Nop{}
	}
	return &GoogleIdentityProvider{config: config}
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// VerifyIdentity はアクセストークンをクエリパラメータとしてユーザー情報エンドポイントに送り、
// 返却されたユーザー属性を返す。
// 通信失敗、タイムアウト、200以外のステータス、パース不能なレスポンス、emailの欠落は
// すべてmodel.ErrIdentityVerificationFailedをラップしたエラーになる。
func (p *GoogleIdentityProvider) VerifyIdentity(ctx context.Context, accessToken string) (*model.VerifiedIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	info, reason, err := p.fetchUserInfo(ctx, accessToken)
	p.config.Metrics.RecordIdentityLatency(time.Since(start))
	if err != nil {
		p.config.Metrics.RecordIdentityFailure(reason)
		return nil, fmt.Errorf("%w: %w", model.ErrIdentityVerificationFailed, err)
	}

	return &model.VerifiedIdentity{
		Provider:      "google",
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}

// fetchUserInfo はユーザー情報を取得し、失敗時は原因ラベルとともにエラーを返す。
func (p *GoogleIdentityProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, string, error) {
	endpoint, err := url.Parse(p.config.UserInfoURL)
	if err != nil {
		return nil, failureRequest, fmt.Errorf("invalid user info URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("access_token", accessToken)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, failureRequest, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || isTimeout(err)
		// url.Errorのメッセージにはアクセストークンを含むURLが入るため、URLを除いて返す
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		if timedOut {
			return nil, failureTimeout, fmt.Errorf("user info request timed out: %w", err)
		}
		return nil, failureRequest, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxResponseSize+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, failureTimeout, fmt.Errorf("user info response timed out: %w", err)
		}
		return nil, failureRead, fmt.Errorf("failed to read user info response: %w", err)
	}
	if int64(len(body)) > p.config.MaxResponseSize {
		return nil, failureRead, fmt.Errorf("user info response exceeds %d bytes", p.config.MaxResponseSize)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, failureStatus, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, failureParse, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if info.Email == "" {
		return nil, failureMissingEmail, fmt.Errorf("empty email in user info response")
	}

	return &info, "", nil
}

// isTimeout はerrがネットワークタイムアウトかを判定する。
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// compile-time interface check
var _ IdentityVerifier = (*GoogleIdentityProvider)(nil)
