package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tokenbridge/internal/metrics"
	"github.com/hitoshi/tokenbridge/internal/model"
	"github.com/hitoshi/tokenbridge/internal/repository"
)

// DefaultTokenTTL はセッショントークンの既定の有効期間（84600秒）。
const DefaultTokenTTL = 23*time.Hour + 30*time.Minute

// トークン文字列の長さ（ハイフンなし、ハイフン付き）。
const (
	hexTokenLen    = 32
	dashedTokenLen = 36
)

// IdentityVerifier は外部IdPのアクセストークンを検証するインターフェース。
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, accessToken string) (*model.VerifiedIdentity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL time.Duration
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service はセッションの発行と検証を行う。
type Service struct {
	verifier IdentityVerifier
	repo     repository.TransactionalAuthRepository
	config   ServiceConfig
	now      func() time.Time
	metrics  metrics.MetricsCollector
}

// NewService は認証サービスを生成する。
func NewService(verifier IdentityVerifier, repo repository.TransactionalAuthRepository, config ServiceConfig, opts ...Option) *Service {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	s := &Service{
		verifier: verifier,
		repo:     repo,
		config:   config,
		now:      time.Now,
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueSession は外部IdPのアクセストークンを検証し、新しいセッショントークンを発行する。
//
// 処理フロー:
//  1. IdPでアクセストークンを検証し、emailを取得する
//  2. トランザクション内でemailのユーザーを検索し、存在しなければ作成する
//  3. 同じトランザクション内でトークンを作成する
//
// 呼び出しごとに新しいトークンを発行する。既存トークンの再利用や失効は行わない。
func (s *Service) IssueSession(ctx context.Context, accessToken string) (*model.IssuedToken, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access_token is required", model.ErrInvalidRequest)
	}

	identity, err := s.verifier.VerifyIdentity(ctx, accessToken)
	if err != nil {
		slog.Warn("identity verification failed", slog.String("error", err.Error()))
		if !errors.Is(err, model.ErrIdentityVerificationFailed) {
			err = fmt.Errorf("%w: %w", model.ErrIdentityVerificationFailed, err)
		}
		return nil, err
	}

	// IdPが返したemailをそのまま使う。大文字小文字の違うemailは別ユーザーになる。
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: identity has no email", model.ErrIdentityVerificationFailed)
	}

	tokenID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token ID: %w", err)
	}
	token := &model.Token{
		ID:        tokenID.String(),
		ExpiredAt: s.now().Add(s.config.TokenTTL),
	}

	var (
		user    *model.User
		created bool
	)
	err = s.repo.InTx(ctx, func(repo repository.AuthRepository) error {
		u, c, err := findOrCreateUser(ctx, repo, email)
		if err != nil {
			return err
		}
		token.UserID = u.ID
		if err := repo.CreateToken(ctx, token); err != nil {
			return fmt.Errorf("failed to create token: %w", err)
		}
		user, created = u, c
		return nil
	})
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	if created {
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
			slog.String("provider", identity.Provider),
		)
	}
	slog.Info("session issued",
		slog.String("user_id", user.ID),
		slog.Time("expired_at", token.ExpiredAt),
	)
	s.metrics.RecordSessionIssued(created)

	return &model.IssuedToken{
		Token:     FormatToken(tokenID),
		UserID:    user.ID,
		ExpiredAt: token.ExpiredAt,
	}, nil
}

// findOrCreateUser はemailのユーザーを返す。存在しなければ作成する。
// 並行する作成と競合した場合は、勝った側のユーザーを再取得して返す。
func findOrCreateUser(ctx context.Context, repo repository.AuthRepository, email string) (*model.User, bool, error) {
	existing, err := repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	userID, err := uuid.NewRandom()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate user ID: %w", err)
	}
	user := &model.User{ID: userID.String(), Email: email}

	err = repo.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		winner, err := repo.FindUserByEmail(ctx, email)
		if err != nil {
			return nil, false, fmt.Errorf("failed to re-select user after conflict: %w", err)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("user %q not visible after conflict", email)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	return user, true, nil
}

// Validate はセッショントークンを検証し、所有ユーザーを返す。
// 形式不正の場合はストレージに触れずにErrInvalidCredentialFormatを返す。
// 存在しないトークンと期限切れトークンはどちらもErrAuthenticationFailedとなる。
func (s *Service) Validate(ctx context.Context, credential string) (*model.User, error) {
	tokenID, err := ParseCredential(credential)
	if err != nil {
		s.metrics.RecordValidation(metrics.ValidationInvalidFormat)
		return nil, err
	}

	tu, err := s.repo.FindTokenWithUser(ctx, tokenID.String())
	if err != nil {
		s.metrics.RecordValidation(metrics.ValidationError)
		slog.Error("failed to look up token", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	if tu == nil || tu.Token.IsExpired(s.now()) {
		s.metrics.RecordValidation(metrics.ValidationUnauthorized)
		return nil, model.ErrAuthenticationFailed
	}

	s.metrics.RecordValidation(metrics.ValidationOK)
	user := tu.User
	return &user, nil
}

// ParseCredential はAuthorizationヘッダーの値をトークンIDとして解釈する。
// 任意の"Bearer "プレフィックスを許容し、ハイフンなし32桁とハイフン付きの両方の形式を受け付ける。
func ParseCredential(credential string) (uuid.UUID, error) {
	value := strings.TrimSpace(credential)
	if len(value) >= len("Bearer ") && strings.EqualFold(value[:len("Bearer ")], "Bearer ") {
		value = strings.TrimSpace(value[len("Bearer "):])
	}
	if value == "" {
		return uuid.Nil, fmt.Errorf("%w: empty credential", model.ErrInvalidCredentialFormat)
	}
	// uuid.Parseは{...}やurn:uuid:形式も受け付けるため、長さで2形式に絞る
	if len(value) != hexTokenLen && len(value) != dashedTokenLen {
		return uuid.Nil, fmt.Errorf("%w: unexpected length %d", model.ErrInvalidCredentialFormat, len(value))
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", model.ErrInvalidCredentialFormat, err)
	}
	return id, nil
}

// FormatToken はトークンIDをクライアントに返す32桁の16進文字列にする。
func FormatToken(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
