package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tokenbridge/internal/metrics"
	"github.com/hitoshi/tokenbridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector

	// 認証
	SessionIssuer  SessionIssuer
	TokenValidator middleware.TokenValidator

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// Now は/v1/infoが返す時刻の取得関数。nilの場合はtime.Now。
	Now func() time.Time
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → HTTPStatusMetrics → SecurityHeaders → CORS → ルート個別
//
// ルート個別のミドルウェア:
//
//	POST /v1/auth/google  RateLimit(Auth, IP単位)
//	GET  /v1/info         TokenAuth → RateLimit(General, ユーザー単位)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(metrics.NewHTTPStatusMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.SessionIssuer)
	infoHandler := NewInfoHandler(deps.Now)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker).Check)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/auth/google", authHandler.GoogleAuth)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewTokenAuthMiddleware(deps.TokenValidator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/info", infoHandler.GetInfo)
		})
	})

	return r
}
