package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/waitlist/internal/metrics"
	"github.com/hitoshi/waitlist/internal/middleware"
	"github.com/hitoshi/waitlist/internal/notify"
)

// HealthChecker はストアの疎通確認に必要なインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Restorer          middleware.SessionRestorer
	Cookie            middleware.CookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 入場
	AuthService AuthServiceInterface
	Notifier    notify.Notifier

	// 台帳参照
	WaitlistService WaitlistServiceInterface

	// 運用
	HealthChecker HealthChecker // nilの場合は常に正常
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → BodyLimit → Session → CSRF → RateLimit
//
// CORSはプリフライトがルーティングより前に応答できるようルートに配置する。
// /health と /metrics はセッションとCSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Notifier, deps.Cookie)
	waitlistHandler := NewWaitlistHandler(deps.WaitlistService)

	// --- アプリケーションのルート ---
	// ミドルウェアスタック: BodyLimit → Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBodyLimitMiddleware(maxRequestBodyBytes))
		r.Use(middleware.NewSessionMiddleware(deps.Restorer, deps.Cookie))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.With(middleware.NewNoStoreMiddleware()).Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			// トークンCookieを発行・削除するため共有キャッシュに保存させない
			r.Use(middleware.NewNoStoreMiddleware())

			// POST /auth/login - ログイン専用のIP単位レート制限を追加
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		r.Get("/api/participants", waitlistHandler.ListParticipants)
		r.With(middleware.NewNoStoreMiddleware(), middleware.RequireSession()).Get("/api/dashboard", waitlistHandler.Dashboard)
	})

	return r
}

// healthHandler はストアの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
