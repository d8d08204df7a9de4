package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/waitlist/internal/admission"
	"github.com/hitoshi/waitlist/internal/config"
	"github.com/hitoshi/waitlist/internal/database"
	"github.com/hitoshi/waitlist/internal/handler"
	"github.com/hitoshi/waitlist/internal/logger"
	"github.com/hitoshi/waitlist/internal/metrics"
	"github.com/hitoshi/waitlist/internal/middleware"
	"github.com/hitoshi/waitlist/internal/notify"
	"github.com/hitoshi/waitlist/internal/repository"
	"github.com/hitoshi/waitlist/internal/security"
	"github.com/hitoshi/waitlist/internal/token"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReconcile:
		return runReconcile(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores は選択されたバックエンドの台帳と入場記録のストア。
type stores struct {
	ledger   repository.ParticipantRepository
	sessions repository.AuthRepository
	health   handler.HealthChecker
	close    func() error
}

// openStores はSTORE_BACKENDに応じてストアを開く。
// 読み込み不能なファイルの検出はreporterに通知する。
func openStores(cfg *config.Config, reporter repository.CorruptionReporter) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &stores{
			ledger:   repository.NewPostgresParticipantRepo(db),
			sessions: repository.NewPostgresAuthRepo(db),
			health:   db,
			close:    db.Close,
		}, nil

	case config.BackendBadger:
		db, err := database.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		slog.Info("badger database opened", slog.String("dir", cfg.BadgerDir))
		return &stores{
			ledger:   repository.NewBadgerParticipantRepo(db),
			sessions: repository.NewBadgerAuthRepo(db),
			health:   database.BadgerPinger{DB: db},
			close:    db.Close,
		}, nil

	case config.BackendFile:
		return &stores{
			ledger:   repository.NewFileParticipantRepo(cfg.LedgerPath, reporter),
			sessions: repository.NewFileAuthRepo(cfg.SessionPath, reporter),
			health: database.DirPinger{Dirs: []string{
				filepath.Dir(cfg.LedgerPath),
				filepath.Dir(cfg.SessionPath),
			}},
			close: func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newCodec はトークンのコーデックを生成する。
// TOKEN_SIGNING_KEYが設定されている場合は署名付きトークンを使う。
func newCodec(cfg *config.Config) (token.Codec, error) {
	if cfg.TokenSigningKey == "" {
		return token.NewBase58Codec(), nil
	}
	codec, err := token.NewSignedCodec([]byte(cfg.TokenSigningKey), cfg.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to create signed token codec: %w", err)
	}
	return codec, nil
}

// newNotifier は入場通知の送信先を生成する。WEBHOOK_URLが空の場合は通知しない。
func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.WebhookURL == "" {
		return notify.NopNotifier{}, nil
	}
	if err := security.ValidateWebhookURL(cfg.WebhookURL); err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_URL: %w", err)
	}
	return notify.NewWebhookNotifier(security.NewSafeClient(cfg.WebhookTimeout), cfg.WebhookURL), nil
}

// newRegistry はプロセスとランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildService はストアとコーデックを組み立てて入場サービスを生成する。
func buildService(cfg *config.Config, collector metrics.MetricsCollector) (*admission.Service, *stores, error) {
	st, err := openStores(cfg, collector)
	if err != nil {
		return nil, nil, err
	}

	codec, err := newCodec(cfg)
	if err != nil {
		st.close()
		return nil, nil, err
	}

	svc := admission.NewService(st.ledger, st.sessions, codec, collector,
		admission.ServiceConfig{Capacity: cfg.Capacity},
	)
	return svc, st, nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. ストアと入場サービス
	svc, st, err := buildService(cfg, collector)
	if err != nil {
		return err
	}
	defer st.close()

	// 3. 起動時の整合性確認
	if _, err := svc.Reconcile(ctx); err != nil {
		slog.Error("startup reconcile failed", slog.String("error", err.Error()))
	}
	if participants, err := svc.Participants(ctx); err == nil {
		collector.SetLedgerSize(len(participants))
	}

	// 4. 外部通知
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.LoginRatePerMin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Restorer: svc,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			TTL:    cfg.TokenTTL(),
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService: svc,
		Notifier:    notifier,

		WaitlistService: svc,

		HealthChecker: st.health,
		Gatherer:      reg,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
			slog.Int("capacity", cfg.Capacity),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runReconcile は台帳に存在するが入場記録がないウォレットを補完して終了する。
func runReconcile(ctx context.Context, cfg *config.Config) error {
	svc, st, err := buildService(cfg, metrics.NopCollector{})
	if err != nil {
		return err
	}
	defer st.close()

	repaired, err := svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	slog.Info("reconcile completed", slog.Int("repaired", repaired))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StoreBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
