package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/storefront/internal/config"
	"github.com/hitoshi/storefront/internal/database"
	"github.com/hitoshi/storefront/internal/handler"
	"github.com/hitoshi/storefront/internal/logger"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

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

	// 3. LOG_LEVEL を反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// stores はバックエンドごとのリポジトリ一式。
type stores struct {
	backend  config.StoreBackend
	users    repository.UserRepository
	sessions repository.SessionRepository
	products repository.ProductRepository
	visitors repository.VisitorRepository
	health   handler.HealthChecker
	close    func() error
}

// openStores はSTORE_BACKENDに応じてリポジトリを初期化する。
// postgresの場合は接続確認まで行う。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.StoreMemory {
		mem := repository.NewMemoryStore()
		slog.Warn("using in-memory store; data is lost on restart")
		return &stores{
			backend:  config.StoreMemory,
			users:    mem.Users(),
			sessions: mem.Sessions(),
			products: mem.Products(),
			visitors: mem.Visitors(),
			health:   mem,
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	return &stores{
		backend:  config.StorePostgres,
		users:    repository.NewPostgresUserRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
		products: repository.NewPostgresProductRepo(db),
		visitors: repository.NewPostgresVisitorRepo(db),
		health:   db,
		close:    db.Close,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxが終了（SIGINT/SIGTERM）するとグレースフルシャットダウンを行い、
// 処理中のリクエストと未書き込みのアクセスログを待機する。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	srv, err := newServer(cfg, st, slog.Default())
	if err != nil {
		return err
	}

	// メモリストアは別プロセスのworkerから参照できないため、期限切れセッションの回収もここで行う
	if st.backend == config.StoreMemory {
		go srv.cleanup.RunEvery(ctx, cfg.CleanupInterval)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("store_backend", string(st.backend)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			srv.shutdown(context.Background())
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	srv.shutdown(shutdownCtx)

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動直後と以降CLEANUP_INTERVALごとに期限切れセッションを削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		return errors.New("worker requires STORE_BACKEND=postgres")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	job := cleanup.NewCleanupJob(st.sessions, slog.Default())
	job.RunEvery(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrateUp はすべての未適用マイグレーションを順番に適用する。
func runMigrateUp(_ context.Context, cfg *config.Config) error {
	if err := requirePostgres(cfg); err != nil {
		return err
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown は適用済みのマイグレーションをすべて取り消す。
func runMigrateDown(_ context.Context, cfg *config.Config) error {
	if err := requirePostgres(cfg); err != nil {
		return err
	}
	slog.Warn("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database migrations rolled back")
	return nil
}

// runMigrateVersion は現在のスキーマバージョンをログに出力する。
func runMigrateVersion(_ context.Context, cfg *config.Config) error {
	if err := requirePostgres(cfg); err != nil {
		return err
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database schema version",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

func requirePostgres(cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		return errors.New("migrate requires STORE_BACKEND=postgres")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
