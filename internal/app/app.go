package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/placementbridge/oppengine/internal/config"
	"github.com/placementbridge/oppengine/internal/database"
	"github.com/placementbridge/oppengine/internal/embedding"
	"github.com/placementbridge/oppengine/internal/feed"
	"github.com/placementbridge/oppengine/internal/handler"
	"github.com/placementbridge/oppengine/internal/ingest"
	"github.com/placementbridge/oppengine/internal/logger"
	"github.com/placementbridge/oppengine/internal/metrics"
	"github.com/placementbridge/oppengine/internal/middleware"
	"github.com/placementbridge/oppengine/internal/notify"
	"github.com/placementbridge/oppengine/internal/repository"
	"github.com/placementbridge/oppengine/internal/search"
	"github.com/placementbridge/oppengine/internal/security"
	"github.com/placementbridge/oppengine/internal/worker/cleanup"
	"github.com/placementbridge/oppengine/internal/worker/schedule"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserve/workerモードで共有する依存関係一式。
type components struct {
	oppRepo    repository.OpportunityRepository
	sourceRepo repository.SourceRepository

	pipeline   *ingest.Pipeline
	engine     *search.Engine
	embedSvc   *embedding.Service // 埋め込み無効時はnil
	dispatcher *notify.Dispatcher

	gatherer prometheus.Gatherer
}

// buildComponents はDB接続を起点に全サービスをワイヤリングする。
// OPENAI_API_KEY未設定時は埋め込みを、REDIS_URL未設定時はキャッシュを
// それぞれ無効化した構成で組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB) (*components, error) {
	// 1. リポジトリの初期化
	oppRepo := repository.NewPostgresOpportunityRepo(db, slog.Default())
	sourceRepo := repository.NewPostgresSourceRepo(db)
	runLogRepo := repository.NewPostgresRunLogRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	notifRepo := repository.NewPostgresNotificationRepo(db)

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. 埋め込みの初期化（APIキー未設定時はキーワード検索のみで動作）
	var embedder embedding.Embedder
	var embedSvc *embedding.Service
	if cfg.OpenAIAPIKey != "" {
		e, err := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("埋め込みクライアントの初期化に失敗しました: %w", err)
		}
		embedder = e
		embedSvc = embedding.NewService(oppRepo, embedder, slog.Default(), cfg.EmbedBatchSize)
	} else {
		slog.Warn("OPENAI_API_KEY is not set; semantic search disabled")
	}

	// 5. 検索キャッシュの初期化（Redis未設定時はキャッシュなしで動作）
	var cache *search.Cache
	if cfg.RedisURL != "" {
		rdb, err := search.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// キャッシュは補助機能のため、接続失敗時は警告のみで継続する
			slog.Warn("redis connection failed; search cache disabled",
				slog.String("error", err.Error()),
			)
		} else {
			cache = search.NewCache(rdb, cfg.SearchCacheTTL, slog.Default())
		}
	}

	// 6. 取り込みパイプラインの初期化
	fetcher := feed.NewFetcher(ssrfGuard, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize, cfg.FetchMaxRetries)
	normalizer := ingest.NewNormalizer(sanitizer, ingest.NewClassifier(), cfg.MaxDescriptionLength, cfg.MaxItemAgeDays)
	matcher := notify.NewMatcher(oppRepo, subRepo, notifRepo, slog.Default())

	var embedGen ingest.EmbeddingGenerator
	if embedSvc != nil {
		embedGen = embedSvc
	}
	pipeline := ingest.NewPipeline(
		oppRepo, sourceRepo, runLogRepo,
		fetcher, normalizer, embedGen, matcher,
		collector, slog.Default(),
		config.DefaultSources,
		cfg.SourceFetchDelay, cfg.RunLockWindow, cfg.EmbedBackfillLimit,
	)

	// 7. 検索エンジンと通知ディスパッチャの初期化
	engine := search.NewEngine(oppRepo, embedder, cache, collector, slog.Default())
	dispatcher := notify.NewDispatcher(notifRepo, slog.Default(), cfg.NotifyDrainLimit)

	return &components{
		oppRepo:    oppRepo,
		sourceRepo: sourceRepo,
		pipeline:   pipeline,
		engine:     engine,
		embedSvc:   embedSvc,
		dispatcher: dispatcher,
		gatherer:   registry,
	}, nil
}

// openDatabase はDB接続を開いて疎通確認を行う。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	c, err := buildComponents(context.Background(), cfg, db)
	if err != nil {
		return err
	}

	// レート制限の構成（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rateLimitPerSecond(cfg.RateLimitGeneral)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.IngestionRate = rateLimitPerSecond(cfg.RateLimitIngestion)
	rateLimiterCfg.IngestionBurst = cfg.RateLimitIngestion

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,

		SearchEngine: c.engine,

		IngestionRunner: c.pipeline,
		SourceRegistry:  c.sourceRepo,
		Cache:           c.engine,

		DB:                db,
		EmbeddingsEnabled: cfg.OpenAIAPIKey != "",

		MetricsHandler: metrics.Handler(c.gatherer),
	}

	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("embeddings_enabled", cfg.OpenAIAPIKey != ""),
			slog.Bool("cache_enabled", cfg.RedisURL != ""),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 取り込み・埋め込み補完・通知ドレインの定期ジョブをcronスケジューラで実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, cfg, db)
	if err != nil {
		return err
	}

	// embedSvcがnilの場合、スケジューラは埋め込み補完ジョブをスキップする
	var embedGen schedule.EmbeddingGenerator
	if c.embedSvc != nil {
		embedGen = c.embedSvc
	}

	scheduler := schedule.New(
		c.pipeline, embedGen, c.dispatcher, c.engine,
		slog.Default(),
		schedule.Config{
			IngestionInterval:   cfg.IngestionInterval,
			EmbedCatchUpLimit:   cfg.EmbedCatchUpLimit,
			NotifyDrainInterval: cfg.NotifyDrainInterval,
		},
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("worker starting",
		slog.Duration("ingestion_interval", cfg.IngestionInterval),
		slog.Duration("notify_drain_interval", cfg.NotifyDrainInterval),
	)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("スケジューラの起動に失敗しました: %w", err)
	}

	<-stop
	slog.Info("shutting down worker...")
	cancel()
	scheduler.Stop()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行し、初期RSSソースをシードする。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")

	// 初期RSSソースのシード（登録済みURLはスキップ）
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sourceRepo := repository.NewPostgresSourceRepo(db)
	for _, src := range config.DefaultSources {
		if err := sourceRepo.EnsureExists(ctx, src.Name, src.URL); err != nil {
			return fmt.Errorf("初期ソースの登録に失敗しました (%s): %w", src.Name, err)
		}
	}

	slog.Info("default sources seeded", slog.Int("count", len(config.DefaultSources)))
	return nil
}

// runCleanup は保持期間を超えた募集情報の削除を1回実行する。
// 定期実行はされず、運用者が明示的に起動した場合のみ動作する。
func runCleanup(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	oppRepo := repository.NewPostgresOpportunityRepo(db, slog.Default())
	job := cleanup.NewRetentionJob(oppRepo, slog.Default())
	job.RetentionDays = cfg.MaxItemAgeDays

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return job.Run(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// rateLimitPerSecond はreq/min単位の設定値をrate.Limit（req/sec）に変換する。
func rateLimitPerSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
