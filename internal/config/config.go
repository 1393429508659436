package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Embedding
	OpenAIAPIKey   string
	EmbeddingModel string

	// Cache
	RedisURL       string
	SearchCacheTTL time.Duration

	// Fetch
	FetchTimeout     time.Duration
	FetchMaxSize     int64
	FetchMaxRetries  int
	SourceFetchDelay time.Duration

	// Ingestion
	IngestionInterval    time.Duration
	RunLockWindow        time.Duration
	MaxDescriptionLength int
	MaxItemAgeDays       int

	// Embedding batches
	EmbedBatchSize     int
	EmbedCatchUpLimit  int
	EmbedBackfillLimit int

	// Notification
	NotifyDrainInterval time.Duration
	NotifyDrainLimit    int

	// Rate Limit
	RateLimitGeneral   int
	RateLimitIngestion int

	// Server
	ServerPort string
}

// DefaultSource は初期投入するRSSソースを表す。
type DefaultSource struct {
	Name string
	URL  string
}

// DefaultSources は初回マイグレーション後にシードするRSSソース一覧。
var DefaultSources = []DefaultSource{
	{Name: "Opportunities For Youth", URL: "https://opportunitiesforyouth.org/feed/"},
	{Name: "Opportunity Corners", URL: "https://opportunitycorners.com/feed/"},
	{Name: "Opportunity Desk", URL: "https://opportunitydesk.org/feed/"},
	{Name: "After School Africa", URL: "https://www.afterschoolafrica.com/feed/"},
	{Name: "Youth Opportunities", URL: "https://www.youthop.com/feed"},
	{Name: "Scholars4Dev", URL: "https://www.scholars4dev.com/feed/"},
	{Name: "MyJobMag East Africa", URL: "https://www.myjobmag.co.ke/jobsxml.xml"},
	{Name: "Fuzu Uganda Jobs", URL: "https://www.fuzu.com/uganda/jobs.rss"},
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	// OPENAI_API_KEY 未設定時はベクトル検索を無効化してキーワード検索のみで動作する
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.EmbeddingModel = getEnvString("EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.SearchCacheTTL = getEnvDuration("SEARCH_CACHE_TTL", 5*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10485760)
	cfg.FetchMaxRetries = getEnvInt("FETCH_MAX_RETRIES", 3)
	cfg.SourceFetchDelay = getEnvDuration("SOURCE_FETCH_DELAY", 500*time.Millisecond)
	cfg.IngestionInterval = getEnvDuration("INGESTION_INTERVAL", 6*time.Hour)
	cfg.RunLockWindow = getEnvDuration("RUN_LOCK_WINDOW", 20*time.Minute)
	cfg.MaxDescriptionLength = getEnvInt("MAX_DESCRIPTION_LENGTH", 5000)
	cfg.MaxItemAgeDays = getEnvInt("MAX_ITEM_AGE_DAYS", 90)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", 20)
	cfg.EmbedCatchUpLimit = getEnvInt("EMBED_CATCHUP_LIMIT", 50)
	cfg.EmbedBackfillLimit = getEnvInt("EMBED_BACKFILL_LIMIT", 200)
	cfg.NotifyDrainInterval = getEnvDuration("NOTIFY_DRAIN_INTERVAL", 10*time.Minute)
	cfg.NotifyDrainLimit = getEnvInt("NOTIFY_DRAIN_LIMIT", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIngestion = getEnvInt("RATE_LIMIT_INGESTION", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
