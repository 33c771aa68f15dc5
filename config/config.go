package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// HTTP API
	ListenAddr string

	// Supplier site
	BaseURL     string
	Categories  []string
	SearchTerms []string
	Email       string
	Password    string

	// Crawl behaviour
	CrawlDisabled  bool
	BackgroundSync bool
	SyncInterval   time.Duration
	Freshness      time.Duration
	MaxPages       int
	DetailLimit    int
	DetailDelay    time.Duration
	NavTimeout     time.Duration
	SettleDelay    time.Duration
	MinTitleLength int

	// Delegation webhook (used when CrawlDisabled is set)
	WebhookURL    string
	WebhookSecret string
	TriggerSecret string

	// Snapshot file
	SnapshotPath string

	// Postgres storage (optional; snapshot-only when empty)
	PostgresDSN string

	// Memcache configuration (per-seed block cache)
	MemcacheAddr  string
	SeedBlockTime time.Duration

	// Redis publisher
	RedisAddr         string
	RedisDB           int
	RedisStream       string
	RedisStreamMaxLen int

	// Environment
	Environment string
}

// minimum interval floor for the background scheduler
const minSyncInterval = 10 * time.Minute

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAXLEN", "500"))
	maxPages, _ := strconv.Atoi(getEnv("TRAVELDEAL_MAX_PAGES", "20"))
	detailLimit, _ := strconv.Atoi(getEnv("TRAVELDEAL_DETAIL_LIMIT", "40"))
	minTitle, _ := strconv.Atoi(getEnv("TRAVELDEAL_MIN_TITLE_LENGTH", "4"))

	// Serverless runtimes cannot host a browser; serve cached data there
	crawlDisabled := getEnvBool("TRAVELDEAL_CRAWL_DISABLED", false) ||
		os.Getenv("VERCEL") != "" || os.Getenv("NETLIFY") != ""

	return Config{
		ListenAddr:        getEnv("TRAVELDEAL_LISTEN_ADDR", ":3080"),
		BaseURL:           getEnv("TRAVELDEAL_BASE_URL", "https://mobile.attractionsg.com"),
		Categories:        getEnvList("TRAVELDEAL_CATEGORIES", "attractions,tours,theater,museums,parks"),
		SearchTerms:       getEnvList("TRAVELDEAL_SEARCH_TERMS", "singapore,zoo,aquarium,museum,garden,sentosa,universal,flyer"),
		Email:             getEnv("TRAVELDEAL_EMAIL", ""),
		Password:          getEnv("TRAVELDEAL_PASSWORD", ""),
		CrawlDisabled:     crawlDisabled,
		BackgroundSync:    getEnvBool("TRAVELDEAL_BACKGROUND_SYNC", false),
		SyncInterval:      getEnvDuration("TRAVELDEAL_SYNC_INTERVAL", 6*time.Hour),
		Freshness:         getEnvDuration("TRAVELDEAL_FRESHNESS", 6*time.Hour),
		MaxPages:          maxPages,
		DetailLimit:       detailLimit,
		DetailDelay:       getEnvDuration("TRAVELDEAL_DETAIL_DELAY", 800*time.Millisecond),
		NavTimeout:        getEnvDuration("TRAVELDEAL_NAV_TIMEOUT", 30*time.Second),
		SettleDelay:       getEnvDuration("TRAVELDEAL_SETTLE_DELAY", 2*time.Second),
		MinTitleLength:    minTitle,
		WebhookURL:        getEnv("TRAVELDEAL_CRAWLER_WEBHOOK", ""),
		WebhookSecret:     getEnv("TRAVELDEAL_CRAWLER_WEBHOOK_SECRET", ""),
		TriggerSecret:     getEnv("TRAVELDEAL_TRIGGER_SECRET", ""),
		SnapshotPath:      getEnv("TRAVELDEAL_SNAPSHOT_PATH", "data/listings.json"),
		PostgresDSN:       getEnv("TRAVELDEAL_POSTGRES_DSN", ""),
		MemcacheAddr:      getEnv("MEMCACHE_ADDR", "localhost:11211"),
		SeedBlockTime:     getEnvDuration("TRAVELDEAL_SEED_BLOCK_TIME", 500*time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           redisDB,
		RedisStream:       getEnv("REDIS_STREAM", "traveldeals"),
		RedisStreamMaxLen: streamMaxLen,
		Environment:       getEnv("TRAVELDEAL_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values that would break a run,
// clamping soft limits and rejecting unusable values
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL %q must include a scheme", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SyncInterval < minSyncInterval {
		c.SyncInterval = minSyncInterval
	}
	if c.Freshness <= 0 {
		return fmt.Errorf("freshness window must be positive, got %s", c.Freshness)
	}
	if c.MaxPages <= 0 || c.DetailLimit < 0 {
		return fmt.Errorf("page and detail limits must be positive")
	}
	if c.MinTitleLength < 1 {
		c.MinTitleLength = 1
	}
	return nil
}

// HomeURL returns the seed page for a crawl run
func (c *Config) HomeURL() string {
	return c.BaseURL + "/"
}

// CategoryURL returns the seed page for a category crawl
func (c *Config) CategoryURL(category string) string {
	return c.BaseURL + "/category/" + category
}

// SearchURL returns the seed page for a search-term crawl
func (c *Config) SearchURL(term string) string {
	return c.BaseURL + "/search?q=" + url.QueryEscape(term)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
