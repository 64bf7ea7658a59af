// Package config loads RaveDigest service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var notionDBIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Database holds Postgres connection settings.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis holds bus connection settings.
type Redis struct {
	URL     string
	Timeout time.Duration
}

// OpenAI holds LLM client settings.
type OpenAI struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Notion holds knowledge-base publisher settings.
type Notion struct {
	APIKey string
	DBID   string
}

// Service holds cross-cutting pipeline settings.
type Service struct {
	RSSFeeds                  []FeedSource
	DeveloperKeywords         []string
	CosineSimilarityThreshold float64
	MaxArticlesPerDigest      int
	StreamMaxLength           int64
	ConsumerGroupPrefix       string
	MaxRetries                int
	RetryDelay                time.Duration
	RetryBackoffFactor        float64
	HTTPTimeout               time.Duration
	LogLevel                  string
	JSONLogs                  bool
	DigestTemplateDir         string
}

// FeedSource is a single RSS feed to poll, paired with a human-readable source tag.
type FeedSource struct {
	URL    string
	Source string
}

// Scheduler holds the component URLs the Scheduler triggers and polls.
type Scheduler struct {
	CollectorURL    string
	ComposerURL     string
	AnalyzerURL     string
	NotionWorkerURL string
}

// Config is the fully resolved configuration for any RaveDigest component.
type Config struct {
	Database  Database
	Redis     Redis
	OpenAI    OpenAI
	Notion    Notion
	Service   Service
	Scheduler Scheduler
}

// Load builds a Config from environment variables, applying the defaults
// documented in the spec. It does not validate cross-field invariants beyond
// the Notion database id shape, matching the narrow validation the settings
// module it's grounded on performs.
func Load() (*Config, error) {
	cfg := &Config{
		Database: Database{
			URL:             databaseURL(),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 30),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		},
		Redis: Redis{
			URL:     redisURL(),
			Timeout: getEnvFloatDuration("REDIS_TIMEOUT", 5.0),
		},
		OpenAI: OpenAI{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 1000),
			Temperature: float32(getEnvFloat("OPENAI_TEMPERATURE", 0.7)),
		},
		Notion: Notion{
			APIKey: os.Getenv("NOTION_API_KEY"),
			DBID:   os.Getenv("NOTION_DB_ID"),
		},
		Service: Service{
			RSSFeeds:                  parseFeeds(os.Getenv("RSS_FEEDS")),
			DeveloperKeywords:         splitCSV(getEnvString("DEVELOPER_KEYWORDS", "golang,kubernetes,api,docker,programming,software,developer,opensource,sdk,cli")),
			CosineSimilarityThreshold: getEnvFloat("COSINE_SIMILARITY_THRESHOLD", 0.6),
			MaxArticlesPerDigest:      getEnvInt("MAX_ARTICLES_PER_DIGEST", 20),
			StreamMaxLength:           int64(getEnvInt("STREAM_MAX_LENGTH", 1000)),
			ConsumerGroupPrefix:       getEnvString("CONSUMER_GROUP_PREFIX", "ravedigest"),
			MaxRetries:                getEnvInt("MAX_RETRIES", 3),
			RetryDelay:                getEnvFloatDuration("RETRY_DELAY", 1.0),
			RetryBackoffFactor:        getEnvFloat("RETRY_BACKOFF_FACTOR", 2.0),
			HTTPTimeout:               getEnvFloatDuration("HTTP_TIMEOUT", 30.0),
			LogLevel:                  getEnvString("LOG_LEVEL", "INFO"),
			JSONLogs:                  os.Getenv("JSON_LOGS") == "true",
			DigestTemplateDir:         getEnvString("DIGEST_TEMPLATE_DIR", "./templates"),
		},
		Scheduler: Scheduler{
			CollectorURL:    getEnvString("COLLECTOR_URL", "http://collector:8001"),
			ComposerURL:     getEnvString("COMPOSER_URL", "http://composer:8003"),
			AnalyzerURL:     getEnvString("ANALYZER_URL", "http://analyzer:8002"),
			NotionWorkerURL: getEnvString("NOTION_WORKER_URL", "http://notion-worker:8004"),
		},
	}

	if cfg.Notion.DBID != "" && !notionDBIDPattern.MatchString(cfg.Notion.DBID) {
		return nil, fmt.Errorf("config: NOTION_DB_ID must be a 32-character hex id, got %q", cfg.Notion.DBID)
	}

	return cfg, nil
}

func databaseURL() string {
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		return url
	}
	user := getEnvString("POSTGRES_USER", "postgres")
	password := os.Getenv("POSTGRES_PASSWORD")
	host := getEnvString("POSTGRES_HOST", "localhost")
	port := getEnvString("POSTGRES_PORT", "5432")
	db := getEnvString("POSTGRES_DB", "ravedigest")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, db)
}

func redisURL() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	host := getEnvString("REDIS_HOST", "localhost")
	port := getEnvString("REDIS_PORT", "6379")
	dbIdx := getEnvString("REDIS_DB", "0")
	password := os.Getenv("REDIS_PASSWORD")
	if password != "" {
		return fmt.Sprintf("redis://:%s@%s:%s/%s", password, host, port, dbIdx)
	}
	return fmt.Sprintf("redis://%s:%s/%s", host, port, dbIdx)
}

func parseFeeds(raw string) []FeedSource {
	var feeds []FeedSource
	for _, url := range splitCSV(raw) {
		source := url
		if idx := strings.Index(url, "|"); idx != -1 {
			source = url[idx+1:]
			url = url[:idx]
		}
		feeds = append(feeds, FeedSource{URL: url, Source: source})
	}
	return feeds
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvFloatDuration(key string, defaultSeconds float64) time.Duration {
	secs := getEnvFloat(key, defaultSeconds)
	return time.Duration(secs * float64(time.Second))
}
