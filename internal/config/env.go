package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const mb = int64(1 << 20)

type Config struct {
	Port        string
	LogLevel    string
	CorsOrigins []string
	JWTSecret   string

	DatabaseURL string
	SslCertPath string
	RedisURL    string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey     string
	GenModel     string
	VisionModel  string
	EmbedModel   string
	EmbedEnabled bool
	AIRateRPM    int
	// ValidationPass enables a second evaluator call that re-scores each answer.
	ValidationPass bool

	PromptCatalogPath string

	Processing ProcessingConfig
	Sessions   SessionConfig
	Queue      QueueConfig
	Memory     MemoryConfig
}

// ProcessingConfig holds the size breakpoints and timeouts of the document pipeline.
type ProcessingConfig struct {
	NoChunkMaxBytes     int64
	MediumMaxBytes      int64
	LargeMaxBytes       int64
	MediumChunkBytes    int
	LargeChunkBytes     int
	HugeChunkBytes      int
	MaxUploadBytes      int64
	MinTextChars        int
	ExtractTimeout      time.Duration
	LargeExtractTimeout time.Duration
	RasterizeTimeout    time.Duration
	PdftoppmPath        string
	VisionMaxPages      int
	ClassificationCache int
}

type SessionConfig struct {
	TTL              time.Duration
	SweepInterval    time.Duration
	WaitTimeout      time.Duration
	WaitPollInterval time.Duration
}

type QueueConfig struct {
	Workers    int
	Size       int
	JobTimeout time.Duration
}

type MemoryConfig struct {
	LimitBytes        uint64
	HighWatermark     float64
	CriticalWatermark float64
	Pause             time.Duration
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CorsOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "uwia-claims"),

		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		VisionModel:  getEnv("VISION_MODEL", "gemini-1.5-pro"),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedEnabled: getEnvBool("EMBED_ENABLED", false),
		AIRateRPM:    getEnvInt("AI_RATE_RPM", 60),

		ValidationPass: getEnvBool("EVAL_VALIDATION_PASS", false),

		PromptCatalogPath: getEnv("PROMPT_CATALOG_PATH", ""),

		Processing: ProcessingConfig{
			NoChunkMaxBytes:     getEnvInt64("NO_CHUNK_MAX_MB", 10) * mb,
			MediumMaxBytes:      getEnvInt64("MEDIUM_MAX_MB", 25) * mb,
			LargeMaxBytes:       getEnvInt64("LARGE_MAX_MB", 50) * mb,
			MediumChunkBytes:    getEnvInt("MEDIUM_CHUNK_KB", 2048) * 1024,
			LargeChunkBytes:     getEnvInt("LARGE_CHUNK_KB", 5120) * 1024,
			HugeChunkBytes:      getEnvInt("HUGE_CHUNK_KB", 8192) * 1024,
			MaxUploadBytes:      getEnvInt64("MAX_UPLOAD_MB", 200) * mb,
			MinTextChars:        getEnvInt("MIN_TEXT_CHARS", 50),
			ExtractTimeout:      getEnvAsDuration("EXTRACT_TIMEOUT", 90*time.Second),
			LargeExtractTimeout: getEnvAsDuration("LARGE_EXTRACT_TIMEOUT", 5*time.Minute),
			RasterizeTimeout:    getEnvAsDuration("RASTERIZE_TIMEOUT", 60*time.Second),
			PdftoppmPath:        getEnv("PDFTOPPM_PATH", "pdftoppm"),
			VisionMaxPages:      getEnvInt("VISION_MAX_PAGES", 3),
			ClassificationCache: getEnvInt("CLASSIFICATION_CACHE_SIZE", 1000),
		},
		Sessions: SessionConfig{
			TTL:              getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 6*time.Hour),
			WaitTimeout:      getEnvAsDuration("WAIT_TIMEOUT", 5*time.Minute),
			WaitPollInterval: getEnvAsDuration("WAIT_POLL_INTERVAL", 2*time.Second),
		},
		Queue: QueueConfig{
			Workers:    getEnvInt("QUEUE_WORKERS", 2),
			Size:       getEnvInt("QUEUE_SIZE", 64),
			JobTimeout: getEnvAsDuration("QUEUE_JOB_TIMEOUT", 30*time.Minute),
		},
		Memory: MemoryConfig{
			LimitBytes:        uint64(getEnvInt64("MEMORY_LIMIT_MB", 2048) * mb),
			HighWatermark:     getEnvFloat("MEMORY_HIGH_WATERMARK", 0.70),
			CriticalWatermark: getEnvFloat("MEMORY_CRITICAL_WATERMARK", 0.85),
			Pause:             getEnvAsDuration("MEMORY_PAUSE", 5*time.Second),
		},
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, sessions are kept in memory")
	}

	return cfg
}

// HasObjectStorage reports whether raw uploads can be archived.
func (c *Config) HasObjectStorage() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a float, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("env value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("env value is not a duration, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
