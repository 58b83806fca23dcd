package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the CLI and the mock service.
type Config struct {
	Env            string
	ServerURL      string
	APIKey         string
	RequestTimeout time.Duration

	ArtifactOutputDir    string
	ArtifactFetchTimeout time.Duration
	ArtifactMaxBytes     int64
	ArtifactS3Bucket     string
	ArtifactS3Region     string
	ArtifactS3Endpoint   string
	ArtifactS3PathStyle  bool

	// Mock service settings, mirroring the real service's environment.
	HTTPPort           string
	MaxQueueSize       int
	RateLimitPerMinute int
	OutputRoot         string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:            getEnv("APP_ENV", "dev"),
		ServerURL:      getEnv("BARK_SERVER_URL", "http://localhost:8000"),
		APIKey:         getEnv("BARK_API_KEY", ""),
		RequestTimeout: getEnvDuration("BARK_REQUEST_TIMEOUT", 0),

		ArtifactOutputDir:    getEnv("BARK_ARTIFACT_DIR", "./artifacts"),
		ArtifactFetchTimeout: getEnvDuration("BARK_ARTIFACT_TIMEOUT", 30*time.Second),
		ArtifactMaxBytes:     getEnvInt64("BARK_ARTIFACT_MAX_BYTES", 256*1024*1024),
		ArtifactS3Bucket:     getEnv("BARK_ARTIFACT_S3_BUCKET", ""),
		ArtifactS3Region:     getEnv("BARK_ARTIFACT_S3_REGION", "us-east-1"),
		ArtifactS3Endpoint:   getEnv("BARK_ARTIFACT_S3_ENDPOINT", ""),
		ArtifactS3PathStyle:  getEnvBool("BARK_ARTIFACT_S3_PATH_STYLE", false),

		HTTPPort:           getEnv("HTTP_PORT", "8000"),
		MaxQueueSize:       getEnvInt("BARK_MAX_QUEUE_SIZE", 8),
		RateLimitPerMinute: getEnvInt("BARK_RATE_LIMIT_PER_MIN", 30),
		OutputRoot:         getEnv("BARK_OUTPUT_ROOT", "outputs"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
