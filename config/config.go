package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	APIBaseURL      string
	APIAuthURL      string
	APIClientID     string
	APIClientSecret string
	APIToken        string
	APIUserAgent    string
	APIReferer      string

	// TokenSource is "http", "browser" or "static".
	TokenSource     string
	BrowserStartURL string
	ChromeBin       string

	MaxConcurrentRequests           int
	RateLimitBaseDelayMs            int
	RateLimitMaxDelayMs             int
	RateLimitMaxRetries             int
	TokenRefreshSafetyMarginSeconds int
	RequestsPerSecond               float64
	RequestTimeoutSeconds           int

	ListingWorkers       int
	ShutdownGraceSeconds int

	ExtractionRulesPath string

	// Sink is "postgres" or "csv".
	Sink             string
	CSVOutputPath    string
	ReportOutputPath string
	MetricsAddr      string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxAgeDays int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "collector"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "collector123"),
		PostgresDB:       getEnv("POSTGRES_DB", "land_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		APIBaseURL:      getEnv("API_BASE_URL", "https://new.land.naver.com/api"),
		APIAuthURL:      getEnv("API_AUTH_URL", ""),
		APIClientID:     getEnv("API_CLIENT_ID", ""),
		APIClientSecret: getEnv("API_CLIENT_SECRET", ""),
		APIToken:        getEnv("API_TOKEN", ""),
		APIUserAgent: getEnv("API_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		APIReferer: getEnv("API_REFERER", "https://new.land.naver.com/"),

		TokenSource:     getEnv("TOKEN_SOURCE", "http"),
		BrowserStartURL: getEnv("BROWSER_START_URL", "https://new.land.naver.com/complexes"),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		MaxConcurrentRequests:           getEnvInt("MAX_CONCURRENT_REQUESTS", 4),
		RateLimitBaseDelayMs:            getEnvInt("RATE_LIMIT_BASE_DELAY_MS", 1000),
		RateLimitMaxDelayMs:             getEnvInt("RATE_LIMIT_MAX_DELAY_MS", 30000),
		RateLimitMaxRetries:             getEnvInt("RATE_LIMIT_MAX_RETRIES", 4),
		TokenRefreshSafetyMarginSeconds: getEnvInt("TOKEN_REFRESH_SAFETY_MARGIN_SECONDS", 60),
		RequestsPerSecond:               getEnvFloat("REQUESTS_PER_SECOND", 2),
		RequestTimeoutSeconds:           getEnvInt("REQUEST_TIMEOUT_SECONDS", 20),

		ListingWorkers:       getEnvInt("LISTING_WORKERS", 3),
		ShutdownGraceSeconds: getEnvInt("SHUTDOWN_GRACE_SECONDS", 15),

		ExtractionRulesPath: getEnv("EXTRACTION_RULES_PATH", ""),

		Sink:             getEnv("SINK", "postgres"),
		CSVOutputPath:    getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
		ReportOutputPath: getEnv("REPORT_OUTPUT_PATH", "./output/report.csv"),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
	}
}

// Validate rejects settings the collector cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	if c.MaxConcurrentRequests < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_REQUESTS must be positive"))
	}
	if c.RateLimitBaseDelayMs < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_BASE_DELAY_MS must be positive"))
	}
	if c.RateLimitMaxRetries < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX_RETRIES must not be negative"))
	}
	if c.TokenRefreshSafetyMarginSeconds < 0 {
		errs = append(errs, errors.New("TOKEN_REFRESH_SAFETY_MARGIN_SECONDS must not be negative"))
	}
	if c.ListingWorkers < 1 {
		errs = append(errs, errors.New("LISTING_WORKERS must be positive"))
	}
	switch c.TokenSource {
	case "http":
		if c.APIAuthURL == "" {
			errs = append(errs, errors.New("API_AUTH_URL is required when TOKEN_SOURCE=http"))
		}
	case "static":
		if c.APIToken == "" {
			errs = append(errs, errors.New("API_TOKEN is required when TOKEN_SOURCE=static"))
		}
	case "browser":
	default:
		errs = append(errs, errors.New("TOKEN_SOURCE must be http, browser or static"))
	}
	switch c.Sink {
	case "postgres", "csv":
	default:
		errs = append(errs, errors.New("SINK must be postgres or csv"))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func (c *Config) RateLimitBaseDelay() time.Duration {
	return time.Duration(c.RateLimitBaseDelayMs) * time.Millisecond
}

func (c *Config) RateLimitMaxDelay() time.Duration {
	return time.Duration(c.RateLimitMaxDelayMs) * time.Millisecond
}

func (c *Config) TokenRefreshSafetyMargin() time.Duration {
	return time.Duration(c.TokenRefreshSafetyMarginSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
