package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the client
type Config struct {
	Service ServiceConfig
	Storage StorageConfig
	Wallet  WalletConfig
	Chain   ChainConfig
	Retry   RetryConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Server  ServerConfig
}

// ServiceConfig holds settings for the remote processing service
type ServiceConfig struct {
	URL            string
	Token          string
	Timeout        int // seconds
	RequestsPerMin int // 0 disables client-side limiting
	BurstSize      int
}

// StorageConfig holds durable storage configuration
type StorageConfig struct {
	Type         string // "sqlite" or "postgres"
	Postgres     PostgresConfig
	SQLite       SQLiteConfig
	ArtifactsDir string
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// WalletConfig holds wallet provider settings
type WalletConfig struct {
	RPCURL      string
	PollSeconds int
}

// ChainConfig holds ledger read settings
type ChainConfig struct {
	RPCURL             string // defaults to the wallet RPC URL
	ReceiptPollSeconds int
}

// RetryConfig holds the orchestrator retry policy for transient network failures
type RetryConfig struct {
	MaxRetries        int
	InitialIntervalMs int
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool
}

// ServerConfig holds the local API server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
	MaxUploadMB  int
	APIToken     string // empty leaves the API open
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			URL:            getEnv("PNGPROTECT_SERVICE_URL", "http://localhost:8000"),
			Token:          getEnv("PNGPROTECT_SERVICE_TOKEN", ""),
			Timeout:        getEnvInt("PNGPROTECT_SERVICE_TIMEOUT", 60),
			RequestsPerMin: getEnvInt("PNGPROTECT_SERVICE_RPM", 0),
			BurstSize:      getEnvInt("PNGPROTECT_SERVICE_BURST", 5),
		},
		Storage: StorageConfig{
			Type: getEnv("PNGPROTECT_STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("PNGPROTECT_DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("PNGPROTECT_SQLITE_PATH", defaultDataPath("pngprotect.db")),
			},
			ArtifactsDir: getEnv("PNGPROTECT_ARTIFACTS_DIR", defaultDataPath("artifacts")),
		},
		Wallet: WalletConfig{
			RPCURL:      getEnv("PNGPROTECT_WALLET_RPC_URL", "http://localhost:8545"),
			PollSeconds: getEnvInt("PNGPROTECT_WALLET_POLL_SECONDS", 2),
		},
		Chain: ChainConfig{
			RPCURL:             getEnv("PNGPROTECT_CHAIN_RPC_URL", ""),
			ReceiptPollSeconds: getEnvInt("PNGPROTECT_RECEIPT_POLL_SECONDS", 2),
		},
		Retry: RetryConfig{
			MaxRetries:        getEnvInt("PNGPROTECT_RETRY_MAX", 2),
			InitialIntervalMs: getEnvInt("PNGPROTECT_RETRY_INITIAL_MS", 500),
		},
		Logging: LoggingConfig{
			Level:  getEnv("PNGPROTECT_LOG_LEVEL", "info"),
			Format: getEnv("PNGPROTECT_LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("PNGPROTECT_METRICS_ENABLED", false),
		},
		Server: ServerConfig{
			Port:         getEnvInt("PNGPROTECT_PORT", 8090),
			Host:         getEnv("PNGPROTECT_HOST", "127.0.0.1"),
			ReadTimeout:  getEnvInt("PNGPROTECT_SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("PNGPROTECT_SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:  getEnvInt("PNGPROTECT_SERVER_IDLE_TIMEOUT", 120),
			MaxUploadMB:  getEnvInt("PNGPROTECT_MAX_UPLOAD_MB", 25),
			APIToken:     getEnv("PNGPROTECT_API_TOKEN", ""),
		},
	}

	// If a database URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = cfg.Wallet.RPCURL
	}

	return cfg, nil
}

// defaultDataPath places local state under ~/.pngprotect, or ./data when no home is available
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data/" + name
	}
	return home + "/.pngprotect/" + name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
