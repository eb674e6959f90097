package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Security  SecurityConfig  `mapstructure:"security"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds database configuration.
// Driver selects the task store backend: postgres, firestore or memory.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// FirestoreConfig holds Firestore configuration
type FirestoreConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelegramConfig holds messaging transport configuration
type TelegramConfig struct {
	BotToken        string        `mapstructure:"bot_token"`
	APIURL          string        `mapstructure:"api_url"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// LLMConfig holds language model configuration
type LLMConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	APIKey        string        `mapstructure:"api_key"`
	Project       string        `mapstructure:"project"`
	Location      string        `mapstructure:"location"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
}

// ScannerConfig holds due-task scanner configuration
type ScannerConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
	OverdueGrace time.Duration `mapstructure:"overdue_grace"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// MemoryConfig holds conversation window configuration
type MemoryConfig struct {
	MaxTurns        int `mapstructure:"max_turns"`
	MaxTokens       int `mapstructure:"max_tokens"`
	SummaryMaxChars int `mapstructure:"summary_max_chars"`
}

// DedupConfig holds inbound event deduplication configuration
type DedupConfig struct {
	Backend string        `mapstructure:"backend"`
	Window  time.Duration `mapstructure:"window"`
}

// AssistantConfig holds conversational defaults
type AssistantConfig struct {
	DefaultTimezone string `mapstructure:"default_timezone"`
	Persona         string `mapstructure:"persona"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

// AuthConfig holds admin credentials for the trigger API
type AuthConfig struct {
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from various sources
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "Telemind")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.request_timeout", "25s")

	// Database defaults
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "telemind")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.conn_max_idle_time", "30s")
	viper.SetDefault("database.migrations_path", "migrations")

	// Firestore defaults
	viper.SetDefault("firestore.project_id", "")
	viper.SetDefault("firestore.collection", "telemind")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Telegram defaults
	viper.SetDefault("telegram.api_url", "https://api.telegram.org")
	viper.SetDefault("telegram.delivery_timeout", "10s")
	viper.SetDefault("telegram.rate_limit", 25)
	viper.SetDefault("telegram.rate_burst", 5)

	// LLM defaults
	viper.SetDefault("llm.provider", "none")
	viper.SetDefault("llm.model", "gemini-2.5-flash")
	viper.SetDefault("llm.timeout", "20s")
	viper.SetDefault("llm.min_confidence", 0.6)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 1024)

	// Scanner defaults
	viper.SetDefault("scanner.max_attempts", 5)
	viper.SetDefault("scanner.backoff_base", "30s")
	viper.SetDefault("scanner.backoff_max", "30m")
	viper.SetDefault("scanner.claim_timeout", "2m")
	viper.SetDefault("scanner.overdue_grace", "10m")
	viper.SetDefault("scanner.batch_size", 100)

	// Memory defaults
	viper.SetDefault("memory.max_turns", 20)
	viper.SetDefault("memory.max_tokens", 2000)
	viper.SetDefault("memory.summary_max_chars", 1200)

	// Dedup defaults
	viper.SetDefault("dedup.backend", "postgres")
	viper.SetDefault("dedup.window", "24h")

	// Assistant defaults
	viper.SetDefault("assistant.default_timezone", "UTC")
	viper.SetDefault("assistant.persona", "You are Telemind, a concise personal assistant that helps with tasks, reminders and notes.")

	// JWT defaults
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.expires_in", "24h")
	viper.SetDefault("jwt.issuer", "telemind-api")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")

	// Security defaults
	viper.SetDefault("security.cors_allowed_origins", "*")
	viper.SetDefault("security.rate_limit_requests", 100)
	viper.SetDefault("security.rate_limit_window", "1m")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
}

func bindEnvVars() {
	// App
	viper.BindEnv("app.name", "APP_NAME")
	viper.BindEnv("app.version", "APP_VERSION")
	viper.BindEnv("app.environment", "APP_ENVIRONMENT")
	viper.BindEnv("app.debug", "APP_DEBUG")

	// Server
	viper.BindEnv("server.port", "SERVER_PORT", "PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")
	viper.BindEnv("server.request_timeout", "SERVER_REQUEST_TIMEOUT")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.name", "DB_NAME")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.ssl_mode", "DB_SSL_MODE")
	viper.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	viper.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	viper.BindEnv("database.conn_max_idle_time", "DB_CONN_MAX_IDLE_TIME")
	viper.BindEnv("database.migrations_path", "DB_MIGRATIONS_PATH")

	// Firestore
	viper.BindEnv("firestore.project_id", "FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	viper.BindEnv("firestore.collection", "FIRESTORE_COLLECTION")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	// Telegram
	viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("telegram.api_url", "TELEGRAM_API_URL")
	viper.BindEnv("telegram.webhook_secret", "TELEGRAM_WEBHOOK_SECRET")
	viper.BindEnv("telegram.delivery_timeout", "TELEGRAM_DELIVERY_TIMEOUT")
	viper.BindEnv("telegram.rate_limit", "TELEGRAM_RATE_LIMIT")
	viper.BindEnv("telegram.rate_burst", "TELEGRAM_RATE_BURST")

	// LLM
	viper.BindEnv("llm.provider", "LLM_PROVIDER")
	viper.BindEnv("llm.model", "LLM_MODEL")
	viper.BindEnv("llm.api_key", "LLM_API_KEY", "GEMINI_API_KEY")
	viper.BindEnv("llm.project", "LLM_PROJECT")
	viper.BindEnv("llm.location", "LLM_LOCATION")
	viper.BindEnv("llm.timeout", "LLM_TIMEOUT")
	viper.BindEnv("llm.min_confidence", "LLM_MIN_CONFIDENCE")
	viper.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	viper.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")

	// Scanner
	viper.BindEnv("scanner.max_attempts", "SCANNER_MAX_ATTEMPTS")
	viper.BindEnv("scanner.backoff_base", "SCANNER_BACKOFF_BASE")
	viper.BindEnv("scanner.backoff_max", "SCANNER_BACKOFF_MAX")
	viper.BindEnv("scanner.claim_timeout", "SCANNER_CLAIM_TIMEOUT")
	viper.BindEnv("scanner.overdue_grace", "SCANNER_OVERDUE_GRACE")
	viper.BindEnv("scanner.batch_size", "SCANNER_BATCH_SIZE")

	// Memory
	viper.BindEnv("memory.max_turns", "MEMORY_MAX_TURNS")
	viper.BindEnv("memory.max_tokens", "MEMORY_MAX_TOKENS")
	viper.BindEnv("memory.summary_max_chars", "MEMORY_SUMMARY_MAX_CHARS")

	// Dedup
	viper.BindEnv("dedup.backend", "DEDUP_BACKEND")
	viper.BindEnv("dedup.window", "DEDUP_WINDOW")

	// Assistant
	viper.BindEnv("assistant.default_timezone", "DEFAULT_TIMEZONE")
	viper.BindEnv("assistant.persona", "ASSISTANT_PERSONA")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("jwt.expires_in", "JWT_EXPIRES_IN")
	viper.BindEnv("jwt.issuer", "JWT_ISSUER")

	// Auth
	viper.BindEnv("auth.admin_password_hash", "ADMIN_PASSWORD_HASH")

	// Logger
	viper.BindEnv("logger.level", "LOG_LEVEL")
	viper.BindEnv("logger.format", "LOG_FORMAT")
	viper.BindEnv("logger.output", "LOG_OUTPUT")
	viper.BindEnv("logger.filename", "LOG_FILENAME")

	// Security
	viper.BindEnv("security.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("security.rate_limit_requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("security.rate_limit_window", "RATE_LIMIT_WINDOW")

	// Metrics
	viper.BindEnv("metrics.enabled", "ENABLE_METRICS")
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore project id is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Dedup.Backend {
	case "redis", "memory":
	case "postgres", "firestore":
		if cfg.Database.Driver != cfg.Dedup.Backend {
			return fmt.Errorf("%s dedup backend requires the %s database driver", cfg.Dedup.Backend, cfg.Dedup.Backend)
		}
	default:
		return fmt.Errorf("unsupported dedup backend %q", cfg.Dedup.Backend)
	}

	switch cfg.LLM.Provider {
	case "none", "genai", "vertex":
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}

	if _, err := time.LoadLocation(cfg.Assistant.DefaultTimezone); err != nil {
		return fmt.Errorf("default timezone: %w", err)
	}

	if cfg.Scanner.MaxAttempts < 1 {
		return fmt.Errorf("scanner max attempts must be at least 1")
	}

	// A claim younger than one delivery round trip may still be in flight.
	if cfg.Scanner.ClaimTimeout <= cfg.Telegram.DeliveryTimeout {
		return fmt.Errorf("scanner claim timeout (%s) must exceed telegram delivery timeout (%s)",
			cfg.Scanner.ClaimTimeout, cfg.Telegram.DeliveryTimeout)
	}

	if cfg.Memory.MaxTurns < 2 {
		return fmt.Errorf("memory max turns must be at least 2")
	}

	if cfg.Memory.SummaryMaxChars <= 0 || cfg.Memory.MaxTokens <= cfg.Memory.SummaryMaxChars/4 {
		return fmt.Errorf("memory max tokens must leave room for a summary of %d characters", cfg.Memory.SummaryMaxChars)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	return nil
}

// GetDSN returns the database connection string
func (cfg *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// GetAddr returns the Redis address
func (cfg *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// IsDevelopment returns true if the environment is development
func (cfg *AppConfig) IsDevelopment() bool {
	return cfg.Environment == "development"
}

// IsProduction returns true if the environment is production
func (cfg *AppConfig) IsProduction() bool {
	return cfg.Environment == "production"
}
