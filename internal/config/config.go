package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `json:"server" toml:"server"`
	Database  DatabaseConfig  `json:"database" toml:"database"`
	Redis     RedisConfig     `json:"redis" toml:"redis"`
	Worker    WorkerConfig    `json:"worker" toml:"worker"`
	Auth      AuthConfig      `json:"auth" toml:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit" toml:"rate_limit"`
	Realtime  RealtimeConfig  `json:"realtime" toml:"realtime"`
	Blob      BlobConfig      `json:"blob" toml:"blob"`
	Cache     CacheConfig     `json:"cache" toml:"cache"`
	Log       LogConfig       `json:"log" toml:"log"`
}

type ServerConfig struct {
	Host           string        `json:"host" toml:"host"`
	Port           string        `json:"port" toml:"port"`
	ReadTimeout    time.Duration `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" toml:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout" toml:"idle_timeout"`
	Environment    string        `json:"environment" toml:"environment"`
	AllowedOrigins []string      `json:"allowed_origins" toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `json:"driver" toml:"driver"`
	Host            string        `json:"host" toml:"host"`
	Port            string        `json:"port" toml:"port"`
	User            string        `json:"user" toml:"user"`
	Password        string        `json:"password" toml:"password"`
	Name            string        `json:"name" toml:"name"`
	SSLMode         string        `json:"ssl_mode" toml:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path" toml:"sqlite_path"`
	MaxOpenConns    int           `json:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" toml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled      bool          `json:"enabled" toml:"enabled"`
	Host         string        `json:"host" toml:"host"`
	Port         string        `json:"port" toml:"port"`
	Password     string        `json:"password" toml:"password"`
	DB           int           `json:"db" toml:"db"`
	PoolSize     int           `json:"pool_size" toml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" toml:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries" toml:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout" toml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" toml:"write_timeout"`
}

type WorkerConfig struct {
	Concurrency  int           `json:"concurrency" toml:"concurrency"`
	PollInterval time.Duration `json:"poll_interval" toml:"poll_interval"`
	Queues       []string      `json:"queues" toml:"queues"`
	MaxTries     int           `json:"max_tries" toml:"max_tries"`
}

type AuthConfig struct {
	JWTSecret       string        `json:"jwt_secret" toml:"jwt_secret"`
	Issuer          string        `json:"issuer" toml:"issuer"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl" toml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl" toml:"refresh_token_ttl"`
	BCryptCost      int           `json:"bcrypt_cost" toml:"bcrypt_cost"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled" toml:"enabled"`
	RequestsPerMin  int           `json:"requests_per_minute" toml:"requests_per_minute"`
	BurstSize       int           `json:"burst_size" toml:"burst_size"`
	CleanupInterval time.Duration `json:"cleanup_interval" toml:"cleanup_interval"`
}

type RealtimeConfig struct {
	WriteWait      time.Duration `json:"write_wait" toml:"write_wait"`
	PongWait       time.Duration `json:"pong_wait" toml:"pong_wait"`
	MaxMessageSize int64         `json:"max_message_size" toml:"max_message_size"`
	SendBuffer     int           `json:"send_buffer" toml:"send_buffer"`
	RelayChannel   string        `json:"relay_channel" toml:"relay_channel"`
}

type BlobConfig struct {
	Dir               string   `json:"dir" toml:"dir"`
	BaseURL           string   `json:"base_url" toml:"base_url"`
	MaxFileSize       int64    `json:"max_file_size" toml:"max_file_size"`
	MaxFiles          int      `json:"max_files" toml:"max_files"`
	AllowedExtensions []string `json:"allowed_extensions" toml:"allowed_extensions"`
}

type CacheConfig struct {
	Enabled bool          `json:"enabled" toml:"enabled"`
	ListTTL time.Duration `json:"list_ttl" toml:"list_ttl"`
}

type LogConfig struct {
	Level     string `json:"level" toml:"level"`
	Format    string `json:"format" toml:"format"`
	Timestamp bool   `json:"timestamp" toml:"timestamp"`
	Caller    bool   `json:"caller" toml:"caller"`
}

// LoadConfig builds the configuration from defaults, an optional TOML file
// named by CONFIG_FILE, and environment variables, in that order.
func LoadConfig() (*Config, error) {
	config := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	applyEnv(config)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           "8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:5174", "http://localhost:5175"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Name:            "todo_tracker",
			SSLMode:         "disable",
			SQLitePath:      "todo_tracker.db",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         "6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 5,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			PollInterval: 5 * time.Second,
			Queues:       []string{"default", "retry_queue"},
			MaxTries:     3,
		},
		Auth: AuthConfig{
			JWTSecret:       "your-secret-key",
			Issuer:          "todo-tracker",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			BCryptCost:      10,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RequestsPerMin:  300,
			BurstSize:       30,
			CleanupInterval: 10 * time.Minute,
		},
		Realtime: RealtimeConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 4096,
			SendBuffer:     64,
			RelayChannel:   "todo-events",
		},
		Blob: BlobConfig{
			Dir:               "uploads",
			BaseURL:           "/uploads",
			MaxFileSize:       5 * 1024 * 1024,
			MaxFiles:          5,
			AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".pdf"},
		},
		Cache: CacheConfig{
			Enabled: true,
			ListTTL: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			Timestamp: true,
		},
	}
}

func applyEnv(c *Config) {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvAsDuration("IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.Environment = getEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.AllowedOrigins = getEnvAsSlice("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime)

	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.MinIdleConns = getEnvAsInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.MaxRetries = getEnvAsInt("REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.DialTimeout = getEnvAsDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getEnvAsDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getEnvAsDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)

	c.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.PollInterval = getEnvAsDuration("WORKER_POLL_INTERVAL", c.Worker.PollInterval)
	c.Worker.MaxTries = getEnvAsInt("WORKER_MAX_TRIES", c.Worker.MaxTries)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.AccessTokenTTL = getEnvAsDuration("ACCESS_TOKEN_TTL", c.Auth.AccessTokenTTL)
	c.Auth.RefreshTokenTTL = getEnvAsDuration("REFRESH_TOKEN_TTL", c.Auth.RefreshTokenTTL)
	c.Auth.BCryptCost = getEnvAsInt("BCRYPT_COST", c.Auth.BCryptCost)

	c.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMin = getEnvAsInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMin)
	c.RateLimit.BurstSize = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)
	c.RateLimit.CleanupInterval = getEnvAsDuration("RATE_LIMIT_CLEANUP", c.RateLimit.CleanupInterval)

	c.Realtime.WriteWait = getEnvAsDuration("WS_WRITE_WAIT", c.Realtime.WriteWait)
	c.Realtime.PongWait = getEnvAsDuration("WS_PONG_WAIT", c.Realtime.PongWait)
	c.Realtime.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(c.Realtime.MaxMessageSize)))
	c.Realtime.SendBuffer = getEnvAsInt("WS_SEND_BUFFER", c.Realtime.SendBuffer)
	c.Realtime.RelayChannel = getEnv("WS_RELAY_CHANNEL", c.Realtime.RelayChannel)

	c.Blob.Dir = getEnv("UPLOAD_DIR", c.Blob.Dir)
	c.Blob.BaseURL = getEnv("UPLOAD_BASE_URL", c.Blob.BaseURL)
	c.Blob.MaxFileSize = int64(getEnvAsInt("UPLOAD_MAX_FILE_SIZE", int(c.Blob.MaxFileSize)))
	c.Blob.MaxFiles = getEnvAsInt("UPLOAD_MAX_FILES", c.Blob.MaxFiles)
	c.Blob.AllowedExtensions = getEnvAsSlice("UPLOAD_ALLOWED_EXTENSIONS", c.Blob.AllowedExtensions)

	c.Cache.Enabled = getEnvAsBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.ListTTL = getEnvAsDuration("CACHE_LIST_TTL", c.Cache.ListTTL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Timestamp = getEnvAsBool("LOG_TIMESTAMP", c.Log.Timestamp)
	c.Log.Caller = getEnvAsBool("LOG_CALLER", c.Log.Caller)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.IsProduction() {
		return fmt.Errorf("database password is required in production")
	}

	if c.Auth.JWTSecret == "your-secret-key" && c.IsProduction() {
		return fmt.Errorf("JWT secret must be set in production")
	}

	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime send buffer must be positive, got %d", c.Realtime.SendBuffer)
	}

	return nil
}

func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSlice splits a comma separated value, dropping empty entries.
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
