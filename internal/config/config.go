package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	localBaseURL      = "http://localhost:8001"
	stagingBaseURL    = "https://staging-api.omie-tenant-manager.com"
	productionBaseURL = "https://api.omie-tenant-manager.com"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Session       SessionConfig
	API           APIConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Mock          MockConfig
}

// ServerConfig only applies to the mock backend in cmd/server.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLS is served when both files are set.
	CertFile string
	KeyFile  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type SessionConfig struct {
	Timeout          time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	AttemptWindow    time.Duration
	TokenBytes       int
	// Sealing is "none" or "aead".
	Sealing          string
	LedgerBackend    string // "store" or "redis"
	TabBroadcast     string // "memory" or "redis"
	DevtoolsInterval time.Duration
	IdentityHashKey  string
}

type APIConfig struct {
	BaseURL       string
	AppHost       string
	Timeout       time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	CacheTTL      time.Duration
	ProbeInterval time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type MockConfig struct {
	SeedData     bool
	DemoEmail    string
	DemoPassword string
}

var mu sync.Mutex

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	mu.Lock()
	defer mu.Unlock()

	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8001),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Session: SessionConfig{
			Timeout:          getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
			MaxLoginAttempts: getEnvInt("SESSION_MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:  getEnvDuration("SESSION_LOCKOUT_DURATION", 15*time.Minute),
			AttemptWindow:    getEnvDuration("SESSION_ATTEMPT_WINDOW", time.Hour),
			TokenBytes:       getEnvInt("SESSION_TOKEN_BYTES", 32),
			Sealing:          getEnv("SESSION_SEALING", "none"),
			LedgerBackend:    getEnv("SESSION_LEDGER_BACKEND", "store"),
			TabBroadcast:     getEnv("SESSION_TAB_BROADCAST", "memory"),
			DevtoolsInterval: getEnvDuration("SESSION_DEVTOOLS_INTERVAL", time.Second),
			IdentityHashKey:  getEnv("SESSION_IDENTITY_HASH_KEY", ""),
		},
		API: APIConfig{
			BaseURL:       getEnv("API_BASE_URL", ""),
			AppHost:       getEnv("APP_HOST", "localhost"),
			Timeout:       getEnvDuration("API_TIMEOUT", 30*time.Second),
			RetryAttempts: getEnvInt("API_RETRY_ATTEMPTS", 3),
			RetryBase:     getEnvDuration("API_RETRY_BASE", time.Second),
			CacheTTL:      getEnvDuration("API_CACHE_TTL", 5*time.Minute),
			ProbeInterval: getEnvDuration("API_PROBE_INTERVAL", 0),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
			Prefix:   getEnv("REDIS_PREFIX", "tenant-console:"),
		},
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("KAFKA_ENABLED", false),
			Brokers:    getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Mock: MockConfig{
			SeedData:     getEnvBool("MOCK_SEED_DATA", true),
			DemoEmail:    getEnv("MOCK_DEMO_EMAIL", "admin@omie.com.br"),
			DemoPassword: getEnv("MOCK_DEMO_PASSWORD", "Admin@123"),
		},
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// APIBaseURL returns the explicit API_BASE_URL or one derived from the host
// the console is served from.
func (c *Config) APIBaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return BaseURLForHost(c.API.AppHost)
}

func BaseURLForHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1":
		return localBaseURL
	case strings.Contains(host, "staging"):
		return stagingBaseURL
	default:
		return productionBaseURL
	}
}

func (c *Config) TLSEnabled() bool {
	return c.Server.CertFile != "" && c.Server.KeyFile != ""
}

func (c *Config) GetServerAddress() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
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
