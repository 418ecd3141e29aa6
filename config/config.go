package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Live     LiveConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	WebhookToken       string // shared secret expected in X-Webhook-Token; empty disables the check
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/campus_live?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns        int
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the MediaLive / MediaPackage / S3 wiring.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	DestinationBucket    string // harvested manifests and segments land here
	MediaLiveRoleARN     string
	HarvestRoleARN       string
	EncoderSettingsPath  string // JSON document describing the MediaLive encoder settings
	ParameterPrefix      string // SSM prefix for packaging ingest passwords
	PresignExpireMinutes int
}

// LiveConfig holds the live lifecycle knobs shared by the API, worker and sweeps.
type LiveConfig struct {
	Environment          string
	MinSegmentDuration   time.Duration
	RetentionWindow      time.Duration
	WaiterMaxAttempts    int
	WaiterDelay          time.Duration
	SecurityGroupTag     string
	ManifestProbeTimeout time.Duration
	TranscodePipeline    string
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	PushgatewayURL string // batch sweeps push here when set
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			WebhookToken:       getEnv("WEBHOOK_TOKEN", ""),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "campus_live"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxConns:        getEnvInt("DB_MAX_CONNS", 0),
			ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),
			ConnectDelay:    getEnvDuration("DB_CONNECT_DELAY", 2*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			DestinationBucket:    getEnv("AWS_S3_DESTINATION_BUCKET", "campus-live-destination"),
			MediaLiveRoleARN:     getEnv("AWS_MEDIALIVE_ROLE_ARN", ""),
			HarvestRoleARN:       getEnv("AWS_MEDIAPACKAGE_HARVEST_ROLE_ARN", ""),
			EncoderSettingsPath:  getEnv("AWS_MEDIALIVE_ENCODER_SETTINGS", "config/encoder_settings.json"),
			ParameterPrefix:      getEnv("AWS_SSM_PARAMETER_PREFIX", "/campus-live/medialive"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Live: LiveConfig{
			Environment:          getEnv("ENVIRONMENT", "development"),
			MinSegmentDuration:   getEnvDuration("MIN_SEGMENT_DURATION", 10*time.Second),
			RetentionWindow:      getEnvDuration("RETENTION_WINDOW", 24*time.Hour),
			WaiterMaxAttempts:    getEnvInt("WAITER_MAX_ATTEMPTS", 20),
			WaiterDelay:          getEnvDuration("WAITER_DELAY", 5*time.Second),
			SecurityGroupTag:     getEnv("INPUT_SECURITY_GROUP_TAG", "liveops-sg"),
			ManifestProbeTimeout: getEnvDuration("MANIFEST_PROBE_TIMEOUT", 5*time.Second),
			TranscodePipeline:    getEnv("TRANSCODE_PIPELINE", "harvest"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	if err := cfg.Live.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c LiveConfig) validate() error {
	if strings.TrimSpace(c.Environment) == "" {
		return fmt.Errorf("ENVIRONMENT must not be blank")
	}
	if c.WaiterMaxAttempts <= 0 {
		return fmt.Errorf("WAITER_MAX_ATTEMPTS must be positive, got %d", c.WaiterMaxAttempts)
	}
	if c.RetentionWindow <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive, got %s", c.RetentionWindow)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
