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
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Token     TokenConfig
	Checkin   CheckinConfig
	AWS       AWSConfig
	Razorpay  RazorpayConfig
	Reconcile ReconcileConfig
	Email     EmailConfig
	Admin     AdminConfig
	LogLevel  string
}

// RazorpayConfig holds gateway API credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Enabled reports whether API credentials are present.
func (c RazorpayConfig) Enabled() bool {
	return c.KeyID != "" && c.KeySecret != ""
}

// ReconcileConfig controls the payment reconciliation scheduler.
type ReconcileConfig struct {
	Interval       time.Duration
	Window         time.Duration
	DefaultEventID int64
	Marker         string   // description set by the intake form
	MetadataKeys   []string // any of these in the notes marks a transaction as ours
	PageSize       int
	RunLockTTL     time.Duration
	Disabled       bool
}

// EmailConfig for SMTP delivery of entry codes.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// Enabled reports whether an SMTP host is configured.
func (c EmailConfig) Enabled() bool {
	return c.SMTPHost != ""
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	InlineWorker       bool   // run the delivery worker inside the API process
}

// AllowedOrigins returns CORSAllowedOrigins as a list.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/qrflow?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds operator session signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// TokenConfig holds the check-in token signing key.
type TokenConfig struct {
	Secret string
}

// CheckinConfig controls how admission outcomes are presented.
type CheckinConfig struct {
	Timezone string
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c CheckinConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AWSConfig holds AWS credentials and the bucket used to archive rendered codes.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	CodesBucket     string
	PresignMinutes  int
}

// AdminConfig bootstraps the first admin operator.
type AdminConfig struct {
	Username string
	Password string
	Email    string
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

	jwtSecret := getEnv("JWT_SECRET", "change-me-in-production")
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			InlineWorker:       getEnvBool("INLINE_WORKER", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "qrflow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      jwtSecret,
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Token: TokenConfig{
			Secret: getEnv("CHECKIN_TOKEN_SECRET", jwtSecret),
		},
		Checkin: CheckinConfig{
			Timezone: getEnv("TIMEZONE", "Asia/Kolkata"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "ap-south-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			CodesBucket:     getEnv("AWS_S3_CODES_BUCKET", ""),
			PresignMinutes:  getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60*24),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		},
		Reconcile: ReconcileConfig{
			Interval:       getEnvDuration("RECONCILE_INTERVAL", 30*time.Minute),
			Window:         getEnvDuration("RECONCILE_WINDOW", 24*time.Hour),
			DefaultEventID: int64(getEnvInt("RECONCILE_DEFAULT_EVENT_ID", 1)),
			Marker:         getEnv("RECONCILE_MARKER", "QRv2 Payment"),
			MetadataKeys:   splitTrim(getEnv("RECONCILE_METADATA_KEYS", "name,phone,roll_number,department,college_name"), ","),
			PageSize:       getEnvInt("RECONCILE_PAGE_SIZE", 100),
			RunLockTTL:     getEnvDuration("RECONCILE_LOCK_TTL", 10*time.Minute),
			Disabled:       getEnvBool("RECONCILE_DISABLED", false),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "QR Flow"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Email:    getEnv("ADMIN_EMAIL", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Reconcile.Interval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if cfg.Reconcile.PageSize <= 0 || cfg.Reconcile.PageSize > 100 {
		cfg.Reconcile.PageSize = 100
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30m") or a bare number of minutes.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
