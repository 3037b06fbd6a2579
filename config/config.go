package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config is the full application configuration, read once at startup.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Session   SessionConfig
	OTP       OTPConfig
	Mail      MailConfig
	Google    GoogleConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Realtime  RealtimeConfig
	Turn      TurnConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	PublicBaseURL string
	StaticDir     string
}

type DBConfig struct {
	Driver          string // sqlite or postgres
	File            string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

type OTPConfig struct {
	TTL             time.Duration
	SendPerMinute   uint
	ChangePerMinute uint
	// VerifyPerMinute caps code submissions per IP across login and email change.
	VerifyPerMinute uint
}

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type GoogleConfig struct {
	ClientID string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	PerSecond uint
}

type RealtimeConfig struct {
	SendQueueSize int
	ReadLimit     int64
}

type TurnConfig struct {
	URLs     []string
	StunURLs []string
	Secret   string
	TTL      time.Duration
}

type LogConfig struct {
	Level string
}

func defaultAllowedOrigins() []string {
	return []string{
		"http://localhost:5173",
		"http://127.0.0.1:5173",
		"http://localhost:8000",
		"http://127.0.0.1:8000",
	}
}

// Load reads configuration from the environment, after applying a .env file if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using process environment")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", ":8000"),
			Env:           getEnv("APP_ENV", "development"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8000"), "/"),
			StaticDir:     getEnv("STATIC_DIR", ""),
		},
		DB: DBConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			File:            getEnv("DB_FILE", "teamspace.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "teamspace"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			LogLevel:        getEnv("DB_LOG_LEVEL", "warn"),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", ""),
			TTL:    getEnvAsDuration("SESSION_TTL", 672*time.Hour), // 28 days
		},
		OTP: OTPConfig{
			TTL:             getEnvAsDuration("OTP_TTL", 10*time.Minute),
			SendPerMinute:   uint(getEnvAsInt("OTP_SEND_PER_MINUTE", 5)),
			ChangePerMinute: uint(getEnvAsInt("OTP_CHANGE_PER_MINUTE", 3)),
			VerifyPerMinute: uint(getEnvAsInt("OTP_VERIFY_PER_MINUTE", 10)),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("EMAIL", ""),
			Password: getEnv("EMAIL_PASSWORD", ""),
			From:     getEnv("EMAIL_FROM", getEnv("EMAIL", "")),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", defaultAllowedOrigins()),
		},
		RateLimit: RateLimitConfig{
			PerSecond: uint(getEnvAsInt("RATE_LIMIT_PER_SECOND", 100)),
		},
		Realtime: RealtimeConfig{
			SendQueueSize: getEnvAsInt("WS_SEND_QUEUE", 64),
			ReadLimit:     int64(getEnvAsInt("WS_READ_LIMIT", 64*1024)),
		},
		Turn: TurnConfig{
			URLs:     getEnvAsList("TURN_URL", nil),
			StunURLs: getEnvAsList("STUN_URL", []string{"stun:stun.l.google.com:19302"}),
			Secret:   getEnv("TURN_SECRET", ""),
			TTL:      getEnvAsDuration("TURN_TTL", 8*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver)
	}
	if c.Session.Secret == "" {
		if c.IsProduction() {
			return fmt.Errorf("SESSION_SECRET must be set in production")
		}
		c.Session.Secret = "dev-session-secret"
	}
	if c.OTP.SendPerMinute == 0 {
		c.OTP.SendPerMinute = 1
	}
	if c.OTP.ChangePerMinute == 0 {
		c.OTP.ChangePerMinute = 1
	}
	if c.OTP.VerifyPerMinute == 0 {
		c.OTP.VerifyPerMinute = 1
	}
	if c.Realtime.SendQueueSize <= 0 {
		c.Realtime.SendQueueSize = 64
	}
	return nil
}

// PostgresDSN builds the DSN used when DB_DRIVER=postgres.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// LogFields returns the non-secret settings for the startup log line.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("port", c.Server.Port),
		zap.String("env", c.Server.Env),
		zap.String("db_driver", c.DB.Driver),
		zap.Bool("smtp_configured", c.Mail.Host != ""),
		zap.Bool("google_configured", c.Google.ClientID != ""),
		zap.Bool("turn_configured", len(c.Turn.URLs) > 0 && c.Turn.Secret != ""),
		zap.Strings("allowed_origins", c.CORS.AllowedOrigins),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
