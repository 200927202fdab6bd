package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	HTTP           HTTPConfig
	GRPC           GRPCConfig
	InternalAPIKey string
	MySQL          MySQLConfig
	JWT            JWTConfig
	Session        SessionConfig
	BcryptCost     int `validate:"gte=4,lte=31"`
	PasswordPolicy PasswordPolicy
	Mail           MailConfig
	Log            LogConfig
	Telemetry      TelemetryConfig
}

type HTTPConfig struct {
	Host           string
	Port           string   `validate:"required,numeric"`
	RateLimit      float64  `validate:"gte=0"`
	AllowedOrigins []string `validate:"dive,url"`
}

type GRPCConfig struct {
	Host string
	Port string `validate:"required,numeric"`
}

type MySQLConfig struct {
	DSN             string        `validate:"required"`
	PoolSize        int           `validate:"gte=1"`
	MaxOverflow     int           `validate:"gte=0"`
	PoolTimeout     time.Duration `validate:"gt=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
}

type JWTConfig struct {
	Secret     string        `validate:"required"`
	SessionTTL time.Duration `validate:"gt=0"`
}

type SessionConfig struct {
	CookieName   string `validate:"required"`
	CookieSecure bool
}

type MailConfig struct {
	Server        string
	Port          int `validate:"gte=1,lte=65535"`
	Username      string
	Password      string
	From          string
	StartTLS      bool
	SSLTLS        bool
	ValidateCerts bool
	Timeout       time.Duration `validate:"gt=0"`
	DomainName    string        `validate:"required"`
	ResetPassURL  string
}

type LogConfig struct {
	Level  string `validate:"required,oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"required,oneof=json text"`
}

type TelemetryConfig struct {
	CollectorAddr string
	ServiceName   string `validate:"required"`
}

type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasNumber = true
		case unicode.IsPunct(ch) || unicode.IsSymbol(ch):
			hasSpecial = true
		}
	}

	var missing []string
	if p.RequireUppercase && !hasUpper {
		missing = append(missing, "uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		missing = append(missing, "lowercase letter")
	}
	if p.RequireNumber && !hasNumber {
		missing = append(missing, "number")
	}
	if p.RequireSpecial && !hasSpecial {
		missing = append(missing, "special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least one: %s", strings.Join(missing, ", "))
	}

	return nil
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	smtpUsername := os.Getenv("SMTP_USERNAME")
	domainName := getEnv("DOMAIN_NAME", "http://localhost:3000")

	cfg := &Config{
		HTTP: HTTPConfig{
			Host:           os.Getenv("HTTP_HOST"),
			Port:           getEnv("HTTP_PORT", "8080"),
			RateLimit:      getFloatEnv("HTTP_RATE_LIMIT", 0),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{strings.TrimRight(domainName, "/")}),
		},
		GRPC: GRPCConfig{
			Host: os.Getenv("GRPC_HOST"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		InternalAPIKey: os.Getenv("INTERNAL_API_KEY"),
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			PoolSize:        getIntEnv("MYSQL_POOL_SIZE", 10),
			MaxOverflow:     getIntEnv("MYSQL_MAX_OVERFLOW", 20),
			PoolTimeout:     getSecondsEnv("MYSQL_POOL_TIMEOUT", 30*time.Second),
			ConnMaxLifetime: getDurationEnv("MYSQL_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		JWT: JWTConfig{
			Secret:     jwtSecret,
			SessionTTL: getDurationEnv("JWT_SESSION_TTL", 180*time.Minute),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "access_token"),
			CookieSecure: getBoolEnv("SESSION_COOKIE_SECURE", false),
		},
		BcryptCost:     getIntEnv("BCRYPT_COST", bcrypt.DefaultCost),
		PasswordPolicy: loadPasswordPolicy(),
		Mail: MailConfig{
			Server:        os.Getenv("SMTP_SERVER"),
			Port:          getIntEnv("SMTP_PORT", 587),
			Username:      smtpUsername,
			Password:      os.Getenv("SMTP_PASSWORD"),
			From:          getEnv("SMTP_FROM", smtpUsername),
			StartTLS:      getBoolEnv("MAIL_STARTTLS", true),
			SSLTLS:        getBoolEnv("MAIL_SSL_TLS", false),
			ValidateCerts: getBoolEnv("VALIDATE_CERTS", true),
			Timeout:       getSecondsEnv("MAIL_TIMEOUT", 15*time.Second),
			DomainName:    domainName,
			ResetPassURL:  getEnv("RESET_PASS_URL", "reset-password?token="),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Telemetry: TelemetryConfig{
			CollectorAddr: os.Getenv("OTEL_COLLECTOR_ADDR"),
			ServiceName:   getEnv("OTEL_SERVICE_NAME", "ms-go-accounts"),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) DSN() string {
	return c.MySQL.DSN
}

// MaxOpenConns is the hard cap on open store connections: the idle pool plus its overflow.
func (c MySQLConfig) MaxOpenConns() int {
	return c.PoolSize + c.MaxOverflow
}

// ResetLink builds the link mailed to a user for the given reset token.
func (c MailConfig) ResetLink(token string) string {
	return strings.TrimRight(c.DomainName, "/") + "/" + c.ResetPassURL + token
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getListEnv reads a comma separated list, dropping blank entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func loadPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        getIntEnv("PASSWORD_MIN_LENGTH", 1),
		RequireUppercase: getBoolEnv("PASSWORD_REQUIRE_UPPERCASE", false),
		RequireLowercase: getBoolEnv("PASSWORD_REQUIRE_LOWERCASE", false),
		RequireNumber:    getBoolEnv("PASSWORD_REQUIRE_NUMBER", false),
		RequireSpecial:   getBoolEnv("PASSWORD_REQUIRE_SPECIAL", false),
	}
}
