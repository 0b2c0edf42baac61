package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"
)

const minTokenSecretLength = 32

// Config captures environment driven configuration values for the attendance service.
type Config struct {
	HTTPPort int
	LogLevel slog.Level

	Storage       string
	SQLiteDSN     string
	MongoURI      string
	MongoDatabase string

	TokenSecret   string
	TokenTTL      time.Duration
	CookieHashKey string
	SecureCookies bool

	Location     *time.Location
	UpcomingDays int

	RedisAddr    string
	RedisChannel string

	PublicURL          string
	AfterSignInURL     string
	GoogleClientID     string
	GoogleClientSecret string
	AllowedOrigins     []string
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// Load reads a .env file from the working directory when one exists and then
// parses configuration values from the process environment. Variables already
// set in the environment take precedence over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Every missing or invalid key is
// collected so a single error names all of them.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:      8080,
		LogLevel:      slog.LevelInfo,
		Storage:       StorageSQLite,
		SQLiteDSN:     "file:attendance.db",
		MongoDatabase: "attendance",
		TokenTTL:      24 * time.Hour,
		Location:      time.UTC,
		UpcomingDays:  7,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)

	if portValue := env("ATTENDANCE_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "ATTENDANCE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if levelValue := env("ATTENDANCE_LOG_LEVEL"); levelValue != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, "ATTENDANCE_LOG_LEVEL")
		}
	}

	if storage := strings.ToLower(env("ATTENDANCE_STORAGE")); storage != "" {
		switch storage {
		case StorageSQLite, StorageMongo:
			cfg.Storage = storage
		default:
			invalid = append(invalid, "ATTENDANCE_STORAGE")
		}
	}

	if dsn := env("ATTENDANCE_SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	cfg.MongoURI = env("ATTENDANCE_MONGO_URI")
	if cfg.Storage == StorageMongo && cfg.MongoURI == "" {
		missing = append(missing, "ATTENDANCE_MONGO_URI")
	}
	if database := env("ATTENDANCE_MONGO_DATABASE"); database != "" {
		cfg.MongoDatabase = database
	}

	switch secret := env("ATTENDANCE_TOKEN_SECRET"); {
	case secret == "":
		missing = append(missing, "ATTENDANCE_TOKEN_SECRET")
	case len(secret) < minTokenSecretLength:
		invalid = append(invalid, "ATTENDANCE_TOKEN_SECRET")
	default:
		cfg.TokenSecret = secret
	}

	if ttlValue := env("ATTENDANCE_TOKEN_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "ATTENDANCE_TOKEN_TTL")
		} else {
			cfg.TokenTTL = ttl
		}
	}

	cfg.CookieHashKey = env("ATTENDANCE_COOKIE_HASH_KEY")
	if cfg.CookieHashKey == "" {
		cfg.CookieHashKey = cfg.TokenSecret
	}

	if secureValue := env("ATTENDANCE_SECURE_COOKIES"); secureValue != "" {
		secure, err := strconv.ParseBool(secureValue)
		if err != nil {
			invalid = append(invalid, "ATTENDANCE_SECURE_COOKIES")
		} else {
			cfg.SecureCookies = secure
		}
	}

	if tz := env("ATTENDANCE_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "ATTENDANCE_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	if daysValue := env("ATTENDANCE_UPCOMING_DAYS"); daysValue != "" {
		days, err := strconv.Atoi(daysValue)
		if err != nil || days <= 0 {
			invalid = append(invalid, "ATTENDANCE_UPCOMING_DAYS")
		} else {
			cfg.UpcomingDays = days
		}
	}

	cfg.RedisAddr = env("ATTENDANCE_REDIS_ADDR")
	cfg.RedisChannel = env("ATTENDANCE_REDIS_CHANNEL")

	cfg.PublicURL = strings.TrimRight(env("ATTENDANCE_PUBLIC_URL"), "/")
	cfg.AfterSignInURL = env("ATTENDANCE_AFTER_SIGNIN_URL")
	cfg.GoogleClientID = env("ATTENDANCE_GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = env("ATTENDANCE_GOOGLE_CLIENT_SECRET")
	if cfg.GoogleEnabled() {
		if cfg.GoogleClientSecret == "" {
			missing = append(missing, "ATTENDANCE_GOOGLE_CLIENT_SECRET")
		}
		if cfg.PublicURL == "" {
			missing = append(missing, "ATTENDANCE_PUBLIC_URL")
		}
	}

	if origins := env("ATTENDANCE_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
