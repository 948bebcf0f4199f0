/*
Package config loads runtime settings and builds the logger.

PURPOSE:
  One place that reads the environment. Values come, lowest precedence
  first, from built-in defaults, an optional .env file, then the process
  environment. cmd/ entry points apply their flags on top.

KEYS:
  PORT                   HTTP port                              8080
  DB_DRIVER              sqlite3 | pgx                          sqlite3
  DATABASE_URL           SQLite path or PostgreSQL URL          backoffice.db
  DB_LOCK_TIMEOUT        row / write lock wait                  5s
  DB_MAX_OPEN_CONNS      pool size                              10
  LOG_LEVEL              logrus level                           info
  LOG_FORMAT             json | text                            json
  JWT_SECRET             HMAC key for bearer tokens             (none)
  AUTH_DISABLED          accept X-Actor-* headers instead       false
  ACCESS_POLICY_FILE     JSON capability overlay                (none)
  RECEIVE_FALLBACK       positional | warn | reject             warn
  RECONCILE_INTERVAL     scheduler period, 0 disables           1h
  RECONCILE_AUTO_REPAIR  repair drift found by the scheduler    false
  CORS_ORIGINS           comma-separated allowed origins        *

SEE ALSO:
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/warp/backoffice/purchasing"
	"github.com/warp/backoffice/store/sqldb"
)

type Config struct {
	Port string

	DBDriver       string
	DatabaseURL    string
	DBLockTimeout  time.Duration
	DBMaxOpenConns int

	LogLevel  string
	LogFormat string

	JWTSecret        string
	AuthDisabled     bool
	AccessPolicyFile string

	ReceiveFallback purchasing.Fallback

	ReconcileInterval   time.Duration
	ReconcileAutoRepair bool

	CORSOrigins []string
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"DB_DRIVER":             sqldb.DriverSQLite,
	"DATABASE_URL":          "backoffice.db",
	"DB_LOCK_TIMEOUT":       "5s",
	"DB_MAX_OPEN_CONNS":     10,
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "json",
	"JWT_SECRET":            "",
	"AUTH_DISABLED":         false,
	"ACCESS_POLICY_FILE":    "",
	"RECEIVE_FALLBACK":      string(purchasing.FallbackWarn),
	"RECONCILE_INTERVAL":    "1h",
	"RECONCILE_AUTO_REPAIR": false,
	"CORS_ORIGINS":          "*",
}

// Load reads envFile (skipped when empty or missing) and the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()

	fallback, err := purchasing.ParseFallback(v.GetString("RECEIVE_FALLBACK"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                v.GetString("PORT"),
		DBDriver:            v.GetString("DB_DRIVER"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBLockTimeout:       v.GetDuration("DB_LOCK_TIMEOUT"),
		DBMaxOpenConns:      v.GetInt("DB_MAX_OPEN_CONNS"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           strings.ToLower(v.GetString("LOG_FORMAT")),
		JWTSecret:           v.GetString("JWT_SECRET"),
		AuthDisabled:        v.GetBool("AUTH_DISABLED"),
		AccessPolicyFile:    v.GetString("ACCESS_POLICY_FILE"),
		ReceiveFallback:     fallback,
		ReconcileInterval:   v.GetDuration("RECONCILE_INTERVAL"),
		ReconcileAutoRepair: v.GetBool("RECONCILE_AUTO_REPAIR"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case sqldb.DriverSQLite, sqldb.DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be %s or %s, got %q", sqldb.DriverSQLite, sqldb.DriverPostgres, c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be >= 0, got %s", c.ReconcileInterval)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// StoreOptions maps the database settings onto sqldb.Options.
func (c *Config) StoreOptions(logger logrus.FieldLogger) sqldb.Options {
	return sqldb.Options{
		LockTimeout:  c.DBLockTimeout,
		MaxOpenConns: c.DBMaxOpenConns,
		Logger:       logger,
	}
}

// NewLogger builds the process logger.
func NewLogger(c *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
