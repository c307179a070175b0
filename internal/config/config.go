package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendFirestore = "firestore"
	BackendMySQL     = "mysql"
	BackendMemory    = "memory"
)

type Config struct {
	// Server
	Addr            string        `env:"ADDR" envDefault:":8080"`
	StaticDir       string        `env:"STATIC_DIR" envDefault:"static"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// Storage
	StoreBackend       string        `env:"STORE_BACKEND" envDefault:"firestore" validate:"oneof=firestore mysql memory"`
	MessagesCollection string        `env:"MESSAGES_COLLECTION" envDefault:"Messages"`
	MySQLDSN           string        `env:"MYSQL_DSN" validate:"required_if=StoreBackend mysql"`
	MySQLPollInterval  time.Duration `env:"MYSQL_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`

	// Firebase
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseWebAPIKey       string `env:"FIREBASE_WEB_API_KEY"`
	FirebaseAuthDomain      string `env:"FIREBASE_AUTH_DOMAIN"`

	// Chat behavior
	MaxMessageLength int  `env:"MAX_MESSAGE_LENGTH" envDefault:"1000" validate:"gt=0"`
	RevokeOnSignOut  bool `env:"REVOKE_ON_SIGN_OUT" envDefault:"false"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
