package session

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/keyfold/keyfold/internal/platform/config"
)

// Config controls session blob keys and lifetimes.
type Config struct {
	// HashKey and BlockKey are hex-encoded securecookie keys. When either is
	// unset, random ephemeral keys are generated at startup; sessions then do
	// not survive a restart, which is acceptable for development only.
	HashKey  string `env:"KEYFOLD_SESSION_HASH_KEY"`
	BlockKey string `env:"KEYFOLD_SESSION_BLOCK_KEY"`

	// AbsoluteTimeout bounds a session's lifetime from its creation instant.
	AbsoluteTimeout time.Duration `env:"KEYFOLD_SESSION_ABSOLUTE_TIMEOUT" envDefault:"8h"`
	// IdleTimeout is the sliding cookie expiry applied on every save.
	IdleTimeout time.Duration `env:"KEYFOLD_SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	CookieSecure bool `env:"KEYFOLD_COOKIE_SECURE"`
}

// LoadConfigFromEnv returns session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			AbsoluteTimeout: 8 * time.Hour,
			IdleTimeout:     30 * time.Minute,
		}
	}
	if cfg.AbsoluteTimeout <= 0 {
		cfg.AbsoluteTimeout = 8 * time.Hour
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return cfg
}

// Keys returns the decoded securecookie key pair, generating ephemeral keys
// when the configuration leaves them unset.
func (c Config) Keys() (hashKey, blockKey []byte, err error) {
	if strings.TrimSpace(c.HashKey) == "" || strings.TrimSpace(c.BlockKey) == "" {
		return securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), nil
	}
	hashKey, err = hex.DecodeString(strings.TrimSpace(c.HashKey))
	if err != nil {
		return nil, nil, fmt.Errorf("decode session hash key: %w", err)
	}
	blockKey, err = hex.DecodeString(strings.TrimSpace(c.BlockKey))
	if err != nil {
		return nil, nil, fmt.Errorf("decode session block key: %w", err)
	}
	return hashKey, blockKey, nil
}
