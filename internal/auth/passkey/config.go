// Package passkey holds WebAuthn relying-party configuration.
package passkey

import (
	"github.com/keyfold/keyfold/internal/platform/config"
)

// CeremonyKind describes the WebAuthn ceremony a challenge belongs to.
type CeremonyKind string

const (
	CeremonyKindRegistration CeremonyKind = "registration"
	CeremonyKindLogin        CeremonyKind = "login"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string   `env:"KEYFOLD_RP_DISPLAY_NAME" envDefault:"Keyfold"`
	RPID          string   `env:"KEYFOLD_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"KEYFOLD_RP_ORIGINS"      envSeparator:","`
}

// LoadConfigFromEnv returns relying-party configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Keyfold",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Keyfold"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}
