package envelope

import (
	"github.com/lattice-labs/bmde-go/internal/platform/env"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

type Config struct {
	Key string
}

// ConfigFromEnv reads BMDE_ENCRYPTION_KEY, falling back to the legacy
// ENCRYPTION_KEY used by the first BMDE tools. It does not validate.
func ConfigFromEnv() Config {
	return Config{
		Key: env.FirstString("", "BMDE_ENCRYPTION_KEY", "ENCRYPTION_KEY"),
	}
}

func (c Config) Validate() error {
	if c.Key == "" {
		return provenance.ConfigurationError("envelope", "encryption key is not set (BMDE_ENCRYPTION_KEY)")
	}
	if len(c.Key) != KeySize {
		return provenance.ConfigurationError("envelope", "encryption key must be %d bytes, got %d", KeySize, len(c.Key))
	}
	return nil
}
