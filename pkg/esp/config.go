package esp

import (
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

var defaultEnvLoaded sync.Once

// LoadConfig parses environment variables into a provider configuration
// struct based on its `env` field tags. A .env file in the working directory
// is loaded once per process if present. Credentials are still passed to
// backends explicitly; this is only the loading convenience, never an
// ambient lookup inside the core.
//
// Example:
//
//	cfg, err := esp.LoadConfig[mailtrap.Config]()
//	backend, err := mailtrap.New(cfg)
func LoadConfig[T any]() (T, error) {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", email.ErrInvalidConfig, err)
	}
	return cfg, nil
}
