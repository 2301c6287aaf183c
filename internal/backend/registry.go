package backend

import (
	"fmt"
	"time"

	"github.com/harrison/autocoder/internal/config"
)

// Options are the run-wide settings applied to every backend.
type Options struct {
	Timeout       time.Duration
	RateLimitWait time.Duration
	Dir           string
	Logger        WaitLogger
}

// New builds the backend described by cfg, wrapped with rate-limit retry.
func New(cfg config.BackendConfig, opts Options) (Backend, error) {
	var b Backend
	switch cfg.Provider {
	case config.ProviderClaude:
		c := NewClaudeCLI(cfg.Binary, cfg.Model)
		c.Args = cfg.Args
		c.Timeout = opts.Timeout
		c.Dir = opts.Dir
		b = c
	case config.ProviderOpenCode:
		o := NewOpenCodeCLI(cfg.Binary, cfg.Model)
		o.Args = cfg.Args
		o.Timeout = opts.Timeout
		o.Dir = opts.Dir
		b = o
	case config.ProviderOpenAI:
		o, err := NewOpenAI(cfg.Model, cfg.BaseURL, cfg.APIKeyEnv, opts.Timeout)
		if err != nil {
			return nil, err
		}
		b = o
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
	return WithRateLimitRetry(b, opts.RateLimitWait, opts.Logger), nil
}
