package platforms

import (
	"context"
	"time"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// Platform is the contract every AI platform adapter implements
type Platform interface {
	ID() models.PlatformID
	IsEnabled() bool
	Query(ctx context.Context, domain, question string) (*models.PlatformResponse, error)
}

// Options tunes an adapter. Zero values fall back to the provider defaults.
type Options struct {
	BaseURL      string
	Model        string
	Timeout      time.Duration
	RPM          int
	Burst        int
	RetryBackoff time.Duration
}

func (o Options) withDefaults(baseURL, model string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	return o
}
