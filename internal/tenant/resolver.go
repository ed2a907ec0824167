// Package tenant maps gateway instances to clinics. Each WhatsApp instance
// belongs to one clinic; conversations and patient records are scoped by the
// clinic id resolved here.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache tuning for instance lookups. Mappings change rarely.
const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// ClinicLookup resolves a gateway instance name to a clinic id. A lookup that
// finds no mapping returns "" with a nil error.
type ClinicLookup interface {
	GetClinicIDByInstance(instance string) (string, error)
}

// Opts holds configuration options for the resolver.
type Opts struct {
	DefaultClinicID string
	CacheTTL        time.Duration
}

// Option defines a configuration option for resolver creation.
type Option func(*Opts)

// WithDefaultClinicID sets the clinic used when an instance has no mapping.
func WithDefaultClinicID(id string) Option {
	return func(o *Opts) { o.DefaultClinicID = id }
}

// WithCacheTTL overrides how long resolved mappings are cached.
func WithCacheTTL(d time.Duration) Option {
	return func(o *Opts) { o.CacheTTL = d }
}

// Resolver resolves clinic ids from gateway instance names, caching results.
type Resolver struct {
	lookup          ClinicLookup
	cache           *cache.Cache
	defaultClinicID string
}

// NewResolver creates a resolver backed by the given lookup.
func NewResolver(lookup ClinicLookup, opts ...Option) *Resolver {
	cfg := Opts{CacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Resolver{
		lookup:          lookup,
		cache:           cache.New(cfg.CacheTTL, defaultCacheCleanup),
		defaultClinicID: cfg.DefaultClinicID,
	}
}

// ClinicFor returns the clinic id owning the gateway instance. Unmapped
// instances fall back to the default clinic; if no default is configured the
// lookup miss is an error so the webhook is rejected rather than silently
// attributed to the wrong clinic.
func (r *Resolver) ClinicFor(ctx context.Context, instance string) (string, error) {
	if cached, found := r.cache.Get(instance); found {
		return cached.(string), nil
	}

	clinicID, err := r.lookup.GetClinicIDByInstance(instance)
	if err != nil {
		return "", fmt.Errorf("clinic lookup for instance %s failed: %w", instance, err)
	}
	if clinicID == "" {
		if r.defaultClinicID == "" {
			slog.Warn("tenant.ClinicFor: unmapped instance and no default clinic", "instance", instance)
			return "", fmt.Errorf("no clinic mapped for instance %s", instance)
		}
		clinicID = r.defaultClinicID
	}

	r.cache.Set(instance, clinicID, cache.DefaultExpiration)
	slog.Debug("tenant.ClinicFor: resolved", "instance", instance, "clinicID", clinicID)
	return clinicID, nil
}
