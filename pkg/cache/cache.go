// Package cache implements the tiered result cache for computed performance
// payloads: an in-process tier, an optional shared Redis tier, and the
// durable store tier. Freshness is decided from entry age alone.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindow keeps results for almost a day: upstream providers only
// finalize generation figures once daily.
const DefaultWindow = 23 * time.Hour

// Result kinds. One live entry exists per (account, kind).
const (
	KindDaily     = "daily"
	KindSevenDay  = "7day"
	KindThirtyDay = "30day"
)

// Entry is a cached payload plus its write time.
type Entry struct {
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tier is one storage level of the cache, warmest first.
type Tier interface {
	Name() string
	Get(ctx context.Context, accountID int64, kind string) (*Entry, error)
	Put(ctx context.Context, accountID int64, kind string, e *Entry) error
}

// Cache reads through its tiers warmest-first and writes through all of
// them. Tier failures are logged and absorbed: a broken tier must never
// drop an in-flight result.
type Cache struct {
	tiers  []Tier
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a cache over the given tiers, ordered warmest to coldest.
func New(window time.Duration, log zerolog.Logger, tiers ...Tier) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		tiers:  tiers,
		window: window,
		log:    log.With().Str("component", "cache").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Window returns the freshness window.
func (c *Cache) Window() time.Duration { return c.window }

// Fresh reports whether an entry is still inside the freshness window.
func (c *Cache) Fresh(e *Entry) bool {
	return e != nil && c.now().Sub(e.UpdatedAt) < c.window
}

// Get returns the first entry found walking the tiers, plus its freshness.
// A hit in a colder tier is backfilled into the warmer ones.
func (c *Cache) Get(ctx context.Context, accountID int64, kind string) (*Entry, bool) {
	for i, tier := range c.tiers {
		e, err := tier.Get(ctx, accountID, kind)
		if err != nil {
			c.log.Warn().Err(err).Str("tier", tier.Name()).Str("kind", kind).
				Int64("account_id", accountID).Msg("cache read failed")
			continue
		}
		if e == nil {
			continue
		}
		for _, warmer := range c.tiers[:i] {
			if err := warmer.Put(ctx, accountID, kind, e); err != nil {
				c.log.Warn().Err(err).Str("tier", warmer.Name()).Msg("cache backfill failed")
			}
		}
		return e, c.Fresh(e)
	}
	return nil, false
}

// Put writes a fresh payload through every tier and returns the entry.
// Durable-write failures are logged, never propagated: the caller must
// still receive the in-flight result.
func (c *Cache) Put(ctx context.Context, accountID int64, kind string, payload []byte) *Entry {
	e := &Entry{Payload: payload, UpdatedAt: c.now()}
	for _, tier := range c.tiers {
		if err := tier.Put(ctx, accountID, kind, e); err != nil {
			c.log.Error().Err(err).Str("tier", tier.Name()).Str("kind", kind).
				Int64("account_id", accountID).Msg("cache write failed")
		}
	}
	return e
}
