// Package cache is a keyed store whose entries age through staleness tiers.
// Tier is derived lazily at read time, so one stored entry can be read as
// fresh now and aged later without being rewritten.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/envoyou/crossval/internal/model"
)

// Entry is one cached payload stamped with its fetch time. Entries are
// superseded by newer Puts, never mutated.
type Entry struct {
	Key       string
	Payload   any
	FetchedAt time.Time
}

// Options configures tier boundaries and capacity.
type Options struct {
	// Capacity bounds the entry count; least-recently-used entries are
	// evicted. Default: 10.
	Capacity int
	// FreshFor is the age below which an entry reads as fresh. Default: 24h.
	FreshFor time.Duration
	// AgedFor is the age below which an entry reads as aged. Default: 7d.
	AgedFor time.Duration
	// AllowStale serves entries past the aged boundary at the stale tier.
	// When false a stale entry is a miss. Default: true.
	AllowStale bool
}

// DefaultOptions returns the documented cache defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:   10,
		FreshFor:   24 * time.Hour,
		AgedFor:    7 * 24 * time.Hour,
		AllowStale: true,
	}
}

// TieredCache is an LRU-bounded store safe for concurrent use.
type TieredCache struct {
	entries *lru.Cache[string, *Entry]
	opts    Options
	nowFunc func() time.Time
}

// New creates a tiered cache. Zero-valued options fall back to defaults;
// AllowStale keeps its given value.
func New(opts Options) (*TieredCache, error) {
	def := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.FreshFor <= 0 {
		opts.FreshFor = def.FreshFor
	}
	if opts.AgedFor <= 0 {
		opts.AgedFor = def.AgedFor
	}
	if opts.AgedFor < opts.FreshFor {
		return nil, eris.New("cache: aged boundary must not precede fresh boundary")
	}

	entries, err := lru.New[string, *Entry](opts.Capacity)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create lru")
	}
	return &TieredCache{entries: entries, opts: opts, nowFunc: time.Now}, nil
}

// Put stores a payload as a fresh entry stamped with the current time,
// superseding any entry under the same key.
func (c *TieredCache) Put(key string, payload any) {
	c.entries.Add(key, &Entry{Key: key, Payload: payload, FetchedAt: c.nowFunc()})
}

// Get returns the payload under key and its tier computed from the entry's
// age. A stale entry is a miss unless AllowStale is set.
func (c *TieredCache) Get(key string) (any, model.Tier, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, "", false
	}

	age := c.nowFunc().Sub(entry.FetchedAt)
	switch {
	case age < c.opts.FreshFor:
		return entry.Payload, model.TierFresh, true
	case age < c.opts.AgedFor:
		return entry.Payload, model.TierAged, true
	case c.opts.AllowStale:
		return entry.Payload, model.TierStale, true
	default:
		return nil, "", false
	}
}

// Len returns the number of live entries.
func (c *TieredCache) Len() int {
	return c.entries.Len()
}
