// Package urlcache memoizes the last known profile-picture URL per client and
// repairs URLs the provider CDN has expired, both on a timer and when a
// consumer reports that an image failed to load.
package urlcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/service"
)

// Refresher fetches current picture URLs from the provider and persists them.
type Refresher interface {
	RefreshProfilePicture(ctx context.Context, clientID string) (string, error)
	RefreshAll(ctx context.Context, opts service.RefreshOptions) (*service.RefreshSummary, error)
}

type Config struct {
	// CacheDuration is how long a URL counts as fresh after it was first seen.
	CacheDuration time.Duration
	// CheckInterval is both the sweep period and the minimum spacing between
	// automatic refresh attempts for one entry.
	CheckInterval time.Duration
	// FailureThreshold consecutive load failures make the reactive path wait
	// for the next sweep instead of refreshing immediately.
	FailureThreshold int
	RefreshTimeout   time.Duration
}

type entry struct {
	firstSeen   time.Time
	lastRefresh time.Time
	url         string
	failures    int
}

type Stats struct {
	LastSweep *time.Time `json:"last_sweep,omitempty"`
	Total     int        `json:"total"`
	Active    int        `json:"active"`
	Expired   int        `json:"expired"`
	Failing   int        `json:"failing"`
	Sweeps    int64      `json:"sweeps"`
}

type Option func(*Cache)

// WithClock replaces the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is constructed once at startup and shared by every consumer.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	inflight  map[string]int
	lastSweep time.Time

	cfg       Config
	refresher Refresher
	now       func() time.Time
	group     singleflight.Group
	sweeping  atomic.Bool
	sweeps    atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(cfg Config, refresher Refresher, opts ...Option) *Cache {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 2 * time.Minute
	}
	c := &Cache{
		entries:   make(map[string]*entry),
		inflight:  make(map[string]int),
		cfg:       cfg,
		refresher: refresher,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add records url for clientID. A URL already cached for the client is left
// untouched; a different one replaces it, restarting its freshness window
// while keeping the last refresh attempt time.
func (c *Cache) Add(clientID, url string) {
	c.AddAt(clientID, url, time.Time{})
}

// AddAt records url as first seen at seenAt. A zero or future seenAt means now.
func (c *Cache) AddAt(clientID, url string, seenAt time.Time) {
	if url == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if seenAt.IsZero() || seenAt.After(now) {
		seenAt = now
	}
	e, ok := c.entries[clientID]
	if !ok {
		c.entries[clientID] = &entry{url: url, firstSeen: seenAt, lastRefresh: seenAt}
		return
	}
	if e.url == url {
		return
	}
	e.url = url
	e.firstSeen = seenAt
	e.failures = 0
}

// Warm seeds the cache from stored connections, keeping each picture's age.
func (c *Cache) Warm(conns []model.Connection) int {
	added := 0
	for _, conn := range conns {
		if conn.ProfilePictureURL == "" {
			continue
		}
		c.AddAt(conn.ClientID, conn.ProfilePictureURL, conn.PictureSeenAt())
		added++
	}
	return added
}

func (c *Cache) Remove(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, clientID)
}

func (c *Cache) Get(clientID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[clientID]
	if !ok {
		return "", false
	}
	return e.url, true
}

// IsExpired reports whether the cached URL outlived CacheDuration. Unknown
// clients are not expired.
func (c *Cache) IsExpired(clientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[clientID]
	if !ok {
		return false
	}
	return c.expiredLocked(e, c.now())
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	return now.Sub(e.firstSeen) > c.cfg.CacheDuration
}

// ForceRefresh fetches the client's current URL now. It returns false when
// the client has no connection or the fetch failed; callers keep showing
// their fallback in that case.
func (c *Cache) ForceRefresh(ctx context.Context, clientID string) (string, bool) {
	ch := c.group.DoChan(clientID, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx), clientID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

func (c *Cache) refresh(ctx context.Context, clientID string) (string, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:  &clientID,
		Component: "connect.urlcache",
	})
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	c.mu.Lock()
	started := c.now()
	c.inflight[clientID]++
	if e, ok := c.entries[clientID]; ok {
		e.lastRefresh = started
	}
	c.mu.Unlock()

	url, err := c.refresher.RefreshProfilePicture(ctx, clientID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[clientID]--; c.inflight[clientID] <= 0 {
		delete(c.inflight, clientID)
	}

	if err != nil {
		slog.DebugContext(ctx, "profile picture refresh unavailable", "error", err)
		return "", err
	}

	c.storeRefreshedLocked(clientID, url, started)
	return url, nil
}

// storeRefreshedLocked writes a refresh result unless the entry was replaced
// after the refresh started.
func (c *Cache) storeRefreshedLocked(clientID, url string, started time.Time) {
	now := c.now()
	e, ok := c.entries[clientID]
	if !ok {
		c.entries[clientID] = &entry{url: url, firstSeen: now, lastRefresh: now}
		return
	}
	if e.firstSeen.After(started) {
		return
	}
	e.url = url
	e.firstSeen = now
	e.lastRefresh = now
}

// ReportLoadFailure is called when a consumer failed to render the cached
// image. Below FailureThreshold consecutive failures it refreshes
// immediately; at or above it, it defers to the next sweep and returns the
// cached URL with deferred=true.
func (c *Cache) ReportLoadFailure(ctx context.Context, clientID string) (url string, deferred bool) {
	c.mu.Lock()
	e, ok := c.entries[clientID]
	if ok {
		e.failures++
		if e.failures >= c.cfg.FailureThreshold {
			url = e.url
			failures := e.failures
			c.mu.Unlock()
			slog.InfoContext(ctx, "image load failures over threshold, deferring to sweep",
				"client_id", clientID,
				"failures", failures)
			return url, true
		}
	}
	c.mu.Unlock()

	if fresh, ok := c.ForceRefresh(ctx, clientID); ok {
		return fresh, false
	}
	return "", false
}

// ReportLoadSuccess clears the client's failure count.
func (c *Cache) ReportLoadSuccess(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[clientID]; ok {
		e.failures = 0
	}
}

func (c *Cache) dueLocked(e *entry, now time.Time) bool {
	stale := c.expiredLocked(e, now) || e.failures >= c.cfg.FailureThreshold
	return stale && now.Sub(e.lastRefresh) > c.cfg.CheckInterval
}

// Sweep runs one pass: when any entry is due, every connected client is
// refreshed in a single bulk call. Overlapping sweeps are skipped.
func (c *Cache) Sweep(ctx context.Context) {
	if !c.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer c.sweeping.Store(false)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "connect.urlcache"})

	c.mu.Lock()
	started := c.now()
	c.lastSweep = started
	due := 0
	for _, e := range c.entries {
		if c.dueLocked(e, started) {
			e.lastRefresh = started
			due++
		}
	}
	c.mu.Unlock()
	c.sweeps.Add(1)

	if due == 0 {
		return
	}

	slog.InfoContext(ctx, "url cache sweep starting bulk refresh", "due", due)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	summary, err := c.refresher.RefreshAll(ctx, service.RefreshOptions{})
	if err != nil {
		slog.WarnContext(ctx, "url cache bulk refresh failed", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	written := 0
	for clientID, url := range summary.URLs {
		if c.inflight[clientID] > 0 {
			continue
		}
		c.storeRefreshedLocked(clientID, url, started)
		if e := c.entries[clientID]; e != nil && e.url == url {
			e.failures = 0
		}
		written++
	}

	slog.InfoContext(ctx, "url cache sweep finished",
		"refreshed", written,
		"failed", len(summary.Failures),
		"skipped", len(summary.Skipped))
}

// Start runs the sweep every CheckInterval until Shutdown or ctx ends.
func (c *Cache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run(ctx)
	})
}

func (c *Cache) run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "connect.urlcache"})

	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "url cache sweep started",
		"cache_duration", c.cfg.CacheDuration,
		"check_interval", c.cfg.CheckInterval,
		"failure_threshold", c.cfg.FailureThreshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			slog.InfoContext(ctx, "url cache sweep stopping")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Shutdown stops the sweep and waits for an in-progress pass to return.
// It is safe to call more than once, and without Start.
func (c *Cache) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.started.Load() {
			<-c.stoppedCh
		}
	})
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	stats := Stats{Total: len(c.entries), Sweeps: c.sweeps.Load()}
	for _, e := range c.entries {
		if c.expiredLocked(e, now) {
			stats.Expired++
		} else {
			stats.Active++
		}
		if e.failures >= c.cfg.FailureThreshold {
			stats.Failing++
		}
	}
	if !c.lastSweep.IsZero() {
		t := c.lastSweep
		stats.LastSweep = &t
	}
	return stats
}
