// Package playercache keeps a bounded pool of warm video decoders for feed
// playback. Players in the viewport are marked active and are never evicted;
// inactive players stay warm until the least recently used one has to make
// room for a new video.
package playercache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/metrics"
)

var (
	// ErrNotAvailable means every slot holds an active player.
	ErrNotAvailable = errors.New("player not yet available: all slots active")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("player cache closed")
)

// Decoder produces frames for one video.
type Decoder interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// DecoderFactory constructs a decoder for sourceURI.
type DecoderFactory func(ctx context.Context, videoID, sourceURI string) (Decoder, error)

// Player is a warm decoder for one video.
type Player struct {
	VideoID   string
	SourceURI string
	Decoder   Decoder
}

// Info is a point-in-time view of a cached player.
type Info struct {
	VideoID    string    `json:"videoId"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	Active     bool      `json:"active"`
	Ready      bool      `json:"ready"`
}

type entry struct {
	player   *Player
	lastUsed time.Time
	active   bool
	ready    chan struct{} // closed once construction finished
	err      error
}

func (e *entry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Cache is a bounded LRU of players.
type Cache struct {
	capacity int
	factory  DecoderFactory
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New returns a Cache holding at most capacity decoders.
func New(capacity int, factory DecoderFactory) *Cache {
	if capacity <= 0 {
		capacity = 4
	}
	return &Cache{
		capacity: capacity,
		factory:  factory,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// Acquire returns the player for videoID, constructing it on a miss, and
// marks it active. Construction happens outside the lock on a reserved slot;
// concurrent callers for the same video wait for that construction.
func (c *Cache) Acquire(ctx context.Context, videoID, sourceURI string) (*Player, error) {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := c.entries[videoID]
		if !ok {
			break
		}
		if e.isReady() {
			e.active = true
			e.lastUsed = c.now()
			c.mu.Unlock()
			metrics.New().Dimension("Component", "playercache").Count("PlayerHit").Flush()
			return e.player, nil
		}

		c.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		c.mu.Lock()
	}

	var evicted *Player
	if len(c.entries) >= c.capacity {
		if evicted = c.evictLocked(); evicted == nil {
			c.mu.Unlock()
			log.Debug().Str("videoId", videoID).Int("capacity", c.capacity).Msg("All players active; acquire deferred")
			return nil, ErrNotAvailable
		}
	}

	e := &entry{active: true, lastUsed: c.now(), ready: make(chan struct{})}
	c.entries[videoID] = e
	c.mu.Unlock()

	// The victim is closed before the replacement is built, so live decoders
	// never exceed capacity. Other callers are not blocked while it exits.
	if evicted != nil {
		closeDecoder(evicted.VideoID, evicted.Decoder)
	}

	start := time.Now()
	dec, err := c.factory(ctx, videoID, sourceURI)

	c.mu.Lock()
	if err != nil {
		e.err = err
		delete(c.entries, videoID)
		close(e.ready)
		c.mu.Unlock()
		log.Warn().Err(err).Str("videoId", videoID).Msg("Failed to construct player")
		return nil, err
	}
	e.player = &Player{VideoID: videoID, SourceURI: sourceURI, Decoder: dec}
	if c.closed {
		e.err = ErrClosed
		delete(c.entries, videoID)
		close(e.ready)
		c.mu.Unlock()
		closeDecoder(videoID, dec)
		return nil, ErrClosed
	}
	close(e.ready)
	c.mu.Unlock()

	metrics.New().
		Dimension("Component", "playercache").
		Count("PlayerMiss").
		Since("PlayerConstructMs", start).
		Flush()
	return e.player, nil
}

// evictLocked removes the least recently used inactive player and returns
// it for the caller to close once the lock is released. It returns nil when
// every player is active or still being constructed.
func (c *Cache) evictLocked() *Player {
	var (
		victimID string
		victim   *entry
	)
	for id, e := range c.entries {
		if e.active || !e.isReady() {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victimID, victim = id, e
		}
	}
	if victim == nil {
		return nil
	}

	delete(c.entries, victimID)
	metrics.New().Dimension("Component", "playercache").Count("PlayerEvicted").Flush()
	log.Debug().Str("videoId", victimID).Msg("Evicted least recently used player")
	return victim.player
}

func closeDecoder(videoID string, d Decoder) {
	if err := d.Close(); err != nil {
		log.Warn().Err(err).Str("videoId", videoID).Msg("Decoder close failed")
	}
}

// Release marks the player inactive and keeps it warm. Unknown ids are ignored.
func (c *Cache) Release(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[videoID]; ok && e.isReady() {
		e.active = false
		e.lastUsed = c.now()
	}
}

// Len returns the number of resident and reserved players.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot lists cached players ordered by most recent use.
func (c *Cache) Snapshot() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Info, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, Info{VideoID: id, LastUsedAt: e.lastUsed, Active: e.active, Ready: e.isReady()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out
}

// Close releases every decoder before returning. Players under construction
// are closed when their construction finishes.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var players []*Player
	for id, e := range c.entries {
		if e.isReady() {
			players = append(players, e.player)
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	for _, p := range players {
		closeDecoder(p.VideoID, p.Decoder)
	}
	log.Debug().Int("closed", len(players)).Msg("Player cache closed")
}
