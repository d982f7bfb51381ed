// Package refresh re-lists the current directory after mutations.
//
// Callers invalidate the coordinator instead of fetching themselves, so
// the code that mutates does not need to know who displays the listing.
// Invalidations arriving while a fetch is running coalesce into a single
// follow-up fetch of the latest directory.
package refresh

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/pkg/logger"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// FetchFunc lists one directory.
type FetchFunc func(ctx context.Context, dir string) ([]models.Unit, error)

// PublishFunc receives a fresh listing for the current directory.
type PublishFunc func(dir string, units []models.Unit)

// ErrorFunc receives fetch failures.
type ErrorFunc func(dir string, err error)

// Coordinator runs at most one fetch at a time.
type Coordinator struct {
	fetch   FetchFunc
	publish PublishFunc
	onError ErrorFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	dir     string
	tick    uint64 // bumped by every invalidation
	fetched uint64 // tick value the last fetch started at
	running bool
	closed  bool
}

// New creates a coordinator for the root directory. Nothing is fetched
// until the first Invalidate or SetDirectory.
func New(fetch FetchFunc, publish PublishFunc, onError ErrorFunc) *Coordinator {
	if onError == nil {
		onError = func(dir string, err error) {
			logger.Warn("refresh failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		fetch:   fetch,
		publish: publish,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Invalidate marks the current listing stale.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

// SetDirectory switches the current directory and invalidates. A fetch
// still running for the previous directory is not published.
func (c *Coordinator) SetDirectory(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = dir
	c.invalidateLocked()
}

// Directory returns the current directory.
func (c *Coordinator) Directory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

func (c *Coordinator) invalidateLocked() {
	if c.closed {
		return
	}
	c.tick++
	if !c.running {
		c.running = true
		go c.run()
	}
}

func (c *Coordinator) run() {
	for {
		c.mu.Lock()
		if c.closed || c.fetched == c.tick {
			c.running = false
			c.idle.Broadcast()
			c.mu.Unlock()
			return
		}
		c.fetched = c.tick
		dir := c.dir
		c.mu.Unlock()

		units, err := c.fetch(c.ctx, dir)

		c.mu.Lock()
		stale := c.closed || dir != c.dir
		c.mu.Unlock()
		if stale {
			logger.Debug("dropping stale listing", zap.String("dir", dir))
			continue
		}
		if err != nil {
			c.onError(dir, err)
			continue
		}
		c.publish(dir, units)
	}
}

// Wait blocks until no fetch is running or pending.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.running {
		c.idle.Wait()
	}
}

// Close cancels a running fetch and stops accepting invalidations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.Wait()
}
