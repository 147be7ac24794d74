// Package coordinator owns the latest usage snapshot and refreshes it on a fixed interval.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jgoulah/bchydro/pkg/models"
)

// DefaultInterval is how often BC Hydro is polled
const DefaultInterval = 6 * time.Hour

// ErrNoSnapshot is returned by Refresh when the fetcher returned neither data nor an error
var ErrNoSnapshot = errors.New("fetcher returned no usage data")

// Fetcher retrieves a fresh usage snapshot
type Fetcher interface {
	FetchUsage(ctx context.Context) (*models.DailyUsage, error)
}

// Status describes the outcome of the most recent refresh
type Status struct {
	LastUpdateSuccess bool
	LastAttempt       time.Time
	LastUpdated       time.Time // Time of the last successful refresh
	LastError         error
}

// Coordinator holds the most recent snapshot. Readers never block and never see a partial update.
type Coordinator struct {
	fetcher  Fetcher
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time

	snapshot atomic.Pointer[models.DailyUsage]

	// refreshMu serializes refreshes so snapshots are replaced in fetch order
	refreshMu sync.Mutex

	mu        sync.Mutex
	status    Status
	listeners map[int]func()
	nextID    int
}

// New creates a coordinator. An interval <= 0 means DefaultInterval.
func New(fetcher Fetcher, interval time.Duration, log logrus.FieldLogger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		fetcher:   fetcher,
		interval:  interval,
		log:       log.WithField("component", "coordinator"),
		now:       time.Now,
		listeners: make(map[int]func()),
	}
}

// Snapshot returns the latest successfully fetched usage, or nil
func (c *Coordinator) Snapshot() *models.DailyUsage {
	return c.snapshot.Load()
}

// Status returns the outcome of the most recent refresh
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Interval returns the polling interval
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// AddListener registers fn to be called after every refresh attempt.
// The returned func removes the listener.
func (c *Coordinator) AddListener(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Refresh fetches a new snapshot. On failure the previous snapshot is kept.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	err := c.refresh(ctx)
	c.refreshMu.Unlock()

	c.notify()
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	started := c.now()
	usage, err := c.fetcher.FetchUsage(ctx)
	if err == nil && usage == nil {
		err = ErrNoSnapshot
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.status.LastAttempt.IsZero()
	c.status.LastAttempt = started
	if err != nil {
		// Only the transition into failure is worth an error line
		if first || c.status.LastUpdateSuccess {
			c.log.WithError(err).Error("Error fetching BC Hydro usage")
		} else {
			c.log.WithError(err).Debug("BC Hydro usage still unavailable")
		}
		c.status.LastUpdateSuccess = false
		c.status.LastError = err
		return fmt.Errorf("refreshing usage: %w", err)
	}

	c.snapshot.Store(usage)
	if !c.status.LastUpdateSuccess && !c.status.LastUpdated.IsZero() {
		c.log.Info("Fetching BC Hydro usage recovered")
	}
	c.status.LastUpdateSuccess = true
	c.status.LastUpdated = started
	c.status.LastError = nil

	c.log.WithFields(logrus.Fields{
		"intervals": len(usage.Electricity),
		"has_rates": usage.Rates != nil,
		"duration":  c.now().Sub(started).String(),
	}).Debug("Refreshed BC Hydro usage")

	return nil
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Run refreshes on every tick until ctx is cancelled. It does not refresh immediately;
// call Refresh first when an initial snapshot is needed.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.WithField("interval", c.interval.String()).Info("Polling BC Hydro")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are recorded in Status and logged by refresh
			_ = c.Refresh(ctx)
		}
	}
}
