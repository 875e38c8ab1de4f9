package refresher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Target is the connection the refresher keeps supplied with a valid code.
type Target interface {
	// BackendConnected reports whether a backend session is established.
	BackendConnected() bool

	RefreshLongLivedPairingCodeIfNeeded(ctx context.Context) error
}

// Config holds refresher configuration.
type Config struct {
	Interval time.Duration // Check interval (default: 10m)
	Timeout  time.Duration // Per-check timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Checks  int64
	Skipped int64
	Errors  int64
}

// Refresher periodically replaces the long lived pairing code before it expires.
type Refresher struct {
	cfg    Config
	target Target
	clock  clock.Clock
	logger *slog.Logger

	checks  atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Refresher.
func New(cfg Config, target Target, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Refresher{
		cfg:    cfg,
		target: target,
		clock:  clock.New(),
		logger: logger,
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("pairing code refresher started", "interval", r.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("pairing code refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (r *Refresher) Stats() Stats {
	return Stats{
		Checks:  r.checks.Load(),
		Skipped: r.skipped.Load(),
		Errors:  r.errors.Load(),
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.cfg.Interval)
	defer ticker.Stop()

	// Check immediately on start.
	r.check()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.check()
		}
	}
}

// check refreshes the code once if a backend session is up.
func (r *Refresher) check() {
	if !r.target.BackendConnected() {
		r.skipped.Add(1)
		r.logger.Debug("no backend session, skipping pairing code check")
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	r.checks.Add(1)
	if err := r.target.RefreshLongLivedPairingCodeIfNeeded(ctx); err != nil {
		r.errors.Add(1)
		r.logger.Warn("failed to refresh long lived pairing code", "err", err)
	}
}
