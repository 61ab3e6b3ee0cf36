package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/metrics"
	"github.com/campusops/qrgate/internal/qrgate/store"
)

// ClaimPurger drops expired duplicate-detection claims. Backends whose
// claims expire on their own do not need one.
type ClaimPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type SweeperConfig struct {
	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration
	// VerificationTimeout is the age at which a pending attempt times out.
	VerificationTimeout time.Duration
	// AttemptRetention is how long finished attempts are kept. 0 keeps
	// them forever.
	AttemptRetention time.Duration
}

// Sweeper periodically times out stale verification attempts, revokes
// expired trust records, purges old attempts and expired dedup claims. It
// runs as a background goroutine stopped via its context or Stop.
type Sweeper struct {
	devices store.DeviceStore
	claims  ClaimPurger
	cfg     SweeperConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a sweeper but does not start it. claims may be nil.
func NewSweeper(devices store.DeviceStore, claims ClaimPurger, cfg SweeperConfig, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = 60 * time.Second
	}
	return &Sweeper{
		devices: devices,
		claims:  claims,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start runs an immediate sweep, then repeats on the configured interval
// until ctx is cancelled or Stop is called. A sweeper runs at most once:
// Start after Start or after Stop does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		s.logger.Warn("sweeper start ignored", zap.Bool("stopped", s.stopped))
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("attempt_retention", s.cfg.AttemptRetention))
}

// Stop signals the sweeper to exit and waits for it. It is safe to call
// more than once, and before Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.started {
			s.cancel()
		} else {
			close(s.done)
		}
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Each step is independent; a failing step is logged
// and the others still run.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	n, err := s.devices.TimeoutStale(ctx, now.Add(-s.cfg.VerificationTimeout), now)
	s.report("timed_out", n, err)

	n, err = s.devices.RevokeExpired(ctx, now)
	s.report("expired_revoked", n, err)

	if s.cfg.AttemptRetention > 0 {
		n, err = s.devices.PurgeFinished(ctx, now.Add(-s.cfg.AttemptRetention))
		s.report("attempts_purged", n, err)
	}

	if s.claims != nil {
		n, err = s.claims.PurgeExpired(ctx, now)
		s.report("claims_purged", n, err)
	}
}

func (s *Sweeper) report(kind string, n int64, err error) {
	if err != nil {
		s.logger.Error("sweep step failed", zap.String("step", kind), zap.Error(err))
		return
	}
	s.metrics.Swept(kind, n)
	if n > 0 {
		s.logger.Info("sweep", zap.String("step", kind), zap.Int64("rows", n))
	}
}
