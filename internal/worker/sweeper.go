package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/repository"
)

// ErrShutdownTimeout is returned when the sweeper doesn't stop within timeout.
var ErrShutdownTimeout = errors.New("sweeper shutdown timed out")

// Sweeper periodically deletes expired ledger rows and their artifacts.
type Sweeper struct {
	interval  time.Duration
	retention time.Duration
	ledger    repository.Ledger
	store     repository.ArtifactStore
	logger    *slog.Logger
	now       func() time.Time

	runMu  sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds sweeper configuration.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Purged        int
	FilesDeleted  int
	CleanupFailed int
}

// NewSweeper creates a new sweeper. store may be nil when the ledger never
// references files.
func NewSweeper(cfg Config, ledger repository.Ledger, store repository.ArtifactStore, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		ledger:    ledger,
		store:     store,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.logger.Info("starting sweeper", "interval", s.interval, "retention", s.retention)

	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the sweep loop and waits for an in-progress sweep.
func (s *Sweeper) Stop(timeout time.Duration) error {
	s.logger.Info("stopping sweeper")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce purges every record older than the retention window. Artifact
// deletion failures are logged and do not keep the row alive.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var result SweepResult
	cutoff := s.now().Add(-s.retention)

	purged, err := s.ledger.PurgeExpired(ctx, cutoff, func(rec *domain.ConversionRecord) {
		if !rec.HasArtifact() || s.store == nil {
			return
		}
		if err := s.store.Delete(ctx, rec.Filename); err != nil {
			result.CleanupFailed++
			cerr := domain.NewCleanupError("delete artifact", err)
			s.logger.Error("cleanup error",
				"record_id", rec.ID,
				"file", rec.Filename,
				"error", cerr,
			)
			return
		}
		result.FilesDeleted++
	})
	if err != nil {
		return result, err
	}
	result.Purged = purged

	if purged > 0 {
		s.logger.Info("sweep completed",
			"purged", result.Purged,
			"files_deleted", result.FilesDeleted,
			"cleanup_failed", result.CleanupFailed,
			"cutoff", cutoff,
		)
	}
	return result, nil
}
