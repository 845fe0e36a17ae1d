package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

// ChallengeCleanupWorker periodically purges challenges and reset
// authorizations that expired longer than the retention grace ago. Entries
// inside the grace window are left alone so reads can still report them as
// expired.
type ChallengeCleanupWorker struct {
	config         config.ChallengeCleanupConfig
	challenges     storage.ChallengeStore
	authorizations storage.AuthorizationStore
	retention      time.Duration
	now            func() time.Time
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChallengeCleanupWorker creates a new challenge cleanup worker
func NewChallengeCleanupWorker(cfg config.ChallengeCleanupConfig, challenges storage.ChallengeStore, authorizations storage.AuthorizationStore, retention time.Duration, logger *zap.Logger) *ChallengeCleanupWorker {
	cfg.SetDefaults()
	return &ChallengeCleanupWorker{
		config:         cfg,
		challenges:     challenges,
		authorizations: authorizations,
		retention:      retention,
		now:            time.Now,
		logger:         logger.Named("challenge-cleanup"),
	}
}

// Start begins the cleanup worker in the background
func (w *ChallengeCleanupWorker) Start() {
	if !w.config.Enabled {
		w.logger.Info("Challenge cleanup worker disabled")
		return
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)

	go w.run()

	w.logger.Info("Challenge cleanup worker started",
		zap.Int("interval_seconds", w.config.IntervalSeconds),
		zap.Duration("retention", w.retention),
	)
}

// Stop gracefully stops the cleanup worker
func (w *ChallengeCleanupWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Challenge cleanup worker stopped")
}

func (w *ChallengeCleanupWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.config.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	w.cleanup()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *ChallengeCleanupWorker) cleanup() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("Failed to cleanup expired entries", zap.Error(err))
		return
	}
	w.logger.Debug("Completed challenge cleanup pass")
}

// RunOnce runs a single cleanup pass
func (w *ChallengeCleanupWorker) RunOnce(ctx context.Context) error {
	cutoff := w.now().Add(-w.retention)

	challenges, errChallenges := w.challenges.DeleteExpired(ctx, cutoff)
	if errChallenges != nil {
		errChallenges = fmt.Errorf("challenges: %w", errChallenges)
	}
	authorizations, errAuthorizations := w.authorizations.DeleteExpired(ctx, cutoff)
	if errAuthorizations != nil {
		errAuthorizations = fmt.Errorf("authorizations: %w", errAuthorizations)
	}

	if challenges > 0 || authorizations > 0 {
		w.logger.Info("Purged expired entries",
			zap.Int64("challenges", challenges),
			zap.Int64("authorizations", authorizations))
	}
	return errors.Join(errChallenges, errAuthorizations)
}
