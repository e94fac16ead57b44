package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
)

// Sweeper removes generation records older than the retention window along
// with their stored artifacts. Reference images are shared across jobs, so a
// reference blob is only removed once no remaining job row points at it.
type Sweeper struct {
	repo         domain.GenerationRepository
	store        domain.ObjectStore
	logger       zerolog.Logger
	retention    time.Duration
	interval     time.Duration
	startupDelay time.Duration
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	DeletedRecords int      `json:"deleted_records"`
	DeletedPaths   []string `json:"deleted_paths"`
}

func NewSweeper(repo domain.GenerationRepository, store domain.ObjectStore, logger zerolog.Logger, retention, interval, startupDelay time.Duration) *Sweeper {
	return &Sweeper{
		repo:         repo,
		store:        store,
		logger:       logger.With().Str("component", "sweeper").Logger(),
		retention:    retention,
		interval:     interval,
		startupDelay: startupDelay,
	}
}

// Run sweeps once after the startup delay and then on every interval tick
// until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.startupDelay):
	}
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	s.logger.Info().
		Int("deleted_records", report.DeletedRecords).
		Int("deleted_paths", len(report.DeletedPaths)).
		Msg("retention sweep finished")
}

// Sweep deletes every job older than the retention cutoff. Per-job errors
// are logged and skipped so one broken artifact cannot stall the pass; a
// job whose result artifact cannot be removed keeps its record and is
// retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	expired, err := s.repo.ListExpired(ctx, cutoff)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{DeletedPaths: []string{}}
	for _, gen := range expired {
		if gen.ResultPath != "" {
			if err := s.store.Delete(ctx, gen.ResultPath); err != nil {
				s.logger.Warn().Err(err).
					Str("generation_id", gen.ID).
					Str("path", gen.ResultPath).
					Msg("cannot delete result artifact, keeping record for next sweep")
				continue
			}
			report.DeletedPaths = append(report.DeletedPaths, gen.ResultPath)
		}

		report.DeletedPaths = append(report.DeletedPaths, s.sweepReferences(ctx, gen)...)

		if err := s.repo.Delete(ctx, gen.ID); err != nil {
			s.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("cannot delete expired record")
			continue
		}
		report.DeletedRecords++
	}
	return report, nil
}

// sweepReferences removes the job's stored reference images that no other
// job still points at. Inline references and foreign URLs have no stored
// blob and are skipped.
func (s *Sweeper) sweepReferences(ctx context.Context, gen *domain.Generation) []string {
	var deleted []string
	for _, ref := range gen.Metadata.ReferenceImageURLs {
		if strings.HasPrefix(ref, "data:") {
			continue
		}
		key, ok := s.store.KeyFromURL(ref)
		if !ok {
			continue
		}
		inUse, err := s.repo.ReferenceInUse(ctx, ref, gen.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("reference", ref).Msg("cannot check reference liveness")
			continue
		}
		if inUse {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cannot delete reference artifact")
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted
}
