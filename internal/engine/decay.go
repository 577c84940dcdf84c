package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrSweepRunning is returned when a sweep is triggered while one is in flight.
var ErrSweepRunning = errors.New("sweep already running")

// SweepState is the decay engine's state: Idle or Running.
type SweepState int32

const (
	SweepIdle SweepState = iota
	SweepRunning
)

func (s SweepState) String() string {
	if s == SweepRunning {
		return "running"
	}
	return "idle"
}

// SweepState reports whether a sweep is in flight.
func (e *Engine) SweepState() SweepState {
	return SweepState(e.sweep.Load())
}

// SweepResult summarizes one maintenance run.
type SweepResult struct {
	Decayed  int           `json:"decayed"`
	Pruned   int           `json:"pruned"`
	Duration time.Duration `json:"duration"`
}

// DecaySweep recomputes urgency for every memory in the community (all
// communities when empty). Each row is updated on its own, so concurrent
// readers see either the old or the new urgency.
func (e *Engine) DecaySweep(ctx context.Context, communityID string, decayRate, accessBoost float64) (int, error) {
	p := DecayParams{Rate: decayRate, AccessBoost: accessBoost, Ceiling: e.cfg.UrgencyCeiling}
	n, err := e.DB.DecayHyperedges(ctx, communityID, time.Now(), p.Urgency)
	if err != nil {
		return n, fmt.Errorf("decay sweep: %w", err)
	}
	return n, nil
}

// PruneSweep permanently deletes memories whose urgency is below minUrgency
// and whose age exceeds minAgeDays. Both conditions must hold.
func (e *Engine) PruneSweep(ctx context.Context, communityID string, minUrgency, minAgeDays float64) (int, error) {
	minAge := time.Duration(minAgeDays * float64(24*time.Hour))
	n, err := e.DB.PruneHyperedges(ctx, communityID, minUrgency, minAge, time.Now())
	if err != nil {
		return n, fmt.Errorf("prune sweep: %w", err)
	}
	return n, nil
}

// RunMaintenance runs decay then prune across all communities with the
// configured parameters. Returns ErrSweepRunning without doing anything if a
// sweep is already in flight.
func (e *Engine) RunMaintenance(ctx context.Context) (SweepResult, error) {
	if !e.sweep.CompareAndSwap(int32(SweepIdle), int32(SweepRunning)) {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		log.Info().Msg("maintenance: sweep already running, skipping")
		return SweepResult{}, ErrSweepRunning
	}
	defer e.sweep.Store(int32(SweepIdle))

	start := time.Now()
	var res SweepResult

	decayed, err := e.DecaySweep(ctx, "", e.cfg.DecayRate, e.cfg.AccessBoost)
	res.Decayed = decayed
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("decayed", decayed).Msg("maintenance: decay failed")
		return res, err
	}
	metrics.EdgesDecayed.Add(float64(decayed))

	pruned, err := e.PruneSweep(ctx, "", e.cfg.PruneMinUrgency, e.cfg.PruneMinAgeDays)
	res.Pruned = pruned
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("maintenance: prune failed")
		return res, err
	}
	metrics.EdgesPruned.Add(float64(pruned))

	res.Duration = time.Since(start)
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepDuration.Observe(res.Duration.Seconds())
	log.Info().
		Int("decayed", res.Decayed).
		Int("pruned", res.Pruned).
		Dur("took", res.Duration).
		Msg("maintenance: sweep complete")
	return res, nil
}
