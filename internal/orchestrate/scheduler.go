// Package orchestrate coordinates the pipeline phases on independent
// schedules. Phases communicate only through the datastore, every phase
// operation is idempotent, and a phase that exhausts its retries defers its
// backlog to the next interval instead of crashing the process.
package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Phase is one independently-paced pipeline stage.
type Phase struct {
	Name     string
	Interval time.Duration
	MaxBatch int
	// Backlog probes queue depth so an empty phase is skipped without work.
	Backlog func(ctx context.Context) (int, error)
	// Run processes up to limit items and reports how many it handled.
	Run func(ctx context.Context, limit int) (int, error)
}

// Scheduler runs phases sequentially within a tick; two phases never mutate
// overlapping headline state concurrently.
type Scheduler struct {
	phases  []Phase
	logger  zerolog.Logger
	clock   Clock
	backoff BackoffPolicy
}

func NewScheduler(phases []Phase, logger zerolog.Logger, clock Clock, backoff BackoffPolicy) (*Scheduler, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one phase")
	}
	for _, phase := range phases {
		if phase.Interval <= 0 {
			return nil, fmt.Errorf("phase %q has non-positive interval", phase.Name)
		}
		if phase.MaxBatch <= 0 {
			return nil, fmt.Errorf("phase %q has non-positive max batch", phase.Name)
		}
		if phase.Backlog == nil || phase.Run == nil {
			return nil, fmt.Errorf("phase %q is missing backlog or run func", phase.Name)
		}
	}
	if clock == nil {
		clock = RealClock()
	}
	if backoff.MaxAttempts < 1 {
		backoff.MaxAttempts = 1
	}
	return &Scheduler{
		phases:  phases,
		logger:  logger,
		clock:   clock,
		backoff: backoff,
	}, nil
}

// Run loops until the context is canceled. In-flight phase invocations
// finish before Run returns; idempotent phase operations make interrupted
// batches safe to re-run on the next start.
func (s *Scheduler) Run(ctx context.Context) error {
	nextRun := make([]time.Time, len(s.phases))

	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopping")
			return nil
		}

		now := s.clock.Now()
		for i, phase := range s.phases {
			if now.Before(nextRun[i]) {
				continue
			}
			s.runPhase(ctx, phase)
			nextRun[i] = s.clock.Now().Add(phase.Interval)
			if ctx.Err() != nil {
				s.logger.Info().Msg("scheduler stopping")
				return nil
			}
		}

		wait := s.untilNext(nextRun)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return nil
		case <-s.clock.After(wait):
		}
	}
}

func (s *Scheduler) untilNext(nextRun []time.Time) time.Duration {
	earliest := nextRun[0]
	for _, t := range nextRun[1:] {
		if t.Before(earliest) {
			earliest = t
		}
	}

	wait := earliest.Sub(s.clock.Now())
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// runPhase executes one phase invocation with bounded retries. Transient
// failures (including timeouts) back off and retry; exhaustion leaves the
// unprocessed remainder for the next scheduled interval.
func (s *Scheduler) runPhase(ctx context.Context, phase Phase) {
	depth, err := phase.Backlog(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("phase", phase.Name).Msg("backlog probe failed, deferring to next interval")
		return
	}
	if depth == 0 {
		s.logger.Debug().Str("phase", phase.Name).Msg("backlog empty, skipping")
		return
	}

	for attempt := 1; attempt <= s.backoff.MaxAttempts; attempt++ {
		processed, err := phase.Run(ctx, phase.MaxBatch)
		if err == nil {
			s.logger.Info().
				Str("phase", phase.Name).
				Int("backlog", depth).
				Int("processed", processed).
				Msg("phase run completed")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == s.backoff.MaxAttempts {
			s.logger.Error().
				Err(err).
				Str("phase", phase.Name).
				Int("attempts", attempt).
				Msg("phase retries exhausted, deferring remainder to next interval")
			return
		}

		delay := s.backoff.Delay(attempt)
		s.logger.Warn().
			Err(err).
			Str("phase", phase.Name).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("phase run failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
	}
}
