// Package scheduler runs the periodic maintenance and feed-polling jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is a unit of periodic work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

type entry struct {
	name string
	spec string
	job  Job

	running atomic.Bool
}

// Scheduler manages cron jobs for the memory service.
type Scheduler struct {
	cron    *cron.Cron
	entries []*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. A job is never run twice concurrently; a tick
// that finds it still running is skipped.
func New() *Scheduler {
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under spec, a cron expression or descriptor such as
// "@hourly" or "@every 5m". An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		log.Info().Str("job", name).Msg("job disabled")
		return nil
	}
	e := &entry{name: name, spec: spec, job: job}
	if _, err := s.cron.AddFunc(spec, func() { s.run(e) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.entries = append(s.entries, e)
	return nil
}

// Start begins the schedule and runs every registered job once in the
// background.
func (s *Scheduler) Start() {
	for _, e := range s.entries {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(e)
		}()
	}
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.name)
	}
	return names
}

// run executes e unless the scheduler is stopping or e is already running.
func (s *Scheduler) run(e *entry) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	if !e.running.CompareAndSwap(false, true) {
		log.Debug().Str("job", e.name).Msg("job still running, skipped")
		return
	}
	defer e.running.Store(false)

	start := time.Now()
	if err := e.job(ctx); err != nil {
		log.Warn().Err(err).Str("job", e.name).Dur("elapsed", time.Since(start)).Msg("scheduled job failed")
		return
	}
	log.Debug().Str("job", e.name).Dur("elapsed", time.Since(start)).Msg("scheduled job done")
}

// cronLogger adapts cron's logger to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
