// Package scheduler dispatches detached background work on a gocron scheduler.
package scheduler

// File: internal/scheduler/scheduler.go
// Purpose: One-shot and periodic jobs that outlive the request that queued them.

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler wraps a started gocron scheduler.
type Scheduler struct {
	cron gocron.Scheduler
	log  *zap.Logger
	wg   sync.WaitGroup
}

// New creates and starts a scheduler.
func New(log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cron, err := gocron.NewScheduler(gocron.WithStopTimeout(30 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	cron.Start()
	return &Scheduler{cron: cron, log: log}, nil
}

// Go runs fn once, immediately, on a scheduler goroutine.
func (s *Scheduler) Go(name string, fn func()) error {
	s.wg.Add(1)
	_, err := s.cron.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() {
			defer s.wg.Done()
			s.guard(name, fn)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		s.wg.Done()
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Every runs fn each interval. A run that is still going when the next tick
// fires causes that tick to be skipped.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.guard(name, fn) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Wait blocks until every job queued with Go has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown stops the scheduler, waiting for running jobs up to the stop timeout.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

func (s *Scheduler) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("background job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	fn()
}
