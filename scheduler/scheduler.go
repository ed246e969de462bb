package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"zoopla_fetcher/config"
	"zoopla_fetcher/logging"
	"zoopla_fetcher/models"
)

// ErrQueueFull is returned by Trigger when too many manual runs are waiting.
var ErrQueueFull = errors.New("trigger queue full")

const triggerQueueSize = 16

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context) error
	RunQuery(ctx context.Context, name string) (*models.RunResult, error)
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	cron     *cron.Cron
	ticker   *time.Ticker
	triggers chan models.Trigger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// serializes scheduled and manual runs
	runMu sync.Mutex
}

func New(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		cron:     cron.New(),
		triggers: make(chan models.Trigger, triggerQueueSize),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.consumeTriggers(ctx)

	if s.cfg.Cron != "" {
		logging.Infof("scheduler", "starting with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runAll(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		logging.Infof("scheduler", "starting with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.runAll(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		logging.Infof("scheduler", "no schedule configured, daemon will only respond to triggers")
	}

	return nil
}

// Stop halts the schedule and waits for the loops to exit. A run already in
// progress finishes first.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Trigger queues a saved query to run as soon as the current run finishes.
func (s *Scheduler) Trigger(query string) error {
	select {
	case s.triggers <- models.Trigger{Query: query, RequestedAt: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) consumeTriggers(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.triggers:
			logging.Infof("scheduler", "running %s (requested %s ago)", t.Query, time.Since(t.RequestedAt).Round(time.Millisecond))
			s.runMu.Lock()
			_, err := s.runner.RunQuery(ctx, t.Query)
			s.runMu.Unlock()
			if err != nil {
				logging.Errorf("scheduler", "triggered run %s: %v", t.Query, err)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if err := s.runner.RunAll(ctx); err != nil {
		logging.Errorf("scheduler", "scheduled run: %v", err)
	}
}
