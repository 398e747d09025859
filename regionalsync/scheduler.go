package regionalsync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/seplag/regional_sync/models"
	"github.com/sirupsen/logrus"
)

// Cycler is the unit of work the scheduler drives.
type Cycler interface {
	RunCycle(ctx context.Context, triggeredBy string) (CycleReport, error)
}

// Scheduler runs a cycle on a fixed interval and on demand.
// Ticks that find a cycle already running are skipped, not queued.
type Scheduler struct {
	cycler     Cycler
	interval   time.Duration
	runOnStart bool
	logger     logrus.FieldLogger

	mu      sync.Mutex
	running bool
	life    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cycler Cycler, interval time.Duration, runOnStart bool, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		cycler:     cycler,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
		life:       context.Background(),
	}
}

// Start launches the ticker loop. It returns once the loop is running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid sync interval %s", s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	s.life, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(s.life)
	s.logger.WithFields(logrus.Fields{"interval": s.interval.String(), "run_on_start": s.runOnStart}).Info("regional sync scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	if s.runOnStart {
		s.runOnce(ctx, models.SyncTriggeredStartup)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, models.SyncTriggeredSystem)
		}
	}
}

// Trigger runs a cycle now, on the caller's goroutine. The cycle outlives the
// caller's cancellation but not Stop. It returns ErrCycleInProgress when busy.
func (s *Scheduler) Trigger(ctx context.Context, triggeredBy string) (CycleReport, error) {
	s.mu.Lock()
	life := s.life
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	return s.safeRun(runCtx, triggeredBy)
}

// Stop cancels any cycle in flight and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("regional sync scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context, triggeredBy string) {
	_, err := s.safeRun(ctx, triggeredBy)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		SkippedTicksTotal.Inc()
		s.logger.WithFields(logrus.Fields{"triggered_by": triggeredBy}).Info("previous regional sync cycle still running, skipping tick")
	default:
		// RunCycle already logged the outcome
	}
}

func (s *Scheduler) safeRun(ctx context.Context, triggeredBy string) (report CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"triggered_by": triggeredBy,
				"stack":        string(debug.Stack()),
			}).Error(fmt.Sprintf("regional sync cycle panicked: %v", r))
			err = fmt.Errorf("regional sync cycle panicked: %v", r)
		}
	}()
	return s.cycler.RunCycle(ctx, triggeredBy)
}
