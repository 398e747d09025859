package regionalsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/seplag/regional_sync/config"
	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/seplag/regional_sync/regionalsync"

// RunRecorder stores the history row of each cycle.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.RegionalSyncRun) error
	FinishRun(ctx context.Context, run *models.RegionalSyncRun) error
}

// Synchronizer runs one reconciliation cycle at a time: fetch, reconcile, record.
type Synchronizer struct {
	source     Source
	reconciler *Reconciler
	runs       RunRecorder
	lock       CycleLock
	publisher  EventPublisher
	cache      ActiveCache
	allowEmpty bool
	logger     logrus.FieldLogger
	now        func() time.Time
}

type Option func(*Synchronizer)

func WithRunRecorder(r RunRecorder) Option {
	return func(s *Synchronizer) { s.runs = r }
}

func WithCycleLock(l CycleLock) Option {
	return func(s *Synchronizer) { s.lock = l }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

func WithCache(c ActiveCache) Option {
	return func(s *Synchronizer) { s.cache = c }
}

// WithAllowEmpty lets an empty external list deactivate every regional.
func WithAllowEmpty(allow bool) Option {
	return func(s *Synchronizer) { s.allowEmpty = allow }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func NewSynchronizer(source Source, store Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source: source,
		logger: config.GetLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lock == nil {
		s.lock = NewCycleLock(nil, 0, s.logger)
	}
	s.reconciler = NewReconciler(store, s.logger)
	return s
}

// RunCycle fetches the external list and reconciles the store with it.
//
// It returns ErrCycleInProgress without doing anything when another cycle holds
// the lock, a *FetchError when the source cannot be read, ErrEmptyPayload when
// the source lists no valid name, and an error wrapping ErrPartialCycle when
// some names failed to persist. The report is filled in every case but the first.
func (s *Synchronizer) RunCycle(ctx context.Context, triggeredBy string) (CycleReport, error) {
	release, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	defer release()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "regionalsync.RunCycle")
	defer span.End()

	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	}
	ctx = utils.SetTriggeredByInContext(ctx, triggeredBy)
	logger := s.logger.WithFields(logrus.Fields{
		"module":         "regionalsync",
		"correlation_id": correlationId,
		"triggered_by":   triggeredBy,
	})

	startedAt := s.now()
	report := CycleReport{
		Status:        models.SyncRunStatusRunning,
		TriggeredBy:   triggeredBy,
		CorrelationId: correlationId,
		Created:       []string{},
		Deactivated:   []string{},
		StartedAt:     startedAt,
	}
	run := s.startRun(ctx, logger, report)
	if run != nil {
		report.RunId = run.ID
	}
	logger.Info("regional sync cycle started")

	cycleErr := s.cycle(ctx, logger, &report)

	report.FinishedAt = s.now()
	elapsed := report.FinishedAt.Sub(startedAt)
	s.finishRun(ctx, logger, run, report, cycleErr, elapsed)

	CyclesTotal.WithLabelValues(report.Status, triggeredBy).Inc()
	CycleDuration.WithLabelValues(report.Status).Observe(elapsed.Seconds())
	if report.Status == models.SyncRunStatusSuccess {
		LastSuccessTimestamp.Set(float64(report.FinishedAt.Unix()))
	}

	span.SetAttributes(
		attribute.String("regional_sync.status", report.Status),
		attribute.String("regional_sync.triggered_by", triggeredBy),
		attribute.Int("regional_sync.created", len(report.Created)),
		attribute.Int("regional_sync.deactivated", len(report.Deactivated)),
		attribute.Int("regional_sync.errors", report.ErrorCount),
	)
	if cycleErr != nil {
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, cycleErr.Error())
	}

	fields := logrus.Fields{
		"status":      report.Status,
		"received":    report.Received,
		"discarded":   report.Discarded,
		"created":     len(report.Created),
		"deactivated": len(report.Deactivated),
		"unchanged":   report.Unchanged,
		"errors":      report.ErrorCount,
		"duration_ms": elapsed.Milliseconds(),
	}
	if cycleErr != nil {
		logger.WithFields(fields).Warn("regional sync cycle finished: " + cycleErr.Error())
	} else {
		logger.WithFields(fields).Info("regional sync cycle finished")
	}
	return report, cycleErr
}

func (s *Synchronizer) cycle(ctx context.Context, logger logrus.FieldLogger, report *CycleReport) error {
	fetched, err := s.source.FetchCurrent(ctx)
	if err != nil {
		report.Status = models.SyncRunStatusFailed
		var fe *FetchError
		if errors.As(err, &fe) {
			FetchErrorsTotal.WithLabelValues(string(fe.Kind)).Inc()
		}
		return err
	}
	report.Received = fetched.Received
	report.Discarded = fetched.Discarded
	DiscardedRecordsTotal.Add(float64(fetched.Discarded))

	names := uniqueNames(fetched.Names)
	if len(names) == 0 && !s.allowEmpty {
		report.Status = models.SyncRunStatusSkipped
		return ErrEmptyPayload
	}

	result, err := s.reconciler.Reconcile(ctx, names)
	report.Created = result.Created
	report.Deactivated = result.Deactivated
	report.Unchanged = len(result.Plan.Unchanged)
	report.ErrorCount = len(result.Errors)
	if report.Created == nil {
		report.Created = []string{}
	}
	if report.Deactivated == nil {
		report.Deactivated = []string{}
	}
	RegionalsCreatedTotal.Add(float64(len(result.Created)))
	RegionalsDeactivatedTotal.Add(float64(len(result.Deactivated)))
	for _, e := range result.Errors {
		var pe *PersistenceError
		if errors.As(e, &pe) {
			PersistenceErrorsTotal.WithLabelValues(pe.Op).Inc()
		}
	}

	if result.Changed() {
		s.afterChange(ctx, logger, *report)
	}

	switch {
	case err != nil:
		report.Status = models.SyncRunStatusFailed
		var pe *PersistenceError
		if errors.As(err, &pe) {
			PersistenceErrorsTotal.WithLabelValues(pe.Op).Inc()
			report.ErrorCount++
		}
		return err
	case len(result.Errors) > 0:
		report.Status = models.SyncRunStatusPartial
		return joinErrors(result.Errors)
	default:
		report.Status = models.SyncRunStatusSuccess
		return nil
	}
}

// afterChange moves the read cache to a new version and publishes the change event. Failures are logged only.
func (s *Synchronizer) afterChange(ctx context.Context, logger logrus.FieldLogger, report CycleReport) {
	// cancellation must not leave a stale cache behind
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.WithFields(logrus.Fields{"key": activeVersionKey}).Warn("failed to invalidate regional cache: " + err.Error())
		}
	}
	if s.publisher != nil {
		event := RegionalChangeEvent{
			RunId:         report.RunId,
			CorrelationId: report.CorrelationId,
			Created:       report.Created,
			Deactivated:   report.Deactivated,
			OccurredAt:    s.now().UTC(),
		}
		pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.publisher.PublishChange(pubCtx, event); err != nil {
			config.LogError(logger, "regionalsync", "afterChange", "publish regional change", event, err)
		}
	}
}

// Preview fetches the external list and computes the plan without writing anything.
func (s *Synchronizer) Preview(ctx context.Context) (Plan, FetchResult, error) {
	fetched, err := s.source.FetchCurrent(ctx)
	if err != nil {
		return Plan{}, FetchResult{}, err
	}
	names := uniqueNames(fetched.Names)
	if len(names) == 0 && !s.allowEmpty {
		return Plan{}, fetched, ErrEmptyPayload
	}
	plan, err := s.reconciler.Preview(ctx, names)
	return plan, fetched, err
}

func (s *Synchronizer) startRun(ctx context.Context, logger logrus.FieldLogger, report CycleReport) *models.RegionalSyncRun {
	if s.runs == nil {
		return nil
	}
	startedAt := report.StartedAt
	run := &models.RegionalSyncRun{
		Status:        models.SyncRunStatusRunning,
		TriggeredBy:   report.TriggeredBy,
		CorrelationId: report.CorrelationId,
		RequestedBy:   requestedBy(ctx),
		StartedAt:     &startedAt,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		config.LogError(logger, "regionalsync", "startRun", "create sync run", nil, err)
		return nil
	}
	return run
}

func (s *Synchronizer) finishRun(ctx context.Context, logger logrus.FieldLogger, run *models.RegionalSyncRun, report CycleReport, cycleErr error, elapsed time.Duration) {
	if run == nil {
		return
	}
	finishedAt := report.FinishedAt
	run.Status = report.Status
	run.ExternalCount = report.Received
	run.DiscardedCount = report.Discarded
	run.CreatedCount = len(report.Created)
	run.DeactivatedCount = len(report.Deactivated)
	run.UnchangedCount = report.Unchanged
	run.ErrorCount = report.ErrorCount
	run.FinishedAt = &finishedAt
	run.DurationMs = elapsed.Milliseconds()
	if cycleErr != nil {
		run.ErrorMessage = truncate(cycleErr.Error(), 4000)
	}
	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		config.LogError(logger, "regionalsync", "finishRun", fmt.Sprintf("finish sync run %d", run.ID), nil, err)
	}
}

// requestedBy names the authenticated caller behind a manual trigger, e.g. "user:7 (admin)".
func requestedBy(ctx context.Context) string {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return ""
	}
	who := fmt.Sprintf("user:%d", userId)
	if role, ok := utils.GetRoleFromContext(ctx); ok && role != "" {
		who += " (" + role + ")"
	}
	return who
}

// uniqueNames drops repeated names and sorts the rest.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
