package regionalsync

import (
	"context"
	"errors"
	"sort"

	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/utils"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the reconciler needs.
type Store interface {
	FindActive(ctx context.Context) ([]models.Regional, error)
	FindAllByName(ctx context.Context, name string) ([]models.Regional, error)
	DeactivateByName(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, regional *models.Regional) error
}

// BuildPlan diffs the active rows against the external names. It does not touch the store.
//
// A name present on both sides with exactly one active row is unchanged. A name
// with several active rows is rebuilt: deactivated, then recreated if still listed.
func BuildPlan(active []models.Regional, external []string) Plan {
	activeCount := make(map[string]int, len(active))
	for _, r := range active {
		activeCount[r.Name]++
	}
	wanted := make(map[string]struct{}, len(external))
	for _, n := range external {
		wanted[n] = struct{}{}
	}

	plan := Plan{
		Create:     []string{},
		Deactivate: []string{},
		Unchanged:  []string{},
		Repair:     []string{},
	}
	for name := range wanted {
		switch activeCount[name] {
		case 0:
			plan.Create = append(plan.Create, name)
		case 1:
			plan.Unchanged = append(plan.Unchanged, name)
		default:
			plan.Create = append(plan.Create, name)
			plan.Repair = append(plan.Repair, name)
		}
	}
	for name, count := range activeCount {
		if _, ok := wanted[name]; ok {
			continue
		}
		plan.Deactivate = append(plan.Deactivate, name)
		if count > 1 {
			plan.Repair = append(plan.Repair, name)
		}
	}

	sort.Strings(plan.Create)
	sort.Strings(plan.Deactivate)
	sort.Strings(plan.Unchanged)
	sort.Strings(plan.Repair)
	return plan
}

// Reconciler applies a Plan to a Store, one name at a time.
type Reconciler struct {
	store  Store
	logger logrus.FieldLogger
}

func NewReconciler(store Store, logger logrus.FieldLogger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{store: store, logger: logger}
}

// Preview reads the active set and returns the plan without writing.
func (r *Reconciler) Preview(ctx context.Context, external []string) (Plan, error) {
	active, err := r.store.FindActive(ctx)
	if err != nil {
		return Plan{}, &PersistenceError{Op: opFindActive, Err: err}
	}
	return BuildPlan(active, external), nil
}

// Reconcile makes the active set equal to the external names.
//
// A failure on one name is recorded in the result and the remaining names are
// still processed. The returned error is non-nil only when the active set could
// not be read or ctx was cancelled; in the latter case the result holds the work
// completed so far.
func (r *Reconciler) Reconcile(ctx context.Context, external []string) (ReconcileResult, error) {
	plan, err := r.Preview(ctx, external)
	if err != nil {
		return ReconcileResult{}, err
	}
	return r.Apply(ctx, plan)
}

func (r *Reconciler) Apply(ctx context.Context, plan Plan) (ReconcileResult, error) {
	result := ReconcileResult{
		Plan:        plan,
		Created:     []string{},
		Deactivated: []string{},
	}
	log := r.loggerFor(ctx)
	repair := make(map[string]bool, len(plan.Repair))
	for _, n := range plan.Repair {
		repair[n] = true
	}

	for _, name := range plan.Create {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.create(ctx, log, name, repair[name]); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Created = append(result.Created, name)
	}

	for _, name := range plan.Deactivate {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rows, err := r.store.DeactivateByName(ctx, name)
		if err != nil {
			perr := &PersistenceError{Name: name, Op: opDeactivate, Err: err}
			log.WithFields(logrus.Fields{"regional": name, "op": opDeactivate}).Error(perr.Error())
			result.Errors = append(result.Errors, perr)
			continue
		}
		log.WithFields(logrus.Fields{"regional": name, "rows": rows}).Info("regional deactivated")
		result.Deactivated = append(result.Deactivated, name)
	}
	return result, nil
}

// create inserts a new active row for name. When the name already has rows,
// DeactivateByName runs first so at most one active row remains.
func (r *Reconciler) create(ctx context.Context, log logrus.FieldLogger, name string, repair bool) error {
	existing, err := r.store.FindAllByName(ctx, name)
	if err != nil {
		return r.fail(log, name, opFindAllByName, err)
	}
	if len(existing) > 0 {
		rows, err := r.store.DeactivateByName(ctx, name)
		if err != nil {
			return r.fail(log, name, opDeactivate, err)
		}
		switch {
		case repair:
			log.WithFields(logrus.Fields{"regional": name, "rows": rows}).Warn("multiple active rows found, deactivated before recreating")
		case rows > 0:
			log.WithFields(logrus.Fields{"regional": name, "rows": rows}).Warn("active row appeared since the snapshot, deactivated before recreating")
		}
	}

	regional := &models.Regional{Name: name, Active: true}
	if err := r.store.Save(ctx, regional); err != nil {
		return r.fail(log, name, opCreate, err)
	}
	fields := logrus.Fields{"regional": name, "id": regional.ID}
	if len(existing) > 0 {
		fields["previous_rows"] = len(existing)
	}
	log.WithFields(fields).Info("regional created")
	return nil
}

func (r *Reconciler) fail(log logrus.FieldLogger, name, op string, err error) error {
	perr := &PersistenceError{Name: name, Op: op, Err: err}
	log.WithFields(logrus.Fields{"regional": name, "op": op}).Error(perr.Error())
	return perr
}

// loggerFor tags reconciler logs with the cycle's correlation id and trigger.
func (r *Reconciler) loggerFor(ctx context.Context) logrus.FieldLogger {
	fields := logrus.Fields{}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	if by, ok := utils.GetTriggeredByFromContext(ctx); ok {
		fields["triggered_by"] = by
	}
	return r.logger.WithFields(fields)
}

// joinErrors wraps per-name errors under ErrPartialCycle.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrPartialCycle}, errs...)...)
}
