package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Path names the strategy that removed (or failed to remove) a deal
type Path string

const (
	PathPrimary  Path = "primary"
	PathDeferred Path = "deferred"
	PathDirect   Path = "direct"
	PathDealOnly Path = "deal_only"
)

var errDealStillPresent = errors.New("deal row still present after fallback")

// ErrDealNotFound is returned by Execute when the deal row is already gone
// once the lock is taken, e.g. because a concurrent delete won the race.
var ErrDealNotFound = errors.New("deal not found")

// Resolver rebuilds a plan through a given connection. The executor uses it
// to re-read dependents under its own lock so rows added after the caller
// planned are still removed.
type Resolver interface {
	PlanTx(ctx context.Context, tx *gorm.DB, dealID int64) (*Plan, error)
}

// Options selects which fallback strategies run after the primary
// transaction fails. They are tried in the order listed.
type Options struct {
	DeferredFallback bool
	DirectFallback   bool
	DealOnlyFallback bool
}

// DefaultOptions enables every fallback
func DefaultOptions() Options {
	return Options{DeferredFallback: true, DirectFallback: true, DealOnlyFallback: true}
}

// Result describes how a plan was executed
type Result struct {
	Deleted bool
	Path    Path
	// Residual counts dependent rows still present after a fallback removed the deal
	Residual int64
}

// Executor runs deletion plans
type Executor struct {
	db       *gorm.DB
	resolver Resolver
	opts     Options
	logger   *zap.Logger
}

// NewExecutor creates an executor. With a nil resolver plans run exactly as
// given.
func NewExecutor(db *gorm.DB, resolver Resolver, opts Options, logger *zap.Logger) *Executor {
	return &Executor{
		db:       db,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

type fallback struct {
	path Path
	run  func(ctx context.Context, plan *Plan, log *zap.Logger) error
}

func (e *Executor) fallbacks() []fallback {
	var fbs []fallback
	if e.opts.DeferredFallback {
		fbs = append(fbs, fallback{PathDeferred, e.runDeferred})
	}
	if e.opts.DirectFallback {
		fbs = append(fbs, fallback{PathDirect, e.runDirect})
	}
	if e.opts.DealOnlyFallback {
		fbs = append(fbs, fallback{PathDealOnly, e.runDealOnly})
	}
	return fbs
}

// Execute locks the deal row and deletes every step of plan in order inside
// one transaction. When that fails it retries with the configured fallbacks,
// which give up atomicity to get the deal row removed. ErrDealNotFound is
// returned when the deal is gone before anything ran; a *DeletionError only
// when the deal row survives every strategy. With a resolver, plan.Steps is
// replaced by the plan actually executed.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	start := time.Now()
	log := e.logger.With(zap.Int64("deal_id", plan.DealID))

	err := e.runPrimary(ctx, plan, log)
	if errors.Is(err, ErrDealNotFound) {
		deletionsTotal.WithLabelValues(string(PathPrimary), "not_found").Inc()
		log.Info("deal already removed, nothing to delete")
		return &Result{Deleted: false, Path: PathPrimary}, ErrDealNotFound
	}
	if err == nil {
		deletionsTotal.WithLabelValues(string(PathPrimary), "success").Inc()
		deletionDuration.WithLabelValues(string(PathPrimary)).Observe(time.Since(start).Seconds())
		log.Info("deal deleted", zap.String("path", string(PathPrimary)), zap.Int("steps", len(plan.Steps)))
		return &Result{Deleted: true, Path: PathPrimary}, nil
	}

	deletionsTotal.WithLabelValues(string(PathPrimary), "failure").Inc()
	log.Warn("primary deletion transaction rolled back, trying fallback strategies", zap.Error(err))

	lastErr, lastPath := err, PathPrimary
	for _, fb := range e.fallbacks() {
		ferr := fb.run(ctx, plan, log)

		gone, cerr := e.dealGone(ctx, plan.DealID)
		if cerr != nil {
			log.Error("failed to verify deal removal", zap.String("path", string(fb.path)), zap.Error(cerr))
		}
		if cerr == nil && gone {
			residual := e.residual(ctx, plan, log)
			deletionsTotal.WithLabelValues(string(fb.path), "success").Inc()
			deletionDuration.WithLabelValues(string(fb.path)).Observe(time.Since(start).Seconds())
			if residual > 0 {
				residualRowsTotal.Add(float64(residual))
				log.Error("partial cascade failure: deal removed but dependent rows remain",
					zap.String("path", string(fb.path)),
					zap.Int64("residual_rows", residual),
					zap.NamedError("last_step_error", ferr))
			} else {
				log.Warn("deal deleted through fallback path", zap.String("path", string(fb.path)))
			}
			return &Result{Deleted: true, Path: fb.path, Residual: residual}, nil
		}

		if ferr == nil {
			ferr = errDealStillPresent
		}
		deletionsTotal.WithLabelValues(string(fb.path), "failure").Inc()
		log.Warn("fallback deletion failed", zap.String("path", string(fb.path)), zap.Error(ferr))
		lastErr, lastPath = ferr, fb.path
	}

	de := newDeletionError(plan.DealID, lastPath, lastErr)
	deletionDuration.WithLabelValues(string(lastPath)).Observe(time.Since(start).Seconds())
	log.Error("deal deletion failed on every path",
		zap.String("path", string(lastPath)),
		zap.String("table", de.Table),
		zap.String("constraint", de.Constraint),
		zap.String("code", de.Code),
		zap.Error(lastErr))
	return &Result{Deleted: false, Path: lastPath}, de
}

func (e *Executor) runPrimary(ctx context.Context, plan *Plan, log *zap.Logger) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []int64
		if err := tx.Table(tableDeals).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", plan.DealID).
			Pluck("id", &locked).Error; err != nil {
			return fmt.Errorf("failed to lock deal: %w", err)
		}
		if len(locked) == 0 {
			return ErrDealNotFound
		}
		if err := e.refresh(ctx, tx, plan, log); err != nil {
			return err
		}
		for _, step := range plan.Steps {
			if _, err := deleteStep(tx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// runDeferred replays the plan on a dedicated connection with foreign-key
// checks postponed until commit.
func (e *Executor) runDeferred(ctx context.Context, plan *Plan, log *zap.Logger) error {
	return e.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})
		return conn.Transaction(func(tx *gorm.DB) error {
			if stmt, ok := schema.DeferConstraintsSQL(tx); ok {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("failed to defer constraints: %w", err)
				}
			}
			if err := e.refresh(ctx, tx, plan, log); err != nil {
				return err
			}
			for _, step := range plan.Steps {
				if _, err := deleteStep(tx, step); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// runDirect issues each step as its own statement and keeps going past
// failures. conn is a session so one failed statement does not stick to the
// rest.
func (e *Executor) runDirect(ctx context.Context, plan *Plan, log *zap.Logger) error {
	return e.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})
		if err := e.refresh(ctx, conn, plan, log); err != nil {
			log.Warn("failed to refresh plan, running it as given", zap.Error(err))
		}
		var lastErr error
		for _, step := range plan.Steps {
			n, err := deleteStep(conn, step)
			if err != nil {
				log.Warn("direct delete step failed, continuing",
					zap.String("step", step.String()),
					zap.Error(err))
				lastErr = err
				continue
			}
			log.Debug("direct delete step", zap.String("step", step.String()), zap.Int64("rows", n))
		}
		return lastErr
	})
}

// runDealOnly removes the deal row alone and relies on ON DELETE CASCADE
// wherever the schema defines it.
func (e *Executor) runDealOnly(ctx context.Context, plan *Plan, log *zap.Logger) error {
	return e.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})
		_, err := deleteStep(conn, Step{Table: tableDeals, Column: "id", Values: []int64{plan.DealID}, Reason: ReasonDeal})
		return err
	})
}

// refresh replaces plan.Steps with a plan resolved through db
func (e *Executor) refresh(ctx context.Context, db *gorm.DB, plan *Plan, log *zap.Logger) error {
	if e.resolver == nil {
		return nil
	}
	fresh, err := e.resolver.PlanTx(ctx, db, plan.DealID)
	if err != nil {
		return fmt.Errorf("failed to re-plan deletion: %w", err)
	}
	if len(fresh.Steps) != len(plan.Steps) {
		log.Info("deletion plan changed since it was built",
			zap.Int("planned_steps", len(plan.Steps)),
			zap.Int("current_steps", len(fresh.Steps)))
	}
	plan.Steps = fresh.Steps
	return nil
}

func (e *Executor) dealGone(ctx context.Context, dealID int64) (bool, error) {
	var n int64
	if err := e.db.WithContext(ctx).Table(tableDeals).Where("id = ?", dealID).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 0, nil
}

// residual counts rows the plan's dependent steps still match
func (e *Executor) residual(ctx context.Context, plan *Plan, log *zap.Logger) int64 {
	var total int64
	for _, step := range plan.Dependents() {
		n, err := countStep(e.db.WithContext(ctx), step)
		if err != nil {
			log.Warn("failed to count residual rows", zap.String("step", step.String()), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

func stepWhere(step Step) (string, []interface{}) {
	sql := "? IN ?"
	args := []interface{}{clause.Column{Name: step.Column}, step.Values}
	if step.Filter != nil {
		sql += " AND (? = ? OR ? IS NULL)"
		args = append(args,
			clause.Column{Name: step.Filter.Column}, step.Filter.Value,
			clause.Column{Name: step.Filter.Column})
	}
	return sql, args
}

func checkIdentifiers(step Step) error {
	if !schema.ValidIdentifier(step.Table) || !schema.ValidIdentifier(step.Column) {
		return fmt.Errorf("invalid identifier in step %s", step)
	}
	if step.Filter != nil && !schema.ValidIdentifier(step.Filter.Column) {
		return fmt.Errorf("invalid filter column in step %s", step)
	}
	return nil
}

func deleteStep(db *gorm.DB, step Step) (int64, error) {
	if len(step.Values) == 0 {
		return 0, nil
	}
	if err := checkIdentifiers(step); err != nil {
		return 0, &stepError{step: step, err: err}
	}
	where, args := stepWhere(step)
	res := db.Exec("DELETE FROM ? WHERE "+where, append([]interface{}{clause.Table{Name: step.Table}}, args...)...)
	if res.Error != nil {
		return 0, &stepError{step: step, err: res.Error}
	}
	return res.RowsAffected, nil
}

func countStep(db *gorm.DB, step Step) (int64, error) {
	if len(step.Values) == 0 {
		return 0, nil
	}
	if err := checkIdentifiers(step); err != nil {
		return 0, err
	}
	where, args := stepWhere(step)
	var n int64
	err := db.Raw("SELECT COUNT(*) FROM ? WHERE "+where, append([]interface{}{clause.Table{Name: step.Table}}, args...)...).
		Scan(&n).Error
	return n, err
}
