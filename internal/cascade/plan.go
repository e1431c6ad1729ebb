// Package cascade removes a deal together with every row that exists only
// because the deal exists. Planner discovers the dependents from the live
// schema; Executor deletes them.
package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/straye-as/sales-pipeline-api/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	tableDeals              = "deals"
	tableWip                = "wip"
	tableWipUpdates         = "wip_updates"
	tableRevenueRecognition = "revenue_recognition"
	tableInstallations      = "installations"
	tableActivities         = "activities"

	columnDealID      = "deal_id"
	columnWipID       = "wip_id"
	columnRelatedID   = "related_id"
	columnRelatedType = "related_type"

	relatedTypeDeal = "deal"
)

// KnownDependents are the tables checked by name before generic discovery
var KnownDependents = []string{tableInstallations, tableWip, tableWipUpdates, tableRevenueRecognition, tableActivities}

// Reason records why a step was planned
type Reason string

const (
	ReasonWipChain   Reason = "wip_chain"
	ReasonDirect     Reason = "direct"
	ReasonCatchAll   Reason = "catch_all"
	ReasonForeignKey Reason = "foreign_key"
	ReasonDeal       Reason = "deal"
)

// Filter narrows a step to rows whose Column equals Value or is NULL
type Filter struct {
	Column string
	Value  string
}

// Step deletes rows of Table whose Column is one of Values
type Step struct {
	Table  string  `json:"table"`
	Column string  `json:"column"`
	Values []int64 `json:"values"`
	Filter *Filter `json:"filter,omitempty"`
	Reason Reason  `json:"reason"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s.%s", s.Table, s.Column)
}

// Plan is an ordered list of deletions, deepest dependents first. The deal row
// is always the last step.
type Plan struct {
	DealID int64  `json:"dealId"`
	Steps  []Step `json:"steps"`
}

// Dependents returns every step except the final deal delete
func (p *Plan) Dependents() []Step {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[:len(p.Steps)-1]
}

// Planner builds deletion plans from the live schema
type Planner struct {
	db           *gorm.DB
	introspector schema.Introspector
	logger       *zap.Logger
}

// NewPlanner creates a planner
func NewPlanner(db *gorm.DB, introspector schema.Introspector, logger *zap.Logger) *Planner {
	return &Planner{
		db:           db,
		introspector: introspector,
		logger:       logger,
	}
}

// maxReferenceDepth bounds how far planning follows foreign keys below a
// dependent table
const maxReferenceDepth = 4

// planBuilder accumulates steps for one Plan call
type planBuilder struct {
	db       *gorm.DB
	dealID   int64
	chain    []Step
	direct   []Step
	catchAll []Step
	claimed  map[string]bool // table.column pairs already covered
}

func claimKey(table, column string) string {
	return strings.ToLower(table + "." + column)
}

func (b *planBuilder) claim(table, column string) bool {
	key := claimKey(table, column)
	if b.claimed[key] {
		return false
	}
	b.claimed[key] = true
	return true
}

// Plan resolves every dependent of dealID. Tables or columns missing from the
// schema are skipped.
func (p *Planner) Plan(ctx context.Context, dealID int64) (*Plan, error) {
	return p.build(ctx, p.db, dealID)
}

// PlanTx is Plan with dependent rows read through tx, so a caller holding a
// lock on the deal plans against the rows that lock protects.
func (p *Planner) PlanTx(ctx context.Context, tx *gorm.DB, dealID int64) (*Plan, error) {
	return p.build(ctx, tx, dealID)
}

func (p *Planner) build(ctx context.Context, db *gorm.DB, dealID int64) (*Plan, error) {
	log := p.logger.With(zap.Int64("deal_id", dealID))

	allTables, err := p.introspector.Tables(ctx)
	if err != nil {
		return nil, err
	}
	known, err := p.introspector.ExistingTables(ctx, KnownDependents...)
	if err != nil {
		return nil, err
	}

	b := &planBuilder{db: db, dealID: dealID, claimed: make(map[string]bool)}

	if err := p.planWipChain(ctx, b, known, log); err != nil {
		return nil, err
	}
	if err := p.planDirect(ctx, b, known, log); err != nil {
		return nil, err
	}
	if err := p.planCatchAll(ctx, b, allTables, log); err != nil {
		return nil, err
	}

	plan := &Plan{DealID: dealID}
	plan.Steps = append(plan.Steps, b.chain...)
	plan.Steps = append(plan.Steps, b.direct...)
	plan.Steps = append(plan.Steps, b.catchAll...)
	plan.Steps = append(plan.Steps, Step{
		Table:  tableDeals,
		Column: "id",
		Values: []int64{dealID},
		Reason: ReasonDeal,
	})

	log.Debug("deletion plan built", zap.Int("steps", len(plan.Steps)))
	return plan, nil
}

// planWipChain covers deal -> wip -> {wip_updates, revenue_recognition, ...}.
// Any other table with a foreign key into wip joins the chain through the
// key's own column.
func (p *Planner) planWipChain(ctx context.Context, b *planBuilder, known schema.Set, log *zap.Logger) error {
	var wipIDs []int64
	wipCols := schema.Set{}
	if known.Has(tableWip) {
		cols, err := p.introspector.Columns(ctx, tableWip)
		if err != nil {
			return err
		}
		wipCols = cols
		if cols.Has(columnDealID) {
			if err := b.db.WithContext(ctx).Table(tableWip).Where("deal_id = ?", b.dealID).Pluck("id", &wipIDs).Error; err != nil {
				return fmt.Errorf("failed to resolve wip rows: %w", err)
			}
		}
	} else {
		log.Debug("wip table absent, skipping wip-mediated deletes")
	}

	for _, child := range []string{tableWipUpdates, tableRevenueRecognition} {
		if !known.Has(child) {
			continue
		}
		cols, err := p.introspector.Columns(ctx, child)
		if err != nil {
			return err
		}
		planned := false
		if cols.Has(columnWipID) && len(wipIDs) > 0 && b.claim(child, columnWipID) {
			step := Step{Table: child, Column: columnWipID, Values: wipIDs, Reason: ReasonWipChain}
			if err := p.appendWithReferencing(ctx, b, &b.chain, step, log); err != nil {
				return err
			}
			planned = true
		}
		// legacy rows may carry the deal id directly
		if cols.Has(columnDealID) && b.claim(child, columnDealID) {
			step := Step{Table: child, Column: columnDealID, Values: []int64{b.dealID}, Reason: ReasonWipChain}
			if err := p.appendWithReferencing(ctx, b, &b.chain, step, log); err != nil {
				return err
			}
			planned = true
		}
		if !planned {
			log.Debug("no usable key column on wip child", zap.String("table", child))
		}
	}

	if wipCols.Has(columnDealID) && b.claim(tableWip, columnDealID) {
		step := Step{Table: tableWip, Column: columnDealID, Values: []int64{b.dealID}, Reason: ReasonWipChain}
		if err := p.appendWithReferencing(ctx, b, &b.chain, step, log); err != nil {
			return err
		}
	}
	return nil
}

// appendWithReferencing adds step to dst after the rows that reference it
func (p *Planner) appendWithReferencing(ctx context.Context, b *planBuilder, dst *[]Step, step Step, log *zap.Logger) error {
	refs, err := p.referencing(ctx, b, step, 1, log)
	if err != nil {
		return err
	}
	*dst = append(*dst, refs...)
	*dst = append(*dst, step)
	return nil
}

// referencing plans the rows that point at what step deletes through declared
// foreign keys, children before their parents. Only keys that currently have
// referencing rows produce a step.
func (p *Planner) referencing(ctx context.Context, b *planBuilder, step Step, depth int, log *zap.Logger) ([]Step, error) {
	if depth > maxReferenceDepth {
		log.Warn("foreign key chain too deep, not followed further", zap.String("step", step.String()))
		return nil, nil
	}
	fks, err := p.introspector.ForeignKeysReferencing(ctx, step.Table)
	if err != nil {
		return nil, err
	}

	var out []Step
	for _, fk := range fks {
		// deals rows are never removed as somebody's dependent; self references
		// go with the parent rows in the same statement
		if strings.EqualFold(fk.DependentTable, tableDeals) || strings.EqualFold(fk.DependentTable, step.Table) {
			continue
		}
		refColumn := fk.ReferencedColumn
		if refColumn == "" {
			refColumn = "id"
		}
		if !schema.ValidIdentifier(fk.DependentTable) || !schema.ValidIdentifier(fk.DependentColumn) || !schema.ValidIdentifier(refColumn) {
			continue
		}
		if b.claimed[claimKey(fk.DependentTable, fk.DependentColumn)] {
			continue
		}

		keys, err := p.keys(ctx, b.db, step, refColumn)
		if err != nil {
			log.Debug("referenced keys unavailable",
				zap.String("step", step.String()),
				zap.String("column", refColumn),
				zap.Error(err))
			continue
		}
		if len(keys) == 0 {
			continue
		}

		b.claim(fk.DependentTable, fk.DependentColumn)
		child := Step{Table: fk.DependentTable, Column: fk.DependentColumn, Values: keys, Reason: ReasonForeignKey}
		deeper, err := p.referencing(ctx, b, child, depth+1, log)
		if err != nil {
			return nil, err
		}
		out = append(out, deeper...)
		out = append(out, child)
		log.Debug("foreign key dependent planned",
			zap.String("table", child.Table),
			zap.String("column", child.Column),
			zap.String("parent", step.Table),
			zap.Int("keys", len(keys)))
	}
	return out, nil
}

// keys reads column from the rows step deletes
func (p *Planner) keys(ctx context.Context, db *gorm.DB, step Step, column string) ([]int64, error) {
	if err := checkIdentifiers(step); err != nil {
		return nil, err
	}
	where, args := stepWhere(step)
	var keys []int64
	err := savepointed(ctx, db, func(tx *gorm.DB) error {
		return tx.Table(step.Table).Where(where, args...).Pluck(column, &keys).Error
	})
	return keys, err
}

// savepointed runs a read that may fail, e.g. on an unexpected column type.
// Inside a transaction it gets its own savepoint so the failure does not
// abort the enclosing transaction.
func savepointed(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

// planDirect covers tables keyed straight to the deal
func (p *Planner) planDirect(ctx context.Context, b *planBuilder, known schema.Set, log *zap.Logger) error {
	if known.Has(tableInstallations) {
		cols, err := p.introspector.Columns(ctx, tableInstallations)
		if err != nil {
			return err
		}
		if cols.Has(columnDealID) && b.claim(tableInstallations, columnDealID) {
			step := Step{Table: tableInstallations, Column: columnDealID, Values: []int64{b.dealID}, Reason: ReasonDirect}
			if err := p.appendWithReferencing(ctx, b, &b.direct, step, log); err != nil {
				return err
			}
		} else {
			log.Debug("installations has no deal_id column")
		}
	}

	if known.Has(tableActivities) {
		cols, err := p.introspector.Columns(ctx, tableActivities)
		if err != nil {
			return err
		}
		if cols.Has(columnRelatedID) && b.claim(tableActivities, columnRelatedID) {
			step := Step{Table: tableActivities, Column: columnRelatedID, Values: []int64{b.dealID}, Reason: ReasonDirect}
			if cols.Has(columnRelatedType) {
				step.Filter = &Filter{Column: columnRelatedType, Value: relatedTypeDeal}
			}
			if err := p.appendWithReferencing(ctx, b, &b.direct, step, log); err != nil {
				return err
			}
		}
		if cols.Has(columnDealID) && b.claim(tableActivities, columnDealID) {
			step := Step{Table: tableActivities, Column: columnDealID, Values: []int64{b.dealID}, Reason: ReasonDirect}
			if err := p.appendWithReferencing(ctx, b, &b.direct, step, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// planCatchAll checks tables nobody anticipated. A column qualifies when its
// name mentions "deal" or a foreign key ties it to deals.id; a step is only
// emitted when the count finds referencing rows.
func (p *Planner) planCatchAll(ctx context.Context, b *planBuilder, allTables schema.Set, log *zap.Logger) error {
	fks, err := p.introspector.ForeignKeysReferencing(ctx, tableDeals)
	if err != nil {
		return err
	}
	declared := make(map[string]bool, len(fks))
	for _, fk := range fks {
		declared[claimKey(fk.DependentTable, fk.DependentColumn)] = true
	}

	for _, table := range allTables.Sorted() {
		if strings.EqualFold(table, tableDeals) || !schema.ValidIdentifier(table) {
			continue
		}
		cols, err := p.introspector.Columns(ctx, table)
		if err != nil {
			return err
		}
		for _, col := range cols.Sorted() {
			if !schema.ValidIdentifier(col) || !p.candidateColumn(table, col, declared) {
				continue
			}
			if b.claimed[claimKey(table, col)] {
				continue
			}
			count, err := p.countReferences(ctx, b.db, table, col, b.dealID)
			if err != nil {
				// type mismatches (e.g. a text column named deal_stage) land here
				log.Debug("catch-all count skipped",
					zap.String("table", table),
					zap.String("column", col),
					zap.Error(err))
				continue
			}
			if count == 0 {
				continue
			}
			b.claim(table, col)
			step := Step{Table: table, Column: col, Values: []int64{b.dealID}, Reason: ReasonCatchAll}
			if err := p.appendWithReferencing(ctx, b, &b.catchAll, step, log); err != nil {
				return err
			}
			log.Info("catch-all dependent discovered",
				zap.String("table", table),
				zap.String("column", col),
				zap.Int64("rows", count))
		}
	}
	return nil
}

func (p *Planner) candidateColumn(table, col string, declared map[string]bool) bool {
	lower := strings.ToLower(col)
	if declared[claimKey(table, col)] {
		return true
	}
	return strings.Contains(lower, "deal")
}

func (p *Planner) countReferences(ctx context.Context, db *gorm.DB, table, column string, dealID int64) (int64, error) {
	var count int64
	err := savepointed(ctx, db, func(tx *gorm.DB) error {
		return tx.Raw("SELECT COUNT(*) FROM ? WHERE ? = ?", clause.Table{Name: table}, clause.Column{Name: column}, dealID).
			Scan(&count).Error
	})
	return count, err
}
