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

// Sweeper removes dependent rows whose parent deal or wip row no longer
// exists. It cleans up after fallback deletions that left residual rows.
type Sweeper struct {
	db           *gorm.DB
	introspector schema.Introspector
	logger       *zap.Logger
}

// NewSweeper creates a sweeper
func NewSweeper(db *gorm.DB, introspector schema.Introspector, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		db:           db,
		introspector: introspector,
		logger:       logger,
	}
}

// orphanTarget is a table.column whose values must exist in parent.id
type orphanTarget struct {
	table  string
	column string
	parent string
}

// Sweep deletes orphans and returns the number of rows removed. Deal-level
// orphans go first so wip rows freed by them are picked up in the same run.
// Activities are never swept; the log keeps entries about deleted deals.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	var total int64

	dealTargets, err := s.targets(ctx, tableDeals, columnDealID, tableInstallations, tableWip)
	if err != nil {
		return 0, err
	}
	n, err := s.sweepTargets(ctx, dealTargets)
	total += n
	if err != nil {
		return total, err
	}

	wipTargets, err := s.targets(ctx, tableWip, columnWipID, tableWipUpdates, tableRevenueRecognition)
	if err != nil {
		return total, err
	}
	n, err = s.sweepTargets(ctx, wipTargets)
	total += n
	if err != nil {
		return total, err
	}

	if total > 0 {
		s.logger.Info("orphan sweep removed rows", zap.Int64("rows", total))
	} else {
		s.logger.Debug("orphan sweep found nothing")
	}
	return total, nil
}

// targets lists the named tables plus every table with a foreign key to
// parent, restricted to those that exist and have the key column.
func (s *Sweeper) targets(ctx context.Context, parent, column string, named ...string) ([]orphanTarget, error) {
	tables, err := s.introspector.ExistingTables(ctx, append([]string{parent}, named...)...)
	if err != nil {
		return nil, err
	}
	if !tables.Has(parent) {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []orphanTarget
	add := func(table, col string) {
		key := strings.ToLower(table + "." + col)
		if seen[key] || strings.EqualFold(table, tableActivities) || strings.EqualFold(table, parent) {
			return
		}
		seen[key] = true
		out = append(out, orphanTarget{table: table, column: col, parent: parent})
	}

	for _, table := range named {
		if !tables.Has(table) {
			continue
		}
		cols, err := s.introspector.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		if cols.Has(column) {
			add(table, column)
		}
	}

	fks, err := s.introspector.ForeignKeysReferencing(ctx, parent)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		if strings.EqualFold(fk.ReferencedColumn, "id") {
			add(fk.DependentTable, fk.DependentColumn)
		}
	}
	return out, nil
}

func (s *Sweeper) sweepTargets(ctx context.Context, targets []orphanTarget) (int64, error) {
	var total int64
	for _, t := range targets {
		if !schema.ValidIdentifier(t.table) || !schema.ValidIdentifier(t.column) {
			continue
		}
		res := s.db.WithContext(ctx).Exec(
			"DELETE FROM ? WHERE ? IS NOT NULL AND ? NOT IN (SELECT id FROM ?)",
			clause.Table{Name: t.table}, clause.Column{Name: t.column},
			clause.Column{Name: t.column}, clause.Table{Name: t.parent},
		)
		if res.Error != nil {
			return total, fmt.Errorf("failed to sweep %s.%s: %w", t.table, t.column, res.Error)
		}
		if res.RowsAffected > 0 {
			sweptRowsTotal.WithLabelValues(t.table).Add(float64(res.RowsAffected))
			s.logger.Warn("removed orphaned rows",
				zap.String("table", t.table),
				zap.String("column", t.column),
				zap.Int64("rows", res.RowsAffected))
		}
		total += res.RowsAffected
	}
	return total, nil
}
