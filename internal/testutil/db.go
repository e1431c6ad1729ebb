package testutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrInjected is returned by statements failed through FailDeletes
var ErrInjected = errors.New("injected failure")

// tableDDL is the test schema in creation order. Foreign keys have no ON
// DELETE action, so dependents must be removed before their parent.
var tableDDL = []struct {
	name string
	sql  string
}{
	{"customers", `CREATE TABLE customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		client_type TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"deals", `CREATE TABLE deals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		mrc REAL DEFAULT 0,
		nrc REAL DEFAULT 0,
		contract_length INTEGER DEFAULT 12,
		tcv REAL DEFAULT 0,
		value REAL NOT NULL,
		category TEXT,
		client_type TEXT,
		stage TEXT NOT NULL DEFAULT 'prospecting',
		user_id INTEGER,
		customer_id INTEGER REFERENCES customers(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		closed_date DATETIME
	)`},
	{"wip", `CREATE TABLE wip (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deal_id INTEGER NOT NULL REFERENCES deals(id),
		status TEXT DEFAULT 'open',
		notes TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"wip_updates", `CREATE TABLE wip_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wip_id INTEGER NOT NULL REFERENCES wip(id),
		user_id INTEGER,
		note TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"revenue_recognition", `CREATE TABLE revenue_recognition (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wip_id INTEGER NOT NULL REFERENCES wip(id),
		month TEXT NOT NULL,
		amount REAL NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"installations", `CREATE TABLE installations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deal_id INTEGER NOT NULL REFERENCES deals(id),
		status TEXT DEFAULT 'scheduled',
		scheduled_date DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"activities", `CREATE TABLE activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		user_id INTEGER,
		content TEXT,
		related_id INTEGER,
		related_type TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
}

// OpenTestDB opens an empty SQLite database in a temp file with foreign keys
// enforced. A file is used rather than :memory: so every pooled connection
// sees the same data.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err, "failed to open test database")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestDB opens a test database with the full schema
func SetupTestDB(t *testing.T) *gorm.DB {
	return SetupTestDBWithout(t)
}

// SetupTestDBWithout creates the schema minus the named tables, mimicking an
// environment that never received some migrations.
func SetupTestDBWithout(t *testing.T, skip ...string) *gorm.DB {
	t.Helper()
	db := OpenTestDB(t)
	for _, ddl := range tableDDL {
		if contains(skip, ddl.name) {
			continue
		}
		require.NoError(t, db.Exec(ddl.sql).Error, "failed to create table %s", ddl.name)
	}
	return db
}

// Exec runs raw statements, failing the test on error
func Exec(t *testing.T, db *gorm.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error, stmt)
	}
}

// CountRows counts rows of table matching where
func CountRows(t *testing.T, db *gorm.DB, table, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// CreateTestCustomer inserts a customer
func CreateTestCustomer(t *testing.T, db *gorm.DB, name string) *domain.Customer {
	t.Helper()
	customer := &domain.Customer{Name: name, ClientType: "business"}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

// CreateTestDeal inserts a deal owned by user 1
func CreateTestDeal(t *testing.T, db *gorm.DB, name string, customerID *int64) *domain.Deal {
	t.Helper()
	deal := &domain.Deal{
		Name:           name,
		MRC:            100,
		NRC:            200,
		ContractLength: 12,
		TCV:            1400,
		Value:          1400,
		Category:       "fiber",
		Stage:          domain.DealStageProspecting,
		UserID:         1,
		CustomerID:     customerID,
	}
	require.NoError(t, db.Create(deal).Error)
	return deal
}

// CreateTestWip inserts a WIP row for a deal
func CreateTestWip(t *testing.T, db *gorm.DB, dealID int64) *domain.Wip {
	t.Helper()
	wip := &domain.Wip{DealID: dealID, Status: "open"}
	require.NoError(t, db.Create(wip).Error)
	return wip
}

// CreateTestWipUpdate inserts a progress note for a WIP row
func CreateTestWipUpdate(t *testing.T, db *gorm.DB, wipID int64) *domain.WipUpdate {
	t.Helper()
	update := &domain.WipUpdate{WipID: wipID, UserID: 1, Note: "cabling done"}
	require.NoError(t, db.Create(update).Error)
	return update
}

// CreateTestRevenue inserts a revenue recognition entry for a WIP row
func CreateTestRevenue(t *testing.T, db *gorm.DB, wipID int64) *domain.RevenueRecognition {
	t.Helper()
	rev := &domain.RevenueRecognition{WipID: wipID, Month: "2024-05", Amount: 100}
	require.NoError(t, db.Create(rev).Error)
	return rev
}

// CreateTestInstallation inserts an installation for a deal
func CreateTestInstallation(t *testing.T, db *gorm.DB, dealID int64) *domain.Installation {
	t.Helper()
	inst := &domain.Installation{DealID: dealID, Status: "scheduled"}
	require.NoError(t, db.Create(inst).Error)
	return inst
}

// CreateTestActivity inserts an activity related to an entity
func CreateTestActivity(t *testing.T, db *gorm.DB, relatedID int64, relatedType string) *domain.Activity {
	t.Helper()
	activity := &domain.Activity{
		Type:        domain.ActivityDealUpdated,
		UserID:      1,
		Content:     "test activity",
		RelatedID:   &relatedID,
		RelatedType: &relatedType,
		Metadata:    datatypes.JSONMap{"source": "test"},
	}
	require.NoError(t, db.Create(activity).Error)
	return activity
}

// FailDeletes makes the next n DELETE statements against table fail with
// ErrInjected. A negative n fails every matching statement. The returned
// function removes the hook.
func FailDeletes(t *testing.T, db *gorm.DB, table string, n int) func() {
	t.Helper()
	var mu sync.Mutex
	remaining := n
	prefix := "delete from " + strings.ToLower(table) + " "

	name := fmt.Sprintf("testutil:fail_delete_%s_%d", table, time.Now().UnixNano())
	err := db.Callback().Raw().Before("gorm:raw").Register(name, func(tx *gorm.DB) {
		sql := strings.NewReplacer("`", "", `"`, "").Replace(tx.Statement.SQL.String())
		if !strings.HasPrefix(strings.ToLower(sql), prefix) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if remaining == 0 {
			return
		}
		if remaining > 0 {
			remaining--
		}
		_ = tx.AddError(ErrInjected)
	})
	require.NoError(t, err)

	remove := func() {
		_ = db.Callback().Raw().Remove(name)
	}
	t.Cleanup(remove)
	return remove
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
