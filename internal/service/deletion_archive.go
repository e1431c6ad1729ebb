package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/sales-pipeline-api/internal/cascade"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/mapper"
	"github.com/straye-as/sales-pipeline-api/internal/storage"
	"go.uber.org/zap"
)

// DeletionRecord is the archived snapshot of a deal taken before its cascade
type DeletionRecord struct {
	Deal       domain.DealDTO `json:"deal"`
	Plan       *cascade.Plan  `json:"plan"`
	DeletedBy  int64          `json:"deletedBy"`
	ArchivedAt time.Time      `json:"archivedAt"`
}

// DeletionArchive writes a JSON snapshot of each deal before it is deleted,
// so operators can reconcile an incomplete cascade afterwards.
type DeletionArchive struct {
	store  storage.Store
	logger *zap.Logger
}

// NewDeletionArchive creates an archive backed by store
func NewDeletionArchive(store storage.Store, logger *zap.Logger) *DeletionArchive {
	return &DeletionArchive{store: store, logger: logger}
}

// Save stores the record and returns its key
func (a *DeletionArchive) Save(ctx context.Context, deal *domain.Deal, plan *cascade.Plan, deletedBy int64) (string, error) {
	now := time.Now().UTC()
	record := DeletionRecord{
		Deal:       mapper.ToDealDTO(deal),
		Plan:       plan,
		DeletedBy:  deletedBy,
		ArchivedAt: now,
	}

	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode deletion record: %w", err)
	}

	key := fmt.Sprintf("deals/%s/deal-%d-%s.json", now.Format("2006/01"), deal.ID, uuid.NewString())
	if _, err := a.store.Put(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to store deletion record: %w", err)
	}

	a.logger.Debug("deletion record archived", zap.Int64("deal_id", deal.ID), zap.String("key", key))
	return key, nil
}

// Load reads a record back
func (a *DeletionArchive) Load(ctx context.Context, key string) (*DeletionRecord, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var record DeletionRecord
	if err := json.NewDecoder(rc).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode deletion record: %w", err)
	}
	return &record, nil
}
