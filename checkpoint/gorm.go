package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/dagflow/internal/database"
	"github.com/BaSui01/dagflow/workflow"
)

// checkpointRecord is the row layout of the workflow_checkpoints table.
type checkpointRecord struct {
	RunID     string     `gorm:"column:run_id;primaryKey;size:64"`
	Workflow  string     `gorm:"column:workflow;size:255;index"`
	StepName  string     `gorm:"column:step_name;size:255"`
	RequestID string     `gorm:"column:request_id;size:64"`
	Payload   string     `gorm:"column:payload;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	CreatedAt time.Time  `gorm:"column:created_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

// TableName implements gorm's tabler.
func (checkpointRecord) TableName() string { return "workflow_checkpoints" }

// GormStore keeps checkpoints in a SQL table through GORM. It works with the
// postgres, mysql and sqlite dialects.
type GormStore struct {
	db         *gorm.DB
	maxRetries int
	logger     *zap.Logger
}

var _ workflow.CheckpointStore = (*GormStore)(nil)

// NewGormStore wraps db. Call AutoMigrate before first use on a fresh
// database.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:         db,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "checkpoint_gorm")),
	}
}

// AutoMigrate creates or updates the workflow_checkpoints table.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&checkpointRecord{}); err != nil {
		return fmt.Errorf("migrate checkpoint table: %w", err)
	}
	return nil
}

// Save upserts cp.
func (s *GormStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("%w: checkpoint without run id", workflow.ErrValidation)
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	rec := checkpointRecord{
		RunID:     cp.RunID,
		Workflow:  cp.Workflow,
		Payload:   string(payload),
		CreatedAt: cp.CreatedAt,
	}
	if cp.Pending != nil {
		rec.StepName = cp.Pending.StepName
		rec.RequestID = cp.Pending.RequestID
		rec.ExpiresAt = cp.Pending.ExpiresAt
	}

	err = database.WithTransactionRetry(ctx, s.db, s.maxRetries, s.logger, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"workflow", "step_name", "request_id", "payload", "expires_at", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}
	return nil
}

// Load returns the checkpoint for runID or an error matching
// workflow.ErrRunNotFound.
func (s *GormStore) Load(ctx context.Context, runID string) (*workflow.Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &workflow.RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	return decodeRecord(&rec)
}

// Claim deletes the row of runID only if it still waits on requestID. A
// single conditional DELETE decides the winner between concurrent claims.
func (s *GormStore) Claim(ctx context.Context, runID, requestID string) error {
	res := s.db.WithContext(ctx).
		Where("run_id = ? AND request_id = ?", runID, requestID).
		Delete(&checkpointRecord{})
	if res.Error != nil {
		return fmt.Errorf("claim checkpoint %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &workflow.RunNotFoundError{RunID: runID}
	}
	return nil
}

// Delete removes the checkpoint. Deleting an unknown run is not an error.
func (s *GormStore) Delete(ctx context.Context, runID string) error {
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}

// List returns the checkpoints of workflowName, or of every workflow when it
// is empty, oldest first.
func (s *GormStore) List(ctx context.Context, workflowName string) ([]*workflow.Checkpoint, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("run_id ASC")
	if workflowName != "" {
		q = q.Where("workflow = ?", workflowName)
	}

	var recs []checkpointRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	result := make([]*workflow.Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := decodeRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

func decodeRecord(rec *checkpointRecord) (*workflow.Checkpoint, error) {
	var cp workflow.Checkpoint
	if err := json.Unmarshal([]byte(rec.Payload), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", rec.RunID, err)
	}
	return &cp, nil
}
