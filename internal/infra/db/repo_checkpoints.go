package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custodia/internal/domain"

	"gorm.io/gorm"
)

type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, record domain.CheckpointRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if record.CheckpointID == "" || record.RunID == "" {
		return fmt.Errorf("%w: checkpoint missing id or run_id", domain.ErrMalformedInput)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	model := CheckpointModel{
		CheckpointID:   record.CheckpointID,
		RunID:          record.RunID,
		ArtifactID:     record.ArtifactID,
		MerkleRoot:     record.MerkleRoot,
		StartSequence:  record.BatchRange.StartSequence,
		EndSequence:    record.BatchRange.EndSequence,
		CheckpointJSON: raw,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CheckpointRepository) ListCheckpoints(ctx context.Context, runID string) ([]domain.CheckpointRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CheckpointModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("start_sequence ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CheckpointRecord, 0, len(models))
	for _, model := range models {
		var record domain.CheckpointRecord
		if err := json.Unmarshal(model.CheckpointJSON, &record); err != nil {
			return nil, fmt.Errorf("decode stored checkpoint %s: %w", model.CheckpointID, err)
		}
		out = append(out, record)
	}
	return out, nil
}
