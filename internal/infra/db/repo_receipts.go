package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custodia/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// AppendReceipt stores one receipt and advances the run's head in a single
// transaction. The head compare guards against concurrent writers even
// though appends are serialized per run upstream.
func (r *ReceiptRepository) AppendReceipt(ctx context.Context, receipt domain.Receipt, head domain.ChainHead) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if receipt.RunID == "" || receipt.ReceiptID == "" {
		return fmt.Errorf("%w: receipt missing run_id or receipt_id", domain.ErrMalformedInput)
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current ChainHeadModel
		err := tx.Where("run_id = ?", receipt.RunID).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if receipt.SequenceNumber != 1 {
				return fmt.Errorf("%w: run %s has no head but receipt seq is %d",
					domain.ErrChainBreak, receipt.RunID, receipt.SequenceNumber)
			}
		case err != nil:
			return err
		default:
			if current.HeadCounter+1 != receipt.SequenceNumber {
				return fmt.Errorf("%w: run %s head is %d, receipt seq is %d",
					domain.ErrChainBreak, receipt.RunID, current.HeadCounter, receipt.SequenceNumber)
			}
		}

		model := ReceiptModel{
			ReceiptID:       receipt.ReceiptID,
			RunID:           receipt.RunID,
			ArtifactID:      receipt.ArtifactID,
			SequenceNumber:  receipt.SequenceNumber,
			EventType:       string(receipt.EventType),
			ThisReceiptHash: receipt.Chain.ThisReceiptHash,
			ReceiptJSON:     raw,
			CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}

		headModel := ChainHeadModel{
			RunID:           head.RunID,
			ReceiptCount:    head.ReceiptCount,
			HeadCounter:     head.HeadCounter,
			HeadReceiptHash: head.HeadReceiptHash,
			UpdatedAt:       time.Now().UTC().Truncate(time.Microsecond),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).Create(&headModel).Error
	})
}

func (r *ReceiptRepository) Head(ctx context.Context, runID string) (*domain.ChainHead, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ChainHeadModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.ChainHead{
		RunID:           model.RunID,
		ReceiptCount:    model.ReceiptCount,
		HeadCounter:     model.HeadCounter,
		HeadReceiptHash: model.HeadReceiptHash,
	}, nil
}

func (r *ReceiptRepository) ListRange(ctx context.Context, runID string, startSeq, endSeq int64) ([]domain.Receipt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ReceiptModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND sequence_number >= ? AND sequence_number <= ?", runID, startSeq, endSeq).
		Order("sequence_number ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return receiptsFromModels(models)
}

func (r *ReceiptRepository) ListByRun(ctx context.Context, runID string) ([]domain.Receipt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ReceiptModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("sequence_number ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return receiptsFromModels(models)
}

func receiptsFromModels(models []ReceiptModel) ([]domain.Receipt, error) {
	out := make([]domain.Receipt, 0, len(models))
	for _, model := range models {
		var receipt domain.Receipt
		if err := json.Unmarshal(model.ReceiptJSON, &receipt); err != nil {
			return nil, fmt.Errorf("decode stored receipt %s: %w", model.ReceiptID, err)
		}
		out = append(out, receipt)
	}
	return out, nil
}
