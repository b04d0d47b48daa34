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

type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) SaveArtifact(ctx context.Context, artifact domain.PolicyArtifact) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if artifact.ArtifactID == "" || artifact.PolicyHash == "" {
		return fmt.Errorf("%w: artifact missing id or policy_hash", domain.ErrMalformedInput)
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	model := ArtifactModel{
		ID:           artifact.ArtifactID,
		PolicyHash:   artifact.PolicyHash,
		SealedHash:   artifact.SealedHash,
		IssuerKeyID:  artifact.Issuer.KeyID,
		ArtifactJSON: raw,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	// Upsert: sealing writes the row, appending an attestation rewrites it.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

func (r *ArtifactRepository) GetArtifact(ctx context.Context, artifactID string) (*domain.PolicyArtifact, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ArtifactModel
	err := r.db.WithContext(ctx).Where("id = ?", artifactID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, artifactID)
	}
	if err != nil {
		return nil, err
	}
	var artifact domain.PolicyArtifact
	if err := json.Unmarshal(model.ArtifactJSON, &artifact); err != nil {
		return nil, fmt.Errorf("decode stored artifact %s: %w", artifactID, err)
	}
	return &artifact, nil
}
