package db

import "time"

type ArtifactModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	PolicyHash   string    `gorm:"index;not null"`
	SealedHash   string    `gorm:"not null"`
	IssuerKeyID  string    `gorm:"index;not null"`
	ArtifactJSON []byte    `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type ReceiptModel struct {
	ID              int64     `gorm:"primaryKey"`
	ReceiptID       string    `gorm:"uniqueIndex;not null"`
	RunID           string    `gorm:"uniqueIndex:idx_run_seq;not null"`
	ArtifactID      string    `gorm:"index;not null"`
	SequenceNumber  int64     `gorm:"uniqueIndex:idx_run_seq;not null"`
	EventType       string    `gorm:"not null"`
	ThisReceiptHash string    `gorm:"not null"`
	ReceiptJSON     []byte    `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

type ChainHeadModel struct {
	RunID           string    `gorm:"primaryKey"`
	ReceiptCount    int64     `gorm:"not null"`
	HeadCounter     int64     `gorm:"not null"`
	HeadReceiptHash string    `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type CheckpointModel struct {
	ID             int64     `gorm:"primaryKey"`
	CheckpointID   string    `gorm:"uniqueIndex;not null"`
	RunID          string    `gorm:"index;not null"`
	ArtifactID     string    `gorm:"index;not null"`
	MerkleRoot     string    `gorm:"not null"`
	StartSequence  int64     `gorm:"not null"`
	EndSequence    int64     `gorm:"not null"`
	CheckpointJSON []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}
