// Package memstore provides in-memory repositories for no-db mode and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custodia/internal/domain"
)

type Store struct {
	mu          sync.Mutex
	artifacts   map[string]domain.PolicyArtifact
	receipts    map[string][]domain.Receipt
	heads       map[string]domain.ChainHead
	checkpoints map[string][]domain.CheckpointRecord
}

func New() *Store {
	return &Store{
		artifacts:   make(map[string]domain.PolicyArtifact),
		receipts:    make(map[string][]domain.Receipt),
		heads:       make(map[string]domain.ChainHead),
		checkpoints: make(map[string][]domain.CheckpointRecord),
	}
}

func (s *Store) SaveArtifact(_ context.Context, artifact domain.PolicyArtifact) error {
	if artifact.ArtifactID == "" {
		return fmt.Errorf("%w: artifact missing id", domain.ErrMalformedInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ArtifactID] = artifact
	return nil
}

func (s *Store) GetArtifact(_ context.Context, artifactID string) (*domain.PolicyArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact, ok := s.artifacts[artifactID]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, artifactID)
	}
	out := artifact
	return &out, nil
}

func (s *Store) AppendReceipt(_ context.Context, receipt domain.Receipt, head domain.ChainHead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.heads[receipt.RunID]
	if !ok {
		if receipt.SequenceNumber != 1 {
			return fmt.Errorf("%w: run %s has no head but receipt seq is %d",
				domain.ErrChainBreak, receipt.RunID, receipt.SequenceNumber)
		}
	} else if current.HeadCounter+1 != receipt.SequenceNumber {
		return fmt.Errorf("%w: run %s head is %d, receipt seq is %d",
			domain.ErrChainBreak, receipt.RunID, current.HeadCounter, receipt.SequenceNumber)
	}
	s.receipts[receipt.RunID] = append(s.receipts[receipt.RunID], receipt)
	s.heads[receipt.RunID] = head
	return nil
}

func (s *Store) Head(_ context.Context, runID string) (*domain.ChainHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.heads[runID]
	if !ok {
		return nil, nil
	}
	out := head
	return &out, nil
}

func (s *Store) ListRange(_ context.Context, runID string, startSeq, endSeq int64) ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Receipt
	for _, receipt := range s.receipts[runID] {
		if receipt.SequenceNumber >= startSeq && receipt.SequenceNumber <= endSeq {
			out = append(out, receipt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) ListByRun(_ context.Context, runID string) ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Receipt, len(s.receipts[runID]))
	copy(out, s.receipts[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, record domain.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[record.RunID] = append(s.checkpoints[record.RunID], record)
	return nil
}

func (s *Store) ListCheckpoints(_ context.Context, runID string) ([]domain.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CheckpointRecord, len(s.checkpoints[runID]))
	copy(out, s.checkpoints[runID])
	sort.Slice(out, func(i, j int) bool {
		return out[i].BatchRange.StartSequence < out[j].BatchRange.StartSequence
	})
	return out, nil
}
