package seal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/bundles"
	"custodia/internal/usecase"
)

// Session records one run entirely in process: a sealed artifact, its
// receipt chain, and checkpoints, exportable as an evidence bundle. A
// Session is safe for concurrent use; appends are serialized internally.
type Session struct {
	mu sync.Mutex

	client   *Client
	artifact domain.PolicyArtifact
	writer   *usecase.ChainWriter
	engine   usecase.EnforcementEngine

	runID       string
	receipts    []domain.Receipt
	checkpoints []domain.CheckpointRecord
	head        domain.ChainHead
}

// StartRun seals nothing itself; it opens a run against an already sealed
// artifact and writes the genesis receipt.
func (c *Client) StartRun(runID string, artifact domain.PolicyArtifact) (*Session, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrMalformedInput)
	}
	writer := usecase.NewChainWriter(c.key)
	receipt, head, err := writer.Genesis(usecase.GenesisInput{
		RunID:      runID,
		ArtifactID: artifact.ArtifactID,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		client:   c,
		artifact: artifact,
		writer:   writer,
		engine:   &usecase.TableEngine{},
		runID:    runID,
		receipts: []domain.Receipt{receipt},
		head:     head,
	}, nil
}

// Record appends one measurement receipt for the observed condition.
func (s *Session) Record(condition usecase.Condition, measurement *domain.Measurement) (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input := usecase.EnforcementInput{
		Condition: condition,
		Policy:    s.artifact.EnforcementPolicy,
	}
	if measurement != nil {
		input.MismatchedPaths = measurement.MismatchedPaths
	}
	decision, err := s.engine.Decide(context.Background(), input)
	if err != nil {
		return domain.Receipt{}, err
	}

	event := domain.EventMeasurementOK
	switch condition {
	case usecase.ConditionDrift:
		event = domain.EventDriftDetected
	case usecase.ConditionExpired, usecase.ConditionSignatureInvalid:
		event = domain.EventEnforcementAction
	}
	return s.appendLocked(event, decision, measurement)
}

// End writes the terminal receipt. Further appends fail chain validation
// downstream, not here; a session is cheap and single-run.
func (s *Session) End() (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(domain.EventRunEnded, domain.Decision{
		Action:     domain.ActionContinue,
		ReasonCode: domain.ReasonRunComplete,
	}, nil)
}

// Checkpoint seals every receipt not yet covered by a checkpoint.
func (s *Session) Checkpoint() (*domain.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := int64(1)
	if n := len(s.checkpoints); n > 0 {
		start = s.checkpoints[n-1].BatchRange.EndSequence + 1
	}
	var batch []domain.Receipt
	for _, receipt := range s.receipts {
		if receipt.SequenceNumber >= start {
			batch = append(batch, receipt)
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}

	scheduler, err := usecase.NewCheckpointScheduler(usecase.SchedulerConfig{
		RunID:                    s.runID,
		ArtifactID:               s.artifact.ArtifactID,
		MaxReceiptsPerCheckpoint: len(batch) + 1,
	}, s.client.key, nil)
	if err != nil {
		return nil, err
	}
	for _, receipt := range batch {
		if _, err := scheduler.Add(usecase.CheckpointTuple{
			ReceiptID:   receipt.ReceiptID,
			ReceiptHash: receipt.Chain.ThisReceiptHash,
			ArtifactID:  receipt.ArtifactID,
			Sequence:    receipt.SequenceNumber,
		}); err != nil {
			return nil, err
		}
	}
	record, err := scheduler.CreateCheckpoint()
	if err != nil {
		return nil, err
	}
	s.checkpoints = append(s.checkpoints, *record)
	return record, nil
}

func (s *Session) Receipts() []domain.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out
}

func (s *Session) Head() domain.ChainHead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Export checkpoints any uncovered receipts and writes the bundle directory.
func (s *Session) Export(dir string, payload map[string][]byte) (domain.BundleManifest, error) {
	if _, err := s.Checkpoint(); err != nil {
		return domain.BundleManifest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idBySeq := make(map[int64]string, len(s.receipts))
	for _, receipt := range s.receipts {
		idBySeq[receipt.SequenceNumber] = receipt.ReceiptID
	}
	var inclusions []domain.InclusionProof
	for _, record := range s.checkpoints {
		ids := make([]string, len(record.LeafHashes))
		for i := range record.LeafHashes {
			ids[i] = idBySeq[record.BatchRange.StartSequence+int64(i)]
		}
		proofs, err := usecase.CheckpointProofs(record, ids)
		if err != nil {
			return domain.BundleManifest{}, err
		}
		inclusions = append(inclusions, proofs...)
	}

	keyring, err := usecase.BuildKeyring(s.client.key, s.artifact.VaultID, nil)
	if err != nil {
		return domain.BundleManifest{}, err
	}
	return bundles.ExportDir(dir, bundles.ExportInput{
		RunID:       s.runID,
		Artifact:    s.artifact,
		Receipts:    s.receipts,
		Checkpoints: s.checkpoints,
		Inclusions:  inclusions,
		Keyring:     &keyring,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *Session) appendLocked(event domain.EventType, decision domain.Decision, measurement *domain.Measurement) (domain.Receipt, error) {
	receipt, err := s.writer.Append(usecase.ReceiptInput{
		RunID:           s.runID,
		ArtifactID:      s.artifact.ArtifactID,
		SequenceNumber:  s.head.HeadCounter + 1,
		PrevReceiptHash: s.head.HeadReceiptHash,
		EventType:       event,
		RecordedAt:      time.Now().UTC(),
		Decision:        decision,
		Measurement:     measurement,
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	s.receipts = append(s.receipts, receipt)
	s.head = usecase.NextChainHead(s.head, receipt)
	return receipt, nil
}
