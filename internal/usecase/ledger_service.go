package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodia/internal/domain"
)

// LedgerService coordinates the append path: decide, build the receipt,
// persist it, advance the head cache, feed the checkpoint scheduler. Appends
// are serialized per run with a per-run lock; the chain construction itself
// stays pure in ChainWriter.
type LedgerService struct {
	Writer      *ChainWriter
	Receipts    ReceiptRepository
	Artifacts   ArtifactRepository
	Cache       HeadCache
	Engine      EnforcementEngine
	Checkpoints *CheckpointManager

	mu   sync.Mutex
	runs map[string]*sync.Mutex
}

func NewLedgerService(writer *ChainWriter, receipts ReceiptRepository, artifacts ArtifactRepository) *LedgerService {
	return &LedgerService{
		Writer:    writer,
		Receipts:  receipts,
		Artifacts: artifacts,
		Engine:    &TableEngine{},
		runs:      make(map[string]*sync.Mutex),
	}
}

func (s *LedgerService) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]*sync.Mutex)
	}
	lock, ok := s.runs[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.runs[runID] = lock
	}
	return lock
}

// StartRun writes the genesis receipt for a run against a stored artifact.
func (s *LedgerService) StartRun(ctx context.Context, runID, artifactID string) (domain.Receipt, error) {
	if s.Artifacts != nil {
		if _, err := s.Artifacts.GetArtifact(ctx, artifactID); err != nil {
			return domain.Receipt{}, err
		}
	}

	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	head, err := s.head(ctx, runID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if head != nil {
		return domain.Receipt{}, fmt.Errorf("%w: run %s already has %d receipts", domain.ErrMalformedInput, runID, head.ReceiptCount)
	}

	receipt, newHead, err := s.Writer.Genesis(GenesisInput{
		RunID:      runID,
		ArtifactID: artifactID,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := s.commit(ctx, receipt, newHead); err != nil {
		return domain.Receipt{}, err
	}
	return receipt, nil
}

type RecordEventInput struct {
	RunID       string
	EventType   domain.EventType
	Condition   Condition
	Measurement *domain.Measurement

	// Decision overrides the enforcement engine when set.
	Decision *domain.Decision
}

// RecordEvent appends one event receipt to a running chain. The decision
// comes from the enforcement engine against the run's artifact unless the
// caller supplies one.
func (s *LedgerService) RecordEvent(ctx context.Context, input RecordEventInput) (domain.Receipt, error) {
	lock := s.runLock(input.RunID)
	lock.Lock()
	defer lock.Unlock()

	head, err := s.head(ctx, input.RunID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if head == nil {
		return domain.Receipt{}, fmt.Errorf("%w: run %s has no genesis receipt", domain.ErrNotFound, input.RunID)
	}

	genesis, err := s.Receipts.ListRange(ctx, input.RunID, 1, 1)
	if err != nil {
		return domain.Receipt{}, err
	}
	if len(genesis) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: run %s genesis receipt", domain.ErrNotFound, input.RunID)
	}
	artifactID := genesis[0].ArtifactID

	decision, err := s.decide(ctx, input, artifactID)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt, err := s.Writer.Append(ReceiptInput{
		RunID:           input.RunID,
		ArtifactID:      artifactID,
		SequenceNumber:  head.HeadCounter + 1,
		PrevReceiptHash: head.HeadReceiptHash,
		EventType:       input.EventType,
		RecordedAt:      time.Now().UTC(),
		Decision:        decision,
		Measurement:     input.Measurement,
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	newHead := NextChainHead(*head, receipt)
	if err := s.commit(ctx, receipt, newHead); err != nil {
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// EndRun appends the terminal RUN_ENDED receipt.
func (s *LedgerService) EndRun(ctx context.Context, runID string) (domain.Receipt, error) {
	return s.RecordEvent(ctx, RecordEventInput{
		RunID:     runID,
		EventType: domain.EventRunEnded,
		Decision: &domain.Decision{
			Action:     domain.ActionContinue,
			ReasonCode: domain.ReasonRunComplete,
		},
	})
}

func (s *LedgerService) Head(ctx context.Context, runID string) (*domain.ChainHead, error) {
	return s.head(ctx, runID)
}

func (s *LedgerService) decide(ctx context.Context, input RecordEventInput, artifactID string) (domain.Decision, error) {
	if input.Decision != nil {
		if err := input.Decision.Validate(); err != nil {
			return domain.Decision{}, err
		}
		return *input.Decision, nil
	}

	condition := input.Condition
	if condition == "" {
		condition = ConditionClean
	}
	engineInput := EnforcementInput{Condition: condition}
	if input.Measurement != nil {
		engineInput.MismatchedPaths = input.Measurement.MismatchedPaths
	}
	if s.Artifacts != nil {
		artifact, err := s.Artifacts.GetArtifact(ctx, artifactID)
		if err != nil {
			return domain.Decision{}, err
		}
		engineInput.Policy = artifact.EnforcementPolicy
	}
	engine := s.Engine
	if engine == nil {
		engine = &TableEngine{}
	}
	return engine.Decide(ctx, engineInput)
}

func (s *LedgerService) commit(ctx context.Context, receipt domain.Receipt, head domain.ChainHead) error {
	if err := s.Receipts.AppendReceipt(ctx, receipt, head); err != nil {
		return err
	}
	if s.Cache != nil {
		// Cache errors never fail an append; the repository is durable.
		_ = s.Cache.SetHead(ctx, head)
	}
	if s.Checkpoints != nil {
		if _, err := s.Checkpoints.Add(receipt.RunID, CheckpointTuple{
			ReceiptID:   receipt.ReceiptID,
			ReceiptHash: receipt.Chain.ThisReceiptHash,
			ArtifactID:  receipt.ArtifactID,
			Sequence:    receipt.SequenceNumber,
		}); err != nil {
			return fmt.Errorf("checkpoint scheduling: %w", err)
		}
	}
	return nil
}

func (s *LedgerService) head(ctx context.Context, runID string) (*domain.ChainHead, error) {
	if s.Cache != nil {
		if head, err := s.Cache.GetHead(ctx, runID); err == nil && head != nil {
			return head, nil
		}
	}
	return s.Receipts.Head(ctx, runID)
}
