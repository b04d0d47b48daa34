package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
	"custodia/internal/infra/merkle"
)

// A checkpoint's signature covers the canonical record with the signature
// itself and the lazily populated anchor proof omitted.
var checkpointSigOmitPaths = []string{"signer.signature", "anchorProof"}

// CheckpointTuple is one buffered receipt reference awaiting batching.
type CheckpointTuple struct {
	ReceiptID   string
	ReceiptHash string
	ArtifactID  string
	Sequence    int64
}

// Timer is an armed deadline that can be cancelled. The production factory
// wraps time.AfterFunc; tests inject a manual one.
type Timer interface {
	Stop() bool
}

type TimerFactory func(d time.Duration, fn func()) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func RealTimerFactory(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

type SchedulerConfig struct {
	RunID                    string
	ArtifactID               string
	MaxReceiptsPerCheckpoint int
	Interval                 time.Duration

	// OnFlushError receives failures from timer-driven flushes, which have
	// no caller to return an error to. May be nil.
	OnFlushError func(error)
}

// CheckpointScheduler buffers receipt tuples and commits them into signed
// Merkle checkpoints, either when the buffer reaches its size limit or when
// the interval timer fires, whichever comes first. The buffer is the only
// core-owned mutable shared state; every observation and mutation of it
// happens under one mutex so a timer flush and a size flush can never both
// claim the same tuples.
type CheckpointScheduler struct {
	mu     sync.Mutex
	buffer []CheckpointTuple
	timer  Timer
	closed bool

	cfg      SchedulerConfig
	key      cryptoinfra.KeyPair
	now      func() time.Time
	newTimer TimerFactory
	emit     func(domain.CheckpointRecord)
}

// NewCheckpointScheduler wires a scheduler with a real clock. emit receives
// each produced checkpoint asynchronously; it may be nil.
func NewCheckpointScheduler(cfg SchedulerConfig, key cryptoinfra.KeyPair, emit func(domain.CheckpointRecord)) (*CheckpointScheduler, error) {
	return newScheduler(cfg, key, emit, time.Now, RealTimerFactory)
}

// NewCheckpointSchedulerWithClock is the deterministic-test constructor.
func NewCheckpointSchedulerWithClock(cfg SchedulerConfig, key cryptoinfra.KeyPair, emit func(domain.CheckpointRecord), now func() time.Time, factory TimerFactory) (*CheckpointScheduler, error) {
	return newScheduler(cfg, key, emit, now, factory)
}

func newScheduler(cfg SchedulerConfig, key cryptoinfra.KeyPair, emit func(domain.CheckpointRecord), now func() time.Time, factory TimerFactory) (*CheckpointScheduler, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("%w: run_id is required", domain.ErrMalformedInput)
	}
	if cfg.MaxReceiptsPerCheckpoint < 1 {
		return nil, fmt.Errorf("%w: max receipts per checkpoint must be >= 1", domain.ErrMalformedInput)
	}
	if len(key.PrivateKey) == 0 {
		return nil, errors.New("checkpoint signing key is required")
	}
	return &CheckpointScheduler{
		cfg:      cfg,
		key:      key,
		now:      now,
		newTimer: factory,
		emit:     emit,
	}, nil
}

// Add buffers one tuple. Reaching the size limit checkpoints immediately
// and returns the record; otherwise a timer is armed if none is pending.
func (s *CheckpointScheduler) Add(tuple CheckpointTuple) (*domain.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("checkpoint scheduler is closed")
	}

	s.buffer = append(s.buffer, tuple)
	if len(s.buffer) >= s.cfg.MaxReceiptsPerCheckpoint {
		return s.flushLocked()
	}
	if s.timer == nil && s.cfg.Interval > 0 {
		s.timer = s.newTimer(s.cfg.Interval, s.onTimer)
	}
	return nil, nil
}

// CreateCheckpoint flushes whatever is buffered right now. It returns nil
// when the buffer is empty.
func (s *CheckpointScheduler) CreateCheckpoint() (*domain.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Pending returns the current buffer size.
func (s *CheckpointScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close cancels any armed timer without flushing. Buffered tuples are
// intentionally left for an explicit CreateCheckpoint by the owner.
func (s *CheckpointScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

// onTimer flushes in the background. A failed flush leaves the tuples
// buffered for the next Add or CreateCheckpoint to retry; the error itself
// is reported through OnFlushError.
func (s *CheckpointScheduler) onTimer() {
	if _, err := s.CreateCheckpoint(); err != nil && s.cfg.OnFlushError != nil {
		s.cfg.OnFlushError(fmt.Errorf("checkpoint flush for run %s: %w", s.cfg.RunID, err))
	}
}

func (s *CheckpointScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// flushLocked is the single mutation point: it disarms the timer and
// snapshots+clears the buffer atomically, so no tuple is ever read by two
// checkpoints or dropped.
func (s *CheckpointScheduler) flushLocked() (*domain.CheckpointRecord, error) {
	s.stopTimerLocked()
	if len(s.buffer) == 0 {
		return nil, nil
	}
	batch := s.buffer
	s.buffer = nil

	record, err := s.buildCheckpoint(batch)
	if err != nil {
		// Put the batch back so the tuples survive a crypto failure.
		s.buffer = append(batch, s.buffer...)
		return nil, err
	}
	if s.emit != nil {
		go s.emit(*record)
	}
	return record, nil
}

func (s *CheckpointScheduler) buildCheckpoint(batch []CheckpointTuple) (*domain.CheckpointRecord, error) {
	leaves := make([]string, len(batch))
	for i, tuple := range batch {
		leaves[i] = tuple.ReceiptHash
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, err
	}

	artifactID := s.cfg.ArtifactID
	if artifactID == "" {
		artifactID = batch[0].ArtifactID
	}
	record := domain.CheckpointRecord{
		CheckpointID: uuid.NewString(),
		RunID:        s.cfg.RunID,
		ArtifactID:   artifactID,
		MerkleRoot:   tree.Root(),
		BatchRange: domain.BatchRange{
			StartSequence: batch[0].Sequence,
			EndSequence:   batch[len(batch)-1].Sequence,
			Count:         len(batch),
		},
		LeafHashes: leaves,
		CreatedAt:  s.now().UTC().Format(time.RFC3339Nano),
		Signer: domain.Signer{
			PublicKey: cryptoinfra.EncodePublicKey(s.key.PublicKey),
			KeyID:     s.key.KeyID,
		},
	}

	signature, err := cryptoinfra.SignObject(s.key.PrivateKey, cryptoinfra.DomainRelease, record, checkpointSigOmitPaths)
	if err != nil {
		return nil, err
	}
	record.Signer.Signature = signature
	return &record, nil
}

// VerifyCheckpoint recomputes the Merkle root over the stored leaf hashes
// and checks the checkpoint signature.
func VerifyCheckpoint(record domain.CheckpointRecord) error {
	if len(record.LeafHashes) != record.BatchRange.Count {
		return fmt.Errorf("%w: checkpoint %s leaf count %d does not match batch count %d",
			domain.ErrMalformedInput, record.CheckpointID, len(record.LeafHashes), record.BatchRange.Count)
	}
	tree, err := merkle.Build(record.LeafHashes)
	if err != nil {
		return err
	}
	if tree.Root() != record.MerkleRoot {
		return fmt.Errorf("%w: checkpoint %s stored root %s recomputed %s",
			domain.ErrHashMismatch, record.CheckpointID, record.MerkleRoot, tree.Root())
	}
	pub, err := cryptoinfra.DecodePublicKey(record.Signer.PublicKey)
	if err != nil {
		return err
	}
	return cryptoinfra.VerifyObject(pub, cryptoinfra.DomainRelease, record, checkpointSigOmitPaths, record.Signer.Signature)
}

// CheckpointProofs generates the per-leaf inclusion proofs for a record.
func CheckpointProofs(record domain.CheckpointRecord, receiptIDs []string) ([]domain.InclusionProof, error) {
	if len(receiptIDs) != len(record.LeafHashes) {
		return nil, fmt.Errorf("%w: receipt id count does not match leaf count", domain.ErrMalformedInput)
	}
	tree, err := merkle.Build(record.LeafHashes)
	if err != nil {
		return nil, err
	}
	proofs := make([]domain.InclusionProof, len(record.LeafHashes))
	for i := range record.LeafHashes {
		proof, err := tree.Prove(i)
		if err != nil {
			return nil, err
		}
		siblings := make([]domain.ProofSibling, len(proof.Siblings))
		for j, sibling := range proof.Siblings {
			siblings[j] = domain.ProofSibling{Hash: sibling.Hash, Position: sibling.Position}
		}
		proofs[i] = domain.InclusionProof{
			ReceiptID:  receiptIDs[i],
			LeafHash:   proof.LeafHash,
			LeafIndex:  proof.LeafIndex,
			Siblings:   siblings,
			MerkleRoot: proof.Root,
		}
	}
	return proofs, nil
}
