package usecase

import (
	"sync"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// CheckpointManager owns one scheduler per run, all sharing the same size
// and interval settings, signing key and emit sink.
type CheckpointManager struct {
	mu         sync.Mutex
	schedulers map[string]*CheckpointScheduler

	maxReceipts int
	interval    time.Duration
	key         cryptoinfra.KeyPair
	emit        func(domain.CheckpointRecord)

	// OnFlushError is handed to every scheduler the manager creates; set it
	// before the first Add. May be nil.
	OnFlushError func(error)
}

func NewCheckpointManager(maxReceipts int, interval time.Duration, key cryptoinfra.KeyPair, emit func(domain.CheckpointRecord)) *CheckpointManager {
	return &CheckpointManager{
		schedulers:  make(map[string]*CheckpointScheduler),
		maxReceipts: maxReceipts,
		interval:    interval,
		key:         key,
		emit:        emit,
	}
}

func (m *CheckpointManager) scheduler(runID, artifactID string) (*CheckpointScheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schedulers[runID]; ok {
		return s, nil
	}
	s, err := NewCheckpointScheduler(SchedulerConfig{
		RunID:                    runID,
		ArtifactID:               artifactID,
		MaxReceiptsPerCheckpoint: m.maxReceipts,
		Interval:                 m.interval,
		OnFlushError:             m.OnFlushError,
	}, m.key, m.emit)
	if err != nil {
		return nil, err
	}
	m.schedulers[runID] = s
	return s, nil
}

// Add routes one tuple to its run's scheduler, creating it on first use.
func (m *CheckpointManager) Add(runID string, tuple CheckpointTuple) (*domain.CheckpointRecord, error) {
	s, err := m.scheduler(runID, tuple.ArtifactID)
	if err != nil {
		return nil, err
	}
	return s.Add(tuple)
}

// Flush forces a checkpoint for a run. It returns nil when nothing is
// buffered or the run has no scheduler yet.
func (m *CheckpointManager) Flush(runID string) (*domain.CheckpointRecord, error) {
	m.mu.Lock()
	s, ok := m.schedulers[runID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.CreateCheckpoint()
}

func (m *CheckpointManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedulers {
		s.Close()
	}
}
