package usecase

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

type manualTimer struct {
	stopped bool
	fire    func()
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

// manualTimerFactory records every armed timer without ever firing it on its
// own; tests fire explicitly.
type manualTimerFactory struct {
	timers []*manualTimer
}

func (f *manualTimerFactory) New(_ time.Duration, fn func()) Timer {
	timer := &manualTimer{fire: fn}
	f.timers = append(f.timers, timer)
	return timer
}

func testTuple(t *testing.T, runID string, seq int64) CheckpointTuple {
	t.Helper()
	hash := cryptoinfra.SHA256Hex([]byte(fmt.Sprintf("%s-%d", runID, seq)))
	return CheckpointTuple{
		ReceiptID:   cryptoinfra.SHA256Hex([]byte(fmt.Sprintf("id-%d", seq))),
		ReceiptHash: hash,
		ArtifactID:  "artifact-1",
		Sequence:    seq,
	}
}

func newTestScheduler(t *testing.T, maxReceipts int, interval time.Duration, emit func(domain.CheckpointRecord), factory TimerFactory) *CheckpointScheduler {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	scheduler, err := NewCheckpointSchedulerWithClock(SchedulerConfig{
		RunID:                    "run-1",
		ArtifactID:               "artifact-1",
		MaxReceiptsPerCheckpoint: maxReceipts,
		Interval:                 interval,
	}, testKey(t), emit, now, factory)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return scheduler
}

func TestScheduler_SizeBoundaryFlush(t *testing.T) {
	factory := &manualTimerFactory{}
	scheduler := newTestScheduler(t, 3, time.Minute, nil, factory.New)

	for seq := int64(1); seq <= 2; seq++ {
		record, err := scheduler.Add(testTuple(t, "run-1", seq))
		if err != nil {
			t.Fatalf("add %d: %v", seq, err)
		}
		if record != nil {
			t.Fatalf("checkpoint emitted before the size boundary at seq %d", seq)
		}
	}
	if scheduler.Pending() != 2 {
		t.Fatalf("pending: got %d want 2", scheduler.Pending())
	}

	record, err := scheduler.Add(testTuple(t, "run-1", 3))
	if err != nil {
		t.Fatalf("add 3: %v", err)
	}
	if record == nil {
		t.Fatal("size boundary did not produce a checkpoint")
	}
	if scheduler.Pending() != 0 {
		t.Fatalf("pending after flush: got %d want 0", scheduler.Pending())
	}

	if record.BatchRange.StartSequence != 1 || record.BatchRange.EndSequence != 3 || record.BatchRange.Count != 3 {
		t.Fatalf("batch range: %+v", record.BatchRange)
	}
	if err := VerifyCheckpoint(*record); err != nil {
		t.Fatalf("verify checkpoint: %v", err)
	}
	// The size flush must have disarmed the pending interval timer.
	if len(factory.timers) != 1 || !factory.timers[0].stopped {
		t.Fatal("interval timer was not disarmed by the size flush")
	}
}

func TestScheduler_TimerFlush(t *testing.T) {
	emitted := make(chan domain.CheckpointRecord, 1)
	factory := &manualTimerFactory{}
	scheduler := newTestScheduler(t, 100, time.Minute, func(record domain.CheckpointRecord) {
		emitted <- record
	}, factory.New)

	if _, err := scheduler.Add(testTuple(t, "run-1", 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := scheduler.Add(testTuple(t, "run-1", 2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(factory.timers) != 1 {
		t.Fatalf("expected one armed timer, got %d", len(factory.timers))
	}

	factory.timers[0].fire()

	select {
	case record := <-emitted:
		if record.BatchRange.Count != 2 {
			t.Fatalf("timer flush batch count: got %d want 2", record.BatchRange.Count)
		}
		if err := VerifyCheckpoint(record); err != nil {
			t.Fatalf("verify checkpoint: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer flush did not emit a checkpoint")
	}
	if scheduler.Pending() != 0 {
		t.Fatalf("pending after timer flush: got %d", scheduler.Pending())
	}
}

func TestScheduler_ManualFlushAndEmptyBuffer(t *testing.T) {
	scheduler := newTestScheduler(t, 100, 0, nil, RealTimerFactory)

	record, err := scheduler.CreateCheckpoint()
	if err != nil {
		t.Fatalf("flush empty: %v", err)
	}
	if record != nil {
		t.Fatal("empty buffer must not produce a checkpoint")
	}

	if _, err := scheduler.Add(testTuple(t, "run-1", 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	record, err = scheduler.CreateCheckpoint()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if record == nil || record.BatchRange.Count != 1 {
		t.Fatalf("manual flush record: %+v", record)
	}
}

func TestScheduler_ClosedRejectsAdd(t *testing.T) {
	scheduler := newTestScheduler(t, 10, time.Minute, nil, RealTimerFactory)
	scheduler.Close()
	if _, err := scheduler.Add(testTuple(t, "run-1", 1)); err == nil {
		t.Fatal("add after close must fail")
	}
}

func TestScheduler_BadLeafRestoresBuffer(t *testing.T) {
	scheduler := newTestScheduler(t, 10, 0, nil, RealTimerFactory)

	bad := testTuple(t, "run-1", 1)
	bad.ReceiptHash = "not a hash"
	if _, err := scheduler.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := scheduler.CreateCheckpoint(); err == nil {
		t.Fatal("invalid leaf must fail the flush")
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("buffer not restored after failed flush: pending=%d", scheduler.Pending())
	}
}

func TestScheduler_TimerFlushFailureReported(t *testing.T) {
	factory := &manualTimerFactory{}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	var reported []error
	scheduler, err := NewCheckpointSchedulerWithClock(SchedulerConfig{
		RunID:                    "run-1",
		ArtifactID:               "artifact-1",
		MaxReceiptsPerCheckpoint: 10,
		Interval:                 time.Minute,
		OnFlushError:             func(err error) { reported = append(reported, err) },
	}, testKey(t), nil, now, factory.New)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	bad := testTuple(t, "run-1", 1)
	bad.ReceiptHash = "not a hash"
	if _, err := scheduler.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(factory.timers) != 1 {
		t.Fatalf("timers armed: got %d want 1", len(factory.timers))
	}

	factory.timers[0].fire()
	if len(reported) != 1 {
		t.Fatalf("flush errors reported: got %d want 1", len(reported))
	}
	if !strings.Contains(reported[0].Error(), "run-1") {
		t.Fatalf("reported error names no run: %v", reported[0])
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("buffer not restored after failed timer flush: pending=%d", scheduler.Pending())
	}
}

func TestVerifyCheckpoint_DetectsMutation(t *testing.T) {
	scheduler := newTestScheduler(t, 10, 0, nil, RealTimerFactory)
	for seq := int64(1); seq <= 4; seq++ {
		if _, err := scheduler.Add(testTuple(t, "run-1", seq)); err != nil {
			t.Fatalf("add %d: %v", seq, err)
		}
	}
	record, err := scheduler.CreateCheckpoint()
	if err != nil || record == nil {
		t.Fatalf("flush: record=%v err=%v", record, err)
	}

	mutatedRoot := *record
	mutatedRoot.MerkleRoot = cryptoinfra.SHA256Hex([]byte("forged"))
	if err := VerifyCheckpoint(mutatedRoot); !errors.Is(err, domain.ErrHashMismatch) {
		t.Fatalf("mutated root: %v", err)
	}

	mutatedLeaf := *record
	mutatedLeaf.LeafHashes = append([]string(nil), record.LeafHashes...)
	mutatedLeaf.LeafHashes[2] = cryptoinfra.SHA256Hex([]byte("swapped"))
	if err := VerifyCheckpoint(mutatedLeaf); err == nil {
		t.Fatal("swapped leaf accepted")
	}

	mutatedCount := *record
	mutatedCount.BatchRange.Count = 3
	if err := VerifyCheckpoint(mutatedCount); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("mutated count: %v", err)
	}

	// anchorProof is excluded from the signature, so attaching one later
	// must not break verification.
	anchored := *record
	anchored.AnchorProof = &domain.AnchorProof{NetworkID: "sim:local", TxID: "sim-1", Simulated: true}
	if err := VerifyCheckpoint(anchored); err != nil {
		t.Fatalf("anchored checkpoint failed verification: %v", err)
	}
}

func TestCheckpointProofs_CoverEveryLeaf(t *testing.T) {
	scheduler := newTestScheduler(t, 10, 0, nil, RealTimerFactory)
	ids := make([]string, 0, 5)
	for seq := int64(1); seq <= 5; seq++ {
		tuple := testTuple(t, "run-1", seq)
		ids = append(ids, tuple.ReceiptID)
		if _, err := scheduler.Add(tuple); err != nil {
			t.Fatalf("add %d: %v", seq, err)
		}
	}
	record, err := scheduler.CreateCheckpoint()
	if err != nil || record == nil {
		t.Fatalf("flush: record=%v err=%v", record, err)
	}

	proofs, err := CheckpointProofs(*record, ids)
	if err != nil {
		t.Fatalf("checkpoint proofs: %v", err)
	}
	if len(proofs) != 5 {
		t.Fatalf("proof count: got %d want 5", len(proofs))
	}
	for i, proof := range proofs {
		if proof.ReceiptID != ids[i] {
			t.Fatalf("proof %d bound to wrong receipt", i)
		}
		if proof.MerkleRoot != record.MerkleRoot {
			t.Fatalf("proof %d cites a different root", i)
		}
	}

	if _, err := CheckpointProofs(*record, ids[:3]); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("mismatched id count: %v", err)
	}
}

func TestCheckpointManager_PerRunSchedulers(t *testing.T) {
	manager := NewCheckpointManager(2, time.Minute, testKey(t), nil)
	defer manager.Close()

	if _, err := manager.Add("run-a", testTuple(t, "run-a", 1)); err != nil {
		t.Fatalf("add run-a: %v", err)
	}
	if _, err := manager.Add("run-b", testTuple(t, "run-b", 1)); err != nil {
		t.Fatalf("add run-b: %v", err)
	}

	record, err := manager.Add("run-a", testTuple(t, "run-a", 2))
	if err != nil {
		t.Fatalf("add run-a 2: %v", err)
	}
	if record == nil || record.RunID != "run-a" {
		t.Fatalf("expected run-a checkpoint at the size boundary, got %+v", record)
	}

	flushed, err := manager.Flush("run-b")
	if err != nil {
		t.Fatalf("flush run-b: %v", err)
	}
	if flushed == nil || flushed.RunID != "run-b" || flushed.BatchRange.Count != 1 {
		t.Fatalf("run-b flush: %+v", flushed)
	}

	none, err := manager.Flush("run-without-scheduler")
	if err != nil || none != nil {
		t.Fatalf("unknown run flush: record=%v err=%v", none, err)
	}
}
