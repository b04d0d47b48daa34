package memstore

import (
	"context"
	"errors"
	"testing"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

func receipt(runID string, seq int64) domain.Receipt {
	return domain.Receipt{
		RunID:          runID,
		SequenceNumber: seq,
		Chain: domain.ChainLink{
			ThisReceiptHash: cryptoinfra.SHA256Hex([]byte{byte(seq)}),
		},
	}
}

func head(runID string, seq int64) domain.ChainHead {
	return domain.ChainHead{RunID: runID, ReceiptCount: seq, HeadCounter: seq}
}

func TestArtifactRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetArtifact(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing artifact: %v", err)
	}
	if err := store.SaveArtifact(ctx, domain.PolicyArtifact{}); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("artifact without id: %v", err)
	}

	if err := store.SaveArtifact(ctx, domain.PolicyArtifact{ArtifactID: "a-1", VaultID: "v"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.GetArtifact(ctx, "a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VaultID != "v" {
		t.Fatalf("artifact: %+v", got)
	}
}

func TestAppendReceipt_HeadAdvanceGuard(t *testing.T) {
	store := New()
	ctx := context.Background()

	// First receipt of a run must be sequence 1.
	if err := store.AppendReceipt(ctx, receipt("run-1", 2), head("run-1", 2)); !errors.Is(err, domain.ErrChainBreak) {
		t.Fatalf("first receipt at seq 2: %v", err)
	}

	if err := store.AppendReceipt(ctx, receipt("run-1", 1), head("run-1", 1)); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	if err := store.AppendReceipt(ctx, receipt("run-1", 3), head("run-1", 3)); !errors.Is(err, domain.ErrChainBreak) {
		t.Fatalf("sequence gap: %v", err)
	}
	if err := store.AppendReceipt(ctx, receipt("run-1", 1), head("run-1", 1)); !errors.Is(err, domain.ErrChainBreak) {
		t.Fatalf("replayed sequence: %v", err)
	}
	if err := store.AppendReceipt(ctx, receipt("run-1", 2), head("run-1", 2)); err != nil {
		t.Fatalf("append 2: %v", err)
	}
}

func TestHeadAndListing(t *testing.T) {
	store := New()
	ctx := context.Background()

	got, err := store.Head(ctx, "run-1")
	if err != nil || got != nil {
		t.Fatalf("head of unknown run: %v %v", got, err)
	}

	for seq := int64(1); seq <= 5; seq++ {
		if err := store.AppendReceipt(ctx, receipt("run-1", seq), head("run-1", seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	got, err = store.Head(ctx, "run-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if got.HeadCounter != 5 {
		t.Fatalf("head counter: %d", got.HeadCounter)
	}

	middle, err := store.ListRange(ctx, "run-1", 2, 4)
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(middle) != 3 || middle[0].SequenceNumber != 2 || middle[2].SequenceNumber != 4 {
		t.Fatalf("range: %+v", middle)
	}

	all, err := store.ListByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("list by run count: %d", len(all))
	}
}

func TestCheckpointsOrderedByStartSequence(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, start := range []int64{7, 1, 4} {
		if err := store.SaveCheckpoint(ctx, domain.CheckpointRecord{
			CheckpointID: cryptoinfra.SHA256Hex([]byte{byte(start)}),
			RunID:        "run-1",
			BatchRange:   domain.BatchRange{StartSequence: start, EndSequence: start + 2, Count: 3},
		}); err != nil {
			t.Fatalf("save checkpoint %d: %v", start, err)
		}
	}

	records, err := store.ListCheckpoints(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("count: %d", len(records))
	}
	for i, want := range []int64{1, 4, 7} {
		if records[i].BatchRange.StartSequence != want {
			t.Fatalf("order: %+v", records)
		}
	}
}
