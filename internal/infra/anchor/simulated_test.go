package anchor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSimulated_Submit(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sim := NewSimulated("")
	sim.Now = func() time.Time { return fixed }

	proof, err := sim.Submit(context.Background(), []byte("merkle-root"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if proof.NetworkID != "sim:local" {
		t.Fatalf("network: %s", proof.NetworkID)
	}
	if !strings.HasPrefix(proof.TxID, "sim-") || len(proof.TxID) != len("sim-")+32 {
		t.Fatalf("tx id: %s", proof.TxID)
	}
	if !proof.Simulated || !proof.Confirmed || proof.Confirmations != 1 {
		t.Fatalf("proof flags: %+v", proof)
	}
	if proof.SubmittedAt != fixed.Format(time.RFC3339) {
		t.Fatalf("submitted at: %s", proof.SubmittedAt)
	}

	// Same payload, same reference.
	again, err := sim.Submit(context.Background(), []byte("merkle-root"))
	if err != nil {
		t.Fatalf("submit again: %v", err)
	}
	if again.TxID != proof.TxID {
		t.Fatal("simulated tx id is not deterministic over the payload")
	}
}

func TestSimulated_StatusEchoesProof(t *testing.T) {
	sim := NewSimulated("sim:test")
	proof, err := sim.Submit(context.Background(), []byte("root"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	status, err := sim.Status(context.Background(), proof)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != proof {
		t.Fatalf("status changed the proof: %+v vs %+v", status, proof)
	}
}
