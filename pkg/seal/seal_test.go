package seal

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/bundles"
	cryptoinfra "custodia/internal/infra/crypto"
	"custodia/internal/usecase"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClientFromKey(hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func testOptions() SealOptions {
	return SealOptions{
		VaultID:  "vault-sdk",
		Metadata: map[string]any{"model": "m7"},
		IntegrityPolicy: domain.IntegrityPolicy{
			MeasurePaths:    []string{"weights.bin"},
			IntervalSeconds: 60,
		},
		EnforcementPolicy: domain.EnforcementPolicy{
			OnDrift:            domain.ActionQuarantine,
			OnExpiry:           domain.ActionQuarantine,
			OnSignatureInvalid: domain.ActionKill,
		},
	}
}

func TestClientSealAndVerify(t *testing.T) {
	client := testClient(t)
	subject := []byte("model weights v7")

	artifact, err := client.Seal(subject, testOptions())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if artifact.Issuer.KeyID != client.KeyID() {
		t.Fatalf("issuer key id = %s, want %s", artifact.Issuer.KeyID, client.KeyID())
	}
	if artifact.Issuer.PublicKey != client.PublicKey() {
		t.Fatal("issuer public key does not match client")
	}

	result := Verify(artifact, subject)
	if !result.Valid || len(result.Errors) != 0 {
		t.Fatalf("verify: %+v", result)
	}
	result = Verify(artifact, []byte("swapped weights"))
	if result.Valid {
		t.Fatal("swapped subject passed verification")
	}
}

func TestAttest(t *testing.T) {
	client := testClient(t)
	artifact, err := client.Seal([]byte("model weights v7"), testOptions())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	witness, err := cryptoinfra.KeyPairFromSeed(bytes.Repeat([]byte{0x07}, 32))
	if err != nil {
		t.Fatalf("witness key: %v", err)
	}
	attested, err := Attest(artifact, "auditor-1", witness)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if len(attested.Attestations) != 1 {
		t.Fatalf("attestations = %d", len(attested.Attestations))
	}
	if result := Verify(attested, nil); !result.Valid {
		t.Fatalf("verify attested: %+v", result)
	}
}

func TestSessionRecordsChain(t *testing.T) {
	client := testClient(t)
	artifact, err := client.Seal([]byte("model weights v7"), testOptions())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	session, err := client.StartRun("run-sdk-1", artifact)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := client.StartRun("", artifact); err == nil {
		t.Fatal("empty run id accepted")
	}

	clean, err := session.Record(usecase.ConditionClean, &domain.Measurement{
		CompositeHash: cryptoinfra.SHA256StringHex("model weights v7"),
	})
	if err != nil {
		t.Fatalf("record clean: %v", err)
	}
	if clean.EventType != domain.EventMeasurementOK || clean.Decision.Action != domain.ActionContinue {
		t.Fatalf("clean = %+v", clean)
	}

	drift, err := session.Record(usecase.ConditionDrift, &domain.Measurement{
		CompositeHash:   cryptoinfra.SHA256StringHex("tampered"),
		MismatchedPaths: []string{"weights.bin"},
	})
	if err != nil {
		t.Fatalf("record drift: %v", err)
	}
	if drift.EventType != domain.EventDriftDetected || drift.Decision.Action != domain.ActionQuarantine {
		t.Fatalf("drift = %+v", drift)
	}

	final, err := session.End()
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if final.EventType != domain.EventRunEnded || final.SequenceNumber != 4 {
		t.Fatalf("final = %+v", final)
	}

	head := session.Head()
	if head.HeadCounter != 4 || head.HeadReceiptHash != final.Chain.ThisReceiptHash {
		t.Fatalf("head = %+v", head)
	}

	receipts := session.Receipts()
	prev := domain.ZeroHash
	for i, receipt := range receipts {
		if err := usecase.VerifyReceipt(receipt, prev); err != nil {
			t.Fatalf("receipt %d: %v", i, err)
		}
		prev = receipt.Chain.ThisReceiptHash
	}
}

func TestSessionCheckpointCoversNewReceiptsOnly(t *testing.T) {
	client := testClient(t)
	artifact, err := client.Seal([]byte("model weights v7"), testOptions())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	session, err := client.StartRun("run-sdk-2", artifact)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := session.Record(usecase.ConditionClean, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	first, err := session.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if first == nil || first.BatchRange.StartSequence != 1 || first.BatchRange.EndSequence != 2 {
		t.Fatalf("first = %+v", first)
	}

	empty, err := session.Checkpoint()
	if err != nil {
		t.Fatalf("empty checkpoint: %v", err)
	}
	if empty != nil {
		t.Fatalf("empty = %+v, want nil", empty)
	}

	if _, err := session.Record(usecase.ConditionClean, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := session.Checkpoint()
	if err != nil {
		t.Fatalf("second checkpoint: %v", err)
	}
	if second == nil || second.BatchRange.StartSequence != 3 || second.BatchRange.EndSequence != 3 {
		t.Fatalf("second = %+v", second)
	}
}

func TestSessionExportProducesVerifiableBundle(t *testing.T) {
	client := testClient(t)
	artifact, err := client.Seal([]byte("model weights v7"), testOptions())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	session, err := client.StartRun("run-sdk-3", artifact)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := session.Record(usecase.ConditionClean, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := session.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	dir := t.TempDir()
	manifest, err := session.Export(dir, map[string][]byte{
		"weights.bin": []byte("model weights v7"),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if manifest.RunID != "run-sdk-3" || len(manifest.Files) == 0 {
		t.Fatalf("manifest = %+v", manifest)
	}

	contents, err := bundles.LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	verdict := usecase.VerifyBundle(contents, time.Now().UTC())
	if verdict.Verdict == domain.VerdictFail {
		t.Fatalf("verdict = %+v", verdict)
	}
	for _, check := range verdict.Checks {
		if check.Status == domain.CheckFail {
			t.Fatalf("check %s failed: %v", check.Name, check.Errors)
		}
	}
}
