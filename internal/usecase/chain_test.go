package usecase

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

func testKey(t *testing.T) cryptoinfra.KeyPair {
	t.Helper()
	pair, err := cryptoinfra.KeyPairFromSeed(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("key pair from seed: %v", err)
	}
	return pair
}

func testChain(t *testing.T, writer *ChainWriter, runID string, events int) []domain.Receipt {
	t.Helper()
	genesis, head, err := writer.Genesis(GenesisInput{
		RunID:      runID,
		ArtifactID: "artifact-1",
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	receipts := []domain.Receipt{genesis}
	for i := 0; i < events; i++ {
		receipt, err := writer.Append(ReceiptInput{
			RunID:           runID,
			ArtifactID:      "artifact-1",
			SequenceNumber:  head.HeadCounter + 1,
			PrevReceiptHash: head.HeadReceiptHash,
			EventType:       domain.EventMeasurementOK,
			RecordedAt:      time.Date(2026, 3, 1, 12, i+1, 0, 0, time.UTC),
			Decision:        domain.Decision{Action: domain.ActionContinue, ReasonCode: domain.ReasonMeasurementClean},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		head = NextChainHead(head, receipt)
		receipts = append(receipts, receipt)
	}
	return receipts
}

func TestGenesis_ShapeAndHead(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	receipt, head, err := writer.Genesis(GenesisInput{RunID: "run-1", ArtifactID: "artifact-1"})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	if receipt.SequenceNumber != 1 {
		t.Fatalf("genesis sequence: got %d want 1", receipt.SequenceNumber)
	}
	if receipt.Chain.PrevReceiptHash != domain.ZeroHash {
		t.Fatalf("genesis prev hash: got %s", receipt.Chain.PrevReceiptHash)
	}
	if receipt.EventType != domain.EventPolicyLoaded {
		t.Fatalf("genesis event type: got %s", receipt.EventType)
	}
	if head.HeadCounter != 1 || head.ReceiptCount != 1 {
		t.Fatalf("genesis head: %+v", head)
	}
	if head.HeadReceiptHash != receipt.Chain.ThisReceiptHash {
		t.Fatal("head hash does not match the genesis link hash")
	}
}

func TestAppend_Validation(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	valid := ReceiptInput{
		RunID:           "run-1",
		SequenceNumber:  2,
		PrevReceiptHash: domain.ZeroHash,
		EventType:       domain.EventMeasurementOK,
		Decision:        domain.Decision{Action: domain.ActionContinue, ReasonCode: domain.ReasonMeasurementClean},
	}

	missingRun := valid
	missingRun.RunID = ""
	if _, err := writer.Append(missingRun); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("missing run: %v", err)
	}

	badSeq := valid
	badSeq.SequenceNumber = 0
	if _, err := writer.Append(badSeq); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("bad sequence: %v", err)
	}

	badEvent := valid
	badEvent.EventType = "SOMETHING_ELSE"
	if _, err := writer.Append(badEvent); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("bad event type: %v", err)
	}

	badDecision := valid
	badDecision.Decision = domain.Decision{Action: "SHRUG", ReasonCode: domain.ReasonMeasurementClean}
	if _, err := writer.Append(badDecision); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("bad decision: %v", err)
	}

	badGenesis := valid
	badGenesis.SequenceNumber = 1
	badGenesis.PrevReceiptHash = cryptoinfra.SHA256Hex([]byte("not zero"))
	if _, err := writer.Append(badGenesis); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("genesis with nonzero prev: %v", err)
	}
}

func TestVerifyReceipt_WalksCleanChain(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	receipts := testChain(t, writer, "run-1", 4)

	prev := domain.ZeroHash
	for _, receipt := range receipts {
		if err := VerifyReceipt(receipt, prev); err != nil {
			t.Fatalf("verify receipt %d: %v", receipt.SequenceNumber, err)
		}
		if err := VerifyReceiptSignature(receipt); err != nil {
			t.Fatalf("verify signature %d: %v", receipt.SequenceNumber, err)
		}
		prev = receipt.Chain.ThisReceiptHash
	}
}

func TestVerifyReceipt_DetectsTampering(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	receipts := testChain(t, writer, "run-1", 2)
	second := receipts[1]

	relinked := second
	relinked.Chain.PrevReceiptHash = cryptoinfra.SHA256Hex([]byte("elsewhere"))
	if err := VerifyReceipt(relinked, receipts[0].Chain.ThisReceiptHash); !errors.Is(err, domain.ErrChainBreak) {
		t.Fatalf("relinked receipt: %v", err)
	}

	mutatedContent := second
	mutatedContent.EventType = domain.EventDriftDetected
	if err := VerifyReceipt(mutatedContent, receipts[0].Chain.ThisReceiptHash); !errors.Is(err, domain.ErrReceiptIDMismatch) {
		t.Fatalf("mutated content: %v", err)
	}

	mutatedID := second
	mutatedID.ReceiptID = cryptoinfra.SHA256Hex([]byte("forged"))
	if err := VerifyReceipt(mutatedID, receipts[0].Chain.ThisReceiptHash); !errors.Is(err, domain.ErrReceiptIDMismatch) {
		t.Fatalf("mutated receipt id: %v", err)
	}

	mutatedLink := second
	mutatedLink.Chain.ThisReceiptHash = cryptoinfra.SHA256Hex([]byte("forged link"))
	if err := VerifyReceipt(mutatedLink, receipts[0].Chain.ThisReceiptHash); !errors.Is(err, domain.ErrHashMismatch) {
		t.Fatalf("mutated link hash: %v", err)
	}
}

func TestVerifyReceiptSignature_DetectsMutation(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	receipts := testChain(t, writer, "run-1", 1)
	receipt := receipts[1]

	receipt.Decision.Action = domain.ActionKill
	if err := VerifyReceiptSignature(receipt); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
}

func TestNextChainHead_Advances(t *testing.T) {
	writer := NewChainWriter(testKey(t))
	receipts := testChain(t, writer, "run-1", 3)
	last := receipts[len(receipts)-1]

	head := domain.ChainHead{RunID: "run-1", ReceiptCount: 3, HeadCounter: 3, HeadReceiptHash: receipts[2].Chain.ThisReceiptHash}
	next := NextChainHead(head, last)
	if next.HeadCounter != last.SequenceNumber {
		t.Fatalf("head counter: got %d want %d", next.HeadCounter, last.SequenceNumber)
	}
	if next.ReceiptCount != 4 {
		t.Fatalf("receipt count: got %d want 4", next.ReceiptCount)
	}
	if next.HeadReceiptHash != last.Chain.ThisReceiptHash {
		t.Fatal("head hash not advanced")
	}
	if head.HeadCounter != 3 {
		t.Fatal("input head was mutated")
	}
}
