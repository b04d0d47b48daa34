package usecase

import (
	"errors"
	"fmt"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// Omission paths for a receipt's self-referential fields.
//
// receipt_id is minted before the link hash exists, so it excludes
// chain.this_receipt_hash along with itself and the signature. The link
// hash excludes itself and the signature but covers receipt_id. The final
// signature covers everything but itself. Append order is the only state:
// a receipt is either correctly linked or it is not.
var (
	receiptIDOmitPaths  = []string{"receipt_id", "signer.signature", "chain.this_receipt_hash"}
	linkHashOmitPaths   = []string{"signer.signature", "chain.this_receipt_hash"}
	receiptSigOmitPaths = []string{"signer.signature"}
)

// ChainWriter constructs and signs receipts for runs with one signer key.
type ChainWriter struct {
	Key cryptoinfra.KeyPair
}

func NewChainWriter(key cryptoinfra.KeyPair) *ChainWriter {
	return &ChainWriter{Key: key}
}

type GenesisInput struct {
	RunID      string
	ArtifactID string
	RecordedAt time.Time
	Decision   domain.Decision
}

// Genesis creates the first receipt of a run: sequence 1, zero previous
// hash, POLICY_LOADED. It returns the receipt together with the freshly
// initialized chain head.
func (w *ChainWriter) Genesis(input GenesisInput) (domain.Receipt, domain.ChainHead, error) {
	decision := input.Decision
	if decision.Action == "" {
		decision = domain.Decision{Action: domain.ActionContinue, ReasonCode: domain.ReasonPolicyLoaded}
	}
	receipt, err := w.Append(ReceiptInput{
		RunID:           input.RunID,
		ArtifactID:      input.ArtifactID,
		SequenceNumber:  1,
		PrevReceiptHash: domain.ZeroHash,
		EventType:       domain.EventPolicyLoaded,
		RecordedAt:      input.RecordedAt,
		Decision:        decision,
	})
	if err != nil {
		return domain.Receipt{}, domain.ChainHead{}, err
	}
	head := domain.ChainHead{
		RunID:           input.RunID,
		ReceiptCount:    1,
		HeadCounter:     1,
		HeadReceiptHash: receipt.Chain.ThisReceiptHash,
	}
	return receipt, head, nil
}

type ReceiptInput struct {
	RunID           string
	ArtifactID      string
	SequenceNumber  int64
	PrevReceiptHash string
	EventType       domain.EventType
	RecordedAt      time.Time
	Decision        domain.Decision
	Measurement     *domain.Measurement
}

// Append builds one receipt: content id, then link hash, then signature.
// The caller supplies the sequence number and previous hash; serialization
// per run is the caller's responsibility.
func (w *ChainWriter) Append(input ReceiptInput) (domain.Receipt, error) {
	if len(w.Key.PrivateKey) == 0 {
		return domain.Receipt{}, errors.New("chain writer key is required")
	}
	if input.RunID == "" {
		return domain.Receipt{}, fmt.Errorf("%w: run_id is required", domain.ErrMalformedInput)
	}
	if input.SequenceNumber < 1 {
		return domain.Receipt{}, fmt.Errorf("%w: sequence_number must be >= 1", domain.ErrMalformedInput)
	}
	if !input.EventType.Valid() {
		return domain.Receipt{}, fmt.Errorf("%w: event type %q", domain.ErrMalformedInput, input.EventType)
	}
	if err := input.Decision.Validate(); err != nil {
		return domain.Receipt{}, err
	}
	if input.SequenceNumber == 1 && input.PrevReceiptHash != domain.ZeroHash {
		return domain.Receipt{}, fmt.Errorf("%w: genesis receipt must link to the zero hash", domain.ErrMalformedInput)
	}

	recordedAt := input.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	receipt := domain.Receipt{
		SchemaVersion:  domain.ReceiptSchemaVersion,
		RunID:          input.RunID,
		ArtifactID:     input.ArtifactID,
		SequenceNumber: input.SequenceNumber,
		EventType:      input.EventType,
		RecordedAt:     recordedAt.UTC().Format(time.RFC3339Nano),
		Decision:       input.Decision,
		Measurement:    input.Measurement,
		Chain: domain.ChainLink{
			PrevReceiptHash: input.PrevReceiptHash,
		},
		Signer: domain.Signer{
			PublicKey: cryptoinfra.EncodePublicKey(w.Key.PublicKey),
			KeyID:     w.Key.KeyID,
		},
	}

	receiptID, err := cryptoinfra.HashObject(receipt, receiptIDOmitPaths)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt.ReceiptID = receiptID

	linkHash, err := cryptoinfra.HashObject(receipt, linkHashOmitPaths)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt.Chain.ThisReceiptHash = linkHash

	signature, err := cryptoinfra.SignObject(w.Key.PrivateKey, cryptoinfra.DomainRelease, receipt, receiptSigOmitPaths)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt.Signer.Signature = signature

	return receipt, nil
}

// VerifyReceipt replays a receipt's linkage and content hashes against the
// expected previous hash. It does not verify the Ed25519 signature; callers
// compose that with VerifyReceiptSignature.
func VerifyReceipt(receipt domain.Receipt, expectedPrevHash string) error {
	if receipt.Chain.PrevReceiptHash != expectedPrevHash {
		return fmt.Errorf("%w: receipt %d links to %s, expected %s",
			domain.ErrChainBreak, receipt.SequenceNumber, receipt.Chain.PrevReceiptHash, expectedPrevHash)
	}
	receiptID, err := cryptoinfra.HashObject(receipt, receiptIDOmitPaths)
	if err != nil {
		return err
	}
	if receiptID != receipt.ReceiptID {
		return fmt.Errorf("%w: receipt %d stored %s recomputed %s",
			domain.ErrReceiptIDMismatch, receipt.SequenceNumber, receipt.ReceiptID, receiptID)
	}
	linkHash, err := cryptoinfra.HashObject(receipt, linkHashOmitPaths)
	if err != nil {
		return err
	}
	if linkHash != receipt.Chain.ThisReceiptHash {
		return fmt.Errorf("%w: receipt %d stored %s recomputed %s",
			domain.ErrHashMismatch, receipt.SequenceNumber, receipt.Chain.ThisReceiptHash, linkHash)
	}
	return nil
}

// VerifyReceiptSignature checks the signer's Ed25519 signature over the
// receipt under the release domain separator.
func VerifyReceiptSignature(receipt domain.Receipt) error {
	pub, err := cryptoinfra.DecodePublicKey(receipt.Signer.PublicKey)
	if err != nil {
		return err
	}
	return cryptoinfra.VerifyObject(pub, cryptoinfra.DomainRelease, receipt, receiptSigOmitPaths, receipt.Signer.Signature)
}

// NextChainHead advances a head cursor past one appended receipt. Pure; the
// input head is not modified.
func NextChainHead(head domain.ChainHead, receipt domain.Receipt) domain.ChainHead {
	return domain.ChainHead{
		RunID:           head.RunID,
		ReceiptCount:    head.ReceiptCount + 1,
		HeadCounter:     receipt.SequenceNumber,
		HeadReceiptHash: receipt.Chain.ThisReceiptHash,
	}
}
