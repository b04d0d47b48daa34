package domain

import "fmt"

const (
	ReceiptSchemaVersion = "custodia.receipt.v1"

	// ZeroHash is the prev_receipt_hash of the first receipt in a run.
	ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

type EventType string

const (
	EventPolicyLoaded      EventType = "POLICY_LOADED"
	EventMeasurementOK     EventType = "MEASUREMENT_OK"
	EventDriftDetected     EventType = "DRIFT_DETECTED"
	EventEnforcementAction EventType = "ENFORCEMENT_ACTION"
	EventRunEnded          EventType = "RUN_ENDED"
	EventCheckpoint        EventType = "CHECKPOINT"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPolicyLoaded, EventMeasurementOK, EventDriftDetected,
		EventEnforcementAction, EventRunEnded, EventCheckpoint:
		return true
	}
	return false
}

// ReasonCode is the closed set of reasons a decision may cite.
type ReasonCode string

const (
	ReasonPolicyLoaded     ReasonCode = "POLICY_LOADED"
	ReasonMeasurementClean ReasonCode = "MEASUREMENT_CLEAN"
	ReasonHashDrift        ReasonCode = "HASH_DRIFT"
	ReasonExpired          ReasonCode = "ARTIFACT_EXPIRED"
	ReasonSignatureInvalid ReasonCode = "SIGNATURE_INVALID"
	ReasonRunComplete      ReasonCode = "RUN_COMPLETE"
	ReasonCheckpointSealed ReasonCode = "CHECKPOINT_SEALED"
)

func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonPolicyLoaded, ReasonMeasurementClean, ReasonHashDrift,
		ReasonExpired, ReasonSignatureInvalid, ReasonRunComplete, ReasonCheckpointSealed:
		return true
	}
	return false
}

// Decision records what the enforcement layer decided when the event was
// observed. Details is a flat string map so the wire form stays closed.
type Decision struct {
	Action     EnforcementAction `json:"action"`
	ReasonCode ReasonCode        `json:"reason_code"`
	Details    map[string]string `json:"details,omitempty"`
}

func (d Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: decision action %q", ErrMalformedInput, d.Action)
	}
	if !d.ReasonCode.Valid() {
		return fmt.Errorf("%w: decision reason code %q", ErrMalformedInput, d.ReasonCode)
	}
	return nil
}

// Measurement captures the composite hash observed for the subject and the
// paths that diverged from the sealed state, if any.
type Measurement struct {
	CompositeHash   string   `json:"composite_hash"`
	MismatchedPaths []string `json:"mismatched_paths"`
}

// ChainLink binds a receipt to its predecessor.
type ChainLink struct {
	PrevReceiptHash string `json:"prev_receipt_hash"`
	ThisReceiptHash string `json:"this_receipt_hash"`
}

type Signer struct {
	PublicKey string `json:"public_key"`
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

// Receipt is one signed, hash-linked event in a run. A receipt is never
// mutated after construction; its identity (receipt_id) and link hash
// (chain.this_receipt_hash) are content hashes over the canonical form with
// the corresponding self-referential fields omitted.
type Receipt struct {
	SchemaVersion  string       `json:"schema_version"`
	ReceiptID      string       `json:"receipt_id"`
	RunID          string       `json:"run_id"`
	ArtifactID     string       `json:"artifact_id"`
	SequenceNumber int64        `json:"sequence_number"`
	EventType      EventType    `json:"event_type"`
	RecordedAt     string       `json:"recorded_at"`
	Decision       Decision     `json:"decision"`
	Measurement    *Measurement `json:"measurement,omitempty"`
	Chain          ChainLink    `json:"chain"`
	Signer         Signer       `json:"signer"`
}

// ChainHead is the mutable cursor over a run. It is only ever advanced by
// appending a verified receipt.
type ChainHead struct {
	RunID           string `json:"run_id"`
	ReceiptCount    int64  `json:"receipt_count"`
	HeadCounter     int64  `json:"head_counter"`
	HeadReceiptHash string `json:"head_receipt_hash"`
}
