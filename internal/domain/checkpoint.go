package domain

// BatchRange is the contiguous [startSequence, endSequence] slice of a run's
// receipts committed by one checkpoint. Ranges of two checkpoints over the
// same run never overlap.
type BatchRange struct {
	StartSequence int64 `json:"startSequence"`
	EndSequence   int64 `json:"endSequence"`
	Count         int   `json:"count"`
}

// AnchorProof is an opaque reference into an external anchoring system. The
// core records it verbatim and never re-verifies it; a simulated or absent
// anchor is a verification caveat, not a failure.
type AnchorProof struct {
	NetworkID     string `json:"networkId"`
	TxID          string `json:"txId"`
	BlockNumber   int64  `json:"blockNumber,omitempty"`
	Confirmed     bool   `json:"confirmed"`
	Confirmations int    `json:"confirmations"`
	Simulated     bool   `json:"simulated,omitempty"`
	SubmittedAt   string `json:"submittedAt,omitempty"`
}

// CheckpointRecord is a Merkle commitment over one batch of receipt leaf
// hashes. The signature covers the canonical record with the signature and
// the lazily populated anchorProof omitted.
type CheckpointRecord struct {
	CheckpointID string       `json:"checkpointId"`
	RunID        string       `json:"runId"`
	ArtifactID   string       `json:"artifactId"`
	MerkleRoot   string       `json:"merkleRoot"`
	BatchRange   BatchRange   `json:"batchRange"`
	LeafHashes   []string     `json:"leafHashes"`
	CreatedAt    string       `json:"createdAt"`
	AnchorProof  *AnchorProof `json:"anchorProof,omitempty"`
	Signer       Signer       `json:"signer"`
}

// ProofSibling is one step of an inclusion path: the sibling hash and which
// side of the current node it sits on.
type ProofSibling struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" or "right"
}

// InclusionProof proves one receipt leaf belongs under a checkpoint's root.
type InclusionProof struct {
	ReceiptID  string         `json:"receiptId"`
	LeafHash   string         `json:"leafHash"`
	LeafIndex  int            `json:"leafIndex"`
	Siblings   []ProofSibling `json:"siblings"`
	MerkleRoot string         `json:"merkleRoot"`
}
