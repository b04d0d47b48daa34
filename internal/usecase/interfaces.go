package usecase

import (
	"context"

	"custodia/internal/domain"
)

// ReceiptRepository is the persistence surface the chain layer needs:
// append one verified receipt, read the head cursor, read a contiguous
// range. Append is expected to be serialized per run by the caller.
type ReceiptRepository interface {
	AppendReceipt(ctx context.Context, receipt domain.Receipt, head domain.ChainHead) error
	Head(ctx context.Context, runID string) (*domain.ChainHead, error)
	ListRange(ctx context.Context, runID string, startSeq, endSeq int64) ([]domain.Receipt, error)
	ListByRun(ctx context.Context, runID string) ([]domain.Receipt, error)
}

type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, artifact domain.PolicyArtifact) error
	GetArtifact(ctx context.Context, artifactID string) (*domain.PolicyArtifact, error)
}

type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, record domain.CheckpointRecord) error
	ListCheckpoints(ctx context.Context, runID string) ([]domain.CheckpointRecord, error)
}

// HeadCache is an optional fast cursor over chain heads, kept beside the
// durable store. A miss is never an error; the repository stays the source
// of truth.
type HeadCache interface {
	GetHead(ctx context.Context, runID string) (*domain.ChainHead, error)
	SetHead(ctx context.Context, head domain.ChainHead) error
}

// AnchorSubmitter is the external anchoring boundary. The core treats it as
// best-effort and optional: submit opaque bytes, get a reference, poll it.
type AnchorSubmitter interface {
	Submit(ctx context.Context, payload []byte) (domain.AnchorProof, error)
	Status(ctx context.Context, proof domain.AnchorProof) (domain.AnchorProof, error)
}

// EnforcementEngine decides an action for one observed condition. The
// builtin engine reads the artifact's decision table; the Rego overlay can
// replace it per deployment.
type EnforcementEngine interface {
	Decide(ctx context.Context, input EnforcementInput) (domain.Decision, error)
}
