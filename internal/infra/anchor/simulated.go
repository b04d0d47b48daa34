// Package anchor implements the external anchoring boundary. Anchoring is
// best-effort: a failed or pending anchor never blocks checkpoint creation,
// and offline verification treats anchor proofs as informational.
package anchor

import (
	"context"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// Simulated derives a deterministic fake transaction id from the payload so
// development and test runs produce stable, obviously-simulated anchors.
type Simulated struct {
	NetworkID string
	Now       func() time.Time
}

func NewSimulated(networkID string) *Simulated {
	if networkID == "" {
		networkID = "sim:local"
	}
	return &Simulated{NetworkID: networkID, Now: time.Now}
}

func (s *Simulated) Submit(_ context.Context, payload []byte) (domain.AnchorProof, error) {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return domain.AnchorProof{
		NetworkID:     s.NetworkID,
		TxID:          "sim-" + cryptoinfra.SHA256Hex(payload)[:32],
		Confirmed:     true,
		Confirmations: 1,
		Simulated:     true,
		SubmittedAt:   now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Simulated) Status(_ context.Context, proof domain.AnchorProof) (domain.AnchorProof, error) {
	return proof, nil
}
