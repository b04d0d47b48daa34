package usecase

import (
	"fmt"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/merkle"
)

// BundleContents is a fully loaded evidence bundle plus the digests the
// loader computed over the actual member files. The verifier consumes only
// this; it never touches the network.
type BundleContents struct {
	Manifest    *domain.BundleManifest
	Artifact    *domain.PolicyArtifact
	Receipts    []domain.Receipt
	Checkpoints []domain.CheckpointRecord
	Inclusions  []domain.InclusionProof
	Keyring     *domain.Keyring

	// FileDigests maps member path to the sha256/size computed from the
	// bytes actually present in the bundle.
	FileDigests map[string]domain.BundleFile
}

// VerifyBundle replays every check offline and aggregates them into one
// verdict. Checks never short-circuit: a single run reports every problem
// at once. Critical failures (artifact, receipt signatures, chain replay,
// manifest digests) force FAIL; caveats alone (skipped checkpoints,
// simulated or absent anchors) downgrade PASS to PASS_WITH_CAVEATS.
func VerifyBundle(bundle BundleContents, now time.Time) domain.BundleVerdict {
	var verdict domain.BundleVerdict

	manifestCheck := verifyManifestDigests(bundle)
	artifactCheck := verifyBundleArtifact(bundle, now)
	signatureCheck := verifyReceiptSignatures(bundle)
	chainCheck := replayChain(bundle.Receipts)
	checkpointCheck, checkpointCaveats := verifyCheckpoints(bundle)
	anchorCheck, anchorCaveats := inspectAnchors(bundle.Checkpoints)

	verdict.Checks = []domain.CheckResult{
		manifestCheck, artifactCheck, signatureCheck, chainCheck, checkpointCheck, anchorCheck,
	}
	verdict.Caveats = append(verdict.Caveats, checkpointCaveats...)
	verdict.Caveats = append(verdict.Caveats, anchorCaveats...)

	critical := false
	for _, check := range []domain.CheckResult{manifestCheck, artifactCheck, signatureCheck, chainCheck, checkpointCheck} {
		if check.Status == domain.CheckFail {
			critical = true
		}
	}
	switch {
	case critical:
		verdict.Verdict = domain.VerdictFail
	case len(verdict.Caveats) > 0:
		verdict.Verdict = domain.VerdictPassWithCaveats
	default:
		verdict.Verdict = domain.VerdictPass
	}
	return verdict
}

func verifyManifestDigests(bundle BundleContents) domain.CheckResult {
	check := domain.CheckResult{Name: domain.CheckManifest, Status: domain.CheckPass}
	if bundle.Manifest == nil {
		check.Status = domain.CheckFail
		check.Errors = append(check.Errors, "bundle manifest is missing")
		return check
	}
	for _, entry := range bundle.Manifest.Files {
		if entry.Path == domain.BundleManifestFile {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors, "manifest lists itself")
			continue
		}
		actual, ok := bundle.FileDigests[entry.Path]
		if !ok {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors, fmt.Sprintf("listed file %s is missing", entry.Path))
			continue
		}
		if actual.SHA256 != entry.SHA256 {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("file %s digest mismatch: manifest %s actual %s", entry.Path, entry.SHA256, actual.SHA256))
		}
		if actual.SizeBytes != entry.SizeBytes {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("file %s size mismatch: manifest %d actual %d", entry.Path, entry.SizeBytes, actual.SizeBytes))
		}
	}
	return check
}

func verifyBundleArtifact(bundle BundleContents, now time.Time) domain.CheckResult {
	check := domain.CheckResult{Name: domain.CheckArtifact, Status: domain.CheckPass}
	if bundle.Artifact == nil {
		check.Status = domain.CheckFail
		check.Errors = append(check.Errors, "policy artifact is missing")
		return check
	}
	result := VerifyArtifact(*bundle.Artifact, nil, now)
	check.Errors = result.Errors
	check.Warnings = result.Warnings
	if !result.Valid {
		check.Status = domain.CheckFail
	}
	for _, attestation := range bundle.Artifact.Attestations {
		if err := VerifyAttestation(*bundle.Artifact, attestation); err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("attestation by %s: %v", attestation.Attestor, err))
		}
	}
	return check
}

func verifyReceiptSignatures(bundle BundleContents) domain.CheckResult {
	check := domain.CheckResult{Name: domain.CheckSignatures, Status: domain.CheckPass}
	if bundle.Keyring != nil {
		if err := VerifyKeyring(*bundle.Keyring); err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors, fmt.Sprintf("keyring: %v", err))
		}
	}
	if len(bundle.Receipts) == 0 {
		check.Status = domain.CheckFail
		check.Errors = append(check.Errors, "bundle contains no receipts")
		return check
	}
	for _, receipt := range bundle.Receipts {
		if err := VerifyReceiptSignature(receipt); err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("receipt %d: %v", receipt.SequenceNumber, err))
			continue
		}
		if bundle.Keyring != nil {
			if _, ok := bundle.Keyring.FindKey(receipt.Signer.KeyID); !ok {
				check.Warnings = append(check.Warnings,
					fmt.Sprintf("receipt %d signer key %s not in bundled keyring", receipt.SequenceNumber, receipt.Signer.KeyID))
			}
		}
	}
	return check
}

// replayChain re-derives every receipt's id and link hash and walks the
// prev-hash linkage from the zero hash, flagging each break without
// stopping, so one pass enumerates every broken receipt.
func replayChain(receipts []domain.Receipt) domain.CheckResult {
	check := domain.CheckResult{Name: domain.CheckChain, Status: domain.CheckPass}
	if len(receipts) == 0 {
		check.Status = domain.CheckFail
		check.Errors = append(check.Errors, "bundle contains no receipts")
		return check
	}

	expectedPrev := domain.ZeroHash
	expectedSeq := int64(1)
	for _, receipt := range receipts {
		if receipt.SequenceNumber != expectedSeq {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("%v: expected sequence %d, got %d", domain.ErrChainBreak, expectedSeq, receipt.SequenceNumber))
			expectedSeq = receipt.SequenceNumber
		}
		if err := VerifyReceipt(receipt, expectedPrev); err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors, err.Error())
		}
		expectedPrev = receipt.Chain.ThisReceiptHash
		expectedSeq++
	}
	return check
}

func verifyCheckpoints(bundle BundleContents) (domain.CheckResult, []string) {
	check := domain.CheckResult{Name: domain.CheckCheckpoints, Status: domain.CheckPass}
	if len(bundle.Checkpoints) == 0 {
		check.Status = domain.CheckSkipped
		return check, []string{"no checkpoints present; merkle commitments not verified"}
	}

	linkBySeq := make(map[int64]string, len(bundle.Receipts))
	for _, receipt := range bundle.Receipts {
		linkBySeq[receipt.SequenceNumber] = receipt.Chain.ThisReceiptHash
	}

	for _, record := range bundle.Checkpoints {
		if err := VerifyCheckpoint(record); err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors, err.Error())
			continue
		}
		seq := record.BatchRange.StartSequence
		for i, leaf := range record.LeafHashes {
			if stored, ok := linkBySeq[seq+int64(i)]; ok && stored != leaf {
				check.Status = domain.CheckFail
				check.Errors = append(check.Errors,
					fmt.Sprintf("checkpoint %s leaf %d does not match receipt %d link hash",
						record.CheckpointID, i, seq+int64(i)))
			}
		}
	}

	for _, inclusion := range bundle.Inclusions {
		siblings := make([]merkle.Sibling, len(inclusion.Siblings))
		for i, sibling := range inclusion.Siblings {
			siblings[i] = merkle.Sibling{Hash: sibling.Hash, Position: sibling.Position}
		}
		ok, err := merkle.VerifyProof(merkle.Proof{
			LeafHash:  inclusion.LeafHash,
			LeafIndex: inclusion.LeafIndex,
			Siblings:  siblings,
			Root:      inclusion.MerkleRoot,
		})
		if err != nil {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("inclusion proof for receipt %s: %v", inclusion.ReceiptID, err))
			continue
		}
		if !ok {
			check.Status = domain.CheckFail
			check.Errors = append(check.Errors,
				fmt.Sprintf("inclusion proof for receipt %s does not reproduce its root", inclusion.ReceiptID))
		}
	}
	return check, nil
}

// inspectAnchors treats external anchor references as informational: they
// are recorded, never re-verified, and their absence or simulation is a
// caveat rather than a failure.
func inspectAnchors(checkpoints []domain.CheckpointRecord) (domain.CheckResult, []string) {
	check := domain.CheckResult{Name: domain.CheckAnchor, Status: domain.CheckPass}
	if len(checkpoints) == 0 {
		check.Status = domain.CheckSkipped
		return check, nil
	}

	var caveats []string
	anchored := 0
	for _, record := range checkpoints {
		proof := record.AnchorProof
		switch {
		case proof == nil:
			caveats = append(caveats,
				fmt.Sprintf("checkpoint %s has no anchor reference", record.CheckpointID))
		case proof.Simulated:
			caveats = append(caveats,
				fmt.Sprintf("checkpoint %s anchor is simulated", record.CheckpointID))
		default:
			anchored++
			check.Warnings = append(check.Warnings,
				fmt.Sprintf("checkpoint %s anchor %s/%s recorded but not re-verified offline",
					record.CheckpointID, proof.NetworkID, proof.TxID))
		}
	}
	if anchored == 0 {
		check.Status = domain.CheckSkipped
	}
	return check, caveats
}
