package domain

// Bundle member file names. The manifest is always written last so it can
// enumerate every other member's checksum; it never lists itself.
const (
	BundleManifestFile  = "manifest.json"
	BundleArtifactFile  = "PolicyArtifact.json"
	BundleLedgerFile    = "ledger.jsonl"
	BundleProofsFile    = "merkle/proofs.json"
	BundleKeyringFile   = "keys/keyring.json"
	BundleTimestampFile = "timestamp_token.tst"
	BundlePayloadDir    = "payload"
)

type BundleFile struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// BundleManifest is the deterministic listing of every file in an evidence
// bundle, generated at export time from a fixed snapshot.
type BundleManifest struct {
	BundleID  string       `json:"bundle_id"`
	RunID     string       `json:"run_id"`
	CreatedAt string       `json:"created_at"`
	Files     []BundleFile `json:"files"`
}

// Verdict is the offline verifier's overall outcome.
type Verdict string

const (
	VerdictPass            Verdict = "PASS"
	VerdictFail            Verdict = "FAIL"
	VerdictPassWithCaveats Verdict = "PASS_WITH_CAVEATS"
)

// CheckStatus is the outcome of one verification step.
type CheckStatus string

const (
	CheckPass    CheckStatus = "PASS"
	CheckFail    CheckStatus = "FAIL"
	CheckSkipped CheckStatus = "SKIPPED"
)

// Verifier check names. These are presentation keys in the per-check
// breakdown; their order never affects the verdict.
const (
	CheckArtifact    = "artifact"
	CheckSignatures  = "receipt_signatures"
	CheckChain       = "chain_integrity"
	CheckCheckpoints = "checkpoints"
	CheckAnchor      = "anchor"
	CheckManifest    = "bundle_manifest"
)

type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Errors   []string    `json:"errors,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// BundleVerdict aggregates every check; a verification run reports all
// problems at once rather than short-circuiting.
type BundleVerdict struct {
	Verdict Verdict       `json:"verdict"`
	Checks  []CheckResult `json:"checks"`
	Caveats []string      `json:"caveats,omitempty"`
}
