// Package bundles assembles and loads portable evidence bundles. A bundle
// is a directory (or any file map) whose manifest is written last, so the
// manifest can list a checksum for every other member while never listing
// itself.
package bundles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

type ExportInput struct {
	BundleID    string
	RunID       string
	Artifact    domain.PolicyArtifact
	Receipts    []domain.Receipt
	Checkpoints []domain.CheckpointRecord
	Inclusions  []domain.InclusionProof
	Keyring     *domain.Keyring

	// Payload maps relative paths under payload/ to raw subject bytes.
	Payload map[string][]byte
	// TimestampToken is an optional RFC 3161 token blob.
	TimestampToken []byte

	CreatedAt time.Time
}

// proofsDoc is the merkle/proofs.json wire shape.
type proofsDoc struct {
	Checkpoints     []domain.CheckpointRecord `json:"checkpoints"`
	InclusionProofs []domain.InclusionProof   `json:"inclusion_proofs"`
}

// Assemble renders every bundle member to canonical bytes and builds the
// manifest over them. The returned map is path → content, manifest
// included; callers write it to disk, a zip, or an HTTP response.
func Assemble(input ExportInput) (map[string][]byte, domain.BundleManifest, error) {
	if len(input.Receipts) == 0 {
		return nil, domain.BundleManifest{}, errors.New("at least one receipt is required")
	}
	bundleID := input.BundleID
	if bundleID == "" {
		bundleID = uuid.NewString()
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	files := make(map[string][]byte)

	artifactJSON, err := cryptoinfra.Canonicalize(input.Artifact)
	if err != nil {
		return nil, domain.BundleManifest{}, fmt.Errorf("canonicalize artifact: %w", err)
	}
	files[domain.BundleArtifactFile] = artifactJSON

	ledger, err := renderLedger(input.Receipts)
	if err != nil {
		return nil, domain.BundleManifest{}, err
	}
	files[domain.BundleLedgerFile] = ledger

	proofs := proofsDoc{
		Checkpoints:     input.Checkpoints,
		InclusionProofs: input.Inclusions,
	}
	if proofs.Checkpoints == nil {
		proofs.Checkpoints = []domain.CheckpointRecord{}
	}
	if proofs.InclusionProofs == nil {
		proofs.InclusionProofs = []domain.InclusionProof{}
	}
	proofsJSON, err := cryptoinfra.Canonicalize(proofs)
	if err != nil {
		return nil, domain.BundleManifest{}, fmt.Errorf("canonicalize proofs: %w", err)
	}
	files[domain.BundleProofsFile] = proofsJSON

	if input.Keyring != nil {
		keyringJSON, err := cryptoinfra.Canonicalize(*input.Keyring)
		if err != nil {
			return nil, domain.BundleManifest{}, fmt.Errorf("canonicalize keyring: %w", err)
		}
		files[domain.BundleKeyringFile] = keyringJSON
	}
	if len(input.TimestampToken) > 0 {
		files[domain.BundleTimestampFile] = input.TimestampToken
	}
	for rel, content := range input.Payload {
		files[filepath.ToSlash(filepath.Join(domain.BundlePayloadDir, rel))] = content
	}

	manifest := domain.BundleManifest{
		BundleID:  bundleID,
		RunID:     input.RunID,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		content := files[path]
		manifest.Files = append(manifest.Files, domain.BundleFile{
			Path:      path,
			SHA256:    cryptoinfra.SHA256Hex(content),
			SizeBytes: int64(len(content)),
		})
	}

	manifestJSON, err := cryptoinfra.Canonicalize(manifest)
	if err != nil {
		return nil, domain.BundleManifest{}, fmt.Errorf("canonicalize manifest: %w", err)
	}
	files[domain.BundleManifestFile] = manifestJSON

	return files, manifest, nil
}

// ExportDir assembles the bundle and writes it under dir, members first,
// manifest last.
func ExportDir(dir string, input ExportInput) (domain.BundleManifest, error) {
	files, manifest, err := Assemble(input)
	if err != nil {
		return domain.BundleManifest{}, err
	}

	manifestJSON := files[domain.BundleManifestFile]
	delete(files, domain.BundleManifestFile)

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := writeFile(dir, path, files[path]); err != nil {
			return domain.BundleManifest{}, err
		}
	}
	if err := writeFile(dir, domain.BundleManifestFile, manifestJSON); err != nil {
		return domain.BundleManifest{}, err
	}
	return manifest, nil
}

func renderLedger(receipts []domain.Receipt) ([]byte, error) {
	var out []byte
	for _, receipt := range receipts {
		line, err := cryptoinfra.Canonicalize(receipt)
		if err != nil {
			return nil, fmt.Errorf("canonicalize receipt %d: %w", receipt.SequenceNumber, err)
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

func writeFile(dir, rel string, content []byte) error {
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("write bundle member %s: %w", rel, err)
	}
	return nil
}
