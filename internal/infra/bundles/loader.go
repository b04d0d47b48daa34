package bundles

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
	"custodia/internal/usecase"
)

// LoadDir reads a bundle directory back into verifier input, computing a
// digest for every member file so the verifier can replay the manifest.
func LoadDir(dir string) (usecase.BundleContents, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bundle member %s: %w", rel, err)
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return usecase.BundleContents{}, err
	}
	return Load(files)
}

// Load parses an in-memory bundle file map.
func Load(files map[string][]byte) (usecase.BundleContents, error) {
	contents := usecase.BundleContents{
		FileDigests: make(map[string]domain.BundleFile, len(files)),
	}

	for path, content := range files {
		if path == domain.BundleManifestFile {
			continue
		}
		contents.FileDigests[path] = domain.BundleFile{
			Path:      path,
			SHA256:    cryptoinfra.SHA256Hex(content),
			SizeBytes: int64(len(content)),
		}
	}

	if raw, ok := files[domain.BundleManifestFile]; ok {
		var manifest domain.BundleManifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return usecase.BundleContents{}, fmt.Errorf("parse manifest: %w", err)
		}
		contents.Manifest = &manifest
	}

	if raw, ok := files[domain.BundleArtifactFile]; ok {
		var artifact domain.PolicyArtifact
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return usecase.BundleContents{}, fmt.Errorf("parse artifact: %w", err)
		}
		contents.Artifact = &artifact
	}

	if raw, ok := files[domain.BundleLedgerFile]; ok {
		receipts, err := parseLedger(raw)
		if err != nil {
			return usecase.BundleContents{}, err
		}
		contents.Receipts = receipts
	}

	if raw, ok := files[domain.BundleProofsFile]; ok {
		var proofs proofsDoc
		if err := json.Unmarshal(raw, &proofs); err != nil {
			return usecase.BundleContents{}, fmt.Errorf("parse proofs: %w", err)
		}
		contents.Checkpoints = proofs.Checkpoints
		contents.Inclusions = proofs.InclusionProofs
	}

	if raw, ok := files[domain.BundleKeyringFile]; ok {
		var keyring domain.Keyring
		if err := json.Unmarshal(raw, &keyring); err != nil {
			return usecase.BundleContents{}, fmt.Errorf("parse keyring: %w", err)
		}
		contents.Keyring = &keyring
	}

	return contents, nil
}

func parseLedger(raw []byte) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var receipt domain.Receipt
		if err := json.Unmarshal(text, &receipt); err != nil {
			return nil, fmt.Errorf("parse ledger line %d: %w", line, err)
		}
		receipts = append(receipts, receipt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return receipts, nil
}
