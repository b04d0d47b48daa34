package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/bundles"
	"custodia/internal/usecase"
)

func runBundleExport(args []string) int {
	fs := flag.NewFlagSet("bundle export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var artifactPath string
	var ledgerPath string
	var outDir string
	var payloadPath string
	var keyHex string
	var keyFile string
	var passphrase string

	fs.StringVar(&artifactPath, "artifact", "", "sealed artifact JSON")
	fs.StringVar(&ledgerPath, "ledger", "", "ledger JSONL file")
	fs.StringVar(&outDir, "out", "", "output bundle directory")
	fs.StringVar(&payloadPath, "payload", "", "subject payload file to embed")
	fs.StringVar(&keyHex, "key-hex", "", "issuer key seed hex")
	fs.StringVar(&keyFile, "key-file", "", "encrypted issuer key file")
	fs.StringVar(&passphrase, "passphrase", "", "passphrase for --key-file")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if artifactPath == "" || ledgerPath == "" || outDir == "" {
		fmt.Fprintln(os.Stderr, "bundle export requires --artifact, --ledger and --out")
		return 1
	}
	pair, err := loadKey(keyHex, keyFile, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load key: %v\n", err)
		return 1
	}

	artifact, err := readArtifact(artifactPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read artifact: %v\n", err)
		return 1
	}
	receipts, err := readLedger(ledgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read ledger: %v\n", err)
		return 1
	}
	if len(receipts) == 0 {
		fmt.Fprintln(os.Stderr, "ledger is empty")
		return 1
	}

	// One checkpoint over the whole run, sealed at export time.
	scheduler, err := usecase.NewCheckpointScheduler(usecase.SchedulerConfig{
		RunID:                    receipts[0].RunID,
		ArtifactID:               receipts[0].ArtifactID,
		MaxReceiptsPerCheckpoint: len(receipts) + 1,
	}, pair, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checkpoint: %v\n", err)
		return 1
	}
	receiptIDs := make([]string, 0, len(receipts))
	for _, receipt := range receipts {
		if _, err := scheduler.Add(usecase.CheckpointTuple{
			ReceiptID:   receipt.ReceiptID,
			ReceiptHash: receipt.Chain.ThisReceiptHash,
			ArtifactID:  receipt.ArtifactID,
			Sequence:    receipt.SequenceNumber,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "checkpoint: %v\n", err)
			return 1
		}
		receiptIDs = append(receiptIDs, receipt.ReceiptID)
	}
	record, err := scheduler.CreateCheckpoint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "checkpoint: %v\n", err)
		return 1
	}
	proofs, err := usecase.CheckpointProofs(*record, receiptIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inclusion proofs: %v\n", err)
		return 1
	}
	keyring, err := usecase.BuildKeyring(pair, artifact.VaultID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyring: %v\n", err)
		return 1
	}

	input := bundles.ExportInput{
		RunID:       receipts[0].RunID,
		Artifact:    *artifact,
		Receipts:    receipts,
		Checkpoints: []domain.CheckpointRecord{*record},
		Inclusions:  proofs,
		Keyring:     &keyring,
		CreatedAt:   time.Now().UTC(),
	}
	if payloadPath != "" {
		payload, err := os.ReadFile(payloadPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
			return 1
		}
		input.Payload = map[string][]byte{filepath.Base(payloadPath): payload}
	}

	manifest, err := bundles.ExportDir(outDir, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		return 1
	}
	fmt.Printf("bundle_id=%s files=%d out=%s\n", manifest.BundleID, len(manifest.Files), outDir)
	return 0
}

func runBundleVerify(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "bundle verify requires <bundle dir>")
		return 1
	}

	contents, err := bundles.LoadDir(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bundle: %v\n", err)
		return 1
	}
	verdict := usecase.VerifyBundle(contents, time.Now().UTC())
	printVerdict(verdict)
	if verdict.Verdict == domain.VerdictFail {
		return 1
	}
	return 0
}

func printVerdict(verdict domain.BundleVerdict) {
	fmt.Printf("verdict=%s\n", verdict.Verdict)
	for _, check := range verdict.Checks {
		fmt.Printf("check.%s=%s\n", check.Name, check.Status)
		for _, problem := range check.Errors {
			fmt.Printf("  error=%s\n", problem)
		}
		for _, warning := range check.Warnings {
			fmt.Printf("  warning=%s\n", warning)
		}
	}
	if len(verdict.Caveats) > 0 {
		fmt.Printf("caveats=%s\n", strings.Join(verdict.Caveats, "; "))
	}
}

func readLedger(path string) ([]domain.Receipt, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var receipts []domain.Receipt
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var receipt domain.Receipt
		if err := json.Unmarshal(line, &receipt); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, scanner.Err()
}
