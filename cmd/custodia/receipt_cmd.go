package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"custodia/internal/domain"
	"custodia/internal/usecase"
)

// runReceiptAppend appends one receipt to a JSONL ledger file. The previous
// line supplies the chain linkage; an empty or missing file starts a run
// with its genesis receipt.
func runReceiptAppend(args []string) int {
	fs := flag.NewFlagSet("receipt append", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var ledgerPath string
	var runID string
	var artifactPath string
	var eventType string
	var condition string
	var keyHex string
	var keyFile string
	var passphrase string

	fs.StringVar(&ledgerPath, "ledger", "", "ledger JSONL file")
	fs.StringVar(&runID, "run-id", "", "run id")
	fs.StringVar(&artifactPath, "artifact", "", "sealed artifact JSON (required for genesis)")
	fs.StringVar(&eventType, "event", "", "event type (default POLICY_LOADED for genesis, MEASUREMENT_OK after)")
	fs.StringVar(&condition, "condition", "clean", "observed condition")
	fs.StringVar(&keyHex, "key-hex", "", "signer key seed hex")
	fs.StringVar(&keyFile, "key-file", "", "encrypted signer key file")
	fs.StringVar(&passphrase, "passphrase", "", "passphrase for --key-file")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if ledgerPath == "" || runID == "" {
		fmt.Fprintln(os.Stderr, "receipt append requires --ledger and --run-id")
		return 1
	}
	pair, err := loadKey(keyHex, keyFile, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load key: %v\n", err)
		return 1
	}

	last, err := lastReceipt(ledgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read ledger: %v\n", err)
		return 1
	}

	writer := usecase.NewChainWriter(pair)
	var receipt domain.Receipt
	if last == nil {
		if artifactPath == "" {
			fmt.Fprintln(os.Stderr, "genesis receipt requires --artifact")
			return 1
		}
		artifact, err := readArtifact(artifactPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read artifact: %v\n", err)
			return 1
		}
		receipt, _, err = writer.Genesis(usecase.GenesisInput{
			RunID:      runID,
			ArtifactID: artifact.ArtifactID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "append: %v\n", err)
			return 1
		}
	} else {
		if last.RunID != runID {
			fmt.Fprintf(os.Stderr, "ledger belongs to run %s, not %s\n", last.RunID, runID)
			return 1
		}
		event := domain.EventType(eventType)
		if eventType == "" {
			event = domain.EventMeasurementOK
		}
		var artifact *domain.PolicyArtifact
		if artifactPath != "" {
			if artifact, err = readArtifact(artifactPath); err != nil {
				fmt.Fprintf(os.Stderr, "read artifact: %v\n", err)
				return 1
			}
		}
		decision, err := decideForCondition(condition, artifact)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decide: %v\n", err)
			return 1
		}
		receipt, err = writer.Append(usecase.ReceiptInput{
			RunID:           runID,
			ArtifactID:      last.ArtifactID,
			SequenceNumber:  last.SequenceNumber + 1,
			PrevReceiptHash: last.Chain.ThisReceiptHash,
			EventType:       event,
			RecordedAt:      time.Now().UTC(),
			Decision:        decision,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "append: %v\n", err)
			return 1
		}
	}

	line, err := json.Marshal(receipt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode receipt: %v\n", err)
		return 1
	}
	file, err := os.OpenFile(ledgerPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return 1
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "write ledger: %v\n", err)
		return 1
	}
	fmt.Printf("receipt_id=%s seq=%d hash=%s\n", receipt.ReceiptID, receipt.SequenceNumber, receipt.Chain.ThisReceiptHash)
	return 0
}

func decideForCondition(condition string, artifact *domain.PolicyArtifact) (domain.Decision, error) {
	input := usecase.EnforcementInput{Condition: usecase.Condition(condition)}
	if artifact != nil {
		input.Policy = artifact.EnforcementPolicy
	} else {
		input.Policy = domain.EnforcementPolicy{
			OnDrift:            domain.ActionQuarantine,
			OnExpiry:           domain.ActionQuarantine,
			OnSignatureInvalid: domain.ActionKill,
		}
	}
	engine := &usecase.TableEngine{}
	return engine.Decide(context.Background(), input)
}

func lastReceipt(path string) (*domain.Receipt, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var last *domain.Receipt
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
		last = &receipt
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

func readArtifact(path string) (*domain.PolicyArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact domain.PolicyArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}
