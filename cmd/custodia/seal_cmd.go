package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"custodia/internal/domain"
	"custodia/internal/usecase"
)

func runSeal(args []string) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var subjectPath string
	var metadataPath string
	var vaultID string
	var artifactID string
	var notBefore string
	var notAfter string
	var onDrift string
	var onExpiry string
	var onSignatureInvalid string
	var keyHex string
	var keyFile string
	var passphrase string
	var outPath string

	fs.StringVar(&subjectPath, "subject", "", "subject file to seal")
	fs.StringVar(&metadataPath, "metadata", "", "metadata JSON file")
	fs.StringVar(&vaultID, "vault-id", "", "vault id")
	fs.StringVar(&artifactID, "artifact-id", "", "artifact id (generated when empty)")
	fs.StringVar(&notBefore, "not-before", "", "validity start (RFC3339, default now)")
	fs.StringVar(&notAfter, "not-after", "", "validity end (RFC3339, default never)")
	fs.StringVar(&onDrift, "on-drift", "QUARANTINE", "action on hash drift")
	fs.StringVar(&onExpiry, "on-expiry", "QUARANTINE", "action on expiry")
	fs.StringVar(&onSignatureInvalid, "on-signature-invalid", "KILL", "action on invalid signature")
	fs.StringVar(&keyHex, "key-hex", "", "issuer key seed hex")
	fs.StringVar(&keyFile, "key-file", "", "encrypted issuer key file")
	fs.StringVar(&passphrase, "passphrase", "", "passphrase for --key-file")
	fs.StringVar(&outPath, "out", "", "output artifact path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if subjectPath == "" || vaultID == "" {
		fmt.Fprintln(os.Stderr, "seal requires --subject and --vault-id")
		return 1
	}

	pair, err := loadKey(keyHex, keyFile, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load key: %v\n", err)
		return 1
	}
	subject, err := os.ReadFile(subjectPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read subject: %v\n", err)
		return 1
	}

	var metadata any
	if metadataPath != "" {
		raw, err := os.ReadFile(metadataPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read metadata: %v\n", err)
			return 1
		}
		if err := json.Unmarshal(raw, &metadata); err != nil {
			fmt.Fprintf(os.Stderr, "decode metadata: %v\n", err)
			return 1
		}
	}

	input := usecase.SealInput{
		VaultID:      vaultID,
		ArtifactID:   artifactID,
		SubjectBytes: subject,
		Metadata:     metadata,
		EnforcementPolicy: domain.EnforcementPolicy{
			OnDrift:            domain.EnforcementAction(onDrift),
			OnExpiry:           domain.EnforcementAction(onExpiry),
			OnSignatureInvalid: domain.EnforcementAction(onSignatureInvalid),
		},
	}
	if notBefore != "" {
		parsed, err := time.Parse(time.RFC3339, notBefore)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse not-before: %v\n", err)
			return 1
		}
		input.NotBefore = parsed
	}
	if notAfter != "" {
		parsed, err := time.Parse(time.RFC3339, notAfter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse not-after: %v\n", err)
			return 1
		}
		input.NotAfter = &parsed
	}

	artifact, err := usecase.NewSealer(pair).Seal(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode artifact: %v\n", err)
		return 1
	}
	if outPath == "" {
		fmt.Println(string(out))
		return 0
	}
	if err := os.WriteFile(outPath, append(out, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write artifact: %v\n", err)
		return 1
	}
	fmt.Printf("artifact_id=%s policy_hash=%s\n", artifact.ArtifactID, artifact.PolicyHash)
	return 0
}
