package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"custodia/internal/usecase"
)

func runVerifyArtifact(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var artifactPath string
	var subjectPath string

	fs.StringVar(&artifactPath, "artifact", "", "sealed artifact JSON")
	fs.StringVar(&subjectPath, "subject", "", "subject file to check against the seal")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if artifactPath == "" {
		fmt.Fprintln(os.Stderr, "verify requires --artifact")
		return 1
	}

	artifact, err := readArtifact(artifactPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read artifact: %v\n", err)
		return 1
	}
	var subject []byte
	if subjectPath != "" {
		if subject, err = os.ReadFile(subjectPath); err != nil {
			fmt.Fprintf(os.Stderr, "read subject: %v\n", err)
			return 1
		}
	}

	result := usecase.VerifyArtifact(*artifact, subject, time.Now().UTC())
	status := "pass"
	if !result.Valid {
		status = "fail"
	}
	fmt.Printf("status=%s artifact_id=%s\n", status, artifact.ArtifactID)
	for _, problem := range result.Errors {
		fmt.Printf("error=%s\n", problem)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("warning=%s\n", warning)
	}
	if result.Valid {
		return 0
	}
	return 1
}
