package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:])
	case "seal":
		return runSeal(args[2:])
	case "receipt":
		if len(args) >= 3 && args[2] == "append" {
			return runReceiptAppend(args[3:])
		}
	case "verify":
		return runVerifyArtifact(args[2:])
	case "bundle":
		if len(args) >= 3 {
			switch args[2] {
			case "export":
				return runBundleExport(args[3:])
			case "verify":
				return runBundleVerify(args[3:])
			}
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "custodia"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s keygen [--out <key.json> --passphrase <pw>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s seal --subject <file> --vault-id <id> (--key-hex <hex>|--key-file <key.json> --passphrase <pw>) [--metadata <json file>] [--not-before <rfc3339>] [--not-after <rfc3339>] [--on-drift <action>] [--on-expiry <action>] [--on-signature-invalid <action>] [--out <artifact.json>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s receipt append --ledger <ledger.jsonl> --run-id <id> (--key-hex <hex>|--key-file <key.json> --passphrase <pw>) [--artifact <artifact.json>] [--event <type>] [--condition <clean|drift|expired|signature_invalid>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify --artifact <artifact.json> [--subject <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s bundle export --artifact <artifact.json> --ledger <ledger.jsonl> --out <dir> (--key-hex <hex>|--key-file <key.json> --passphrase <pw>) [--payload <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s bundle verify <bundle dir>\n", name)
}
