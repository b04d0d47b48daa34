package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	cryptoinfra "custodia/internal/infra/crypto"
	"custodia/internal/infra/keys/soft"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var outPath string
	var passphrase string
	fs.StringVar(&outPath, "out", "", "write passphrase-encrypted key file")
	fs.StringVar(&passphrase, "passphrase", "", "passphrase for --out")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if outPath != "" && passphrase == "" {
		fmt.Fprintln(os.Stderr, "--out requires --passphrase")
		return 1
	}

	pair, err := cryptoinfra.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		return 1
	}

	fmt.Printf("key_id=%s\n", pair.KeyID)
	fmt.Printf("public_key=%s\n", cryptoinfra.EncodePublicKey(pair.PublicKey))
	if outPath != "" {
		if err := soft.SaveEncryptedKeyFile(outPath, pair, passphrase); err != nil {
			fmt.Fprintf(os.Stderr, "write key file: %v\n", err)
			return 1
		}
		fmt.Printf("key_file=%s\n", outPath)
	} else {
		fmt.Printf("seed_hex=%s\n", hex.EncodeToString(pair.Seed))
	}
	return 0
}

func loadKey(keyHex, keyFile, passphrase string) (cryptoinfra.KeyPair, error) {
	switch {
	case keyHex != "":
		return cryptoinfra.ImportPrivateKey(keyHex)
	case keyFile != "":
		if passphrase == "" {
			return cryptoinfra.KeyPair{}, fmt.Errorf("--key-file requires --passphrase")
		}
		return soft.LoadEncryptedKeyFile(keyFile, passphrase)
	default:
		return cryptoinfra.KeyPair{}, fmt.Errorf("one of --key-hex or --key-file is required")
	}
}
