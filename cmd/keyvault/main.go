// Command keyvault encrypts a custodial private key with the configured vault
// key and IV. The hex private key is read from stdin; with -generate a fresh
// key is created instead.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"tournament-rewards/internal/config"
	"tournament-rewards/internal/vault"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	generate := flag.Bool("generate", false, "generate a new custodial key instead of reading one")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	v, err := vault.New(cfg.Vault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init key vault: %v\n", err)
		os.Exit(1)
	}

	var keyHex string
	if *generate {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
		keyHex = hex.EncodeToString(crypto.FromECDSA(key))
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Failed to read private key from stdin: %v\n", err)
			os.Exit(1)
		}
		keyHex = strings.TrimSpace(line)
	}

	encrypted, err := v.Encrypt(keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encrypt key: %v\n", err)
		os.Exit(1)
	}

	var address string
	err = v.WithSigner(encrypted, func(s *vault.Signer) error {
		address = s.Address().Hex()
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encrypted key failed to round-trip: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("address:             %s\n", address)
	fmt.Printf("encrypted_admin_key: %s\n", encrypted)
}
