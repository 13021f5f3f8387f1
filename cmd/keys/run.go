package main

import (
	"fmt"
	"io"
	"log"

	"github.com/openbank/ledger/internal/config"
)

func run(cfg *config.LedgerConfig, rotate bool, keyID string, out io.Writer) error {
	keys, err := cfg.KeyStore()
	if err != nil {
		return err
	}

	if rotate {
		id, err := keys.RotateKeys()
		if err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		log.Printf("Rotated settlement signing key, active key is now %s", id)
	}

	if keyID == "" {
		keyID = keys.ActiveKeyID()
	}
	pem, err := keys.GetPublicKey(keyID)
	if err != nil {
		return fmt.Errorf("public key %s: %w", keyID, err)
	}
	fmt.Fprintf(out, "# %s\n%s", keyID, pem)
	return nil
}
