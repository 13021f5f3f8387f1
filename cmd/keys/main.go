// Command keys manages the settlement signing keys the server loads from
// settlement.signing.key_path. It rotates the active key pair and prints
// public keys for the clearing house to verify X-Signature with.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/openbank/ledger/internal/config"
	"github.com/spf13/viper"
)

func main() {
	rotate := flag.Bool("rotate", false, "generate a new key pair and make it active")
	public := flag.String("public", "", "print the public key with this id (defaults to the active key)")
	flag.Parse()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.BindEnv("ledger.id", "LEDGER_ID")
	viper.BindEnv("settlement.signing.master_key", "SETTLEMENT_SIGNING_MASTER_KEY")
	viper.BindEnv("settlement.signing.key_path", "SETTLEMENT_SIGNING_KEY_PATH")
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg, err := config.LoadLedgerConfig()
	if err != nil {
		log.Fatalf("Failed to load ledger config: %v", err)
	}
	if err := run(cfg, *rotate, *public, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
