// Command token prints a bearer token for an account, signed with the
// server's JWT secret, for local development against the ledger API.
//
// With -op it prints an attachment instead: the signed header a payment
// gateway sends on pay_in and deposit after receiving the funds.
package main

import (
	"flag"
	"fmt"
	"log"

	mW "github.com/openbank/ledger/internal/middleware"
	"github.com/openbank/ledger/internal/models"
	"github.com/spf13/viper"
)

func main() {
	account := flag.String("account", "", "account id to put in the account_id claim")
	op := flag.String("op", "", "issue an attachment for this operation (pay_in or deposit)")
	amount := flag.String("amount", "0", "attached amount in minor units")
	nonce := flag.Uint64("nonce", 0, "nonce of the call the attachment is for")
	flag.Parse()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("jwt.attachment_key", "JWT_ATTACHMENT_KEY")
	viper.BindEnv("jwt.attachment_ttl", "JWT_ATTACHMENT_TTL")
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	if *account == "" {
		log.Fatal("-account is required")
	}

	if *op != "" {
		attached, err := models.ParseAmount(*amount)
		if err != nil {
			log.Fatalf("Invalid -amount: %v", err)
		}
		token, err := mW.GenerateAttachment(mW.Attachment{
			AccountID: *account,
			Operation: *op,
			Amount:    attached,
			Nonce:     *nonce,
		})
		if err != nil {
			log.Fatalf("Failed to sign attachment: %v", err)
		}
		fmt.Println(token)
		return
	}

	if viper.GetString("jwt.secret_key") == "" {
		log.Fatal("jwt.secret_key is not set")
	}
	token, err := mW.GenerateToken(*account)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
