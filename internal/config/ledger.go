package config

import (
	"fmt"
	"time"

	"github.com/openbank/ledger/internal/hsm"
	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
	"github.com/spf13/viper"
)

// LedgerConfig is everything needed to bootstrap one ledger instance and its
// collaborators.
type LedgerConfig struct {
	LedgerID          string
	Name              string
	Denomination      string
	Decimals          int
	Owner             string
	Nominee           string
	AuthorityIdentity string
	AffirmativeCode   int32
	NegativeCode      int32
	TestMode          bool
	OpeningBalance    models.Amount

	AuthorityURL     string
	AuthorityTimeout time.Duration

	SettlementURL     string
	SettlementBIC     string
	SettlementTimeout time.Duration

	SigningMasterKey string
	SigningKeyPath   string

	QRCodeTTL time.Duration
}

// Keys lists every ledger key so main can bind it to the environment.
var Keys = []string{
	"ledger.id",
	"ledger.name",
	"ledger.denomination",
	"ledger.decimals",
	"ledger.owner",
	"ledger.nominee",
	"ledger.authority",
	"ledger.affirmative_code",
	"ledger.negative_code",
	"ledger.test_mode",
	"ledger.opening_balance",
	"ledger.qr_ttl",
	"authority.url",
	"authority.timeout",
	"settlement.url",
	"settlement.bic",
	"settlement.timeout",
	"settlement.signing.master_key",
	"settlement.signing.key_path",
}

func setDefaults() {
	viper.SetDefault("ledger.id", "bank.open.testnet")
	viper.SetDefault("ledger.name", "Open Bank")
	viper.SetDefault("ledger.denomination", "USD")
	viper.SetDefault("ledger.decimals", 2)
	viper.SetDefault("ledger.affirmative_code", 1)
	viper.SetDefault("ledger.negative_code", 0)
	viper.SetDefault("ledger.test_mode", false)
	viper.SetDefault("ledger.opening_balance", "0")
	viper.SetDefault("ledger.qr_ttl", 5*time.Minute)
	viper.SetDefault("authority.url", "http://localhost:8081")
	viper.SetDefault("authority.timeout", 5*time.Second)
	viper.SetDefault("settlement.bic", "OPENBANKXXX")
	viper.SetDefault("settlement.timeout", 30*time.Second)
	viper.SetDefault("settlement.signing.key_path", "keys")
}

// LoadLedgerConfig reads the ledger configuration from viper.
func LoadLedgerConfig() (*LedgerConfig, error) {
	setDefaults()

	opening, err := models.ParseAmount(viper.GetString("ledger.opening_balance"))
	if err != nil {
		return nil, fmt.Errorf("ledger.opening_balance: %w", err)
	}

	cfg := &LedgerConfig{
		LedgerID:          viper.GetString("ledger.id"),
		Name:              viper.GetString("ledger.name"),
		Denomination:      viper.GetString("ledger.denomination"),
		Decimals:          viper.GetInt("ledger.decimals"),
		Owner:             viper.GetString("ledger.owner"),
		Nominee:           viper.GetString("ledger.nominee"),
		AuthorityIdentity: viper.GetString("ledger.authority"),
		AffirmativeCode:   viper.GetInt32("ledger.affirmative_code"),
		NegativeCode:      viper.GetInt32("ledger.negative_code"),
		TestMode:          viper.GetBool("ledger.test_mode"),
		OpeningBalance:    opening,
		AuthorityURL:      viper.GetString("authority.url"),
		AuthorityTimeout:  viper.GetDuration("authority.timeout"),
		SettlementURL:     viper.GetString("settlement.url"),
		SettlementBIC:     viper.GetString("settlement.bic"),
		SettlementTimeout: viper.GetDuration("settlement.timeout"),
		SigningMasterKey:  viper.GetString("settlement.signing.master_key"),
		SigningKeyPath:    viper.GetString("settlement.signing.key_path"),
		QRCodeTTL:         viper.GetDuration("ledger.qr_ttl"),
	}

	if cfg.LedgerID == "" {
		return nil, fmt.Errorf("ledger.id is required")
	}
	if cfg.Owner == "" {
		cfg.Owner = cfg.LedgerID
	}
	return cfg, nil
}

// Settings converts the configuration into ledger bootstrap settings.
func (c *LedgerConfig) Settings() services.LedgerSettings {
	return services.LedgerSettings{
		Info: models.LedgerInfo{
			LedgerID:          c.LedgerID,
			Name:              c.Name,
			Denomination:      c.Denomination,
			Owner:             c.Owner,
			Nominee:           c.Nominee,
			AuthorityIdentity: c.AuthorityIdentity,
			TestMode:          c.TestMode,
		},
		OpeningBalance:  c.OpeningBalance,
		AffirmativeCode: c.AffirmativeCode,
		NegativeCode:    c.NegativeCode,
	}
}

// Settler picks the ISO 20022 rail when a settlement endpoint is configured
// and the local settler otherwise. The rail signs its messages when a
// signing master key is set.
func (c *LedgerConfig) Settler() (services.Settler, error) {
	if c.SettlementURL == "" {
		return services.NewLocalSettler(), nil
	}

	settler := services.NewISO20022Settler(c.SettlementURL, c.SettlementBIC, c.Decimals, c.SettlementTimeout)
	if c.SigningMasterKey == "" {
		return settler, nil
	}

	keys, err := c.KeyStore()
	if err != nil {
		return nil, err
	}
	settler.SetSigner(keys)
	return settler, nil
}

// KeyStore opens the settlement signing keys, creating the first pair when
// the key path is empty.
func (c *LedgerConfig) KeyStore() (*hsm.KeyStore, error) {
	if c.SigningMasterKey == "" {
		return nil, fmt.Errorf("settlement signing: settlement.signing.master_key is not set")
	}
	keys, err := hsm.InitKeyStore(hsm.Config{
		MasterKey:    c.SigningMasterKey,
		Salt:         c.LedgerID,
		KeyStorePath: c.SigningKeyPath,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement signing: %w", err)
	}
	return keys, nil
}
