package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// AppConfig ties together chain, fulfillment and service settings.
type AppConfig struct {
	Chain       ChainConfig
	Fulfillment FulfillmentConfig
	Service     ServiceConfig
}

type ChainConfig struct {
	RPCURL             string
	TreasuryPrivateKey string
	PatronTokenAddress string
}

// FulfillmentConfig captures the conversion parameters and the payload
// checks the handler enforces.
type FulfillmentConfig struct {
	PatronDecimals int
	USDCDecimals   int
	PatronPerUSD   decimal.Decimal
	RateFixed18    *big.Int

	DestChainID      int64
	USDCTokenAddress string
	SellerAddress    string

	BalancePrecheck bool
	Mode            string // "transfer" or "mint"
}

type ServiceConfig struct {
	HTTPPort           int
	WebhookSecret      string
	WebhookTolerance   time.Duration
	ProcessedStorePath string
	PostgresDSN        string
}

// Base mainnet USDC, the default destination the payment provider settles to.
const defaultUSDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

const (
	ModeTransfer = "transfer"
	ModeMint     = "mint"
)

// Load reads configuration from the environment and validates the
// fixed-point parameters up front so the handlers never see a bad rate.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Chain: ChainConfig{
			RPCURL:             envOr("RPC_URL", ""),
			TreasuryPrivateKey: envOr("TREASURY_PRIVATE_KEY", ""),
			PatronTokenAddress: envOr("PATRON_TOKEN_ADDRESS", ""),
		},
		Fulfillment: FulfillmentConfig{
			PatronDecimals:   envOrInt("PATRON_DECIMALS", 18),
			USDCDecimals:     envOrInt("USDC_DECIMALS", 6),
			DestChainID:      int64(envOrInt("DEST_CHAIN_ID", 8453)),
			USDCTokenAddress: envOr("USDC_TOKEN_ADDRESS", defaultUSDCAddress),
			SellerAddress:    envOr("SELLER_ADDRESS", ""),
			BalancePrecheck:  envOrBool("BALANCE_PRECHECK", true),
			Mode:             envOr("FULFILL_MODE", ModeTransfer),
		},
		Service: ServiceConfig{
			HTTPPort:           envOrInt("API_HTTP_PORT", 3000),
			WebhookSecret:      envOr("THIRDWEB_WEBHOOK_SECRET", ""),
			WebhookTolerance:   time.Duration(envOrInt("WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
			ProcessedStorePath: envOr("PROCESSED_STORE_PATH", filepath.Join(os.TempDir(), "patronrelay-processed.json")),
			PostgresDSN:        envOr("POSTGRES_DSN", ""),
		},
	}

	rate, err := decimal.NewFromString(envOr("PATRON_PER_USD", "1"))
	if err != nil {
		return nil, fmt.Errorf("parse PATRON_PER_USD: %w", err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("PATRON_PER_USD must be positive, got %s", rate)
	}
	cfg.Fulfillment.PatronPerUSD = rate
	cfg.Fulfillment.RateFixed18 = rate.Shift(18).BigInt()

	if cfg.Fulfillment.PatronDecimals < cfg.Fulfillment.USDCDecimals {
		return nil, fmt.Errorf("PATRON_DECIMALS (%d) must be >= USDC_DECIMALS (%d)",
			cfg.Fulfillment.PatronDecimals, cfg.Fulfillment.USDCDecimals)
	}

	if cfg.Fulfillment.Mode != ModeTransfer && cfg.Fulfillment.Mode != ModeMint {
		return nil, fmt.Errorf("FULFILL_MODE must be %q or %q, got %q", ModeTransfer, ModeMint, cfg.Fulfillment.Mode)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		switch val {
		case "1", "true", "TRUE", "yes":
			return true
		case "0", "false", "FALSE", "no":
			return false
		}
	}
	return fallback
}
