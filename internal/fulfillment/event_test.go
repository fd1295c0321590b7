package fulfillment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"patronrelay/internal/config"
)

const (
	testSeller = "0x1111111111111111111111111111111111111111"
	testBuyer  = "0x2222222222222222222222222222222222222222"
	testUSDC   = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

func testFulfillmentConfig() *config.FulfillmentConfig {
	rate, _ := ParseRate("1")
	return &config.FulfillmentConfig{
		PatronDecimals:   18,
		USDCDecimals:     6,
		PatronPerUSD:     decimal.NewFromInt(1),
		RateFixed18:      rate,
		DestChainID:      8453,
		USDCTokenAddress: testUSDC,
		SellerAddress:    testSeller,
		BalancePrecheck:  true,
		Mode:             config.ModeTransfer,
	}
}

func onchainBody(amount string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "pay.onchain-transaction",
		"data": {
			"status": "COMPLETED",
			"paymentId": "pay-123",
			"receiver": %q,
			"sender": %q,
			"destinationToken": {"address": %q, "chainId": 8453},
			"destinationAmount": %q
		}
	}`, testSeller, testBuyer, testUSDC, amount))
}

func TestNormalize_OnchainEvent(t *testing.T) {
	norm, err := Normalize(onchainBody("5000000"), testFulfillmentConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if norm.Ignored {
		t.Fatal("expected event, got ignored")
	}

	ev := norm.Event
	if ev.PaymentID != "pay-123" {
		t.Fatalf("paymentID = %q", ev.PaymentID)
	}
	if ev.Buyer.Hex() != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("buyer = %s", ev.Buyer.Hex())
	}
	if ev.DestAmount.Int64() != 5_000_000 {
		t.Fatalf("amount = %s", ev.DestAmount)
	}
}

func TestNormalize_OnrampEventUsesPurchaseData(t *testing.T) {
	body := []byte(fmt.Sprintf(`{
		"type": "pay.onramp-transaction",
		"data": {
			"status": "COMPLETED",
			"transactionId": "onramp-9",
			"receiver": %q,
			"token": {"address": %q, "chainId": "8453"},
			"amount": "1000000",
			"purchaseData": {"walletAddress": %q}
		}
	}`, testSeller, testUSDC, testBuyer))

	norm, err := Normalize(body, testFulfillmentConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	ev := norm.Event
	if ev.PaymentID != "onramp-9" {
		t.Fatalf("paymentID = %q", ev.PaymentID)
	}
	if ev.Buyer.Hex() != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("buyer = %s", ev.Buyer.Hex())
	}
}

func TestNormalize_OnrampWithoutBuyerFails(t *testing.T) {
	body := []byte(fmt.Sprintf(`{
		"type": "pay.onramp-transaction",
		"data": {
			"status": "COMPLETED",
			"receiver": %q,
			"token": {"address": %q, "chainId": 8453},
			"amount": "1000000"
		}
	}`, testSeller, testUSDC))

	_, err := Normalize(body, testFulfillmentConfig())
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalize_IgnoresUnknownType(t *testing.T) {
	norm, err := Normalize([]byte(`{"type":"pay.something-else","data":{"status":"COMPLETED"}}`), testFulfillmentConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !norm.Ignored || norm.IgnoredType != "pay.something-else" {
		t.Fatalf("expected ignored outcome, got %+v", norm)
	}
}

func TestNormalize_IgnoresPendingStatus(t *testing.T) {
	body := []byte(fmt.Sprintf(`{
		"type": "pay.onchain-transaction",
		"data": {"status": "PENDING", "receiver": %q}
	}`, testSeller))

	norm, err := Normalize(body, testFulfillmentConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !norm.Ignored || norm.IgnoredStatus != "PENDING" {
		t.Fatalf("expected ignored outcome, got %+v", norm)
	}
}

func TestNormalize_SellerMismatch(t *testing.T) {
	cfg := testFulfillmentConfig()
	cfg.SellerAddress = "0x9999999999999999999999999999999999999999"

	_, err := Normalize(onchainBody("5000000"), cfg)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindValidation {
		t.Fatalf("expected validation error for seller mismatch, got %v", err)
	}
}

func TestNormalize_SellerMatchIsCaseInsensitive(t *testing.T) {
	cfg := testFulfillmentConfig()
	cfg.SellerAddress = "0X1111111111111111111111111111111111111111"

	if _, err := Normalize(onchainBody("5000000"), cfg); err != nil {
		t.Fatalf("expected case-insensitive seller match, got %v", err)
	}
}

func TestNormalize_TokenMismatch(t *testing.T) {
	cfg := testFulfillmentConfig()
	cfg.USDCTokenAddress = "0x4444444444444444444444444444444444444444"

	_, err := Normalize(onchainBody("5000000"), cfg)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindValidation {
		t.Fatalf("expected validation error for token mismatch, got %v", err)
	}
}

func TestNormalize_ChainMismatch(t *testing.T) {
	cfg := testFulfillmentConfig()
	cfg.DestChainID = 1

	_, err := Normalize(onchainBody("5000000"), cfg)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindValidation {
		t.Fatalf("expected validation error for chain mismatch, got %v", err)
	}
}

func TestNormalize_RejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5", ""} {
		_, err := Normalize(onchainBody(amount), testFulfillmentConfig())
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != KindValidation {
			t.Fatalf("amount=%q: expected validation error, got %v", amount, err)
		}
	}
}

func TestNormalize_RejectsMalformedJSON(t *testing.T) {
	_, err := Normalize([]byte(`{not json`), testFulfillmentConfig())
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
