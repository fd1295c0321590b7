package fulfillment

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"patronrelay/internal/config"
)

const (
	EventOnchain = "pay.onchain-transaction"
	EventOnramp  = "pay.onramp-transaction"

	statusCompleted = "COMPLETED"
)

// PaymentEvent is the normalized view of a completed webhook delivery.
// Onchain and onramp events carry the same information under different
// field names; normalization folds both into this shape.
type PaymentEvent struct {
	Type       string
	PaymentID  string
	Receiver   common.Address
	Buyer      common.Address
	DestAmount *big.Int
	RawAmount  string
}

// Normalized is the outcome of payload normalization: either a payment
// event to fulfill or an instruction to ignore the delivery.
type Normalized struct {
	Ignored       bool
	IgnoredType   string
	IgnoredStatus string
	Event         *PaymentEvent
}

// flexString tolerates the provider emitting a field as either a JSON
// string or a bare number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(bytes.Trim(b, `"`))
	return nil
}

type tokenRef struct {
	Address string     `json:"address"`
	ChainID flexString `json:"chainId"`
}

type purchaseData struct {
	WalletAddress string `json:"walletAddress"`
	Buyer         string `json:"buyer"`
}

type eventData struct {
	Status            string        `json:"status"`
	Receiver          string        `json:"receiver"`
	Sender            string        `json:"sender"`
	DestinationToken  *tokenRef     `json:"destinationToken"`
	Token             *tokenRef     `json:"token"`
	DestinationAmount flexString    `json:"destinationAmount"`
	Amount            flexString    `json:"amount"`
	PurchaseData      *purchaseData `json:"purchaseData"`
	PaymentID         string        `json:"paymentId"`
	TransactionID     string        `json:"transactionId"`
	ID                string        `json:"id"`
}

type webhookPayload struct {
	Type         string        `json:"type"`
	Data         *eventData    `json:"data"`
	PurchaseData *purchaseData `json:"purchaseData"`
}

// Normalize parses a webhook body and validates it against the
// configured seller, destination token and chain. Unknown event types
// and non-completed statuses are ignored, not rejected: the provider
// retries failed deliveries and we do not want retry storms for events
// we will never act on.
func Normalize(rawBody []byte, cfg *config.FulfillmentConfig) (*Normalized, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, validationf("malformed webhook payload: %v", err)
	}

	isOnchain := payload.Type == EventOnchain
	isOnramp := payload.Type == EventOnramp
	if !isOnchain && !isOnramp {
		return &Normalized{Ignored: true, IgnoredType: payload.Type}, nil
	}

	data := payload.Data
	if data == nil {
		return nil, validationf("missing data in webhook payload")
	}

	if data.Status != statusCompleted {
		return &Normalized{Ignored: true, IgnoredType: payload.Type, IgnoredStatus: data.Status}, nil
	}

	if !common.IsHexAddress(data.Receiver) {
		return nil, validationf("invalid receiver in payload: receiver=%s", data.Receiver)
	}
	receiver := common.HexToAddress(data.Receiver)

	if cfg.SellerAddress != "" && !strings.EqualFold(data.Receiver, cfg.SellerAddress) {
		return nil, validationf("receiver mismatch: got %s, expected %s", data.Receiver, cfg.SellerAddress)
	}

	destToken := data.DestinationToken
	rawAmount := data.DestinationAmount
	if isOnramp {
		destToken = data.Token
		rawAmount = data.Amount
	}

	if destToken == nil || !strings.EqualFold(destToken.Address, cfg.USDCTokenAddress) {
		got := ""
		if destToken != nil {
			got = destToken.Address
		}
		return nil, validationf("destination token mismatch: got %s, expected %s", got, cfg.USDCTokenAddress)
	}

	chainID, err := strconv.ParseInt(string(destToken.ChainID), 10, 64)
	if err != nil || chainID != cfg.DestChainID {
		return nil, validationf("destination chain mismatch: got %s, expected %d", destToken.ChainID, cfg.DestChainID)
	}

	amount, ok := new(big.Int).SetString(string(rawAmount), 10)
	if string(rawAmount) == "" || !ok || amount.Sign() <= 0 {
		return nil, validationf("invalid destination amount: %q", rawAmount)
	}

	buyerHex := buyerAddress(isOnchain, data, payload.PurchaseData)
	if buyerHex == "" || !common.IsHexAddress(buyerHex) {
		return nil, validationf("missing or invalid buyer wallet; onramp events must carry purchaseData.walletAddress")
	}

	return &Normalized{
		Event: &PaymentEvent{
			Type:       payload.Type,
			PaymentID:  paymentID(data),
			Receiver:   receiver,
			Buyer:      common.HexToAddress(buyerHex),
			DestAmount: amount,
			RawAmount:  string(rawAmount),
		},
	}, nil
}

// Onchain events know their sender; onramp events have no on-chain
// sender and must carry the buyer wallet in purchase metadata.
func buyerAddress(isOnchain bool, data *eventData, topLevel *purchaseData) string {
	if isOnchain && data.Sender != "" {
		return data.Sender
	}
	if data.PurchaseData != nil {
		if data.PurchaseData.WalletAddress != "" {
			return data.PurchaseData.WalletAddress
		}
		if data.PurchaseData.Buyer != "" {
			return data.PurchaseData.Buyer
		}
	}
	if topLevel != nil && topLevel.WalletAddress != "" {
		return topLevel.WalletAddress
	}
	return ""
}

func paymentID(data *eventData) string {
	switch {
	case data.PaymentID != "":
		return data.PaymentID
	case data.TransactionID != "":
		return data.TransactionID
	default:
		return data.ID
	}
}
