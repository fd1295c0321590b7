package fulfillment

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"patronrelay/internal/config"
	"patronrelay/internal/idempotency"
	"patronrelay/internal/treasury"
)

// Status is the terminal state of a fulfillment attempt.
type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusIgnored   Status = "ignored"
	StatusDuplicate Status = "duplicate"
)

// Outcome reports how a webhook delivery ended. Ignored and Duplicate
// are successful no-ops; Fulfilled carries the transfer details.
type Outcome struct {
	Status      Status
	EventType   string
	EventStatus string
	PaymentID   string
	Buyer       string
	USDCAmount  string
	PatronWei   *big.Int
	TxHash      string
	Treasury    string
}

// MintRequest is the direct-mint variant: the caller supplies the buyer
// and a USD amount instead of an observed payment.
type MintRequest struct {
	Address    string
	USDAmount  string
	PaymentRef string
}

type MintOutcome struct {
	To           string
	USDAmount    string
	PatronAmount string
	PatronWei    *big.Int
	Treasury     string
	TxHash       string
	PaymentRef   string
}

// Processor runs the linear fulfillment pipeline: normalize, validate,
// convert, dedupe, balance-check, transfer, mark. There are no retries
// and no back-edges; every failure is terminal for the request.
type Processor struct {
	cfg    *config.FulfillmentConfig
	client treasury.Client
	store  idempotency.Store
	log    *slog.Logger
}

func NewProcessor(cfg *config.FulfillmentConfig, client treasury.Client, store idempotency.Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{cfg: cfg, client: client, store: store, log: log}
}

// ProcessEvent fulfills an authenticated webhook delivery. The body
// must already have passed signature verification.
func (p *Processor) ProcessEvent(ctx context.Context, rawBody []byte) (*Outcome, error) {
	norm, err := Normalize(rawBody, p.cfg)
	if err != nil {
		return nil, err
	}
	if norm.Ignored {
		return &Outcome{
			Status:      StatusIgnored,
			EventType:   norm.IgnoredType,
			EventStatus: norm.IgnoredStatus,
		}, nil
	}

	ev := norm.Event

	patronWei, err := ComputeTokenAmount(ev.DestAmount, p.cfg.USDCDecimals, p.cfg.PatronDecimals, p.cfg.RateFixed18)
	if err != nil {
		return nil, err
	}

	// Events without a payment id get no idempotency protection; the
	// upstream provider always sets one in practice.
	if ev.PaymentID != "" {
		seen, err := p.store.Has(ctx, ev.PaymentID)
		if err != nil {
			return nil, chainErr("idempotency check", err)
		}
		if seen {
			return &Outcome{
				Status:    StatusDuplicate,
				EventType: ev.Type,
				PaymentID: ev.PaymentID,
			}, nil
		}
	}

	result, err := p.execute(ctx, ev.Buyer, patronWei)
	if err != nil {
		return nil, err
	}

	// Mark processed only after the transfer confirmed. A crash before
	// this point leaves the payment unmarked so the provider's resend
	// can be reprocessed safely; a crash after the transfer but before
	// the mark risks a duplicate on resend. Known limitation.
	if ev.PaymentID != "" {
		if err := p.store.Add(ctx, ev.PaymentID); err != nil {
			p.log.Error("failed to mark payment processed", "paymentId", ev.PaymentID, "err", err)
		}
	}

	p.log.Info("fulfilled patron purchase",
		"type", ev.Type,
		"paymentId", ev.PaymentID,
		"buyer", ev.Buyer.Hex(),
		"usdc", ev.RawAmount,
		"patronWei", patronWei.String(),
		"tx", result.TxHash,
	)

	return &Outcome{
		Status:     StatusFulfilled,
		EventType:  ev.Type,
		PaymentID:  ev.PaymentID,
		Buyer:      ev.Buyer.Hex(),
		USDCAmount: ev.RawAmount,
		PatronWei:  patronWei,
		TxHash:     result.TxHash,
		Treasury:   p.client.TreasuryAddress().Hex(),
	}, nil
}

// ProcessMint fulfills a direct mint request.
func (p *Processor) ProcessMint(ctx context.Context, req MintRequest) (*MintOutcome, error) {
	if !common.IsHexAddress(req.Address) {
		return nil, validationf("invalid address %q", req.Address)
	}

	patron, patronWei, err := MintAmount(req.USDAmount, p.cfg.PatronPerUSD, p.cfg.PatronDecimals)
	if err != nil {
		return nil, err
	}

	result, err := p.execute(ctx, common.HexToAddress(req.Address), patronWei)
	if err != nil {
		return nil, err
	}

	p.log.Info("minted patron for direct request",
		"to", req.Address,
		"usdAmount", req.USDAmount,
		"patronWei", patronWei.String(),
		"paymentRef", req.PaymentRef,
		"tx", result.TxHash,
	)

	return &MintOutcome{
		To:           common.HexToAddress(req.Address).Hex(),
		USDAmount:    req.USDAmount,
		PatronAmount: patron.String(),
		PatronWei:    patronWei,
		Treasury:     p.client.TreasuryAddress().Hex(),
		TxHash:       result.TxHash,
		PaymentRef:   req.PaymentRef,
	}, nil
}

// execute runs the configured checks and submits the on-chain call.
// Which checks apply is configuration, not code paths: the balance
// precheck can be disabled and the mode switches transfer vs mint.
func (p *Processor) execute(ctx context.Context, to common.Address, amount *big.Int) (treasury.TxResult, error) {
	if p.cfg.BalancePrecheck && p.cfg.Mode == config.ModeTransfer {
		balance, err := p.client.BalanceOf(ctx, p.client.TreasuryAddress())
		if err != nil {
			return treasury.TxResult{}, chainErr("treasury balance read", err)
		}
		if balance.Cmp(amount) < 0 {
			return treasury.TxResult{}, &Error{
				Kind: KindInsufficientFunds,
				Msg:  "treasury has insufficient patron balance for fulfillment",
			}
		}
	}

	var (
		result treasury.TxResult
		err    error
	)
	if p.cfg.Mode == config.ModeMint {
		result, err = p.client.Mint(ctx, to, amount)
	} else {
		result, err = p.client.Transfer(ctx, to, amount)
	}
	if err != nil {
		return treasury.TxResult{}, chainErr("fulfillment transaction", err)
	}
	return result, nil
}
