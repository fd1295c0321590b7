package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"patronrelay/internal/config"
	"patronrelay/internal/fulfillment"
	"patronrelay/internal/hmacauth"
	"patronrelay/internal/idempotency"
	"patronrelay/internal/treasury"
)

type Server struct {
	cfg           *config.AppConfig
	proc          *fulfillment.Processor
	hmac          *hmacauth.Verifier
	httpServer    *http.Server
	metrics       *metricsRegistry
	log           *slog.Logger
	storeHealthFn func(context.Context) error
	rpcHealthFn   func(context.Context) error
}

func NewServer(cfg *config.AppConfig, client treasury.Client, store idempotency.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	verifier := &hmacauth.Verifier{
		Secret:    cfg.Service.WebhookSecret,
		Tolerance: cfg.Service.WebhookTolerance,
	}

	metrics := newMetricsRegistry()

	s := &Server{
		cfg:     cfg,
		proc:    fulfillment.NewProcessor(&cfg.Fulfillment, client, store, log),
		hmac:    verifier,
		metrics: metrics,
		log:     log,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.storeHealthFn = checker.Ping
	}
	if checker, ok := client.(treasury.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/webhooks/payment", s.handleWebhook)
	mux.HandleFunc("/api/v1/mint", s.handleMint)
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type webhookResponse struct {
	OK                    bool   `json:"ok"`
	Ignored               bool   `json:"ignored,omitempty"`
	Duplicate             bool   `json:"duplicate,omitempty"`
	Type                  string `json:"type,omitempty"`
	Status                string `json:"status,omitempty"`
	PaymentID             string `json:"paymentId,omitempty"`
	To                    string `json:"to,omitempty"`
	USDCDestinationAmount string `json:"usdcDestinationAmount,omitempty"`
	PatronWei             string `json:"patronWei,omitempty"`
	FulfillmentTxHash     string `json:"fulfillmentTxHash,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.incWebhook("failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Webhook processing failed", Message: "failed to read request body"})
		return
	}

	// Recognized-but-unactionable events and duplicates return 200 so
	// the provider does not retry-storm us; genuine failures are 500
	// so it retries the delivery.
	if err := s.hmac.Verify(body, r.Header); err != nil {
		s.metrics.incWebhook("auth_failed")
		s.log.Warn("webhook authentication failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Webhook processing failed", Message: err.Error()})
		return
	}

	start := time.Now()
	out, err := s.proc.ProcessEvent(r.Context(), body)
	if err != nil {
		s.metrics.incWebhook(outcomeLabel(err))
		s.log.Error("webhook fulfillment error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Webhook processing failed", Message: err.Error()})
		return
	}

	switch out.Status {
	case fulfillment.StatusIgnored:
		s.metrics.incWebhook("ignored")
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: true, Type: out.EventType, Status: out.EventStatus})
	case fulfillment.StatusDuplicate:
		s.metrics.incWebhook("duplicate")
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Duplicate: true, PaymentID: out.PaymentID})
	default:
		s.metrics.incWebhook("fulfilled")
		s.metrics.observeFulfillment(time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, webhookResponse{
			OK:                    true,
			Type:                  out.EventType,
			PaymentID:             out.PaymentID,
			To:                    out.Buyer,
			USDCDestinationAmount: out.USDCAmount,
			PatronWei:             out.PatronWei.String(),
			FulfillmentTxHash:     out.TxHash,
		})
	}
}

// flexNumber accepts a USD amount sent either as a JSON number or a
// quoted string; the purchase widget has done both.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = flexNumber(bytes.Trim(b, `"`))
	return nil
}

type mintRequest struct {
	Address      string        `json:"address"`
	USDAmount    flexNumber    `json:"usdAmount"`
	Checkout     *mintCheckout `json:"checkout"`
	PaymentTxRef string        `json:"paymentTxHash"`
}

type mintCheckout struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
}

type mintResponse struct {
	OK                bool   `json:"ok"`
	To                string `json:"to"`
	USDAmount         string `json:"usdAmount"`
	PatronAmount      string `json:"patronAmount"`
	MintedAmountHuman string `json:"mintedAmountHuman"`
	FromTreasury      string `json:"fromTreasury"`
	TxHash            string `json:"txHash"`
	PaymentRef        string `json:"paymentRef,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	var payload mintRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.incMint("invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON payload"})
		return
	}

	ref := payload.PaymentTxRef
	if ref == "" && payload.Checkout != nil {
		if payload.Checkout.ID != "" {
			ref = payload.Checkout.ID
		} else {
			ref = payload.Checkout.TransactionID
		}
	}

	out, err := s.proc.ProcessMint(r.Context(), fulfillment.MintRequest{
		Address:    payload.Address,
		USDAmount:  string(payload.USDAmount),
		PaymentRef: ref,
	})
	if err != nil {
		var fe *fulfillment.Error
		switch {
		case errors.As(err, &fe) && fe.Kind == fulfillment.KindValidation:
			s.metrics.incMint("invalid")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fe.Msg})
		case errors.As(err, &fe) && fe.Kind == fulfillment.KindConfig:
			s.metrics.incMint("failed")
			s.log.Error("mint misconfiguration", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Server misconfigured"})
		default:
			s.metrics.incMint("failed")
			s.log.Error("mint failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Mint failed"})
		}
		return
	}

	s.metrics.incMint("fulfilled")
	writeJSON(w, http.StatusOK, mintResponse{
		OK:                true,
		To:                out.To,
		USDAmount:         out.USDAmount,
		PatronAmount:      out.PatronAmount,
		MintedAmountHuman: out.PatronAmount + " PATRON",
		FromTreasury:      out.Treasury,
		TxHash:            out.TxHash,
		PaymentRef:        out.PaymentRef,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	storeInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.storeHealthFn != nil {
		storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.storeHealthFn(storeCtx); err != nil {
			storeInfo.Connected = false
			storeInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status string      `json:"status"`
		RPC    interface{} `json:"rpc"`
		Store  interface{} `json:"store"`
	}{
		Status: status,
		RPC:    rpcInfo,
		Store:  storeInfo,
	})
}

func outcomeLabel(err error) string {
	var fe *fulfillment.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fulfillment.KindValidation:
			return "validation_failed"
		case fulfillment.KindConfig:
			return "misconfigured"
		case fulfillment.KindInsufficientFunds:
			return "insufficient_funds"
		}
	}
	return "failed"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		next.ServeHTTP(w, r)
	})
}
