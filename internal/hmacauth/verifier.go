package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// The payment provider signs webhooks with HMAC-SHA256 over
// "{timestamp}.{rawBody}" and has shipped two header naming schemes.
var (
	signatureHeaders = []string{"X-Payload-Signature", "X-Pay-Signature"}
	timestampHeaders = []string{"X-Timestamp", "X-Pay-Timestamp"}
)

var (
	ErrMissingSignature = errors.New("missing webhook signature or timestamp headers")
	ErrInvalidTimestamp = errors.New("invalid timestamp header")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier authenticates webhook deliveries. The zero tolerance value
// means "no skew allowed"; callers normally set 300s.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify checks the signature over the exact raw body bytes. It is a
// pure function of its inputs and the clock.
func (v *Verifier) Verify(rawBody []byte, header http.Header) error {
	if v.Secret == "" {
		return errors.New("webhook secret is not configured")
	}

	sig := firstHeader(header, signatureHeaders)
	tsHeader := firstHeader(header, timestampHeaders)
	if sig == "" || tsHeader == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(v.Tolerance/time.Second) {
		return ErrStaleTimestamp
	}

	expected := ComputeSignature(v.Secret, tsHeader, rawBody)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}
	return nil
}

// Middleware rejects unauthenticated requests before the handler runs.
// The body is re-wound so the handler sees the same bytes that were signed.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if err := v.Verify(body, r.Header); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ComputeSignature produces the hex digest of "{timestamp}.{body}".
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

func firstHeader(header http.Header, names []string) string {
	for _, name := range names {
		if val := header.Get(name); val != "" {
			return val
		}
	}
	return ""
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	return body, nil
}
