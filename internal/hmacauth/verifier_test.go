package hmacauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestVerify_AllowsValidSignature(t *testing.T) {
	body := `{"hello":"world"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ComputeSignature("secret", ts, []byte(body))

	v := &Verifier{
		Secret:    "secret",
		Tolerance: 300 * time.Second,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set("X-Payload-Signature", sig)
	header.Set("X-Timestamp", ts)

	if err := v.Verify([]byte(body), header); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerify_AcceptsAlternateHeaderNames(t *testing.T) {
	body := `{}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:    "secret",
		Tolerance: time.Minute,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set("X-Pay-Signature", ComputeSignature("secret", ts, []byte(body)))
	header.Set("X-Pay-Timestamp", ts)

	if err := v.Verify([]byte(body), header); err != nil {
		t.Fatalf("expected alternate headers to verify, got %v", err)
	}
}

func TestVerify_RejectsWrongBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ComputeSignature("secret", ts, []byte(`{"a":1}`))

	v := &Verifier{
		Secret:    "secret",
		Tolerance: time.Minute,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set("X-Payload-Signature", sig)
	header.Set("X-Timestamp", ts)

	if err := v.Verify([]byte(`{"a":2}`), header); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	body := `{}`
	now := time.Unix(1_700_000_000, 0)
	stale := now.Add(-10 * time.Minute)
	ts := strconv.FormatInt(stale.Unix(), 10)

	v := &Verifier{
		Secret:    "secret",
		Tolerance: 300 * time.Second,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set("X-Payload-Signature", ComputeSignature("secret", ts, []byte(body)))
	header.Set("X-Timestamp", ts)

	if err := v.Verify([]byte(body), header); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerify_RejectsMissingHeaders(t *testing.T) {
	v := &Verifier{Secret: "secret", Tolerance: time.Minute}

	if err := v.Verify([]byte(`{}`), http.Header{}); err != ErrMissingSignature {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerify_RejectsGarbageTimestamp(t *testing.T) {
	v := &Verifier{Secret: "secret", Tolerance: time.Minute}

	header := http.Header{}
	header.Set("X-Payload-Signature", "deadbeef")
	header.Set("X-Timestamp", "not-a-number")

	if err := v.Verify([]byte(`{}`), header); err != ErrInvalidTimestamp {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestMiddleware_RewindsBodyForHandler(t *testing.T) {
	body := `{"foo":"bar"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:    "secret",
		Tolerance: time.Minute,
		Now:       func() time.Time { return now },
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Payload-Signature", ComputeSignature("secret", ts, []byte(body)))
	req.Header.Set("X-Timestamp", ts)
	rec := httptest.NewRecorder()

	var seen string
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := readBody(r)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler saw body %q, want %q", seen, body)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:    "secret",
		Tolerance: time.Minute,
		Now:       func() time.Time { return now },
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("X-Payload-Signature", "deadbeef")
	req.Header.Set("X-Timestamp", ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
