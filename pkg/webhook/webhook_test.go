package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelcp/control-plane/pkg/webhook"
)

func TestDeliverSignsPayloadWithHMAC(t *testing.T) {
	const secret = "shh-its-a-secret"
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		gotSig = r.Header.Get("x-hub-signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhook.New(2*time.Second, secret, 3, slog.Default())
	err := d.Deliver(context.Background(), webhook.Delivery{
		URL:       srv.URL,
		EventType: "rollout.state_changed",
		Payload:   map[string]string{"rollout_id": "abc"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("unmarshaling delivered body: %v", err)
	}
	if env.Event != "rollout.state_changed" {
		t.Fatalf("expected event name to round-trip, got %q", env.Event)
	}
}

func TestDeliverOmitsSignatureHeaderWhenNoSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("x-hub-signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhook.New(2*time.Second, "", 1, slog.Default())
	if err := d.Deliver(context.Background(), webhook.Delivery{URL: srv.URL, EventType: "e", Payload: nil}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotSig != "" {
		t.Fatalf("expected no signature header without a configured secret, got %q", gotSig)
	}
}

func TestDeliverRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhook.New(2*time.Second, "", 5, slog.Default())
	start := time.Now()
	err := d.Deliver(context.Background(), webhook.Delivery{URL: srv.URL, EventType: "e"})
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatalf("expected exponential backoff to have elapsed between retries")
	}
}

func TestDeliverDoesNotRetryOn4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := webhook.New(2*time.Second, "", 5, slog.Default())
	if err := d.Deliver(context.Background(), webhook.Delivery{URL: srv.URL, EventType: "e"}); err == nil {
		t.Fatalf("expected an error for a persistent 4xx response")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected a 4xx response to not be retried, got %d attempts", attempts)
	}
}

func TestDeliverExhaustsRetriesOnPersistent5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := webhook.New(2*time.Second, "", 2, slog.Default())
	if err := d.Deliver(context.Background(), webhook.Delivery{URL: srv.URL, EventType: "e"}); err == nil {
		t.Fatalf("expected delivery to fail after exhausting retries")
	}
}
