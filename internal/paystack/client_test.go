package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInitialize_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/transaction/initialize" {
			t.Fatalf("path = %s, want /transaction/initialize", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Fatalf("authorization = %q, want bearer secret", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req initializeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if req.Amount != 500 {
			t.Fatalf("amount = %d, want 500 subunits", req.Amount)
		}
		if req.Currency != "GHS" {
			t.Fatalf("currency = %q, want GHS", req.Currency)
		}
		if len(req.Channels) != 1 || req.Channels[0] != "mobile_money" {
			t.Fatalf("channels = %v, want [mobile_money]", req.Channels)
		}
		if req.Email != "0244123456@voting.com" {
			t.Fatalf("email = %q", req.Email)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.example/abc","reference":"ref-123"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.Initialize(ctx, "ref-123", 5, "0244123456")
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if res.Reference != "ref-123" {
		t.Fatalf("reference = %q, want ref-123", res.Reference)
	}
	if res.AuthorizationURL != "https://checkout.example/abc" {
		t.Fatalf("authorization url = %q", res.AuthorizationURL)
	}
}

func TestInitialize_NotConfigured(t *testing.T) {
	client := NewClient("", "")

	_, err := client.Initialize(context.Background(), "ref-123", 5, "0244123456")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestInitialize_GatewayDown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	ts.Close()

	client := NewClient(ts.URL, "sk_test")

	_, err := client.Initialize(context.Background(), "ref-123", 5, "0244123456")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestVerify_Settled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/transaction/verify/ref-123" {
			t.Fatalf("path = %s, want /transaction/verify/ref-123", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"ref-123","status":"success","amount":500}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.Verify(ctx, "ref-123")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if !res.Settled() {
		t.Fatalf("expected settled transaction, got %+v", res)
	}
	if res.AmountSubunits != 500 {
		t.Fatalf("amount = %d, want 500", res.AmountSubunits)
	}
}

func TestVerify_Abandoned(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"ref-123","status":"abandoned","amount":500}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	res, _, _, err := client.Verify(context.Background(), "ref-123")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.Settled() {
		t.Fatalf("abandoned transaction must not be settled")
	}
	if !res.Cancelled() {
		t.Fatalf("expected cancelled transaction, got %+v", res)
	}
}

func TestVerify_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	res, code, retry, err := client.Verify(context.Background(), "ref-123")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestVerify_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	res, code, _, err := client.Verify(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 404, got %+v", res)
	}
	if code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", code, http.StatusNotFound)
	}
}
