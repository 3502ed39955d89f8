package paymentproof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientVerifySettlement(t *testing.T) {
	var received verifyRequest
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/settlements/verify" {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(verifyResponse{Settled: true})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.VerifySettlement(context.Background(), "0xhash", 500); err != nil {
		t.Fatalf("verify settlement: %v", err)
	}
	if received.TxHash != "0xhash" || received.USDCCents != 500 {
		t.Fatalf("unexpected request payload: %+v", received)
	}
}

func TestClientVerifySettlementRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(verifyResponse{Settled: false, Reason: "amount mismatch"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.VerifySettlement(context.Background(), "0xhash", 500)
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}
}

func TestClientVerifySettlementServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.VerifySettlement(context.Background(), "0xhash", 500)
	if err == nil || errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  ", time.Second); err == nil {
		t.Fatal("expected error for blank base url")
	}
}

func TestTrustAllRejectsBlankHash(t *testing.T) {
	var verifier TrustAll
	if err := verifier.VerifySettlement(context.Background(), "0xany", 100); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if err := verifier.VerifySettlement(context.Background(), "  ", 100); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled for blank hash, got %v", err)
	}
}
