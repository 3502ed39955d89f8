package paymentproof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotSettled reports a proof the settlement service rejected.
var ErrNotSettled = errors.New("payment not settled")

// Verifier asserts that a transaction hash represents a settled payment of
// the expected amount. The ledger trusts an affirmative answer; reuse of one
// proof across purchases is still rejected at the store.
type Verifier interface {
	VerifySettlement(ctx context.Context, txHash string, usdcCents int64) error
}

// Client verifies proofs against an external settlement service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient wires a Client against the settlement service base URL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("settlement service base url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type verifyRequest struct {
	TxHash    string `json:"tx_hash"`
	USDCCents int64  `json:"usdc_cents"`
}

type verifyResponse struct {
	Settled bool   `json:"settled"`
	Reason  string `json:"reason"`
}

// VerifySettlement posts the proof to the settlement service and interprets
// its verdict.
func (client *Client) VerifySettlement(ctx context.Context, txHash string, usdcCents int64) error {
	payload, err := json.Marshal(verifyRequest{TxHash: txHash, USDCCents: usdcCents})
	if err != nil {
		return fmt.Errorf("encode verify request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/v1/settlements/verify", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("settlement service: %w", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("settlement service status %d", response.StatusCode)
	}
	var verdict verifyResponse
	if err := json.NewDecoder(response.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if !verdict.Settled {
		if verdict.Reason != "" {
			return fmt.Errorf("%w: %s", ErrNotSettled, verdict.Reason)
		}
		return ErrNotSettled
	}
	return nil
}

// TrustAll accepts every non-empty proof. Development use only.
type TrustAll struct{}

// VerifySettlement accepts any non-empty hash.
func (TrustAll) VerifySettlement(_ context.Context, txHash string, _ int64) error {
	if strings.TrimSpace(txHash) == "" {
		return ErrNotSettled
	}
	return nil
}
