package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AttestationClient talks to the off-chain attestation service over HTTP.
type AttestationClient struct {
	baseURL string
	http    *http.Client
}

func NewAttestationClient(baseURL string) *AttestationClient {
	return &AttestationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
}

// Fetch returns the attestation bytes once the service reports the message
// complete. done is false while the attestation is still pending.
func (c *AttestationClient) Fetch(ctx context.Context, messageHash common.Hash) (attestation []byte, done bool, err error) {
	url := fmt.Sprintf("%s/v1/attestations/%s", c.baseURL, messageHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	// 404 means the service has not seen the message yet.
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("attestation service returned %s", resp.Status)
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode attestation response: %w", err)
	}
	if body.Status != "complete" {
		return nil, false, nil
	}

	data, err := hexutil.Decode(body.Attestation)
	if err != nil {
		return nil, false, fmt.Errorf("decode attestation hex: %w", err)
	}
	return data, true, nil
}

type feeResponse struct {
	Fee string `json:"fee"`
}

// FeeQuote asks the service what it would charge to auto-complete a transfer
// of the given amount.
func (c *AttestationClient) FeeQuote(ctx context.Context, amount *big.Int) (*big.Int, error) {
	url := fmt.Sprintf("%s/v1/fees?amount=%s", c.baseURL, amount.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fee service returned %s", resp.Status)
	}

	var body feeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode fee response: %w", err)
	}

	fee, ok := new(big.Int).SetString(body.Fee, 10)
	if !ok {
		return nil, fmt.Errorf("malformed fee: %q", body.Fee)
	}
	return fee, nil
}
