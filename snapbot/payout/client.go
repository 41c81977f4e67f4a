package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrPayoutRejected = errors.New("payout rejected by endpoint")
	ErrProofPending   = errors.New("withdrawal has no transaction hash yet")
)

// tx hash keys the status endpoint is known to use, in order of preference
var txHashKeys = []string{"tx_hash", "txHash", "transaction_hash", "transactionHash", "txid", "tx_id", "hash"}

// Client talks to the faucet withdrawal endpoint.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type withdrawalRequest struct {
	SecretKey string     `json:"secret_key"`
	Reference string     `json:"status_reference_wallet"`
	Receivers []Receiver `json:"receivers"`
}

// Submit posts the batch. Only a 2xx response counts as accepted.
func (c *Client) Submit(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(withdrawalRequest{
		SecretKey: c.secret,
		Reference: batch.Reference,
		Receivers: batch.Receivers,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit payout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d %s", ErrPayoutRejected, resp.StatusCode, readSnippet(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// WithdrawalStatus fetches the transaction hash for a submitted reference.
func (c *Client) WithdrawalStatus(ctx context.Context, reference string) (string, error) {
	endpoint := c.baseURL + "/get-withdrawals/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get withdrawal status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("withdrawal status error: %d %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var status any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode withdrawal status: %w", err)
	}
	if hash := findTxHash(status); hash != "" {
		return hash, nil
	}
	return "", ErrProofPending
}

func findTxHash(v any) string {
	switch v := v.(type) {
	case map[string]any:
		for _, key := range txHashKeys {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if hash := findTxHash(v[k]); hash != "" {
				return hash
			}
		}
	case []any:
		for _, item := range v {
			if hash := findTxHash(item); hash != "" {
				return hash
			}
		}
	}
	return ""
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
