// Package gateway implements ledger.Client against the HTTP ledger gateway
// that fronts the registry contract. The gateway endpoint and contract
// address are fixed at construction; there is no runtime network switch.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"dbis/internal/ledger"
	"dbis/internal/platform/config"
	"dbis/pkg/platform/circuit"
)

// Client talks to the ledger gateway over HTTP. Transient failures (network,
// timeout, 5xx) are retried with bounded exponential backoff before surfacing
// ledger.ErrUnavailable; contract rejections (4xx) surface ledger.ErrRejected
// without retry. A circuit breaker sheds load while the gateway is down.
type Client struct {
	http       *http.Client
	endpoint   string
	contract   common.Address
	timeout    time.Duration
	maxRetries uint64
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

func New(cfg config.LedgerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger contract address %q is not a valid hex address", cfg.ContractAddress)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		contract:   common.HexToAddress(cfg.ContractAddress),
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		breaker:    circuit.New("ledger-gateway", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:     logger,
	}, nil
}

type submitRequest struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Digest  string `json:"digest"`
}

type submitResponse struct {
	TxHash      string  `json:"tx_hash"`
	BlockNumber *uint64 `json:"block_number"`
	Status      string  `json:"status"`
}

type receiptResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Success     bool   `json:"success"`
}

type stateResponse struct {
	Registered  bool   `json:"registered"`
	Verified    bool   `json:"verified"`
	RecordCount uint64 `json:"record_count"`
}

func (c *Client) Submit(ctx context.Context, payload ledger.SubmitPayload) (ledger.SubmitResult, error) {
	body, err := json.Marshal(submitRequest{
		Kind:    string(payload.Kind),
		Address: payload.Address.Hex(),
		Digest:  payload.Digest.Hex(),
	})
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("marshal submit request: %w", err)
	}

	url := fmt.Sprintf("%s/contracts/%s/transactions", c.endpoint, c.contract.Hex())
	raw, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return ledger.SubmitResult{}, err
	}

	var resp submitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("%w: malformed submit response: %v", ledger.ErrUnavailable, err)
	}
	if resp.TxHash == "" {
		return ledger.SubmitResult{}, fmt.Errorf("%w: submit response missing tx hash", ledger.ErrUnavailable)
	}

	status := ledger.Status(resp.Status)
	if status == "" {
		status = ledger.StatusPending
	}
	return ledger.SubmitResult{
		TxHash:      resp.TxHash,
		BlockNumber: resp.BlockNumber,
		Status:      status,
		Raw:         raw,
	}, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	url := fmt.Sprintf("%s/contracts/%s/transactions/%s/receipt", c.endpoint, c.contract.Hex(), txHash)
	raw, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		if isNotFound(err) {
			// The ledger does not know this transaction yet.
			return nil, nil
		}
		return nil, err
	}

	var resp receiptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed receipt response: %v", ledger.ErrUnavailable, err)
	}
	return &ledger.Receipt{
		TxHash:      resp.TxHash,
		BlockNumber: resp.BlockNumber,
		Success:     resp.Success,
	}, nil
}

func (c *Client) ReadState(ctx context.Context, address common.Address) (ledger.IdentityState, error) {
	url := fmt.Sprintf("%s/contracts/%s/identities/%s", c.endpoint, c.contract.Hex(), address.Hex())
	raw, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		if isNotFound(err) {
			return ledger.IdentityState{}, nil
		}
		return ledger.IdentityState{}, err
	}

	var resp stateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ledger.IdentityState{}, fmt.Errorf("%w: malformed state response: %v", ledger.ErrUnavailable, err)
	}
	return ledger.IdentityState{
		Registered:  resp.Registered,
		Verified:    resp.Verified,
		RecordCount: resp.RecordCount,
	}, nil
}

// notFoundError marks a 404 so read paths can map it to "absent" instead of
// a failure.
type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

func isNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// do performs one HTTP call with bounded-retry and circuit-breaker semantics.
// It returns the response body on 2xx, notFoundError on 404,
// ledger.ErrRejected on other 4xx, and ledger.ErrUnavailable otherwise.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if c.breaker.IsOpen() {
		return nil, fmt.Errorf("%w: circuit open", ledger.ErrUnavailable)
	}

	var out []byte
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, url, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", ledger.ErrUnavailable, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			out = respBody
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(notFoundError{})
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("%w: %s", ledger.ErrRejected, string(respBody)))
		default:
			return fmt.Errorf("%w: gateway returned %d", ledger.ErrUnavailable, resp.StatusCode)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponential(), c.maxRetries), ctx)
	err := backoff.Retry(attempt, policy)
	if err != nil {
		if isNotFound(err) || errors.Is(err, ledger.ErrRejected) {
			// The gateway was reachable; only transport failures count
			// against the breaker.
			c.breaker.RecordSuccess()
			return nil, err
		}
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.Warn("ledger gateway circuit opened", "url", url)
		}
		return nil, err
	}

	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("ledger gateway circuit closed")
	}
	return out, nil
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
