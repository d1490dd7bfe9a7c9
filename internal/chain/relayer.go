package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRelayerTimeout bounds a single HTTP round trip.
const DefaultRelayerTimeout = 30 * time.Second

// RelayerClient submits contract calls to a signing relayer over JSON-RPC 2.0.
// It performs one attempt per call; retries belong to RetryPolicy. JSON-RPC
// errors are returned as permanent.
type RelayerClient struct {
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

// RelayerOption configures RelayerClient.
type RelayerOption func(*RelayerClient)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) RelayerOption {
	return func(c *RelayerClient) {
		c.client = client
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) RelayerOption {
	return func(c *RelayerClient) {
		c.client.Timeout = d
	}
}

// NewRelayerClient creates a relayer client.
func NewRelayerClient(endpoint string, opts ...RelayerOption) *RelayerClient {
	c := &RelayerClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultRelayerTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// errCodeNotFound is returned by the relayer for unknown transactions.
const errCodeNotFound = -32004

// call performs one JSON-RPC call.
func (c *RelayerClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == errCodeNotFound {
			return ErrTxNotFound
		}
		return Permanent(rpcResp.Error)
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return Permanent(fmt.Errorf("unmarshal result: %w", err))
		}
	}
	return nil
}

// CreateToken implements Actor.
func (c *RelayerClient) CreateToken(ctx context.Context, req CreateTokenRequest) (*TokenResult, error) {
	var result TokenResult
	if err := c.call(ctx, "createToken", []any{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MintShares implements Actor.
func (c *RelayerClient) MintShares(ctx context.Context, req MintRequest) (*Submission, error) {
	return c.submit(ctx, "mintShares", req)
}

// TransferShares implements Actor.
func (c *RelayerClient) TransferShares(ctx context.Context, req TransferRequest) (*Submission, error) {
	return c.submit(ctx, "transferShares", req)
}

// DistributeReturns implements Actor.
func (c *RelayerClient) DistributeReturns(ctx context.Context, req PayoutRequest) (*Submission, error) {
	return c.submit(ctx, "distributeReturns", req)
}

func (c *RelayerClient) submit(ctx context.Context, method string, req any) (*Submission, error) {
	var result Submission
	if err := c.call(ctx, method, []any{req}, &result); err != nil {
		return nil, err
	}
	if result.TransactionHash == "" {
		return nil, Permanent(errors.New(method + ": relayer returned no transaction hash"))
	}
	return &result, nil
}

// GetAssetValue implements Actor.
func (c *RelayerClient) GetAssetValue(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var result struct {
		Value decimal.Decimal `json:"value"`
	}
	if err := c.call(ctx, "getAssetValue", []any{tokenID}, &result); err != nil {
		return decimal.Zero, err
	}
	return result.Value, nil
}

// GetTransactionStatus implements Actor.
func (c *RelayerClient) GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error) {
	var result TxStatus
	if err := c.call(ctx, "getTransactionStatus", []any{hash}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify interface compliance at compile time.
var _ Actor = (*RelayerClient)(nil)
