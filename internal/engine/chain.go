package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// chainClient talks JSON-RPC 2.0 to a Solana-style node. Only the two
// methods the token analysis needs are implemented; no chain SDK is pulled
// in for this.
type chainClient struct {
	endpoint string
	http     *http.Client
}

func newChainClient(endpoint string) *chainClient {
	return &chainClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *chainClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("calling %s: unexpected status %d", method, httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// Health reports whether the node answers getHealth with "ok".
func (c *chainClient) Health(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %q", status)
	}
	return nil
}

// tokenSupply is the value object of a getTokenSupply result.
type tokenSupply struct {
	Amount   string  `json:"amount"`
	Decimals int     `json:"decimals"`
	UIAmount float64 `json:"uiAmount"`
}

// TokenSupply fetches the circulating supply of a token mint.
func (c *chainClient) TokenSupply(ctx context.Context, mint string) (tokenSupply, error) {
	var result struct {
		Value tokenSupply `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []any{mint}, &result); err != nil {
		return tokenSupply{}, err
	}
	return result.Value, nil
}
