// Package rpc reads from and awaits transactions on a JSON-RPC full node.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"suits/internal/ledger"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	ownedPageLimit      = 50
	httpTimeoutEnvKey   = "SUITS_HTTP_TIMEOUT"
)

// Signer is the external "sign and submit" capability. Implementations own
// key material and transaction serialization.
type Signer interface {
	SignAndSubmit(ctx context.Context, op ledger.Operation) (ledger.Digest, error)
}

// Client is a JSON-RPC ledger client.
type Client struct {
	endpoint     string
	http         *http.Client
	signer       Signer
	pollInterval time.Duration
	nextID       atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithSigner enables Submit.
func WithSigner(s Signer) Option { return func(c *Client) { c.signer = s } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithPollInterval sets the pace of Await polling.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient creates a client for the full node at endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		http:         &http.Client{Timeout: httpTimeoutFromEnv()},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) notFound() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "could not find") || strings.Contains(msg, "not found")
}

// Submit hands op to the configured Signer.
func (c *Client) Submit(ctx context.Context, op ledger.Operation) (ledger.TxHandle, error) {
	if c.signer == nil {
		return ledger.TxHandle{}, ledger.ErrNoSigner
	}
	digest, err := c.signer.SignAndSubmit(ctx, op)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	return ledger.TxHandle{Digest: digest}, nil
}

// Await polls the node until the transaction is known or ctx is done.
func (c *Client) Await(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ledger.Receipt{}, err
		}
		var block txBlock
		err := c.call(ctx, "sui_getTransactionBlock", []any{h.Digest, map[string]bool{"showEffects": true}}, &block)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.notFound() {
			continue
		}
		if err != nil {
			return ledger.Receipt{}, err
		}
		return block.receipt(h.Digest), nil
	}
}

// ReadObject fetches an object with its content.
func (c *Client) ReadObject(ctx context.Context, id ledger.ObjectID) (ledger.ObjectSnapshot, error) {
	var resp objectResponse
	err := c.call(ctx, "sui_getObject", []any{id, objectOptions}, &resp)
	if err != nil {
		return ledger.ObjectSnapshot{}, err
	}
	if resp.Error != nil {
		if resp.Error.Code == "notExists" || resp.Error.Code == "deleted" {
			return ledger.ObjectSnapshot{}, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
		}
		return ledger.ObjectSnapshot{}, fmt.Errorf("read object %s: %s", id, resp.Error.Code)
	}
	if resp.Data == nil {
		return ledger.ObjectSnapshot{}, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
	}
	return resp.Data.snapshot()
}

// ListOwned follows cursors until every matching object is returned.
func (c *Client) ListOwned(ctx context.Context, filter ledger.OwnedFilter) ([]ledger.ObjectSnapshot, error) {
	query := map[string]any{"options": objectOptions}
	if filter.StructType != "" {
		query["filter"] = map[string]string{"StructType": filter.StructType}
	}

	var (
		out    []ledger.ObjectSnapshot
		cursor *string
	)
	for {
		var page ownedPage
		if err := c.call(ctx, "suix_getOwnedObjects", []any{filter.Owner, query, cursor, ownedPageLimit}, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			if item.Data == nil {
				continue
			}
			snap, err := item.Data.snapshot()
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}
		if !page.HasNextPage || page.NextCursor == nil {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: http %s: %s", method, resp.Status, strings.TrimSpace(string(body)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}

var _ ledger.Client = (*Client)(nil)
