package blobnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultGatewayTimeout = 30 * time.Second

var ErrGatewayNotFound = errors.New("blob not found on gateway")

// Gateway reads published blobs over HTTP from <base>/<blobId>.
type Gateway struct {
	base    string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewGateway creates a reader for the gateway at base.
func NewGateway(base string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &Gateway{
		base:    strings.TrimRight(base, "/"),
		client:  &fasthttp.Client{Name: "suits", MaxResponseBodySize: 0},
		timeout: timeout,
	}
}

// Fetch downloads a blob. The earlier of ctx's deadline and the gateway
// timeout bounds the request.
func (g *Gateway) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return nil, fmt.Errorf("blob id is required")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(BlobURL(g.base, blobID))
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", blobID, err)
	}

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, blobID)
	case status >= 400:
		return nil, fmt.Errorf("fetch blob %s: gateway returned %d", blobID, status)
	}
	return append([]byte(nil), resp.Body()...), nil
}

// GatewayHandler serves blobs from f at <anything>/<blobId> so a local node
// can stand in for the public gateway.
func GatewayHandler(f Fetcher, logger *slog.Logger) fasthttp.RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx *fasthttp.RequestCtx) {
		path := strings.Trim(string(ctx.Path()), "/")
		if path == "healthz" {
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString("ok")
			return
		}
		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		blobID := path[strings.LastIndex(path, "/")+1:]
		if blobID == "" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}

		data, err := f.Fetch(ctx, blobID)
		if err != nil {
			if IsNotFound(err) {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			logger.Warn("serve blob failed", "blob_id", blobID, "err", err)
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.Response.Header.Set("Content-Type", "application/octet-stream")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(data)
	}
}

var _ Fetcher = (*Gateway)(nil)
