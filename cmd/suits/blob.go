package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"suits/internal/blobnet"
	"suits/internal/config"
	"suits/internal/metrics"
)

func newBlobCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Read published blobs",
	}

	cmd.AddCommand(newBlobGetCmd(cfg, global))
	cmd.AddCommand(newBlobServeCmd(cfg))
	return cmd
}

func newBlobGetCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "get <blobId|url>",
		Short: "Fetch a blob by id or gateway URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobID := args[0]
			if id, ok := blobnet.BlobIDFromURL(cfg.GatewayURL, blobID); ok {
				blobID = id
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				data, err := rt.fetcher.Fetch(cmd.Context(), blobID)
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return err
				}
				out, err := newPrinter(cmd, global)
				if err != nil {
					return err
				}
				payload := map[string]any{"blob_id": blobID, "path": outPath, "size": len(data)}
				return out.result(payload, func() error {
					return out.plain("wrote %s to %s\n", formatSize(int64(len(data))), outPath)
				})
			})
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write the blob to this file instead of stdout")
	return cmd
}

func newBlobServeCmd(cfg *config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve local blobs over HTTP at /<blobId>, with /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEnv(cfg, func(rt *commandEnv) error {
				if rt.local == nil {
					return errLocalnetOnly
				}
				handler := gatewayMux(blobnet.GatewayHandler(rt.local, rt.logger), rt.metrics)
				return serveHTTP(ctx, addr, withRequestLogging(handler, rt.logger.With("component", "gateway")), rt)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultGatewayAddr, "listen address")
	return cmd
}

// gatewayMux serves /metrics from m and everything else from blobs.
func gatewayMux(blobs fasthttp.RequestHandler, m *metrics.Metrics) fasthttp.RequestHandler {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(ctx *fasthttp.RequestCtx) {
		if strings.TrimRight(string(ctx.Path()), "/") == "/metrics" {
			metricsHandler(ctx)
			return
		}
		blobs(ctx)
	}
}

// serveHTTP runs handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler fasthttp.RequestHandler, rt *commandEnv) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &fasthttp.Server{
		Handler:               handler,
		Name:                  "suits",
		NoDefaultServerHeader: true,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	rt.logger.Info("http listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := srv.Shutdown(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
