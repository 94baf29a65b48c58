package main

import (
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"
)

func withRequestLogging(next fasthttp.RequestHandler, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		if path == "/healthz" {
			next(ctx)
			return
		}

		start := time.Now()
		next(ctx)

		status := ctx.Response.StatusCode()
		fields := []any{
			"method", string(ctx.Method()),
			"path", path,
			"status", status,
			"bytes", len(ctx.Response.Body()),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", ctx.RemoteAddr().String(),
		}
		if status >= 500 {
			logger.Error("request complete", fields...)
			return
		}
		logger.Debug("request complete", fields...)
	}
}
