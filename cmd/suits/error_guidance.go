package main

import (
	"context"
	"errors"
	"net"

	"suits/internal/blobnet"
	"suits/internal/ledger"
	"suits/internal/ledger/rpc"
	"suits/internal/messaging"
	"suits/internal/models"
	"suits/internal/publish"
	"suits/internal/registry"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	switch {
	case errors.Is(err, errAccountRequired):
		lines = append(lines, "hint: set an account with: suits config set account 0x... --global, or export SUITS_ACCOUNT.")
	case errors.Is(err, ledger.ErrNoSigner):
		lines = append(lines,
			"hint: remote networks need a signer; suits only submits transactions on localnet.",
			"hint: switch with: suits config set network localnet",
		)
	case errors.Is(err, errRegistryRequired):
		lines = append(lines, "hint: set the registry object with: suits config set registry_id 0x... or SUITS_REGISTRY_ID.")
	case errors.Is(err, errLocalnetOnly):
		lines = append(lines, "hint: blob publishing runs against the local blob node; set network to localnet.")
	case errors.Is(err, registry.ErrRegistryUnavailable):
		lines = append(lines, "hint: the registry object could not be read; check registry_id and package_id.")
	case errors.Is(err, models.ErrContentTooLong):
		lines = append(lines, "hint: publish long content with: suits upload <file> --caption")
	case errors.Is(err, publish.ErrTooLarge):
		lines = append(lines, "hint: raise the limit with: suits config set blob.max_bytes 50MiB")
	case errors.Is(err, messaging.ErrChannelOperationRejected):
		lines = append(lines, "hint: only the two channel participants may send or mark messages as read.")
	case errors.Is(err, blobnet.ErrGatewayNotFound), errors.Is(err, blobnet.ErrNotCertified):
		lines = append(lines, "hint: the blob is unknown to this node or not certified yet.")
	}

	if publish.IsRetryable(err) {
		lines = append(lines, "hint: this step is retryable; run the command again or raise --upload-retries.")
	}

	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		lines = append(lines, "hint: the full node rejected the request; verify SUITS_RPC_URL and object ids.")
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check node health or increase SUITS_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a full node is reachable at SUITS_RPC_URL.",
			"hint: you can increase SUITS_HTTP_TIMEOUT for slower environments.",
		)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
