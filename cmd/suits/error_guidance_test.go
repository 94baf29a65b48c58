package main

import (
	"context"
	"fmt"
	"net"
	"testing"

	"suits/internal/ledger"
	"suits/internal/ledger/rpc"
	"suits/internal/messaging"
	"suits/internal/publish"
	"suits/internal/registry"
)

func TestFormatCLIError_NetworkGuidance(t *testing.T) {
	err := &net.DNSError{Err: "dial tcp: connection refused", Name: "fullnode", IsTemporary: true}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: ensure a full node is reachable at SUITS_RPC_URL.") {
		t.Fatalf("expected connectivity guidance, got %v", lines)
	}
}

func TestFormatCLIError_TimeoutGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("await tx: %w", context.DeadlineExceeded))
	if !containsLine(lines, "hint: request timed out; check node health or increase SUITS_HTTP_TIMEOUT.") {
		t.Fatalf("expected timeout guidance, got %v", lines)
	}
}

func TestFormatCLIError_RPCGuidance(t *testing.T) {
	lines := formatCLIError(&rpc.RPCError{Code: -32602, Message: "invalid params"})
	if !containsLine(lines, "hint: the full node rejected the request; verify SUITS_RPC_URL and object ids.") {
		t.Fatalf("expected rpc guidance, got %v", lines)
	}
}

func TestFormatCLIError_SignerGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("submit: %w", ledger.ErrNoSigner))
	if !containsLine(lines, "hint: switch with: suits config set network localnet") {
		t.Fatalf("expected signer guidance, got %v", lines)
	}
}

func TestFormatCLIError_AccountGuidance(t *testing.T) {
	lines := formatCLIError(errAccountRequired)
	if len(lines) != 2 || lines[0] != errAccountRequired.Error() {
		t.Fatalf("expected error plus one hint, got %v", lines)
	}
}

func TestFormatCLIError_RetryableUpload(t *testing.T) {
	err := &publish.Error{Phase: publish.PhaseRegistered, Kind: publish.ErrUploadFailed, Cause: fmt.Errorf("connection reset")}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: this step is retryable; run the command again or raise --upload-retries.") {
		t.Fatalf("expected retry guidance, got %v", lines)
	}

	err = &publish.Error{Phase: publish.PhaseEncoded, Kind: publish.ErrRegistrationRejected}
	if containsLine(formatCLIError(err), "hint: this step is retryable; run the command again or raise --upload-retries.") {
		t.Fatal("rejected registration must not be reported as retryable")
	}
}

func TestFormatCLIError_DomainGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("%w: boom", registry.ErrRegistryUnavailable))
	if !containsLine(lines, "hint: the registry object could not be read; check registry_id and package_id.") {
		t.Fatalf("expected registry guidance, got %v", lines)
	}

	lines = formatCLIError(&messaging.OpError{Op: "send", ChannelID: "0x1", Err: fmt.Errorf("not a participant")})
	if !containsLine(lines, "hint: only the two channel participants may send or mark messages as read.") {
		t.Fatalf("expected channel guidance, got %v", lines)
	}
}

func TestUniqueLines(t *testing.T) {
	got := uniqueLines([]string{"a", "", "b", "a"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected lines %v", got)
	}
}

func containsLine(lines []string, expected string) bool {
	for _, line := range lines {
		if line == expected {
			return true
		}
	}
	return false
}
