package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrObjectNotFound     = errors.New("ledger: object not found")
	ErrUnknownTransaction = errors.New("ledger: unknown transaction")
	ErrNoSigner           = errors.New("ledger: no signer configured")
)

// Address identifies a ledger account.
type Address string

// ObjectID identifies a ledger object.
type ObjectID string

// Digest identifies a submitted transaction.
type Digest string

// Arg is one positional argument of an operation. Exactly one of Object or
// Value is meaningful: Object references an existing ledger object, Value is a
// pure value (string, bool, uint64, []uint64, []string, Address).
type Arg struct {
	Object ObjectID `cbor:"o,omitempty" json:"object,omitempty"`
	Value  any      `cbor:"v,omitempty" json:"value,omitempty"`
}

// ObjectArg references an existing object.
func ObjectArg(id ObjectID) Arg { return Arg{Object: id} }

// PureArg passes a pure value.
func PureArg(v any) Arg { return Arg{Value: v} }

// Operation is a call into a deployed program, named by Target.
type Operation struct {
	Sender Address `cbor:"s" json:"sender"`
	Target string  `cbor:"t" json:"target"`
	Args   []Arg   `cbor:"a" json:"args"`
}

// TxHandle is returned by Submit and consumed by Await.
type TxHandle struct {
	Digest Digest `json:"digest"`
}

// TxStatus is the final outcome of a transaction.
type TxStatus string

const (
	StatusFinalized TxStatus = "finalized"
	StatusFailed    TxStatus = "failed"
)

// Receipt describes a transaction that reached a final state.
type Receipt struct {
	Digest      Digest     `json:"digest"`
	Status      TxStatus   `json:"status"`
	Error       string     `json:"error,omitempty"`
	Created     []ObjectID `json:"created,omitempty"`
	TimestampMs uint64     `json:"timestamp_ms"`
}

// TxFailedError reports a transaction the ledger executed and rejected.
type TxFailedError struct {
	Digest Digest
	Reason string
}

func (e *TxFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s failed", e.Digest)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.Digest, e.Reason)
}

// Err returns a *TxFailedError when the receipt is not finalized.
func (r Receipt) Err() error {
	if r.Status == StatusFinalized {
		return nil
	}
	return &TxFailedError{Digest: r.Digest, Reason: r.Error}
}

// ObjectSnapshot is the content of an object at some version.
type ObjectSnapshot struct {
	ID      ObjectID        `json:"id"`
	Type    string          `json:"type"`
	Owner   Address         `json:"owner,omitempty"`
	Version uint64          `json:"version"`
	Fields  json.RawMessage `json:"fields"`
}

// DecodeFields unmarshals the object's fields into v.
func (s ObjectSnapshot) DecodeFields(v any) error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("object %s has no content", s.ID)
	}
	if err := json.Unmarshal(s.Fields, v); err != nil {
		return fmt.Errorf("decode object %s: %w", s.ID, err)
	}
	return nil
}

// OwnedFilter selects objects by owner and, optionally, struct type.
type OwnedFilter struct {
	Owner      Address
	StructType string
}

// Client is the ledger surface consumed by this module.
type Client interface {
	Submit(ctx context.Context, op Operation) (TxHandle, error)
	Await(ctx context.Context, h TxHandle) (Receipt, error)
	ReadObject(ctx context.Context, id ObjectID) (ObjectSnapshot, error)
	ListOwned(ctx context.Context, filter OwnedFilter) ([]ObjectSnapshot, error)
}

// Execute submits op and waits for its final receipt. A failed transaction is
// returned as a *TxFailedError alongside the receipt.
func Execute(ctx context.Context, c Client, op Operation) (Receipt, error) {
	h, err := c.Submit(ctx, op)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit %s: %w", op.Target, err)
	}
	receipt, err := c.Await(ctx, h)
	if err != nil {
		return Receipt{}, fmt.Errorf("await %s: %w", h.Digest, err)
	}
	return receipt, receipt.Err()
}

// Target names a program function as "<pkg>::<module>::<fn>".
func Target(pkg, module, fn string) string {
	return strings.Join([]string{pkg, module, fn}, "::")
}

// StructType names a program type as "<pkg>::<module>::<name>".
func StructType(pkg, module, name string) string {
	return strings.Join([]string{pkg, module, name}, "::")
}
