package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
)

func TestLocalCASPutOpenDelete(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx := context.Background()

	first, err := cas.Put(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("put first: %v", err)
	}
	if !first.CID.Defined() || first.SHA256 == "" || first.SizeBytes != 5 {
		t.Fatalf("unexpected put result: %#v", first)
	}
	if first.CID.Prefix().Codec != cid.Raw || first.CID.Version() != 1 {
		t.Fatalf("expected raw CIDv1, got %s", first.CID)
	}

	second, err := cas.Put(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	if !first.CID.Equals(second.CID) || first.SHA256 != second.SHA256 {
		t.Fatalf("expected dedupe cids/digests to match: first=%#v second=%#v", first, second)
	}

	ok, err := cas.Has(ctx, first.CID)
	if err != nil || !ok {
		t.Fatalf("expected blob to exist: ok=%v err=%v", ok, err)
	}

	rc, err := cas.Open(ctx, first.CID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", string(data))
	}

	if err := cas.Delete(ctx, first.CID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := cas.Delete(ctx, first.CID); err != nil {
		t.Fatalf("delete missing should be noop: %v", err)
	}
	if _, err := cas.Open(ctx, first.CID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCIDForSHA256MatchesContent(t *testing.T) {
	sum := sha256.Sum256([]byte("payload"))
	want, err := CIDForSHA256(sum[:])
	if err != nil {
		t.Fatalf("cid: %v", err)
	}

	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	got, err := cas.Put(context.Background(), bytes.NewBufferString("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !got.CID.Equals(want) {
		t.Fatalf("expected %s, got %s", want, got.CID)
	}
	parsed, err := cid.Decode(got.CID.String())
	if err != nil || !parsed.Equals(want) {
		t.Fatalf("cid should round-trip through its string form: %v", err)
	}
}

func TestUndefinedCIDRejected(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	if _, err := cas.Open(context.Background(), cid.Undef); !errors.Is(err, ErrInvalidCID) {
		t.Fatalf("expected ErrInvalidCID, got %v", err)
	}
}
