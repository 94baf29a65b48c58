package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/ipfs/go-cid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidCID = errors.New("invalid blob cid")
)

// BlobPutResult describes one persisted blob payload.
type BlobPutResult struct {
	CID       cid.Cid
	SHA256    string
	SizeBytes int64
}

// BlobStore is the byte-storage abstraction behind the local blob node.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (BlobPutResult, error)
	Open(ctx context.Context, id cid.Cid) (io.ReadCloser, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
	Delete(ctx context.Context, id cid.Cid) error
}
