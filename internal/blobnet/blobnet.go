// Package blobnet is the client side of the blob network: encoding payloads,
// building register and certify operations, uploading bytes and resolving the
// durable blob id once a blob is certified.
package blobnet

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"suits/internal/ledger"
)

var (
	ErrEmptyBlob     = errors.New("blob is empty")
	ErrNotRegistered = errors.New("blob is not registered")
	ErrNotUploaded   = errors.New("blob has not been uploaded")
	ErrNotCertified  = errors.New("blob is not certified")
	ErrUnknownFlow   = errors.New("unknown upload flow")
)

// EncodedBlob is the handle produced by Encode and reused by every later
// phase of the same flow.
type EncodedBlob struct {
	FlowID uuid.UUID `json:"flow_id"`
	BlobID string    `json:"blob_id"`
	SHA256 string    `json:"sha256"`
	Size   int64     `json:"size"`
	Data   []byte    `json:"-"`
}

// StoragePolicy parameterizes a registration.
type StoragePolicy struct {
	Epochs    uint64
	Deletable bool
	Owner     ledger.Address
}

// UploadAck confirms the network holds the blob bytes.
type UploadAck struct {
	BlobID       string          `json:"blob_id"`
	BlobObjectID ledger.ObjectID `json:"blob_object_id"`
	Size         int64           `json:"size"`
}

// Client is the blob network surface the publish session drives.
type Client interface {
	Encode(ctx context.Context, data []byte) (EncodedBlob, error)
	Register(ctx context.Context, blob EncodedBlob, policy StoragePolicy) (ledger.Operation, error)
	Upload(ctx context.Context, blob EncodedBlob, proof ledger.Receipt) (UploadAck, error)
	Certify(ctx context.Context, blob EncodedBlob) (ledger.Operation, error)
	GetBlob(ctx context.Context, flowID uuid.UUID) (string, error)
}

// Fetcher reads published blob bytes by blob id.
type Fetcher interface {
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}

// BlobURL joins the gateway prefix and a blob id.
func BlobURL(gateway, blobID string) string {
	return strings.TrimRight(gateway, "/") + "/" + blobID
}

// BlobIDFromURL extracts the blob id from a gateway URL. ok is false when
// url is not under gateway.
func BlobIDFromURL(gateway, url string) (string, bool) {
	prefix := strings.TrimRight(gateway, "/") + "/"
	if gateway == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
