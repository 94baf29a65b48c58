package blobnet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"suits/internal/blobstore"
	"suits/internal/ledger"
	"suits/internal/models"
)

// Local is an in-process blob node. It accepts bytes only for blobs whose
// registration is finalized on the ledger and resolves blob ids only once the
// ledger shows them certified.
type Local struct {
	store    blobstore.BlobStore
	ledger   ledger.Client
	systemID string
	log      *slog.Logger

	mu    sync.Mutex
	flows map[uuid.UUID]uploadedBlob
}

type uploadedBlob struct {
	object ledger.ObjectID
	owner  ledger.Address
}

// NewLocal creates a node storing bytes in store and verifying state against
// the blob system program deployed at systemID.
func NewLocal(store blobstore.BlobStore, lc ledger.Client, systemID string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		store:    store,
		ledger:   lc,
		systemID: systemID,
		log:      logger.With("component", "blobnet"),
		flows:    map[uuid.UUID]uploadedBlob{},
	}
}

// Encode computes the blob id of data and opens a new flow.
func (n *Local) Encode(ctx context.Context, data []byte) (EncodedBlob, error) {
	if err := ctx.Err(); err != nil {
		return EncodedBlob{}, err
	}
	if len(data) == 0 {
		return EncodedBlob{}, ErrEmptyBlob
	}
	sum := sha256.Sum256(data)
	id, err := blobstore.CIDForSHA256(sum[:])
	if err != nil {
		return EncodedBlob{}, err
	}
	return EncodedBlob{
		FlowID: uuid.New(),
		BlobID: id.String(),
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
		Data:   data,
	}, nil
}

// Register builds the register_blob operation. It is submitted by the caller.
func (n *Local) Register(_ context.Context, blob EncodedBlob, policy StoragePolicy) (ledger.Operation, error) {
	if blob.BlobID == "" {
		return ledger.Operation{}, ErrEmptyBlob
	}
	if policy.Epochs == 0 {
		return ledger.Operation{}, fmt.Errorf("storage epochs must be positive")
	}
	return ledger.Operation{
		Sender: policy.Owner,
		Target: ledger.Target(n.systemID, models.ModuleBlobSystem, models.FnRegisterBlob),
		Args: []ledger.Arg{
			ledger.PureArg(blob.BlobID),
			ledger.PureArg(uint64(blob.Size)),
			ledger.PureArg(policy.Epochs),
			ledger.PureArg(policy.Deletable),
			ledger.PureArg(policy.Owner),
		},
	}, nil
}

// Upload stores the blob bytes. proof must be the finalized receipt of the
// blob's registration. Uploading the same blob again is a no-op.
func (n *Local) Upload(ctx context.Context, blob EncodedBlob, proof ledger.Receipt) (UploadAck, error) {
	if proof.Status != ledger.StatusFinalized {
		return UploadAck{}, fmt.Errorf("%w: registration %s is %s", ErrNotRegistered, proof.Digest, proof.Status)
	}
	reg, err := n.findRegistration(ctx, blob, proof)
	if err != nil {
		return UploadAck{}, err
	}
	if len(blob.Data) == 0 {
		return UploadAck{}, ErrEmptyBlob
	}

	res, err := n.store.Put(ctx, bytes.NewReader(blob.Data))
	if err != nil {
		return UploadAck{}, fmt.Errorf("store blob %s: %w", blob.BlobID, err)
	}
	if res.CID.String() != blob.BlobID {
		_ = n.store.Delete(ctx, res.CID)
		return UploadAck{}, fmt.Errorf("blob content does not match id %s", blob.BlobID)
	}

	n.mu.Lock()
	n.flows[blob.FlowID] = reg
	n.mu.Unlock()
	n.log.Debug("blob uploaded", "flow", blob.FlowID, "blob_id", blob.BlobID, "size", res.SizeBytes)
	return UploadAck{BlobID: blob.BlobID, BlobObjectID: reg.object, Size: res.SizeBytes}, nil
}

func (n *Local) findRegistration(ctx context.Context, blob EncodedBlob, proof ledger.Receipt) (uploadedBlob, error) {
	blobType := ledger.StructType(n.systemID, models.ModuleBlob, models.TypeBlob)
	for _, id := range proof.Created {
		snap, err := n.ledger.ReadObject(ctx, id)
		if err != nil {
			return uploadedBlob{}, fmt.Errorf("read registration %s: %w", id, err)
		}
		if snap.Type != blobType {
			continue
		}
		var fields models.BlobFields
		if err := snap.DecodeFields(&fields); err != nil {
			return uploadedBlob{}, err
		}
		if fields.BlobID == blob.BlobID && int64(fields.Size) == blob.Size {
			return uploadedBlob{object: id, owner: snap.Owner}, nil
		}
	}
	return uploadedBlob{}, fmt.Errorf("%w: no blob object for %s in %s", ErrNotRegistered, blob.BlobID, proof.Digest)
}

// Certify builds the certify_blob operation for an uploaded blob.
func (n *Local) Certify(_ context.Context, blob EncodedBlob) (ledger.Operation, error) {
	n.mu.Lock()
	reg, ok := n.flows[blob.FlowID]
	n.mu.Unlock()
	if !ok {
		return ledger.Operation{}, fmt.Errorf("%w: %s", ErrNotUploaded, blob.BlobID)
	}
	return ledger.Operation{
		Sender: reg.owner,
		Target: ledger.Target(n.systemID, models.ModuleBlobSystem, models.FnCertifyBlob),
		Args:   []ledger.Arg{ledger.ObjectArg(reg.object)},
	}, nil
}

// GetBlob resolves the durable blob id of a certified flow.
func (n *Local) GetBlob(ctx context.Context, flowID uuid.UUID) (string, error) {
	n.mu.Lock()
	reg, ok := n.flows[flowID]
	n.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}
	snap, err := n.ledger.ReadObject(ctx, reg.object)
	if err != nil {
		return "", err
	}
	var fields models.BlobFields
	if err := snap.DecodeFields(&fields); err != nil {
		return "", err
	}
	if !fields.Certified {
		return "", fmt.Errorf("%w: %s", ErrNotCertified, fields.BlobID)
	}
	return fields.BlobID, nil
}

// Fetch reads stored bytes by blob id.
func (n *Local) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	id, err := cid.Decode(blobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blobstore.ErrInvalidCID, err)
	}
	rc, err := n.store.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// IsNotFound reports whether err means the blob does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, ErrGatewayNotFound)
}

var (
	_ Client  = (*Local)(nil)
	_ Fetcher = (*Local)(nil)
)
