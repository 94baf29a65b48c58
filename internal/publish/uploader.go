package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"suits/internal/blobnet"
	"suits/internal/ledger"
)

// Uploader creates sessions sharing one storage policy and size limit.
type Uploader struct {
	blobs    blobnet.Client
	ledger   ledger.Client
	opts     Options
	maxBytes int64
}

// NewUploader creates an Uploader. maxBytes <= 0 disables the size limit.
func NewUploader(blobs blobnet.Client, lc ledger.Client, opts Options, maxBytes int64) *Uploader {
	return &Uploader{blobs: blobs, ledger: lc, opts: opts, maxBytes: maxBytes}
}

// NewSession returns an idle session configured like the uploader.
func (u *Uploader) NewSession() *Session {
	return NewSession(u.blobs, u.ledger, u.opts)
}

// Read loads r fully, enforcing the size limit.
func (u *Uploader) Read(r io.Reader) ([]byte, error) {
	if u.maxBytes > 0 {
		r = io.LimitReader(r, u.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return nil, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(u.maxBytes)))
	}
	return data, nil
}

// Publish reads r and runs a new session to completion. The session is
// returned even on failure so callers may retry a retryable step.
func (u *Uploader) Publish(ctx context.Context, r io.Reader) (*Session, Result, error) {
	data, err := u.Read(r)
	if err != nil {
		return nil, Result{}, err
	}
	s := u.NewSession()
	res, err := s.Run(ctx, data)
	return s, res, err
}
