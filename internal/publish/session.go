// Package publish drives a blob through the network's reserve, upload and
// certify protocol and hands back a durable gateway URL.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"suits/internal/blobnet"
	"suits/internal/ledger"
	"suits/internal/metrics"
)

// Phase is the state of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEncoded
	PhaseRegistered
	PhaseUploaded
	PhaseCertified
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEncoded:
		return "encoded"
	case PhaseRegistered:
		return "registered"
	case PhaseUploaded:
		return "uploaded"
	case PhaseCertified:
		return "certified"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseFailed }

// Options configures a Session.
type Options struct {
	Epochs  uint64
	Owner   ledger.Address
	Gateway string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Result is the output of a completed session.
type Result struct {
	FlowID              uuid.UUID     `json:"flow_id" yaml:"flow_id"`
	BlobID              string        `json:"blob_id" yaml:"blob_id"`
	URL                 string        `json:"url" yaml:"url"`
	Size                int64         `json:"size" yaml:"size"`
	Epochs              uint64        `json:"epochs" yaml:"epochs"`
	RegistrationDigest  ledger.Digest `json:"registration_digest" yaml:"registration_digest"`
	CertificationDigest ledger.Digest `json:"certification_digest" yaml:"certification_digest"`
}

// Session publishes one blob. Steps run strictly in order and never
// concurrently; a call made while another step runs returns ErrBusy.
type Session struct {
	blobs  blobnet.Client
	ledger ledger.Client
	opts   Options
	log    *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	phase   Phase
	failure *Error
	blob    blobnet.EncodedBlob
	regTx   ledger.Receipt
	certTx  ledger.Receipt
	result  Result
}

// NewSession creates an idle session.
func NewSession(blobs blobnet.Client, lc ledger.Client, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{blobs: blobs, ledger: lc, opts: opts, log: logger.With("component", "publish")}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the terminal failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		return nil
	}
	return s.failure
}

// Blob returns the encoded blob handle once encoded.
func (s *Session) Blob() blobnet.EncodedBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob
}

// Encode moves Idle to Encoded.
func (s *Session) Encode(ctx context.Context, data []byte) error {
	return s.step(PhaseIdle, "encode", func() (Phase, *Error) {
		blob, err := s.blobs.Encode(ctx, data)
		if err != nil {
			return PhaseFailed, &Error{Phase: PhaseIdle, Kind: ErrEncodingFailed, Cause: err}
		}
		s.mu.Lock()
		s.blob = blob
		s.mu.Unlock()
		return PhaseEncoded, nil
	})
}

// Register submits the registration and waits for it to finalize.
func (s *Session) Register(ctx context.Context) error {
	return s.step(PhaseEncoded, "register", func() (Phase, *Error) {
		fail := func(err error) (Phase, *Error) {
			return PhaseFailed, &Error{Phase: PhaseEncoded, Kind: ErrRegistrationRejected, Cause: err}
		}
		op, err := s.blobs.Register(ctx, s.Blob(), blobnet.StoragePolicy{Epochs: s.opts.Epochs, Owner: s.opts.Owner})
		if err != nil {
			return fail(err)
		}
		receipt, err := ledger.Execute(ctx, s.ledger, op)
		if err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.regTx = receipt
		s.mu.Unlock()
		return PhaseRegistered, nil
	})
}

// Upload sends the bytes using the finalized registration as proof. A
// failed upload leaves the session Registered so it can be retried.
func (s *Session) Upload(ctx context.Context) error {
	return s.step(PhaseRegistered, "upload", func() (Phase, *Error) {
		s.mu.Lock()
		blob, proof := s.blob, s.regTx
		s.mu.Unlock()
		if _, err := s.blobs.Upload(ctx, blob, proof); err != nil {
			return PhaseRegistered, &Error{Phase: PhaseRegistered, Kind: ErrUploadFailed, Cause: err}
		}
		return PhaseUploaded, nil
	})
}

// Certify submits the certification and waits for it to finalize.
func (s *Session) Certify(ctx context.Context) error {
	return s.step(PhaseUploaded, "certify", func() (Phase, *Error) {
		fail := func(err error) (Phase, *Error) {
			return PhaseFailed, &Error{Phase: PhaseUploaded, Kind: ErrCertificationRejected, Cause: err}
		}
		op, err := s.blobs.Certify(ctx, s.Blob())
		if err != nil {
			return fail(err)
		}
		receipt, err := ledger.Execute(ctx, s.ledger, op)
		if err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.certTx = receipt
		s.mu.Unlock()
		return PhaseCertified, nil
	})
}

// Resolve fetches the durable blob id and builds the gateway URL.
func (s *Session) Resolve(ctx context.Context) (Result, error) {
	err := s.step(PhaseCertified, "resolve", func() (Phase, *Error) {
		s.mu.Lock()
		blob := s.blob
		s.mu.Unlock()
		blobID, err := s.blobs.GetBlob(ctx, blob.FlowID)
		if err != nil {
			return PhaseCertified, &Error{Phase: PhaseCertified, Kind: ErrResolveFailed, Cause: err}
		}
		s.mu.Lock()
		s.result = Result{
			FlowID:              blob.FlowID,
			BlobID:              blobID,
			URL:                 blobnet.BlobURL(s.opts.Gateway, blobID),
			Size:                blob.Size,
			Epochs:              s.opts.Epochs,
			RegistrationDigest:  s.regTx.Digest,
			CertificationDigest: s.certTx.Digest,
		}
		s.mu.Unlock()
		return PhaseComplete, nil
	})
	if err != nil {
		return Result{}, err
	}
	return s.Result(), nil
}

// Result returns the output of a completed session.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Run drives the session from its current phase to Complete. data is only
// used when the session is still Idle, so a session left Registered by a
// failed upload resumes without re-encoding or re-registering.
func (s *Session) Run(ctx context.Context, data []byte) (Result, error) {
	for {
		var err error
		switch phase := s.Phase(); phase {
		case PhaseIdle:
			err = s.Encode(ctx, data)
		case PhaseEncoded:
			err = s.Register(ctx)
		case PhaseRegistered:
			err = s.Upload(ctx)
		case PhaseUploaded:
			err = s.Certify(ctx)
		case PhaseCertified:
			return s.Resolve(ctx)
		case PhaseComplete:
			return s.Result(), nil
		default:
			return Result{}, s.Err()
		}
		if err != nil {
			return Result{}, err
		}
	}
}

func (s *Session) step(from Phase, name string, fn func() (Phase, *Error)) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	if current := s.Phase(); current != from {
		return fmt.Errorf("%w: %s requires %s, session is %s", ErrInvalidPhase, name, from, current)
	}

	start := time.Now()
	next, failure := fn()
	s.opts.Metrics.ObservePublishPhase(name, time.Since(start), errOrNil(failure))

	s.mu.Lock()
	s.phase = next
	if next == PhaseFailed {
		s.failure = failure
	}
	flow := s.blob.FlowID
	s.mu.Unlock()

	switch {
	case failure == nil:
		s.log.Debug("publish phase complete", "flow", flow, "step", name, "phase", next)
		if next == PhaseComplete {
			s.opts.Metrics.PublishOutcome("complete")
		}
		return nil
	case next == PhaseFailed:
		s.log.Warn("publish session failed", "flow", flow, "step", name, "err", failure)
		s.opts.Metrics.PublishOutcome("failed")
	default:
		s.log.Warn("publish step failed, retryable", "flow", flow, "step", name, "err", failure)
	}
	return failure
}

func errOrNil(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
