package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"suits/internal/blobnet"
	"suits/internal/blobstore"
	"suits/internal/ledger"
	"suits/internal/ledger/ledgertest"
	"suits/internal/ledger/localnet"
	"suits/internal/metrics"
)

const (
	testOwner   = ledger.Address("0xa11ce")
	testGateway = "https://gw.example/blob"
	registerFn  = "0xsys::system::register_blob"
	certifyFn   = "0xsys::system::certify_blob"
)

// orderedBlobs is a blob network that rejects any call made out of protocol
// order and records the calls it accepted.
type orderedBlobs struct {
	lc *ledgertest.Memory

	mu             sync.Mutex
	calls          []string
	uploadFailures int
	encodeBlock    chan struct{}
	encodeStarted  chan struct{}
	uploaded       bool
}

func (b *orderedBlobs) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *orderedBlobs) count(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *orderedBlobs) Encode(ctx context.Context, data []byte) (blobnet.EncodedBlob, error) {
	b.record("encode")
	if b.encodeStarted != nil {
		close(b.encodeStarted)
		<-b.encodeBlock
	}
	if len(data) == 0 {
		return blobnet.EncodedBlob{}, blobnet.ErrEmptyBlob
	}
	return blobnet.EncodedBlob{FlowID: uuid.New(), BlobID: "blob-1", Size: int64(len(data)), Data: data}, nil
}

func (b *orderedBlobs) Register(_ context.Context, blob blobnet.EncodedBlob, policy blobnet.StoragePolicy) (ledger.Operation, error) {
	b.record("register")
	if blob.BlobID == "" {
		return ledger.Operation{}, errors.New("register before encode")
	}
	if policy.Deletable {
		return ledger.Operation{}, errors.New("blobs must not be deletable")
	}
	return ledger.Operation{Sender: policy.Owner, Target: registerFn, Args: []ledger.Arg{ledger.PureArg(blob.BlobID), ledger.PureArg(policy.Epochs)}}, nil
}

func (b *orderedBlobs) Upload(ctx context.Context, blob blobnet.EncodedBlob, proof ledger.Receipt) (blobnet.UploadAck, error) {
	b.record("upload")
	r, err := b.lc.Await(ctx, ledger.TxHandle{Digest: proof.Digest})
	if err != nil || r.Status != ledger.StatusFinalized {
		return blobnet.UploadAck{}, fmt.Errorf("upload before registration finalized: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadFailures > 0 {
		b.uploadFailures--
		return blobnet.UploadAck{}, errors.New("storage node unavailable")
	}
	b.uploaded = true
	return blobnet.UploadAck{BlobID: blob.BlobID, Size: blob.Size}, nil
}

func (b *orderedBlobs) Certify(_ context.Context, blob blobnet.EncodedBlob) (ledger.Operation, error) {
	b.record("certify")
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.uploaded {
		return ledger.Operation{}, errors.New("certify before upload")
	}
	return ledger.Operation{Sender: testOwner, Target: certifyFn}, nil
}

func (b *orderedBlobs) GetBlob(_ context.Context, _ uuid.UUID) (string, error) {
	b.record("get")
	ops := b.lc.Submitted()
	if len(ops) == 0 || ops[len(ops)-1].Target != certifyFn {
		return "", errors.New("blob not certified")
	}
	return "blob-1", nil
}

func newOrdered() (*orderedBlobs, *ledgertest.Memory) {
	lc := ledgertest.NewMemory()
	return &orderedBlobs{lc: lc}, lc
}

func testOptions() Options {
	return Options{Epochs: 5, Owner: testOwner, Gateway: testGateway, Metrics: metrics.New()}
}

func TestRunCompletesInOrder(t *testing.T) {
	blobs, lc := newOrdered()
	s := NewSession(blobs, lc, testOptions())

	res, err := s.Run(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Phase() != PhaseComplete {
		t.Fatalf("expected complete, got %s", s.Phase())
	}
	if got := strings.Join(blobs.calls, ","); got != "encode,register,upload,certify,get" {
		t.Fatalf("unexpected call order %s", got)
	}
	if res.URL != testGateway+"/blob-1" || res.BlobID != "blob-1" || res.Size != 5 {
		t.Fatalf("unexpected result %#v", res)
	}
	if res.RegistrationDigest == "" || res.CertificationDigest == "" || res.RegistrationDigest == res.CertificationDigest {
		t.Fatalf("expected distinct digests, got %#v", res)
	}
	ops := lc.Submitted()
	if len(ops) != 2 || ops[0].Target != registerFn || ops[1].Target != certifyFn {
		t.Fatalf("unexpected submitted operations %#v", ops)
	}

	again, err := s.Run(context.Background(), nil)
	if err != nil || again != res {
		t.Fatalf("completed session should return its result: %#v %v", again, err)
	}
}

func TestUploadRetryDoesNotReencodeOrReregister(t *testing.T) {
	blobs, lc := newOrdered()
	blobs.uploadFailures = 1
	s := NewSession(blobs, lc, testOptions())

	_, err := s.Run(context.Background(), []byte("hello"))
	if !errors.Is(err, ErrUploadFailed) || !IsRetryable(err) {
		t.Fatalf("expected retryable upload failure, got %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Phase != PhaseRegistered {
		t.Fatalf("expected failure tagged registered, got %#v", err)
	}
	if s.Phase() != PhaseRegistered {
		t.Fatalf("upload failure must keep the registration, got %s", s.Phase())
	}

	res, err := s.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.BlobID != "blob-1" {
		t.Fatalf("unexpected result %#v", res)
	}
	if blobs.count("encode") != 1 || blobs.count("register") != 1 || blobs.count("upload") != 2 {
		t.Fatalf("unexpected calls %v", blobs.calls)
	}
}

func TestRegistrationRejectedIsTerminal(t *testing.T) {
	blobs, lc := newOrdered()
	lc.SetHandler(func(m *ledgertest.Memory, op ledger.Operation) (ledger.Receipt, error) {
		if op.Target == registerFn {
			return ledger.Receipt{Status: ledger.StatusFailed, Error: "insufficient storage"}, nil
		}
		return ledger.Receipt{}, nil
	})
	s := NewSession(blobs, lc, testOptions())

	_, err := s.Run(context.Background(), []byte("hello"))
	if !errors.Is(err, ErrRegistrationRejected) || IsRetryable(err) {
		t.Fatalf("expected terminal registration rejection, got %v", err)
	}
	var failed *ledger.TxFailedError
	if !errors.As(err, &failed) || failed.Reason != "insufficient storage" {
		t.Fatalf("expected ledger cause, got %v", err)
	}
	if s.Phase() != PhaseFailed || !errors.Is(s.Err(), ErrRegistrationRejected) {
		t.Fatalf("expected failed session, got %s (%v)", s.Phase(), s.Err())
	}
	if err := s.Upload(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase after failure, got %v", err)
	}
	if blobs.count("upload") != 0 {
		t.Fatalf("upload must not run after rejected registration")
	}
}

func TestCertificationRejectedIsTerminal(t *testing.T) {
	blobs, lc := newOrdered()
	lc.SetHandler(func(m *ledgertest.Memory, op ledger.Operation) (ledger.Receipt, error) {
		if op.Target == certifyFn {
			return ledger.Receipt{Status: ledger.StatusFailed, Error: "not enough confirmations"}, nil
		}
		return ledger.Receipt{}, nil
	})
	s := NewSession(blobs, lc, testOptions())

	_, err := s.Run(context.Background(), []byte("hello"))
	if !errors.Is(err, ErrCertificationRejected) {
		t.Fatalf("expected certification rejection, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Fatalf("expected failed, got %s", s.Phase())
	}
	if blobs.count("get") != 0 {
		t.Fatalf("blob id must not be resolved without certification")
	}
}

func TestEncodingFailed(t *testing.T) {
	blobs, lc := newOrdered()
	s := NewSession(blobs, lc, testOptions())
	err := s.Encode(context.Background(), nil)
	if !errors.Is(err, ErrEncodingFailed) || !errors.Is(err, blobnet.ErrEmptyBlob) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if s.Phase() != PhaseFailed {
		t.Fatalf("expected failed, got %s", s.Phase())
	}
	if len(lc.Submitted()) != 0 {
		t.Fatalf("nothing should be submitted after encoding failure")
	}
}

func TestStepsRejectOutOfOrder(t *testing.T) {
	blobs, lc := newOrdered()
	s := NewSession(blobs, lc, testOptions())
	ctx := context.Background()

	for name, step := range map[string]func() error{
		"register": func() error { return s.Register(ctx) },
		"upload":   func() error { return s.Upload(ctx) },
		"certify":  func() error { return s.Certify(ctx) },
		"resolve":  func() error { _, err := s.Resolve(ctx); return err },
	} {
		if err := step(); !errors.Is(err, ErrInvalidPhase) {
			t.Fatalf("%s from idle: expected ErrInvalidPhase, got %v", name, err)
		}
	}
	if len(blobs.calls) != 0 {
		t.Fatalf("no collaborator calls expected, got %v", blobs.calls)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("rejected steps must not change phase, got %s", s.Phase())
	}
}

func TestSessionIsSingleFlight(t *testing.T) {
	blobs, lc := newOrdered()
	blobs.encodeStarted = make(chan struct{})
	blobs.encodeBlock = make(chan struct{})
	s := NewSession(blobs, lc, testOptions())

	done := make(chan error, 1)
	go func() { done <- s.Encode(context.Background(), []byte("x")) }()
	<-blobs.encodeStarted

	if err := s.Register(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while encoding, got %v", err)
	}
	close(blobs.encodeBlock)
	if err := <-done; err != nil {
		t.Fatalf("encode: %v", err)
	}
	if s.Phase() != PhaseEncoded {
		t.Fatalf("expected encoded, got %s", s.Phase())
	}
}

func TestCancelledRegistrationFailsSession(t *testing.T) {
	blobs, lc := newOrdered()
	s := NewSession(blobs, lc, testOptions())
	if err := s.Encode(context.Background(), []byte("x")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Register(ctx)
	if !errors.Is(err, ErrRegistrationRejected) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled registration, got %v", err)
	}
}

func TestUploaderEnforcesMaxBytes(t *testing.T) {
	blobs, lc := newOrdered()
	u := NewUploader(blobs, lc, testOptions(), 4)

	if _, _, err := u.Publish(context.Background(), strings.NewReader("too long")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if len(blobs.calls) != 0 {
		t.Fatalf("oversized payload must not reach the network")
	}

	s, res, err := u.Publish(context.Background(), strings.NewReader("fits"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if s.Phase() != PhaseComplete || res.Epochs != 5 {
		t.Fatalf("unexpected session state %s %#v", s.Phase(), res)
	}
}

func TestPublishAgainstLocalnet(t *testing.T) {
	dir := t.TempDir()
	l, err := localnet.Open(filepath.Join(dir, "ledger.db"), localnet.Options{PackageID: "0xpkg"})
	if err != nil {
		t.Fatalf("open localnet: %v", err)
	}
	defer l.Close()
	cas, err := blobstore.NewLocalCAS(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open cas: %v", err)
	}
	node := blobnet.NewLocal(cas, l, "0xpkg", nil)

	u := NewUploader(node, l, testOptions(), 1<<20)
	_, res, err := u.Publish(context.Background(), bytes.NewReader([]byte("a picture")))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.HasPrefix(res.URL, testGateway+"/bafkrei") {
		t.Fatalf("unexpected url %q", res.URL)
	}
	data, err := node.Fetch(context.Background(), res.BlobID)
	if err != nil || string(data) != "a picture" {
		t.Fatalf("fetch published blob: %q %v", data, err)
	}
}
