package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"suits/internal/ledger"
	"suits/internal/models"
	"suits/internal/watch"
)

var ErrPostRejected = errors.New("post rejected")

// PosterOptions configures a Poster.
type PosterOptions struct {
	PackageID  string
	RegistryID ledger.ObjectID
	ClockID    ledger.ObjectID
	Sender     ledger.Address
	Hub        *watch.Hub
	Logger     *slog.Logger
}

// Poster publishes suits by appending them to the registry.
type Poster struct {
	ledger ledger.Client
	opts   PosterOptions
	log    *slog.Logger
}

// NewPoster creates a Poster.
func NewPoster(lc ledger.Client, opts PosterOptions) *Poster {
	if opts.ClockID == "" {
		opts.ClockID = models.DefaultClockID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{ledger: lc, opts: opts, log: logger.With("component", "registry")}
}

// PostResult identifies a published suit.
type PostResult struct {
	ID     ledger.ObjectID `json:"id" yaml:"id"`
	Digest ledger.Digest   `json:"digest" yaml:"digest"`
}

// Post validates content, submits create_suit and waits for finalization.
// The feed is invalidated once the suit is registered.
func (p *Poster) Post(ctx context.Context, content string, mediaURLs []string) (PostResult, error) {
	text, err := models.ValidatePostContent(content)
	if err != nil {
		return PostResult{}, err
	}
	media, err := models.NormalizeMediaURLs(mediaURLs)
	if err != nil {
		return PostResult{}, err
	}

	op := ledger.Operation{
		Sender: p.opts.Sender,
		Target: ledger.Target(p.opts.PackageID, models.ModuleSuits, models.FnCreateSuit),
		Args: []ledger.Arg{
			ledger.ObjectArg(p.opts.RegistryID),
			ledger.PureArg(text),
			ledger.PureArg(media),
			ledger.ObjectArg(p.opts.ClockID),
		},
	}
	receipt, err := ledger.Execute(ctx, p.ledger, op)
	if err != nil {
		return PostResult{}, fmt.Errorf("%w: %w", ErrPostRejected, err)
	}

	res := PostResult{Digest: receipt.Digest}
	if len(receipt.Created) > 0 {
		res.ID = receipt.Created[0]
	}
	p.opts.Hub.InvalidateKind(watch.KindFeed)
	p.log.Info("suit posted", "id", res.ID, "digest", res.Digest)
	return res, nil
}
