// Package registry reads the append-only suit registry as a newest-first feed
// and publishes new suits into it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"suits/internal/ledger"
	"suits/internal/metrics"
	"suits/internal/models"
	"suits/internal/watch"
)

const DefaultConcurrency = 8

var (
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrItemFetchFailed     = errors.New("registry item fetch failed")
	ErrInvalidPage         = errors.New("limit and offset must not be negative")
)

// Window returns the ids of page (limit, offset) newest first: the last
// limit+offset ids, reversed, minus the first offset. A registry shorter than
// the window yields whatever exists.
func Window(ids []string, limit, offset int) []string {
	if limit <= 0 || offset < 0 {
		return []string{}
	}
	start := len(ids) - (limit + offset)
	if start < 0 {
		start = 0
	}
	recent := ids[start:]

	out := make([]string, 0, limit)
	for i := len(recent) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, recent[i])
	}
	return out
}

// Page is one resolved feed page.
type Page struct {
	Items  []models.ContentObject `json:"items" yaml:"items"`
	Limit  int                    `json:"limit" yaml:"limit"`
	Offset int                    `json:"offset" yaml:"offset"`
	Total  int                    `json:"total" yaml:"total"`
	// Omitted counts ids whose object could not be fetched.
	Omitted int `json:"omitted" yaml:"omitted"`
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	RegistryID  ledger.ObjectID
	Gateway     string
	Concurrency int
	Metrics     *metrics.Metrics
	Hub         *watch.Hub
	Logger      *slog.Logger
}

// Reader resolves registry pages into content objects.
type Reader struct {
	ledger ledger.Client
	opts   ReaderOptions
	log    *slog.Logger
}

// NewReader creates a Reader.
func NewReader(lc ledger.Client, opts ReaderOptions) *Reader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{ledger: lc, opts: opts, log: logger.With("component", "registry")}
}

// IDs reads the full registry sequence in append order.
func (r *Reader) IDs(ctx context.Context) ([]string, error) {
	snap, err := r.ledger.ReadObject(ctx, r.opts.RegistryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	var fields models.RegistryFields
	if err := snap.DecodeFields(&fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	return fields.SuitIDs, nil
}

// FetchPage returns up to limit content objects, newest first, skipping the
// offset newest. Items whose fetch fails are omitted; the page keeps the
// relative order of the rest. If the registry itself cannot be read the page
// is empty and the error wraps ErrRegistryUnavailable.
func (r *Reader) FetchPage(ctx context.Context, limit, offset int) (Page, error) {
	page := Page{Items: []models.ContentObject{}, Limit: limit, Offset: offset}
	if limit < 0 || offset < 0 {
		return page, ErrInvalidPage
	}

	ids, err := r.IDs(ctx)
	if err != nil {
		r.opts.Metrics.FeedPage(err)
		return page, err
	}
	page.Total = len(ids)

	window := Window(ids, limit, offset)
	slots := make([]*models.ContentObject, len(window))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, id := range window {
		g.Go(func() error {
			obj, err := r.fetchItem(ctx, ledger.ObjectID(id))
			if err != nil {
				r.opts.Metrics.FeedItemFailed()
				r.log.Warn("omitting registry item", "id", id, "err", err)
				return nil
			}
			slots[i] = &obj
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		r.opts.Metrics.FeedPage(err)
		return Page{Items: []models.ContentObject{}, Limit: limit, Offset: offset}, err
	}

	for _, obj := range slots {
		if obj == nil {
			page.Omitted++
			continue
		}
		page.Items = append(page.Items, *obj)
	}
	r.opts.Metrics.FeedPage(nil)
	return page, nil
}

// Get reads one content object by id, whether or not it is registered.
func (r *Reader) Get(ctx context.Context, id ledger.ObjectID) (models.ContentObject, error) {
	return r.fetchItem(ctx, id)
}

func (r *Reader) fetchItem(ctx context.Context, id ledger.ObjectID) (models.ContentObject, error) {
	snap, err := r.ledger.ReadObject(ctx, id)
	if err != nil {
		return models.ContentObject{}, fmt.Errorf("%w: %s: %w", ErrItemFetchFailed, id, err)
	}
	var fields models.SuitFields
	if err := snap.DecodeFields(&fields); err != nil {
		return models.ContentObject{}, fmt.Errorf("%w: %w", ErrItemFetchFailed, err)
	}
	media := fields.MediaURLs
	if media == nil {
		media = []string{}
	}
	return models.ContentObject{
		ID:        string(snap.ID),
		Author:    fields.Author,
		Body:      models.ParseBody(fields.Content, r.opts.Gateway),
		CreatedAt: models.TimeFromMillis(uint64(fields.CreatedAt)),
		MediaRefs: media,
	}, nil
}

// WatchFeed returns a stopped poller over the newest limit posts, subscribed
// to feed invalidations so a post refreshes it without waiting for interval.
// stop halts the poller and removes the subscription.
func (r *Reader) WatchFeed(limit int, interval time.Duration, opts ...watch.PollerOption[Page]) (p *watch.Poller[Page], stop func()) {
	p = watch.NewPoller(watch.KindFeed, interval, func(ctx context.Context) (Page, error) {
		return r.FetchPage(ctx, limit, 0)
	}, append([]watch.PollerOption[Page]{watch.WithMetrics[Page](r.opts.Metrics), watch.WithLogger[Page](r.log)}, opts...)...)
	unsub := r.opts.Hub.Subscribe(watch.Key{Kind: watch.KindFeed, ID: string(r.opts.RegistryID)}, p)
	return p, func() {
		unsub()
		p.Stop()
	}
}
