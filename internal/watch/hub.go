// Package watch keeps polled snapshots fresh: cancellable periodic pollers and
// a hub that routes invalidations from mutating operations to the pollers
// subscribed to the affected resource.
package watch

import (
	"log/slog"
	"sort"
	"sync"

	"suits/internal/metrics"
)

// Kind names a class of polled resource.
type Kind string

const (
	KindFeed     Kind = "feed"
	KindChannels Kind = "channels"
	KindMessages Kind = "messages"
)

// Key identifies one polled resource. An empty ID is the collection-wide
// resource of that kind (the feed, an account's channel list).
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.ID
}

// Refresher is anything that can be asked to refetch.
type Refresher interface {
	Refresh()
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func()

func (f RefreshFunc) Refresh() { f() }

// Hub is the subscription registry. A nil *Hub ignores every call.
type Hub struct {
	metrics *metrics.Metrics
	log     *slog.Logger

	mu   sync.Mutex
	next uint64
	subs map[Key]map[uint64]Refresher
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{metrics: m, log: logger.With("component", "watch"), subs: map[Key]map[uint64]Refresher{}}
}

// Subscribe registers r under key and returns a function that removes it.
func (h *Hub) Subscribe(key Key, r Refresher) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	if h.subs[key] == nil {
		h.subs[key] = map[uint64]Refresher{}
	}
	h.subs[key][id] = r

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
		})
	}
}

// Invalidate asks every subscriber of the given keys to refetch.
func (h *Hub) Invalidate(keys ...Key) {
	if h == nil {
		return
	}
	for _, key := range keys {
		h.metrics.Invalidated(string(key.Kind))
		h.log.Debug("invalidate", "key", key.String())
		for _, r := range h.collect(func(k Key) bool { return k == key }) {
			r.Refresh()
		}
	}
}

// InvalidateKind asks every subscriber of any key of kind to refetch.
func (h *Hub) InvalidateKind(kind Kind) {
	if h == nil {
		return
	}
	h.metrics.Invalidated(string(kind))
	h.log.Debug("invalidate kind", "kind", kind)
	for _, r := range h.collect(func(k Key) bool { return k.Kind == kind }) {
		r.Refresh()
	}
}

// Keys lists the keys with at least one subscriber, sorted.
func (h *Hub) Keys() []Key {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]Key, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// collect copies matching subscribers so Refresh runs without the lock held.
func (h *Hub) collect(match func(Key) bool) []Refresher {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Refresher
	for k, subs := range h.subs {
		if !match(k) {
			continue
		}
		for _, r := range subs {
			out = append(out, r)
		}
	}
	return out
}
