// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"suits/internal/ledger"
)

// Handler executes a submitted operation and returns the receipt Await will
// report. Returning an error fails Submit itself.
type Handler func(m *Memory, op ledger.Operation) (ledger.Receipt, error)

// Memory is a ledger.Client backed by maps. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	objects   map[ledger.ObjectID]ledger.ObjectSnapshot
	order     []ledger.ObjectID
	receipts  map[ledger.Digest]ledger.Receipt
	readErrs  map[ledger.ObjectID]error
	submitted []ledger.Operation
	reads     map[ledger.ObjectID]int
	seq       int
	handler   Handler
}

// NewMemory returns an empty ledger whose operations finalize without effect.
func NewMemory() *Memory {
	return &Memory{
		objects:  map[ledger.ObjectID]ledger.ObjectSnapshot{},
		receipts: map[ledger.Digest]ledger.Receipt{},
		readErrs: map[ledger.ObjectID]error{},
		reads:    map[ledger.ObjectID]int{},
	}
}

// SetHandler replaces the operation handler.
func (m *Memory) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Put stores or replaces an object. fields is marshaled to JSON.
func (m *Memory) Put(id ledger.ObjectID, typ string, owner ledger.Address, fields any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: marshal fields: %v", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, exists := m.objects[id]
	if !exists {
		m.order = append(m.order, id)
	}
	m.objects[id] = ledger.ObjectSnapshot{ID: id, Type: typ, Owner: owner, Version: prev.Version + 1, Fields: raw}
}

// FailRead makes ReadObject(id) return err. A nil err clears the failure.
func (m *Memory) FailRead(id ledger.ObjectID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrs, id)
		return
	}
	m.readErrs[id] = err
}

// Submitted returns a copy of every operation passed to Submit.
func (m *Memory) Submitted() []ledger.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Operation(nil), m.submitted...)
}

// Reads reports how many times id was read.
func (m *Memory) Reads(id ledger.ObjectID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[id]
}

// NextDigest returns a fresh digest.
func (m *Memory) NextDigest() ledger.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return ledger.Digest(fmt.Sprintf("tx-%d", m.seq))
}

func (m *Memory) Submit(ctx context.Context, op ledger.Operation) (ledger.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxHandle{}, err
	}
	m.mu.Lock()
	m.submitted = append(m.submitted, op)
	h := m.handler
	m.mu.Unlock()

	var receipt ledger.Receipt
	if h != nil {
		r, err := h(m, op)
		if err != nil {
			return ledger.TxHandle{}, err
		}
		receipt = r
	}
	if receipt.Digest == "" {
		receipt.Digest = m.NextDigest()
	}
	if receipt.Status == "" {
		receipt.Status = ledger.StatusFinalized
	}

	m.mu.Lock()
	m.receipts[receipt.Digest] = receipt
	m.mu.Unlock()
	return ledger.TxHandle{Digest: receipt.Digest}, nil
}

func (m *Memory) Await(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[h.Digest]
	if !ok {
		return ledger.Receipt{}, ledger.ErrUnknownTransaction
	}
	return r, nil
}

func (m *Memory) ReadObject(ctx context.Context, id ledger.ObjectID) (ledger.ObjectSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.ObjectSnapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[id]++
	if err, ok := m.readErrs[id]; ok {
		return ledger.ObjectSnapshot{}, err
	}
	obj, ok := m.objects[id]
	if !ok {
		return ledger.ObjectSnapshot{}, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
	}
	return obj, nil
}

func (m *Memory) ListOwned(ctx context.Context, filter ledger.OwnedFilter) ([]ledger.ObjectSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.ObjectSnapshot
	for _, id := range m.order {
		obj := m.objects[id]
		if obj.Owner != filter.Owner {
			continue
		}
		if filter.StructType != "" && obj.Type != filter.StructType {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

var _ ledger.Client = (*Memory)(nil)
