package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ledgerctl/pkg/ledger"
)

// PendingRequest tracks one request awaiting its reply frame.
type PendingRequest struct {
	RequestID     uint64
	Operation     ledger.Operation
	Payload       []byte
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	DeadlineAt    time.Time
	LastError     string
}

// InflightTable stores pending requests by request_id.
type InflightTable struct {
	mu    sync.RWMutex
	items map[uint64]PendingRequest
}

func NewInflightTable() *InflightTable {
	return &InflightTable{
		items: make(map[uint64]PendingRequest),
	}
}

func (t *InflightTable) Upsert(item PendingRequest) {
	if item.RequestID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[item.RequestID] = item
}

func (t *InflightTable) MarkAttempt(requestID uint64, at time.Time, lastErr string) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	t.items[requestID] = item
	return item, true
}

func (t *InflightTable) Remove(requestID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, requestID)
}

func (t *InflightTable) Get(requestID uint64) (PendingRequest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[requestID]
	return item, ok
}

func (t *InflightTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// List returns pending requests in request_id order, which is send order.
func (t *InflightTable) List() []PendingRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PendingRequest, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Expired returns requests whose deadline is at or before now.
func (t *InflightTable) Expired(now time.Time) []PendingRequest {
	out := make([]PendingRequest, 0)
	for _, item := range t.List() {
		if !item.DeadlineAt.IsZero() && !now.Before(item.DeadlineAt) {
			out = append(out, item)
		}
	}
	return out
}
