package api

import (
	"sync"
	"time"

	"github.com/jetsetgo/group-checkout/internal/checkout"
	"github.com/jetsetgo/group-checkout/internal/upstream"
)

// AttemptRecord is one checkout attempt as seen by operators
type AttemptRecord struct {
	ID          string                     `json:"id"`
	SessionID   string                     `json:"session_id"`
	UserID      int64                      `json:"user_id"`
	Items       []string                   `json:"items"`
	Amount      int64                      `json:"amount"`
	InvoiceID   string                     `json:"invoice_id,omitempty"`
	State       string                     `json:"state"`
	Reason      string                     `json:"reason,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Poll        *upstream.ConnectionStatus `json:"poll,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

// AttemptBuffer is a thread-safe ring buffer of attempt records
type AttemptBuffer struct {
	mu      sync.RWMutex
	entries []AttemptRecord
	cap     int
}

// NewAttemptBuffer creates a buffer with the given capacity
func NewAttemptBuffer(capacity int) *AttemptBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	return &AttemptBuffer{
		entries: make([]AttemptRecord, 0, capacity),
		cap:     capacity,
	}
}

// Add appends a record, evicting the oldest when full
func (ab *AttemptBuffer) Add(rec AttemptRecord) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.entries) >= ab.cap {
		copy(ab.entries, ab.entries[1:])
		ab.entries[len(ab.entries)-1] = rec
	} else {
		ab.entries = append(ab.entries, rec)
	}
}

// Entries returns all records, newest first
func (ab *AttemptBuffer) Entries() []AttemptRecord {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	result := make([]AttemptRecord, len(ab.entries))
	for i, j := 0, len(ab.entries)-1; j >= 0; i, j = i+1, j-1 {
		result[i] = ab.entries[j]
	}
	return result
}

// Update folds a snapshot into the record with the same attempt id. The
// first terminal snapshot stamps CompletedAt; a later close keeps it.
func (ab *AttemptBuffer) Update(snap checkout.Snapshot, now time.Time) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	for i := len(ab.entries) - 1; i >= 0; i-- {
		rec := &ab.entries[i]
		if rec.ID != snap.AttemptID {
			continue
		}
		if rec.CompletedAt != nil {
			return
		}
		if snap.InvoiceID != "" {
			rec.InvoiceID = snap.InvoiceID
		}
		rec.State = snap.State.String()
		if snap.Poll != nil {
			ps := *snap.Poll
			rec.Poll = &ps
		}
		if snap.Failure != nil {
			rec.Reason = string(snap.Failure.Reason)
			rec.Error = snap.Failure.Message
		}
		if snap.State.Terminal() || snap.State == checkout.Idle {
			if snap.State == checkout.Idle {
				rec.State = "CLOSED"
			}
			rec.CompletedAt = &now
		}
		return
	}
}
