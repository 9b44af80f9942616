// Package eventlog implements the optional append-only audit sink named in
// spec §6 (`event_log_path`): one JSON object per line for every order
// placement, fill, cancel, rejection and SyncController lifecycle
// transition. It is never read back on restart, consistent with spec §6
// ("Persisted state: None required for correctness") — grounded on the
// teacher's `internal/engine/simple` store pattern (a narrow Store
// interface around one append point), adapted here from a snapshot store to
// a pure audit trail.
package eventlog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Kinds of events this engine records.
const (
	KindOrderPlaced    = "order_placed"
	KindOrderFilled    = "order_filled"
	KindOrderCancelled = "order_cancelled"
	KindOrderRejected  = "order_rejected"
	KindEpochStarted   = "epoch_started"
	KindStateChanged   = "state_changed"
	KindRiskBreach     = "risk_breach"
)

// Event is one audit record. Fields irrelevant to Kind are left zero and
// omitted from the encoded line.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	Direction string    `json:"direction,omitempty"`
	EpochID   int64     `json:"epoch_id,omitempty"`
	LevelID   int       `json:"level_id,omitempty"`
	ClientID  string    `json:"client_order_id,omitempty"`
	Price     string    `json:"price,omitempty"`
	Quantity  string    `json:"quantity,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Sink appends Events to one file as newline-delimited JSON. A nil *Sink is
// valid and Record becomes a no-op, so call sites can record unconditionally
// instead of branching on whether event_log_path was configured.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open opens (creating if necessary) the file at path for appending.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends ev as one JSON line, stamping Time if unset. Encoding
// failures are swallowed: the audit sink must never block or fail trading.
func (s *Sink) Record(ev Event) {
	if s == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(ev)
}

// Close closes the underlying file. A nil *Sink is a no-op.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.file.Close()
}
