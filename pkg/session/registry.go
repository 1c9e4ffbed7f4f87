package session

import (
	"sync"
	"time"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
)

// Key scopes all buffering and notification state to one
// (session, participant) pair.
type Key struct {
	SessionID     string
	ParticipantID string
}

func (k Key) String() string {
	return k.SessionID + "/" + k.ParticipantID
}

// State remembers the last notification emitted for a key. It is written only
// through Commit, serialized by the key's in-flight discipline.
type State struct {
	LastStatus   vision.Status
	LastMessage  string
	BaselineSent bool
}

func initialState() State {
	return State{LastStatus: vision.StatusNone}
}

// Record is one buffered camera frame. Source keeps the originating path (if
// any) so processed files can be removed afterwards.
type Record struct {
	Payload    []byte
	Source     string
	ReceivedAt time.Time
}

// KeyStatus is a point-in-time view of one key, exposed over /status.
type KeyStatus struct {
	Buffered int  `json:"buffered"`
	InFlight bool `json:"in_flight"`
}

type entry struct {
	mu         sync.Mutex
	buf        []Record
	inFlight   bool
	state      State
	generation uint64
	seen       map[string]struct{}
}

// Registry owns every per-key triple (buffer, in-flight flag, state). Entries
// are created lazily under a short-lived map lock; all per-key mutation then
// happens under that key's own mutex so sessions never contend with each other.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

func (r *Registry) entry(key Key) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{state: initialState(), seen: make(map[string]struct{})}
		r.entries[key] = e
	}
	return e
}

// Append adds a record to the tail of the key's buffer and returns the buffer
// size after the append.
func (r *Registry) Append(key Key, rec Record) int {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = append(e.buf, rec)
	return len(e.buf)
}

// Drain removes and returns up to n records from the head of the key's buffer
// in arrival order.
func (r *Registry) Drain(key Key, n int) []Record {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainLocked(n)
}

func (e *entry) drainLocked(n int) []Record {
	if n > len(e.buf) {
		n = len(e.buf)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Record, n)
	copy(out, e.buf)
	rest := copy(e.buf, e.buf[n:])
	for i := rest; i < len(e.buf); i++ {
		e.buf[i] = Record{}
	}
	e.buf = e.buf[:rest]
	return out
}

// Size reports the key's current buffer occupancy.
func (r *Registry) Size(key Key) int {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// Clear discards all buffered records for the key.
func (r *Registry) Clear(key Key) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = nil
}

// MarkSeen records a frame source path for duplicate suppression. It returns
// false when the path was already seen for this key.
func (r *Registry) MarkSeen(key Key, path string) bool {
	if path == "" {
		return true
	}
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.seen[path]; dup {
		return false
	}
	e.seen[path] = struct{}{}
	return true
}

// Admit atomically checks the dispatch condition for a key: when at least
// batchSize records are buffered and no batch is in flight, it sets the
// in-flight flag, drains exactly batchSize records and returns them with the
// key's current generation. Concurrent callers never both succeed.
func (r *Registry) Admit(key Key, batchSize int) ([]Record, uint64, bool) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight || len(e.buf) < batchSize {
		return nil, 0, false
	}
	e.inFlight = true
	return e.drainLocked(batchSize), e.generation, true
}

// Rearm is called after a batch completes. When the buffer has re-met the
// threshold it drains the next batch, keeping the in-flight flag set, so the
// key is processed back-to-back until it drops below threshold. A generation
// mismatch means the key was reset while the batch ran; the flag is left
// alone because the reset already cleared it.
func (r *Registry) Rearm(key Key, gen uint64, batchSize int) ([]Record, bool) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil, false
	}
	if len(e.buf) >= batchSize {
		return e.drainLocked(batchSize), true
	}
	e.inFlight = false
	return nil, false
}

// Commit applies a notification decision against the key's state under its
// lock. The decide callback receives the prior state and returns whether to
// send plus the successor state, which is adopted only on send. A generation
// mismatch marks the result stale and leaves the state untouched, so a batch
// dispatched before a reset can never repopulate freshly-reset state.
func (r *Registry) Commit(key Key, gen uint64, decide func(State) (bool, State)) (send, stale bool) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return false, true
	}
	ok, next := decide(e.state)
	if ok {
		e.state = next
	}
	return ok, false
}

// State returns a copy of the key's notification state.
func (r *Registry) State(key Key) State {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset returns the key to its initial condition: empty buffer, cleared
// in-flight flag, initial state. The generation bump invalidates any batch
// already dispatched for this key.
func (r *Registry) Reset(key Key) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *entry) resetLocked() {
	e.buf = nil
	e.inFlight = false
	e.state = initialState()
	e.generation++
	e.seen = make(map[string]struct{})
}

// ResetAll resets every known key. Used on transport disconnect, where no
// assumption is made that a reconnect resumes the same keys.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		e.resetLocked()
		e.mu.Unlock()
	}
}

// Snapshot reports buffer occupancy and in-flight state for every key.
func (r *Registry) Snapshot() map[string]KeyStatus {
	r.mu.Lock()
	keys := make(map[Key]*entry, len(r.entries))
	for k, e := range r.entries {
		keys[k] = e
	}
	r.mu.Unlock()

	out := make(map[string]KeyStatus, len(keys))
	for k, e := range keys {
		e.mu.Lock()
		out[k.String()] = KeyStatus{Buffered: len(e.buf), InFlight: e.inFlight}
		e.mu.Unlock()
	}
	return out
}
