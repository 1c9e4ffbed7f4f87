package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
)

func testKey() Key {
	return Key{SessionID: "s1", ParticipantID: "p1"}
}

func rec(id string) Record {
	return Record{Payload: []byte(id), Source: id}
}

func TestAppendAndDrainFIFO(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	for i := 0; i < 5; i++ {
		if got := reg.Append(key, rec(fmt.Sprintf("f%d", i))); got != i+1 {
			t.Fatalf("append %d: size = %d", i, got)
		}
	}
	out := reg.Drain(key, 3)
	if len(out) != 3 {
		t.Fatalf("drained %d records, want 3", len(out))
	}
	for i, r := range out {
		if want := fmt.Sprintf("f%d", i); string(r.Payload) != want {
			t.Fatalf("record %d = %q, want %q", i, r.Payload, want)
		}
	}
	if got := reg.Size(key); got != 2 {
		t.Fatalf("size after drain = %d, want 2", got)
	}
	out = reg.Drain(key, 10)
	if len(out) != 2 || string(out[0].Payload) != "f3" {
		t.Fatalf("tail drain = %v", out)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	reg := NewRegistry()
	a := Key{SessionID: "s1", ParticipantID: "p1"}
	b := Key{SessionID: "s1", ParticipantID: "p2"}
	reg.Append(a, rec("a1"))
	reg.Append(b, rec("b1"))
	reg.Append(b, rec("b2"))
	if reg.Size(a) != 1 || reg.Size(b) != 2 {
		t.Fatalf("sizes = %d, %d", reg.Size(a), reg.Size(b))
	}
	reg.Reset(a)
	if reg.Size(a) != 0 || reg.Size(b) != 2 {
		t.Fatalf("reset leaked across keys")
	}
}

func TestAdmitBelowThreshold(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	reg.Append(key, rec("f1"))
	reg.Append(key, rec("f2"))
	if _, _, ok := reg.Admit(key, 3); ok {
		t.Fatalf("admitted with 2 of 3 records")
	}
}

func TestAdmitSingleWinner(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	for i := 0; i < 4; i++ {
		reg.Append(key, rec(fmt.Sprintf("f%d", i)))
	}

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := reg.Admit(key, 4); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("admitted = %d, want exactly 1", admitted)
	}
}

func TestAdmitBlocksWhileInFlight(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	for i := 0; i < 8; i++ {
		reg.Append(key, rec(fmt.Sprintf("f%d", i)))
	}
	batch, gen, ok := reg.Admit(key, 4)
	if !ok || len(batch) != 4 {
		t.Fatalf("first admit failed")
	}
	if _, _, ok := reg.Admit(key, 4); ok {
		t.Fatalf("second admit succeeded while in flight")
	}
	// Rearm picks up the remaining records without clearing the flag.
	next, more := reg.Rearm(key, gen, 4)
	if !more || len(next) != 4 {
		t.Fatalf("rearm = %d records, more=%v", len(next), more)
	}
	if string(next[0].Payload) != "f4" {
		t.Fatalf("rearm batch starts at %q", next[0].Payload)
	}
	if _, more := reg.Rearm(key, gen, 4); more {
		t.Fatalf("rearm with empty buffer reported more work")
	}
	// Flag cleared; a fresh threshold crossing admits again.
	for i := 0; i < 4; i++ {
		reg.Append(key, rec(fmt.Sprintf("g%d", i)))
	}
	if _, _, ok := reg.Admit(key, 4); !ok {
		t.Fatalf("admit after rearm exhaustion failed")
	}
}

func TestRearmAfterResetIsStale(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	for i := 0; i < 4; i++ {
		reg.Append(key, rec(fmt.Sprintf("f%d", i)))
	}
	_, gen, ok := reg.Admit(key, 4)
	if !ok {
		t.Fatalf("admit failed")
	}
	reg.Reset(key)
	for i := 0; i < 4; i++ {
		reg.Append(key, rec(fmt.Sprintf("g%d", i)))
	}
	if _, more := reg.Rearm(key, gen, 4); more {
		t.Fatalf("stale rearm drained post-reset records")
	}
	// The reset cleared in-flight, so the new records admit normally.
	if _, _, ok := reg.Admit(key, 4); !ok {
		t.Fatalf("fresh admit after reset failed")
	}
}

func TestCommitAdoptsStateOnSend(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	_, gen, _ := admitFour(reg, key)

	next := State{LastStatus: vision.StatusDanger, LastMessage: "fire", BaselineSent: true}
	send, stale := reg.Commit(key, gen, func(prior State) (bool, State) {
		if prior.BaselineSent {
			t.Fatalf("prior state not initial: %+v", prior)
		}
		return true, next
	})
	if !send || stale {
		t.Fatalf("commit = send %v, stale %v", send, stale)
	}
	if got := reg.State(key); got != next {
		t.Fatalf("state = %+v, want %+v", got, next)
	}
}

func TestCommitSuppressedKeepsState(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	_, gen, _ := admitFour(reg, key)
	send, stale := reg.Commit(key, gen, func(prior State) (bool, State) {
		return false, State{LastMessage: "should not land"}
	})
	if send || stale {
		t.Fatalf("commit = send %v, stale %v", send, stale)
	}
	if got := reg.State(key); got != initialState() {
		t.Fatalf("suppressed commit mutated state: %+v", got)
	}
}

func TestCommitAfterResetIsStale(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	_, gen, _ := admitFour(reg, key)
	reg.Reset(key)
	send, stale := reg.Commit(key, gen, func(prior State) (bool, State) {
		return true, State{LastMessage: "from before the reset", BaselineSent: true}
	})
	if send || !stale {
		t.Fatalf("commit = send %v, stale %v", send, stale)
	}
	if got := reg.State(key); got != initialState() {
		t.Fatalf("stale commit repopulated state: %+v", got)
	}
}

func TestMarkSeenDeduplicates(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	if !reg.MarkSeen(key, "/tmp/frame1.jpg") {
		t.Fatalf("first sighting rejected")
	}
	if reg.MarkSeen(key, "/tmp/frame1.jpg") {
		t.Fatalf("duplicate accepted")
	}
	if !reg.MarkSeen(key, "") {
		t.Fatalf("empty path must never be treated as duplicate")
	}
	// Reset forgets seen paths.
	reg.Reset(key)
	if !reg.MarkSeen(key, "/tmp/frame1.jpg") {
		t.Fatalf("reset did not clear seen paths")
	}
}

func TestResetAll(t *testing.T) {
	reg := NewRegistry()
	a := Key{SessionID: "s1", ParticipantID: "p1"}
	b := Key{SessionID: "s2", ParticipantID: "p2"}
	reg.Append(a, rec("a"))
	reg.Append(b, rec("b"))
	reg.ResetAll()
	if reg.Size(a) != 0 || reg.Size(b) != 0 {
		t.Fatalf("buffers survived ResetAll")
	}
}

func TestSnapshot(t *testing.T) {
	reg := NewRegistry()
	key := testKey()
	for i := 0; i < 5; i++ {
		reg.Append(key, rec(fmt.Sprintf("f%d", i)))
	}
	reg.Admit(key, 4)
	snap := reg.Snapshot()
	st, ok := snap["s1/p1"]
	if !ok {
		t.Fatalf("key missing from snapshot: %v", snap)
	}
	if st.Buffered != 1 || !st.InFlight {
		t.Fatalf("snapshot = %+v", st)
	}
}

func admitFour(reg *Registry, key Key) ([]Record, uint64, bool) {
	for i := 0; i < 4; i++ {
		reg.Append(key, rec(fmt.Sprintf("f%d", i)))
	}
	return reg.Admit(key, 4)
}
