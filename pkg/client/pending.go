package client

import (
	"fmt"

	"github.com/mcpwire/mcpd/pkg/jsonrpc"
)

// requestStatus is the lifecycle of a pending entry.
type requestStatus uint8

const (
	statusInvalid requestStatus = iota // tombstone
	statusWaiting
	statusCompleted
	statusError
	statusTimeout
)

func (s requestStatus) String() string {
	switch s {
	case statusInvalid:
		return "invalid"
	case statusWaiting:
		return "waiting"
	case statusCompleted:
		return "completed"
	case statusError:
		return "error"
	case statusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// pendingRequest is one in-flight request. The receive callback fills
// result or the error pair under the client mutex, then closes done;
// the waiting caller owns removal.
type pendingRequest struct {
	id     uint64
	status requestStatus
	done   chan struct{}

	result  []byte
	errCode jsonrpc.ErrorCode
	errMsg  string
}

const (
	pendingInitialCap = 16
	pendingLoadFactor = 0.75
)

// pendingTable is an open-addressed hash table with linear probing.
// Capacity is always a power of two; hash is id & (cap-1). Removal
// leaves a tombstone (nil entry, ID preserved) so probe chains stay
// intact; ID 0 marks a never-used slot. Callers hold the client mutex.
type pendingTable struct {
	slots []pendingSlot
	count int
}

type pendingSlot struct {
	id  uint64 // 0 = empty; nonzero with nil req = tombstone
	req *pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make([]pendingSlot, pendingInitialCap)}
}

// find probes linearly from hash(id). With forInsert false it returns
// the index of the live entry or -1. With forInsert true it returns the
// first live match, else the first tombstone seen, else the first empty
// slot; -1 only when the table is full of live entries.
func (t *pendingTable) find(id uint64, forInsert bool) int {
	mask := uint64(len(t.slots) - 1)
	idx := id & mask
	tombstone := -1
	for probed := 0; probed < len(t.slots); probed++ {
		s := &t.slots[idx]
		if s.id == 0 {
			if forInsert {
				if tombstone >= 0 {
					return tombstone
				}
				return int(idx)
			}
			return -1
		}
		if s.id == id && s.req != nil {
			return int(idx)
		}
		if forInsert && s.req == nil && tombstone < 0 {
			tombstone = int(idx)
		}
		idx = (idx + 1) & mask
	}
	if forInsert {
		return tombstone
	}
	return -1
}

// insert adds a pending request. A duplicate live ID is a caller bug.
func (t *pendingTable) insert(req *pendingRequest) error {
	if req.id == 0 {
		return fmt.Errorf("pending table: id 0 is reserved")
	}
	if float64(t.count+1)/float64(len(t.slots)) >= pendingLoadFactor {
		t.resize()
	}
	idx := t.find(req.id, true)
	if idx < 0 {
		return fmt.Errorf("pending table: no free slot for id %d", req.id)
	}
	if t.slots[idx].id == req.id && t.slots[idx].req != nil {
		panic(fmt.Sprintf("pending table: duplicate live id %d", req.id))
	}
	t.slots[idx] = pendingSlot{id: req.id, req: req}
	t.count++
	return nil
}

// lookup returns the live entry for id, or nil.
func (t *pendingTable) lookup(id uint64) *pendingRequest {
	idx := t.find(id, false)
	if idx < 0 {
		return nil
	}
	return t.slots[idx].req
}

// remove tombstones the entry: the ID stays for probe continuity, the
// request is dropped.
func (t *pendingTable) remove(id uint64) {
	idx := t.find(id, false)
	if idx < 0 {
		return
	}
	t.slots[idx].req = nil
	t.count--
}

// resize doubles capacity and rehashes live entries only; tombstones
// are not carried over.
func (t *pendingTable) resize() {
	old := t.slots
	t.slots = make([]pendingSlot, len(old)*2)
	t.count = 0
	for _, s := range old {
		if s.req != nil {
			mask := uint64(len(t.slots) - 1)
			idx := s.id & mask
			for t.slots[idx].id != 0 {
				idx = (idx + 1) & mask
			}
			t.slots[idx] = s
			t.count++
		}
	}
}

// forEach visits every live entry.
func (t *pendingTable) forEach(fn func(*pendingRequest)) {
	for i := range t.slots {
		if t.slots[i].req != nil {
			fn(t.slots[i].req)
		}
	}
}

// size reports the live entry count.
func (t *pendingTable) size() int { return t.count }
