package comm

import (
	"sync"
	"time"
)

// dedupEntry tracks one accepted (sender, sequence) pair. cached is nil
// while the request is still in flight and is populated with the exact
// bytes sent on the wire once the agent's reply has been transmitted.
type dedupEntry struct {
	insertedAt time.Time
	cached     []byte
}

// dedupTable is the per-sender, sequence-keyed cache described in
// spec.md §4.2. Capacity is enforced per sender; a periodic sweep evicts
// entries older than ttl regardless of capacity.
type dedupTable struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	senders  map[string]map[uint32]*dedupEntry
}

func newDedupTable(capacity int, ttl time.Duration) *dedupTable {
	return &dedupTable{
		capacity: capacity,
		ttl:      ttl,
		senders:  make(map[string]map[uint32]*dedupEntry),
	}
}

// lookupOrInsert is the single locked operation behind spec.md §4.2's
// "acquire dedup lock ... look up the sequence" step: it looks up
// (sender, seq) and, on a miss, evicts the oldest entry for this sender
// if at capacity and inserts a fresh one with no cached response, all
// under one critical section. This closes the miss-then-insert race
// that two copies of the same packet could otherwise both win,
// mirroring the original source's single dedup.lock() scope.
func (d *dedupTable) lookupOrInsert(sender string, seq uint32) (entry *dedupEntry, existed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	table, ok := d.senders[sender]
	if !ok {
		table = make(map[uint32]*dedupEntry)
		d.senders[sender] = table
	}

	if e, ok := table[seq]; ok {
		return e, true
	}

	if len(table) >= d.capacity {
		var oldestSeq uint32
		var oldestTime time.Time
		first := true
		for s, e := range table {
			if first || e.insertedAt.Before(oldestTime) {
				oldestSeq = s
				oldestTime = e.insertedAt
				first = false
			}
		}
		if !first {
			delete(table, oldestSeq)
		}
	}

	e := &dedupEntry{insertedAt: time.Now()}
	table[seq] = e
	return e, false
}

// storeCachedResponse records the final response bytes for a previously
// inserted entry. Called after the response has been sent on the wire.
func (d *dedupTable) storeCachedResponse(sender string, seq uint32, resp []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, ok := d.senders[sender]
	if !ok {
		return
	}
	e, ok := table[seq]
	if !ok {
		return
	}
	e.cached = resp
}

// sweep deletes entries older than ttl and drops senders left with no
// entries. Returns the number of entries evicted, for logging.
func (d *dedupTable) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for sender, table := range d.senders {
		for seq, e := range table {
			if now.Sub(e.insertedAt) >= d.ttl {
				delete(table, seq)
				evicted++
			}
		}
		if len(table) == 0 {
			delete(d.senders, sender)
		}
	}
	return evicted
}

// senderCount reports how many entries are tracked for a sender, used by
// tests verifying capacity eviction.
func (d *dedupTable) senderCount(sender string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.senders[sender])
}
