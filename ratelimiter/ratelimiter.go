// Package ratelimiter implements a per-source-address token bucket. It
// complements the per-peer initiation gate: the gate bounds work per
// peer identity, this bounds work per remote address before a message is
// attributed to any peer.
package ratelimiter

import (
	"net/netip"
	"sync"
	"time"
)

const (
	packetsPerSecond = 20
	packetCost       = 1_000_000_000 / packetsPerSecond // ns of budget per packet
	packetsBurst     = 5
	maxTokens        = packetCost * packetsBurst

	// entries idle longer than this are garbage collected
	garbageCollectTime = time.Second
)

type Entry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Ratelimiter tracks one token bucket per remote address. The zero
// value must be initialized with Init before use; Close stops the
// garbage collection routine.
type Ratelimiter struct {
	mu          sync.RWMutex
	timeNow     func() time.Time
	stopOrReset chan struct{} // send to restart the GC ticker, close to stop
	table       map[netip.Addr]*Entry
}

func (r *Ratelimiter) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timeNow == nil {
		r.timeNow = time.Now
	}
	if r.stopOrReset != nil {
		close(r.stopOrReset)
	}
	r.stopOrReset = make(chan struct{})
	r.table = make(map[netip.Addr]*Entry)

	stopOrReset := r.stopOrReset // keep valid across a re-Init
	go func() {
		ticker := time.NewTicker(time.Second)
		ticker.Stop()
		for {
			select {
			case _, ok := <-stopOrReset:
				ticker.Stop()
				if !ok {
					return
				}
				ticker = time.NewTicker(time.Second)
			case <-ticker.C:
				if r.cleanup() {
					ticker.Stop()
				}
			}
		}
	}()
}

func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopOrReset != nil {
		close(r.stopOrReset)
		r.stopOrReset = nil
	}
}

// cleanup drops idle entries and reports whether the table emptied.
func (r *Ratelimiter) cleanup() (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.table {
		entry.mu.Lock()
		if r.timeNow().Sub(entry.lastTime) > garbageCollectTime {
			delete(r.table, key)
		}
		entry.mu.Unlock()
	}
	return len(r.table) == 0
}

// Allow reports whether a packet from ip is within budget and charges
// for it if so.
func (r *Ratelimiter) Allow(ip netip.Addr) bool {
	var entry *Entry
	r.mu.RLock()
	entry = r.table[ip]
	r.mu.RUnlock()

	if entry == nil {
		r.mu.Lock()
		// the entry may have appeared, or the GC may have run, between
		// the read lock and here
		entry = r.table[ip]
		if entry == nil {
			entry = &Entry{
				tokens:   maxTokens - packetCost,
				lastTime: r.timeNow(),
			}
			r.table[ip] = entry
			if len(r.table) == 1 {
				r.stopOrReset <- struct{}{}
			}
			r.mu.Unlock()
			return true
		}
		r.mu.Unlock()
	}

	// credit elapsed time, then charge for the packet
	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := r.timeNow()
	entry.tokens += now.Sub(entry.lastTime).Nanoseconds()
	entry.lastTime = now
	if entry.tokens > maxTokens {
		entry.tokens = maxTokens
	}
	if entry.tokens > packetCost {
		entry.tokens -= packetCost
		return true
	}
	return false
}
