package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// IndexTable is the session-identifier registry: it hands out the random
// 32-bit sender identifiers embedded in handshake messages and maps them
// back to peers. Release satisfies handshake.SessionRegistry and is safe
// to call for identifiers the table no longer tracks.
type IndexTable struct {
	mu    sync.RWMutex
	table map[uint32]*Peer
}

func (t *IndexTable) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table = make(map[uint32]*Peer)
}

func (t *IndexTable) Lookup(id uint32) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table[id]
}

func (t *IndexTable) Release(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.table, id)
}

// NewIndex allocates an unused identifier for peer. Collisions are
// resolved by redrawing; the identifier space is large enough that this
// terminates almost immediately.
func (t *IndexTable) NewIndex(peer *Peer) (uint32, error) {
	for {
		index, err := randUint32()
		if err != nil {
			return index, err
		}
		// cheap read-locked probe first, then recheck under the write
		// lock in case another goroutine drew the same value
		t.mu.RLock()
		_, ok := t.table[index]
		t.mu.RUnlock()
		if ok {
			continue
		}
		t.mu.Lock()
		_, ok = t.table[index]
		if ok {
			t.mu.Unlock()
			continue
		}
		t.table[index] = peer
		t.mu.Unlock()
		return index, nil
	}
}

func randUint32() (uint32, error) {
	var buf [4]byte
	_, err := rand.Read(buf[:])
	return binary.LittleEndian.Uint32(buf[:]), err
}
