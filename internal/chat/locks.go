package chat

import "sync"

// roomLocks hands out one mutex per room id. Admission (evict, count, insert)
// must be serialized per room or two concurrent joins can both pass the
// capacity check; see Service.Join. Entries are dropped when their room goes
// away so the map tracks live rooms only.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*sync.Mutex)}
}

func (r *roomLocks) get(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomID] = l
	}
	return l
}

func (r *roomLocks) drop(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, roomID)
}
