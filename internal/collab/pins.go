package collab

import "sync"

// pinSet records the clocks live readers still need. Compaction never
// deletes an update a pinned reader has not read yet.
type pinSet struct {
	mu   sync.Mutex
	next uint64
	pins map[string]map[uint64]int64
}

func (p *pinSet) add(roomID string, clock int64) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pins == nil {
		p.pins = make(map[string]map[uint64]int64)
	}
	if p.pins[roomID] == nil {
		p.pins[roomID] = make(map[uint64]int64)
	}
	p.next++
	token := p.next
	p.pins[roomID][token] = clock

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.pins[roomID], token)
			if len(p.pins[roomID]) == 0 {
				delete(p.pins, roomID)
			}
		})
	}
}

// oldest returns the lowest pinned clock of a room.
func (p *pinSet) oldest(roomID string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		low   int64
		found bool
	)
	for _, c := range p.pins[roomID] {
		if !found || c < low {
			low, found = c, true
		}
	}
	return low, found
}
