package subscriber

import "sync"

const defaultEchoCapacity = 4096

// EchoFilter remembers the operation ids issued by this session so their
// deltas can be recognised when the server echoes them back. The oldest ids
// are forgotten once capacity is reached.
type EchoFilter struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	cap   int
}

func NewEchoFilter(capacity int) *EchoFilter {
	if capacity <= 0 {
		capacity = defaultEchoCapacity
	}
	return &EchoFilter{ids: map[string]struct{}{}, cap: capacity}
}

func (f *EchoFilter) Add(opID string) {
	if opID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[opID]; ok {
		return
	}
	if len(f.order) == f.cap {
		delete(f.ids, f.order[0])
		f.order = f.order[1:]
	}
	f.ids[opID] = struct{}{}
	f.order = append(f.order, opID)
}

func (f *EchoFilter) Seen(opID string) bool {
	if opID == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[opID]
	return ok
}
