package intent

import (
	"sort"
	"sync"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

// MemStore is a process-local Store, the default backing for a single
// installation's intent queue. Intents live only in process memory and do
// not survive a restart; nothing is serialized through JSON.
type MemStore struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{intents: make(map[string]*Intent)}
}

func (s *MemStore) ListByGroupAndState(groupID ids.GroupID, state State) ([]*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Intent, 0)
	for _, i := range s.intents {
		if i.GroupID == groupID && i.State == state {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAtNS < out[b].CreatedAtNS })
	return out, nil
}

func (s *MemStore) Save(i *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[i.ID] = i
	return nil
}

func (s *MemStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, id)
	return nil
}
