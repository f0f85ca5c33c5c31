package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Binding maps an address-of-record to one contact.
type Binding struct {
	Contact string    `json:"contact"`
	Expires time.Time `json:"expires"`
	CallID  string    `json:"call_id"`
	CSeq    uint32    `json:"cseq"`
}

// Expired reports whether the binding is no longer valid at now.
func (b Binding) Expired(now time.Time) bool {
	return !now.Before(b.Expires)
}

// BindingStore keeps registrations. Bindings returns only live bindings.
type BindingStore interface {
	Bindings(ctx context.Context, aor string) ([]Binding, error)
	Put(ctx context.Context, aor string, b Binding) error
	Remove(ctx context.Context, aor, contact string) error
	RemoveAll(ctx context.Context, aor string) error
}

// MemoryStore is a process local BindingStore.
type MemoryStore struct {
	mu       sync.Mutex
	bindings map[string]map[string]Binding
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bindings: make(map[string]map[string]Binding),
		now:      time.Now,
	}
}

func (s *MemoryStore) Bindings(_ context.Context, aor string) ([]Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	contacts := s.bindings[aor]
	for contact, b := range contacts {
		if b.Expired(now) {
			delete(contacts, contact)
		}
	}
	if len(contacts) == 0 {
		delete(s.bindings, aor)
		return nil, nil
	}
	return sortBindings(lo.Values(contacts)), nil
}

func (s *MemoryStore) Put(_ context.Context, aor string, b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, ok := s.bindings[aor]
	if !ok {
		contacts = make(map[string]Binding)
		s.bindings[aor] = contacts
	}
	contacts[b.Contact] = b
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, aor, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bindings[aor], contact)
	return nil
}

func (s *MemoryStore) RemoveAll(_ context.Context, aor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bindings, aor)
	return nil
}

// sortBindings orders by expiry, the longest lived first.
func sortBindings(bindings []Binding) []Binding {
	sort.Slice(bindings, func(i, j int) bool {
		if !bindings[i].Expires.Equal(bindings[j].Expires) {
			return bindings[i].Expires.After(bindings[j].Expires)
		}
		return bindings[i].Contact < bindings[j].Contact
	})
	return bindings
}
