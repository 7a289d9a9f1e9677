package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore держит черновики в памяти процесса; после рестарта они теряются.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[int64]Draft
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStore создаёт хранилище; ttl <= 0 отключает устаревание.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		drafts: make(map[int64]Draft),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryStore) Begin(ctx context.Context, userID int64, productID uint) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := newDraft(userID, productID, m.now())
	m.drafts[userID] = *d
	return d, nil
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.liveLocked(userID)
	if !ok {
		return nil, ErrNoDraft
	}
	return &d, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID int64, fn func(d *Draft) error) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.liveLocked(userID)
	if !ok {
		return nil, ErrNoDraft
	}
	if err := fn(&d); err != nil {
		return nil, err
	}
	d.UpdatedAt = m.now()
	m.drafts[userID] = d
	return &d, nil
}

func (m *MemoryStore) Clear(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, userID)
	return nil
}

// Sweep удаляет устаревшие черновики и возвращает их количество.
func (m *MemoryStore) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for userID, d := range m.drafts {
		if m.expired(d) {
			delete(m.drafts, userID)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) liveLocked(userID int64) (Draft, bool) {
	d, ok := m.drafts[userID]
	if !ok {
		return Draft{}, false
	}
	if m.expired(d) {
		delete(m.drafts, userID)
		return Draft{}, false
	}
	return d, true
}

func (m *MemoryStore) expired(d Draft) bool {
	return m.ttl > 0 && m.now().Sub(d.UpdatedAt) > m.ttl
}
