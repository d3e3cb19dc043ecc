package quota

import (
	"context"
	"sync"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// UpdateFunc mutates a window in place. found is false when the user has no
// persisted window yet (w then only carries the user id). Returning an error
// discards the mutation.
type UpdateFunc func(w *domain.QuotaWindow, found bool) error

// Store persists quota windows. Update must run fn and persist its result
// atomically with respect to other Updates for the same user.
type Store interface {
	Get(ctx context.Context, userID string) (domain.QuotaWindow, bool, error)
	Update(ctx context.Context, userID string, fn UpdateFunc) (domain.QuotaWindow, error)
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// MemoryStore keeps windows in a map guarded by per-user locks. It suits
// tests and single-process deployments.
type MemoryStore struct {
	users   keyedMutex
	mu      sync.RWMutex
	windows map[string]domain.QuotaWindow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]domain.QuotaWindow)}
}

// Put stores w as-is, replacing any existing window for w.UserID.
func (s *MemoryStore) Put(w domain.QuotaWindow) {
	s.mu.Lock()
	s.windows[w.UserID] = w
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (domain.QuotaWindow, bool, error) {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	return w, ok, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, userID string, fn UpdateFunc) (domain.QuotaWindow, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaWindow{}, err
	}
	unlock := s.users.lock(userID)
	defer unlock()

	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if !ok {
		w = domain.QuotaWindow{UserID: userID}
	}
	if err := fn(&w, ok); err != nil {
		return domain.QuotaWindow{}, err
	}
	s.Put(w)
	return w, nil
}
