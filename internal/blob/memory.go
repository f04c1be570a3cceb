package blob

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process memory. Suitable for single node
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*Object),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, meta Metadata) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, unavailable(err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	info := newInfo(buf, meta, s.now())

	s.mu.Lock()
	s.objects[info.UUID] = &Object{Info: info, Data: buf}
	s.mu.Unlock()

	return info, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Object, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if obj.Expired(s.now()) {
		s.Delete(ctx, id)
		return nil, ErrNotFound
	}

	return obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if !ValidID(id) {
		return ErrNotFound
	}

	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, obj := range s.objects {
		if obj.Expired(now) {
			delete(s.objects, id)
			n++
		}
	}

	return n, nil
}

// Len returns the number of stored objects, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
