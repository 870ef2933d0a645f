package relay

import (
	"context"
	"sync"

	"github.com/codesynq/collab.go/pkg/constants"
)

// Store persists rooms. Get returns constants.ErrRoomNotFound for unknown
// ids. Implementations must not retain or hand out the caller's *Room.
type Store interface {
	Get(ctx context.Context, id string) (*Room, error)
	Put(ctx context.Context, room *Room) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MemoryStore keeps rooms in a map, copying on every read and write.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, constants.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}
