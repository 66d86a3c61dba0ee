package labels

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// MemoryStore keeps labels in process memory. Used for tests and storage.type=memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Label
	byTile map[tiles.TileAddress][]string
	locks  *addressLocks
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Label),
		byTile: make(map[tiles.TileAddress][]string),
		locks:  newAddressLocks(),
	}
}

func (s *MemoryStore) tileLabels(addr tiles.TileAddress) []Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTile[addr]
	out := make([]Label, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	sortLabels(out)
	return out
}

func (s *MemoryStore) Put(ctx context.Context, label Label) (Label, error) {
	if err := ctx.Err(); err != nil {
		return Label{}, err
	}
	label, err := prepare(label)
	if err != nil {
		return Label{}, err
	}

	unlock := s.locks.lock(label.Tile)
	defer unlock()

	existing, err := checkPut(label, s.tileLabels(label.Tile))
	if err != nil {
		return Label{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[label.ID]; dup {
		return Label{}, duplicateIDError(label.ID)
	}
	s.byID[label.ID] = label
	s.byTile[label.Tile] = append(s.byTile[label.Tile], label.ID)
	return label, nil
}

func (s *MemoryStore) Get(ctx context.Context, addr tiles.TileAddress) ([]Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tiles.ValidateAddress(addr); err != nil {
		return nil, err
	}
	return s.tileLabels(addr), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	label, ok := s.byID[id]
	if !ok {
		return notFoundError(id)
	}
	delete(s.byID, id)
	s.removeFromTileLocked(label.Tile, id)
	return nil
}

func (s *MemoryStore) removeFromTileLocked(addr tiles.TileAddress, id string) {
	ids := slices.DeleteFunc(s.byTile[addr], func(v string) bool { return v == id })
	if len(ids) == 0 {
		delete(s.byTile, addr)
		return
	}
	s.byTile[addr] = ids
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Label, 0, len(s.byID))
	for _, l := range s.byID {
		out = append(out, l)
	}
	sortLabels(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, update LabelUpdate) (Label, error) {
	if err := ctx.Err(); err != nil {
		return Label{}, err
	}
	s.mu.RLock()
	current, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Label{}, notFoundError(id)
	}

	// The tile of a label never changes, so locking it up front is stable.
	unlock := s.locks.lock(current.Tile)
	defer unlock()

	s.mu.RLock()
	current, ok = s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Label{}, notFoundError(id)
	}

	next, err := applyUpdate(current, update, s.tileLabels(current.Tile))
	if err != nil {
		return Label{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = next
	return next, nil
}

func (s *MemoryStore) DeleteTile(ctx context.Context, addr tiles.TileAddress) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := tiles.ValidateAddress(addr); err != nil {
		return 0, err
	}
	unlock := s.locks.lock(addr)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byTile[addr]
	for _, id := range ids {
		delete(s.byID, id)
	}
	delete(s.byTile, addr)
	return len(ids), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// sortLabels orders by tile, creation time, then id
func sortLabels(ls []Label) {
	slices.SortFunc(ls, func(a, b Label) int {
		if c := tiles.Compare(a.Tile, b.Tile); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
