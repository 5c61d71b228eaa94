package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
)

// MemoryStore keeps plugin records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]plugin.Record
	nextID  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]plugin.Record)}
}

func (s *MemoryStore) Find(_ context.Context, name string) (*plugin.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.Name == name {
			return copyRecord(r), nil
		}
	}
	return nil, plugin.ErrRecordNotFound
}

func (s *MemoryStore) FindAllActive(ctx context.Context) ([]*plugin.Record, error) {
	return s.filter(func(r plugin.Record) bool { return r.Active }), nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]*plugin.Record, error) {
	return s.filter(func(plugin.Record) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(plugin.Record) bool) []*plugin.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plugin.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Save(_ context.Context, r *plugin.Record) error {
	if err := checkRecord(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(r)
}

func (s *MemoryStore) saveLocked(r *plugin.Record) error {
	for id, existing := range s.records {
		if existing.Name == r.Name && id != r.ID {
			return apperrors.NewConflict("plugin", r.Name).WithCode(apperrors.CodeAlreadyInstalled)
		}
	}
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	s.records[r.ID] = *copyRecord(*r)
	return nil
}

func (s *MemoryStore) MarkLoadError(_ context.Context, r *plugin.Record, detail plugin.LoadErrorDetail) error {
	if err := checkRecord(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		for id, existing := range s.records {
			if existing.Name == r.Name {
				r.ID = id
				break
			}
		}
	}
	markFaulted(r, detail)
	return s.saveLocked(r)
}

// MemoryStorage is a settings backend kept in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]map[string]any)}
}

func (s *MemoryStorage) Get(_ context.Context, pluginName, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[pluginName][key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(_ context.Context, pluginName, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[pluginName] == nil {
		s.values[pluginName] = make(map[string]any)
	}
	s.values[pluginName][key] = value
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, pluginName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[pluginName], key)
	return nil
}

var (
	_ plugin.Store   = (*MemoryStore)(nil)
	_ plugin.Storage = (*MemoryStorage)(nil)
)
