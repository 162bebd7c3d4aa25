package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // collection -> key -> document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, collection, key string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(doc, out)
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string][]byte)
	}
	s.data[collection][key] = data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], key)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection, prefix string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data[collection]))
	for k := range s.data[collection] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var docs []Document
	for _, k := range keys {
		if limit > 0 && len(docs) >= limit {
			break
		}
		data := append([]byte{}, s.data[collection][k]...)
		docs = append(docs, Document{Key: k, Data: data})
	}
	return docs, nil
}

func (s *MemoryStore) Close() error { return nil }
