package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/tinyland-inc/ledbot/pkg/logger"
)

// PebbleStore persists documents in a local Pebble database. Keys are
// namespaced as "<collection>/<key>" so collections share one keyspace
// without colliding.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db at %s: %w", path, err)
	}
	logger.InfoCF("store", "Pebble opened", map[string]any{"path": path})
	return &PebbleStore{db: db}, nil
}

func storeKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

func (s *PebbleStore) Get(_ context.Context, collection, key string, out any) error {
	data, closer, err := s.db.Get(storeKey(collection, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s/%s: %w", collection, key, err)
	}
	defer closer.Close()
	return json.Unmarshal(data, out)
}

func (s *PebbleStore) Set(_ context.Context, collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s/%s: %w", collection, key, err)
	}
	if err := s.db.Set(storeKey(collection, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PebbleStore) Delete(_ context.Context, collection, key string) error {
	if err := s.db.Delete(storeKey(collection, key), pebble.Sync); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PebbleStore) Query(_ context.Context, collection, prefix string, limit int) ([]Document, error) {
	lower := storeKey(collection, prefix)
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", collection, prefix, err)
	}
	defer iter.Close()

	ns := len(collection) + 1
	var docs []Document
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(docs) >= limit {
			break
		}
		data := append([]byte{}, iter.Value()...)
		docs = append(docs, Document{
			Key:  string(iter.Key())[ns:],
			Data: data,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating %s/%s: %w", collection, prefix, err)
	}
	return docs, nil
}

func (s *PebbleStore) Close() error {
	logger.InfoC("store", "Pebble closed")
	return s.db.Close()
}
