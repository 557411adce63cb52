package lemonproxy

import (
	"context"

	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/pkg/errors"
)

// database is the storage engine boundary the proxy consumes.
type database interface {
	Get(ctx context.Context, coll string, k storage.Key) ([]byte, error)
	GetAll(ctx context.Context, coll string) ([]storage.Item, error)
	GetAllKeys(ctx context.Context, coll string) ([]storage.Key, error)
	Count(ctx context.Context, coll string) (int, error)
	Put(ctx context.Context, coll string, v map[string]interface{}) (storage.Key, error)
	Delete(ctx context.Context, coll string, k storage.Key) error
	Clear(ctx context.Context, coll string) error
	Close() error
}

type opener func(ctx context.Context, opts storage.Options, upgrade storage.UpgradeFunc) (database, error)

func openStorage(ctx context.Context, opts storage.Options, upgrade storage.UpgradeFunc) (database, error) {
	db, err := storage.Open(ctx, opts, upgrade)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// store is a handle on one collection of one database.
type store struct {
	db         database
	collection string
}

// get returns the raw value stored under k, nil when there is none.
func (s *store) get(ctx context.Context, k storage.Key) ([]byte, error) {
	v, err := s.db.Get(ctx, s.collection, k)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return v, nil
}

func (s *store) getAll(ctx context.Context) ([]storage.Item, error) {
	return s.db.GetAll(ctx, s.collection)
}

func (s *store) getAllKeys(ctx context.Context) ([]storage.Key, error) {
	return s.db.GetAllKeys(ctx, s.collection)
}

func (s *store) count(ctx context.Context) (int, error) {
	return s.db.Count(ctx, s.collection)
}

func (s *store) put(ctx context.Context, v M) (storage.Key, error) {
	return s.db.Put(ctx, s.collection, v)
}

func (s *store) delete(ctx context.Context, k storage.Key) error {
	return s.db.Delete(ctx, s.collection, k)
}

func (s *store) clear(ctx context.Context) error {
	return s.db.Clear(ctx, s.collection)
}
