package lemonproxy

import (
	"strings"
	"time"

	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
)

// InMemory keeps the database in process memory only.
const InMemory = storage.Memory

type PersistenceStrategy = storage.PersistenceStrategy

const (
	Async = storage.Async
	Sync  = storage.Sync
)

const (
	defaultVersion     uint64 = 1
	defaultCacheShards        = 16
	minCacheBytes      uint64 = 8 << 20
	maxCacheBytes      uint64 = 256 << 20
)

var defaultPersistenceIntervals = 1 * time.Second

type Config struct {
	// Dir holds the database files, InMemory for a process local database.
	Dir            string
	DatabaseName   string
	CollectionName string
	// Version 0 means 1. Raising it drops and recreates the collection.
	Version uint64
	// Shape overrides shape detection when not ShapeUnknown.
	Shape Shape

	PersistenceStrategy       PersistenceStrategy
	AsyncPersistenceIntervals time.Duration

	DisableCache  bool
	CacheShards   int
	CacheMaxBytes uint64
}

// validate reports configuration errors and fills in defaults.
func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.DatabaseName) == "" {
		return errors.Wrap(ErrInvalidConfig, "database name is required")
	}

	if strings.TrimSpace(cfg.CollectionName) == "" {
		return errors.Wrap(ErrInvalidConfig, "collection name is required")
	}

	if cfg.Dir == "" {
		cfg.Dir = InMemory
	}

	if cfg.Dir != InMemory && !storage.DirExists(cfg.Dir) {
		return errors.Wrapf(ErrStorageUnavailable, "directory %s does not exist", cfg.Dir)
	}

	switch cfg.Shape {
	case ShapeUnknown, ShapeFlat, ShapeHierarchical:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown shape %d", cfg.Shape)
	}

	if cfg.Version == 0 {
		cfg.Version = defaultVersion
	}

	if cfg.PersistenceStrategy == "" {
		cfg.PersistenceStrategy = Sync
	} else if cfg.PersistenceStrategy != Sync && cfg.PersistenceStrategy != Async {
		return errors.Wrapf(ErrInvalidConfig, "unknown persistence strategy %s", cfg.PersistenceStrategy)
	}

	if cfg.PersistenceStrategy == Async && cfg.AsyncPersistenceIntervals == 0 {
		cfg.AsyncPersistenceIntervals = defaultPersistenceIntervals
	}

	if cfg.CacheShards == 0 {
		cfg.CacheShards = defaultCacheShards
	}

	if cfg.CacheMaxBytes == 0 {
		cfg.CacheMaxBytes = defaultCacheBytes(memory.TotalMemory())
	}

	return nil
}

// defaultCacheBytes is one percent of the system memory, clamped.
func defaultCacheBytes(total uint64) uint64 {
	b := total / 100
	if b < minCacheBytes {
		return minCacheBytes
	}
	if b > maxCacheBytes {
		return maxCacheBytes
	}
	return b
}

func (cfg *Config) storageOptions() storage.Options {
	return storage.Options{
		Dir:           cfg.Dir,
		Name:          cfg.DatabaseName,
		Version:       cfg.Version,
		Strategy:      cfg.PersistenceStrategy,
		FlushInterval: cfg.AsyncPersistenceIntervals,
	}
}
