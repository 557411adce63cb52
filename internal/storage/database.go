package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Memory opens a database that lives only as long as the handle.
const Memory = ":memory:"

type PersistenceStrategy string

const (
	Sync  PersistenceStrategy = "sync"
	Async PersistenceStrategy = "async"
)

var defaultFlushInterval = 1 * time.Second

type Options struct {
	Dir           string
	Name          string
	Version       uint64
	Strategy      PersistenceStrategy
	FlushInterval time.Duration
}

// UpgradeFunc is called when a database is opened with a version higher than
// the stored one. It is the only place collections can be created or dropped.
type UpgradeFunc func(vc *VersionChange) error

// engine is the state behind every handle opened on one file.
// Every operation is serialized behind one mutex.
type engine struct {
	mu          sync.Mutex
	opts        Options
	path        string
	version     uint64
	collections map[string]*collection
	dirty       bool
	closed      bool
	refs        int
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// DB is a handle on a named, versioned database holding named collections.
// Handles opened on the same file share one engine, the first one decides
// the persistence strategy.
type DB struct {
	*engine
	released int32
}

var registry = struct {
	sync.Mutex
	engines map[string]*engine
}{engines: make(map[string]*engine)}

func Open(ctx context.Context, opts Options, upgrade UpgradeFunc) (*DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.Wrap(ErrInvalidOptions, "database name is required")
	}

	if opts.Version == 0 {
		opts.Version = 1
	}

	if opts.Strategy == "" {
		opts.Strategy = Sync
	}

	if opts.Strategy == Async && opts.FlushInterval == 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	e := &engine{
		opts:        opts,
		collections: make(map[string]*collection),
		refs:        1,
	}

	if e.inMemory() {
		if err := e.migrate(opts.Version, upgrade); err != nil {
			return nil, err
		}

		return &DB{engine: e}, nil
	}

	if !DirExists(opts.Dir) {
		return nil, errors.Wrapf(ErrInvalidOptions, "directory %s does not exist", opts.Dir)
	}

	e.path = databasePath(opts.Dir, opts.Name)

	registry.Lock()
	defer registry.Unlock()

	if shared, ok := registry.engines[e.path]; ok {
		if err := shared.attach(opts.Version, upgrade); err != nil {
			return nil, err
		}

		glog.V(2).Infof("lemonproxy: sharing open database %s", e.path)
		return &DB{engine: shared}, nil
	}

	if FileExists(e.path) {
		if err := e.load(); err != nil {
			return nil, err
		}
	}

	if err := e.migrate(opts.Version, upgrade); err != nil {
		return nil, err
	}

	if opts.Strategy == Async {
		e.stopCh = make(chan struct{})
		e.doneCh = make(chan struct{})
		go e.asyncFlush(opts.FlushInterval)
	}

	registry.engines[e.path] = e

	return &DB{engine: e}, nil
}

func (e *engine) migrate(version uint64, upgrade UpgradeFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.migrateUnderLock(version, upgrade)
}

func (e *engine) attach(version uint64, upgrade UpgradeFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.migrateUnderLock(version, upgrade); err != nil {
		return err
	}

	e.refs++
	return nil
}

// migrateUnderLock runs upgrade when version is newer than the stored one.
// A failed upgrade leaves the set of collections as it was.
func (e *engine) migrateUnderLock(version uint64, upgrade UpgradeFunc) error {
	name := e.opts.Name

	if version < e.version {
		return errors.Wrapf(
			ErrVersionMismatch,
			"database %s: requested %d, stored %d",
			name, version, e.version,
		)
	}

	if version == e.version {
		return nil
	}

	glog.V(1).Infof("lemonproxy: upgrading database %s from version %d to %d", name, e.version, version)

	before := make(map[string]*collection, len(e.collections))
	for n, c := range e.collections {
		before[n] = c
	}

	vc := &VersionChange{db: e, OldVersion: e.version, NewVersion: version}
	if upgrade != nil {
		if err := upgrade(vc); err != nil {
			e.collections = before
			return errors.Wrapf(err, "upgrade of database %s to version %d failed", name, version)
		}
	}
	vc.done = true

	e.version = version
	if e.inMemory() {
		return nil
	}

	return e.persistUnderLock()
}

// release drops one reference, the last one stops the flusher and writes
// whatever is still pending.
func (e *engine) release() error {
	if !e.inMemory() {
		registry.Lock()
		defer registry.Unlock()
	}

	e.mu.Lock()
	e.refs--
	if e.refs > 0 {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if !e.inMemory() {
		delete(registry.engines, e.path)
	}

	if e.stopCh != nil {
		close(e.stopCh)
		<-e.doneCh
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dirty {
		return e.persistUnderLock()
	}

	return nil
}

func (e *engine) inMemory() bool {
	return e.opts.Dir == Memory || e.opts.Dir == ""
}

func (db *DB) Name() string {
	return db.opts.Name
}

func (db *DB) Version() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.version
}

func (db *DB) CollectionNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.collectionNamesUnderLock()
}

func (e *engine) collectionNamesUnderLock() []string {
	names := make([]string, 0, len(e.collections))
	for n := range e.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (db *DB) Get(ctx context.Context, coll string, k Key) ([]byte, error) {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v, ok := c.get(k)
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "collection %s, key %s", coll, k.String())
	}

	return v, nil
}

func (db *DB) GetAll(ctx context.Context, coll string) ([]Item, error) {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return nil, err
	}
	defer unlock()

	items := make([]Item, 0, c.len())
	c.ascend(func(it *item) bool {
		items = append(items, Item{Key: it.key, Value: it.value})
		return true
	})

	return items, nil
}

func (db *DB) GetAllKeys(ctx context.Context, coll string) ([]Key, error) {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return nil, err
	}
	defer unlock()

	keys := make([]Key, 0, c.len())
	c.ascend(func(it *item) bool {
		keys = append(keys, it.key)
		return true
	})

	return keys, nil
}

func (db *DB) Count(ctx context.Context, coll string) (int, error) {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return 0, err
	}
	defer unlock()

	return c.len(), nil
}

// Put upserts v by its key path and returns the key it is stored under.
func (db *DB) Put(ctx context.Context, coll string, v map[string]interface{}) (Key, error) {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return Key{}, err
	}
	defer unlock()

	k, err := c.put(v)
	if err != nil {
		return Key{}, err
	}

	if err := db.changedUnderLock(); err != nil {
		return Key{}, err
	}

	return k, nil
}

// Delete removes k. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, coll string, k Key) error {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return err
	}
	defer unlock()

	if !c.delete(k) {
		return nil
	}

	return db.changedUnderLock()
}

func (db *DB) Clear(ctx context.Context, coll string) error {
	c, unlock, err := db.acquire(ctx, coll)
	if err != nil {
		return err
	}
	defer unlock()

	c.clear()

	return db.changedUnderLock()
}

// Close releases the handle. The file is written and unlocked once every
// handle on it is closed.
func (db *DB) Close() error {
	if !atomic.CompareAndSwapInt32(&db.released, 0, 1) {
		return ErrDatabaseClosed
	}

	return db.engine.release()
}

func (db *DB) acquire(ctx context.Context, coll string) (*collection, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if atomic.LoadInt32(&db.released) == 1 {
		return nil, nil, ErrDatabaseClosed
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, nil, ErrDatabaseClosed
	}

	c, ok := db.collections[coll]
	if !ok {
		db.mu.Unlock()
		return nil, nil, errors.Wrapf(ErrCollectionNotFound, "database %s, collection %s", db.opts.Name, coll)
	}

	return c, db.mu.Unlock, nil
}

func (e *engine) changedUnderLock() error {
	if e.inMemory() {
		return nil
	}

	if e.opts.Strategy == Async {
		e.dirty = true
		return nil
	}

	return e.persistUnderLock()
}

func (e *engine) asyncFlush(d time.Duration) {
	defer close(e.doneCh)

	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.mu.Lock()
			if e.dirty {
				if err := e.persistUnderLock(); err != nil {
					glog.Errorf("lemonproxy: async flush of %s failed: %v", e.path, err)
				}
			}
			e.mu.Unlock()
		}
	}
}

func (e *engine) persistUnderLock() error {
	d := dm{
		Name:        e.opts.Name,
		Version:     e.version,
		Collections: make([]collectionDM, 0, len(e.collections)),
	}

	for _, name := range e.collectionNamesUnderLock() {
		c := e.collections[name]
		cd := collectionDM{
			Name:          c.name,
			KeyPath:       c.keyPath,
			AutoIncrement: c.autoIncrement,
			Seq:           c.seq,
			Records:       make([]recordDM, 0, c.len()),
		}

		c.ascend(func(it *item) bool {
			cd.Records = append(cd.Records, recordDM{K: it.key, V: json.RawMessage(it.value)})
			return true
		})

		d.Collections = append(d.Collections, cd)
	}

	if err := writeSnapshot(e.path, &d); err != nil {
		return err
	}

	e.dirty = false
	return nil
}

func (e *engine) load() error {
	d, err := readSnapshot(e.path)
	if err != nil {
		return err
	}

	e.version = d.Version
	for _, cd := range d.Collections {
		c := newCollection(cd.Name, CollectionOptions{KeyPath: cd.KeyPath, AutoIncrement: cd.AutoIncrement})
		c.seq = cd.Seq
		for _, r := range cd.Records {
			c.set(r.K, []byte(r.V))
		}
		e.collections[cd.Name] = c
	}

	return nil
}
