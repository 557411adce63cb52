package lemonproxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDB struct {
	*storage.DB
	gets    int32
	getAlls int32
}

func (d *countingDB) Get(ctx context.Context, coll string, k storage.Key) ([]byte, error) {
	atomic.AddInt32(&d.gets, 1)
	return d.DB.Get(ctx, coll, k)
}

func (d *countingDB) GetAll(ctx context.Context, coll string) ([]storage.Item, error) {
	atomic.AddInt32(&d.getAlls, 1)
	return d.DB.GetAll(ctx, coll)
}

type countingStorage struct {
	mu       sync.Mutex
	opens    int
	upgrades int
	release  chan struct{}
	db       *countingDB
}

func (cs *countingStorage) open(ctx context.Context, opts storage.Options, upgrade storage.UpgradeFunc) (database, error) {
	cs.mu.Lock()
	cs.opens++
	cs.mu.Unlock()

	if cs.release != nil {
		<-cs.release
	}

	db, err := storage.Open(ctx, opts, func(vc *storage.VersionChange) error {
		cs.mu.Lock()
		cs.upgrades++
		cs.mu.Unlock()
		return upgrade(vc)
	})
	if err != nil {
		return nil, err
	}

	cs.db = &countingDB{DB: db}
	return cs.db, nil
}

func (cs *countingStorage) counts() (int, int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.opens, cs.upgrades
}

func notesModel() *Model {
	return NewModel("id", Fields("title", "rank")...)
}

func newCountingProxy(t *testing.T, cfg Config, model *Model) (*Proxy, *countingStorage) {
	t.Helper()

	cs := &countingStorage{}
	p, closer, err := newProxy(cfg, model, cs.open)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = closer()
	})

	return p, cs
}

func memoryConfig() Config {
	return Config{Dir: InMemory, DatabaseName: "app", CollectionName: "notes"}
}

func TestGate_InitializesOnce(t *testing.T) {
	cs := &countingStorage{release: make(chan struct{})}
	p, closer, err := newProxy(Config{Dir: t.TempDir(), DatabaseName: "app", CollectionName: "notes"}, notesModel(), cs.open)
	require.NoError(t, err)
	defer closer()

	const callers = 32
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Ready(context.Background())
		}()
	}

	close(cs.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	opens, upgrades := cs.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, upgrades)
	assert.NotNil(t, p.store, "every caller must observe an open store")
}

func TestGate_CancelledWaiterDoesNotCancelInit(t *testing.T) {
	cs := &countingStorage{release: make(chan struct{})}
	p, closer, err := newProxy(memoryConfig(), notesModel(), cs.open)
	require.NoError(t, err)
	defer closer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Ready(ctx)
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(cs.release)
	require.NoError(t, p.Ready(context.Background()))

	opens, _ := cs.counts()
	assert.Equal(t, 1, opens)
}

func TestGate_SharesFailure(t *testing.T) {
	var opens int32
	failing := func(ctx context.Context, opts storage.Options, upgrade storage.UpgradeFunc) (database, error) {
		atomic.AddInt32(&opens, 1)
		return nil, errors.New("engine unavailable")
	}

	p, closer, err := newProxy(memoryConfig(), notesModel(), failing)
	require.NoError(t, err)
	defer closer()

	err1 := p.Ready(context.Background())
	err2 := p.Create(context.Background(), &Operation{Records: []*Record{notesModel().NewRecord(M{"title": "x"})}})

	require.Error(t, err1)
	assert.Contains(t, err1.Error(), "engine unavailable")
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
}

func TestGate_Close(t *testing.T) {
	p, closer, err := newProxy(memoryConfig(), notesModel(), openStorage)
	require.NoError(t, err)

	require.NoError(t, closer())
	assert.ErrorIs(t, closer(), ErrProxyClosed)
	assert.ErrorIs(t, p.Ready(context.Background()), ErrProxyClosed)
}

func TestProxy_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	model := TreeModel("id", Fields("title")...)
	p, _ := newCountingProxy(t, memoryConfig(), model)
	require.NoError(t, p.Ready(ctx))

	t.Run("flat record keeps persistable fields only", func(t *testing.T) {
		r := model.NewRecord(M{"title": "hello", "scratch": "not persisted", "parentId": int64(7)})
		require.NoError(t, p.setRecord(ctx, r))

		k, err := storage.KeyOf(r.ID())
		require.NoError(t, err)

		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, M{"id": r.ID(), "title": "hello", "parentId": int64(7)}, data)
		assert.False(t, r.IsModified(), "identity assignment is not a pending change")
	})

	t.Run("depth one node drops its parent link", func(t *testing.T) {
		root := model.NewRoot()
		child := model.NewRecord(M{"title": "top", "parentId": int64(99)})
		root.AppendChild(child)
		require.Equal(t, 1, child.Depth())

		require.NoError(t, p.setRecord(ctx, child))

		k, err := storage.KeyOf(child.ID())
		require.NoError(t, err)

		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.NotContains(t, data, ParentIDField)
		assert.Equal(t, "top", data["title"])
	})

	t.Run("deeper node keeps its parent link", func(t *testing.T) {
		root := model.NewRoot()
		top := model.NewRecord(M{"id": int64(500), "title": "top"})
		root.AppendChild(top)
		child := model.NewRecord(M{"title": "nested"})
		top.AppendChild(child)
		require.Equal(t, 2, child.Depth())

		require.NoError(t, p.setRecord(ctx, child))

		k, err := storage.KeyOf(child.ID())
		require.NoError(t, err)

		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(500), data[ParentIDField])
	})

	t.Run("absent identity", func(t *testing.T) {
		data, err := p.getRecord(ctx, storage.IntKey(12345))
		require.NoError(t, err)
		assert.Nil(t, data)
	})
}

func TestProxy_CacheCoherence(t *testing.T) {
	ctx := context.Background()
	model := notesModel()
	p, cs := newCountingProxy(t, memoryConfig(), model)

	r := model.NewRecord(M{"title": "cached"})
	require.NoError(t, p.Create(ctx, &Operation{Records: []*Record{r}}))

	k, err := storage.KeyOf(r.ID())
	require.NoError(t, err)

	t.Run("read after create does not touch the store", func(t *testing.T) {
		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, "cached", data["title"])
		assert.Equal(t, int32(0), atomic.LoadInt32(&cs.db.gets))
	})

	t.Run("returned payload is a copy", func(t *testing.T) {
		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		data["title"] = "mutated by caller"

		again, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, "cached", again["title"])
	})

	t.Run("read after update sees the update", func(t *testing.T) {
		r.Set("title", "updated")
		require.NoError(t, p.Update(ctx, &Operation{Records: []*Record{r}}))

		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, "updated", data["title"])
		assert.Equal(t, int32(0), atomic.LoadInt32(&cs.db.gets))
	})

	t.Run("read after erase misses", func(t *testing.T) {
		require.NoError(t, p.Erase(ctx, &Operation{Records: []*Record{r}}))

		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)
		assert.Nil(t, data)
		assert.Equal(t, int32(1), atomic.LoadInt32(&cs.db.gets), "miss falls through to the store")
	})

	t.Run("store read populates the cache", func(t *testing.T) {
		k, err := cs.db.Put(ctx, "notes", map[string]interface{}{"title": "behind the proxy"})
		require.NoError(t, err)

		before := atomic.LoadInt32(&cs.db.gets)
		_, err = p.getRecord(ctx, k)
		require.NoError(t, err)
		data, err := p.getRecord(ctx, k)
		require.NoError(t, err)

		assert.Equal(t, "behind the proxy", data["title"])
		assert.Equal(t, before+1, atomic.LoadInt32(&cs.db.gets))
	})

	t.Run("identities past 2^53 are served from the cache", func(t *testing.T) {
		big := int64(1<<53 + 1)
		r := model.NewRecord(M{"id": big, "title": "big"})
		require.NoError(t, p.Create(ctx, &Operation{Records: []*Record{r}}))
		require.Equal(t, big, r.ID())

		before := atomic.LoadInt32(&cs.db.gets)
		data, err := p.getRecord(ctx, storage.IntKey(big))
		require.NoError(t, err)
		require.NotNil(t, data)

		assert.Equal(t, big, data["id"])
		assert.Equal(t, before, atomic.LoadInt32(&cs.db.gets))
	})
}

func TestProxy_InitWarmsCacheAndDetectsShape(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Dir: dir, DatabaseName: "app", CollectionName: "tree"}
	model := TreeModel("id", Fields("title")...)

	seed, closeSeed, err := New(cfg, model)
	require.NoError(t, err)

	root := model.NewRoot()
	top := root.AppendChild(model.NewRecord(M{"title": "top"}))
	require.NoError(t, seed.Create(ctx, &Operation{Records: []*Record{top}}))
	child := top.AppendChild(model.NewRecord(M{"title": "child", "leaf": true}))
	require.NoError(t, seed.Create(ctx, &Operation{Records: []*Record{child}}))
	require.NoError(t, closeSeed())

	p, cs := newCountingProxy(t, cfg, model)
	require.NoError(t, p.Ready(ctx))

	assert.Equal(t, ShapeHierarchical, p.Shape())
	assert.Equal(t, 2, p.cache.len())

	k, err := storage.KeyOf(child.ID())
	require.NoError(t, err)
	data, err := p.getRecord(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "child", data["title"])
	assert.Equal(t, int32(0), atomic.LoadInt32(&cs.db.gets))
}

func TestProxy_ShapeInference(t *testing.T) {
	ctx := context.Background()

	t.Run("empty collection stays unknown until first create", func(t *testing.T) {
		model := TreeModel("id")
		p, _ := newCountingProxy(t, memoryConfig(), model)
		require.NoError(t, p.Ready(ctx))
		assert.Equal(t, ShapeUnknown, p.Shape())

		node := model.NewRoot().AppendChild(model.NewRecord(M{}))
		require.NoError(t, p.Create(ctx, &Operation{Records: []*Record{node}}))
		assert.Equal(t, ShapeHierarchical, p.Shape())

		require.NoError(t, p.Create(ctx, &Operation{Records: []*Record{model.NewRecord(M{})}}))
		assert.Equal(t, ShapeHierarchical, p.Shape(), "shape is never re-derived")
	})

	t.Run("plain records make it flat", func(t *testing.T) {
		model := notesModel()
		p, _ := newCountingProxy(t, memoryConfig(), model)
		require.NoError(t, p.Create(ctx, &Operation{Records: []*Record{model.NewRecord(M{"title": "a"})}}))
		assert.Equal(t, ShapeFlat, p.Shape())
	})

	t.Run("configured shape wins and skips the probe", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Shape = ShapeFlat
		p, cs := newCountingProxy(t, cfg, TreeModel("id"))
		require.NoError(t, p.Ready(ctx))
		assert.Equal(t, ShapeFlat, p.Shape())
		assert.Equal(t, int32(0), atomic.LoadInt32(&cs.db.getAlls))
	})
}

func TestShapeFlag(t *testing.T) {
	var f shapeFlag
	assert.Equal(t, ShapeUnknown, f.get())
	assert.Equal(t, ShapeUnknown, f.decide(ShapeUnknown))
	assert.Equal(t, ShapeFlat, f.decide(ShapeFlat))
	assert.Equal(t, ShapeFlat, f.decide(ShapeHierarchical))
	assert.Equal(t, "flat", f.get().String())
}

func TestRecordCache(t *testing.T) {
	cfg := memoryConfig()
	require.NoError(t, cfg.validate())

	t.Run("colliding hash does not leak another record", func(t *testing.T) {
		rc, err := newRecordCache(&cfg, "id")
		require.NoError(t, err)

		// store the payload of record 2 under the slot of record 1
		rc.c.Add(rc.hash(storage.IntKey(1)), []byte(`{"id":2,"title":"two"}`))

		_, ok := rc.get(storage.IntKey(1))
		assert.False(t, ok)
	})

	t.Run("neighbouring large identities are told apart", func(t *testing.T) {
		rc, err := newRecordCache(&cfg, "id")
		require.NoError(t, err)

		rc.c.Add(rc.hash(storage.IntKey(1<<53)), []byte(`{"id":9007199254740993,"title":"next"}`))

		_, ok := rc.get(storage.IntKey(1 << 53))
		assert.False(t, ok)

		require.NoError(t, rc.setData(storage.IntKey(1<<53+1), M{"id": int64(1<<53 + 1)}))
		data, ok := rc.get(storage.IntKey(1<<53 + 1))
		require.True(t, ok)
		assert.Equal(t, int64(1<<53+1), data["id"])
	})

	t.Run("string and integer keys do not share entries", func(t *testing.T) {
		rc, err := newRecordCache(&cfg, "id")
		require.NoError(t, err)

		require.NoError(t, rc.setData(storage.IntKey(1), M{"id": int64(1)}))
		_, ok := rc.get(storage.StringKey("1"))
		assert.False(t, ok)

		data, ok := rc.get(storage.IntKey(1))
		require.True(t, ok)
		assert.Equal(t, M{"id": int64(1)}, data)
	})

	t.Run("stats", func(t *testing.T) {
		rc, err := newRecordCache(&cfg, "id")
		require.NoError(t, err)

		require.NoError(t, rc.setData(storage.IntKey(1), M{"id": int64(1)}))
		rc.get(storage.IntKey(1))
		rc.get(storage.IntKey(2))

		st := rc.stats()
		assert.Equal(t, 1, st.Entries)
		assert.Equal(t, uint64(1), st.Hits)
		assert.Equal(t, uint64(1), st.Misses)
	})

	t.Run("disabled cache never hits", func(t *testing.T) {
		disabled := cfg
		disabled.DisableCache = true
		rc, err := newRecordCache(&disabled, "id")
		require.NoError(t, err)

		require.NoError(t, rc.setData(storage.IntKey(1), M{"id": int64(1)}))
		_, ok := rc.get(storage.IntKey(1))
		assert.False(t, ok)
	})

	t.Run("field names are escaped for gjson", func(t *testing.T) {
		assert.Equal(t, `doc\.id`, gjsonPath("doc.id"))

		rc, err := newRecordCache(&cfg, "doc.id")
		require.NoError(t, err)
		require.NoError(t, rc.setData(storage.StringKey("a"), M{"doc.id": "a"}))

		_, ok := rc.get(storage.StringKey("a"))
		assert.True(t, ok)
	})
}
