package lemonproxy

import (
	"context"
	"sync/atomic"

	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	leafPath     = gjsonPath(LeafField)
	parentIDPath = gjsonPath(ParentIDField)
)

// Proxy persists records of one model in one collection of a local database.
type Proxy struct {
	cfg   Config
	model *Model
	open  opener
	gate  *gate
	shape shapeFlag
	cache *recordCache

	db     database
	store  *store
	closed int32
}

type Closer func() error

func NullCloser() error { return nil }

// New validates cfg and returns a proxy. The database is opened lazily by the
// first operation.
func New(cfg Config, model *Model) (*Proxy, Closer, error) {
	return newProxy(cfg, model, openStorage)
}

func newProxy(cfg Config, model *Model, open opener) (*Proxy, Closer, error) {
	if model == nil {
		return nil, NullCloser, errors.Wrap(ErrInvalidConfig, "model is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, NullCloser, err
	}

	cache, err := newRecordCache(&cfg, model.IDField)
	if err != nil {
		return nil, NullCloser, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	p := &Proxy{
		cfg:   cfg,
		model: model,
		open:  open,
		gate:  newGate(),
		cache: cache,
	}
	p.shape.decide(cfg.Shape)

	return p, p.close, nil
}

func (p *Proxy) Model() *Model {
	return p.model
}

func (p *Proxy) Shape() Shape {
	return p.shape.get()
}

// Ready blocks until the database is open and the shape probe has completed.
func (p *Proxy) Ready(ctx context.Context) error {
	return p.ensureReady(ctx)
}

func (p *Proxy) ensureReady(ctx context.Context) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrProxyClosed
	}

	return p.gate.wait(ctx, func() error {
		return p.initialize(context.Background())
	})
}

func (p *Proxy) initialize(ctx context.Context) error {
	name := p.cfg.CollectionName
	idField := p.model.IDField

	db, err := p.open(ctx, p.cfg.storageOptions(), func(vc *storage.VersionChange) error {
		if vc.HasCollection(name) {
			glog.V(1).Infof("lemonproxy: dropping collection %s of %s for version %d", name, p.cfg.DatabaseName, vc.NewVersion)
			if err := vc.DeleteCollection(name); err != nil {
				return err
			}
		}

		return vc.CreateCollection(name, storage.CollectionOptions{KeyPath: idField, AutoIncrement: true})
	})
	if err != nil {
		return errors.Wrapf(err, "could not open database %s", p.cfg.DatabaseName)
	}

	s := &store{db: db, collection: name}
	if _, err := s.count(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "could not open collection %s", name)
	}

	p.db = db
	p.store = s

	if p.shape.get() != ShapeUnknown {
		return nil
	}

	items, err := s.getAll(ctx)
	if err != nil {
		return errors.Wrapf(err, "could not scan collection %s", name)
	}

	hierarchical := false
	for _, it := range items {
		if !hierarchical && (gjson.GetBytes(it.Value, leafPath).Exists() || gjson.GetBytes(it.Value, parentIDPath).Exists()) {
			hierarchical = true
		}

		p.cache.set(it.Key, it.Value)
	}

	if len(items) > 0 {
		shape := ShapeFlat
		if hierarchical {
			shape = ShapeHierarchical
		}

		glog.V(1).Infof("lemonproxy: collection %s detected as %s", name, p.shape.decide(shape))
	}

	glog.V(2).Infof("lemonproxy: warmed cache with %d records of %s", len(items), name)

	return nil
}

// Create persists op.Records as new records.
func (p *Proxy) Create(ctx context.Context, op *Operation) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	if len(op.Records) > 0 && p.shape.get() == ShapeUnknown {
		shape := ShapeFlat
		if op.Records[0].IsNode() {
			shape = ShapeHierarchical
		}
		p.shape.decide(shape)
	}

	for i, r := range op.Records {
		r.SetPhantom(false)

		if err := p.setRecord(ctx, r); err != nil {
			op.setException(err)
			return errors.Wrapf(err, "create failed on record %d", i)
		}

		r.Commit()
	}

	op.setSuccessful()
	return nil
}

// Read loads records into op's result set. A missing single record is
// reported through op, not as an error.
func (p *Proxy) Read(ctx context.Context, op *Operation) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	if p.shape.get() == ShapeHierarchical {
		return p.readTree(ctx, op)
	}

	if op.ID != nil {
		return p.readOne(ctx, op)
	}

	return p.readAll(ctx, op)
}

func (p *Proxy) readOne(ctx context.Context, op *Operation) error {
	k, err := storage.KeyOf(op.ID)
	if err != nil {
		op.resultSet = &ResultSet{}
		op.setException(ErrUnableToLoadRecords)
		return nil
	}

	data, err := p.getRecord(ctx, k)
	if err != nil {
		return err
	}

	if data == nil {
		op.resultSet = &ResultSet{}
		op.setException(ErrUnableToLoadRecords)
		return nil
	}

	total, err := p.store.count(ctx)
	if err != nil {
		return err
	}

	rec := op.creator(p.model)(data)
	op.resultSet = &ResultSet{Records: []*Record{rec}, Count: 1, Total: total, Success: true}
	op.setSuccessful()
	return nil
}

func (p *Proxy) readAll(ctx context.Context, op *Operation) error {
	items, err := p.store.getAll(ctx)
	if err != nil {
		return err
	}

	create := op.creator(p.model)
	records := make([]*Record, 0, len(items))
	for _, it := range items {
		data, err := storage.Decode(it.Value)
		if err != nil {
			return errors.Wrapf(err, "record %s", it.Key.String())
		}
		records = append(records, create(data))
	}

	sortRecords(records, op.Sorters)
	result := page(records, op.Filters, op.Start, op.Limit)

	total, err := p.store.count(ctx)
	if err != nil {
		return err
	}

	op.resultSet = &ResultSet{Records: result, Count: len(result), Total: total, Success: true}
	op.setSuccessful()
	return nil
}

// Update persists changes of op.Records.
func (p *Proxy) Update(ctx context.Context, op *Operation) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	for i, r := range op.Records {
		if err := p.setRecord(ctx, r); err != nil {
			op.setException(err)
			return errors.Wrapf(err, "update failed on record %d", i)
		}

		r.Commit()
	}

	op.setSuccessful()
	return nil
}

// Erase removes op.Records together with all their descendants.
func (p *Proxy) Erase(ctx context.Context, op *Operation) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	removed := make(map[string]*Record)
	op.removed = removed

	for i, r := range op.Records {
		if err := p.removeRecord(ctx, r, removed); err != nil {
			op.setException(err)
			return errors.Wrapf(err, "erase failed on record %d", i)
		}
	}

	op.setSuccessful()
	return nil
}

// Clear empties the collection and the cache.
func (p *Proxy) Clear(ctx context.Context) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	if err := p.store.clear(ctx); err != nil {
		return err
	}

	p.cache.purge()
	return nil
}

// Get returns a copy of the payload stored under id, nil when there is none.
func (p *Proxy) Get(ctx context.Context, id interface{}) (M, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	k, err := storage.KeyOf(id)
	if err != nil {
		return nil, err
	}

	return p.getRecord(ctx, k)
}

// IDs returns every identity in the collection.
func (p *Proxy) IDs(ctx context.Context) ([]interface{}, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	return p.getIds(ctx)
}

func (p *Proxy) Count(ctx context.Context) (int, error) {
	if err := p.ensureReady(ctx); err != nil {
		return 0, err
	}

	return p.store.count(ctx)
}

// setRecord writes the persistable fields of r and refreshes the cache.
// Direct children of the implicit root never store a parent link, deeper
// nodes take it from their parent node when it has an identity by now.
func (p *Proxy) setRecord(ctx context.Context, r *Record) error {
	if r.IsNode() && r.Depth() > 1 && r.Get(ParentIDField) == nil {
		if id := r.ParentNode().ID(); id != nil {
			r.setClean(ParentIDField, id)
		}
	}

	data := p.model.project(r.Data())
	if r.IsNode() && r.Depth() == 1 {
		delete(data, ParentIDField)
	}

	k, err := p.store.put(ctx, data)
	if err != nil {
		return err
	}

	id := k.Value()
	r.setClean(p.model.IDField, id)
	data[p.model.IDField] = id

	return p.cache.setData(k, data)
}

// getRecord returns a copy of the payload under k, from the cache when possible.
func (p *Proxy) getRecord(ctx context.Context, k storage.Key) (M, error) {
	if data, ok := p.cache.get(k); ok {
		return data, nil
	}

	raw, err := p.store.get(ctx, k)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, nil
	}

	p.cache.set(k, raw)

	data, err := storage.Decode(raw)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (p *Proxy) getIds(ctx context.Context) ([]interface{}, error) {
	keys, err := p.store.getAllKeys(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]interface{}, len(keys))
	for i, k := range keys {
		ids[i] = k.Value()
	}

	return ids, nil
}

// removeRecord deletes r and then its descendants depth first, collecting
// everything it removed.
func (p *Proxy) removeRecord(ctx context.Context, r *Record, removed map[string]*Record) error {
	stack := []*Record{r}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id := cur.ID(); id != nil {
			k, err := storage.KeyOf(id)
			if err != nil {
				return err
			}

			if err := p.store.delete(ctx, k); err != nil {
				return err
			}

			p.cache.remove(k)
			removed[k.String()] = cur
		}

		children := cur.ChildNodes()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return nil
}

func (p *Proxy) close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return ErrProxyClosed
	}

	// an initialization in flight is allowed to finish so its handle can be released
	_ = p.gate.seal(ErrProxyClosed)

	st := p.cache.stats()
	glog.V(1).Infof("lemonproxy: closing %s/%s, cache hits %d misses %d evictions %d",
		p.cfg.DatabaseName, p.cfg.CollectionName, st.Hits, st.Misses, st.Evictions)

	p.cache.purge()

	if p.db != nil {
		return p.db.Close()
	}

	return nil
}
