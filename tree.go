package lemonproxy

import (
	"context"
	"sort"

	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var rootParent = storage.IntKey(0)

func (p *Proxy) readTree(ctx context.Context, op *Operation) error {
	items, err := p.store.getAll(ctx)
	if err != nil {
		return err
	}

	raws := make([]M, 0, len(items))
	for _, it := range items {
		data, err := storage.Decode(it.Value)
		if err != nil {
			return errors.Wrapf(err, "record %s", it.Key.String())
		}
		raws = append(raws, data)
	}

	roots := buildTree(raws, p.model.IDField)

	create := op.creator(p.model)
	root := p.model.NewRoot()
	records := make([]*Record, 0, len(roots))
	for _, raw := range roots {
		records = append(records, materialize(create, raw, root))
	}

	total, err := p.store.count(ctx)
	if err != nil {
		return err
	}

	op.resultSet = &ResultSet{Records: records, Count: len(records), Total: total, Success: true}
	op.setSuccessful()
	return nil
}

// parentKey is the parent link of a record, rootParent when it has none.
func parentKey(r M) storage.Key {
	v, ok := r[ParentIDField]
	if !ok || v == nil {
		return rootParent
	}

	k, err := storage.KeyOf(v)
	if err != nil || k.IsZero() {
		return rootParent
	}

	return k
}

func isRoot(r M) bool {
	return parentKey(r) == rootParent
}

// buildTree nests records under their parents' children field and returns the
// root level records. Sibling order is unspecified.
func buildTree(records []M, idField string) []M {
	lookup := make(map[storage.Key]M, len(records))
	roots := make([]M, 0)

	for _, r := range records {
		if k, err := storage.KeyOf(r[idField]); err == nil {
			lookup[k] = r
		}

		if isRoot(r) {
			roots = append(roots, r)
		}
	}

	// groups children of the same parent contiguously, roots first
	sort.Slice(records, func(i, j int) bool {
		return parentKey(records[i]).Less(parentKey(records[j]))
	})

	var (
		parent     M
		lastParent = rootParent
	)

	for _, r := range records {
		if isRoot(r) {
			continue
		}

		pk := parentKey(r)
		if parent == nil || !pk.Equal(lastParent) {
			lastParent = pk
			parent = lookup[pk]
			if parent == nil {
				glog.Warningf("lemonproxy: record %v references missing parent %s", r[idField], pk.String())
				continue
			}
			parent[ChildrenField] = make([]M, 0)
		}

		parent[ChildrenField] = append(parent[ChildrenField].([]M), r)
	}

	for _, r := range records {
		children, _ := r[ChildrenField].([]M)
		if len(children) == 0 && !r.Bool(LeafField) {
			r[LoadedField] = true
		}
	}

	return roots
}

// materialize wraps raw and its nested children into record nodes below parent.
func materialize(create func(data M) *Record, raw M, parent *Record) *Record {
	children, _ := raw[ChildrenField].([]M)
	delete(raw, ChildrenField)

	rec := create(raw)
	parent.linkChild(rec)

	for _, c := range children {
		materialize(create, c, rec)
	}

	return rec
}
