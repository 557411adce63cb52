package storage

import (
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

const castPanic = "how could collection item not be of type *item"

type CollectionOptions struct {
	KeyPath       string
	AutoIncrement bool
}

// Item is a stored value together with its key.
// Value must be treated as read only.
type Item struct {
	Key   Key
	Value []byte
}

type item struct {
	key   Key
	value []byte
}

func byKeys(a, b interface{}) bool {
	i1, i2 := a.(*item), b.(*item)
	return i1.key.Less(i2.key)
}

type collection struct {
	name          string
	keyPath       string
	autoIncrement bool
	seq           int64
	items         *btree.BTree
}

func newCollection(name string, opts CollectionOptions) *collection {
	return &collection{
		name:          name,
		keyPath:       opts.KeyPath,
		autoIncrement: opts.AutoIncrement,
		items:         btree.NewNonConcurrent(byKeys),
	}
}

func (c *collection) get(k Key) ([]byte, bool) {
	found := c.items.Get(&item{key: k})
	if found == nil {
		return nil, false
	}

	it, ok := found.(*item)
	if !ok {
		panic(castPanic)
	}

	return it.value, true
}

// put upserts v and returns the key it was stored under. A missing key is
// generated from the collection sequence.
func (c *collection) put(v map[string]interface{}) (Key, error) {
	value := make(map[string]interface{}, len(v)+1)
	for name, fv := range v {
		value[name] = fv
	}

	var k Key
	raw, ok := value[c.keyPath]
	if !ok || raw == nil {
		if !c.autoIncrement {
			return Key{}, errors.Wrapf(ErrMissingKey, "collection %s, key path %s", c.name, c.keyPath)
		}

		c.seq++
		k = IntKey(c.seq)
	} else {
		parsed, err := KeyOf(raw)
		if err != nil {
			return Key{}, errors.Wrapf(err, "collection %s, key path %s", c.name, c.keyPath)
		}

		k = parsed
		if c.autoIncrement && k.IsInt() && k.Int() > c.seq {
			c.seq = k.Int()
		}
	}

	value[c.keyPath] = k.Value()

	b, err := Encode(value)
	if err != nil {
		return Key{}, err
	}

	c.items.Set(&item{key: k, value: b})

	return k, nil
}

func (c *collection) set(k Key, b []byte) {
	c.items.Set(&item{key: k, value: b})
}

func (c *collection) delete(k Key) bool {
	return c.items.Delete(&item{key: k}) != nil
}

func (c *collection) clear() {
	c.items = btree.NewNonConcurrent(byKeys)
}

func (c *collection) len() int {
	return c.items.Len()
}

func (c *collection) ascend(fn func(it *item) bool) {
	c.items.Ascend(nil, func(i interface{}) bool {
		it, ok := i.(*item)
		if !ok {
			panic(castPanic)
		}

		return fn(it)
	})
}
