package lemonproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childIDs(r M) []interface{} {
	children, _ := r[ChildrenField].([]M)
	ids := make([]interface{}, 0, len(children))
	for _, c := range children {
		ids = append(ids, c["id"])
	}
	return ids
}

func TestBuildTree(t *testing.T) {
	t.Run("nests records under their parents", func(t *testing.T) {
		records := []M{
			{"id": int64(4), "parentId": int64(2)},
			{"id": int64(1), "parentId": nil},
			{"id": int64(3), "parentId": int64(1)},
			{"id": int64(2), "parentId": int64(1)},
		}

		roots := buildTree(records, "id")
		require.Len(t, roots, 1)

		one := roots[0]
		assert.Equal(t, int64(1), one["id"])
		assert.ElementsMatch(t, []interface{}{int64(2), int64(3)}, childIDs(one))

		for _, c := range one[ChildrenField].([]M) {
			switch c["id"] {
			case int64(2):
				assert.Equal(t, []interface{}{int64(4)}, childIDs(c))
				assert.False(t, c.Bool(LoadedField))
			case int64(3):
				assert.Empty(t, childIDs(c))
				assert.True(t, c.Bool(LoadedField))
			}
		}

		assert.False(t, one.Bool(LoadedField))
	})

	t.Run("absent zero and empty parents are roots", func(t *testing.T) {
		records := []M{
			{"id": int64(1)},
			{"id": int64(2), "parentId": int64(0)},
			{"id": int64(3), "parentId": ""},
			{"id": int64(4), "parentId": int64(3)},
		}

		roots := buildTree(records, "id")

		ids := make([]interface{}, 0, len(roots))
		for _, r := range roots {
			ids = append(ids, r["id"])
		}
		assert.ElementsMatch(t, []interface{}{int64(1), int64(2), int64(3)}, ids)
	})

	t.Run("leaves are never marked loaded", func(t *testing.T) {
		records := []M{
			{"id": int64(1)},
			{"id": int64(2), "parentId": int64(1), "leaf": true},
		}

		roots := buildTree(records, "id")
		require.Len(t, roots, 1)

		leaf := roots[0][ChildrenField].([]M)[0]
		assert.False(t, leaf.Has(LoadedField))
	})

	t.Run("orphans are dropped", func(t *testing.T) {
		records := []M{
			{"id": int64(1)},
			{"id": int64(2), "parentId": int64(42)},
			{"id": int64(3), "parentId": int64(1)},
		}

		roots := buildTree(records, "id")
		require.Len(t, roots, 1)
		assert.Equal(t, []interface{}{int64(3)}, childIDs(roots[0]))
	})

	t.Run("string identities", func(t *testing.T) {
		records := []M{
			{"id": "b", "parentId": "a"},
			{"id": "a"},
		}

		roots := buildTree(records, "id")
		require.Len(t, roots, 1)
		assert.Equal(t, []interface{}{"b"}, childIDs(roots[0]))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, buildTree(nil, "id"))
	})
}

func TestMaterialize(t *testing.T) {
	model := TreeModel("id", Fields("title")...)
	records := []M{
		{"id": int64(1)},
		{"id": int64(2), "parentId": int64(1)},
		{"id": int64(3), "parentId": int64(2), "leaf": true},
	}

	roots := buildTree(records, "id")
	require.Len(t, roots, 1)

	root := model.NewRoot()
	top := materialize(model.NewRecord, roots[0], root)

	assert.Equal(t, 1, top.Depth())
	assert.Same(t, root, top.ParentNode())
	assert.False(t, top.Data().Has(ChildrenField))
	require.Len(t, top.ChildNodes(), 1)

	mid := top.ChildNodes()[0]
	assert.Equal(t, 2, mid.Depth())
	require.Len(t, mid.ChildNodes(), 1)

	leaf := mid.ChildNodes()[0]
	assert.Equal(t, 3, leaf.Depth())
	assert.True(t, leaf.IsLeaf())
	assert.True(t, leaf.IsNode())
	assert.False(t, leaf.IsModified(), "materialized records have no pending changes")
}

func TestParentKey(t *testing.T) {
	assert.True(t, isRoot(M{}))
	assert.True(t, isRoot(M{"parentId": nil}))
	assert.True(t, isRoot(M{"parentId": int64(0)}))
	assert.True(t, isRoot(M{"parentId": true}))
	assert.False(t, isRoot(M{"parentId": int64(5)}))
	assert.False(t, isRoot(M{"parentId": "x"}))
}
