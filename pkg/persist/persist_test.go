package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testModel(title string) SavedModel {
	return SavedModel{
		Title:       title,
		Description: "a model",
		Steps: []stepgraph.StepNode{{
			ID: "s1", Title: "Step 1", Color: "#fff", Size: 1,
			Children: []stepgraph.StepNode{{ID: "s1a", Title: "Substep 1", Color: "#000", Size: 1, Position: stepgraph.Vec3{Y: -2}}},
		}},
		Connections: []stepgraph.Connection{},
	}
}

func seq() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

// backends runs fn against every KV implementation.
func backends(t *testing.T, fn func(t *testing.T, kv KV)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		kv, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "models.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = kv.Close() })
		fn(t, kv)
	})
}

func TestCollectionSaveLoadList(t *testing.T) {
	backends(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCollection(kv, WithClock(func() time.Time { return fixedTime }), WithModelIDs(seq()))

		list, err := c.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		id1, err := c.Save(ctx, testModel("first"))
		require.NoError(t, err)
		id2, err := c.Save(ctx, testModel("second"))
		require.NoError(t, err)
		assert.Equal(t, "m1", id1)
		assert.Equal(t, "m2", id2)

		got, err := c.Load(ctx, id2)
		require.NoError(t, err)
		assert.Equal(t, "second", got.Title)
		assert.Equal(t, fixedTime, got.SavedAt)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, stepgraph.NodeID("s1a"), got.Steps[0].Children[0].ID)
		assert.Equal(t, stepgraph.Vec3{Y: -2}, got.Steps[0].Children[0].Position)

		list, err = c.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, []string{"m1", "m2"}, []string{list[0].ID, list[1].ID})
	})
}

func TestCollectionDelete(t *testing.T) {
	backends(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		c := NewCollection(kv, WithModelIDs(seq()))
		id1, _ := c.Save(ctx, testModel("a"))
		id2, _ := c.Save(ctx, testModel("b"))

		require.NoError(t, c.Delete(ctx, id1))
		require.NoError(t, c.Delete(ctx, "missing"))

		_, err := c.Load(ctx, id1)
		assert.ErrorIs(t, err, ErrNotFound)
		list, _ := c.List(ctx)
		require.Len(t, list, 1)
		assert.Equal(t, id2, list[0].ID)
	})
}

func TestCollectionCorruptBlobIsEmpty(t *testing.T) {
	backends(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		require.NoError(t, kv.Put(ctx, CollectionKey, []byte("{not json")))
		c := NewCollection(kv, WithModelIDs(seq()))

		list, err := c.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = c.Load(ctx, "m1")
		assert.ErrorIs(t, err, ErrNotFound)

		id, err := c.Save(ctx, testModel("fresh"))
		require.NoError(t, err)
		list, _ = c.List(ctx)
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].ID)
	})
}

func TestCollectionIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	repeat := []string{"dup", "dup", "other"}
	i := 0
	c := NewCollection(NewMemory(), WithModelIDs(func() string {
		id := repeat[i%len(repeat)]
		i++
		return id
	}))
	a, err := c.Save(ctx, testModel("a"))
	require.NoError(t, err)
	b, err := c.Save(ctx, testModel("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models.db")

	kv, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	id, err := NewCollection(kv).Save(ctx, testModel("kept"))
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	c, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer c.Close()
	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Title)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "")
	assert.Error(t, err)

	c, err := Open(context.Background(), "memory", "")
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", buf))
	buf[0] = 'x'

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))

	_, ok, _ = m.Get(ctx, "missing")
	assert.False(t, ok)
}
