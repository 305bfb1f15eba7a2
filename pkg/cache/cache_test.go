package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

func TestNoCacheIsNeverStored(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"x"}, NoCache())

	_, hit := c.Get(1)
	assert.False(t, hit)
}

func TestStaticSurvivesRepeatedReads(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"x"}, Static())

	for i := 0; i < 10; i++ {
		outputs, hit := c.Get(1)
		require.True(t, hit)
		assert.Equal(t, []interface{}{"x"}, outputs)
	}
}

func TestCountedServesExactlyItsHits(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"x"}, Counted(3))

	for i := 0; i < 3; i++ {
		outputs, hit := c.Get(1)
		require.True(t, hit, "read %d should hit", i)
		assert.Equal(t, []interface{}{"x"}, outputs)
	}

	_, hit := c.Get(1)
	assert.False(t, hit, "fourth read must miss")
}

func TestGetPrefersStaticTier(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"static"}, Static())
	c.Set(2, []interface{}{"counted"}, Counted(1))

	outputs, hit := c.Get(1)
	require.True(t, hit)
	assert.Equal(t, "static", outputs[0])
}

func TestChildDelegatesMissesToParent(t *testing.T) {
	parent := NewOutputCache(nil)
	parent.Set(1, []interface{}{"shared"}, Static())

	child := parent.NewChild()
	outputs, hit := child.Get(1)
	require.True(t, hit)
	assert.Equal(t, "shared", outputs[0])
}

func TestChildEntriesAreInvisibleToParent(t *testing.T) {
	parent := NewOutputCache(nil)
	child := parent.NewChild()
	child.Set(1, []interface{}{"local"}, Static())

	_, hit := parent.Get(1)
	assert.False(t, hit)
}

func TestParentCountedEntriesAreConsumedThroughChild(t *testing.T) {
	parent := NewOutputCache(nil)
	parent.Set(1, []interface{}{"x"}, Counted(1))

	child := parent.NewChild()
	_, hit := child.Get(1)
	require.True(t, hit)

	_, hit = parent.Get(1)
	assert.False(t, hit, "the child's read consumed the parent's only hit")
}

func TestHasNeverConsumesHits(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"x"}, Counted(1))

	assert.True(t, c.Has(1))
	assert.True(t, c.Has(1))

	_, hit := c.Get(1)
	assert.True(t, hit)
	assert.False(t, c.Has(1))
}

func TestKeysSpanAncestorChain(t *testing.T) {
	root := NewOutputCache(nil)
	root.Set(1, []interface{}{"a"}, Static())

	child := root.NewChild()
	child.Set(2, []interface{}{"b"}, Counted(2))

	keys := child.Keys()
	assert.ElementsMatch(t, []graph.NodeID{1, 2}, keys)

	// Keys does not decrement the counted entry.
	_, hit := child.Get(2)
	assert.True(t, hit)
	_, hit = child.Get(2)
	assert.True(t, hit)
}

func TestSnapshots(t *testing.T) {
	c := NewOutputCache(nil)
	c.Set(1, []interface{}{"a"}, Static())
	c.Set(2, []interface{}{"b"}, Counted(1))

	static := c.SnapshotStatic()
	assert.Len(t, static, 1)
	assert.Equal(t, []interface{}{"a"}, static[1])

	all := c.SnapshotAll()
	assert.Len(t, all, 2)

	// Snapshots do not consume hits.
	_, hit := c.Get(2)
	assert.True(t, hit)
}
