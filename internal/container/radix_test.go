package container

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRadix_InsertLookup(t *testing.T) {
	tree := NewRadixTree[int]()
	words := []string{"roman", "romane", "romanus", "romulus", "rubens", "ruber", "rubicon", "rubicundus"}
	for i, w := range words {
		tree.Insert(w, i)
	}
	require.Equal(t, len(words), tree.Len())

	for i, w := range words {
		v, ok := tree.Lookup(w)
		require.True(t, ok, w)
		require.Equal(t, i, v)
	}

	// Prefixes of stored keys are not themselves stored.
	_, ok := tree.Lookup("rom")
	require.False(t, ok)
	_, ok = tree.Lookup("rub")
	require.False(t, ok)
}

func TestRadix_EdgeSplitOnDivergence(t *testing.T) {
	tree := NewRadixTree[int]()
	tree.Insert("tester", 1)
	tree.Insert("team", 2)

	v, ok := tree.Lookup("tester")
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = tree.Lookup("team")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestRadix_KeyPrefixOfEdge(t *testing.T) {
	tree := NewRadixTree[int]()
	tree.Insert("testing", 1)
	tree.Insert("test", 2)

	v, ok := tree.Lookup("test")
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = tree.Lookup("testing")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestRadix_RemoveMergesPassThrough(t *testing.T) {
	tree := NewRadixTree[int]()
	tree.Insert("test", 1)
	tree.Insert("team", 2)
	tree.Insert("toast", 3)

	require.True(t, tree.Remove("team"))
	require.False(t, tree.Remove("team"))
	require.Equal(t, 2, tree.Len())

	v, ok := tree.Lookup("test")
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = tree.Lookup("toast")
	require.True(t, ok)
	require.Equal(t, 3, v)

	require.True(t, tree.Remove("test"))
	require.True(t, tree.Remove("toast"))
	require.Equal(t, 0, tree.Len())
}

func TestRadix_ReplaceValue(t *testing.T) {
	tree := NewRadixTree[string]()
	tree.Insert("alice", "r")
	tree.Insert("alice", "rw")
	require.Equal(t, 1, tree.Len())
	v, _ := tree.Lookup("alice")
	require.Equal(t, "rw", v)
}

func TestRadix_KeysSorted(t *testing.T) {
	tree := NewRadixTree[int]()
	for i := 0; i < 100; i++ {
		tree.Insert(fmt.Sprintf("user%02d", 99-i), i)
	}
	keys := tree.Keys()
	require.Len(t, keys, 100)
	require.True(t, sort.StringsAreSorted(keys))
}

func TestRadix_EmptyKey(t *testing.T) {
	tree := NewRadixTree[int]()
	tree.Insert("", 7)
	v, ok := tree.Lookup("")
	require.True(t, ok)
	require.Equal(t, 7, v)
	require.True(t, tree.Remove(""))
	require.False(t, tree.Contains(""))
}
