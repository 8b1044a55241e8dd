package pathtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b/c", []string{"a", "b", "c"}},
		{"/a//b/", []string{"a", "b"}},
		{"///", []string{}},
		{"", []string{}},
		{"single", []string{"single"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPath(tt.input))
		})
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a/b/c", JoinPath("a", "b/c"))
	assert.Equal(t, "/a/b", JoinPath("/a/", "/b/"))
	assert.Equal(t, "/", JoinPath())
	assert.Equal(t, "/x/y", Normalize("x//y/"))
}

func TestInsertGet(t *testing.T) {
	tree := New[int]()

	paths := map[string]int{
		"/motor/speed":          1,
		"/motor/current":        2,
		"/motor/pid/kp":         3,
		"/motor/pid/ki":         4,
		"/sensors/temp/ambient": 5,
		"/top":                  6,
	}
	for p, v := range paths {
		require.NoError(t, tree.Insert(p, v))
	}

	for p, want := range paths {
		got, err := tree.Get(p)
		require.NoError(t, err, p)
		assert.Equal(t, want, got, p)
	}
	assert.Equal(t, len(paths), tree.Count())

	// Equivalent spellings resolve to the same node.
	got, err := tree.Get("motor//pid/kp/")
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestGetNotFound(t *testing.T) {
	tree := New[string]()
	require.NoError(t, tree.Insert("/a/b/c", "leaf"))

	t.Run("MissingSegment", func(t *testing.T) {
		_, err := tree.Get("/a/x/c")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FolderWithoutValue", func(t *testing.T) {
		_, err := tree.Get("/a/b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TooDeep", func(t *testing.T) {
		_, err := tree.Get("/a/b/c/d")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInsertErrors(t *testing.T) {
	tree := New[int]()

	err := tree.Insert("//", 1)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, tree.Insert("/a/b", 1))
	err = tree.Insert("a/b/", 2)
	assert.ErrorIs(t, err, ErrExists)

	got, err := tree.Get("/a/b")
	require.NoError(t, err)
	assert.Equal(t, 1, got, "failed insert must not overwrite")
	assert.Equal(t, 1, tree.Count())
}

func TestChildren(t *testing.T) {
	tree := New[int]()
	require.NoError(t, tree.Insert("/root/leaf1", 1))
	require.NoError(t, tree.Insert("/root/leaf2", 2))
	require.NoError(t, tree.Insert("/root/dir/deep/x", 3))
	require.NoError(t, tree.Insert("/root/both", 4))
	require.NoError(t, tree.Insert("/root/both/inner", 5))

	c, err := tree.Children("/root")
	require.NoError(t, err)

	assert.Equal(t, []Folder{
		{Name: "both", HasChildren: true},
		{Name: "dir", HasChildren: true},
	}, c.SortedFolders())
	assert.Equal(t, []string{"both", "leaf1", "leaf2"}, c.SortedLeaves())
	assert.Equal(t, 1, c.Leaves["leaf1"])
	assert.Equal(t, 4, c.Leaves["both"])

	t.Run("Root", func(t *testing.T) {
		c, err := tree.Children("/")
		require.NoError(t, err)
		assert.Equal(t, []Folder{{Name: "root", HasChildren: true}}, c.Folders)
		assert.Empty(t, c.Leaves)
	})

	t.Run("Deep", func(t *testing.T) {
		c, err := tree.Children("/root/dir")
		require.NoError(t, err)
		assert.Equal(t, []Folder{{Name: "deep", HasChildren: true}}, c.Folders)
		assert.Empty(t, c.Leaves)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := tree.Children("/nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAllPathsAndClear(t *testing.T) {
	tree := New[int]()
	want := []string{"/a", "/a/b", "/c/d/e"}
	for i, p := range want {
		require.NoError(t, tree.Insert(p, i))
	}

	assert.ElementsMatch(t, want, tree.AllPaths())

	visited := map[string]int{}
	tree.Walk(func(path string, v int) { visited[path] = v })
	assert.Equal(t, map[string]int{"/a": 0, "/a/b": 1, "/c/d/e": 2}, visited)

	tree.Clear()
	assert.Equal(t, 0, tree.Count())
	assert.Empty(t, tree.AllPaths())
	assert.False(t, tree.Has("/a"))
}
