// Package pathtree provides a generic associative store addressed by
// "/"-delimited paths.
//
// Every path segment is a node. A node may carry a value and may have named
// children; intermediate segments that were never assigned a value behave
// as implicit folders:
//
//	t := pathtree.New[int]()
//	_ = t.Insert("/motor/speed", 1)
//	_ = t.Insert("/motor/current", 2)
//
//	v, err := t.Get("motor/speed")        // 1, nil
//	c, err := t.Children("/motor")         // leaves: speed, current
//
// Path parsing trims leading and trailing separators and drops empty
// segments, so "/a//b/" and "a/b" address the same node.
package pathtree

import (
	"sort"
	"strings"

	"github.com/juju/errors"
)

// Separator delimits path segments.
const Separator = "/"

// Tree errors.
const (
	ErrNotFound = errors.NotFound
	ErrExists   = errors.AlreadyExists
	ErrEmpty    = errors.ConstError("empty path")
)

type node[T any] struct {
	value    T
	hasValue bool
	children map[string]*node[T]
}

func newNode[T any]() *node[T] {
	return &node[T]{children: make(map[string]*node[T])}
}

// Tree is a path-segmented store. It is not safe for concurrent use; callers
// serialize access.
type Tree[T any] struct {
	root  *node[T]
	count int
}

// New creates an empty tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{root: newNode[T]()}
}

// SplitPath splits a path into its non-empty segments.
func SplitPath(path string) []string {
	raw := strings.Split(strings.Trim(path, Separator), Separator)
	segments := raw[:0]
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// JoinPath builds the canonical form "/a/b/c" from segments.
func JoinPath(segments ...string) string {
	var parts []string
	for _, s := range segments {
		parts = append(parts, SplitPath(s)...)
	}
	return Separator + strings.Join(parts, Separator)
}

// Normalize returns the canonical form of path.
func Normalize(path string) string {
	return JoinPath(path)
}

// Insert attaches value at path, creating intermediate folders as needed.
func (t *Tree[T]) Insert(path string, value T) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return errors.Annotatef(ErrEmpty, "insert %q", path)
	}

	n := t.root
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			child = newNode[T]()
			n.children[seg] = child
		}
		n = child
	}

	if n.hasValue {
		return errors.AlreadyExistsf("path %q", Normalize(path))
	}
	n.value = value
	n.hasValue = true
	t.count++
	return nil
}

// Get returns the value at path. It fails with ErrNotFound if any segment
// or the leaf value is absent.
func (t *Tree[T]) Get(path string) (T, error) {
	var zero T
	n, ok := t.find(SplitPath(path))
	if !ok || !n.hasValue {
		return zero, errors.NotFoundf("path %q", Normalize(path))
	}
	return n.value, nil
}

// Has reports whether a value is attached at path.
func (t *Tree[T]) Has(path string) bool {
	n, ok := t.find(SplitPath(path))
	return ok && n.hasValue
}

func (t *Tree[T]) find(segments []string) (*node[T], bool) {
	n := t.root
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

// Folder describes an immediate sub-folder returned by Children.
type Folder struct {
	Name string

	// HasChildren is true when the folder itself has descendants, which lets
	// a lazy tree view decide whether to show an expander.
	HasChildren bool
}

// Children holds the immediate content of a node.
type Children[T any] struct {
	Folders []Folder
	Leaves  map[string]T
}

// SortedFolders returns the folders ordered by name.
func (c Children[T]) SortedFolders() []Folder {
	out := append([]Folder(nil), c.Folders...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortedLeaves returns the leaf names ordered by name.
func (c Children[T]) SortedLeaves() []string {
	names := make([]string, 0, len(c.Leaves))
	for name := range c.Leaves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children lists the immediate children of the node at path. A child that
// has sub-nodes is reported as a folder; a child carrying a value is
// reported as a leaf. A child with both appears in both lists.
func (t *Tree[T]) Children(path string) (Children[T], error) {
	n, ok := t.find(SplitPath(path))
	if !ok {
		return Children[T]{}, errors.NotFoundf("path %q", Normalize(path))
	}

	out := Children[T]{Leaves: make(map[string]T)}
	for name, child := range n.children {
		if len(child.children) > 0 {
			out.Folders = append(out.Folders, Folder{
				Name:        name,
				HasChildren: hasDescendants(child),
			})
		}
		if child.hasValue {
			out.Leaves[name] = child.value
		}
	}
	return out, nil
}

func hasDescendants[T any](n *node[T]) bool {
	for _, c := range n.children {
		if c.hasValue || hasDescendants(c) {
			return true
		}
	}
	return false
}

// AllPaths returns the canonical path of every value in the tree.
func (t *Tree[T]) AllPaths() []string {
	paths := make([]string, 0, t.count)
	t.Walk(func(path string, _ T) {
		paths = append(paths, path)
	})
	return paths
}

// Walk calls fn for every value in the tree. Iteration order is unspecified.
func (t *Tree[T]) Walk(fn func(path string, value T)) {
	var walk func(n *node[T], prefix []string)
	walk = func(n *node[T], prefix []string) {
		if n.hasValue {
			fn(JoinPath(prefix...), n.value)
		}
		for name, child := range n.children {
			walk(child, append(append([]string(nil), prefix...), name))
		}
	}
	walk(t.root, nil)
}

// Count returns the number of values stored.
func (t *Tree[T]) Count() int {
	return t.count
}

// Clear removes every node.
func (t *Tree[T]) Clear() {
	t.root = newNode[T]()
	t.count = 0
}
