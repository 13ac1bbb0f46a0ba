package repository

import (
	"math/rand/v2"
	"time"
)

// timeline is a treap of event keys ordered by (date, id) ascending. One
// timeline is kept per stack so neighbor scans touch only that stack.

type timelineKey struct {
	date time.Time
	id   string
}

// less returns true if a sorts before b. Equal dates fall back to the id so
// the order is total and deterministic.
func less(a, b timelineKey) bool {
	if !a.date.Equal(b.date) {
		return a.date.Before(b.date)
	}
	return a.id < b.id
}

type node struct {
	key   timelineKey
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k timelineKey, prio uint64) *node {
	if n == nil {
		return &node{key: k, prio: prio, size: 1}
	}
	if less(k, n.key) {
		n.left = insert(n.left, k, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k timelineKey) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.key.id == k.id && n.key.date.Equal(k.date):
		// Rotate the higher priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	case less(k, n.key):
		n.left = deleteNode(n.left, k)
	default:
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// ascend visits keys with date >= from in ascending order until fn returns false.
func ascend(n *node, from time.Time, fn func(timelineKey) bool) bool {
	if n == nil {
		return true
	}
	if !n.key.date.Before(from) {
		if !ascend(n.left, from, fn) {
			return false
		}
		if !fn(n.key) {
			return false
		}
	}
	return ascend(n.right, from, fn)
}

// descend visits keys with date <= to in descending order until fn returns false.
func descend(n *node, to time.Time, fn func(timelineKey) bool) bool {
	if n == nil {
		return true
	}
	if !n.key.date.After(to) {
		if !descend(n.right, to, fn) {
			return false
		}
		if !fn(n.key) {
			return false
		}
	}
	return descend(n.left, to, fn)
}

type timeline struct {
	root *node
}

func (t *timeline) insert(k timelineKey) {
	t.root = insert(t.root, k, rand.Uint64())
}

func (t *timeline) remove(k timelineKey) {
	t.root = deleteNode(t.root, k)
}

func (t *timeline) len() int {
	return nsize(t.root)
}

// scan collects up to limit ids on one side of pivot, inclusive.
func (t *timeline) scan(pivot time.Time, dir Direction, limit int) []string {
	out := make([]string, 0, limit)
	collect := func(k timelineKey) bool {
		out = append(out, k.id)
		return len(out) < limit
	}
	if dir == Next {
		ascend(t.root, pivot, collect)
	} else {
		descend(t.root, pivot, collect)
	}
	return out
}
