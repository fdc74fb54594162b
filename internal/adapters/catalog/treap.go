package catalog

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
)

// Treap index over catalog entries.
//
// Ordering: record sequence DESC. "less" means recorded later, so an
// in-order traversal yields the catalog from newest to oldest and the
// leftmost node is the most recently published throw. The throw's own
// timestamp is client data and plays no part in the order.

type entry struct {
	result throw.Result
	seq    uint64
}

// treap node
type node struct {
	e     entry
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

// newer reports whether a was recorded after b.
func newer(a, b entry) bool {
	return a.seq > b.seq
}

func same(a, b entry) bool {
	return a.seq == b.seq && a.result.ThrowID == b.result.ThrowID
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

func insert(n *node, e entry) *node {
	if n == nil {
		return &node{e: e, prio: rand.Uint64(), size: 1}
	}
	if newer(e, n.e) {
		n.left = insert(n.left, e)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, e)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, e entry) *node {
	if n == nil {
		return nil
	}
	switch {
	case same(e, n.e):
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, e)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, e)
		}
	case newer(e, n.e):
		n.left = deleteNode(n.left, e)
	default:
		n.right = deleteNode(n.right, e)
	}
	fix(n)
	return n
}

// first returns the newest entry.
func first(n *node) (entry, bool) {
	if n == nil {
		return entry{}, false
	}
	for n.left != nil {
		n = n.left
	}
	return n.e, true
}

// collect appends up to limit entries newest first.
func collect(n *node, limit int, out *[]throw.Result) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, cloneResult(n.e.result))
	}
	if len(*out) < limit {
		collect(n.right, limit, out)
	}
}

// treapIndex pairs the ordered treap with an id lookup.
type treapIndex struct {
	root *node
	byID map[uuid.UUID]entry
}

func newTreapIndex() *treapIndex {
	return &treapIndex{byID: make(map[uuid.UUID]entry)}
}

// put inserts e, replacing any entry with the same throw id.
func (t *treapIndex) put(e entry) {
	if old, ok := t.byID[e.result.ThrowID]; ok {
		t.root = deleteNode(t.root, old)
	}
	t.root = insert(t.root, e)
	t.byID[e.result.ThrowID] = e
}

func (t *treapIndex) len() int { return nsize(t.root) }
