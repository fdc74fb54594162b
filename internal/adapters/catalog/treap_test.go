package catalog

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	. "github.com/smartystreets/goconvey/convey"
)

func treapEntry(ts time.Time, seq uint64) entry {
	return entry{result: throw.Result{ThrowID: uuid.New(), Timestamp: ts}, seq: seq}
}

// checkTreap verifies BST order, heap priorities and subtree sizes.
func checkTreap(n *node) bool {
	if n == nil {
		return true
	}
	if n.left != nil && (n.left.prio > n.prio || !newer(n.left.e, n.e)) {
		return false
	}
	if n.right != nil && (n.right.prio > n.prio || !newer(n.e, n.right.e)) {
		return false
	}
	if n.size != 1+nsize(n.left)+nsize(n.right) {
		return false
	}
	return checkTreap(n.left) && checkTreap(n.right)
}

func TestTreapIndex(t *testing.T) {
	Convey("Given a treap index", t, func() {
		idx := newTreapIndex()
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		Convey("When it is empty", func() {
			_, ok := first(idx.root)
			So(ok, ShouldBeFalse)
			So(idx.len(), ShouldEqual, 0)
		})

		Convey("When timestamps disagree with recording order", func() {
			offsets := []int{5, 1, 9, 3, 7, 2, 8, 0, 6, 4}
			for i, off := range offsets {
				idx.put(treapEntry(base.Add(time.Duration(off)*time.Second), uint64(i+1)))
			}

			Convey("Then traversal follows recording order, newest first", func() {
				var out []throw.Result
				collect(idx.root, 100, &out)
				So(len(out), ShouldEqual, len(offsets))
				for i, r := range out {
					off := offsets[len(offsets)-1-i]
					So(r.Timestamp, ShouldEqual, base.Add(time.Duration(off)*time.Second))
				}
				latest, ok := first(idx.root)
				So(ok, ShouldBeTrue)
				So(latest.seq, ShouldEqual, uint64(len(offsets)))
				So(latest.result.Timestamp, ShouldEqual, base.Add(4*time.Second))
			})

			Convey("And the treap invariants hold", func() {
				So(checkTreap(idx.root), ShouldBeTrue)
			})

			Convey("And collect honors the limit", func() {
				var out []throw.Result
				collect(idx.root, 3, &out)
				So(len(out), ShouldEqual, 3)
				So(out[0].Timestamp, ShouldEqual, base.Add(4*time.Second))
				So(out[2].Timestamp, ShouldEqual, base.Add(0))
			})
		})

		Convey("When an older timestamp is recorded last", func() {
			a := treapEntry(base, 1)
			b := treapEntry(base.Add(-time.Hour), 2)
			idx.put(a)
			idx.put(b)

			Convey("Then the later record wins", func() {
				latest, _ := first(idx.root)
				So(latest.result.ThrowID, ShouldEqual, b.result.ThrowID)
			})
		})

		Convey("When an id is recorded again", func() {
			e := treapEntry(base, 1)
			idx.put(e)
			idx.put(treapEntry(base.Add(time.Minute), 2))
			replaced := entry{result: e.result, seq: 3}
			replaced.result.Timestamp = base.Add(-time.Hour)
			idx.put(replaced)

			Convey("Then it is moved, not duplicated", func() {
				So(idx.len(), ShouldEqual, 2)
				So(len(idx.byID), ShouldEqual, 2)
				latest, _ := first(idx.root)
				So(latest.result.ThrowID, ShouldEqual, e.result.ThrowID)
				So(checkTreap(idx.root), ShouldBeTrue)
			})
		})

		Convey("When many entries are inserted and replaced", func() {
			ids := make([]entry, 500)
			for i := range ids {
				ids[i] = treapEntry(base.Add(time.Duration(i%37)*time.Millisecond), uint64(i+1))
				idx.put(ids[i])
			}
			for i := 0; i < len(ids); i += 2 {
				e := ids[i]
				e.seq = uint64(len(ids) + i + 1)
				idx.put(e)
			}

			Convey("Then size and invariants are preserved", func() {
				So(idx.len(), ShouldEqual, 500)
				So(checkTreap(idx.root), ShouldBeTrue)
			})
		})
	})
}
