package dedupe_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	dedupe "github.com/okian/mjolnir/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("Then it should start empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When a new id is recorded", func() {
			id := uuid.New()
			seen := d.SeenAndRecord(ctx, id)

			Convey("Then it should report it as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And recording it again should report a duplicate", func() {
				So(d.SeenAndRecord(ctx, id), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And unrecording it should allow a retry", func() {
				d.Unrecord(ctx, id)
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			})
		})

		Convey("When unrecording an unknown id", func() {
			d.Unrecord(ctx, uuid.New())

			Convey("Then nothing should change", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		all := ids(4)
		for _, id := range all {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest id should be forgotten first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, all[3]), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, all[1]), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, all[0]), ShouldBeFalse)
		})

		Convey("Then unrecording from the middle should keep the rest", func() {
			d.Unrecord(ctx, all[2])
			So(d.Size(), ShouldEqual, 2)
			So(d.SeenAndRecord(ctx, all[1]), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, all[3]), ShouldBeTrue)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for _, id := range ids(500) {
			d.SeenAndRecord(ctx, id)
		}

		Convey("Then nothing should be evicted", func() {
			So(d.Size(), ShouldEqual, 500)
		})
	})
}

func TestInMemoryDeduperConcurrency(t *testing.T) {
	Convey("Given many goroutines recording the same id", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		id := uuid.New()

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, id) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one should win", func() {
			So(fresh, ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
