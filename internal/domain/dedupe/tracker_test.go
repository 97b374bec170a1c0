package dedupe_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/okian/normscope/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBatchTracker(t *testing.T) {
	Convey("Given a new BatchTracker", t, func() {
		ctx := context.Background()

		Convey("When created with default options", func() {
			d := dedupe.NewBatchTracker()
			So(d, ShouldNotBeNil)
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When recording batch ids", func() {
			d := dedupe.NewBatchTracker()

			Convey("And the id is new", func() {
				So(d.SeenAndRecord(ctx, "batch-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And the id was already seen", func() {
				d.SeenAndRecord(ctx, "batch-1")
				So(d.SeenAndRecord(ctx, "batch-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When unrecording batch ids", func() {
			d := dedupe.NewBatchTracker()
			d.SeenAndRecord(ctx, "batch-1")
			d.Unrecord(ctx, "batch-1")
			d.Unrecord(ctx, "missing")

			Convey("Then the id can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "batch-1"), ShouldBeFalse)
			})
		})

		Convey("When bounded and at capacity", func() {
			d := dedupe.NewBatchTracker(dedupe.WithMaxSize(3))
			for _, id := range []string{"b1", "b2", "b3"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}
			So(d.SeenAndRecord(ctx, "b4"), ShouldBeFalse)

			Convey("Then the oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "b4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "b3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "b1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When unbounded", func() {
			d := dedupe.NewBatchTracker(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("batch-%d", i)), ShouldBeFalse)
			}
			So(d.Size(), ShouldEqual, 1000)
		})

		Convey("When ids are unusual", func() {
			d := dedupe.NewBatchTracker()
			long := strings.Repeat("a", 10000)
			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, ""), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, long), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, long), ShouldBeTrue)
			So(func() { d.SeenAndRecord(nil, "x") }, ShouldNotPanic) //nolint:staticcheck // nil ctx tolerated
		})
	})
}

func TestBatchTrackerConcurrency(t *testing.T) {
	Convey("Given a tracker shared by goroutines", t, func() {
		d := dedupe.NewBatchTracker(dedupe.WithMaxSize(1000))
		const workers, perWorker = 10, 100

		Convey("When the same ids are recorded concurrently", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("batch-%d", j)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is new exactly once", func() {
				So(fresh, ShouldEqual, perWorker)
				So(d.Size(), ShouldEqual, perWorker)
			})
		})
	})
}
