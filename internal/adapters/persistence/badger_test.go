package persistence

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func sampleCurves() []model.NormCurve {
	return []model.NormCurve{
		{
			ID:       "N1",
			Type:     "freight",
			Points:   []model.SamplePoint{{Load: 10, Consumption: 45}, {Load: 20, Consumption: 50}},
			Metadata: map[string]string{"source": "catalog"},
		},
		{ID: "N2", Type: "passenger", Points: []model.SamplePoint{{Load: 5, Consumption: 9}}},
	}
}

func sampleResult() model.AnalysisResult {
	return model.AnalysisResult{
		Segment:  "A-B",
		Request:  model.AnalysisRequest{Segment: "A-B"},
		Total:    2,
		Analyzed: 1,
		Skipped:  1,
		Records: []model.RecordResult{
			{Section: "A-B", NormID: "N1", Load: 20, Actual: 55, Expected: 50, Percent: 10, Status: model.StatusGood, Analyzed: true},
			{Section: "A-B", SkipReason: model.SkipNoNorm},
		},
		Stats: model.Stats{
			Mean:      10,
			Histogram: map[model.Status]int{model.StatusGood: 1},
			Worst:     model.StatusGood,
		},
		SkipReasons: map[string]int{model.SkipNoNorm: 1},
		CacheKey:    "abc",
		Generation:  42,
		ComputedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore(t *testing.T) {
	Convey("Given an in-memory store", t, func() {
		ctx := context.Background()
		s, err := Open("", WithInMemory(), WithResultTTL(time.Hour))
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("When curves are saved", func() {
			So(s.SaveCurves(ctx, sampleCurves()), ShouldBeNil)

			Convey("Then they load back unchanged", func() {
				got, err := s.LoadCurves(ctx)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, sampleCurves())
			})

			Convey("Then saving a curve again replaces it", func() {
				c := sampleCurves()[1]
				c.Points = append(c.Points, model.SamplePoint{Load: 10, Consumption: 8})
				So(s.SaveCurves(ctx, []model.NormCurve{c}), ShouldBeNil)
				got, err := s.LoadCurves(ctx)
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(len(got[1].Points), ShouldEqual, 2)
			})
		})

		Convey("When nothing was saved", func() {
			got, err := s.LoadCurves(ctx)
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
			So(s.SaveCurves(ctx, nil), ShouldBeNil)
		})

		Convey("When a result is saved", func() {
			So(s.SaveResult(ctx, sampleResult()), ShouldBeNil)

			Convey("Then it loads back by cache key", func() {
				got, ok, err := s.LoadResult(ctx, "abc")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got.Generation, ShouldEqual, 42)
				So(got.Records[0].Status, ShouldEqual, model.StatusGood)
				So(got.Stats.Histogram[model.StatusGood], ShouldEqual, 1)
				So(got.SkipReasons[model.SkipNoNorm], ShouldEqual, 1)
				So(got.ComputedAt.Equal(sampleResult().ComputedAt), ShouldBeTrue)
			})

			Convey("Then the entry carries an expiry", func() {
				err := s.db.View(func(txn *badger.Txn) error {
					item, err := txn.Get([]byte(resultPrefix + "abc"))
					if err != nil {
						return err
					}
					So(item.ExpiresAt(), ShouldBeGreaterThan, uint64(time.Now().Unix()))
					return nil
				})
				So(err, ShouldBeNil)
			})
		})

		Convey("When an unknown result is requested", func() {
			_, ok, err := s.LoadResult(ctx, "missing")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Opening without a directory fails", t, func() {
		_, err := Open("")
		So(err, ShouldEqual, ErrNoDirectory)
	})

	Convey("Given a store on disk", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := Open(dir)
		So(err, ShouldBeNil)
		So(s.SaveCurves(ctx, sampleCurves()), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("Then curves survive a reopen", func() {
			s2, err := Open(dir)
			So(err, ShouldBeNil)
			defer s2.Close()
			got, err := s2.LoadCurves(ctx)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].ID, ShouldEqual, "N1")
		})
	})
}
