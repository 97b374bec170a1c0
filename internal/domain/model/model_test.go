package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/normscope/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSamplePointValidate(t *testing.T) {
	Convey("Given sample points", t, func() {
		So(model.SamplePoint{Load: 10, Consumption: 45}.Validate(), ShouldBeNil)

		for _, p := range []model.SamplePoint{
			{Load: 0, Consumption: 45},
			{Load: -1, Consumption: 45},
			{Load: 10, Consumption: 0},
			{Load: math.NaN(), Consumption: 1},
			{Load: 1, Consumption: math.Inf(1)},
		} {
			err := p.Validate()
			So(err, ShouldNotBeNil)
			So(model.IsValidation(err), ShouldBeTrue)
		}
	})
}

func TestNormCurve(t *testing.T) {
	Convey("Given a norm curve", t, func() {
		c := model.NormCurve{
			ID:       "N1",
			Type:     "axle",
			Points:   []model.SamplePoint{{Load: 30, Consumption: 55}, {Load: 10, Consumption: 45}, {Load: 20, Consumption: 50}},
			Metadata: map[string]string{"series": "A"},
		}

		Convey("When cloned", func() {
			cl := c.Clone()

			Convey("Then points are sorted and storage is not shared", func() {
				So(cl.Points[0].Load, ShouldEqual, 10)
				So(cl.Points[2].Load, ShouldEqual, 30)
				cl.Metadata["series"] = "B"
				So(c.Metadata["series"], ShouldEqual, "A")
				So(c.Points[0].Load, ShouldEqual, 30)
			})
		})

		Convey("When the id is empty", func() {
			c.ID = "  "
			So(model.IsValidation(c.Validate()), ShouldBeTrue)
		})

		Convey("When a point is invalid", func() {
			c.Points[1].Load = 0
			err := c.Validate()

			Convey("Then the failing point is located", func() {
				var pe *model.PointError
				So(errors.As(err, &pe), ShouldBeTrue)
				So(pe.Index, ShouldEqual, 1)
				So(model.IsValidation(err), ShouldBeTrue)
			})
		})

		Convey("When the curve has no points", func() {
			c.Points = nil
			So(c.Validate(), ShouldBeNil)
		})
	})
}

func TestNaturalKey(t *testing.T) {
	Convey("Given natural keys", t, func() {
		full := model.NaturalKey{RouteNumber: "7", TripDate: "2024-01-01", OperatorID: "42"}
		So(full.Completeness(), ShouldEqual, model.KeyComplete)
		So(full.String(), ShouldEqual, "7|2024-01-01|42")

		So(model.NaturalKey{RouteNumber: "7", TripDate: "2024-01-01"}.Completeness(), ShouldEqual, model.KeyIncomplete)
		So(model.NaturalKey{RouteNumber: " ", TripDate: "2024-01-01", OperatorID: "42"}.Completeness(), ShouldEqual, model.KeyIncomplete)
	})
}

func TestObservationRow(t *testing.T) {
	Convey("Given an observation row", t, func() {
		row := model.ObservationRow{
			Key: model.NaturalKey{RouteNumber: "7", TripDate: "2024-01-01", OperatorID: "42"},
			Sections: []model.SectionEntry{
				{Name: "A-B", NormID: "N1", Load: 12, ActualConsumption: 40},
				{Name: "B-C", ActualConsumption: 10, GrossTonKm: 100},
			},
			Provenance: model.Provenance{Source: "doc-1", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		}

		So(row.TotalConsumption(), ShouldEqual, 50)
		So(row.Completeness(), ShouldEqual, 5)

		cl := row.Clone()
		cl.Sections[0].Name = "X"
		So(row.Sections[0].Name, ShouldEqual, "A-B")
	})
}

func TestAnalysisRequest(t *testing.T) {
	Convey("Given analysis requests", t, func() {
		a := model.AnalysisRequest{Segment: "A-B", NormID: "N1"}
		b := model.AnalysisRequest{Segment: "A-B", NormID: "N1"}
		c := model.AnalysisRequest{Segment: "A-B", NormID: "N1", SingleSectionOnly: true}
		d := model.AnalysisRequest{Segment: "A-B|N1", NormID: ""}

		Convey("Then equal requests share a cache key and different ones do not", func() {
			So(a.CacheKey(), ShouldEqual, b.CacheKey())
			So(a.CacheKey(), ShouldNotEqual, c.CacheKey())
			So(a.CacheKey(), ShouldNotEqual, d.CacheKey())
		})

		Convey("Then an empty segment is rejected", func() {
			So(model.IsValidation(model.AnalysisRequest{}.Validate()), ShouldBeTrue)
			So(a.Validate(), ShouldBeNil)
		})
	})
}

func TestStatusText(t *testing.T) {
	Convey("Given statuses", t, func() {
		So(model.StatusAcceptable.String(), ShouldEqual, "acceptable")
		So(model.Status(42).String(), ShouldEqual, "unknown")

		Convey("When a histogram is encoded and decoded", func() {
			h := map[model.Status]int{model.StatusGood: 2, model.StatusCritical: 1}
			raw, err := json.Marshal(h)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `"good":2`)

			var back map[model.Status]int
			So(json.Unmarshal(raw, &back), ShouldBeNil)
			So(back, ShouldResemble, h)
		})

		Convey("When an unknown name is parsed", func() {
			var s model.Status
			So(s.UnmarshalText([]byte("perfect")), ShouldNotBeNil)
		})
	})
}

func TestRecordResultJSON(t *testing.T) {
	Convey("Given an analyzed and a skipped record", t, func() {
		analyzed := model.RecordResult{Section: "A-B", Percent: 10, Status: model.StatusGood, Analyzed: true}
		skipped := model.RecordResult{Section: "A-B", SkipReason: model.SkipNormNotFound}

		Convey("Then only the analyzed one carries a status", func() {
			raw, err := json.Marshal(analyzed)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `"status":"good"`)

			raw, err = json.Marshal(skipped)
			So(err, ShouldBeNil)
			So(string(raw), ShouldNotContainSubstring, `"status"`)
			So(string(raw), ShouldContainSubstring, `"skip_reason":"norm_not_found"`)
		})

		Convey("Then both decode back unchanged", func() {
			for _, rec := range []model.RecordResult{analyzed, skipped} {
				raw, err := json.Marshal(rec)
				So(err, ShouldBeNil)
				var back model.RecordResult
				So(json.Unmarshal(raw, &back), ShouldBeNil)
				So(back, ShouldResemble, rec)
			}
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("Given a wrapped kind error", t, func() {
		cause := errors.New("disk on fire")
		err := model.WrapKind("store.get", model.ErrNotFound, cause)

		So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(errors.Is(err, model.ErrValidation), ShouldBeFalse)
		So(err.Error(), ShouldEqual, "store.get: not found: disk on fire")

		bare := model.NewKind("store.get", model.ErrNotFound)
		So(model.IsNotFound(bare), ShouldBeTrue)
		So(bare.Error(), ShouldEqual, "store.get: not found")
	})
}
