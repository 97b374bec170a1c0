package seed

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/okian/normscope/internal/domain/model"
)

// Ranges of the generated hyperbolic norms a/load + b.
const (
	coefAMin   = 100.0
	coefARange = 300.0
	coefBMin   = 20.0
	coefBRange = 40.0
	loadMin    = 15.0
	loadRange  = 105.0
	distMin    = 5.0
	distRange  = 45.0
	operators  = 50
	tripDays   = 28
)

var sampleLoads = []float64{10, 20, 40, 80}

var curveTypes = []string{"freight", "passenger"}

// plantedDeviation sits in the middle of each default status band so the
// fitted curve's rounding cannot move a record across a boundary.
var plantedDeviation = map[model.Status]float64{
	model.StatusExcellent:  2,
	model.StatusGood:       7.5,
	model.StatusAcceptable: 15,
	model.StatusPoor:       25,
	model.StatusCritical:   45,
}

type hyperbola struct{ a, b float64 }

func (h hyperbola) eval(load float64) float64 { return h.a/load + h.b }

// Generate builds a deterministic plan for cfg.Seed.
func Generate(cfg *Config) Plan {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	plan := Plan{
		Curves:   make([]model.NormCurve, cfg.Curves),
		Expected: make(map[string]map[model.Status]int),
	}
	shapes := make([]hyperbola, cfg.Curves)
	for i := range plan.Curves {
		h := hyperbola{a: coefAMin + rng.Float64()*coefARange, b: coefBMin + rng.Float64()*coefBRange}
		shapes[i] = h
		pts := make([]model.SamplePoint, len(sampleLoads))
		for j, l := range sampleLoads {
			pts[j] = model.SamplePoint{Load: l, Consumption: h.eval(l)}
		}
		plan.Curves[i] = model.NormCurve{
			ID:       curveID(i),
			Type:     curveTypes[i%len(curveTypes)],
			Points:   pts,
			Metadata: map[string]string{"source": "seed"},
		}
	}

	segments := make([]string, cfg.Segments)
	for i := range segments {
		segments[i] = fmt.Sprintf("ST%02d-ST%02d", i, i+1)
	}
	statuses := model.AllStatuses()

	for i := 0; i < cfg.Routes; i++ {
		key := model.NaturalKey{
			RouteNumber: fmt.Sprintf("R%06d", i),
			TripDate:    base.AddDate(0, 0, i%tripDays).Format(time.DateOnly),
			OperatorID:  strconv.Itoa(i % operators),
		}
		n := 1 + rng.IntN(max(1, min(cfg.MaxSections, cfg.Segments)))
		sections := make([]model.SectionEntry, 0, n)
		for _, si := range rng.Perm(cfg.Segments)[:n] {
			ci := rng.IntN(cfg.Curves)
			load := loadMin + rng.Float64()*loadRange
			status := statuses[rng.IntN(len(statuses))]
			dev := plantedDeviation[status]
			if rng.IntN(2) == 0 {
				dev = -dev
			}
			expected := shapes[ci].eval(load)
			dist := distMin + rng.Float64()*distRange
			sections = append(sections, model.SectionEntry{
				Name:              segments[si],
				NormID:            curveID(ci),
				Distance:          dist,
				GrossTonKm:        dist * load,
				Load:              load,
				ActualConsumption: expected * (1 + dev/100),
				NormConsumption:   expected,
			})
			if plan.Expected[segments[si]] == nil {
				plan.Expected[segments[si]] = make(map[model.Status]int)
			}
			plan.Expected[segments[si]][status]++
		}
		row := model.ObservationRow{
			Key:        key,
			Sections:   sections,
			Provenance: model.Provenance{Source: "seed", Timestamp: base.Add(time.Duration(i) * time.Minute)},
		}
		plan.Rows = append(plan.Rows, row)
		if rng.Float64() < cfg.DuplicateRate {
			dup := row
			dup.Sections = append([]model.SectionEntry(nil), sections...)
			dup.Provenance = model.Provenance{Source: "seed-replay", Timestamp: row.Provenance.Timestamp.Add(time.Hour)}
			plan.Rows = append(plan.Rows, dup)
		}
	}
	plan.Routes = cfg.Routes
	rng.Shuffle(len(plan.Rows), func(i, j int) { plan.Rows[i], plan.Rows[j] = plan.Rows[j], plan.Rows[i] })
	return plan
}

func curveID(i int) string { return fmt.Sprintf("N%03d", i) }

// Batches splits rows into ingestion batches of at most size rows.
func Batches(rows []model.ObservationRow, size int, newID func() string) []model.Batch {
	if size < 1 {
		size = DefaultBatchSize
	}
	out := make([]model.Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, model.Batch{ID: newID(), Rows: rows[start:end]})
	}
	return out
}
