// Package merge consolidates repeated section entries of one route.
package merge

import (
	"strings"

	"github.com/okian/normscope/internal/domain/model"
)

// Result is the consolidated section list of one route.
type Result struct {
	Sections []model.SectionEntry
	Warnings []model.MergeWarning
	Dropped  []string
}

type acc struct {
	entry      model.SectionEntry
	n          int
	loadWeight float64 // Σ load*distance
	loadDist   float64 // Σ distance of entries with a load
	loadSum    float64 // Σ non-zero load
	loadCount  int
}

// Sections merges entries sharing a name. Distance, gross-ton-km and
// both consumptions are summed. Load becomes the distance-weighted mean,
// or the plain mean of non-zero loads when no entry has a distance. The
// first non-empty norm id is kept and every differing one is reported as
// a warning. Sections with zero distance and zero consumption after the
// merge are dropped. Output keeps the order of first appearance.
func Sections(entries []model.SectionEntry) Result {
	var (
		order []string
		byKey = make(map[string]*acc, len(entries))
		res   Result
	)
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		a, ok := byKey[name]
		if !ok {
			a = &acc{entry: model.SectionEntry{Name: name}}
			byKey[name] = a
			order = append(order, name)
		}
		a.add(e, &res)
	}

	res.Sections = make([]model.SectionEntry, 0, len(order))
	for _, name := range order {
		a := byKey[name]
		s := a.finish()
		if s.Distance == 0 && s.ActualConsumption == 0 && s.NormConsumption == 0 {
			res.Dropped = append(res.Dropped, name)
			continue
		}
		res.Sections = append(res.Sections, s)
	}
	return res
}

func (a *acc) add(e model.SectionEntry, res *Result) {
	a.n++
	a.entry.Distance += e.Distance
	a.entry.GrossTonKm += e.GrossTonKm
	a.entry.ActualConsumption += e.ActualConsumption
	a.entry.NormConsumption += e.NormConsumption
	if e.Load > 0 {
		a.loadWeight += e.Load * e.Distance
		a.loadDist += e.Distance
		a.loadSum += e.Load
		a.loadCount++
	}

	id := strings.TrimSpace(e.NormID)
	switch {
	case id == "":
	case a.entry.NormID == "":
		a.entry.NormID = id
	case a.entry.NormID != id:
		res.Warnings = append(res.Warnings, model.MergeWarning{
			Section:     a.entry.Name,
			KeptNormID:  a.entry.NormID,
			OtherNormID: id,
		})
	}
}

func (a *acc) finish() model.SectionEntry {
	s := a.entry
	switch {
	case a.n == 1:
		s.Load = a.loadSum
	case a.loadDist > 0:
		s.Load = a.loadWeight / a.loadDist
	case a.loadCount > 0:
		s.Load = a.loadSum / float64(a.loadCount)
	}
	return s
}

// Route applies Sections to a canonical route and returns the updated copy.
func Route(r model.CanonicalRoute) model.CanonicalRoute {
	res := Sections(r.Sections)
	r.Sections = res.Sections
	r.Warnings = res.Warnings
	return r
}
