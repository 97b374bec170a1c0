// Package dedupe reconciles duplicate observation rows and tracks seen
// ingestion batches.
package dedupe

import (
	"math"
	"sort"
	"strconv"

	"github.com/okian/normscope/internal/domain/model"
)

// Outcome tags what happened to one input row.
type Outcome int

// Row outcomes.
const (
	Kept Outcome = iota
	Discarded
)

func (o Outcome) String() string {
	if o == Kept {
		return "kept"
	}
	return "discarded"
}

// MarshalText renders the outcome for JSON output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Decision is the outcome for the row at Index.
type Decision struct {
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`
	Group   string  `json:"group"`
}

// Entry is a row with its position in the caller's sequence. Positions
// break ties between otherwise equal rows, earliest first.
type Entry struct {
	Index int
	Row   model.ObservationRow
}

// Resolution is the output of a resolver pass.
type Resolution struct {
	Routes     []model.CanonicalRoute
	Decisions  []Decision
	Incomplete int
}

// KeptCount returns the number of canonical routes.
func (r Resolution) KeptCount() int { return len(r.Routes) }

// DiscardedCount returns the number of rows that lost to a better duplicate.
func (r Resolution) DiscardedCount() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Outcome == Discarded {
			n++
		}
	}
	return n
}

// GroupKey returns the grouping key of a row. Rows with an incomplete
// natural key get a key unique to their position and never group.
func GroupKey(e Entry) string {
	if e.Row.Key.Completeness() == model.KeyIncomplete {
		return "incomplete#" + strconv.Itoa(e.Index)
	}
	return e.Row.Key.String()
}

// Resolve groups rows by natural key and picks one canonical row per group.
// Row positions are the slice indices.
func Resolve(rows []model.ObservationRow) Resolution {
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{Index: i, Row: r}
	}
	return ResolveEntries(entries)
}

// ResolveEntries is Resolve over explicitly positioned rows. Routes come
// out in order of their group's first appearance in entries.
func ResolveEntries(entries []Entry) Resolution {
	var (
		order  []string
		groups = make(map[string][]Entry)
		res    = Resolution{Decisions: make([]Decision, 0, len(entries))}
	)
	for _, e := range entries {
		key := GroupKey(e)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	res.Routes = make([]model.CanonicalRoute, 0, len(order))
	for _, key := range order {
		members := groups[key]
		sort.SliceStable(members, func(i, j int) bool { return better(members[i], members[j]) })

		best := members[0]
		route := model.CanonicalRoute{
			Key:            best.Row.Key,
			Completeness:   best.Row.Key.Completeness(),
			Row:            best.Row.Clone(),
			Sections:       append([]model.SectionEntry(nil), best.Row.Sections...),
			DuplicateCount: len(members),
		}
		if route.Completeness == model.KeyIncomplete {
			res.Incomplete++
		}
		res.Decisions = append(res.Decisions, Decision{Index: best.Index, Outcome: Kept, Group: key})
		for _, m := range members[1:] {
			route.Discarded = append(route.Discarded, model.DiscardedRow{
				Key:        m.Row.Key,
				Provenance: m.Row.Provenance,
				Index:      m.Index,
			})
			res.Decisions = append(res.Decisions, Decision{Index: m.Index, Outcome: Discarded, Group: key})
		}
		res.Routes = append(res.Routes, route)
	}

	sort.Slice(res.Decisions, func(i, j int) bool { return res.Decisions[i].Index < res.Decisions[j].Index })
	return res
}

// better orders candidates of one group: more populated optional fields,
// then higher total consumption, then newer provenance, then earlier
// position. A non-finite total ranks below any finite one, and two
// non-finite totals tie.
func better(a, b Entry) bool {
	if ca, cb := a.Row.Completeness(), b.Row.Completeness(); ca != cb {
		return ca > cb
	}
	ta, tb := a.Row.TotalConsumption(), b.Row.TotalConsumption()
	fa, fb := finite(ta), finite(tb)
	if fa != fb {
		return fa
	}
	if fa && ta != tb {
		return ta > tb
	}
	if pa, pb := a.Row.Provenance.Timestamp, b.Row.Provenance.Timestamp; !pa.Equal(pb) {
		return pa.After(pb)
	}
	return a.Index < b.Index
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
