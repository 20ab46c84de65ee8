package aggregation

import (
	"sort"

	"zeroledger/internal/models"
	"zeroledger/internal/normalizer"
)

// Unspecified is the category used when the dimension value is empty.
const Unspecified = "Unspecified"

// monthLayout keys the per-category monthly volume.
const monthLayout = "2006-01"

// accumulator holds exact, mergeable counts. Accumulators built from disjoint
// sets of complaint IDs can be summed.
type accumulator struct {
	seen       *idSet
	total      int
	categories map[string]int
	monthly    map[string]map[string]int
	timely     int
	late       int
	unknown    int
	unmapped   int
	regions    map[string]*regionCounts
}

type regionCounts struct {
	complaints int
	timely     int
	companies  map[string]int
	issues     map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		seen:       newIDSet(),
		categories: make(map[string]int),
		monthly:    make(map[string]map[string]int),
		regions:    make(map[string]*regionCounts),
	}
}

// add counts r unless its ID was already seen.
func (a *accumulator) add(r models.ComplaintRecord, dim Dimension) bool {
	if a.seen.has(r.ID) {
		return false
	}
	a.seen.insert(r.ID)
	a.total++

	category := dim.value(r)
	a.categories[category]++
	if !r.SubmittedAt.IsZero() {
		a.addMonth(category, r.SubmittedAt.UTC().Format(monthLayout), 1)
	}

	switch r.Timely {
	case models.TristateTrue:
		a.timely++
	case models.TristateFalse:
		a.late++
	default:
		a.unknown++
	}

	if _, ok := normalizer.RegionName(r.Region); !ok {
		a.unmapped++
		return true
	}

	rc := a.region(r.Region)
	rc.complaints++
	if r.Timely == models.TristateTrue {
		rc.timely++
	}
	if r.Company != "" {
		rc.companies[r.Company]++
	}
	rc.issues[category]++
	return true
}

func (a *accumulator) addMonth(category, month string, n int) {
	m := a.monthly[category]
	if m == nil {
		m = make(map[string]int)
		a.monthly[category] = m
	}
	m[month] += n
}

func (a *accumulator) region(code string) *regionCounts {
	rc := a.regions[code]
	if rc == nil {
		rc = &regionCounts{companies: make(map[string]int), issues: make(map[string]int)}
		a.regions[code] = rc
	}
	return rc
}

// merge folds o into a. The ID sets must be disjoint.
func (a *accumulator) merge(o *accumulator) {
	o.seen.each(a.seen.insert)
	a.mergeCounts(o)
}

func (a *accumulator) mergeCounts(o *accumulator) {
	a.total += o.total
	for k, v := range o.categories {
		a.categories[k] += v
	}
	for category, months := range o.monthly {
		for month, n := range months {
			a.addMonth(category, month, n)
		}
	}
	a.timely += o.timely
	a.late += o.late
	a.unknown += o.unknown
	a.unmapped += o.unmapped

	for code, orc := range o.regions {
		rc := a.region(code)
		rc.complaints += orc.complaints
		rc.timely += orc.timely
		for k, v := range orc.companies {
			rc.companies[k] += v
		}
		for k, v := range orc.issues {
			rc.issues[k] += v
		}
	}
}

// clone copies the counts, whose size depends on distinct keys only, and
// layers a fresh ID set over a's. a must not be written afterwards.
func (a *accumulator) clone() *accumulator {
	c := newAccumulator()
	c.seen = a.seen.child()
	c.mergeCounts(a)
	return c
}

func (a *accumulator) view() ([]models.CategoryCount, models.TimelyStats, []models.RegionStat) {
	categories := rank(a.categories)

	timely := models.TimelyStats{Timely: a.timely, Late: a.late, Unknown: a.unknown}
	if closed := a.timely + a.late; closed > 0 {
		timely.Rate = float64(a.timely) / float64(closed)
	}

	canonical := normalizer.Regions()
	regions := make([]models.RegionStat, 0, len(canonical))
	for _, r := range canonical {
		stat := models.RegionStat{Code: r.Code, Name: r.Name}
		if rc := a.regions[r.Code]; rc != nil {
			stat.Complaints = rc.complaints
			stat.Companies = len(rc.companies)
			stat.TimelyClosed = rc.timely
			stat.TopIssue = top(rc.issues)
			stat.TopCompany = top(rc.companies)
		}
		regions = append(regions, stat)
	}
	return categories, timely, regions
}

// latestMonth is the most recent submission month across all categories.
func (a *accumulator) latestMonth() string {
	latest := ""
	for _, months := range a.monthly {
		for m := range months {
			if m > latest {
				latest = m
			}
		}
	}
	return latest
}

// rank orders counts by count desc then name asc.
func rank(counts map[string]int) []models.CategoryCount {
	out := make([]models.CategoryCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, models.CategoryCount{Category: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func top(counts map[string]int) string {
	best, bestCount := "", 0
	for k, v := range counts {
		if v > bestCount || (v == bestCount && k < best) {
			best, bestCount = k, v
		}
	}
	return best
}

// idSet is a set of complaint IDs stored as a stack of layers. Only the top
// layer is written; lower layers are shared with older snapshots and never
// change. A layer is folded into the one above it once the upper layer is at
// least as large, which keeps the stack logarithmic in the set size.
type idSet struct {
	parent *idSet
	ids    map[string]struct{}
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[string]struct{})}
}

// child returns a writable set containing s. s becomes read-only.
func (s *idSet) child() *idSet {
	return &idSet{parent: s, ids: make(map[string]struct{})}
}

func (s *idSet) has(id string) bool {
	for l := s; l != nil; l = l.parent {
		if _, ok := l.ids[id]; ok {
			return true
		}
	}
	return false
}

// insert adds an ID known to be absent.
func (s *idSet) insert(id string) {
	s.ids[id] = struct{}{}
	for s.parent != nil && len(s.ids) >= len(s.parent.ids) {
		for k := range s.parent.ids {
			s.ids[k] = struct{}{}
		}
		s.parent = s.parent.parent
	}
}

func (s *idSet) each(fn func(string)) {
	for l := s; l != nil; l = l.parent {
		for id := range l.ids {
			fn(id)
		}
	}
}
