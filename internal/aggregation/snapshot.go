// Package aggregation maintains the analytical snapshot over the complaint
// corpus: category ranking, timeliness and the per-region table.
package aggregation

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zeroledger/internal/models"
)

// Dimension selects the record field used as the category.
type Dimension string

const (
	DimensionSubIssue Dimension = "sub_issue"
	DimensionProduct  Dimension = "product"
)

func (d Dimension) value(r models.ComplaintRecord) string {
	var v string
	switch d {
	case DimensionProduct:
		v = r.Product
	default:
		v = r.SubIssue
	}
	if v == "" {
		return Unspecified
	}
	return v
}

// Options control snapshot construction.
type Options struct {
	Dimension Dimension
	Workers   int
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Dimension == "" {
		o.Dimension = DimensionSubIssue
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Snapshot is an immutable aggregate. The exported view is built once and
// never modified; the accumulator lets increments be applied exactly.
type Snapshot struct {
	view models.AggregateSnapshot
	acc  *accumulator
	dim  Dimension
}

// Empty returns the snapshot of an empty corpus.
func Empty(opts Options) *Snapshot {
	opts = opts.withDefaults()
	return build(newAccumulator(), opts)
}

// View returns the read-only aggregate.
func (s *Snapshot) View() *models.AggregateSnapshot {
	return &s.view
}

// Contains reports whether the complaint ID has been counted.
func (s *Snapshot) Contains(id string) bool {
	return s.acc.seen.has(id)
}

// Trend returns the monthly volume of category over the months ending with
// the latest submission month in the corpus. Missing months are zero-filled;
// records without a submission date are not counted.
func (s *Snapshot) Trend(category string, months int) models.CategoryTrend {
	trend := models.CategoryTrend{Category: category, Months: []models.MonthCount{}}
	latest := s.acc.latestMonth()
	if latest == "" || months <= 0 {
		return trend
	}
	end, err := time.Parse(monthLayout, latest)
	if err != nil {
		return trend
	}

	counts := s.acc.monthly[category]
	start := end.AddDate(0, -(months - 1), 0)
	for i := 0; i < months; i++ {
		month := start.AddDate(0, i, 0).Format(monthLayout)
		n := counts[month]
		trend.Months = append(trend.Months, models.MonthCount{Month: month, Count: n})
		trend.Total += n
	}
	return trend
}

func build(acc *accumulator, opts Options) *Snapshot {
	categories, timely, regions := acc.view()
	return &Snapshot{
		view: models.AggregateSnapshot{
			ID:           uuid.NewString(),
			AsOf:         opts.Now().UTC(),
			TotalRecords: acc.total,
			Categories:   categories,
			Timely:       timely,
			Regions:      regions,
			Unmapped:     acc.unmapped,
		},
		acc: acc,
		dim: opts.Dimension,
	}
}

// Recompute builds a snapshot from scratch. Records are partitioned by a hash
// of the complaint ID so duplicates land in the same partition, where the
// first occurrence wins. Partial results are merged in partition order.
func Recompute(ctx context.Context, records []models.ComplaintRecord, opts Options) (*Snapshot, error) {
	opts = opts.withDefaults()

	workers := opts.Workers
	if workers > len(records) {
		workers = len(records)
	}
	if workers <= 1 {
		acc := newAccumulator()
		for _, r := range records {
			acc.add(r, opts.Dimension)
		}
		return build(acc, opts), nil
	}

	partitions := make([][]models.ComplaintRecord, workers)
	for _, r := range records {
		p := partition(r.ID, workers)
		partitions[p] = append(partitions[p], r)
	}

	partials := make([]*accumulator, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range partitions {
		g.Go(func() error {
			acc := newAccumulator()
			for n, r := range partitions[i] {
				if n%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				acc.add(r, opts.Dimension)
			}
			partials[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recompute snapshot: %w", err)
	}

	merged := newAccumulator()
	for _, p := range partials {
		merged.merge(p)
	}
	return build(merged, opts), nil
}

// ApplyIncrement returns a new snapshot equal to recomputing over the prior
// corpus followed by records. The prior snapshot is left untouched and is
// returned as is when every record was already counted. The cost is linear
// in the batch and in the number of distinct count keys, not in the corpus.
func ApplyIncrement(prior *Snapshot, records []models.ComplaintRecord, opts Options) *Snapshot {
	opts = opts.withDefaults()
	opts.Dimension = prior.dim

	fresh := records[:0:0]
	for _, r := range records {
		if !prior.Contains(r.ID) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return prior
	}

	acc := prior.acc.clone()
	for _, r := range fresh {
		acc.add(r, opts.Dimension)
	}
	return build(acc, opts)
}

func partition(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

// Equal compares the aggregate content of two snapshots, ignoring identity
// and build time.
func Equal(a, b *Snapshot) bool {
	return Diff(a, b) == ""
}

// Diff describes the first difference between two snapshots, or returns ""
// when their content matches.
func Diff(a, b *Snapshot) string {
	av, bv := a.View(), b.View()
	switch {
	case av.TotalRecords != bv.TotalRecords:
		return fmt.Sprintf("total records %d != %d", av.TotalRecords, bv.TotalRecords)
	case av.Unmapped != bv.Unmapped:
		return fmt.Sprintf("unmapped %d != %d", av.Unmapped, bv.Unmapped)
	case av.Timely != bv.Timely:
		return fmt.Sprintf("timely %+v != %+v", av.Timely, bv.Timely)
	case !reflect.DeepEqual(av.Categories, bv.Categories):
		return "category ranking differs"
	case !reflect.DeepEqual(a.acc.monthly, b.acc.monthly):
		return "monthly volume differs"
	}
	for i := range av.Regions {
		if i >= len(bv.Regions) || av.Regions[i] != bv.Regions[i] {
			return fmt.Sprintf("region %s differs", av.Regions[i].Code)
		}
	}
	if len(av.Regions) != len(bv.Regions) {
		return "region table length differs"
	}
	return ""
}
