package distmon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MergeJob merges Sources into Dest
type MergeJob struct {
	Dest    *Monitor
	Sources []*Monitor
}

// Aggregator merges instance monitors into destination monitors. Merges into
// the same destination never overlap; distinct destinations run in parallel.
type Aggregator struct {
	BaseCollector
	merger *Merger

	locks sync.Map // MonKey -> *sync.Mutex

	runs     atomic.Int64
	failures atomic.Int64
	created  atomic.Int64
	rows     atomic.Int64
	accepted atomic.Int64
}

// NewAggregator creates an aggregator. logger may be nil.
func NewAggregator(name string, logger *zap.Logger) *Aggregator {
	base := NewBaseCollector(name, logger)
	return &Aggregator{
		BaseCollector: base,
		merger:        NewMerger(base.logger),
	}
}

func (a *Aggregator) lockFor(key MonKey) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// MergeInto merges each source into dest in order. ctx is checked between
// sources. Sources that are nil or dest itself are skipped.
func (a *Aggregator) MergeInto(ctx context.Context, dest *Monitor, sources ...*Monitor) error {
	if dest == nil {
		return nil
	}
	mu := a.lockFor(dest.Key())
	mu.Lock()
	defer mu.Unlock()

	runID := uuid.NewString()
	start := time.Now()
	var total MergeStats

	a.runs.Add(1)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			a.failures.Add(1)
			return err
		}
		if src == nil || src == dest {
			continue
		}

		stats, err := a.merger.Merge(src, dest)
		a.record(stats)
		total.Listeners += stats.Listeners
		total.Created += stats.Created
		total.Rows += stats.Rows
		total.Accepted += stats.Accepted
		if err != nil {
			a.failures.Add(1)
			a.logger.Error("merge failed",
				zap.String("run_id", runID),
				zap.Stringer("source", src.Key()),
				zap.Stringer("dest", dest.Key()),
				zap.Error(err))
			return fmt.Errorf("merge %s into %s: %w", src.Key(), dest.Key(), err)
		}
	}

	a.logger.Debug("merge run complete",
		zap.String("run_id", runID),
		zap.Stringer("dest", dest.Key()),
		zap.Int("sources", len(sources)),
		zap.Int("listeners", total.Listeners),
		zap.Int("created", total.Created),
		zap.Int("rows", total.Rows),
		zap.Int("accepted", total.Accepted),
		zap.Duration("took", time.Since(start)))
	return nil
}

// MergeAll runs the jobs with one goroutine per job and returns the first error.
// The remaining jobs see a cancelled context once one fails.
func (a *Aggregator) MergeAll(ctx context.Context, jobs []MergeJob) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return a.MergeInto(ctx, job.Dest, job.Sources...)
		})
	}
	return g.Wait()
}

func (a *Aggregator) record(stats MergeStats) {
	a.created.Add(int64(stats.Created))
	a.rows.Add(int64(stats.Rows))
	a.accepted.Add(int64(stats.Accepted))
}

// Collect implements Collector interface
func (a *Aggregator) Collect() []Metric {
	now := time.Now()
	counters := []struct {
		name  string
		value int64
	}{
		{"merge_runs_total", a.runs.Load()},
		{"merge_failures_total", a.failures.Load()},
		{"merge_listeners_created_total", a.created.Load()},
		{"merge_rows_copied_total", a.rows.Load()},
		{"merge_rows_accepted_total", a.accepted.Load()},
	}

	metrics := make([]Metric, 0, len(counters))
	for _, c := range counters {
		metrics = append(metrics, Metric{
			Name:       c.name,
			Value:      float64(c.value),
			Labels:     map[string]string{},
			MetricType: Counter,
			Timestamp:  now,
		})
	}
	return metrics
}
