package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.New([]taxonomy.KPIDefinition{
		{ID: "ghg_scope1", Name: "Scope 1 GHG Emissions", Category: taxonomy.Environment, CanonicalUnit: "tco2e"},
		{ID: "water_withdrawal", Name: "Water Withdrawal", Category: taxonomy.Environment, CanonicalUnit: "m3"},
		{ID: "employee_count", Name: "Employee Count", Category: taxonomy.Social, CanonicalUnit: "count"},
		{ID: "legacy", Name: "Legacy Metric", Category: taxonomy.Environment, CanonicalUnit: "t", Deprecated: true},
	})
	require.NoError(t, err)
	return tax
}

func newFile(t *testing.T, st store.Store, name string) int64 {
	t.Helper()
	f := &store.FileRecord{Name: name, Period: "2024"}
	require.NoError(t, st.CreateFile(context.Background(), f))
	return f.ID
}

func req(kpi string, fileID int64, value float64, records int) Request {
	return Request{KPIID: kpi, SourceFileID: fileID, Period: "2024", AddedValue: value, RecordCount: records, Confidence: 0.9}
}

// assertLedger checks that every running total equals the sum of its contributions.
func assertLedger(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	totals, err := st.ListCumulative(ctx)
	require.NoError(t, err)
	for _, c := range totals {
		contribs, err := st.ListContributions(ctx, store.ContributionFilter{KPIID: c.KPIID})
		require.NoError(t, err)
		var sum float64
		var records int
		var files []int64
		for _, k := range contribs {
			sum += k.ContributedValue
			records += k.RecordCount
			files = append(files, k.SourceFileID)
		}
		assert.InDelta(t, sum, c.CumulativeValue, 1e-6, "cumulative value of %s", c.KPIID)
		assert.Equal(t, records, c.RecordCount, "record count of %s", c.KPIID)
		assert.ElementsMatch(t, files, c.ContributingFileIDs, "contributing files of %s", c.KPIID)
		assert.GreaterOrEqual(t, c.CumulativeValue, 0.0)
	}
}

func TestAggregate_LedgerInvariant(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})

	f1 := newFile(t, st, "a.csv")
	f2 := newFile(t, st, "b.csv")

	res, err := agg.Aggregate(ctx, []Request{req("ghg_scope1", f1, 100.5, 3), req("water_withdrawal", f1, 42, 2)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ghg_scope1", "water_withdrawal"}, res.Successful)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.TotalContributions)

	res, err = agg.Aggregate(ctx, []Request{req("ghg_scope1", f2, 20.25, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghg_scope1"}, res.Successful)

	c, err := st.GetCumulative(ctx, "ghg_scope1")
	require.NoError(t, err)
	assert.InDelta(t, 120.75, c.CumulativeValue, 1e-9)
	assert.Equal(t, 4, c.RecordCount)
	assert.Equal(t, []int64{f1, f2}, c.ContributingFileIDs)
	assert.Equal(t, "Scope 1 GHG Emissions", c.DisplayName)
	assert.Equal(t, "tco2e", c.Unit)
	assertLedger(t, st)
}

func TestAggregate_ResubmissionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})

	f1 := newFile(t, st, "a.csv")
	batch := []Request{req("ghg_scope1", f1, 100, 3), req("water_withdrawal", f1, 42, 2)}
	_, err := agg.Aggregate(ctx, batch)
	require.NoError(t, err)

	res, err := agg.Aggregate(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, res.Successful)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Duplicates)

	// Same period and values from a new upload of the same data.
	f2 := newFile(t, st, "a-copy.csv")
	res, err = agg.Aggregate(ctx, []Request{req("ghg_scope1", f2, 100, 3), req("water_withdrawal", f2, 42, 2)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Duplicates)
	assert.Zero(t, res.TotalContributions)

	c, err := st.GetCumulative(ctx, "ghg_scope1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.CumulativeValue)
	assertLedger(t, st)
}

func TestAggregate_DifferentPeriodIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})

	f1 := newFile(t, st, "2023.csv")
	f2 := newFile(t, st, "2024.csv")
	first := req("ghg_scope1", f1, 100, 1)
	first.Period = "2023"

	_, err := agg.Aggregate(ctx, []Request{first})
	require.NoError(t, err)
	res, err := agg.Aggregate(ctx, []Request{req("ghg_scope1", f2, 100, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghg_scope1"}, res.Successful)
	assert.Zero(t, res.Duplicates)
}

func TestPlan_Rejections(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")

	_, err := agg.Aggregate(ctx, []Request{req("employee_count", f1, 10, 1)})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
		kind FailureKind
	}{
		{"unknown kpi", req("nope", f1, 1, 1), KindUnknownKPI},
		{"deprecated kpi", req("legacy", f1, 1, 1), KindInactiveKPI},
		{"negative value", req("ghg_scope1", f1, -5, 1), KindInvalidValue},
		{"nan", req("ghg_scope1", f1, math.NaN(), 1), KindInvalidValue},
		{"infinite", req("ghg_scope1", f1, math.Inf(1), 1), KindInvalidValue},
		{"negative count", req("ghg_scope1", f1, 1, -1), KindInvalidValue},
		{"unknown file", req("ghg_scope1", 999, 1, 1), KindUnknownFile},
		{"different value from same file", req("employee_count", f1, 11, 1), KindAlreadyContributed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := agg.Plan(ctx, []Request{tt.req})
			require.NoError(t, err)
			assert.Empty(t, plan.Accepted)
			require.Len(t, plan.Failed, 1)
			assert.Equal(t, tt.kind, plan.Failed[0].Kind)
			assert.NotEmpty(t, plan.Failed[0].Reason)
		})
	}
}

func TestPlan_BatchDuplicates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")
	f2 := newFile(t, st, "b.csv")

	plan, err := agg.Plan(ctx, []Request{
		req("ghg_scope1", f1, 10, 1),
		req("ghg_scope1", f2, 10, 1),
		req("water_withdrawal", f1, 5, 1),
		req("water_withdrawal", f1, 6, 1),
	})
	require.NoError(t, err)
	assert.Len(t, plan.Accepted, 2)
	require.Len(t, plan.Skipped, 2)
	assert.Equal(t, "ghg_scope1", plan.Skipped[0].KPIID)
	assert.Equal(t, "water_withdrawal", plan.Skipped[1].KPIID)
	assert.Empty(t, plan.Failed)

	res, err := agg.Commit(ctx, plan)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ghg_scope1", "water_withdrawal"}, res.Successful)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Duplicates)

	c, err := st.GetCumulative(ctx, "water_withdrawal")
	require.NoError(t, err)
	assert.InDelta(t, 5, c.CumulativeValue, 1e-9)
}

func TestCommit_SuccessAndFailureForSameKPIAreDisjoint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")
	f2 := newFile(t, st, "b.csv")

	_, err := agg.Aggregate(ctx, []Request{req("water_withdrawal", f1, 5, 1)})
	require.NoError(t, err)

	// f1 conflicts with its earlier contribution while f2 adds a new value.
	res, err := agg.Aggregate(ctx, []Request{
		req("water_withdrawal", f1, 7, 1),
		req("water_withdrawal", f2, 9, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"water_withdrawal"}, res.Successful)
	for _, f := range res.Failed {
		assert.NotEqual(t, "water_withdrawal", f.KPIID, "kpi reported as both successful and failed")
	}
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, string(KindAlreadyContributed))

	c, err := st.GetCumulative(ctx, "water_withdrawal")
	require.NoError(t, err)
	assert.InDelta(t, 14, c.CumulativeValue, 1e-9)
}

func TestPlan_CancelledContext(t *testing.T) {
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Plan(ctx, []Request{req("ghg_scope1", 1, 1, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}

// faultyStore fails or slows writes for selected KPIs inside transactions.
type faultyStore struct {
	*store.Memory
	failKPI string
	delay   time.Duration
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Memory.WithTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, s: f})
	})
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t *faultyTx) AddContribution(ctx context.Context, c store.Contribution) error {
	if c.KPIID == t.s.failKPI {
		return errors.New("disk full")
	}
	if t.s.delay > 0 {
		time.Sleep(t.s.delay)
	}
	return t.Tx.AddContribution(ctx, c)
}

func TestCommit_WriteFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Memory: store.NewMemory(), failKPI: "water_withdrawal"}
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")

	res, err := agg.Aggregate(ctx, []Request{
		req("ghg_scope1", f1, 10, 1),
		req("water_withdrawal", f1, 20, 1),
		req("employee_count", f1, 30, 1),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ghg_scope1", "employee_count"}, res.Successful)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "water_withdrawal", res.Failed[0].KPIID)
	assert.Equal(t, KindWriteFailure, res.Failed[0].Kind)
	assert.Contains(t, res.Failed[0].Reason, "disk full")
	assert.Equal(t, 2, res.TotalContributions)

	// The savepoint undid the running-total write that preceded the failure.
	_, err = st.GetCumulative(ctx, "water_withdrawal")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assertLedger(t, st)
}

func TestCommit_Timeout(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Memory: store.NewMemory(), delay: 50 * time.Millisecond}
	agg := New(st, testTaxonomy(t), Options{CommitTimeout: 10 * time.Millisecond})
	f1 := newFile(t, st, "a.csv")

	res, err := agg.Aggregate(ctx, []Request{req("ghg_scope1", f1, 10, 1), req("water_withdrawal", f1, 20, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Empty(t, res.Successful)
	assert.Len(t, res.Failed, 2)

	totals, err := st.ListCumulative(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestAggregate_ConcurrentBatches(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemory() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "agg.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			agg := New(st, testTaxonomy(t), Options{})

			const files = 12
			ids := make([]int64, files)
			for i := range ids {
				ids[i] = newFile(t, st, fmt.Sprintf("f%d.csv", i))
			}

			var wg sync.WaitGroup
			errs := make(chan error, files)
			for i, id := range ids {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := agg.Aggregate(ctx, []Request{
						req("ghg_scope1", id, float64(i+1), 1),
						req("water_withdrawal", id, float64(10*(i+1)), 2),
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			// 1+2+...+12 = 78
			c, err := st.GetCumulative(ctx, "ghg_scope1")
			require.NoError(t, err)
			assert.Equal(t, 78.0, c.CumulativeValue)
			assert.Len(t, c.ContributingFileIDs, files)

			w, err := st.GetCumulative(ctx, "water_withdrawal")
			require.NoError(t, err)
			assert.Equal(t, 780.0, w.CumulativeValue)
			assert.Equal(t, 2*files, w.RecordCount)
			assertLedger(t, st)
		})
	}
}

func TestRemoveFile(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")
	f2 := newFile(t, st, "b.csv")

	_, err := agg.Aggregate(ctx, []Request{req("ghg_scope1", f1, 0.1, 1), req("water_withdrawal", f1, 5, 2)})
	require.NoError(t, err)
	_, err = agg.Aggregate(ctx, []Request{req("ghg_scope1", f2, 0.2, 4)})
	require.NoError(t, err)

	reversed, err := agg.RemoveFile(ctx, f1)
	require.NoError(t, err)
	assert.Len(t, reversed, 2)

	c, err := st.GetCumulative(ctx, "ghg_scope1")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.CumulativeValue, 1e-12)
	assert.Equal(t, 4, c.RecordCount)
	assert.Equal(t, []int64{f2}, c.ContributingFileIDs)

	w, err := st.GetCumulative(ctx, "water_withdrawal")
	require.NoError(t, err)
	assert.Zero(t, w.CumulativeValue)
	assert.Zero(t, w.RecordCount)
	assert.Empty(t, w.ContributingFileIDs)

	records, err := st.FindValueRecords(ctx, "water_withdrawal", "2024")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The same data may be contributed again once removed.
	res, err := agg.Aggregate(ctx, []Request{req("water_withdrawal", f1, 5, 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"water_withdrawal"}, res.Successful)
	assertLedger(t, st)

	reversed, err = agg.RemoveFile(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, reversed)
}

func TestRemoveContribution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	agg := New(st, testTaxonomy(t), Options{})
	f1 := newFile(t, st, "a.csv")

	_, err := agg.Aggregate(ctx, []Request{req("ghg_scope1", f1, 7, 1), req("water_withdrawal", f1, 5, 2)})
	require.NoError(t, err)

	r, err := agg.RemoveContribution(ctx, "ghg_scope1", f1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, r.Value)
	assert.Zero(t, r.Remaining)

	w, err := st.GetCumulative(ctx, "water_withdrawal")
	require.NoError(t, err)
	assert.Equal(t, 5.0, w.CumulativeValue)

	_, err = agg.RemoveContribution(ctx, "ghg_scope1", f1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assertLedger(t, st)
}
