package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"

	"github.com/rs/zerolog/log"
)

// DefaultCommitTimeout bounds the transactional phase of a batch.
const DefaultCommitTimeout = 10 * time.Second

// Request is one per-KPI update produced from a file's resolved mappings. AddedValue is in the
// KPI's canonical unit.
type Request struct {
	KPIID          string  `json:"kpi_id"`
	AddedValue     float64 `json:"added_value"`
	SourceFileID   int64   `json:"source_file_id"`
	Period         string  `json:"period,omitempty"`
	Unit           string  `json:"unit,omitempty"`
	RecordCount    int     `json:"record_count"`
	Confidence     float64 `json:"confidence"`
	MappingDetails string  `json:"mapping_details,omitempty"`
	RawLabel       string  `json:"raw_label,omitempty"`
}

// FailureKind classifies why a request did not contribute.
type FailureKind string

const (
	KindUnknownKPI         FailureKind = "unknown_kpi"
	KindInactiveKPI        FailureKind = "inactive_kpi"
	KindUnknownFile        FailureKind = "unknown_file"
	KindInvalidValue       FailureKind = "invalid_value"
	KindAlreadyContributed FailureKind = "already_contributed"
	KindLookupFailed       FailureKind = "lookup_failed"
	KindWriteFailure       FailureKind = "write_failure"
)

// Failure is a rejected or failed request.
type Failure struct {
	KPIID  string      `json:"kpi_id"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// WriteFailure reports that a single KPI's transactional write failed.
type WriteFailure struct {
	KPIID string
	Err   error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("aggregation write failed for %s: %v", e.KPIID, e.Err)
}

func (e *WriteFailure) Unwrap() error {
	return e.Err
}

// Duplicate is a request excluded without being applied, usually because the same value was
// already on file.
type Duplicate struct {
	KPIID  string  `json:"kpi_id"`
	Period string  `json:"period,omitempty"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// Plan is the validated subset of a batch, ready to commit.
type Plan struct {
	Accepted []Request
	Failed   []Failure
	Skipped  []Duplicate
}

// BatchResult is the outcome of a batch. Successful and Failed never share a KPI id: a request
// that fails for a KPI which succeeded elsewhere in the batch is reported under Skipped.
type BatchResult struct {
	Successful         []string    `json:"successful"`
	Failed             []Failure   `json:"failed"`
	Duplicates         int         `json:"duplicates"`
	Skipped            []Duplicate `json:"skipped,omitempty"`
	TotalContributions int         `json:"total_contributions"`
}

// Options configures an Aggregator.
type Options struct {
	CommitTimeout time.Duration
}

// Aggregator maintains the per-KPI running totals and their contribution ledger.
type Aggregator struct {
	store         store.Store
	tax           *taxonomy.Taxonomy
	commitTimeout time.Duration
	now           func() time.Time
}

// New creates an Aggregator over st. KPI ids are validated against tax.
func New(st store.Store, tax *taxonomy.Taxonomy, opts Options) *Aggregator {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}
	return &Aggregator{
		store:         st,
		tax:           tax,
		commitTimeout: opts.CommitTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate plans and commits a batch.
func (a *Aggregator) Aggregate(ctx context.Context, reqs []Request) (*BatchResult, error) {
	plan, err := a.Plan(ctx, reqs)
	if err != nil {
		return nil, err
	}
	return a.Commit(ctx, plan)
}

// Plan validates every request outside any transaction. Rejections are collected per request;
// an error is returned only when ctx is done.
func (a *Aggregator) Plan(ctx context.Context, reqs []Request) (*Plan, error) {
	plan := &Plan{}
	files := make(map[int64]error)
	type batchKey struct {
		kpiID  string
		period string
	}
	seen := make(map[batchKey][]float64)
	type fileKey struct {
		kpiID  string
		fileID int64
	}
	claimed := make(map[fileKey]bool)

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// 1. KPI must exist and accept contributions
		def, ok := a.tax.Get(req.KPIID)
		if !ok {
			plan.reject(req, KindUnknownKPI, "kpi is not in the taxonomy")
			continue
		}
		if !def.Active() {
			plan.reject(req, KindInactiveKPI, "kpi is deprecated")
			continue
		}

		// 2. Value must be finite and non-negative
		if math.IsNaN(req.AddedValue) || math.IsInf(req.AddedValue, 0) {
			plan.reject(req, KindInvalidValue, "value is not finite")
			continue
		}
		if req.AddedValue < 0 {
			plan.reject(req, KindInvalidValue, fmt.Sprintf("negative value %g", req.AddedValue))
			continue
		}
		if req.RecordCount < 0 {
			plan.reject(req, KindInvalidValue, fmt.Sprintf("negative record count %d", req.RecordCount))
			continue
		}

		// 3. Source file must exist
		fileErr, checked := files[req.SourceFileID]
		if !checked {
			_, fileErr = a.store.GetFile(ctx, req.SourceFileID)
			files[req.SourceFileID] = fileErr
		}
		if fileErr != nil {
			if store.IsNotFound(fileErr) {
				plan.reject(req, KindUnknownFile, fmt.Sprintf("file %d does not exist", req.SourceFileID))
			} else {
				plan.reject(req, KindLookupFailed, fileErr.Error())
			}
			continue
		}

		// 4. One contribution per KPI and file
		ledger, err := a.store.ListContributions(ctx, store.ContributionFilter{KPIID: req.KPIID})
		if err != nil {
			plan.reject(req, KindLookupFailed, err.Error())
			continue
		}
		if prev, found := findFile(ledger, req.SourceFileID); found {
			if sameValue(prev.ContributedValue, req.AddedValue) {
				plan.skip(req, "file already contributed this value")
			} else {
				plan.reject(req, KindAlreadyContributed,
					fmt.Sprintf("file %d already contributed %g", req.SourceFileID, prev.ContributedValue))
			}
			continue
		}
		key := fileKey{req.KPIID, req.SourceFileID}
		if claimed[key] {
			plan.skip(req, "kpi appears more than once for this file in the batch")
			continue
		}

		// 5. Same value for the same period already on file
		records, err := a.store.FindValueRecords(ctx, req.KPIID, req.Period)
		if err != nil {
			plan.reject(req, KindLookupFailed, err.Error())
			continue
		}
		if reason, dup := duplicateOf(req, records, ledger, seen[batchKey{req.KPIID, req.Period}]); dup {
			plan.skip(req, reason)
			continue
		}

		claimed[key] = true
		seen[batchKey{req.KPIID, req.Period}] = append(seen[batchKey{req.KPIID, req.Period}], req.AddedValue)
		plan.Accepted = append(plan.Accepted, req)
	}
	return plan, nil
}

func (p *Plan) reject(req Request, kind FailureKind, reason string) {
	p.Failed = append(p.Failed, Failure{KPIID: req.KPIID, Kind: kind, Reason: reason})
}

func (p *Plan) skip(req Request, reason string) {
	p.Skipped = append(p.Skipped, Duplicate{KPIID: req.KPIID, Period: req.Period, Value: req.AddedValue, Reason: reason})
}

// separate moves failures of KPIs that also succeeded into Skipped.
func (r *BatchResult) separate() {
	ok := make(map[string]bool, len(r.Successful))
	for _, id := range r.Successful {
		ok[id] = true
	}
	kept := r.Failed[:0]
	for _, f := range r.Failed {
		if !ok[f.KPIID] {
			kept = append(kept, f)
			continue
		}
		r.Skipped = append(r.Skipped, Duplicate{KPIID: f.KPIID, Reason: fmt.Sprintf("%s: %s", f.Kind, f.Reason)})
		r.Duplicates++
	}
	r.Failed = kept
}

func findFile(ledger []store.Contribution, fileID int64) (store.Contribution, bool) {
	for _, c := range ledger {
		if c.SourceFileID == fileID {
			return c, true
		}
	}
	return store.Contribution{}, false
}

func duplicateOf(req Request, records []store.ValueRecord, ledger []store.Contribution, batch []float64) (string, bool) {
	for _, r := range records {
		if sameValue(r.Value, req.AddedValue) {
			return fmt.Sprintf("value already recorded by file %d", r.FileID), true
		}
	}
	for _, c := range ledger {
		if c.Period == req.Period && sameValue(c.ContributedValue, req.AddedValue) {
			return fmt.Sprintf("value already contributed by file %d", c.SourceFileID), true
		}
	}
	for _, v := range batch {
		if sameValue(v, req.AddedValue) {
			return "value repeated earlier in the batch", true
		}
	}
	return "", false
}

// sameValue compares disclosed values with a relative tolerance that absorbs unit-conversion
// rounding.
func sameValue(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-9*scale
}

// Commit applies the plan in one transaction bounded by the commit timeout. Each request runs in
// its own savepoint, so a failed write only affects that KPI. A transaction-level error marks
// every accepted request as failed and is returned.
func (a *Aggregator) Commit(ctx context.Context, plan *Plan) (*BatchResult, error) {
	res := &BatchResult{
		Failed:     append([]Failure(nil), plan.Failed...),
		Duplicates: len(plan.Skipped),
		Skipped:    append([]Duplicate(nil), plan.Skipped...),
	}
	if len(plan.Accepted) == 0 {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.commitTimeout)
	defer cancel()

	var successful []string
	var failed []Failure
	var skipped []Duplicate
	start := time.Now()

	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		successful, failed, skipped = nil, nil, nil
		for _, req := range plan.Accepted {
			var dup bool
			err := tx.Savepoint(ctx, func() error {
				var err error
				dup, err = a.apply(ctx, tx, req)
				return err
			})
			switch {
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				wf := &WriteFailure{KPIID: req.KPIID, Err: err}
				log.Warn().Err(err).Str("kpi", req.KPIID).Int64("file_id", req.SourceFileID).Msg("Aggregation write failed")
				failed = append(failed, Failure{KPIID: req.KPIID, Kind: KindWriteFailure, Reason: wf.Error()})
			case dup:
				skipped = append(skipped, Duplicate{KPIID: req.KPIID, Period: req.Period, Value: req.AddedValue,
					Reason: "file contributed concurrently"})
			default:
				successful = append(successful, req.KPIID)
			}
		}
		return nil
	})
	if err != nil {
		for _, req := range plan.Accepted {
			res.Failed = append(res.Failed, Failure{KPIID: req.KPIID, Kind: KindWriteFailure, Reason: err.Error()})
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = fmt.Errorf("commit exceeded %s: %w", a.commitTimeout, err)
		}
		return res, fmt.Errorf("aggregation commit failed: %w", err)
	}

	res.Successful = successful
	res.Failed = append(res.Failed, failed...)
	res.Skipped = append(res.Skipped, skipped...)
	res.Duplicates += len(skipped)
	res.TotalContributions = len(successful)
	res.separate()

	log.Debug().
		Int("successful", len(successful)).
		Int("failed", len(res.Failed)).
		Int("duplicates", res.Duplicates).
		Dur("commit", time.Since(start)).
		Msg("Aggregation batch committed")
	return res, nil
}

// apply writes one request. It reports dup when the file's contribution already exists.
func (a *Aggregator) apply(ctx context.Context, tx store.Tx, req Request) (bool, error) {
	if _, err := tx.GetContribution(ctx, req.KPIID, req.SourceFileID); err == nil {
		return true, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}

	cur, err := tx.GetCumulative(ctx, req.KPIID)
	if err != nil {
		if !store.IsNotFound(err) {
			return false, err
		}
		cur = a.newCumulative(req)
	}

	now := a.now()
	cur.CumulativeValue += req.AddedValue
	cur.RecordCount += req.RecordCount
	cur.AddFile(req.SourceFileID)
	cur.LastUpdated = now

	if err := tx.PutCumulative(ctx, *cur); err != nil {
		return false, err
	}
	if err := tx.AddContribution(ctx, store.Contribution{
		KPIID:            req.KPIID,
		SourceFileID:     req.SourceFileID,
		Period:           req.Period,
		ContributedValue: req.AddedValue,
		RecordCount:      req.RecordCount,
		Confidence:       req.Confidence,
		MappingDetails:   req.MappingDetails,
		CreatedAt:        now,
	}); err != nil {
		return false, err
	}
	return false, tx.AddValueRecord(ctx, store.ValueRecord{
		KPIID:    req.KPIID,
		FileID:   req.SourceFileID,
		Period:   req.Period,
		Value:    req.AddedValue,
		Unit:     cur.Unit,
		RawLabel: req.RawLabel,
	})
}

func (a *Aggregator) newCumulative(req Request) *store.CumulativeKPI {
	c := &store.CumulativeKPI{KPIID: req.KPIID, Unit: req.Unit}
	if def, ok := a.tax.Get(req.KPIID); ok {
		c.DisplayName = def.Name
		if c.Unit == "" {
			c.Unit = def.CanonicalUnit
		}
	}
	return c
}
