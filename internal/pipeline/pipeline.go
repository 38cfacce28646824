package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"esg-mcp/internal/aggregator"
	"esg-mcp/internal/compliance"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/notify"
	"esg-mcp/internal/resilience"
	"esg-mcp/internal/stats"
	"esg-mcp/internal/store"
	"esg-mcp/internal/units"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrCancelled is recorded on files whose processing was cancelled.
var ErrCancelled = errors.New("cancelled")

// FileInput is one ingested file.
type FileInput struct {
	// FileID is optional; zero creates a new file record.
	FileID   int64
	Name     string
	Period   string
	Standard string
	Table    stats.Table
	Mapping  stats.ColumnMapping
}

// FileResult is the outcome of processing one file.
type FileResult struct {
	File       *store.FileRecord         `json:"file"`
	Decisions  []matcher.MappingDecision `json:"decisions"`
	Batch      *aggregator.BatchResult   `json:"batch,omitempty"`
	Compliance *compliance.Result        `json:"compliance,omitempty"`
	Quality    stats.QualityReport       `json:"quality"`
	Converted  map[string]ConvertedValue `json:"converted,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// AcceptThreshold is the confidence a decision needs to contribute to running totals.
	AcceptThreshold float64
	FileWorkers     int
	DefaultStandard string
}

// Deps are the collaborators of an Orchestrator. Notifier may be nil.
type Deps struct {
	Store      store.Store
	Matcher    *matcher.Matcher
	Units      *units.Registry
	Aggregator *aggregator.Aggregator
	Scorer     *compliance.Scorer
	Notifier   notify.Notifier
}

// Orchestrator sequences grouping, matching, conversion, aggregation and scoring per file. It
// is the only component that knows about files as units of work.
type Orchestrator struct {
	store    store.Store
	matcher  *matcher.Matcher
	units    *units.Registry
	agg      *aggregator.Aggregator
	scorer   *compliance.Scorer
	notifier notify.Notifier
	opts     Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.AcceptThreshold <= 0 {
		opts.AcceptThreshold = 0.6
	}
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = 2
	}
	if opts.DefaultStandard == "" {
		opts.DefaultStandard = "ISSB"
	}
	return &Orchestrator{
		store:    deps.Store,
		matcher:  deps.Matcher,
		units:    deps.Units,
		agg:      deps.Aggregator,
		scorer:   deps.Scorer,
		notifier: deps.Notifier,
		opts:     opts,
	}
}

// Init copies the taxonomy into the store so persisted totals can be joined to KPI names.
func (o *Orchestrator) Init(ctx context.Context) error {
	defs := o.matcher.Taxonomy().All()
	kpis := make([]store.StandardKPI, 0, len(defs))
	for _, d := range defs {
		kpis = append(kpis, store.StandardKPI{
			ID:       d.ID,
			Name:     d.Name,
			Category: string(d.Category),
			Unit:     d.CanonicalUnit,
			Active:   d.Active(),
		})
	}
	if err := o.store.UpsertKPIs(ctx, kpis); err != nil {
		return fmt.Errorf("failed to sync taxonomy: %w", err)
	}
	log.Info().Int("kpis", len(kpis)).Msg("Taxonomy synced to store")
	return nil
}

// Store returns the persistence collaborator.
func (o *Orchestrator) Store() store.Store {
	return o.store
}

// ProcessFile runs one file through the pipeline. Only a ValidationError, an unknown standard or
// cancellation end the file in ERROR; every other problem becomes a warning on the file record.
func (o *Orchestrator) ProcessFile(ctx context.Context, in FileInput) (*FileResult, error) {
	start := time.Now()
	rec := &resilience.Recorder{}
	ctx = resilience.WithRecorder(ctx, rec)

	standard := strings.ToUpper(strings.TrimSpace(in.Standard))
	if standard == "" {
		standard = o.opts.DefaultStandard
	}

	// 1. File record -> PROCESSING
	file, err := o.openFile(ctx, in, standard)
	if err != nil {
		return nil, err
	}
	res := &FileResult{File: file}
	logger := log.With().Int64("file_id", file.ID).Str("file", file.Name).Str("run_id", file.RunID).Logger()
	logger.Info().Msg("Processing file")

	if _, ok := o.scorer.Frameworks().Get(standard); !ok {
		err := &compliance.UnknownStandardError{Standard: standard, Available: o.scorer.Frameworks().IDs()}
		return res, o.fail(ctx, file, start, err)
	}

	// 2. Group
	grouping, err := stats.Group(in.Table, in.Mapping)
	if err != nil {
		return res, o.fail(ctx, file, start, err)
	}
	res.Quality = grouping.Quality
	if file.Period == "" {
		file.Period = derivePeriod(grouping.Groups)
	}

	// 3. Match
	decisions, err := o.matcher.MatchAll(ctx, grouping.Groups)
	if err != nil {
		return res, o.fail(ctx, file, start, err)
	}
	res.Decisions = decisions

	// 4. Convert and merge per KPI
	conv := o.convert(grouping.Groups, decisions, file.Period)
	res.Converted = conv.values
	file.Warnings = append(file.Warnings, conv.warnings...)

	if err := ctx.Err(); err != nil {
		return res, o.fail(ctx, file, start, err)
	}

	// 5. Aggregate
	batch, err := o.agg.Aggregate(ctx, conv.requests(file.ID))
	if err != nil && (batch == nil || ctx.Err() != nil) {
		return res, o.fail(ctx, file, start, err)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Aggregation commit failed")
	}
	res.Batch = batch
	file.Warnings = append(file.Warnings, batchWarnings(batch)...)

	// 6. Per-file artifact
	file.MappingResults = mappingResults(grouping.Groups, decisions, conv, batch)
	file.DetectedKPIs = countKPIs(decisions)
	file.ProcessedRecords = countRecords(grouping.Groups)
	file.Warnings = append(file.Warnings, qualityWarnings(grouping)...)
	file.Warnings = append(file.Warnings, unresolvedWarnings(decisions)...)
	file.Warnings = append(file.Warnings, degradedWarnings(rec.Events())...)

	if err := ctx.Err(); err != nil {
		// Committed contributions stay; resubmitting the file is idempotent.
		return res, o.fail(ctx, file, start, err)
	}

	// 7. Score the period with this file included
	result, err := o.score(ctx, file.Period, standard, file)
	if err != nil {
		return res, o.fail(ctx, file, start, err)
	}
	res.Compliance = result
	file.ComplianceImpact = impactOf(result)
	o.alert(ctx, file.ID, result)

	// 8. COMPLETED
	file.Status = store.StatusCompleted
	file.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err := o.store.UpdateFile(context.WithoutCancel(ctx), file); err != nil {
		return res, fmt.Errorf("failed to save file %d: %w", file.ID, err)
	}

	logger.Info().
		Int("kpis", file.DetectedKPIs).
		Int("records", file.ProcessedRecords).
		Int("warnings", len(file.Warnings)).
		Int64("ms", file.ProcessingTimeMs).
		Msg("File processed")
	return res, nil
}

func (o *Orchestrator) openFile(ctx context.Context, in FileInput, standard string) (*store.FileRecord, error) {
	var file *store.FileRecord
	if in.FileID != 0 {
		existing, err := o.store.GetFile(ctx, in.FileID)
		switch {
		case err == nil:
			file = existing
		case !store.IsNotFound(err):
			return nil, fmt.Errorf("failed to load file %d: %w", in.FileID, err)
		}
	}

	if file == nil {
		file = &store.FileRecord{ID: in.FileID, Name: in.Name, Period: in.Period, Standard: standard}
		if err := o.store.CreateFile(ctx, file); err != nil {
			return nil, fmt.Errorf("failed to create file record: %w", err)
		}
	}

	if in.Name != "" {
		file.Name = in.Name
	}
	if in.Period != "" {
		file.Period = in.Period
	}
	file.Standard = standard
	file.RunID = uuid.NewString()
	file.Status = store.StatusProcessing
	file.ErrorDetails = ""
	file.Warnings = nil
	file.MappingResults = nil
	file.ComplianceImpact = nil
	if err := o.store.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to mark file processing: %w", err)
	}
	return file, nil
}

// fail records the file as ERROR and returns err.
func (o *Orchestrator) fail(ctx context.Context, file *store.FileRecord, start time.Time, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	file.Status = store.StatusError
	file.ErrorDetails = err.Error()
	file.ProcessingTimeMs = time.Since(start).Milliseconds()
	if uerr := o.store.UpdateFile(context.WithoutCancel(ctx), file); uerr != nil {
		log.Error().Err(uerr).Int64("file_id", file.ID).Msg("Failed to record file error")
	}
	log.Error().Err(err).Int64("file_id", file.ID).Str("file", file.Name).Msg("File processing failed")
	return err
}

// FileOutcome pairs a file's result with its error.
type FileOutcome struct {
	Input  string      `json:"input"`
	Result *FileResult `json:"result,omitempty"`
	Err    error       `json:"-"`
}

// ProcessFiles processes independent files concurrently. One file's failure never affects the
// others; outcomes come back in input order.
func (o *Orchestrator) ProcessFiles(ctx context.Context, inputs []FileInput) []FileOutcome {
	out := make([]FileOutcome, len(inputs))

	var eg errgroup.Group
	eg.SetLimit(o.opts.FileWorkers)
	for i := range inputs {
		eg.Go(func() error {
			res, err := o.ProcessFile(ctx, inputs[i])
			out[i] = FileOutcome{Input: inputs[i].Name, Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func derivePeriod(groups []stats.RawKPIGroup) string {
	var periods []string
	for _, g := range groups {
		for _, p := range g.Periods {
			if !slices.Contains(periods, p) {
				periods = append(periods, p)
			}
		}
	}
	slices.Sort(periods)
	return strings.Join(periods, ",")
}

func countKPIs(decisions []matcher.MappingDecision) int {
	seen := make(map[string]bool)
	for _, d := range decisions {
		if d.Resolved() {
			seen[d.KPIID()] = true
		}
	}
	return len(seen)
}

func countRecords(groups []stats.RawKPIGroup) int {
	n := 0
	for _, g := range groups {
		n += g.RecordCount
	}
	return n
}
