package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type ledgerKey struct {
	kpiID  string
	fileID int64
}

type complianceKey struct {
	period, standard string
}

// Memory is an in-process Store. With a snapshot path it reloads its state on open and writes
// it back atomically on Close.
type Memory struct {
	mu   sync.RWMutex
	path string

	kpis          map[string]StandardKPI
	files         map[int64]*FileRecord
	nextFileID    int64
	cumulative    map[string]*CumulativeKPI
	contributions map[ledgerKey]Contribution
	values        map[ledgerKey][]ValueRecord
	compliance    map[complianceKey]ComplianceRecord
}

// NewMemory returns an empty store that is never persisted.
func NewMemory() *Memory {
	return &Memory{
		kpis:          make(map[string]StandardKPI),
		files:         make(map[int64]*FileRecord),
		cumulative:    make(map[string]*CumulativeKPI),
		contributions: make(map[ledgerKey]Contribution),
		values:        make(map[ledgerKey][]ValueRecord),
		compliance:    make(map[complianceKey]ComplianceRecord),
	}
}

// OpenMemory returns a store backed by a JSON snapshot file. A missing file starts empty.
func OpenMemory(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil // No snapshot yet, not an error
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	m.restore(snap)
	log.Info().Str("path", path).Int("files", len(snap.Files)).Int("kpis", len(snap.Cumulative)).Msg("Loaded store snapshot")
	return m, nil
}

type snapshot struct {
	KPIs          []StandardKPI      `json:"kpis"`
	Files         []FileRecord       `json:"files"`
	Cumulative    []CumulativeKPI    `json:"cumulative"`
	Contributions []Contribution     `json:"contributions"`
	Values        []ValueRecord      `json:"values"`
	Compliance    []ComplianceRecord `json:"compliance"`
}

func (m *Memory) restore(s snapshot) {
	for _, k := range s.KPIs {
		m.kpis[k.ID] = k
	}
	for i := range s.Files {
		f := s.Files[i]
		m.files[f.ID] = &f
		m.nextFileID = max(m.nextFileID, f.ID)
	}
	for i := range s.Cumulative {
		c := s.Cumulative[i]
		m.cumulative[c.KPIID] = &c
	}
	for _, c := range s.Contributions {
		m.contributions[ledgerKey{c.KPIID, c.SourceFileID}] = c
	}
	for _, v := range s.Values {
		k := ledgerKey{v.KPIID, v.FileID}
		m.values[k] = append(m.values[k], v)
	}
	for _, c := range s.Compliance {
		m.compliance[complianceKey{c.Period, c.Standard}] = c
	}
}

func (m *Memory) snapshot() snapshot {
	var s snapshot
	for _, k := range m.kpis {
		s.KPIs = append(s.KPIs, k)
	}
	for _, f := range m.files {
		s.Files = append(s.Files, *f)
	}
	for _, c := range m.cumulative {
		s.Cumulative = append(s.Cumulative, *c)
	}
	for _, c := range m.contributions {
		s.Contributions = append(s.Contributions, c)
	}
	for _, vs := range m.values {
		s.Values = append(s.Values, vs...)
	}
	for _, c := range m.compliance {
		s.Compliance = append(s.Compliance, c)
	}
	slices.SortFunc(s.KPIs, func(a, b StandardKPI) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Files, func(a, b FileRecord) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Cumulative, func(a, b CumulativeKPI) int { return cmp.Compare(a.KPIID, b.KPIID) })
	slices.SortFunc(s.Contributions, compareContributions)
	return s
}

// Close writes the snapshot when the store has a path.
func (m *Memory) Close() error {
	if m.path == "" {
		return nil
	}
	m.mu.RLock()
	data, err := json.MarshalIndent(m.snapshot(), "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	// Atomic rename
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	log.Info().Str("path", m.path).Msg("Store snapshot saved")
	return nil
}

func (m *Memory) UpsertKPIs(ctx context.Context, kpis []StandardKPI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kpis {
		m.kpis[k.ID] = k
	}
	return nil
}

func (m *Memory) GetKPI(ctx context.Context, id string) (StandardKPI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kpis[id]
	if !ok {
		return StandardKPI{}, fmt.Errorf("kpi %q: %w", id, ErrNotFound)
	}
	return k, nil
}

func (m *Memory) CreateFile(ctx context.Context, f *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == 0 {
		m.nextFileID++
		f.ID = m.nextFileID
	} else if _, dup := m.files[f.ID]; dup {
		return fmt.Errorf("file %d already exists", f.ID)
	}
	m.nextFileID = max(m.nextFileID, f.ID)

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = StatusPending
	}
	cp := cloneFile(*f)
	m.files[f.ID] = &cp
	return nil
}

func (m *Memory) UpdateFile(ctx context.Context, f *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; !ok {
		return fmt.Errorf("file %d: %w", f.ID, ErrNotFound)
	}
	f.UpdatedAt = time.Now().UTC()
	cp := cloneFile(*f)
	m.files[f.ID] = &cp
	return nil
}

func (m *Memory) GetFile(ctx context.Context, id int64) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	cp := cloneFile(*f)
	return &cp, nil
}

func (m *Memory) DeleteFile(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	delete(m.files, id)
	return nil
}

func (m *Memory) ListFiles(ctx context.Context, filter FileFilter) ([]FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FileRecord
	for _, f := range m.files {
		if filter.match(*f) {
			out = append(out, cloneFile(*f))
		}
	}
	slices.SortFunc(out, func(a, b FileRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCumulative(kpiID)
}

func (m *Memory) getCumulative(kpiID string) (*CumulativeKPI, error) {
	c, ok := m.cumulative[kpiID]
	if !ok {
		return nil, fmt.Errorf("cumulative %q: %w", kpiID, ErrNotFound)
	}
	cp := cloneCumulative(*c)
	return &cp, nil
}

func (m *Memory) ListCumulative(ctx context.Context) ([]CumulativeKPI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CumulativeKPI, 0, len(m.cumulative))
	for _, c := range m.cumulative {
		out = append(out, cloneCumulative(*c))
	}
	slices.SortFunc(out, func(a, b CumulativeKPI) int { return cmp.Compare(a.KPIID, b.KPIID) })
	return out, nil
}

func (m *Memory) ListContributions(ctx context.Context, filter ContributionFilter) ([]Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Contribution
	for _, c := range m.contributions {
		if filter.match(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, compareContributions)
	return out, nil
}

func (m *Memory) FindValueRecords(ctx context.Context, kpiID, period string) ([]ValueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ValueRecord
	for k, vs := range m.values {
		if k.kpiID != kpiID {
			continue
		}
		for _, v := range vs {
			if v.Period == period {
				out = append(out, v)
			}
		}
	}
	slices.SortFunc(out, func(a, b ValueRecord) int { return cmp.Compare(a.FileID, b.FileID) })
	return out, nil
}

func (m *Memory) SaveCompliance(ctx context.Context, r ComplianceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compliance[complianceKey{r.Period, r.Standard}] = r
	return nil
}

func (m *Memory) GetCompliance(ctx context.Context, period, standard string) (*ComplianceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.compliance[complianceKey{period, standard}]
	if !ok {
		return nil, fmt.Errorf("compliance %s/%s: %w", period, standard, ErrNotFound)
	}
	return &r, nil
}

func (m *Memory) ListCompliance(ctx context.Context, period string) ([]ComplianceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ComplianceRecord
	for k, r := range m.compliance {
		if period == "" || k.period == period {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b ComplianceRecord) int {
		if c := cmp.Compare(a.Period, b.Period); c != 0 {
			return c
		}
		return cmp.Compare(a.Standard, b.Standard)
	})
	return out, nil
}

// WithTx holds the write lock for the whole transaction. Every mutation logs an undo step so a
// failed transaction or savepoint can be rolled back.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollbackTo(0)
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollbackTo(0)
		return err
	}
	return nil
}

type memTx struct {
	m    *Memory
	undo []func()
}

func (t *memTx) rollbackTo(n int) {
	for i := len(t.undo) - 1; i >= n; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:n]
}

func (t *memTx) Savepoint(ctx context.Context, fn func() error) error {
	mark := len(t.undo)
	if err := fn(); err != nil {
		t.rollbackTo(mark)
		return err
	}
	return nil
}

func (t *memTx) GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.m.getCumulative(kpiID)
}

func (t *memTx) PutCumulative(ctx context.Context, c CumulativeKPI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, existed := t.m.cumulative[c.KPIID]
	cp := cloneCumulative(c)
	t.m.cumulative[c.KPIID] = &cp
	t.undo = append(t.undo, func() {
		if existed {
			t.m.cumulative[c.KPIID] = prev
		} else {
			delete(t.m.cumulative, c.KPIID)
		}
	})
	return nil
}

func (t *memTx) GetContribution(ctx context.Context, kpiID string, fileID int64) (*Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := t.m.contributions[ledgerKey{kpiID, fileID}]
	if !ok {
		return nil, fmt.Errorf("contribution %s/%d: %w", kpiID, fileID, ErrNotFound)
	}
	return &c, nil
}

func (t *memTx) ListContributionsByFile(ctx context.Context, fileID int64) ([]Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Contribution
	for k, c := range t.m.contributions {
		if k.fileID == fileID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, compareContributions)
	return out, nil
}

func (t *memTx) AddContribution(ctx context.Context, c Contribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := ledgerKey{c.KPIID, c.SourceFileID}
	if _, dup := t.m.contributions[k]; dup {
		return fmt.Errorf("contribution %s/%d already exists", c.KPIID, c.SourceFileID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.m.contributions[k] = c
	t.undo = append(t.undo, func() { delete(t.m.contributions, k) })
	return nil
}

func (t *memTx) DeleteContribution(ctx context.Context, kpiID string, fileID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := ledgerKey{kpiID, fileID}
	prev, ok := t.m.contributions[k]
	if !ok {
		return fmt.Errorf("contribution %s/%d: %w", kpiID, fileID, ErrNotFound)
	}
	delete(t.m.contributions, k)
	t.undo = append(t.undo, func() { t.m.contributions[k] = prev })
	return nil
}

func (t *memTx) AddValueRecord(ctx context.Context, v ValueRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := ledgerKey{v.KPIID, v.FileID}
	prev := t.m.values[k]
	t.m.values[k] = append(slices.Clone(prev), v)
	t.undo = append(t.undo, func() { t.restoreValues(k, prev) })
	return nil
}

func (t *memTx) DeleteValueRecords(ctx context.Context, kpiID string, fileID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := ledgerKey{kpiID, fileID}
	prev := t.m.values[k]
	delete(t.m.values, k)
	t.undo = append(t.undo, func() { t.restoreValues(k, prev) })
	return nil
}

func (t *memTx) restoreValues(k ledgerKey, vs []ValueRecord) {
	if len(vs) == 0 {
		delete(t.m.values, k)
		return
	}
	t.m.values[k] = vs
}

func compareContributions(a, b Contribution) int {
	if c := cmp.Compare(a.KPIID, b.KPIID); c != 0 {
		return c
	}
	return cmp.Compare(a.SourceFileID, b.SourceFileID)
}

func cloneFile(f FileRecord) FileRecord {
	f.MappingResults = slices.Clone(f.MappingResults)
	f.Warnings = slices.Clone(f.Warnings)
	if f.ComplianceImpact != nil {
		ci := *f.ComplianceImpact
		f.ComplianceImpact = &ci
	}
	return f
}

func cloneCumulative(c CumulativeKPI) CumulativeKPI {
	c.ContributingFileIDs = slices.Clone(c.ContributingFileIDs)
	return c
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
