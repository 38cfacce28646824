package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite is the durable Store. It keeps a single connection, which serialises transactions.
// Store-level methods must not be called from inside a WithTx callback.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("Opened sqlite store")
	return s, nil
}

// Migrate runs all pending database migrations.
func (s *SQLite) Migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version.
func (s *SQLite) MigrationVersion() (int64, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersion(s.db)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) UpsertKPIs(ctx context.Context, kpis []StandardKPI) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range kpis {
		active := 0
		if k.Active {
			active = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO standard_kpis (id, name, category, unit, active) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, category = excluded.category, unit = excluded.unit, active = excluded.active`,
			k.ID, k.Name, k.Category, k.Unit, active,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert kpi %s: %w", k.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetKPI(ctx context.Context, id string) (StandardKPI, error) {
	var k StandardKPI
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, unit, active FROM standard_kpis WHERE id = ?`, id,
	).Scan(&k.ID, &k.Name, &k.Category, &k.Unit, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return StandardKPI{}, fmt.Errorf("kpi %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return StandardKPI{}, fmt.Errorf("failed to get kpi: %w", err)
	}
	k.Active = active == 1
	return k, nil
}

// --- Files ---

func (s *SQLite) CreateFile(ctx context.Context, f *FileRecord) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = StatusPending
	}

	cols, err := encodeFileJSON(f)
	if err != nil {
		return err
	}

	var res sql.Result
	if f.ID == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO files (run_id, name, period, standard, status, detected_kpis, processed_records,
				mapping_results, compliance_impact, processing_time_ms, error_details, warnings, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.RunID, f.Name, f.Period, f.Standard, f.Status, f.DetectedKPIs, f.ProcessedRecords,
			cols.mappings, cols.impact, f.ProcessingTimeMs, f.ErrorDetails, cols.warnings,
			f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO files (id, run_id, name, period, standard, status, detected_kpis, processed_records,
				mapping_results, compliance_impact, processing_time_ms, error_details, warnings, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.RunID, f.Name, f.Period, f.Standard, f.Status, f.DetectedKPIs, f.ProcessedRecords,
			cols.mappings, cols.impact, f.ProcessingTimeMs, f.ErrorDetails, cols.warnings,
			f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if f.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read file id: %w", err)
		}
		f.ID = id
	}
	return nil
}

func (s *SQLite) UpdateFile(ctx context.Context, f *FileRecord) error {
	f.UpdatedAt = time.Now().UTC()
	cols, err := encodeFileJSON(f)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET run_id = ?, name = ?, period = ?, standard = ?, status = ?, detected_kpis = ?,
			processed_records = ?, mapping_results = ?, compliance_impact = ?, processing_time_ms = ?,
			error_details = ?, warnings = ?, updated_at = ?
		WHERE id = ?`,
		f.RunID, f.Name, f.Period, f.Standard, f.Status, f.DetectedKPIs, f.ProcessedRecords,
		cols.mappings, cols.impact, f.ProcessingTimeMs, f.ErrorDetails, cols.warnings,
		f.UpdatedAt.UnixMilli(), f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %d: %w", f.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) DeleteFile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return nil
}

const fileColumns = `id, run_id, name, period, standard, status, detected_kpis, processed_records,
	mapping_results, compliance_impact, processing_time_ms, error_details, warnings, created_at, updated_at`

func (s *SQLite) GetFile(ctx context.Context, id int64) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

func (s *SQLite) ListFiles(ctx context.Context, filter FileFilter) ([]FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files`
	var where []string
	var args []any
	if filter.Period != "" {
		where = append(where, "period = ?")
		args = append(args, filter.Period)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

type fileJSON struct {
	mappings, impact, warnings string
}

func encodeFileJSON(f *FileRecord) (fileJSON, error) {
	var out fileJSON
	b, err := json.Marshal(nonNil(f.MappingResults))
	if err != nil {
		return out, fmt.Errorf("failed to encode mapping results: %w", err)
	}
	out.mappings = string(b)
	if b, err = json.Marshal(nonNil(f.Warnings)); err != nil {
		return out, fmt.Errorf("failed to encode warnings: %w", err)
	}
	out.warnings = string(b)
	if f.ComplianceImpact != nil {
		if b, err = json.Marshal(f.ComplianceImpact); err != nil {
			return out, fmt.Errorf("failed to encode compliance impact: %w", err)
		}
		out.impact = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (*FileRecord, error) {
	var f FileRecord
	var mappings, impact, warnings string
	var created, updated int64
	err := sc.Scan(&f.ID, &f.RunID, &f.Name, &f.Period, &f.Standard, &f.Status, &f.DetectedKPIs,
		&f.ProcessedRecords, &mappings, &impact, &f.ProcessingTimeMs, &f.ErrorDetails, &warnings,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mappings), &f.MappingResults); err != nil {
		return nil, fmt.Errorf("decode mapping results: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &f.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if impact != "" {
		f.ComplianceImpact = &ComplianceImpact{}
		if err := json.Unmarshal([]byte(impact), f.ComplianceImpact); err != nil {
			return nil, fmt.Errorf("decode compliance impact: %w", err)
		}
	}
	if len(f.MappingResults) == 0 {
		f.MappingResults = nil
	}
	if len(f.Warnings) == 0 {
		f.Warnings = nil
	}
	f.CreatedAt = time.UnixMilli(created).UTC()
	f.UpdatedAt = time.UnixMilli(updated).UTC()
	return &f, nil
}

// --- Ledger reads ---

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error) {
	return getCumulative(ctx, s.db, kpiID)
}

const cumulativeColumns = `kpi_id, display_name, cumulative_value, unit, record_count, contributing_file_ids, last_updated`

func getCumulative(ctx context.Context, q queryer, kpiID string) (*CumulativeKPI, error) {
	row := q.QueryRowContext(ctx, `SELECT `+cumulativeColumns+` FROM cumulative_kpis WHERE kpi_id = ?`, kpiID)
	c, err := scanCumulative(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cumulative %q: %w", kpiID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cumulative: %w", err)
	}
	return c, nil
}

func scanCumulative(sc scanner) (*CumulativeKPI, error) {
	var c CumulativeKPI
	var ids string
	var updated int64
	if err := sc.Scan(&c.KPIID, &c.DisplayName, &c.CumulativeValue, &c.Unit, &c.RecordCount, &ids, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &c.ContributingFileIDs); err != nil {
		return nil, fmt.Errorf("decode contributing files: %w", err)
	}
	c.LastUpdated = time.UnixMilli(updated).UTC()
	return &c, nil
}

func (s *SQLite) ListCumulative(ctx context.Context) ([]CumulativeKPI, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cumulativeColumns+` FROM cumulative_kpis ORDER BY kpi_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cumulative: %w", err)
	}
	defer rows.Close()

	var out []CumulativeKPI
	for rows.Next() {
		c, err := scanCumulative(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cumulative: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const contributionColumns = `kpi_id, source_file_id, period, contributed_value, record_count, confidence, mapping_details, created_at`

func (s *SQLite) ListContributions(ctx context.Context, filter ContributionFilter) ([]Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions`
	var where []string
	var args []any
	if filter.KPIID != "" {
		where = append(where, "kpi_id = ?")
		args = append(args, filter.KPIID)
	}
	if filter.FileID != 0 {
		where = append(where, "source_file_id = ?")
		args = append(args, filter.FileID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY kpi_id, source_file_id"
	return queryContributions(ctx, s.db, query, args...)
}

func queryContributions(ctx context.Context, q queryer, query string, args ...any) ([]Contribution, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContribution(sc scanner) (*Contribution, error) {
	var c Contribution
	var created int64
	if err := sc.Scan(&c.KPIID, &c.SourceFileID, &c.Period, &c.ContributedValue, &c.RecordCount,
		&c.Confidence, &c.MappingDetails, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	return &c, nil
}

func (s *SQLite) FindValueRecords(ctx context.Context, kpiID, period string) ([]ValueRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kpi_id, file_id, period, value, unit, raw_label FROM value_records
		WHERE kpi_id = ? AND period = ? ORDER BY file_id, id`, kpiID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to find value records: %w", err)
	}
	defer rows.Close()

	var out []ValueRecord
	for rows.Next() {
		var v ValueRecord
		if err := rows.Scan(&v.KPIID, &v.FileID, &v.Period, &v.Value, &v.Unit, &v.RawLabel); err != nil {
			return nil, fmt.Errorf("failed to scan value record: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Compliance ---

func (s *SQLite) SaveCompliance(ctx context.Context, r ComplianceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_results (period, standard, status, overall_score, result, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (period, standard) DO UPDATE SET
			status = excluded.status, overall_score = excluded.overall_score,
			result = excluded.result, checked_at = excluded.checked_at`,
		r.Period, r.Standard, r.Status, r.OverallScore, string(r.Result), r.CheckedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save compliance result: %w", err)
	}
	return nil
}

func (s *SQLite) GetCompliance(ctx context.Context, period, standard string) (*ComplianceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT period, standard, status, overall_score, result, checked_at FROM compliance_results
		WHERE period = ? AND standard = ?`, period, standard)
	r, err := scanCompliance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compliance %s/%s: %w", period, standard, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance result: %w", err)
	}
	return r, nil
}

func (s *SQLite) ListCompliance(ctx context.Context, period string) ([]ComplianceRecord, error) {
	query := `SELECT period, standard, status, overall_score, result, checked_at FROM compliance_results`
	var args []any
	if period != "" {
		query += " WHERE period = ?"
		args = append(args, period)
	}
	query += " ORDER BY period, standard"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	defer rows.Close()

	var out []ComplianceRecord
	for rows.Next() {
		r, err := scanCompliance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance result: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanCompliance(sc scanner) (*ComplianceRecord, error) {
	var r ComplianceRecord
	var result string
	var checked int64
	if err := sc.Scan(&r.Period, &r.Standard, &r.Status, &r.OverallScore, &result, &checked); err != nil {
		return nil, err
	}
	r.Result = []byte(result)
	r.CheckedAt = time.UnixMilli(checked).UTC()
	return &r, nil
}

// --- Transactions ---

func (s *SQLite) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	seq int
}

func (t *sqliteTx) Savepoint(ctx context.Context, fn func() error) error {
	t.seq++
	name := fmt.Sprintf("sp_%d", t.seq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back savepoint: %w", rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("failed to release savepoint: %w", relErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error) {
	return getCumulative(ctx, t.tx, kpiID)
}

func (t *sqliteTx) PutCumulative(ctx context.Context, c CumulativeKPI) error {
	ids, err := json.Marshal(nonNil(c.ContributingFileIDs))
	if err != nil {
		return fmt.Errorf("failed to encode contributing files: %w", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO cumulative_kpis (kpi_id, display_name, cumulative_value, unit, record_count, contributing_file_ids, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kpi_id) DO UPDATE SET
			display_name = excluded.display_name, cumulative_value = excluded.cumulative_value,
			unit = excluded.unit, record_count = excluded.record_count,
			contributing_file_ids = excluded.contributing_file_ids, last_updated = excluded.last_updated`,
		c.KPIID, c.DisplayName, c.CumulativeValue, c.Unit, c.RecordCount, string(ids), c.LastUpdated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cumulative %s: %w", c.KPIID, err)
	}
	return nil
}

func (t *sqliteTx) GetContribution(ctx context.Context, kpiID string, fileID int64) (*Contribution, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE kpi_id = ? AND source_file_id = ?`, kpiID, fileID)
	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contribution %s/%d: %w", kpiID, fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

func (t *sqliteTx) ListContributionsByFile(ctx context.Context, fileID int64) ([]Contribution, error) {
	return queryContributions(ctx, t.tx,
		`SELECT `+contributionColumns+` FROM contributions WHERE source_file_id = ? ORDER BY kpi_id`, fileID)
}

func (t *sqliteTx) AddContribution(ctx context.Context, c Contribution) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.KPIID, c.SourceFileID, c.Period, c.ContributedValue, c.RecordCount, c.Confidence,
		c.MappingDetails, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to add contribution %s/%d: %w", c.KPIID, c.SourceFileID, err)
	}
	return nil
}

func (t *sqliteTx) DeleteContribution(ctx context.Context, kpiID string, fileID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM contributions WHERE kpi_id = ? AND source_file_id = ?`, kpiID, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete contribution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contribution %s/%d: %w", kpiID, fileID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) AddValueRecord(ctx context.Context, v ValueRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO value_records (kpi_id, file_id, period, value, unit, raw_label) VALUES (?, ?, ?, ?, ?, ?)`,
		v.KPIID, v.FileID, v.Period, v.Value, v.Unit, v.RawLabel,
	)
	if err != nil {
		return fmt.Errorf("failed to add value record: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteValueRecords(ctx context.Context, kpiID string, fileID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM value_records WHERE kpi_id = ? AND file_id = ?`, kpiID, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete value records: %w", err)
	}
	return nil
}
