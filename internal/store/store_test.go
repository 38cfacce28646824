package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "esg.db"))
			require.NoError(t, err)
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_Files(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		f := &FileRecord{Name: "q1.csv", Period: "2024-Q1", Standard: "ISSB"}
		require.NoError(t, s.CreateFile(ctx, f))
		assert.NotZero(t, f.ID)
		assert.Equal(t, StatusPending, f.Status)

		f.Status = StatusCompleted
		f.DetectedKPIs = 2
		f.MappingResults = []MappingResult{{RawLabel: "Scope 1", KPIID: "ghg_scope1", Confidence: 0.9, Review: "pending"}}
		f.Warnings = []Warning{{Kind: "data_quality", Message: "1 outlier"}}
		f.ComplianceImpact = &ComplianceImpact{Standard: "ISSB", Status: "partial", OverallScore: 42.5, MissingKPIs: 3}
		require.NoError(t, s.UpdateFile(ctx, f))

		got, err := s.GetFile(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 2, got.DetectedKPIs)
		assert.Equal(t, f.MappingResults, got.MappingResults)
		assert.Equal(t, f.Warnings, got.Warnings)
		require.NotNil(t, got.ComplianceImpact)
		assert.Equal(t, 42.5, got.ComplianceImpact.OverallScore)

		other := &FileRecord{Name: "q2.csv", Period: "2024-Q2"}
		require.NoError(t, s.CreateFile(ctx, other))

		list, err := s.ListFiles(ctx, FileFilter{Period: "2024-Q2"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "q2.csv", list[0].Name)

		all, err := s.ListFiles(ctx, FileFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, s.DeleteFile(ctx, other.ID))
		_, err = s.GetFile(ctx, other.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteFile(ctx, other.ID), ErrNotFound)

		_, err = s.GetFile(ctx, 9999)
		assert.True(t, IsNotFound(err))
		assert.True(t, IsNotFound(s.UpdateFile(ctx, &FileRecord{ID: 9999, Name: "x"})))
	})
}

func TestStore_KPIs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertKPIs(ctx, []StandardKPI{
			{ID: "ghg_scope1", Name: "Scope 1", Category: "Environmental", Unit: "tCO2e", Active: true},
		}))
		require.NoError(t, s.UpsertKPIs(ctx, []StandardKPI{
			{ID: "ghg_scope1", Name: "Scope 1 emissions", Category: "Environmental", Unit: "tCO2e", Active: false},
		}))

		k, err := s.GetKPI(ctx, "ghg_scope1")
		require.NoError(t, err)
		assert.Equal(t, "Scope 1 emissions", k.Name)
		assert.False(t, k.Active)

		_, err = s.GetKPI(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_TxCommitAndRollback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		err := s.WithTx(ctx, func(tx Tx) error {
			c := CumulativeKPI{KPIID: "ghg_scope1", DisplayName: "Scope 1", CumulativeValue: 10, Unit: "tCO2e",
				RecordCount: 2, LastUpdated: now}
			c.AddFile(1)
			if err := tx.PutCumulative(ctx, c); err != nil {
				return err
			}
			if err := tx.AddContribution(ctx, Contribution{KPIID: "ghg_scope1", SourceFileID: 1, ContributedValue: 10, RecordCount: 2}); err != nil {
				return err
			}
			return tx.AddValueRecord(ctx, ValueRecord{KPIID: "ghg_scope1", FileID: 1, Period: "2024", Value: 10, Unit: "tCO2e"})
		})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithTx(ctx, func(tx Tx) error {
			c, err := tx.GetCumulative(ctx, "ghg_scope1")
			if err != nil {
				return err
			}
			c.CumulativeValue += 99
			if err := tx.PutCumulative(ctx, *c); err != nil {
				return err
			}
			if err := tx.DeleteContribution(ctx, "ghg_scope1", 1); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		c, err := s.GetCumulative(ctx, "ghg_scope1")
		require.NoError(t, err)
		assert.Equal(t, 10.0, c.CumulativeValue)
		assert.Equal(t, []int64{1}, c.ContributingFileIDs)
		assert.Equal(t, now, c.LastUpdated)

		contribs, err := s.ListContributions(ctx, ContributionFilter{KPIID: "ghg_scope1"})
		require.NoError(t, err)
		require.Len(t, contribs, 1)
		assert.Equal(t, int64(1), contribs[0].SourceFileID)

		values, err := s.FindValueRecords(ctx, "ghg_scope1", "2024")
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, 10.0, values[0].Value)
	})
}

func TestStore_SavepointIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		failed := errors.New("per-kpi failure")

		err := s.WithTx(ctx, func(tx Tx) error {
			if err := tx.Savepoint(ctx, func() error {
				return tx.PutCumulative(ctx, CumulativeKPI{KPIID: "water", CumulativeValue: 5, Unit: "m3"})
			}); err != nil {
				return err
			}

			spErr := tx.Savepoint(ctx, func() error {
				if err := tx.PutCumulative(ctx, CumulativeKPI{KPIID: "energy", CumulativeValue: 7, Unit: "MWh"}); err != nil {
					return err
				}
				if err := tx.AddContribution(ctx, Contribution{KPIID: "energy", SourceFileID: 3, ContributedValue: 7}); err != nil {
					return err
				}
				return failed
			})
			assert.ErrorIs(t, spErr, failed)
			return nil
		})
		require.NoError(t, err)

		_, err = s.GetCumulative(ctx, "water")
		assert.NoError(t, err)
		_, err = s.GetCumulative(ctx, "energy")
		assert.ErrorIs(t, err, ErrNotFound)

		contribs, err := s.ListContributions(ctx, ContributionFilter{FileID: 3})
		require.NoError(t, err)
		assert.Empty(t, contribs)
	})
}

func TestStore_DuplicateContributionRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.WithTx(ctx, func(tx Tx) error {
			if err := tx.AddContribution(ctx, Contribution{KPIID: "water", SourceFileID: 1, ContributedValue: 1}); err != nil {
				return err
			}
			return tx.AddContribution(ctx, Contribution{KPIID: "water", SourceFileID: 1, ContributedValue: 2})
		})
		assert.Error(t, err)

		contribs, err := s.ListContributions(ctx, ContributionFilter{})
		require.NoError(t, err)
		assert.Empty(t, contribs)
	})
}

func TestStore_Compliance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.SaveCompliance(ctx, ComplianceRecord{Period: "2024", Standard: "ISSB", Status: "partial",
			OverallScore: 40, Result: []byte(`{"a":1}`), CheckedAt: at}))
		require.NoError(t, s.SaveCompliance(ctx, ComplianceRecord{Period: "2024", Standard: "ISSB", Status: "compliant",
			OverallScore: 90, Result: []byte(`{"a":2}`), CheckedAt: at}))
		require.NoError(t, s.SaveCompliance(ctx, ComplianceRecord{Period: "2023", Standard: "GRI", Status: "partial",
			OverallScore: 50, Result: []byte(`{}`), CheckedAt: at}))

		r, err := s.GetCompliance(ctx, "2024", "ISSB")
		require.NoError(t, err)
		assert.Equal(t, "compliant", r.Status)
		assert.JSONEq(t, `{"a":2}`, string(r.Result))
		assert.Equal(t, at, r.CheckedAt)

		list, err := s.ListCompliance(ctx, "2024")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		all, err := s.ListCompliance(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.GetCompliance(ctx, "2022", "ISSB")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.WithTx(ctx, func(tx Tx) error { return nil })
		assert.Error(t, err)
	})
}

func TestMemory_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	m, err := OpenMemory(path)
	require.NoError(t, err)

	f := &FileRecord{Name: "a.csv", Period: "2024"}
	require.NoError(t, m.CreateFile(ctx, f))
	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		c := CumulativeKPI{KPIID: "water", CumulativeValue: 12.5, Unit: "m3", RecordCount: 3}
		c.AddFile(f.ID)
		if err := tx.PutCumulative(ctx, c); err != nil {
			return err
		}
		return tx.AddContribution(ctx, Contribution{KPIID: "water", SourceFileID: f.ID, ContributedValue: 12.5, RecordCount: 3})
	}))
	require.NoError(t, m.Close())

	reopened, err := OpenMemory(path)
	require.NoError(t, err)

	c, err := reopened.GetCumulative(ctx, "water")
	require.NoError(t, err)
	assert.Equal(t, 12.5, c.CumulativeValue)
	assert.True(t, c.HasFile(f.ID))

	next := &FileRecord{Name: "b.csv"}
	require.NoError(t, reopened.CreateFile(ctx, next))
	assert.Greater(t, next.ID, f.ID)
}

func TestCumulativeKPI_Files(t *testing.T) {
	var c CumulativeKPI
	c.AddFile(3)
	c.AddFile(1)
	c.AddFile(3)
	c.AddFile(2)
	assert.Equal(t, []int64{1, 2, 3}, c.ContributingFileIDs)

	c.RemoveFile(2)
	assert.Equal(t, []int64{1, 3}, c.ContributingFileIDs)
	assert.False(t, c.HasFile(2))
}

func TestSQLite_MigrationVersion(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
