package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator. Implementations are safe for concurrent use; WithTx
// serialises writers so read-modify-write cycles inside a transaction never lose updates.
type Store interface {
	UpsertKPIs(ctx context.Context, kpis []StandardKPI) error
	GetKPI(ctx context.Context, id string) (StandardKPI, error)

	CreateFile(ctx context.Context, f *FileRecord) error
	UpdateFile(ctx context.Context, f *FileRecord) error
	GetFile(ctx context.Context, id int64) (*FileRecord, error)
	ListFiles(ctx context.Context, filter FileFilter) ([]FileRecord, error)
	// DeleteFile removes the file record only; reverse its contributions first.
	DeleteFile(ctx context.Context, id int64) error

	GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error)
	ListCumulative(ctx context.Context) ([]CumulativeKPI, error)
	ListContributions(ctx context.Context, filter ContributionFilter) ([]Contribution, error)
	FindValueRecords(ctx context.Context, kpiID, period string) ([]ValueRecord, error)

	SaveCompliance(ctx context.Context, r ComplianceRecord) error
	GetCompliance(ctx context.Context, period, standard string) (*ComplianceRecord, error)
	ListCompliance(ctx context.Context, period string) ([]ComplianceRecord, error)

	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the write side of a transaction.
type Tx interface {
	// Savepoint runs fn so that its writes are undone if it fails, without aborting the
	// surrounding transaction.
	Savepoint(ctx context.Context, fn func() error) error

	GetCumulative(ctx context.Context, kpiID string) (*CumulativeKPI, error)
	PutCumulative(ctx context.Context, c CumulativeKPI) error

	GetContribution(ctx context.Context, kpiID string, fileID int64) (*Contribution, error)
	ListContributionsByFile(ctx context.Context, fileID int64) ([]Contribution, error)
	AddContribution(ctx context.Context, c Contribution) error
	DeleteContribution(ctx context.Context, kpiID string, fileID int64) error

	AddValueRecord(ctx context.Context, v ValueRecord) error
	DeleteValueRecords(ctx context.Context, kpiID string, fileID int64) error
}
