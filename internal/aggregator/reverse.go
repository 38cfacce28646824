package aggregator

import (
	"context"
	"fmt"

	"esg-mcp/internal/store"

	"github.com/rs/zerolog/log"
)

// Reversal describes what was subtracted when a contribution was removed.
type Reversal struct {
	KPIID       string  `json:"kpi_id"`
	FileID      int64   `json:"file_id"`
	Value       float64 `json:"value"`
	RecordCount int     `json:"record_count"`
	Remaining   float64 `json:"remaining"`
}

// RemoveFile reverses every contribution of fileID in one transaction.
func (a *Aggregator) RemoveFile(ctx context.Context, fileID int64) ([]Reversal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.commitTimeout)
	defer cancel()

	var out []Reversal
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		out = nil
		contribs, err := tx.ListContributionsByFile(ctx, fileID)
		if err != nil {
			return err
		}
		for _, c := range contribs {
			r, err := a.reverse(ctx, tx, c)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove file %d: %w", fileID, err)
	}

	log.Info().Int64("file_id", fileID).Int("kpis", len(out)).Msg("File contributions reversed")
	return out, nil
}

// RemoveContribution reverses a single KPI's contribution from fileID. It returns an error
// wrapping store.ErrNotFound when the file never contributed to the KPI.
func (a *Aggregator) RemoveContribution(ctx context.Context, kpiID string, fileID int64) (*Reversal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.commitTimeout)
	defer cancel()

	var out Reversal
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetContribution(ctx, kpiID, fileID)
		if err != nil {
			return err
		}
		out, err = a.reverse(ctx, tx, *c)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove contribution %s/%d: %w", kpiID, fileID, err)
	}

	log.Info().Str("kpi", kpiID).Int64("file_id", fileID).Float64("value", out.Value).Msg("Contribution reversed")
	return &out, nil
}

// reverse subtracts exactly what c added, clamping the running total at zero.
func (a *Aggregator) reverse(ctx context.Context, tx store.Tx, c store.Contribution) (Reversal, error) {
	r := Reversal{KPIID: c.KPIID, FileID: c.SourceFileID, Value: c.ContributedValue, RecordCount: c.RecordCount}

	cur, err := tx.GetCumulative(ctx, c.KPIID)
	switch {
	case err == nil:
		cur.CumulativeValue -= c.ContributedValue
		if cur.CumulativeValue < 0 || sameValue(cur.CumulativeValue, 0) {
			cur.CumulativeValue = 0
		}
		cur.RecordCount = max(0, cur.RecordCount-c.RecordCount)
		cur.RemoveFile(c.SourceFileID)
		cur.LastUpdated = a.now()
		if err := tx.PutCumulative(ctx, *cur); err != nil {
			return r, err
		}
		r.Remaining = cur.CumulativeValue
	case !store.IsNotFound(err):
		return r, err
	}

	if err := tx.DeleteContribution(ctx, c.KPIID, c.SourceFileID); err != nil {
		return r, err
	}
	return r, tx.DeleteValueRecords(ctx, c.KPIID, c.SourceFileID)
}
