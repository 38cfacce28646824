package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Alert is raised after a compliance check that found gaps.
type Alert struct {
	FileID       int64     `json:"file_id,omitempty"`
	Period       string    `json:"period"`
	Standard     string    `json:"standard"`
	Severity     string    `json:"severity"`
	OverallScore float64   `json:"overall_score"`
	Critical     int       `json:"critical_missing"`
	Warnings     int       `json:"warning_missing"`
	QualityIssue int       `json:"quality_issues"`
	Message      string    `json:"message"`
	RaisedAt     time.Time `json:"raised_at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Log writes alerts to the structured log.
type Log struct{}

func (Log) Notify(ctx context.Context, a Alert) error {
	ev := log.Info()
	if a.Severity == "critical" {
		ev = log.Warn()
	}
	ev.Str("period", a.Period).
		Str("standard", a.Standard).
		Str("severity", a.Severity).
		Float64("score", a.OverallScore).
		Int("critical_missing", a.Critical).
		Int("warning_missing", a.Warnings).
		Msg(a.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers alerts in the background so callers never wait on, or fail because of,
// notification delivery.
type Async struct {
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each delivery is bounded by timeout.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

// Notify schedules delivery and returns immediately.
func (a *Async) Notify(_ context.Context, alert Alert) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// Detached from the caller: the file may finish before delivery does.
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, alert); err != nil {
			log.Warn().Err(err).Str("period", alert.Period).Str("standard", alert.Standard).Msg("Alert delivery failed")
		}
	}()
	return nil
}

// Wait blocks until scheduled deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
