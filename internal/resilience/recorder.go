package resilience

import (
	"context"
	"sync"
)

// Degradation is one external call that ended in a fallback.
type Degradation struct {
	Service string `json:"service"`
	Op      string `json:"op"`
	Err     string `json:"error"`
}

// Recorder collects degradations for one unit of work, typically one file.
type Recorder struct {
	mu     sync.Mutex
	events []Degradation
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Degradation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Degradation, len(r.events))
	copy(out, r.events)
	return out
}

type recorderKey struct{}

// WithRecorder attaches rec to ctx.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// Report records a degradation on the recorder carried by ctx, if any.
func Report(ctx context.Context, service, op string, err error) {
	rec, ok := ctx.Value(recorderKey{}).(*Recorder)
	if !ok || rec == nil {
		return
	}
	d := Degradation{Service: service, Op: op}
	if err != nil {
		d.Err = err.Error()
	}
	rec.mu.Lock()
	rec.events = append(rec.events, d)
	rec.mu.Unlock()
}
