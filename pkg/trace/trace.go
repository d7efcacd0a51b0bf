// Package trace records the per-test step event stream that reports are
// rendered from.
package trace

import (
	"context"
	"sync"
	"time"
)

// Kind is the type of a record.
type Kind string

const (
	KindTest    Kind = "test"
	KindInclude Kind = "include"
)

// Status values of a record.
const (
	StatusRunning = "running"
	StatusOK      = "OK"
	StatusFail    = "FAIL"
)

// CommentSkipped is the comment of an OK record whose test was skipped.
const CommentSkipped = "Skipped"

// Event is one step-begin or step-end entry. Success is nil on begin.
type Event struct {
	Time      time.Time      `json:"time"`
	Step      map[string]any `json:"step"`
	Variables map[string]any `json:"variables,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Output    any            `json:"output,omitempty"`
}

// Record is the report entry of one test or include run.
type Record struct {
	mu        sync.Mutex
	secrets   *Secrets
	File      string    `json:"file"`
	Type      Kind      `json:"type"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
	Status    string    `json:"status"`
	Comment   string    `json:"comment,omitempty"`
	Output    []Event   `json:"output"`
}

// StepBegin appends a step-begin event. A nil record ignores the call.
func (r *Record) StepBegin(step, variables map[string]any) {
	if r == nil {
		return
	}
	r.append(Event{Time: time.Now().UTC(), Step: step, Variables: r.secrets.Mask(variables)})
}

// StepEnd appends a step-end event. A nil record ignores the call.
func (r *Record) StepEnd(step, variables map[string]any, success bool, output any) {
	if r == nil {
		return
	}
	if s, ok := output.(string); ok {
		output = r.secrets.Redact(s)
	}
	r.append(Event{
		Time:      time.Now().UTC(),
		Step:      step,
		Variables: r.secrets.Mask(variables),
		Success:   &success,
		Output:    output,
	})
}

func (r *Record) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Output = append(r.Output, e)
}

func (r *Record) finish(status, comment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now().UTC()
	r.Status = status
	r.Comment = r.secrets.Redact(comment)
}

// Sink receives the records of a run.
type Sink interface {
	// Start opens a record for file. It may return nil.
	Start(file string, kind Kind) *Record
	// Finish closes rec. rec may be nil.
	Finish(rec *Record, status, comment string)
}

// Nop is a Sink recording nothing.
type Nop struct{}

func (Nop) Start(string, Kind) *Record     { return nil }
func (Nop) Finish(*Record, string, string) {}

// Collector accumulates records in memory. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	secrets *Secrets
	records []*Record
}

// NewCollector returns a collector masking secrets in every record. secrets
// may be nil.
func NewCollector(secrets *Secrets) *Collector {
	return &Collector{secrets: secrets}
}

func (c *Collector) Start(file string, kind Kind) *Record {
	rec := &Record{
		secrets:   c.secrets,
		File:      file,
		Type:      kind,
		StartTime: time.Now().UTC(),
		Status:    StatusRunning,
		Output:    []Event{},
	}
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()
	return rec
}

func (c *Collector) Finish(rec *Record, status, comment string) {
	if rec == nil {
		return
	}
	rec.finish(status, comment)
}

// Records returns the records in start order.
func (c *Collector) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Record, len(c.records))
	copy(out, c.records)
	return out
}

type recordKey struct{}

// WithRecord attaches the record step events are appended to.
func WithRecord(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, recordKey{}, rec)
}

// FromContext returns the current record, or nil.
func FromContext(ctx context.Context) *Record {
	rec, _ := ctx.Value(recordKey{}).(*Record)
	return rec
}
