package progress

import (
	"context"
	"time"

	"github.com/yungbote/citegraph/internal/platform/logger"
)

// Update is a snapshot of an ingestion run after a batch finishes.
type Update struct {
	RunID            string        `json:"run_id"`
	Batch            int64         `json:"batch"`
	Records          int64         `json:"records"`
	Committed        int64         `json:"committed"`
	Failed           int64         `json:"failed"`
	Estimated        int64         `json:"estimated,omitempty"`
	Elapsed          time.Duration `json:"elapsed_ns"`
	RecordsPerSecond float64       `json:"records_per_second"`
	Done             bool          `json:"done,omitempty"`
}

// Percent is advisory: the estimate counts lines, not valid records.
func (u Update) Percent() float64 {
	if u.Estimated <= 0 {
		return 0
	}
	p := float64(u.Records) / float64(u.Estimated) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// ETA extrapolates the remaining time from the current throughput.
func (u Update) ETA() time.Duration {
	if u.Estimated <= 0 || u.RecordsPerSecond <= 0 || u.Records >= u.Estimated {
		return 0
	}
	remaining := float64(u.Estimated-u.Records) / u.RecordsPerSecond
	return time.Duration(remaining * float64(time.Second))
}

type Reporter interface {
	Report(ctx context.Context, u Update)
	Close() error
}

type logReporter struct {
	log   *logger.Logger
	every int64
}

// NewLogReporter logs every n-th batch update and the final one.
func NewLogReporter(log *logger.Logger, every int64) Reporter {
	if log == nil {
		log = logger.NewNop()
	}
	if every <= 0 {
		every = 1
	}
	return &logReporter{log: log.With("component", "IngestProgress"), every: every}
}

func (r *logReporter) Report(_ context.Context, u Update) {
	if !u.Done && u.Batch%r.every != 0 {
		return
	}
	r.log.Info("Ingest progress",
		"run_id", u.RunID,
		"batch", u.Batch,
		"records", u.Records,
		"committed", u.Committed,
		"failed", u.Failed,
		"percent", u.Percent(),
		"records_per_second", u.RecordsPerSecond,
		"eta", u.ETA().Round(time.Second).String(),
		"done", u.Done,
	)
}

func (r *logReporter) Close() error { return nil }

type multi []Reporter

// Multi fans updates out to every non-nil reporter.
func Multi(rs ...Reporter) Reporter {
	out := make(multi, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Report(ctx context.Context, u Update) {
	for _, r := range m {
		r.Report(ctx, u)
	}
}

func (m multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nop struct{}

func Nop() Reporter { return nop{} }

func (nop) Report(context.Context, Update) {}
func (nop) Close() error                   { return nil }
