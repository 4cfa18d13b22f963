package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/progress"
)

type Result struct {
	Batches          int64
	Records          int64
	Committed        int64
	Failed           int64
	Duration         time.Duration
	RecordsPerSecond float64
	Canceled         bool
}

// Sink receives validated records. The graph Writer applies each record in
// its own transaction; a search index sink may also implement BatchSink.
type Sink interface {
	Apply(ctx context.Context, rec *paper.Record) error
}

// BatchSink applies a whole batch in one call. The returned slice holds one
// entry per record; nil means the record was committed.
type BatchSink interface {
	Sink
	ApplyBatch(ctx context.Context, recs []paper.Record) []error
}

// Pool applies batches with a fixed number of workers. A failing record is
// logged and counted and never stops its batch or the run. A Pool is
// single-use.
type Pool struct {
	sink      Sink
	log       *logger.Logger
	metrics   *observability.Metrics
	reporter  progress.Reporter
	estimated int64

	batches   atomic.Int64
	records   atomic.Int64
	committed atomic.Int64
	failed    atomic.Int64
	started   time.Time
}

func NewPool(sink Sink, log *logger.Logger, metrics *observability.Metrics, reporter progress.Reporter) *Pool {
	if log == nil {
		log = logger.NewNop()
	}
	if reporter == nil {
		reporter = progress.Nop()
	}
	return &Pool{
		sink:     sink,
		log:      log.With("component", "IngestPool"),
		metrics:  metrics,
		reporter: reporter,
	}
}

// SetEstimate sets the advisory record count used for progress percentages.
func (p *Pool) SetEstimate(n int64) { p.estimated = n }

// Run consumes batches until the channel closes or ctx is canceled. With
// workers <= 1 batches are applied in input order on the calling goroutine.
// Cancellation stops dispatch; a batch already dispatched finishes.
func (p *Pool) Run(ctx context.Context, batches <-chan Batch, workers int) Result {
	ctx = ctxutil.Default(ctx)
	p.started = time.Now()
	if workers < 1 {
		workers = 1
	}
	p.log.Info("Starting ingestion pool", "workers", workers, "run_id", ctxutil.RunID(ctx))

	canceled := false
	if workers == 1 {
	sequential:
		for {
			select {
			case <-ctx.Done():
				canceled = true
				break sequential
			case b, ok := <-batches:
				if !ok {
					break sequential
				}
				p.processBatch(ctx, b)
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
	parallel:
		for {
			select {
			case <-ctx.Done():
				canceled = true
				break parallel
			case b, ok := <-batches:
				if !ok {
					break parallel
				}
				g.Go(func() error {
					p.processBatch(ctx, b)
					return nil
				})
			}
		}
		_ = g.Wait()
	}

	res := p.result(canceled)
	p.metrics.ObserveRun(runStatus(res), res.RecordsPerSecond)
	p.log.Info("Ingestion pool finished",
		"batches", res.Batches,
		"records", res.Records,
		"committed", res.Committed,
		"failed", res.Failed,
		"duration", res.Duration.String(),
		"records_per_second", fmt.Sprintf("%.2f", res.RecordsPerSecond),
		"canceled", res.Canceled,
	)
	p.reporter.Report(ctx, p.update(ctx, res.Batches, true))
	return res
}

func (p *Pool) processBatch(ctx context.Context, b Batch) {
	// records of a dispatched batch are written even if the run is canceled
	recCtx := context.WithoutCancel(ctx)
	if bs, ok := p.sink.(BatchSink); ok {
		p.applyBatch(recCtx, bs, b.Records)
	} else {
		for i := range b.Records {
			p.applyRecord(recCtx, &b.Records[i])
		}
	}
	n := p.batches.Add(1)
	p.metrics.IncBatch()
	if n%10 == 0 {
		p.log.Debug("Processed batch", "seq", b.Seq, "first_line", b.FirstLine, "done", n)
	}
	p.reporter.Report(ctx, p.update(ctx, n, false))
}

func (p *Pool) applyRecord(ctx context.Context, rec *paper.Record) {
	start := time.Now()
	err := p.safeApply(ctx, rec)
	p.count(rec, err, time.Since(start))
}

// applyBatch spreads the batch latency evenly over its records.
func (p *Pool) applyBatch(ctx context.Context, bs BatchSink, recs []paper.Record) {
	start := time.Now()
	errs := p.safeApplyBatch(ctx, bs, recs)
	per := time.Since(start)
	if len(recs) > 0 {
		per /= time.Duration(len(recs))
	}
	for i := range recs {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		p.count(&recs[i], err, per)
	}
}

func (p *Pool) count(rec *paper.Record, err error, took time.Duration) {
	p.records.Add(1)
	if err != nil {
		p.failed.Add(1)
		p.metrics.ObserveRecord("failed", took)
		p.log.Error("Error processing paper", "paper_id", rec.ID, "error", err)
		return
	}
	p.committed.Add(1)
	p.metrics.ObserveRecord("committed", took)
}

func (p *Pool) safeApply(ctx context.Context, rec *paper.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{PaperID: rec.ID, Val: r}
		}
	}()
	return p.sink.Apply(ctx, rec)
}

// safeApplyBatch fails every record of the batch when the sink panics.
func (p *Pool) safeApplyBatch(ctx context.Context, bs BatchSink, recs []paper.Record) (errs []error) {
	defer func() {
		if r := recover(); r != nil {
			errs = make([]error, len(recs))
			for i := range recs {
				errs[i] = &PanicError{PaperID: recs[i].ID, Val: r}
			}
		}
	}()
	return bs.ApplyBatch(ctx, recs)
}

func (p *Pool) result(canceled bool) Result {
	res := Result{
		Batches:   p.batches.Load(),
		Records:   p.records.Load(),
		Committed: p.committed.Load(),
		Failed:    p.failed.Load(),
		Duration:  time.Since(p.started),
		Canceled:  canceled,
	}
	if secs := res.Duration.Seconds(); secs > 0 {
		res.RecordsPerSecond = float64(res.Records) / secs
	}
	return res
}

func (p *Pool) update(ctx context.Context, batch int64, done bool) progress.Update {
	elapsed := time.Since(p.started)
	records := p.records.Load()
	u := progress.Update{
		RunID:     ctxutil.RunID(ctx),
		Batch:     batch,
		Records:   records,
		Committed: p.committed.Load(),
		Failed:    p.failed.Load(),
		Estimated: p.estimated,
		Elapsed:   elapsed,
		Done:      done,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		u.RecordsPerSecond = float64(records) / secs
	}
	return u
}

func runStatus(res Result) string {
	switch {
	case res.Canceled:
		return "canceled"
	case res.Failed > 0:
		return "partial"
	default:
		return "succeeded"
	}
}

// PanicError is a record failure caused by a panic during its write.
type PanicError struct {
	PaperID int64
	Val     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic while writing paper %d: %v", e.PaperID, e.Val)
}
