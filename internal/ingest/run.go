package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/progress"
	"github.com/yungbote/citegraph/internal/runlog"
)

type Options struct {
	Workers      int
	BatchSize    int
	MaxLineBytes int
	DryRun       bool
}

// Report summarizes one ingestion run.
type Report struct {
	RunID     string
	Source    string
	Estimated int64
	Partition PartitionStats
	Result    Result
}

const (
	KindGraph = "graph"
	KindIndex = "index"
)

// Runner drives a full ingestion: estimate, partition, pool, ledger.
type Runner struct {
	kind     string
	sink     Sink
	runs     runlog.Repo
	reporter progress.Reporter
	metrics  *observability.Metrics
	log      *logger.Logger
}

// NewRunner wires a runner that writes to the graph. runs and reporter are
// optional.
func NewRunner(store graphstore.Store, runs runlog.Repo, reporter progress.Reporter, metrics *observability.Metrics, log *logger.Logger) *Runner {
	return NewSinkRunner(KindGraph, NewWriter(store), runs, reporter, metrics, log)
}

// NewSinkRunner wires a runner over any sink. kind is recorded in the run
// ledger.
func NewSinkRunner(kind string, sink Sink, runs runlog.Repo, reporter progress.Reporter, metrics *observability.Metrics, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	if reporter == nil {
		reporter = progress.Nop()
	}
	return &Runner{
		kind:     kind,
		sink:     sink,
		runs:     runs,
		reporter: reporter,
		metrics:  metrics,
		log:      log.With("component", "IngestRunner"),
	}
}

// RunFile ingests the records file at path.
func (r *Runner) RunFile(ctx context.Context, path string, opts Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{Source: path}, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	estimated, err := EstimateRecords(f, opts.MaxLineBytes)
	if err != nil {
		r.log.Warn("record estimate failed (continuing)", "path", path, "error", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return Report{Source: path}, fmt.Errorf("ingest: rewind %s: %w", path, err)
	}
	defer f.Close()
	r.log.Info("Processing file", "path", path, "estimated_records", estimated)
	return r.Run(ctx, filepath.Base(path), f, estimated, opts)
}

// Run ingests records from src. The partitioner feeds the pool through a
// channel bounded by the worker count.
func (r *Runner) Run(ctx context.Context, source string, src io.Reader, estimated int64, opts Options) (Report, error) {
	ctx = ctxutil.Default(ctx)
	rep := Report{Source: source, Estimated: estimated}

	runID := uuid.New()
	if r.runs != nil {
		run, err := r.runs.Start(ctx, &runlog.Run{
			ID:        runID,
			Kind:      r.kind,
			Source:    source,
			Workers:   opts.Workers,
			BatchSize: opts.BatchSize,
			DryRun:    opts.DryRun,
			Estimated: estimated,
		})
		if err != nil {
			r.log.Warn("run ledger start failed (continuing)", "error", err)
		} else {
			runID = run.ID
		}
	}
	rep.RunID = runID.String()
	ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{RunID: rep.RunID})

	pool := NewPool(r.sink, r.log, r.metrics, r.reporter)
	pool.SetEstimate(estimated)
	part := NewPartitioner(opts.BatchSize, opts.MaxLineBytes, r.log)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	batches := make(chan Batch, workers)
	done := make(chan Result, 1)
	go func() {
		done <- pool.Run(ctx, batches, workers)
	}()

	stats, partErr := part.Partition(ctx, src, func(b Batch) error {
		select {
		case batches <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(batches)
	rep.Result = <-done
	rep.Partition = stats

	r.metrics.AddRecords("parse_error", int(stats.ParseErrors))
	r.metrics.AddRecords("rejected", int(stats.Rejected))

	status := runlog.StatusSucceeded
	switch {
	case errors.Is(partErr, context.Canceled) || rep.Result.Canceled:
		status = runlog.StatusCanceled
	case partErr != nil:
		status = runlog.StatusFailed
	}
	r.finish(ctx, runID, status, rep, partErr)

	r.log.Info("Processing completed",
		"run_id", rep.RunID,
		"kind", r.kind,
		"status", status,
		"records", rep.Result.Records,
		"committed", rep.Result.Committed,
		"failed", rep.Result.Failed,
		"parse_errors", stats.ParseErrors,
		"rejected", stats.Rejected,
		"duration", rep.Result.Duration.Round(time.Millisecond).String(),
	)
	if partErr != nil {
		return rep, partErr
	}
	return rep, nil
}

func (r *Runner) finish(ctx context.Context, id uuid.UUID, status string, rep Report, runErr error) {
	if r.runs == nil {
		return
	}
	updates := map[string]interface{}{
		"batches":            rep.Result.Batches,
		"records":            rep.Result.Records,
		"committed":          rep.Result.Committed,
		"failed":             rep.Result.Failed,
		"parse_errors":       rep.Partition.ParseErrors,
		"rejected":           rep.Partition.Rejected,
		"records_per_second": rep.Result.RecordsPerSecond,
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	if err := r.runs.Finish(context.WithoutCancel(ctx), id, status, updates); err != nil {
		r.log.Warn("run ledger finish failed", "run_id", id, "error", err)
	}
}
