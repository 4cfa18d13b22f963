package lineage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/search"
)

const (
	DefaultMaxHops        = 3
	DefaultCitationFanout = 1000
)

var ErrRootNotFound = errors.New("lineage: root paper not found")

type Options struct {
	// MaxHops caps every requested hop count; requests are clamped to [1, MaxHops].
	MaxHops int
	// CitationFanout is the result limit of each "who cites this" lookup.
	CitationFanout int
	// Parallelism bounds concurrent sibling expansions per node. 0 or 1 expands
	// siblings one at a time.
	Parallelism int
}

func (o Options) withDefaults() Options {
	if o.MaxHops <= 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.CitationFanout <= 0 {
		o.CitationFanout = DefaultCitationFanout
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	return o
}

// Engine builds lineage trees by repeated proxy lookups. There is no visited
// set and no cache: a paper reachable along several paths is fetched and
// expanded once per path, which stays bounded only because hops are capped.
type Engine struct {
	proxy   search.Proxy
	opts    Options
	log     *logger.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

func NewEngine(proxy search.Proxy, opts Options, log *logger.Logger, metrics *observability.Metrics) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		proxy:   proxy,
		opts:    opts.withDefaults(),
		log:     log.With("component", "LineageEngine"),
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
}

func (e *Engine) Options() Options { return e.opts }

// ClampHops bounds a requested hop count to [1, MaxHops].
func (e *Engine) ClampHops(hops int) int {
	if hops < 1 {
		return 1
	}
	if hops > e.opts.MaxHops {
		return e.opts.MaxHops
	}
	return hops
}

// ExpandCitations returns the papers citing id, each carrying its own
// CitedBy subtree, down to depth hops. depth <= 0 yields an empty list.
func (e *Engine) ExpandCitations(ctx context.Context, id int64, depth int) []*paper.Node {
	ctx = ctxutil.Default(ctx)
	if depth <= 0 {
		return []*paper.Node{}
	}
	hits, err := e.searchFiltered(ctx, search.ReferencesContain(id), e.opts.CitationFanout)
	if err != nil {
		e.log.Debug("citation lookup failed; branch omitted", "paper_id", id, "depth", depth, "error", err)
		return []*paper.Node{}
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		if h.ID != 0 {
			ids = append(ids, h.ID)
		}
	}
	return e.expandAll(ctx, ids, func(ctx context.Context, cid int64) *paper.Node {
		rec, err := e.getByID(ctx, cid)
		if err != nil {
			e.log.Debug("citing paper unresolved; branch omitted", "paper_id", cid, "cites", id, "error", err)
			return nil
		}
		n := paper.NewNode(*rec)
		n.CitedBy = e.ExpandCitations(ctx, cid, depth-1)
		return n
	})
}

// ExpandOrigins returns the papers id references, each carrying its own
// Cites subtree, down to depth hops. depth <= 0 yields an empty list and
// references that fail to resolve are skipped.
func (e *Engine) ExpandOrigins(ctx context.Context, id int64, depth int) []*paper.Node {
	ctx = ctxutil.Default(ctx)
	if depth <= 0 {
		return []*paper.Node{}
	}
	rec, err := e.getByID(ctx, id)
	if err != nil {
		e.log.Debug("paper unresolved; origins omitted", "paper_id", id, "error", err)
		return []*paper.Node{}
	}
	return e.origins(ctx, rec, depth)
}

func (e *Engine) origins(ctx context.Context, rec *paper.Record, depth int) []*paper.Node {
	if depth <= 0 || len(rec.References) == 0 {
		return []*paper.Node{}
	}
	refs := make([]int64, 0, len(rec.References))
	for _, r := range rec.References {
		if r != 0 {
			refs = append(refs, r)
		}
	}
	return e.expandAll(ctx, refs, func(ctx context.Context, rid int64) *paper.Node {
		ref, err := e.getByID(ctx, rid)
		if err != nil {
			e.log.Debug("reference unresolved; branch omitted", "paper_id", rid, "cited_by", rec.ID, "error", err)
			return nil
		}
		n := paper.NewNode(*ref)
		n.Cites = e.origins(ctx, ref, depth-1)
		return n
	})
}

// CitedBy resolves title to a root and attaches the papers citing it.
func (e *Engine) CitedBy(ctx context.Context, title string, hops int) (*paper.Node, error) {
	return e.tree(ctx, "cited_by", title, 0, hops)
}

// RootedIn resolves title to a root and attaches the papers it builds on.
func (e *Engine) RootedIn(ctx context.Context, title string, hops int) (*paper.Node, error) {
	return e.tree(ctx, "rooted_in", title, hops, 0)
}

// LiteratureGraph attaches both directions to the root; each direction has
// its own hop bound.
func (e *Engine) LiteratureGraph(ctx context.Context, title string, predecessorHops, successorHops int) (*paper.Node, error) {
	return e.tree(ctx, "literature_graph", title, predecessorHops, successorHops)
}

// tree expands backward when pred > 0 and forward when succ > 0. The public
// entry points pass 0 for a direction they do not expand; any other value is
// clamped.
func (e *Engine) tree(ctx context.Context, kind, title string, pred, succ int) (*paper.Node, error) {
	ctx = ctxutil.Default(ctx)
	ctx, span := e.tracer.Start(ctx, "lineage."+kind, trace.WithAttributes(
		attribute.String("lineage.title", title),
	))
	defer span.End()

	root, err := e.resolveRoot(ctx, title)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	n := paper.NewNode(*root)

	if kind != "cited_by" {
		pred = e.ClampHops(pred)
		n.Cites = e.ExpandOrigins(ctx, root.ID, pred)
		e.metrics.AddLineageNodes("cites", countNodes(n.Cites))
	}
	if kind != "rooted_in" {
		succ = e.ClampHops(succ)
		n.CitedBy = e.ExpandCitations(ctx, root.ID, succ)
		e.metrics.AddLineageNodes("cited_by", countNodes(n.CitedBy))
	}
	span.SetAttributes(
		attribute.Int64("paper.id", root.ID),
		attribute.Int("lineage.predecessor_hops", pred),
		attribute.Int("lineage.successor_hops", succ),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.log.Debug("lineage built",
		"kind", kind,
		"root_id", root.ID,
		"predecessor_hops", pred,
		"successor_hops", succ,
		"cites", len(n.Cites),
		"cited_by", len(n.CitedBy),
	)
	return n, nil
}

func (e *Engine) resolveRoot(ctx context.Context, title string) (*paper.Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty title", ErrRootNotFound)
	}
	start := time.Now()
	rec, err := e.proxy.SearchBestMatch(ctx, title)
	e.observe("search_best_match", start, err)
	if errors.Is(err, search.ErrNotFound) || (err == nil && rec == nil) {
		return nil, fmt.Errorf("%w: %q", ErrRootNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("lineage: resolve %q: %w", title, err)
	}
	return rec, nil
}

func (e *Engine) getByID(ctx context.Context, id int64) (*paper.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lineage.get_by_id", trace.WithAttributes(attribute.Int64("paper.id", id)))
	defer span.End()
	start := time.Now()
	rec, err := e.proxy.GetByID(ctx, id)
	e.observe("get_by_id", start, err)
	if err == nil && rec == nil {
		err = fmt.Errorf("%w: id %d", search.ErrNotFound, id)
	}
	if err != nil && !errors.Is(err, search.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (e *Engine) searchFiltered(ctx context.Context, f search.Filter, limit int) ([]paper.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lineage.search_filtered", trace.WithAttributes(
		attribute.String("search.filter", f.String()),
		attribute.Int("search.limit", limit),
	))
	defer span.End()
	start := time.Now()
	recs, err := e.proxy.SearchFiltered(ctx, f, limit)
	e.observe("search_filtered", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("search.hits", len(recs)))
	return recs, err
}

func (e *Engine) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, search.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	e.metrics.ObserveLookup(op, status, time.Since(start))
}

// expandAll builds one node per id. Results keep the order of ids whether or
// not siblings run concurrently; nil results are dropped. A failing branch
// never cancels its siblings.
func (e *Engine) expandAll(ctx context.Context, ids []int64, build func(context.Context, int64) *paper.Node) []*paper.Node {
	out := make([]*paper.Node, len(ids))
	if e.opts.Parallelism <= 1 || len(ids) < 2 {
		for i, id := range ids {
			out[i] = build(ctx, id)
		}
		return compact(out)
	}

	var g errgroup.Group
	g.SetLimit(e.opts.Parallelism)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = build(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return compact(out)
}

func compact(nodes []*paper.Node) []*paper.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func countNodes(nodes []*paper.Node) int {
	total := 0
	for _, n := range nodes {
		total += 1 + countNodes(n.Cites) + countNodes(n.CitedBy)
	}
	return total
}
