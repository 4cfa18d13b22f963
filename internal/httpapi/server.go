package httpapi

import (
	"context"
	"net/http"

	"github.com/yungbote/citegraph/internal/config"
	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/search"
)

// Lineage is the traversal surface served under /v1/lineage.
type Lineage interface {
	CitedBy(ctx context.Context, title string, hops int) (*paper.Node, error)
	RootedIn(ctx context.Context, title string, hops int) (*paper.Node, error)
	LiteratureGraph(ctx context.Context, title string, predecessorHops, successorHops int) (*paper.Node, error)
}

type Deps struct {
	Search  search.Service
	Lineage Lineage
	// Graph is optional; when set /v1/stats includes node and edge counts.
	Graph   graphstore.Store
	Metrics *observability.Metrics
	// Ready is optional; a non-nil error turns /readyz into 503.
	Ready func(ctx context.Context) error
}

func NewServer(cfg *config.Config, log *logger.Logger, deps Deps) *http.Server {
	h := NewHandler(log, deps)

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
		WriteTimeout:      0,
	}
}

func NewHandler(log *logger.Logger, deps Deps) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Ready))
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	mux.HandleFunc("GET /v1/papers/{id}", handlePaperByID(log, deps.Search))
	mux.HandleFunc("GET /v1/papers", handlePaperByTitle(log, deps.Search))
	mux.HandleFunc("GET /v1/papers/search", handleSearchPapers(log, deps.Search))
	mux.HandleFunc("GET /v1/fields", handleFields)
	mux.HandleFunc("GET /v1/stats", handleStats(log, deps.Search, deps.Graph, deps.Metrics))
	mux.HandleFunc("GET /v1/index", handleIndexInfo(log, deps.Search))

	mux.HandleFunc("GET /v1/lineage/cited-by", handleCitedBy(log, deps.Lineage))
	mux.HandleFunc("GET /v1/lineage/rooted-in", handleRootedIn(log, deps.Lineage))
	mux.HandleFunc("GET /v1/lineage/graph", handleLiteratureGraph(log, deps.Lineage))

	var h http.Handler = mux
	h = metricsMiddleware(deps.Metrics)(h)
	h = recoverMiddleware(log)(h)
	h = accessLogMiddleware(log)(h)
	h = requestIDMiddleware()(h)

	return h
}
