package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"github.com/yungbote/citegraph/internal/config"
	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/httpapi"
	"github.com/yungbote/citegraph/internal/ingest"
	"github.com/yungbote/citegraph/internal/lineage"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/platform/neo4jdb"
	"github.com/yungbote/citegraph/internal/progress"
	"github.com/yungbote/citegraph/internal/runlog"
	"github.com/yungbote/citegraph/internal/schema"
	"github.com/yungbote/citegraph/internal/search"
)

// App owns every long-lived resource. Components are opened on first use so
// that each command only connects to what it needs; Close releases all of
// them.
type App struct {
	Log     *logger.Logger
	Config  *config.Config
	Metrics *observability.Metrics

	otelShutdown func(context.Context) error

	neo4j   *neo4jdb.Client
	store   graphstore.Store
	search  search.Service
	engine  *lineage.Engine
	runsDB  *gorm.DB
	runs    runlog.Repo
	closers []func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{
		Log:     log,
		Config:  cfg,
		Metrics: observability.Init(log, cfg.Metrics.Enabled),
	}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Env,
	})
	return a, nil
}

// Neo4j opens the shared driver once.
func (a *App) Neo4j(ctx context.Context) (*neo4jdb.Client, error) {
	if a.neo4j != nil {
		return a.neo4j, nil
	}
	c := a.Config.Neo4j
	client, err := neo4jdb.New(ctx, neo4jdb.Config{
		URI:         c.URI,
		User:        c.User,
		Password:    c.Password,
		Database:    c.Database,
		MaxPoolSize: c.MaxPoolSize,
		Timeout:     c.Timeout.Duration,
	}, a.Log)
	if err != nil {
		return nil, err
	}
	a.neo4j = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Graph returns the write store: in memory for dry runs, Neo4j otherwise.
func (a *App) Graph(ctx context.Context, dryRun bool) (graphstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if dryRun {
		a.Log.Info("Dry run: writing to in-memory graph")
		a.store = graphstore.NewMemoryStore()
		return a.store, nil
	}
	client, err := a.Neo4j(ctx)
	if err != nil {
		return nil, err
	}
	store, err := graphstore.NewNeo4jStore(client, a.Log)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// Search returns the lookup backend chosen by search.provider.
func (a *App) Search(ctx context.Context) (search.Service, error) {
	if a.search != nil {
		return a.search, nil
	}
	c := a.Config.Search
	switch c.Provider {
	case config.ProviderMarqo:
		mc, err := search.NewMarqoClient(ctx, a.Log, search.MarqoConfig{
			URL:           c.MarqoURL,
			Index:         c.Index,
			Timeout:       c.Timeout.Duration,
			RatePerSecond: c.RatePerSecond,
		}, a.Metrics)
		if err != nil {
			return nil, err
		}
		a.search = mc
	default:
		client, err := a.Neo4j(ctx)
		if err != nil {
			return nil, err
		}
		gp, err := search.NewGraphProxy(client, a.Log)
		if err != nil {
			return nil, err
		}
		a.search = gp
	}
	return a.search, nil
}

func (a *App) Lineage(ctx context.Context) (*lineage.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	svc, err := a.Search(ctx)
	if err != nil {
		return nil, err
	}
	a.engine = lineage.NewEngine(svc, lineage.Options{
		MaxHops:        a.Config.Lineage.MaxHops,
		CitationFanout: a.Config.Lineage.CitationFanout,
		Parallelism:    a.Config.Lineage.Parallelism,
	}, a.Log, a.Metrics)
	return a.engine, nil
}

// Runs returns the run ledger, or nil when no DSN is configured.
func (a *App) Runs() (runlog.Repo, error) {
	if a.runs != nil || a.Config.Runlog.DSN == "" {
		return a.runs, nil
	}
	db, err := runlog.Open(a.Config.Runlog.DSN, a.Log)
	if err != nil {
		return nil, err
	}
	a.runsDB = db
	a.runs = runlog.NewRepo(db, a.Log)
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return a.runs, nil
}

func (a *App) EnsureSchema(ctx context.Context, dryRun bool) (schema.Report, error) {
	store, err := a.Graph(ctx, dryRun)
	if err != nil {
		return schema.Report{}, err
	}
	rep := schema.NewManager(store, a.Log).EnsureSchema(ctx)
	for i := 0; i < rep.Applied; i++ {
		a.Metrics.IncSchemaStatement("applied")
	}
	for i := 0; i < rep.Failed; i++ {
		a.Metrics.IncSchemaStatement("failed")
	}
	return rep, nil
}

// Ingest ensures the schema and loads the records file at path.
func (a *App) Ingest(ctx context.Context, path string, opts ingest.Options) (ingest.Report, error) {
	if _, err := a.EnsureSchema(ctx, opts.DryRun); err != nil {
		return ingest.Report{Source: path}, err
	}
	store, err := a.Graph(ctx, opts.DryRun)
	if err != nil {
		return ingest.Report{Source: path}, err
	}
	runs, err := a.Runs()
	if err != nil {
		a.Log.Warn("run ledger unavailable (continuing)", "error", err)
		runs = nil
	}

	reporter := a.reporter(ctx)
	defer reporter.Close()

	rep, err := ingest.NewRunner(store, runs, reporter, a.Metrics, a.Log).RunFile(ctx, path, opts)
	if counts, cerr := store.Counts(ctx); cerr == nil {
		a.Metrics.SetGraphCounts(counts.Nodes, counts.Edges)
		a.Log.Info("Graph totals", "nodes", counts.TotalNodes(), "edges", counts.TotalEdges())
	}
	return rep, err
}

// Index loads the records file at path into the Marqo index, creating the
// index first when it is missing.
func (a *App) Index(ctx context.Context, path string, opts ingest.Options) (ingest.Report, error) {
	c := a.Config.Search
	mc, err := search.NewMarqoClient(ctx, a.Log, search.MarqoConfig{
		URL:           c.MarqoURL,
		Index:         c.Index,
		Timeout:       c.Timeout.Duration,
		RatePerSecond: c.RatePerSecond,
		CreateIndex:   true,
		Model:         c.Model,
	}, a.Metrics)
	if err != nil {
		return ingest.Report{Source: path}, err
	}
	runs, err := a.Runs()
	if err != nil {
		a.Log.Warn("run ledger unavailable (continuing)", "error", err)
		runs = nil
	}
	reporter := a.reporter(ctx)
	defer reporter.Close()

	rep, err := ingest.NewSinkRunner(ingest.KindIndex, search.NewIndexer(mc), runs, reporter, a.Metrics, a.Log).RunFile(ctx, path, opts)
	if n, cerr := mc.Count(ctx); cerr == nil {
		a.Log.Info("Index totals", "index", c.Index, "documents", n)
	}
	return rep, err
}

// reporter fans progress out to the log and, when configured, to Redis.
func (a *App) reporter(ctx context.Context) progress.Reporter {
	reporters := []progress.Reporter{progress.NewLogReporter(a.Log, 10)}
	if addr := a.Config.Progress.RedisAddr; addr != "" {
		rr, err := progress.NewRedisReporter(ctx, a.Log, addr, a.Config.Progress.Channel)
		if err != nil {
			a.Log.Warn("redis progress disabled (continuing)", "addr", addr, "error", err)
		} else {
			reporters = append(reporters, rr)
		}
	}
	return progress.Multi(reporters...)
}

// Handler builds the HTTP API over the configured backends.
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	deps, err := a.httpDeps(ctx)
	if err != nil {
		return nil, err
	}
	return httpapi.NewHandler(a.Log, deps), nil
}

func (a *App) httpDeps(ctx context.Context) (httpapi.Deps, error) {
	svc, err := a.Search(ctx)
	if err != nil {
		return httpapi.Deps{}, err
	}
	eng, err := a.Lineage(ctx)
	if err != nil {
		return httpapi.Deps{}, err
	}
	deps := httpapi.Deps{
		Search:  svc,
		Lineage: eng,
		Metrics: a.Metrics,
	}
	if a.Config.Neo4j.URI != "" {
		if store, err := a.Graph(ctx, false); err == nil {
			deps.Graph = store
		} else {
			a.Log.Warn("graph counts disabled", "error", err)
		}
	}
	if a.neo4j != nil {
		client := a.neo4j
		deps.Ready = client.Ping
	}
	return deps, nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	deps, err := a.httpDeps(ctx)
	if err != nil {
		return err
	}
	srv := httpapi.NewServer(a.Config, a.Log, deps)
	a.Log.Info("HTTP server listening", "addr", srv.Addr, "search_provider", a.Config.Search.Provider)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.Log.Sync()
	return errors.Join(errs...)
}
