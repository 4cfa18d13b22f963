package schema

import (
	"context"

	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
)

type Kind string

const (
	KindUnique Kind = "unique"
	KindIndex  Kind = "index"
)

// Statement is one schema declaration on a node label.
type Statement struct {
	Kind  Kind
	Label string
	Field string
}

// Default is the citation graph schema. Identity keys get unique
// constraints; the lookup fields used by title and name search get indexes.
var Default = []Statement{
	{KindUnique, graphstore.LabelPaper, "id"},
	{KindUnique, graphstore.LabelAuthor, "id"},
	{KindUnique, graphstore.LabelVenue, "id"},
	{KindUnique, graphstore.LabelFieldOfStudy, "name"},
	{KindIndex, graphstore.LabelPaper, "title"},
	{KindIndex, graphstore.LabelPaper, "year"},
	{KindIndex, graphstore.LabelAuthor, "name"},
	{KindIndex, graphstore.LabelVenue, "name"},
}

type Report struct {
	Applied int
	Failed  int
}

type Manager struct {
	store      graphstore.Store
	log        *logger.Logger
	statements []Statement
}

func NewManager(store graphstore.Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		store:      store,
		log:        log.With("component", "SchemaManager"),
		statements: Default,
	}
}

// EnsureSchema applies every statement. Failures are logged and counted
// but never stop the remaining statements or the caller.
func (m *Manager) EnsureSchema(ctx context.Context) Report {
	ctx = ctxutil.Default(ctx)
	var rep Report
	for _, st := range m.statements {
		var err error
		switch st.Kind {
		case KindUnique:
			err = m.store.EnsureUniqueConstraint(ctx, st.Label, st.Field)
		default:
			err = m.store.EnsureIndex(ctx, st.Label, st.Field)
		}
		if err != nil {
			rep.Failed++
			m.log.Warn("neo4j schema init failed (continuing)", "kind", st.Kind, "label", st.Label, "field", st.Field, "error", err)
			continue
		}
		rep.Applied++
	}
	m.log.Info("Schema ensured", "applied", rep.Applied, "failed", rep.Failed)
	return rep
}
