package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/platform/neo4jdb"
)

// recordTail rebuilds a full record for each bound (p, ord) and returns the
// rows in ord order. Stub papers are never bound because every match
// requires a title.
const recordTail = `
OPTIONAL MATCH (p)-[:CITES]->(r:Paper)
WITH p, ord, collect(r.id) AS refs
OPTIONAL MATCH (a:Author)-[w:WROTE]->(p)
WITH p, ord, refs, a, w ORDER BY w.position
WITH p, ord, refs, collect(a {.id, .name, .organization}) AS authors
OPTIONAL MATCH (p)-[:PUBLISHED_IN]->(v:Venue)
WITH p, ord, refs, authors, head(collect(v {.id, .name, .type})) AS venue
OPTIONAL MATCH (p)-[f:IN_FIELD]->(fos:FieldOfStudy)
RETURN p {.*} AS paper, refs, authors, venue, collect(fos {.name, weight: f.weight}) AS fields, ord
ORDER BY ord`

// numbered binds ord to the position of each p in the preceding ordering.
const numbered = `
WITH collect(p) AS ps
UNWIND range(0, size(ps) - 1) AS ord
WITH ps[ord] AS p, ord`

// GraphProxy serves Service from the citation graph itself, for deployments
// without a search index.
type GraphProxy struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewGraphProxy(client *neo4jdb.Client, log *logger.Logger) (*GraphProxy, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("search: neo4j client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("Graph-backed search selected", "provider", "graph")
	return &GraphProxy{client: client, log: log.With("service", "GraphSearch")}, nil
}

func (g *GraphProxy) GetByID(ctx context.Context, id int64) (*paper.Record, error) {
	recs, err := g.query(ctx, "MATCH (p:Paper {id: $id}) WHERE p.title IS NOT NULL\nWITH p, 0 AS ord"+recordTail, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return &recs[0], nil
}

func (g *GraphProxy) SearchBestMatch(ctx context.Context, text string) (*paper.Record, error) {
	q := `MATCH (p:Paper)
WHERE p.title IS NOT NULL AND toLower(p.title) CONTAINS toLower($q)
WITH p ORDER BY CASE WHEN toLower(p.title) = toLower($q) THEN 0 ELSE 1 END, p.n_citation DESC
LIMIT 1` + numbered + recordTail
	recs, err := g.query(ctx, q, map[string]any{"q": strings.TrimSpace(text)})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, text)
	}
	return &recs[0], nil
}

func (g *GraphProxy) SearchFiltered(ctx context.Context, filter Filter, limit int) ([]paper.Record, error) {
	if limit <= 0 {
		return nil, opErr("search_filtered", OperationErrorValidation, "limit must be positive", nil)
	}
	q, params, err := filteredQuery("", filter, limit)
	if err != nil {
		return nil, err
	}
	return g.query(ctx, q, params)
}

func (g *GraphProxy) Search(ctx context.Context, query Query) (*Page, error) {
	limit, filter, err := query.Normalize()
	if err != nil {
		return nil, err
	}
	q, params, err := filteredQuery(query.Topic, filter, limit)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	recs, err := g.query(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return &Page{Results: recs, Count: len(recs), TookMS: time.Since(start).Milliseconds()}, nil
}

func (g *GraphProxy) Count(ctx context.Context) (int64, error) {
	ctx = ctxutil.Default(ctx)
	session := g.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (p:Paper) WHERE p.title IS NOT NULL RETURN count(p) AS c`, nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		c, _ := rec.Get("c")
		n, _ := c.(int64)
		return n, nil
	})
	if err != nil {
		return 0, opErr("count", OperationErrorQueryFailed, "neo4j count failed", err)
	}
	return out.(int64), nil
}

func (g *GraphProxy) query(ctx context.Context, q string, params map[string]any) ([]paper.Record, error) {
	ctx = ctxutil.Default(ctx)
	session := g.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		var recs []paper.Record
		for res.Next(ctx) {
			row := res.Record()
			p, _ := row.Get("paper")
			refs, _ := row.Get("refs")
			authors, _ := row.Get("authors")
			venue, _ := row.Get("venue")
			fields, _ := row.Get("fields")
			recs = append(recs, recordFromRow(p, refs, authors, venue, fields))
		}
		return recs, res.Err()
	})
	if err != nil {
		return nil, opErr("graph_query", OperationErrorQueryFailed, "neo4j read failed", err)
	}
	recs, _ := out.([]paper.Record)
	return recs, nil
}

// filteredQuery translates a Filter into a MATCH over Paper nodes ordered
// by citation count.
func filteredQuery(topic string, f Filter, limit int) (string, map[string]any, error) {
	params := map[string]any{"limit": int64(limit)}
	conds := []string{"p.title IS NOT NULL"}
	if t := strings.TrimSpace(topic); t != "" {
		params["topic"] = t
		conds = append(conds, "toLower(p.title) CONTAINS toLower($topic)")
	}
	for i, c := range f.Clauses {
		name := fmt.Sprintf("f%d", i)
		cond, err := clauseCypher(c, name, params)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
	}
	q := "MATCH (p:Paper)\nWHERE " + strings.Join(conds, "\n  AND ") +
		"\nWITH p ORDER BY p.n_citation DESC, p.id\nLIMIT $limit" + numbered + recordTail
	return q, params, nil
}

func clauseCypher(c Clause, name string, params map[string]any) (string, error) {
	switch c.Field {
	case FieldReferences:
		id, err := parseClauseInt(c)
		if err != nil {
			return "", err
		}
		params[name] = id
		return fmt.Sprintf("EXISTS { MATCH (p)-[:CITES]->(:Paper {id: $%s}) }", name), nil
	case FieldYear, FieldNCitation:
		if c.Op != OpRange {
			return "", opErr("graph_filter", OperationErrorValidation, fmt.Sprintf("field %s supports ranges only", c.Field), nil)
		}
		params[name+"_lo"] = c.Lo
		params[name+"_hi"] = c.Hi
		return fmt.Sprintf("p.%s >= $%s_lo AND p.%s <= $%s_hi", c.Field, name, c.Field, name), nil
	case FieldDocType:
		params[name] = c.Value
		return fmt.Sprintf("p.doc_type = $%s", name), nil
	case FieldAuthorNames:
		params[name] = c.Value
		return fmt.Sprintf("EXISTS { MATCH (a:Author)-[:WROTE]->(p) WHERE toLower(a.name) CONTAINS toLower($%s) }", name), nil
	case FieldAuthorOrgs:
		params[name] = c.Value
		return fmt.Sprintf("EXISTS { MATCH (a:Author)-[:WROTE]->(p) WHERE toLower(a.organization) CONTAINS toLower($%s) }", name), nil
	case FieldVenueName:
		params[name] = c.Value
		return fmt.Sprintf("EXISTS { MATCH (p)-[:PUBLISHED_IN]->(v:Venue) WHERE toLower(v.name) CONTAINS toLower($%s) }", name), nil
	case FieldFOSNames:
		params[name] = c.Value
		return fmt.Sprintf("EXISTS { MATCH (p)-[:IN_FIELD]->(fos:FieldOfStudy) WHERE toLower(fos.name) CONTAINS toLower($%s) }", name), nil
	default:
		return "", opErr("graph_filter", OperationErrorValidation, fmt.Sprintf("unsupported filter field %q", c.Field), nil)
	}
}

func parseClauseInt(c Clause) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(c.Value, &id); err != nil {
		return 0, opErr("graph_filter", OperationErrorValidation, fmt.Sprintf("field %s expects an integer, got %q", c.Field, c.Value), err)
	}
	return id, nil
}

// recordFromRow maps one recordTail row back to a record with the same
// parallel-array shape the search index stores.
func recordFromRow(p, refs, authors, venue, fields any) paper.Record {
	props, _ := p.(map[string]any)
	rec := paper.Record{
		ID:         asInt64(props["id"]),
		Title:      asString(props["title"]),
		Year:       int(asInt64(props["year"])),
		NCitation:  int(asInt64(props["n_citation"])),
		NReference: int(asInt64(props["n_reference"])),
		DocType:    asString(props["doc_type"]),
		Publisher:  asString(props["publisher"]),
	}
	for _, r := range asList(refs) {
		if id := asInt64(r); id != 0 {
			rec.References = append(rec.References, id)
		}
	}
	for _, a := range asList(authors) {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		rec.AuthorIDs = append(rec.AuthorIDs, asInt64(m["id"]))
		rec.AuthorNames = append(rec.AuthorNames, asString(m["name"]))
		rec.AuthorOrgs = append(rec.AuthorOrgs, asString(m["organization"]))
	}
	if v, ok := venue.(map[string]any); ok {
		rec.VenueID = asInt64(v["id"])
		rec.VenueName = asString(v["name"])
		rec.VenueType = asString(v["type"])
	}
	for _, f := range asList(fields) {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		rec.FOSNames = append(rec.FOSNames, asString(m["name"]))
		w, _ := m["weight"].(float64)
		rec.FOSWeights = append(rec.FOSWeights, w)
	}
	return rec
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
