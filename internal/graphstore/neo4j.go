package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
	"github.com/yungbote/citegraph/internal/platform/neo4jdb"
)

// Neo4jStore implements Store on a shared driver. Every ExecuteWrite call
// borrows its own session, so the store is safe for concurrent workers.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graphstore: neo4j client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Neo4jStore{client: client, log: log.With("component", "Neo4jStore")}, nil
}

func (s *Neo4jStore) ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error {
	ctx = ctxutil.Default(ctx)
	if s.client == nil || s.client.Driver == nil {
		return ErrClosed
	}
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

func (s *Neo4jStore) EnsureUniqueConstraint(ctx context.Context, label, field string) error {
	if err := validIdentifier("label", label); err != nil {
		return err
	}
	if err := validIdentifier("field", field); err != nil {
		return err
	}
	name := strings.ToLower(label) + "_" + strings.ToLower(field) + "_unique"
	q := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, label, field)
	return s.runSchema(ctx, q)
}

func (s *Neo4jStore) EnsureIndex(ctx context.Context, label, field string) error {
	if err := validIdentifier("label", label); err != nil {
		return err
	}
	if err := validIdentifier("field", field); err != nil {
		return err
	}
	name := strings.ToLower(label) + "_" + strings.ToLower(field) + "_idx"
	q := fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", name, label, field)
	return s.runSchema(ctx, q)
}

func (s *Neo4jStore) runSchema(ctx context.Context, q string) error {
	ctx = ctxutil.Default(ctx)
	if s.client == nil || s.client.Driver == nil {
		return ErrClosed
	}
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	res, err := session.Run(ctx, q, nil)
	if err != nil {
		return fmt.Errorf("graphstore: schema %q: %w", q, err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return fmt.Errorf("graphstore: schema %q: %w", q, err)
	}
	return nil
}

func (s *Neo4jStore) Counts(ctx context.Context) (Counts, error) {
	ctx = ctxutil.Default(ctx)
	out := Counts{Nodes: map[string]int64{}, Edges: map[string]int64{}}
	if s.client == nil || s.client.Driver == nil {
		return out, ErrClosed
	}
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := collectCounts(ctx, tx, `MATCH (n) UNWIND labels(n) AS k RETURN k, count(*) AS c`, out.Nodes); err != nil {
			return nil, err
		}
		return nil, collectCounts(ctx, tx, `MATCH ()-[r]->() RETURN type(r) AS k, count(*) AS c`, out.Edges)
	})
	if err != nil {
		return out, fmt.Errorf("graphstore: counts: %w", err)
	}
	return out, nil
}

func collectCounts(ctx context.Context, tx neo4j.ManagedTransaction, q string, into map[string]int64) error {
	res, err := tx.Run(ctx, q, nil)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		rec := res.Record()
		k, _ := rec.Get("k")
		c, _ := rec.Get("c")
		name, _ := k.(string)
		n, _ := c.(int64)
		into[name] = n
	}
	return res.Err()
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t *neo4jTx) MergeNode(ctx context.Context, ref NodeRef, attrs map[string]any, policy AttrPolicy) error {
	q, params, err := mergeNodeQuery(ref, attrs, policy)
	if err != nil {
		return err
	}
	res, err := t.tx.Run(ctx, q, params)
	if err != nil {
		return fmt.Errorf("graphstore: merge %s: %w", ref, err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return fmt.Errorf("graphstore: merge %s: %w", ref, err)
	}
	return nil
}

func (t *neo4jTx) MergeEdge(ctx context.Context, from, to NodeRef, label string, attrs map[string]any) error {
	q, params, err := mergeEdgeQuery(from, to, label, attrs)
	if err != nil {
		return err
	}
	res, err := t.tx.Run(ctx, q, params)
	if err != nil {
		return fmt.Errorf("graphstore: merge %s-[:%s]->%s: %w", from, label, to, err)
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return fmt.Errorf("graphstore: merge %s-[:%s]->%s: %w", from, label, to, err)
	}
	c, _ := rec.Get("c")
	if n, _ := c.(int64); n == 0 {
		return fmt.Errorf("%w: %s-[:%s]->%s", ErrEndpointMissing, from, label, to)
	}
	return nil
}

func mergeNodeQuery(ref NodeRef, attrs map[string]any, policy AttrPolicy) (string, map[string]any, error) {
	if err := validateRef(ref); err != nil {
		return "", nil, err
	}
	if err := validateAttrs(attrs); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE (n:%s {%s: $key})", ref.Label, ref.Key)
	params := map[string]any{"key": ref.Value}
	if len(attrs) > 0 {
		params["attrs"] = attrs
		switch policy {
		case FillMissing:
			keys := sortedKeys(attrs)
			sets := make([]string, 0, len(keys))
			for _, k := range keys {
				sets = append(sets, fmt.Sprintf("n.%s = coalesce(n.%s, $attrs.%s)", k, k, k))
			}
			b.WriteString("\nSET ")
			b.WriteString(strings.Join(sets, ", "))
		default:
			b.WriteString("\nON CREATE SET n += $attrs")
		}
	}
	return b.String(), params, nil
}

func mergeEdgeQuery(from, to NodeRef, label string, attrs map[string]any) (string, map[string]any, error) {
	if err := validateRef(from); err != nil {
		return "", nil, err
	}
	if err := validateRef(to); err != nil {
		return "", nil, err
	}
	if err := validIdentifier("edge", label); err != nil {
		return "", nil, err
	}
	if err := validateAttrs(attrs); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (a:%s {%s: $from})\n", from.Label, from.Key)
	fmt.Fprintf(&b, "MATCH (b:%s {%s: $to})\n", to.Label, to.Key)
	fmt.Fprintf(&b, "MERGE (a)-[r:%s]->(b)\n", label)
	params := map[string]any{"from": from.Value, "to": to.Value}
	if len(attrs) > 0 {
		params["attrs"] = attrs
		b.WriteString("ON CREATE SET r += $attrs\n")
	}
	b.WriteString("RETURN count(r) AS c")
	return b.String(), params, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
