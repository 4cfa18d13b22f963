package graphstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryStore is an in-process Store used for dry runs and tests. Writes
// are serialized; a failed transaction is undone before the lock is released.
type MemoryStore struct {
	mu          sync.Mutex
	nodes       btree.Map[string, *memNode]
	edges       btree.Map[string, *memEdge]
	constraints map[string]struct{}
	indexes     map[string]struct{}
	closed      bool
}

type memNode struct {
	label string
	props map[string]any
}

type memEdge struct {
	label string
	props map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		constraints: map[string]struct{}{},
		indexes:     map[string]struct{}{},
	}
}

func (s *MemoryStore) ExecuteWrite(ctx context.Context, fn func(tx Tx) error) (err error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *MemoryStore) EnsureUniqueConstraint(_ context.Context, label, field string) error {
	if err := validIdentifier("label", label); err != nil {
		return err
	}
	if err := validIdentifier("field", field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.constraints[label+"."+field] = struct{}{}
	return nil
}

func (s *MemoryStore) EnsureIndex(_ context.Context, label, field string) error {
	if err := validIdentifier("label", label); err != nil {
		return err
	}
	if err := validIdentifier("field", field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[label+"."+field] = struct{}{}
	return nil
}

func (s *MemoryStore) Counts(context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Counts{Nodes: map[string]int64{}, Edges: map[string]int64{}}
	s.nodes.Scan(func(_ string, n *memNode) bool {
		out.Nodes[n.label]++
		return true
	})
	s.edges.Scan(func(_ string, e *memEdge) bool {
		out.Edges[e.label]++
		return true
	})
	return out, nil
}

func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Node returns a copy of the node's properties.
func (s *MemoryStore) Node(ref NodeRef) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes.Get(nodeKey(ref))
	if !ok {
		return nil, false
	}
	return copyProps(n.props), true
}

// Edge returns a copy of the edge's properties.
func (s *MemoryStore) Edge(from, to NodeRef, label string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges.Get(edgeKey(from, to, label))
	if !ok {
		return nil, false
	}
	return copyProps(e.props), true
}

// HasConstraint and HasIndex report applied schema entries.
func (s *MemoryStore) HasConstraint(label, field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.constraints[label+"."+field]
	return ok
}

func (s *MemoryStore) HasIndex(label, field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexes[label+"."+field]
	return ok
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) MergeNode(ctx context.Context, ref NodeRef, attrs map[string]any, policy AttrPolicy) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	if err := validateAttrs(attrs); err != nil {
		return err
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	key := nodeKey(ref)
	n, ok := t.s.nodes.Get(key)
	if !ok {
		n = &memNode{label: ref.Label, props: map[string]any{ref.Key: normalizeValue(ref.Value)}}
		for k, v := range attrs {
			n.props[k] = v
		}
		t.s.nodes.Set(key, n)
		t.undo = append(t.undo, func() { t.s.nodes.Delete(key) })
		return nil
	}
	if policy != FillMissing {
		return nil
	}
	for k, v := range attrs {
		if _, set := n.props[k]; set || v == nil {
			continue
		}
		n.props[k] = v
		k := k
		t.undo = append(t.undo, func() { delete(n.props, k) })
	}
	return nil
}

func (t *memTx) MergeEdge(ctx context.Context, from, to NodeRef, label string, attrs map[string]any) error {
	if err := validateRef(from); err != nil {
		return err
	}
	if err := validateRef(to); err != nil {
		return err
	}
	if err := validIdentifier("edge", label); err != nil {
		return err
	}
	if err := validateAttrs(attrs); err != nil {
		return err
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if _, ok := t.s.nodes.Get(nodeKey(from)); !ok {
		return fmt.Errorf("%w: %s-[:%s]->%s", ErrEndpointMissing, from, label, to)
	}
	if _, ok := t.s.nodes.Get(nodeKey(to)); !ok {
		return fmt.Errorf("%w: %s-[:%s]->%s", ErrEndpointMissing, from, label, to)
	}
	key := edgeKey(from, to, label)
	if _, ok := t.s.edges.Get(key); ok {
		return nil
	}
	t.s.edges.Set(key, &memEdge{label: label, props: copyProps(attrs)})
	t.undo = append(t.undo, func() { t.s.edges.Delete(key) })
	return nil
}

// normalizeValue folds integer kinds so that 7 and int64(7) address the
// same node, matching how the driver sends integers.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	default:
		return v
	}
}

func nodeKey(ref NodeRef) string {
	return fmt.Sprintf("%s\x00%s\x00%T:%v", ref.Label, ref.Key, normalizeValue(ref.Value), normalizeValue(ref.Value))
}

func edgeKey(from, to NodeRef, label string) string {
	return label + "\x01" + nodeKey(from) + "\x01" + nodeKey(to)
}

func copyProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
