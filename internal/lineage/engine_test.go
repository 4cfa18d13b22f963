package lineage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/search"
)

// fakeProxy serves records from memory. Citing papers are returned in the
// order records were added.
type fakeProxy struct {
	mu      sync.Mutex
	order   []int64
	records map[int64]paper.Record
	broken  map[int64]bool
	delay   func(id int64) time.Duration

	lookups     atomic.Int64
	lastLimit   atomic.Int64
	bestMatchFn func(text string) (*paper.Record, error)
}

func newFakeProxy(recs ...paper.Record) *fakeProxy {
	p := &fakeProxy{records: map[int64]paper.Record{}, broken: map[int64]bool{}}
	for _, r := range recs {
		p.order = append(p.order, r.ID)
		p.records[r.ID] = r
	}
	return p
}

func (p *fakeProxy) GetByID(ctx context.Context, id int64) (*paper.Record, error) {
	p.lookups.Add(1)
	if p.delay != nil {
		time.Sleep(p.delay(id))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken[id] {
		return nil, errors.New("backend unavailable")
	}
	rec, ok := p.records[id]
	if !ok {
		return nil, search.ErrNotFound
	}
	return &rec, nil
}

func (p *fakeProxy) SearchBestMatch(ctx context.Context, text string) (*paper.Record, error) {
	if p.bestMatchFn != nil {
		return p.bestMatchFn(text)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		if rec := p.records[id]; rec.Title == text {
			return &rec, nil
		}
	}
	return nil, search.ErrNotFound
}

func (p *fakeProxy) SearchFiltered(ctx context.Context, f search.Filter, limit int) ([]paper.Record, error) {
	p.lastLimit.Store(int64(limit))
	if len(f.Clauses) != 1 || f.Clauses[0].Field != search.FieldReferences {
		return nil, errors.New("unsupported filter")
	}
	target, err := strconv.ParseInt(f.Clauses[0].Value, 10, 64)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []paper.Record
	for _, id := range p.order {
		rec := p.records[id]
		for _, r := range rec.References {
			if r == target {
				out = append(out, rec)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func rec(id int64, title string, refs ...int64) paper.Record {
	return paper.Record{ID: id, Title: title, References: refs}
}

func ids(nodes []*paper.Node) []int64 {
	out := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestExpandOriginsWorkedExample(t *testing.T) {
	p := newFakeProxy(rec(1, "A", 2), rec(2, "B", 3), rec(3, "C"))
	e := NewEngine(p, Options{}, nil, nil)

	got := e.ExpandOrigins(context.Background(), 1, 2)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
	require.Len(t, got[0].Cites, 1)
	assert.Equal(t, int64(3), got[0].Cites[0].ID)
	assert.NotNil(t, got[0].Cites[0].Cites)
	assert.Empty(t, got[0].Cites[0].Cites)
	assert.Nil(t, got[0].CitedBy)
}

func TestExpandZeroDepthIsEmpty(t *testing.T) {
	p := newFakeProxy(rec(1, "A", 2), rec(2, "B"))
	e := NewEngine(p, Options{}, nil, nil)

	for _, depth := range []int{0, -1} {
		origins := e.ExpandOrigins(context.Background(), 1, depth)
		assert.NotNil(t, origins)
		assert.Empty(t, origins)
		assert.Empty(t, e.ExpandCitations(context.Background(), 2, depth))
	}
	assert.Zero(t, p.lookups.Load())
}

func TestExpandCitationsDepthTermination(t *testing.T) {
	// 2 cites 1, 3 cites 2, ... 6 cites 5.
	p := newFakeProxy(rec(1, "P1"), rec(2, "P2", 1), rec(3, "P3", 2), rec(4, "P4", 3), rec(5, "P5", 4), rec(6, "P6", 5))
	e := NewEngine(p, Options{}, nil, nil)

	for d := 1; d <= 4; d++ {
		root := paper.NewNode(rec(1, "P1"))
		root.CitedBy = e.ExpandCitations(context.Background(), 1, d)
		assert.Equal(t, d, root.Depth(), "depth %d", d)
	}
	assert.Equal(t, int64(DefaultCitationFanout), p.lastLimit.Load())
}

func TestExpandOriginsDepthTermination(t *testing.T) {
	p := newFakeProxy(rec(1, "P1", 2), rec(2, "P2", 3), rec(3, "P3", 4), rec(4, "P4", 5), rec(5, "P5"))
	e := NewEngine(p, Options{}, nil, nil)

	for d := 1; d <= 3; d++ {
		root := paper.NewNode(rec(1, "P1"))
		root.Cites = e.ExpandOrigins(context.Background(), 1, d)
		assert.Equal(t, d, root.Depth(), "depth %d", d)
	}
}

func TestExpandOriginsSkipsUnresolvedReferences(t *testing.T) {
	p := newFakeProxy(rec(1, "A", 2, 99, 4, 3), rec(2, "B"), rec(3, "C"), rec(4, "D"))
	p.broken[4] = true
	e := NewEngine(p, Options{}, nil, nil)

	got := e.ExpandOrigins(context.Background(), 1, 1)
	assert.Equal(t, []int64{2, 3}, ids(got))
}

func TestExpandCitationsSkipsUnresolvedCiters(t *testing.T) {
	p := newFakeProxy(rec(1, "A"), rec(2, "B", 1), rec(3, "C", 1), rec(4, "D", 1))
	p.broken[3] = true
	e := NewEngine(p, Options{}, nil, nil)

	got := e.ExpandCitations(context.Background(), 1, 2)
	assert.Equal(t, []int64{2, 4}, ids(got))
}

func TestExpandRepeatsSharedSubtrees(t *testing.T) {
	// Diamond: 1 -> {2, 3} -> 4. Paper 4 appears under both branches.
	p := newFakeProxy(rec(1, "A", 2, 3), rec(2, "B", 4), rec(3, "C", 4), rec(4, "D"))
	e := NewEngine(p, Options{}, nil, nil)

	got := e.ExpandOrigins(context.Background(), 1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{4}, ids(got[0].Cites))
	assert.Equal(t, []int64{4}, ids(got[1].Cites))
}

func TestParallelExpansionPreservesOrder(t *testing.T) {
	refs := []int64{10, 11, 12, 13, 14, 15, 16, 17}
	recs := []paper.Record{rec(1, "root", refs...)}
	for _, id := range refs {
		recs = append(recs, rec(id, "ref", 100+id))
		recs = append(recs, rec(100+id, "leaf"))
	}
	p := newFakeProxy(recs...)
	// Later siblings finish first.
	p.delay = func(id int64) time.Duration {
		if id >= 10 && id < 20 {
			return time.Duration(20-id) * time.Millisecond
		}
		return 0
	}
	p.broken[13] = true

	seq := NewEngine(p, Options{}, nil, nil).ExpandOrigins(context.Background(), 1, 2)
	par := NewEngine(p, Options{Parallelism: 4}, nil, nil).ExpandOrigins(context.Background(), 1, 2)

	want := []int64{10, 11, 12, 14, 15, 16, 17}
	assert.Equal(t, want, ids(seq))
	assert.Equal(t, want, ids(par))
	for i := range par {
		assert.Equal(t, ids(seq[i].Cites), ids(par[i].Cites))
	}
}

func TestCitedByRootNotFound(t *testing.T) {
	e := NewEngine(newFakeProxy(rec(1, "A")), Options{}, nil, nil)

	_, err := e.CitedBy(context.Background(), "Unknown", 1)
	require.ErrorIs(t, err, ErrRootNotFound)

	_, err = e.LiteratureGraph(context.Background(), "   ", 1, 1)
	require.ErrorIs(t, err, ErrRootNotFound)
}

func TestRootFoundWithoutEdges(t *testing.T) {
	e := NewEngine(newFakeProxy(rec(1, "A")), Options{}, nil, nil)

	root, err := e.RootedIn(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), root.ID)
	assert.NotNil(t, root.Cites)
	assert.Empty(t, root.Cites)
	assert.Nil(t, root.CitedBy)
}

func TestRootResolutionBackendErrorIsNotNotFound(t *testing.T) {
	p := newFakeProxy()
	p.bestMatchFn = func(string) (*paper.Record, error) { return nil, errors.New("timeout") }
	e := NewEngine(p, Options{}, nil, nil)

	_, err := e.CitedBy(context.Background(), "A", 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRootNotFound))
}

func TestHopsAreClamped(t *testing.T) {
	p := newFakeProxy(rec(1, "P1"), rec(2, "P2", 1), rec(3, "P3", 2), rec(4, "P4", 3), rec(5, "P5", 4), rec(6, "P6", 5))
	e := NewEngine(p, Options{}, nil, nil)

	root, err := e.CitedBy(context.Background(), "P1", 10)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxHops, root.Depth())

	root, err = e.CitedBy(context.Background(), "P1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, root.Depth())
	assert.Nil(t, root.Cites)
}

func TestLiteratureGraphBothDirections(t *testing.T) {
	// 2 cites 1 cites 3; 4 cites 2.
	p := newFakeProxy(rec(1, "Root", 3), rec(2, "Citer", 1), rec(3, "Origin"), rec(4, "Second", 2))
	e := NewEngine(p, Options{Parallelism: 2}, nil, nil)

	root, err := e.LiteratureGraph(context.Background(), "Root", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(root.Cites))
	assert.Equal(t, []int64{2}, ids(root.CitedBy))
	assert.Equal(t, []int64{4}, ids(root.CitedBy[0].CitedBy))
	assert.Empty(t, root.CitedBy[0].CitedBy[0].CitedBy)
}

func TestClampHops(t *testing.T) {
	e := NewEngine(newFakeProxy(), Options{MaxHops: 2}, nil, nil)
	assert.Equal(t, 1, e.ClampHops(-3))
	assert.Equal(t, 2, e.ClampHops(2))
	assert.Equal(t, 2, e.ClampHops(9))
}
