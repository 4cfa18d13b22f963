package ingest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/graphstore"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
)

// Writer turns one paper record into graph writes.
type Writer struct {
	store  graphstore.Store
	tracer trace.Tracer
}

func NewWriter(store graphstore.Store) *Writer {
	return &Writer{store: store, tracer: observability.Tracer()}
}

// Apply validates rec and writes it in its own transaction. The whole
// record commits or nothing does.
func (w *Writer) Apply(ctx context.Context, rec *paper.Record) error {
	ctx = ctxutil.Default(ctx)
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, span := w.tracer.Start(ctx, "ingest.apply_paper", trace.WithAttributes(
		attribute.Int64("paper.id", rec.ID),
		attribute.Int("paper.references", len(rec.References)),
	))
	defer span.End()

	err := w.store.ExecuteWrite(ctx, func(tx graphstore.Tx) error {
		return w.ProcessPaper(ctx, tx, rec)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ProcessPaper merges the paper, its authors, venue, citations and fields
// of study inside tx.
func (w *Writer) ProcessPaper(ctx context.Context, tx graphstore.Tx, rec *paper.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	self := graphstore.PaperRef(rec.ID)
	if err := tx.MergeNode(ctx, self, rec.Attrs(), graphstore.FillMissing); err != nil {
		return fmt.Errorf("paper %d: %w", rec.ID, err)
	}

	for _, a := range rec.Authors() {
		ref := graphstore.AuthorRef(a.ID)
		attrs := map[string]any{"name": a.Name, "organization": a.Organization}
		if err := tx.MergeNode(ctx, ref, attrs, graphstore.OnCreate); err != nil {
			return fmt.Errorf("paper %d author %d: %w", rec.ID, a.ID, err)
		}
		if err := tx.MergeEdge(ctx, ref, self, graphstore.EdgeWrote, map[string]any{"position": int64(a.Position)}); err != nil {
			return fmt.Errorf("paper %d author %d: %w", rec.ID, a.ID, err)
		}
	}

	if v, ok := rec.Venue(); ok {
		ref := graphstore.VenueRef(v.ID)
		attrs := map[string]any{"name": v.Name}
		if v.Type != "" {
			attrs["type"] = v.Type
		}
		if err := tx.MergeNode(ctx, ref, attrs, graphstore.OnCreate); err != nil {
			return fmt.Errorf("paper %d venue %d: %w", rec.ID, v.ID, err)
		}
		if err := tx.MergeEdge(ctx, self, ref, graphstore.EdgePublishedIn, nil); err != nil {
			return fmt.Errorf("paper %d venue %d: %w", rec.ID, v.ID, err)
		}
	}

	for _, refID := range rec.ReferenceIDs() {
		ref := graphstore.PaperRef(refID)
		if err := tx.MergeNode(ctx, ref, nil, graphstore.FillMissing); err != nil {
			return fmt.Errorf("paper %d reference %d: %w", rec.ID, refID, err)
		}
		if err := tx.MergeEdge(ctx, self, ref, graphstore.EdgeCites, nil); err != nil {
			return fmt.Errorf("paper %d reference %d: %w", rec.ID, refID, err)
		}
	}

	for _, f := range rec.Fields() {
		ref := graphstore.FieldRef(f.Name)
		if err := tx.MergeNode(ctx, ref, nil, graphstore.OnCreate); err != nil {
			return fmt.Errorf("paper %d field %q: %w", rec.ID, f.Name, err)
		}
		if err := tx.MergeEdge(ctx, self, ref, graphstore.EdgeInField, map[string]any{"weight": f.Weight}); err != nil {
			return fmt.Errorf("paper %d field %q: %w", rec.ID, f.Name, err)
		}
	}
	return nil
}
