package graphstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Node labels and edge types of the citation graph.
const (
	LabelPaper        = "Paper"
	LabelAuthor       = "Author"
	LabelVenue        = "Venue"
	LabelFieldOfStudy = "FieldOfStudy"

	EdgeWrote       = "WROTE"
	EdgePublishedIn = "PUBLISHED_IN"
	EdgeCites       = "CITES"
	EdgeInField     = "IN_FIELD"
)

var (
	ErrEndpointMissing   = errors.New("graphstore: edge endpoint does not exist")
	ErrInvalidIdentifier = errors.New("graphstore: invalid identifier")
	ErrClosed            = errors.New("graphstore: store closed")
)

// AttrPolicy decides when merge attributes are written.
type AttrPolicy int

const (
	// OnCreate writes attributes only when the node is created.
	OnCreate AttrPolicy = iota
	// FillMissing writes each attribute only while it is unset, so a node
	// first created as a bare stub still receives its descriptive fields
	// later, and a fully populated node is never overwritten.
	FillMissing
)

func (p AttrPolicy) String() string {
	switch p {
	case OnCreate:
		return "on_create"
	case FillMissing:
		return "fill_missing"
	default:
		return fmt.Sprintf("AttrPolicy(%d)", int(p))
	}
}

// NodeRef identifies a node by label and unique key.
type NodeRef struct {
	Label string
	Key   string
	Value any
}

func (r NodeRef) String() string {
	return fmt.Sprintf("(%s {%s: %v})", r.Label, r.Key, r.Value)
}

func PaperRef(id int64) NodeRef    { return NodeRef{Label: LabelPaper, Key: "id", Value: id} }
func AuthorRef(id int64) NodeRef   { return NodeRef{Label: LabelAuthor, Key: "id", Value: id} }
func VenueRef(id int64) NodeRef    { return NodeRef{Label: LabelVenue, Key: "id", Value: id} }
func FieldRef(name string) NodeRef { return NodeRef{Label: LabelFieldOfStudy, Key: "name", Value: name} }

// Tx is a caller-scoped write transaction.
type Tx interface {
	// MergeNode creates the node if absent and applies attrs per policy.
	MergeNode(ctx context.Context, ref NodeRef, attrs map[string]any, policy AttrPolicy) error
	// MergeEdge creates the directed edge if absent; attrs are set on creation
	// only. Both endpoints must already exist.
	MergeEdge(ctx context.Context, from, to NodeRef, label string, attrs map[string]any) error
}

type Counts struct {
	Nodes map[string]int64
	Edges map[string]int64
}

func (c Counts) TotalNodes() int64 {
	var n int64
	for _, v := range c.Nodes {
		n += v
	}
	return n
}

func (c Counts) TotalEdges() int64 {
	var n int64
	for _, v := range c.Edges {
		n += v
	}
	return n
}

type Store interface {
	// ExecuteWrite runs fn in one write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error
	EnsureUniqueConstraint(ctx context.Context, label, field string) error
	EnsureIndex(ctx context.Context, label, field string) error
	Counts(ctx context.Context) (Counts, error)
	Close(ctx context.Context) error
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdentifier guards labels, keys and property names that end up in
// query text; values always travel as parameters.
func validIdentifier(kind, s string) error {
	if !identifierRe.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, s)
	}
	return nil
}

func validateRef(ref NodeRef) error {
	if err := validIdentifier("label", ref.Label); err != nil {
		return err
	}
	if err := validIdentifier("key", ref.Key); err != nil {
		return err
	}
	if ref.Value == nil {
		return fmt.Errorf("graphstore: %s has nil key value", ref.Label)
	}
	return nil
}

func validateAttrs(attrs map[string]any) error {
	for k := range attrs {
		if err := validIdentifier("property", k); err != nil {
			return err
		}
	}
	return nil
}
