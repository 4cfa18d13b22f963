package search

import (
	"context"
	"errors"

	"github.com/yungbote/citegraph/internal/domain/paper"
)

var ErrNotFound = errors.New("search: paper not found")

// Proxy is the lookup contract the traversal engine depends on.
type Proxy interface {
	// GetByID returns ErrNotFound when no paper has the id.
	GetByID(ctx context.Context, id int64) (*paper.Record, error)
	// SearchBestMatch returns the single best hit for free text, or ErrNotFound.
	SearchBestMatch(ctx context.Context, text string) (*paper.Record, error)
	// SearchFiltered returns up to limit papers matching filter in backend order.
	SearchFiltered(ctx context.Context, filter Filter, limit int) ([]paper.Record, error)
}

// Service adds topic search and corpus size on top of Proxy.
type Service interface {
	Proxy
	Search(ctx context.Context, q Query) (*Page, error)
	Count(ctx context.Context) (int64, error)
}

type Page struct {
	Results []paper.Record `json:"results"`
	Count   int            `json:"cnt_result"`
	TookMS  int64          `json:"time_miliseconds"`
}

// Fields lists the searchable record fields.
var Fields = []string{
	"id", "title", "year", "n_citation", "doc_type", "publisher", "references", "n_reference",
	"author_names", "author_orgs", "author_ids", "venue_name", "venue_id", "venue_type", "fos_names", "fos_ws",
}
