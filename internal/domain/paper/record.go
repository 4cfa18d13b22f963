package paper

import "strings"

// MissingWeight is the IN_FIELD weight used when fos_ws is shorter than fos_names.
const MissingWeight = 0.0

type DocType string

const (
	DocTypeConference DocType = "Conference"
	DocTypeJournal    DocType = "Journal"
	DocTypeBook       DocType = "Book"
)

func (d DocType) Valid() bool {
	switch d {
	case DocTypeConference, DocTypeJournal, DocTypeBook:
		return true
	default:
		return false
	}
}

// Record is one normalized paper as produced by the corpus normalizer and
// as stored in the search index. Parallel author and field arrays are zipped
// by position through Authors and Fields.
type Record struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Year        int       `json:"year,omitempty"`
	NCitation   int       `json:"n_citation"`
	DocType     string    `json:"doc_type,omitempty"`
	Publisher   string    `json:"publisher,omitempty"`
	References  []int64   `json:"references,omitempty"`
	NReference  int       `json:"n_reference"`
	AuthorNames []string  `json:"author_names,omitempty"`
	AuthorOrgs  []string  `json:"author_orgs,omitempty"`
	AuthorIDs   []int64   `json:"author_ids,omitempty"`
	VenueName   string    `json:"venue_name,omitempty"`
	VenueID     int64     `json:"venue_id,omitempty"`
	VenueType   string    `json:"venue_type,omitempty"`
	FOSNames    []string  `json:"fos_names,omitempty"`
	FOSWeights  []float64 `json:"fos_ws,omitempty"`

	// Degraded lists optional fields that were present but malformed and
	// fell back to their defaults while decoding.
	Degraded []string `json:"-"`
}

type Author struct {
	ID           int64
	Name         string
	Organization string
	Position     int
}

type Venue struct {
	ID   int64
	Name string
	Type string
}

type Field struct {
	Name   string
	Weight float64
}

// Validate enforces the required fields. Everything else has a default.
func (r *Record) Validate() error {
	if r == nil || r.ID == 0 {
		return &ValidationError{Err: ErrMissingID}
	}
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{ID: r.ID, Err: ErrMissingTitle}
	}
	return nil
}

// Authors zips author_names, author_ids and author_orgs by position. The
// organization defaults to "" when author_orgs is shorter or absent; entries
// without a usable id are skipped but keep their original position.
func (r *Record) Authors() []Author {
	n := len(r.AuthorNames)
	if len(r.AuthorIDs) < n {
		n = len(r.AuthorIDs)
	}
	out := make([]Author, 0, n)
	for i := 0; i < n; i++ {
		if r.AuthorIDs[i] == 0 {
			continue
		}
		org := ""
		if i < len(r.AuthorOrgs) {
			org = r.AuthorOrgs[i]
		}
		out = append(out, Author{
			ID:           r.AuthorIDs[i],
			Name:         r.AuthorNames[i],
			Organization: org,
			Position:     i,
		})
	}
	return out
}

// Venue reports the publication venue when both its id and name are present.
func (r *Record) Venue() (Venue, bool) {
	if r.VenueID == 0 || strings.TrimSpace(r.VenueName) == "" {
		return Venue{}, false
	}
	return Venue{ID: r.VenueID, Name: r.VenueName, Type: r.VenueType}, true
}

// Fields zips fos_names with fos_ws; blank names are skipped.
func (r *Record) Fields() []Field {
	out := make([]Field, 0, len(r.FOSNames))
	for i, name := range r.FOSNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		w := MissingWeight
		if i < len(r.FOSWeights) {
			w = r.FOSWeights[i]
		}
		out = append(out, Field{Name: name, Weight: w})
	}
	return out
}

// ReferenceIDs returns the distinct non-zero reference ids in list order.
func (r *Record) ReferenceIDs() []int64 {
	if len(r.References) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(r.References))
	out := make([]int64, 0, len(r.References))
	for _, id := range r.References {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (r *Record) ReferenceCount() int {
	if r.NReference > 0 {
		return r.NReference
	}
	return len(r.References)
}

// Attrs returns the descriptive Paper properties written to the graph.
// Unknown values are left out so that they stay unset on the node.
func (r *Record) Attrs() map[string]any {
	attrs := map[string]any{
		"title":       r.Title,
		"n_citation":  int64(r.NCitation),
		"n_reference": int64(r.ReferenceCount()),
	}
	if r.Year != 0 {
		attrs["year"] = int64(r.Year)
	}
	if s := strings.TrimSpace(r.DocType); s != "" {
		attrs["doc_type"] = s
	}
	if s := strings.TrimSpace(r.Publisher); s != "" {
		attrs["publisher"] = s
	}
	return attrs
}
