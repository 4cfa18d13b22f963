package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/yungbote/citegraph/internal/domain/paper"
)

const (
	// MaxDocumentsPerRequest is the add-documents batch size.
	MaxDocumentsPerRequest = 100

	defaultIndexModel = "hf/e5-base-v2"
)

// FieldSpec is one attribute of the structured papers index.
type FieldSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Features []string `json:"features,omitempty"`
}

const (
	featureFilter  = "filter"
	featureLexical = "lexical_search"
)

// PaperFields lists the structured index attributes. The *_ngram arrays back
// the author, organization, venue and keyword filters.
func PaperFields() []FieldSpec {
	filter := []string{featureFilter}
	lexical := []string{featureLexical}
	both := []string{featureFilter, featureLexical}
	return []FieldSpec{
		{Name: "id", Type: "long", Features: filter},
		{Name: "title", Type: "text", Features: lexical},
		{Name: "year", Type: "int", Features: filter},
		{Name: "n_citation", Type: "int", Features: filter},
		{Name: "doc_type", Type: "text", Features: filter},
		{Name: "publisher", Type: "text", Features: lexical},
		{Name: "references", Type: "array<long>", Features: filter},
		{Name: "n_reference", Type: "int", Features: filter},
		{Name: "author_names", Type: "array<text>", Features: both},
		{Name: FieldAuthorNames, Type: "array<text>", Features: both},
		{Name: "author_orgs", Type: "array<text>", Features: both},
		{Name: FieldAuthorOrgs, Type: "array<text>", Features: both},
		{Name: "author_ids", Type: "array<long>", Features: filter},
		{Name: "venue_name", Type: "text", Features: both},
		{Name: FieldVenueName, Type: "array<text>", Features: both},
		{Name: "venue_id", Type: "long", Features: filter},
		{Name: "venue_type", Type: "text", Features: filter},
		{Name: "fos_names", Type: "array<text>", Features: both},
		{Name: FieldFOSNames, Type: "array<text>", Features: both},
		{Name: "fos_ws", Type: "array<float>", Features: filter},
	}
}

type marqoTextPreprocessing struct {
	SplitLength  int    `json:"splitLength"`
	SplitOverlap int    `json:"splitOverlap"`
	SplitMethod  string `json:"splitMethod"`
}

type marqoCreateIndexRequest struct {
	Type                string                 `json:"type"`
	Model               string                 `json:"model"`
	NormalizeEmbeddings bool                   `json:"normalizeEmbeddings"`
	TextPreprocessing   marqoTextPreprocessing `json:"textPreprocessing"`
	AllFields           []FieldSpec            `json:"allFields"`
	TensorFields        []string               `json:"tensorFields"`
}

// CreateIndex creates the structured papers index with title as the only
// tensor field. created is false when the index already exists.
func (c *MarqoClient) CreateIndex(ctx context.Context) (created bool, err error) {
	const op = "create_index"
	model := strings.TrimSpace(c.cfg.Model)
	if model == "" {
		model = defaultIndexModel
	}
	req := marqoCreateIndexRequest{
		Type:                "structured",
		Model:               model,
		NormalizeEmbeddings: true,
		TextPreprocessing: marqoTextPreprocessing{
			SplitLength:  10,
			SplitOverlap: 0,
			SplitMethod:  "passage",
		},
		AllFields:    PaperFields(),
		TensorFields: []string{"title"},
	}
	err = c.doJSON(ctx, op, http.MethodPost, c.indexPath(""), req, nil)
	if err != nil {
		if indexExists(err) {
			c.log.Info("Marqo index already exists", "index", c.cfg.Index)
			return false, nil
		}
		return false, err
	}
	c.log.Info("Marqo index created", "index", c.cfg.Index, "model", model)
	return true, nil
}

func indexExists(err error) bool {
	var oe *OperationError
	if !errors.As(err, &oe) {
		return false
	}
	return oe.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(oe.Message), "already exists")
}

// marqoDocument is a Record plus the fields the index derives from it.
type marqoDocument struct {
	DocID string `json:"_id"`
	paper.Record
	AuthorNamesNgram []string `json:"author_names_ngram,omitempty"`
	AuthorOrgsNgram  []string `json:"author_orgs_ngram,omitempty"`
	VenueNameNgram   []string `json:"venue_name_ngram,omitempty"`
	FOSNamesNgram    []string `json:"fos_names_ngram,omitempty"`
}

func newMarqoDocument(rec paper.Record) marqoDocument {
	doc := marqoDocument{
		DocID:            strconv.FormatInt(rec.ID, 10),
		Record:           rec,
		AuthorNamesNgram: Ngrams(rec.AuthorNames, 1, 2),
		AuthorOrgsNgram:  Ngrams(rec.AuthorOrgs, 1, 3),
		FOSNamesNgram:    Ngrams(rec.FOSNames, 1, 2),
	}
	if rec.VenueName != "" {
		doc.VenueNameNgram = Ngrams([]string{rec.VenueName}, 1, 4)
	}
	return doc
}

// Ngrams returns the sorted distinct word n-grams of texts for every n in
// [minN, maxN]. Words are runs of letters, digits and underscores at least
// two characters long; case is preserved. N-grams never span two texts.
func Ngrams(texts []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	seen := make(map[string]struct{})
	for _, text := range texts {
		words := tokenize(text)
		for n := minN; n <= maxN; n++ {
			for i := 0; i+n <= len(words); i++ {
				seen[strings.Join(words[i:i+n], " ")] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			words = append(words, f)
		}
	}
	return words
}

type marqoAddDocumentsRequest struct {
	Documents []marqoDocument `json:"documents"`
}

type marqoAddDocumentsResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  string `json:"error"`
	} `json:"items"`
}

// AddDocuments upserts recs in requests of at most MaxDocumentsPerRequest.
// The result holds one entry per record; nil means Marqo accepted it.
func (c *MarqoClient) AddDocuments(ctx context.Context, recs []paper.Record) []error {
	const op = "add_documents"
	errs := make([]error, len(recs))
	for start := 0; start < len(recs); start += MaxDocumentsPerRequest {
		end := min(start+MaxDocumentsPerRequest, len(recs))
		chunk := recs[start:end]

		req := marqoAddDocumentsRequest{Documents: make([]marqoDocument, len(chunk))}
		pos := make(map[string]int, len(chunk))
		for i := range chunk {
			req.Documents[i] = newMarqoDocument(chunk[i])
			pos[req.Documents[i].DocID] = start + i
		}

		var resp marqoAddDocumentsResponse
		if err := c.doJSON(ctx, op, http.MethodPost, c.indexPath("/documents"), req, &resp); err != nil {
			for i := start; i < end; i++ {
				errs[i] = err
			}
			continue
		}
		for _, item := range resp.Items {
			i, ok := pos[item.ID]
			if !ok || (item.Status >= 200 && item.Status < 300) {
				continue
			}
			msg := item.Error
			if msg == "" {
				msg = fmt.Sprintf("status %d", item.Status)
			}
			errs[i] = &OperationError{
				Code:       OperationErrorQueryFailed,
				Operation:  op,
				StatusCode: item.Status,
				Message:    fmt.Sprintf("document %s rejected: %s", item.ID, msg),
			}
		}
	}
	return errs
}

// IndexInfo returns the raw index statistics as Marqo reports them.
func (c *MarqoClient) IndexInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.doJSON(ctx, "index_info", http.MethodGet, c.indexPath("/stats"), nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Indexer feeds validated records into the Marqo index. It satisfies the
// ingestion pool's sink contract.
type Indexer struct {
	client *MarqoClient
}

func NewIndexer(client *MarqoClient) *Indexer {
	return &Indexer{client: client}
}

func (ix *Indexer) Apply(ctx context.Context, rec *paper.Record) error {
	if rec == nil {
		return fmt.Errorf("search: nil record")
	}
	return ix.ApplyBatch(ctx, []paper.Record{*rec})[0]
}

func (ix *Indexer) ApplyBatch(ctx context.Context, recs []paper.Record) []error {
	return ix.client.AddDocuments(ctx, recs)
}
