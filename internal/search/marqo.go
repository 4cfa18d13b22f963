package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/observability"
	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
)

const (
	searchMethodTensor = "TENSOR"
	maxErrorBodyBytes  = 1024
	maxResponseBytes   = 64 << 20
)

type MarqoConfig struct {
	URL           string
	Index         string
	Timeout       time.Duration
	RatePerSecond float64

	// CreateIndex creates the structured index before the first stats call.
	CreateIndex bool
	// Model is the embedding model used when the index is created.
	Model string
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL   ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL   ConfigErrorCode = "invalid_url"
	ConfigErrorMissingIndex ConfigErrorCode = "missing_index"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid marqo config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "MARQO_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid MARQO_URL=%q; expected absolute URL like http://marqo:8882", e.Value)
	case ConfigErrorMissingIndex:
		return "marqo index name is required"
	default:
		return "invalid marqo config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ValidateMarqoConfig(cfg MarqoConfig) error {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: raw, Cause: err}
	}
	if strings.TrimSpace(cfg.Index) == "" {
		return &ConfigError{Code: ConfigErrorMissingIndex}
	}
	return nil
}

// MarqoClient serves Service from a Marqo index over HTTP.
type MarqoClient struct {
	log     *logger.Logger
	cfg     MarqoConfig
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
}

type marqoSearchRequest struct {
	Q            string `json:"q"`
	SearchMethod string `json:"searchMethod"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
	Filter       string `json:"filter,omitempty"`
}

type marqoSearchResponse struct {
	Hits             []json.RawMessage `json:"hits"`
	ProcessingTimeMS float64           `json:"processingTimeMs"`
}

type marqoIndexStats struct {
	NumberOfDocuments int64 `json:"numberOfDocuments"`
	NumberOfVectors   int64 `json:"numberOfVectors"`
}

type marqoErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewMarqoClient(ctx context.Context, log *logger.Logger, cfg MarqoConfig, metrics *observability.Metrics) (*MarqoClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateMarqoConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &MarqoClient{
		log:     log.With("service", "MarqoSearch"),
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	if cfg.CreateIndex {
		if _, err := c.CreateIndex(ctx); err != nil {
			return nil, err
		}
	}
	stats, err := c.indexStats(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Marqo search selected",
		"provider", "marqo",
		"url", c.baseURL,
		"index", cfg.Index,
		"documents", stats.NumberOfDocuments,
		"rate_per_second", cfg.RatePerSecond,
	)
	return c, nil
}

func (c *MarqoClient) GetByID(ctx context.Context, id int64) (*paper.Record, error) {
	const op = "get_document"
	var rec paper.Record
	err := c.doJSON(ctx, op, http.MethodGet, c.indexPath("/documents/"+url.PathEscape(strconv.FormatInt(id, 10))), nil, &rec)
	if err != nil {
		var oe *OperationError
		if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	if rec.ID == 0 {
		rec.ID = id
	}
	return &rec, nil
}

func (c *MarqoClient) SearchBestMatch(ctx context.Context, text string) (*paper.Record, error) {
	res, err := c.search(ctx, "search_best_match", marqoSearchRequest{Q: text, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, text)
	}
	return &res.Results[0], nil
}

func (c *MarqoClient) SearchFiltered(ctx context.Context, filter Filter, limit int) ([]paper.Record, error) {
	if limit <= 0 {
		return nil, opErr("search_filtered", OperationErrorValidation, "limit must be positive", nil)
	}
	res, err := c.search(ctx, "search_filtered", marqoSearchRequest{Q: "", Limit: limit, Filter: filter.String()})
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (c *MarqoClient) Search(ctx context.Context, q Query) (*Page, error) {
	limit, filter, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	return c.search(ctx, "search_topic", marqoSearchRequest{Q: q.Topic, Limit: limit, Filter: filter.String()})
}

func (c *MarqoClient) Count(ctx context.Context) (int64, error) {
	stats, err := c.indexStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.NumberOfDocuments, nil
}

func (c *MarqoClient) search(ctx context.Context, op string, req marqoSearchRequest) (*Page, error) {
	req.SearchMethod = searchMethodTensor
	var resp marqoSearchResponse
	if err := c.doJSON(ctx, op, http.MethodPost, c.indexPath("/search"), req, &resp); err != nil {
		return nil, err
	}
	page := &Page{
		Results: make([]paper.Record, 0, len(resp.Hits)),
		TookMS:  int64(resp.ProcessingTimeMS),
	}
	for i, raw := range resp.Hits {
		var rec paper.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.log.Warn("skipping undecodable hit", "op", op, "hit", i, "error", err)
			continue
		}
		page.Results = append(page.Results, rec)
	}
	page.Count = len(page.Results)
	return page, nil
}

func (c *MarqoClient) indexStats(ctx context.Context) (marqoIndexStats, error) {
	var stats marqoIndexStats
	err := c.doJSON(ctx, "index_stats", http.MethodGet, c.indexPath("/stats"), nil, &stats)
	return stats, err
}

func (c *MarqoClient) doJSON(ctx context.Context, op, method, path string, in any, out any) (err error) {
	ctx = ctxutil.Default(ctx)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			var oe *OperationError
			if errors.As(err, &oe) {
				status = string(oe.Code)
			}
		}
		c.metrics.IncSearchCall(op, status)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return opErr(op, OperationErrorRateLimited, "rate limiter wait failed", err)
		}
	}

	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "marqo request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("marqo http status=%d body=%q", resp.StatusCode, truncateBody(raw))
		var eb marqoErrorBody
		if json.Unmarshal(raw, &eb) == nil && strings.TrimSpace(eb.Message) != "" {
			msg = fmt.Sprintf("marqo http status=%d code=%s: %s", resp.StatusCode, eb.Code, eb.Message)
		}
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode marqo response failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func (c *MarqoClient) indexPath(suffix string) string {
	return "/indexes/" + url.PathEscape(c.cfg.Index) + suffix
}
