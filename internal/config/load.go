package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/citegraph/internal/platform/envutil"
)

const (
	ProviderMarqo = "marqo"
	ProviderGraph = "graph"

	maxHopsLimit = 3
)

type ConfigErrorCode string

const (
	ConfigErrorRead        ConfigErrorCode = "read_failed"
	ConfigErrorParse       ConfigErrorCode = "parse_failed"
	ConfigErrorFormat      ConfigErrorCode = "unsupported_format"
	ConfigErrorInvalid     ConfigErrorCode = "invalid_value"
	ConfigErrorMissing     ConfigErrorCode = "missing_value"
	ConfigErrorUnknownPath ConfigErrorCode = "not_found"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Field string
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid config"
	}
	switch e.Code {
	case ConfigErrorRead, ConfigErrorUnknownPath:
		return fmt.Sprintf("config: read %s: %v", e.Value, e.Cause)
	case ConfigErrorParse:
		return fmt.Sprintf("config: parse %s: %v", e.Value, e.Cause)
	case ConfigErrorFormat:
		return fmt.Sprintf("config: unsupported file extension %q (want .yaml, .yml or .json)", e.Value)
	case ConfigErrorMissing:
		return fmt.Sprintf("config: %s is required", e.Field)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("config: invalid %s=%q: %v", e.Field, e.Value, e.Cause)
		}
		return fmt.Sprintf("config: invalid %s=%q", e.Field, e.Value)
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %v at line %d", value.Tag, value.Line)
	}
	if value.Tag == "!!int" {
		n, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	if value.Tag == "!!null" {
		d.Duration = 0
		return nil
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func (d Duration) String() string { return d.Duration.String() }

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
		},
		Neo4j: Neo4jConfig{
			User:        "neo4j",
			MaxPoolSize: 50,
			Timeout:     Duration{Duration: 10 * time.Second},
		},
		Search: SearchConfig{
			Index:   "papers",
			Timeout: Duration{Duration: 10 * time.Second},
		},
		Ingest: IngestConfig{
			Workers:      4,
			BatchSize:    100,
			MaxLineBytes: 16 << 20,
		},
		Lineage: LineageConfig{
			MaxHops:        3,
			CitationFanout: 1000,
			Parallelism:    1,
		},
		Progress: ProgressConfig{
			Channel: "citegraph:ingest:progress",
		},
		Metrics: MetricsConfig{Enabled: true},
		Otel:    OtelConfig{ServiceName: "citegraph"},
	}
}

// Load builds the config from defaults, then the file at path, then the
// environment. An empty path falls back to CITEGRAPH_CONFIG and then to
// config/citegraph.yaml in the working directory when that file exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CITEGRAPH_CONFIG"))
	}
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "citegraph.yaml")
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg so that keys missing from the file keep
// their defaults.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		code := ConfigErrorRead
		if errors.Is(err, os.ErrNotExist) {
			code = ConfigErrorUnknownPath
		}
		return &ConfigError{Code: code, Value: path, Cause: err}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	case ".json":
		err = json.Unmarshal(b, cfg)
	default:
		return &ConfigError{Code: ConfigErrorFormat, Value: filepath.Ext(path)}
	}
	if err != nil {
		return &ConfigError{Code: ConfigErrorParse, Value: path, Cause: err}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", envutil.String("CITEGRAPH_ENV", cfg.Env))
	cfg.HTTP.Addr = envutil.String("CITEGRAPH_HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Neo4j.URI = envutil.String("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = envutil.String("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Password = envutil.String("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.Neo4j.Database = envutil.String("NEO4J_DATABASE", cfg.Neo4j.Database)

	cfg.Search.Provider = envutil.String("CITEGRAPH_SEARCH_PROVIDER", cfg.Search.Provider)
	cfg.Search.MarqoURL = envutil.String("MARQO_URL", cfg.Search.MarqoURL)
	cfg.Search.Index = envutil.String("MARQO_INDEX", cfg.Search.Index)
	cfg.Search.RatePerSecond = envutil.Float("MARQO_RATE_PER_SECOND", cfg.Search.RatePerSecond)
	cfg.Search.Model = envutil.String("MARQO_MODEL", cfg.Search.Model)

	cfg.Ingest.Workers = envutil.Int("CITEGRAPH_INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.BatchSize = envutil.Int("CITEGRAPH_INGEST_BATCH_SIZE", cfg.Ingest.BatchSize)
	cfg.Lineage.Parallelism = envutil.Int("CITEGRAPH_LINEAGE_PARALLELISM", cfg.Lineage.Parallelism)

	cfg.Progress.RedisAddr = envutil.String("REDIS_ADDR", cfg.Progress.RedisAddr)
	cfg.Runlog.DSN = envutil.String("RUNLOG_DSN", cfg.Runlog.DSN)
	cfg.Metrics.Enabled = envutil.Bool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "development"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":8080"
	}
	c.Neo4j.URI = strings.TrimSpace(c.Neo4j.URI)

	c.Search.Provider = strings.ToLower(strings.TrimSpace(c.Search.Provider))
	c.Search.MarqoURL = strings.TrimRight(strings.TrimSpace(c.Search.MarqoURL), "/")
	switch c.Search.Provider {
	case "":
		c.Search.Provider = ProviderGraph
		if c.Search.MarqoURL != "" {
			c.Search.Provider = ProviderMarqo
		}
	case ProviderMarqo:
		if c.Search.MarqoURL == "" {
			return &ConfigError{Code: ConfigErrorMissing, Field: "search.marqo_url"}
		}
	case ProviderGraph:
	default:
		return &ConfigError{Code: ConfigErrorInvalid, Field: "search.provider", Value: c.Search.Provider}
	}
	if strings.TrimSpace(c.Search.Index) == "" {
		c.Search.Index = "papers"
	}
	if c.Search.RatePerSecond < 0 {
		return invalid("search.rate_per_second", strconv.FormatFloat(c.Search.RatePerSecond, 'f', -1, 64))
	}

	if c.Ingest.Workers < 1 {
		return invalid("ingest.workers", strconv.Itoa(c.Ingest.Workers))
	}
	if c.Ingest.BatchSize < 1 {
		return invalid("ingest.batch_size", strconv.Itoa(c.Ingest.BatchSize))
	}
	if c.Ingest.MaxLineBytes == 0 {
		c.Ingest.MaxLineBytes = 16 << 20
	}
	if c.Ingest.MaxLineBytes < 1024 {
		return invalid("ingest.max_line_bytes", strconv.Itoa(c.Ingest.MaxLineBytes))
	}

	if c.Lineage.MaxHops < 1 || c.Lineage.MaxHops > maxHopsLimit {
		return invalid("lineage.max_hops", strconv.Itoa(c.Lineage.MaxHops))
	}
	if c.Lineage.CitationFanout < 1 {
		return invalid("lineage.citation_fanout", strconv.Itoa(c.Lineage.CitationFanout))
	}
	if c.Lineage.Parallelism < 1 {
		c.Lineage.Parallelism = 1
	}

	if strings.TrimSpace(c.Progress.Channel) == "" {
		c.Progress.Channel = "citegraph:ingest:progress"
	}
	if strings.TrimSpace(c.Otel.ServiceName) == "" {
		c.Otel.ServiceName = "citegraph"
	}
	return nil
}

func invalid(field, value string) error {
	return &ConfigError{Code: ConfigErrorInvalid, Field: field, Value: value}
}
