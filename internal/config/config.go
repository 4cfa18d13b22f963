package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type Neo4jConfig struct {
	URI         string   `json:"uri" yaml:"uri"`
	User        string   `json:"user" yaml:"user"`
	Password    string   `json:"password" yaml:"password"`
	Database    string   `json:"database,omitempty" yaml:"database,omitempty"`
	MaxPoolSize int      `json:"max_pool_size,omitempty" yaml:"max_pool_size,omitempty"`
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SearchConfig selects the lookup backend. Provider "marqo" talks to a Marqo
// index over HTTP; "graph" answers lookups from Neo4j. An empty provider picks
// marqo when MarqoURL is set and graph otherwise.
type SearchConfig struct {
	Provider      string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	MarqoURL      string   `json:"marqo_url,omitempty" yaml:"marqo_url,omitempty"`
	Index         string   `json:"index,omitempty" yaml:"index,omitempty"`
	Timeout       Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RatePerSecond float64  `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
	Model         string   `json:"model,omitempty" yaml:"model,omitempty"`
}

type IngestConfig struct {
	Path         string `json:"path,omitempty" yaml:"path,omitempty"`
	Workers      int    `json:"workers" yaml:"workers"`
	BatchSize    int    `json:"batch_size" yaml:"batch_size"`
	MaxLineBytes int    `json:"max_line_bytes,omitempty" yaml:"max_line_bytes,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

type LineageConfig struct {
	MaxHops        int `json:"max_hops" yaml:"max_hops"`
	CitationFanout int `json:"citation_fanout" yaml:"citation_fanout"`
	Parallelism    int `json:"parallelism" yaml:"parallelism"`
}

type ProgressConfig struct {
	// RedisAddr enables pub/sub progress events when set.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	Channel   string `json:"channel,omitempty" yaml:"channel,omitempty"`
}

type RunlogConfig struct {
	// DSN is a postgres URL/keyword DSN or a sqlite path. Empty disables the ledger.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type OtelConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
}

type Config struct {
	Env      string         `json:"env" yaml:"env"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Neo4j    Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Lineage  LineageConfig  `json:"lineage" yaml:"lineage"`
	Progress ProgressConfig `json:"progress" yaml:"progress"`
	Runlog   RunlogConfig   `json:"runlog" yaml:"runlog"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Otel     OtelConfig     `json:"otel" yaml:"otel"`
}
