package runlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/citegraph/internal/platform/logger"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

var ErrRunNotFound = errors.New("runlog: run not found")

// Run is one ingestion run in the ledger.
type Run struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind             string     `gorm:"not null;default:'graph';index" json:"kind"`
	Source           string     `gorm:"not null" json:"source"`
	Status           string     `gorm:"not null;index" json:"status"`
	Workers          int        `json:"workers"`
	BatchSize        int        `json:"batch_size"`
	DryRun           bool       `json:"dry_run"`
	Estimated        int64      `json:"estimated"`
	Batches          int64      `json:"batches"`
	Records          int64      `json:"records"`
	Committed        int64      `json:"committed"`
	Failed           int64      `json:"failed"`
	ParseErrors      int64      `json:"parse_errors"`
	Rejected         int64      `json:"rejected"`
	RecordsPerSecond float64    `json:"records_per_second"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Run) TableName() string { return "ingest_run" }

// Open connects to postgres for postgres:// DSNs (or key=value DSNs with a
// host) and to sqlite for anything else, then migrates the ledger table.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("runlog: dsn required")
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var dialector gorm.Dialector
	driver := "sqlite"
	if isPostgresDSN(dsn) {
		driver = "postgres"
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", driver, err)
	}
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		// each pooled connection would otherwise see its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("runlog: migrate: %w", err)
	}
	if log != nil {
		log.Info("Run ledger ready", "driver", driver)
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

type Repo interface {
	Start(ctx context.Context, run *Run) (*Run, error)
	Finish(ctx context.Context, id uuid.UUID, status string, updates map[string]interface{}) error
	Get(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &repo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *repo) Start(ctx context.Context, run *Run) (*Run, error) {
	if run == nil {
		return nil, fmt.Errorf("runlog: run required")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = StatusRunning
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *repo) Finish(ctx context.Context, id uuid.UUID, status string, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("runlog: run id required")
	}
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["status"] = status
	fields["finished_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*Run
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
