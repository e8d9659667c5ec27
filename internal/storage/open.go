package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

// Store is the persistence API of the application. Record ids are assigned
// by the store and are never reused.
type Store interface {
	AddJob(ctx context.Context, rec job.Record) (int64, error)
	UpdateJob(ctx context.Context, rec job.Record) error
	DeleteJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (job.Record, error)
	ScanJobs(ctx context.Context) ([]job.Record, error)

	AddGrouping(ctx context.Context, g grouping.Grouping) (int64, error)
	UpdateGrouping(ctx context.Context, g grouping.Grouping) error
	DeleteGrouping(ctx context.Context, id int64) error
	ScanGroupings(ctx context.Context, kind grouping.Kind) ([]grouping.Grouping, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
