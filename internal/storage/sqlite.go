package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create storage dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 200}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return errors.Wrap(err, "migrate")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AddJob(ctx context.Context, rec job.Record) (int64, error) {
	rec.ID = 0
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO jobs(group_id, data) VALUES(?, ?)`, rec.GroupID, string(b))
	if err != nil {
		return 0, errors.Wrap(err, "insert job")
	}
	return res.LastInsertId()
}

func (s *sqliteStore) UpdateJob(ctx context.Context, rec job.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx, `UPDATE jobs SET group_id = ?, data = ? WHERE id = ?`, rec.GroupID, string(b), rec.ID))
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id))
}

func (s *sqliteStore) GetJob(ctx context.Context, id int64) (job.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Record{}, ErrNotFound
	}
	if err != nil {
		return job.Record{}, errors.Wrap(err, "get job")
	}
	var rec job.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return job.Record{}, errors.Wrapf(err, "decode job %d", id)
	}
	rec.ID = id
	return rec, nil
}

func (s *sqliteStore) ScanJobs(ctx context.Context) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM jobs ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "scan jobs")
	}
	defer rows.Close()
	var out []job.Record
	for rows.Next() {
		var (
			id   int64
			data string
			rec  job.Record
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.log.Warn("skipping unreadable job row", logx.Int64("id", id), logx.Err(err))
			continue
		}
		rec.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddGrouping(ctx context.Context, g grouping.Grouping) (int64, error) {
	g.ID = 0
	b, err := json.Marshal(g)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO groupings(kind, data) VALUES(?, ?)`, string(g.Kind), string(b))
	if err != nil {
		return 0, errors.Wrap(err, "insert grouping")
	}
	return res.LastInsertId()
}

func (s *sqliteStore) UpdateGrouping(ctx context.Context, g grouping.Grouping) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx, `UPDATE groupings SET kind = ?, data = ? WHERE id = ?`, string(g.Kind), string(b), g.ID))
}

func (s *sqliteStore) DeleteGrouping(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM groupings WHERE id = ?`, id))
}

func (s *sqliteStore) ScanGroupings(ctx context.Context, kind grouping.Kind) ([]grouping.Grouping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM groupings WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, errors.Wrap(err, "scan groupings")
	}
	defer rows.Close()
	var out []grouping.Grouping
	for rows.Next() {
		var (
			id   int64
			data string
			g    grouping.Grouping
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			s.log.Warn("skipping unreadable grouping row", logx.Int64("id", id), logx.Err(err))
			continue
		}
		g.ID = id
		if g.Members == nil {
			g.Members = map[int64]grouping.Member{}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, command, args, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Command, nullStr(e.Args), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
