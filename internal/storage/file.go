package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

// fileStore keeps the dataset in memory and rewrites the snapshot after
// every change.
//
// Files:
//   - <prefix>.json        (snapshot, replaced via rename)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapPath  string
	auditFile *os.File
	data      *snapshot
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	snapPath := prefix + ".json"
	data, err := loadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}
	data.pruneDedup(time.Now())

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}
	log.Debug("file storage opened", logx.String("path", snapPath), logx.Int("jobs", len(data.Jobs)))
	return &fileStore{log: log, snapPath: snapPath, auditFile: af, data: data}, nil
}

func loadSnapshot(path string) (*snapshot, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newSnapshot(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	s := newSnapshot()
	if err := json.Unmarshal(b, s); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", path)
	}
	s.fill()
	return s, nil
}

// saveLocked writes the snapshot to a temp file and renames it in place.
func (s *fileStore) saveLocked() error {
	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := f.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp, s.snapPath), "replace snapshot")
}

// mutate applies fn and persists. A failed save rolls the change back.
func (s *fileStore) mutate(fn func(d *snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	before, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := fn(s.data); err != nil {
		return err
	}
	if err := s.saveLocked(); err != nil {
		restored := newSnapshot()
		if uerr := json.Unmarshal(before, restored); uerr == nil {
			restored.fill()
			s.data = restored
		}
		return err
	}
	return nil
}

func (s *fileStore) read(fn func(d *snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	fn(s.data)
	return nil
}

func (s *fileStore) AddJob(_ context.Context, rec job.Record) (int64, error) {
	var id int64
	err := s.mutate(func(d *snapshot) error {
		id = d.addJob(rec)
		return nil
	})
	return id, err
}

func (s *fileStore) UpdateJob(_ context.Context, rec job.Record) error {
	return s.mutate(func(d *snapshot) error { return d.updateJob(rec) })
}

func (s *fileStore) DeleteJob(_ context.Context, id int64) error {
	return s.mutate(func(d *snapshot) error { return d.deleteJob(id) })
}

func (s *fileStore) GetJob(_ context.Context, id int64) (job.Record, error) {
	var (
		rec  job.Record
		gerr error
	)
	if err := s.read(func(d *snapshot) { rec, gerr = d.job(id) }); err != nil {
		return job.Record{}, err
	}
	return rec, gerr
}

func (s *fileStore) ScanJobs(context.Context) ([]job.Record, error) {
	var out []job.Record
	err := s.read(func(d *snapshot) { out = d.jobs() })
	return out, err
}

func (s *fileStore) AddGrouping(_ context.Context, g grouping.Grouping) (int64, error) {
	var id int64
	err := s.mutate(func(d *snapshot) error {
		id = d.addGrouping(g)
		return nil
	})
	return id, err
}

func (s *fileStore) UpdateGrouping(_ context.Context, g grouping.Grouping) error {
	return s.mutate(func(d *snapshot) error { return d.updateGrouping(g) })
}

func (s *fileStore) DeleteGrouping(_ context.Context, id int64) error {
	return s.mutate(func(d *snapshot) error { return d.deleteGrouping(id) })
}

func (s *fileStore) ScanGroupings(_ context.Context, kind grouping.Kind) ([]grouping.Grouping, error) {
	var out []grouping.Grouping
	err := s.read(func(d *snapshot) { out = d.groupings(kind) })
	return out, err
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.mutate(func(d *snapshot) error {
		d.pruneDedup(time.Now())
		d.Dedup[key] = until.UnixMilli()
		return nil
	})
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	var (
		ms int64
		ok bool
	)
	err := s.read(func(d *snapshot) { ms, ok = d.Dedup[strings.TrimSpace(key)] })
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
