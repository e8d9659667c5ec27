package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
)

// snapshot is the whole dataset. The memory and file drivers share it.
type snapshot struct {
	NextJobID      int64                       `json:"next_job_id"`
	Jobs           map[int64]job.Record        `json:"jobs"`
	NextGroupingID int64                       `json:"next_grouping_id"`
	Groupings      map[int64]grouping.Grouping `json:"groupings"`
	Dedup          map[string]int64            `json:"dedup"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		Jobs:      map[int64]job.Record{},
		Groupings: map[int64]grouping.Grouping{},
		Dedup:     map[string]int64{},
	}
}

func (s *snapshot) fill() {
	if s.Jobs == nil {
		s.Jobs = map[int64]job.Record{}
	}
	if s.Groupings == nil {
		s.Groupings = map[int64]grouping.Grouping{}
	}
	if s.Dedup == nil {
		s.Dedup = map[string]int64{}
	}
	for id := range s.Jobs {
		if id > s.NextJobID {
			s.NextJobID = id
		}
	}
	for id := range s.Groupings {
		if id > s.NextGroupingID {
			s.NextGroupingID = id
		}
	}
}

func (s *snapshot) addJob(rec job.Record) int64 {
	s.NextJobID++
	rec.ID = s.NextJobID
	s.Jobs[rec.ID] = rec
	return rec.ID
}

func (s *snapshot) updateJob(rec job.Record) error {
	if _, ok := s.Jobs[rec.ID]; !ok {
		return ErrNotFound
	}
	s.Jobs[rec.ID] = rec
	return nil
}

func (s *snapshot) deleteJob(id int64) error {
	if _, ok := s.Jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.Jobs, id)
	return nil
}

func (s *snapshot) job(id int64) (job.Record, error) {
	rec, ok := s.Jobs[id]
	if !ok {
		return job.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *snapshot) jobs() []job.Record {
	out := make([]job.Record, 0, len(s.Jobs))
	for _, r := range s.Jobs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyMembers(m map[int64]grouping.Member) map[int64]grouping.Member {
	out := make(map[int64]grouping.Member, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *snapshot) addGrouping(g grouping.Grouping) int64 {
	s.NextGroupingID++
	g.ID = s.NextGroupingID
	g.Members = copyMembers(g.Members)
	s.Groupings[g.ID] = g
	return g.ID
}

func (s *snapshot) updateGrouping(g grouping.Grouping) error {
	if _, ok := s.Groupings[g.ID]; !ok {
		return ErrNotFound
	}
	g.Members = copyMembers(g.Members)
	s.Groupings[g.ID] = g
	return nil
}

func (s *snapshot) deleteGrouping(id int64) error {
	if _, ok := s.Groupings[id]; !ok {
		return ErrNotFound
	}
	delete(s.Groupings, id)
	return nil
}

func (s *snapshot) groupings(kind grouping.Kind) []grouping.Grouping {
	var out []grouping.Grouping
	for _, g := range s.Groupings {
		if g.Kind == kind {
			g.Members = copyMembers(g.Members)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *snapshot) pruneDedup(now time.Time) {
	ms := now.UnixMilli()
	for k, v := range s.Dedup {
		if v < ms {
			delete(s.Dedup, k)
		}
	}
}

type memoryStore struct {
	mu     sync.Mutex
	data   *snapshot
	audit  []AuditEntry
	closed bool
}

// NewMemory returns a store that keeps everything in process memory.
func NewMemory() Store { return &memoryStore{data: newSnapshot()} }

func (m *memoryStore) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) AddJob(_ context.Context, rec job.Record) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	return m.data.addJob(rec), nil
}

func (m *memoryStore) UpdateJob(_ context.Context, rec job.Record) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.data.updateJob(rec)
}

func (m *memoryStore) DeleteJob(_ context.Context, id int64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.data.deleteJob(id)
}

func (m *memoryStore) GetJob(_ context.Context, id int64) (job.Record, error) {
	if err := m.lock(); err != nil {
		return job.Record{}, err
	}
	defer m.mu.Unlock()
	return m.data.job(id)
}

func (m *memoryStore) ScanJobs(context.Context) ([]job.Record, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.data.jobs(), nil
}

func (m *memoryStore) AddGrouping(_ context.Context, g grouping.Grouping) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	return m.data.addGrouping(g), nil
}

func (m *memoryStore) UpdateGrouping(_ context.Context, g grouping.Grouping) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.data.updateGrouping(g)
}

func (m *memoryStore) DeleteGrouping(_ context.Context, id int64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.data.deleteGrouping(id)
}

func (m *memoryStore) ScanGroupings(_ context.Context, kind grouping.Kind) ([]grouping.Grouping, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.data.groupings(kind), nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.data.Dedup[key] = until.UnixMilli()
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	if err := m.lock(); err != nil {
		return time.Time{}, false, err
	}
	defer m.mu.Unlock()
	ms, ok := m.data.Dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
