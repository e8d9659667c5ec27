// Package grouping keeps named sets of jobs (or search triggers) that are
// started and stopped together, either by hand or by a daily time window.
//
// A Service runs on the event loop goroutine, like the registry it drives.
package grouping

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/task/scheduler"
	logx "hitgrab/pkg/logx"
)

type window struct {
	start  time.Time
	end    time.Time
	hasEnd bool
	// carried is an open window kept across midnight.
	carried bool
}

type stagger struct {
	handle scheduler.Handle
	keys   []int64
	cursor int
	on     bool
}

type state struct {
	unique     int
	g          Grouping
	collecting bool
	stagger    *stagger
}

type Option func(*Service)

// WithNow overrides the wall clock used for windows.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone daily windows are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type Service struct {
	kind    Kind
	cfg     Config
	log     logx.Logger
	store   Store
	members Members
	sched   *scheduler.Service
	now     func() time.Time
	loc     *time.Location

	groups  map[int]*state
	next    int
	windows map[int]window
	day     string
	edit    *Edit
}

func New(kind Kind, cfg Config, store Store, members Members, sched *scheduler.Service, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		kind:    kind,
		cfg:     cfg.normalized(),
		log:     log.With(logx.String("kind", string(kind))),
		store:   store,
		members: members,
		sched:   sched,
		now:     time.Now,
		loc:     time.Local,
		groups:  map[int]*state{},
		next:    1,
		windows: map[int]window{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
}

// SetLocation changes the zone of future windows.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Load reads every stored grouping of this kind and computes today's windows.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.store.ScanGroupings(ctx, s.kind)
	if err != nil {
		return errors.Wrapf(err, "load %s groupings", s.kind)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	for _, g := range list {
		if g.Members == nil {
			g.Members = map[int64]Member{}
		}
		s.insert(g)
	}
	s.ResetDailyWindows(true)
	s.log.Info("groupings loaded", logx.Int("count", len(list)))
	return nil
}

func (s *Service) insert(g Grouping) *state {
	st := &state{unique: s.next, g: g}
	s.groups[st.unique] = st
	s.next++
	return st
}

func (s *Service) sortedUniques() []int {
	out := make([]int, 0, len(s.groups))
	for u := range s.groups {
		out = append(out, u)
	}
	sort.Ints(out)
	return out
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// ResetDailyWindows recomputes every window for today. With fill set the
// collecting flags start from off, as on load. Otherwise a window that is
// still open keeps yesterday's end; today's window replaces it once it
// closes.
func (s *Service) ResetDailyWindows(fill bool) {
	now := s.now().In(s.loc)
	s.day = dayKey(now)
	old := s.windows
	s.windows = map[int]window{}
	for _, u := range s.sortedUniques() {
		st := s.groups[u]
		if fill {
			st.collecting = false
		}
		if w, ok := old[u]; ok && !fill && st.collecting && w.hasEnd && now.Before(w.end) {
			w.carried = true
			s.windows[u] = w
			continue
		}
		s.setWindow(st, now)
	}
}

func (s *Service) setWindow(st *state, now time.Time) {
	delete(s.windows, st.unique)
	if st.g.StartTime == "" {
		return
	}
	h, m, err := ParseClock(st.g.StartTime)
	if err != nil {
		s.log.Warn("bad grouping start time", logx.Int("unique", st.unique), logx.String("start", st.g.StartTime))
		return
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, s.loc)
	w := window{start: start, hasEnd: st.g.HasEnd()}
	if w.hasEnd {
		w.end = start.Add(time.Duration(st.g.EndHours)*time.Hour + time.Duration(st.g.EndMinutes)*time.Minute)
	}
	s.windows[st.unique] = w
}

// CheckStartTimes toggles groupings whose window opened or closed. Each
// window fires at most once a day.
func (s *Service) CheckStartTimes(now time.Time) {
	now = now.In(s.loc)
	if dayKey(now) != s.day {
		s.ResetDailyWindows(false)
	}
	for _, u := range s.sortedUniques() {
		w, ok := s.windows[u]
		if !ok {
			continue
		}
		st := s.groups[u]
		if !st.collecting {
			if !now.Before(w.start) && (!w.hasEnd || now.Before(w.end)) {
				s.log.Info("grouping window opened", logx.Int("unique", u), logx.String("name", st.g.Name))
				s.Toggle(u, false)
			}
			continue
		}
		if !w.hasEnd {
			delete(s.windows, u)
			continue
		}
		if !now.Before(w.end) {
			s.log.Info("grouping window closed", logx.Int("unique", u), logx.String("name", st.g.Name))
			s.Toggle(u, false)
			delete(s.windows, u)
			if w.carried {
				s.setWindow(st, now)
			}
		}
	}
}

// Toggle flips a grouping and applies the change to its members one by one.
// Unless suppressCascade is set, every other grouping re-derives its flag.
func (s *Service) Toggle(u int, suppressCascade bool) error {
	st, ok := s.groups[u]
	if !ok {
		return ErrNotFound
	}
	st.collecting = !st.collecting
	if !st.collecting {
		delete(s.windows, u)
	}
	if !suppressCascade {
		for _, o := range s.sortedUniques() {
			if o != u {
				s.GoCheckGroup(o, true)
			}
		}
	}
	s.apply(st)
	return nil
}

func (s *Service) apply(st *state) {
	s.cancelStagger(st)
	keys := make([]int64, 0, len(st.g.Members))
	for id := range st.g.Members {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) == 0 {
		return
	}
	sg := &stagger{keys: keys, on: st.collecting}
	st.stagger = sg
	sg.handle = s.sched.Every(fmt.Sprintf("grouping-%s-%d", s.kind, st.unique), s.cfg.StaggerFirst, s.cfg.StaggerStep, func() bool {
		if sg.cursor >= len(sg.keys) {
			return false
		}
		id := sg.keys[sg.cursor]
		sg.cursor++
		if sg.on {
			s.members.StartMember(id, st.g.Members[id].HamMode)
		} else {
			s.members.StopMember(id)
		}
		if sg.cursor >= len(sg.keys) {
			if st.stagger == sg {
				st.stagger = nil
			}
			return false
		}
		return true
	})
}

func (s *Service) cancelStagger(st *state) {
	if st.stagger == nil {
		return
	}
	s.sched.RemoveTask(st.stagger.handle)
	st.stagger = nil
}

// StartGroup turns a grouping on without touching the others.
func (s *Service) StartGroup(u int) error {
	st, ok := s.groups[u]
	if !ok {
		return ErrNotFound
	}
	if st.collecting {
		return nil
	}
	return s.Toggle(u, true)
}

// StopGroup turns a grouping off without touching the others.
func (s *Service) StopGroup(u int) error {
	st, ok := s.groups[u]
	if !ok {
		return ErrNotFound
	}
	if !st.collecting {
		return nil
	}
	return s.Toggle(u, true)
}

// GoCheckGroup prunes members that no longer exist and, with deriveStatus
// set, recomputes the collecting flag: off when no member collects, on when
// all of them do. An empty grouping is never "all collecting".
func (s *Service) GoCheckGroup(u int, deriveStatus bool) {
	st, ok := s.groups[u]
	if !ok {
		return
	}
	pruned := false
	one, all := false, len(st.g.Members) > 0
	for id := range st.g.Members {
		if !s.members.Exists(id) {
			delete(st.g.Members, id)
			pruned = true
			continue
		}
		if s.members.IsCollecting(id) {
			one = true
		} else {
			all = false
		}
	}
	if len(st.g.Members) == 0 {
		all = false
	}
	if pruned {
		ctx, cancel := s.ctx()
		if err := s.store.UpdateGrouping(ctx, st.g); err != nil {
			s.log.Warn("grouping prune not saved", logx.Int("unique", u), logx.Err(err))
		}
		cancel()
	}
	if !deriveStatus {
		return
	}
	if st.collecting && !one {
		st.collecting = false
	} else if !st.collecting && all {
		st.collecting = true
	}
}

// Add stores a new grouping and returns its unique id.
func (s *Service) Add(g Grouping) (int, error) {
	g.Kind = s.kind
	if g.Members == nil {
		g.Members = map[int64]Member{}
	}
	if g.StartTime != "" {
		if _, _, err := ParseClock(g.StartTime); err != nil {
			return 0, err
		}
	}
	ctx, cancel := s.ctx()
	defer cancel()
	id, err := s.store.AddGrouping(ctx, g)
	if err != nil {
		return 0, errors.Wrap(err, "store grouping")
	}
	g.ID = id
	st := s.insert(g)
	s.setWindow(st, s.now().In(s.loc))
	s.log.Info("grouping added", logx.Int("unique", st.unique), logx.String("name", g.Name), logx.Int("members", len(g.Members)))
	return st.unique, nil
}

// CreateInstant makes a grouping from every member collecting right now.
func (s *Service) CreateInstant() (int, error) {
	ids := s.members.CollectingIDs()
	if len(ids) == 0 {
		return 0, ErrNothingCollecting
	}
	members := make(map[int64]Member, len(ids))
	for _, id := range ids {
		members[id] = Member{}
	}
	u, err := s.Add(Grouping{
		Name:        fmt.Sprintf("Grouping #%d", s.next),
		Description: "Instantly made so no description.",
		Members:     members,
	})
	if err != nil {
		return 0, err
	}
	s.groups[u].collecting = true
	return u, nil
}

// Delete removes a grouping. Its members keep their current state.
func (s *Service) Delete(u int) error {
	st, ok := s.groups[u]
	if !ok {
		return ErrNotFound
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.DeleteGrouping(ctx, st.g.ID); err != nil {
		return errors.Wrap(err, "delete grouping")
	}
	s.cancelStagger(st)
	delete(s.groups, u)
	delete(s.windows, u)
	if s.edit != nil && s.edit.unique == u {
		s.edit = nil
	}
	return nil
}

// Get returns the status of one grouping.
func (s *Service) Get(u int) (Status, bool) {
	st, ok := s.groups[u]
	if !ok {
		return Status{}, false
	}
	return s.status(st), true
}

func (s *Service) status(st *state) Status {
	out := Status{Unique: st.unique, Grouping: st.g.clone(), Collecting: st.collecting}
	if w, ok := s.windows[st.unique]; ok {
		out.Start = w.start
		if w.hasEnd {
			out.End = w.end
		}
	}
	return out
}

// List returns every grouping ordered by unique id.
func (s *Service) List() []Status {
	out := make([]Status, 0, len(s.groups))
	for _, u := range s.sortedUniques() {
		out = append(out, s.status(s.groups[u]))
	}
	return out
}

// Collecting reports the flag of one grouping.
func (s *Service) Collecting(u int) bool {
	st, ok := s.groups[u]
	return ok && st.collecting
}

// Edit is an open change set on one grouping. Nothing is visible until
// Commit.
type Edit struct {
	s      *Service
	unique int
	draft  Grouping
}

// BeginEdit opens an edit session. Only one session may be open at a time.
func (s *Service) BeginEdit(u int) (*Edit, error) {
	st, ok := s.groups[u]
	if !ok {
		return nil, ErrNotFound
	}
	if s.edit != nil {
		return nil, ErrEditOpen
	}
	s.edit = &Edit{s: s, unique: u, draft: st.g.clone()}
	return s.edit, nil
}

func (e *Edit) AddMember(id int64, m Member) { e.draft.Members[id] = m }

func (e *Edit) RemoveMember(id int64) { delete(e.draft.Members, id) }

func (e *Edit) SetInfo(name, description string) {
	e.draft.Name = name
	e.draft.Description = description
}

// SetSchedule sets the daily start time; an empty start clears the schedule.
func (e *Edit) SetSchedule(start string, endHours, endMinutes int) error {
	if start != "" {
		if _, _, err := ParseClock(start); err != nil {
			return err
		}
	}
	if endHours < 0 || endMinutes < 0 || endMinutes > 59 {
		return errors.Newf("bad end offset %dh%dm", endHours, endMinutes)
	}
	e.draft.StartTime = start
	e.draft.EndHours = endHours
	e.draft.EndMinutes = endMinutes
	return nil
}

// Cancel drops the session.
func (e *Edit) Cancel() {
	if e.s.edit == e {
		e.s.edit = nil
	}
}

// Commit stores the draft and makes it current.
func (e *Edit) Commit() error {
	s := e.s
	if s.edit != e {
		return ErrEditOpen
	}
	st, ok := s.groups[e.unique]
	if !ok {
		s.edit = nil
		return ErrNotFound
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.UpdateGrouping(ctx, e.draft); err != nil {
		return errors.Wrap(err, "update grouping")
	}
	scheduleChanged := st.g.StartTime != e.draft.StartTime || st.g.EndHours != e.draft.EndHours || st.g.EndMinutes != e.draft.EndMinutes
	st.g = e.draft
	s.edit = nil
	if scheduleChanged {
		s.setWindow(st, s.now().In(s.loc))
	}
	return nil
}
