package grouping

import (
	"context"
	"sort"
	"testing"
	"time"

	"hitgrab/internal/task/scheduler"
	logx "hitgrab/pkg/logx"
)

type memStore struct {
	seq     int64
	rows    map[int64]Grouping
	updates int
}

func newMemStore() *memStore { return &memStore{rows: map[int64]Grouping{}} }

func (m *memStore) AddGrouping(_ context.Context, g Grouping) (int64, error) {
	m.seq++
	g.ID = m.seq
	m.rows[g.ID] = g.clone()
	return g.ID, nil
}

func (m *memStore) UpdateGrouping(_ context.Context, g Grouping) error {
	m.updates++
	m.rows[g.ID] = g.clone()
	return nil
}

func (m *memStore) DeleteGrouping(_ context.Context, id int64) error {
	delete(m.rows, id)
	return nil
}

func (m *memStore) ScanGroupings(_ context.Context, kind Kind) ([]Grouping, error) {
	var out []Grouping
	for _, g := range m.rows {
		if g.Kind == kind {
			out = append(out, g.clone())
		}
	}
	return out, nil
}

type fakeMembers struct {
	exists     map[int64]bool
	collecting map[int64]bool
	calls      []string
	hams       map[int64]bool
}

func newFakeMembers(ids ...int64) *fakeMembers {
	f := &fakeMembers{exists: map[int64]bool{}, collecting: map[int64]bool{}, hams: map[int64]bool{}}
	for _, id := range ids {
		f.exists[id] = true
	}
	return f
}

func (f *fakeMembers) Exists(id int64) bool       { return f.exists[id] }
func (f *fakeMembers) IsCollecting(id int64) bool { return f.collecting[id] }
func (f *fakeMembers) StartMember(id int64, ham bool) {
	f.collecting[id] = true
	f.hams[id] = ham
	f.calls = append(f.calls, "start")
}
func (f *fakeMembers) StopMember(id int64) {
	f.collecting[id] = false
	f.calls = append(f.calls, "stop")
}
func (f *fakeMembers) CollectingIDs() []int64 {
	var out []int64
	for id, on := range f.collecting {
		if on {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type harness struct {
	now     time.Time
	sched   *scheduler.Service
	store   *memStore
	members *fakeMembers
	svc     *Service
}

func newHarness(t *testing.T, ids ...int64) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	h.sched = scheduler.New(scheduler.Config{}, logx.Nop(), scheduler.WithClock(func() time.Time { return h.now }))
	h.sched.Tick(h.now)
	h.store = newMemStore()
	h.members = newFakeMembers(ids...)
	h.svc = New(KindJobs, Config{}, h.store, h.members, h.sched, logx.Nop(),
		WithNow(func() time.Time { return h.now }), WithLocation(time.UTC))
	return h
}

func (h *harness) advance(d time.Duration) {
	for end := h.now.Add(d); h.now.Before(end); {
		h.now = h.now.Add(10 * time.Millisecond)
		h.sched.Tick(h.now)
	}
}

func (h *harness) at(hour, minute int) {
	h.now = time.Date(h.now.Year(), h.now.Month(), h.now.Day(), hour, minute, 0, 0, time.UTC)
	h.sched.Tick(h.now)
}

func members(ids ...int64) map[int64]Member {
	out := map[int64]Member{}
	for _, id := range ids {
		out[id] = Member{}
	}
	return out
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"23:59", 23, 59, false},
		{"9:30 PM", 21, 30, false},
		{"12:05 am", 0, 5, false},
		{"24:00", 0, 0, true},
		{"9", 0, 0, true},
		{"ab:cd", 0, 0, true},
		{"13:00 PM", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil || h != tt.h || m != tt.m {
			t.Fatalf("%q = %d:%d, %v", tt.in, h, m, err)
		}
	}
}

func TestWindowAcrossMidnightClosesOnTime(t *testing.T) {
	h := newHarness(t, 1)
	u, err := h.svc.Add(Grouping{Name: "late", Members: members(1), StartTime: "23:00", EndHours: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	h.at(23, 0)
	h.svc.CheckStartTimes(h.now)
	if !h.svc.Collecting(u) {
		t.Fatalf("window did not open at 23:00")
	}

	nextDay := func(hour, minute int) {
		h.now = time.Date(2026, 3, 3, hour, minute, 0, 0, time.UTC)
		h.sched.Tick(h.now)
		h.svc.CheckStartTimes(h.now)
	}
	nextDay(0, 0)
	nextDay(0, 59)
	if !h.svc.Collecting(u) {
		t.Fatalf("closed before 01:00")
	}
	nextDay(1, 0)
	if h.svc.Collecting(u) {
		t.Fatalf("still collecting at 01:00, window end moved to the next day")
	}
	nextDay(1, 30)
	if h.svc.Collecting(u) {
		t.Fatalf("reopened at 01:30")
	}
	nextDay(23, 0)
	if !h.svc.Collecting(u) {
		t.Fatalf("window did not open again on the next evening")
	}
}

func TestDailyWindowOpensAndClosesOnce(t *testing.T) {
	h := newHarness(t, 1, 2)
	u, err := h.svc.Add(Grouping{Name: "morning", Members: members(1, 2), StartTime: "09:00", EndHours: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	h.at(8, 59)
	h.svc.CheckStartTimes(h.now)
	if h.svc.Collecting(u) {
		t.Fatalf("collecting before window")
	}

	h.at(9, 0)
	h.svc.CheckStartTimes(h.now)
	if !h.svc.Collecting(u) {
		t.Fatalf("window did not open at 09:00")
	}
	h.advance(300 * time.Millisecond)
	if !h.members.collecting[1] || !h.members.collecting[2] {
		t.Fatalf("members not started: %v", h.members.collecting)
	}

	h.at(9, 30)
	h.svc.CheckStartTimes(h.now)
	if !h.svc.Collecting(u) {
		t.Fatalf("closed early")
	}

	h.at(10, 0)
	h.svc.CheckStartTimes(h.now)
	if h.svc.Collecting(u) {
		t.Fatalf("window did not close at 10:00")
	}
	h.advance(300 * time.Millisecond)
	if h.members.collecting[1] || h.members.collecting[2] {
		t.Fatalf("members not stopped: %v", h.members.collecting)
	}
	if st, _ := h.svc.Get(u); !st.Start.IsZero() {
		t.Fatalf("window should be cleared for the day")
	}

	calls := len(h.members.calls)
	h.at(10, 30)
	h.svc.CheckStartTimes(h.now)
	h.advance(300 * time.Millisecond)
	if h.svc.Collecting(u) || len(h.members.calls) != calls {
		t.Fatalf("re-triggered after close: %v", h.members.calls)
	}
}

func TestWindowReturnsNextDay(t *testing.T) {
	h := newHarness(t, 1)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1), StartTime: "09:00", EndMinutes: 30})
	h.at(9, 0)
	h.svc.CheckStartTimes(h.now)
	h.at(9, 30)
	h.svc.CheckStartTimes(h.now)
	if h.svc.Collecting(u) {
		t.Fatalf("still collecting")
	}

	h.now = h.now.Add(24 * time.Hour)
	h.sched.Tick(h.now)
	h.svc.CheckStartTimes(h.now)
	if h.svc.Collecting(u) {
		t.Fatalf("09:30 next day is past the window")
	}
	h.now = time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	h.sched.Tick(h.now)
	h.svc.CheckStartTimes(h.now)
	if !h.svc.Collecting(u) {
		t.Fatalf("window did not reopen on a new day")
	}
}

func TestStartOnlyWindowIsDroppedAfterStart(t *testing.T) {
	h := newHarness(t, 1)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1), StartTime: "09:00"})
	h.at(9, 0)
	h.svc.CheckStartTimes(h.now)
	if !h.svc.Collecting(u) {
		t.Fatalf("not started")
	}
	h.svc.CheckStartTimes(h.now)
	if st, _ := h.svc.Get(u); !st.Start.IsZero() {
		t.Fatalf("start-only window kept after it fired")
	}
	h.svc.StopGroup(u)
	h.svc.CheckStartTimes(h.now)
	if h.svc.Collecting(u) {
		t.Fatalf("restarted after manual stop")
	}
}

func TestStaggeredApply(t *testing.T) {
	h := newHarness(t, 1, 2, 3)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: map[int64]Member{1: {}, 2: {HamMode: true}, 3: {}}})
	if err := h.svc.StartGroup(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(h.members.calls) != 0 {
		t.Fatalf("applied synchronously")
	}
	h.advance(10 * time.Millisecond)
	if len(h.members.calls) != 1 {
		t.Fatalf("first member after 10ms, calls=%v", h.members.calls)
	}
	h.advance(100 * time.Millisecond)
	if len(h.members.calls) != 2 || !h.members.hams[2] {
		t.Fatalf("second member after 100ms, calls=%v hams=%v", h.members.calls, h.members.hams)
	}
	h.advance(time.Second)
	if len(h.members.calls) != 3 {
		t.Fatalf("calls = %v", h.members.calls)
	}
	if h.sched.Len() != 0 {
		t.Fatalf("stagger task left behind")
	}
}

func TestStopCancelsPendingStart(t *testing.T) {
	h := newHarness(t, 1, 2, 3)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1, 2, 3)})
	h.svc.StartGroup(u)
	h.advance(20 * time.Millisecond)
	h.svc.StopGroup(u)
	h.advance(time.Second)
	for id, on := range h.members.collecting {
		if on {
			t.Fatalf("member %d left collecting", id)
		}
	}
	if h.sched.Len() != 0 {
		t.Fatalf("tasks left = %d", h.sched.Len())
	}
}

func TestGoCheckGroupDerivesAndPrunes(t *testing.T) {
	h := newHarness(t, 1, 2)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1, 2, 9)})

	h.members.collecting[1] = true
	h.members.collecting[2] = true
	h.svc.GoCheckGroup(u, true)
	if !h.svc.Collecting(u) {
		t.Fatalf("all members collecting should derive on")
	}
	st, _ := h.svc.Get(u)
	if _, ok := st.Grouping.Members[9]; ok {
		t.Fatalf("missing member not pruned")
	}
	if h.store.updates != 1 {
		t.Fatalf("prune not persisted")
	}

	h.members.collecting[1] = false
	h.svc.GoCheckGroup(u, true)
	if !h.svc.Collecting(u) {
		t.Fatalf("one member still collecting should keep it on")
	}
	h.members.collecting[2] = false
	h.svc.GoCheckGroup(u, true)
	if h.svc.Collecting(u) {
		t.Fatalf("no member collecting should derive off")
	}
}

func TestEmptyGroupingNeverAllCollecting(t *testing.T) {
	h := newHarness(t)
	u, _ := h.svc.Add(Grouping{Name: "empty"})
	h.svc.GoCheckGroup(u, true)
	if h.svc.Collecting(u) {
		t.Fatalf("empty grouping derived on")
	}
}

func TestToggleCascadesToOthers(t *testing.T) {
	h := newHarness(t, 1, 2)
	a, _ := h.svc.Add(Grouping{Name: "a", Members: members(1, 2)})
	b, _ := h.svc.Add(Grouping{Name: "b", Members: members(1)})
	h.svc.StartGroup(a)
	h.svc.StartGroup(b)
	h.advance(time.Second)

	h.members.collecting[1] = false
	h.members.collecting[2] = false
	if err := h.svc.Toggle(a, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if h.svc.Collecting(b) {
		t.Fatalf("b should re-derive off once its member stopped")
	}
}

func TestCreateInstant(t *testing.T) {
	h := newHarness(t, 1, 2, 3)
	if _, err := h.svc.CreateInstant(); err != ErrNothingCollecting {
		t.Fatalf("err = %v", err)
	}
	h.members.collecting[1] = true
	h.members.collecting[3] = true
	u, err := h.svc.CreateInstant()
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	st, _ := h.svc.Get(u)
	if len(st.Grouping.Members) != 2 || !st.Collecting {
		t.Fatalf("instant grouping = %+v", st)
	}
	if len(h.store.rows) != 1 {
		t.Fatalf("instant grouping not stored")
	}
}

func TestEditSession(t *testing.T) {
	h := newHarness(t, 1, 2)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1)})
	ed, err := h.svc.BeginEdit(u)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.svc.BeginEdit(u); err != ErrEditOpen {
		t.Fatalf("second edit err = %v", err)
	}
	ed.AddMember(2, Member{HamMode: true})
	ed.RemoveMember(1)
	if err := ed.SetSchedule("7:00", 0, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if st, _ := h.svc.Get(u); len(st.Grouping.Members) != 1 || st.Grouping.Members[1] != (Member{}) {
		t.Fatalf("draft leaked before commit: %+v", st.Grouping.Members)
	}
	if err := ed.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	st, _ := h.svc.Get(u)
	if _, ok := st.Grouping.Members[2]; !ok || len(st.Grouping.Members) != 1 {
		t.Fatalf("members = %+v", st.Grouping.Members)
	}
	if st.Start.Hour() != 7 {
		t.Fatalf("window start = %v", st.Start)
	}
	if _, err := h.svc.BeginEdit(u); err != nil {
		t.Fatalf("edit after commit: %v", err)
	}
}

func TestLoadStartsOff(t *testing.T) {
	h := newHarness(t, 1)
	h.store.AddGrouping(context.Background(), Grouping{Kind: KindJobs, Name: "a", Members: members(1), StartTime: "09:00"})
	h.store.AddGrouping(context.Background(), Grouping{Kind: KindTriggers, Name: "other"})
	if err := h.svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	list := h.svc.List()
	if len(list) != 1 || list[0].Collecting || list[0].Start.IsZero() {
		t.Fatalf("list = %+v", list)
	}
}

func TestDeleteGrouping(t *testing.T) {
	h := newHarness(t, 1)
	u, _ := h.svc.Add(Grouping{Name: "g", Members: members(1)})
	if err := h.svc.Delete(u); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.svc.Delete(u); err != ErrNotFound {
		t.Fatalf("second delete err = %v", err)
	}
	if len(h.store.rows) != 0 {
		t.Fatalf("row left in store")
	}
}
