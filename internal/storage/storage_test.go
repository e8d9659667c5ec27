package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}
	for _, d := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: d, Path: filepath.Join(dir, d, "hitgrab.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", d, err)
		}
		out[d] = st
	}
	t.Cleanup(func() {
		for _, st := range out {
			_ = st.Close()
		}
	})
	return out
}

func sampleRecord(gid string) job.Record {
	return job.Record{
		Descriptor: job.Descriptor{GroupID: gid, RequesterName: "Req", Title: "Tag images", Price: 0.12},
		Policy:     job.Policy{OnceOnly: true, LimitPerGroup: 2, Duration: 12 * time.Second},
		Added:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := st.AddJob(ctx, sampleRecord("G1"))
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			id2, _ := st.AddJob(ctx, sampleRecord("G2"))
			if id1 == 0 || id2 <= id1 {
				t.Fatalf("ids = %d, %d", id1, id2)
			}

			rec := sampleRecord("G1")
			rec.ID = id1
			rec.Title = "renamed"
			if err := st.UpdateJob(ctx, rec); err != nil {
				t.Fatalf("update: %v", err)
			}
			if err := st.DeleteJob(ctx, id2); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.DeleteJob(ctx, id2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete err = %v", err)
			}

			one, err := st.GetJob(ctx, id1)
			if err != nil || one.Title != "renamed" || one.ID != id1 {
				t.Fatalf("get = %+v, %v", one, err)
			}
			if _, err := st.GetJob(ctx, id2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get deleted err = %v", err)
			}

			list, err := st.ScanJobs(ctx)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("len = %d", len(list))
			}
			got := list[0]
			if got.ID != id1 || got.Title != "renamed" || !got.OnceOnly || got.LimitPerGroup != 2 || got.Duration != 12*time.Second {
				t.Fatalf("record = %+v", got)
			}
		})
	}
}

func TestGroupingsByKind(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			g := grouping.Grouping{
				Kind:      grouping.KindJobs,
				Name:      "morning",
				Members:   map[int64]grouping.Member{3: {HamMode: true}, 4: {}},
				StartTime: "09:00",
				EndHours:  1,
			}
			id, err := st.AddGrouping(ctx, g)
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if _, err := st.AddGrouping(ctx, grouping.Grouping{Kind: grouping.KindTriggers, Name: "t"}); err != nil {
				t.Fatalf("add trigger grouping: %v", err)
			}

			g.ID = id
			delete(g.Members, 4)
			if err := st.UpdateGrouping(ctx, g); err != nil {
				t.Fatalf("update: %v", err)
			}
			list, err := st.ScanGroupings(ctx, grouping.KindJobs)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(list) != 1 || list[0].ID != id || len(list[0].Members) != 1 || !list[0].Members[3].HamMode || list[0].EndHours != 1 {
				t.Fatalf("list = %+v", list)
			}
			if err := st.DeleteGrouping(ctx, id); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.UpdateGrouping(ctx, g); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update after delete err = %v", err)
			}
		})
	}
}

func TestDedupAndAudit(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "claimed:G1", until); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "claimed:G1")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("get = %v %v %v", got, ok, err)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatalf("missing key found")
			}
			if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), ActorID: 1, Command: "/start", Args: "3", OK: true}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, _ := st.AddJob(ctx, sampleRecord("G1"))
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	list, _ := st.ScanJobs(ctx)
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("list = %+v", list)
	}
	next, _ := st.AddJob(ctx, sampleRecord("G2"))
	if next <= id {
		t.Fatalf("id reused: %d after %d", next, id)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if _, err := st.AddJob(context.Background(), sampleRecord("G1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
