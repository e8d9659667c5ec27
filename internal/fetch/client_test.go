package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hitgrab/internal/classify"
	"hitgrab/internal/job"
	"hitgrab/internal/registry"
	"hitgrab/internal/runtime/loop"
	logx "hitgrab/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Cookies: map[string]string{"session": "abc"}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestAcceptFollowsRedirectToAssignment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/G1/tasks/accept_random", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			t.Errorf("cookie missing")
		}
		http.Redirect(w, r, "/projects/G1/tasks/T9?assignment_id=A77&ref=w", http.StatusFound)
	})
	mux.HandleFunc("/projects/G1/tasks/T9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>work</html>"))
	})
	c := newTestClient(t, mux)

	out := c.Accept(context.Background(), "G1")
	if out.Err != nil || out.Status != 200 {
		t.Fatalf("outcome = %+v", out)
	}
	res := classify.Classify(out)
	if res.Mode != classify.Claimed || res.AssignmentID != "A77" {
		t.Fatalf("result = %+v", res)
	}
}

func TestGetRewritesDefaultHost(t *testing.T) {
	var hit atomic.Bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(true)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"There are no more of these tasks available"}`))
	}))
	out := c.Get(context.Background(), job.AcceptURL("G2"))
	if !hit.Load() {
		t.Fatalf("request did not reach test server")
	}
	if classify.Classify(out).Mode != classify.NoMoreAvailable {
		t.Fatalf("mode = %v", classify.Classify(out).Mode)
	}
}

func TestQueueParsesTasks(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[
			{"assignment_id":"A1","deadline":"2026-03-02T10:00:00Z","project":{"hit_set_id":"G1","requester_id":"AR1","requester_name":"Req","title":"T","monetary_reward":{"amount_in_dollars":0.25}}},
			{"assignment_id":"A2","time_to_deadline_in_seconds":60,"project":{"hit_set_id":"G2"}}
		]}`))
	}))
	items, err := c.Queue(context.Background())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].GroupID != "G1" || items[0].Price != 0.25 || !items[0].Deadline.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("first = %+v", items[0])
	}
	if items[1].Deadline.Before(time.Now()) {
		t.Fatalf("relative deadline not applied: %v", items[1].Deadline)
	}
}

func TestQueueSignedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ap/signin?x=1", http.StatusFound)
	})
	mux.HandleFunc("/ap/signin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>sign in</html>"))
	})
	c := newTestClient(t, mux)
	_, err := c.Queue(context.Background())
	if !errors.Is(err, ErrSignedOut) || !IsNoRetry(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestSearchThrottledCarriesDelay(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := c.Search(context.Background(), 20)
	var ra RetryAfterError
	if !errors.Is(err, ErrThrottled) || !errors.As(err, &ra) || ra.RetryAfter() != 7*time.Second {
		t.Fatalf("err = %v", err)
	}
}

func TestSearchParsesResults(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "page_size=20") {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"hit_set_id":"G5","requester_id":"AR9","requester_name":"Lab","title":"Survey","monetary_reward":{"amount_in_dollars":1.5},"assignment_duration_in_seconds":600,"assignable_hits_count":4}]}`))
	}))
	got, err := c.Search(context.Background(), 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].GroupID != "G5" || got[0].HitsAvailable != 4 || got[0].Price != 1.5 || got[0].AssignedTime != 600 {
		t.Fatalf("listings = %+v", got)
	}
}

type recordResults struct {
	applied   chan classify.Outcome
	abandoned chan int
}

func (r *recordResults) ApplyOutcome(id int, gen uint64, out classify.Outcome) { r.applied <- out }
func (r *recordResults) AbandonFetch(id int, gen uint64)                       { r.abandoned <- id }

// inline runs posted work on the calling goroutine.
type inline struct{}

func (inline) Call(_ context.Context, fn func()) error { fn(); return nil }

func TestJobFetcherPostsOutcome(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"You have exceeded the maximum number of tasks"}`))
	}))
	p := startPool(t, Config{Workers: 1})
	res := &recordResults{applied: make(chan classify.Outcome, 1), abandoned: make(chan int, 1)}
	f := NewJobFetcher(p, c, inline{}, res)

	if err := f.Fetch(registry.FetchRequest{LocalID: 4, Gen: 2, GroupID: "G1", URL: job.AcceptURL("G1")}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	select {
	case out := <-res.applied:
		if classify.Classify(out).Mode != classify.QueueFull {
			t.Fatalf("mode = %v", classify.Classify(out).Mode)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outcome")
	}
}

func TestJobFetcherWaitsForBusyLoop(t *testing.T) {
	l := loop.New(loop.Config{Buffer: 1, Tick: 10 * time.Millisecond}, logx.Nop())
	if !l.Post(func() {}) {
		t.Fatal("prefill refused")
	}
	if l.Post(func() {}) {
		t.Fatal("loop queue should be full")
	}

	p := startPool(t, Config{Workers: 1, Timeout: 50 * time.Millisecond})
	res := &recordResults{applied: make(chan classify.Outcome, 1), abandoned: make(chan int, 1)}
	claimed := classify.Outcome{Status: 200, FinalURL: "https://worker.mturk.com/projects/G/tasks/1?assignment_id=A1"}
	getter := getterFunc(func(context.Context, string) classify.Outcome { return claimed })
	f := NewJobFetcher(p, getter, l, res)
	if err := f.Fetch(registry.FetchRequest{LocalID: 1, Gen: 1}); err != nil {
		t.Fatal(err)
	}

	// The loop starts well after the task deadline.
	time.Sleep(300 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-l.Done()
	}()
	go func() { _ = l.Run(ctx) }()

	select {
	case out := <-res.applied:
		if out.FinalURL != claimed.FinalURL {
			t.Fatalf("outcome = %+v", out)
		}
	case id := <-res.abandoned:
		t.Fatalf("claimed fetch %d abandoned", id)
	case <-time.After(3 * time.Second):
		t.Fatal("outcome never reached the loop")
	}
}

func TestJobFetcherAbandonsOnPanic(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	res := &recordResults{applied: make(chan classify.Outcome, 1), abandoned: make(chan int, 1)}
	getter := getterFunc(func(context.Context, string) classify.Outcome { panic("boom") })
	f := NewJobFetcher(p, getter, inline{}, res)
	_ = f.Fetch(registry.FetchRequest{LocalID: 9, Gen: 1})
	select {
	case id := <-res.abandoned:
		if id != 9 {
			t.Fatalf("id = %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch never released")
	}
}

func TestJobFetcherForget(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	res := &recordResults{applied: make(chan classify.Outcome, 1), abandoned: make(chan int, 1)}
	f := NewJobFetcher(p, getterFunc(func(context.Context, string) classify.Outcome { return classify.Outcome{Status: 200} }), inline{}, res)
	_ = f.Fetch(registry.FetchRequest{LocalID: 3, Gen: 1})
	<-res.applied
	if n := p.trackedKeys(); n != 1 {
		t.Fatalf("tracked keys = %d", n)
	}
	f.Forget(3)
	if n := p.trackedKeys(); n != 0 {
		t.Fatalf("tracked keys after forget = %d", n)
	}
}

type getterFunc func(ctx context.Context, rawURL string) classify.Outcome

func (g getterFunc) Get(ctx context.Context, rawURL string) classify.Outcome { return g(ctx, rawURL) }
