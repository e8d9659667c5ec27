package fetch

import (
	"context"
	"strconv"

	"hitgrab/internal/classify"
	"hitgrab/internal/registry"
)

// Results is where job fetch results go. Both methods run on the event
// loop.
type Results interface {
	ApplyOutcome(id int, gen uint64, out classify.Outcome)
	AbandonFetch(id int, gen uint64)
}

// Getter performs one remote GET.
type Getter interface {
	Get(ctx context.Context, rawURL string) classify.Outcome
}

// Runner runs fn on the event loop and waits for it.
type Runner interface {
	Call(ctx context.Context, fn func()) error
}

// JobFetcher submits job polls to the pool and hands every result back to
// the event loop. It implements registry.Fetcher.
//
// Results are delivered with a blocking Call: a busy loop delays an outcome
// but never loses it. Delivery only fails once the loop has stopped.
type JobFetcher struct {
	pool    *Pool
	client  Getter
	loop    Runner
	results Results
}

func NewJobFetcher(pool *Pool, client Getter, loop Runner, results Results) *JobFetcher {
	return &JobFetcher{pool: pool, client: client, loop: loop, results: results}
}

// SetResults binds the receiver once it exists.
func (f *JobFetcher) SetResults(r Results) { f.results = r }

func jobKey(localID int) string { return "job:" + strconv.Itoa(localID) }

// deliver runs fn on the loop. The task deadline does not apply: a fetch
// that reached the remote must be accounted for.
func (f *JobFetcher) deliver(ctx context.Context, fn func()) {
	_ = f.loop.Call(context.WithoutCancel(ctx), fn)
}

func (f *JobFetcher) Fetch(req registry.FetchRequest) error {
	return f.pool.Enqueue(Task{
		Name: "accept",
		Key:  jobKey(req.LocalID),
		Run: func(ctx context.Context) error {
			delivered := false
			defer func() {
				if !delivered {
					f.deliver(ctx, func() { f.results.AbandonFetch(req.LocalID, req.Gen) })
				}
			}()
			out := f.client.Get(ctx, req.URL)
			// A stopped loop cannot take the abandon either.
			delivered = true
			f.deliver(ctx, func() { f.results.ApplyOutcome(req.LocalID, req.Gen, out) })
			return out.Err
		},
		OnDrop: func(error) {
			f.deliver(context.Background(), func() { f.results.AbandonFetch(req.LocalID, req.Gen) })
		},
	})
}

// Forget drops the overlap state of a removed job.
func (f *JobFetcher) Forget(localID int) { f.pool.Forget(jobKey(localID)) }
