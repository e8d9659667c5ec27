package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/classify"
	"hitgrab/internal/config"
	"hitgrab/internal/fetch"
	"hitgrab/internal/task/scheduler"
	logx "hitgrab/pkg/logx"
)

// remote holds the current HTTP client. A reload of the remote section
// swaps it without touching requests already in flight.
type remote struct {
	cur atomic.Pointer[fetch.Client]
}

func newRemote(cfg *config.Config) (*remote, error) {
	r := &remote{}
	if err := r.apply(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *remote) apply(cfg *config.Config) error {
	c, err := fetch.NewClient(mapClientConfig(cfg))
	if err != nil {
		return err
	}
	r.cur.Store(c)
	return nil
}

func (r *remote) Get(ctx context.Context, rawURL string) classify.Outcome {
	return r.cur.Load().Get(ctx, rawURL)
}

// pollers are the two background listings. Both run as background tasks of
// the scheduler so a pause never stops them; only their result handling
// goes back through the event loop.
type pollers struct {
	queue  scheduler.Handle
	search scheduler.Handle
}

// schedulePollers (re)registers the listing tasks. It runs on the loop.
func (a *App) schedulePollers(t timers, pageSize int) {
	if a.polls.queue != 0 {
		a.sched.RemoveTask(a.polls.queue)
	}
	if a.polls.search != 0 {
		a.sched.RemoveTask(a.polls.search)
	}
	a.polls = pollers{}
	a.polls.queue = a.sched.Every("queue.refresh", 0, t.queueEvery, func() bool {
		a.refreshQueue()
		return true
	})
	if t.searchEvery > 0 {
		a.polls.search = a.sched.Every("search.poll", t.searchEvery, t.searchEvery, func() bool {
			if a.bridge.ActiveCount() > 0 {
				a.pollSearch(pageSize)
			}
			return true
		})
	}
}

func (a *App) refreshQueue() {
	err := a.pool.Enqueue(fetch.Task{
		Name:    "queue",
		Key:     "queue",
		Retries: 1,
		Run: func(ctx context.Context) error {
			items, err := a.remote.cur.Load().Queue(ctx)
			switch {
			case errors.Is(err, fetch.ErrSignedOut):
				a.loop.Post(a.reg.QueueSignedOut)
			case err == nil:
				at := time.Now()
				a.loop.Post(func() { a.reg.GotNewQueue(items, at) })
			}
			return err
		},
	})
	if err != nil && !errors.Is(err, fetch.ErrOverlapSkip) {
		a.log.Debug("queue refresh not queued", logx.Err(err))
	}
}

func (a *App) pollSearch(pageSize int) {
	err := a.pool.Enqueue(fetch.Task{
		Name: "search",
		Key:  "search",
		Run: func(ctx context.Context) error {
			listings, err := a.remote.cur.Load().Search(ctx, pageSize)
			if err != nil {
				if errors.Is(err, fetch.ErrSignedOut) {
					a.loop.Post(a.reg.QueueSignedOut)
				}
				return err
			}
			a.loop.Post(func() {
				if n := a.bridge.Match(listings); n > 0 {
					a.log.Debug("search matched", logx.Int("found", n), logx.Int("listings", len(listings)))
				}
			})
			return nil
		},
	})
	if err != nil && !errors.Is(err, fetch.ErrOverlapSkip) {
		a.log.Debug("search poll not queued", logx.Err(err))
	}
}
