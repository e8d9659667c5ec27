package app

import (
	"context"
	"time"

	"hitgrab/internal/fetch"
	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	"hitgrab/internal/registry"
	"hitgrab/internal/search"
	"hitgrab/internal/task/scheduler"
)

// State is the JSON view served at /debug/state.
type State struct {
	At        time.Time          `json:"at"`
	Uptime    string             `json:"uptime"`
	Paused    bool               `json:"paused"`
	LoggedOut bool               `json:"logged_out"`
	Halted    string             `json:"halted,omitempty"`
	Totals    registry.Totals    `json:"totals"`
	Queue     int                `json:"claim_queue"`
	Skipped   []int              `json:"skipped,omitempty"`
	Jobs      []job.Job          `json:"jobs"`
	Groupings []grouping.Status  `json:"groupings"`
	Triggers  []search.Status    `json:"triggers"`
	Timers    scheduler.Snapshot `json:"timers"`
	Fetch     fetch.Snapshot     `json:"fetch"`
}

// state copies the loop-owned view on the loop; the pool snapshot is taken
// outside it.
func (a *App) state(ctx context.Context) (any, error) {
	var st State
	err := a.loop.Call(ctx, func() {
		st.At = time.Now()
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
		st.Paused = a.reg.Paused()
		st.LoggedOut = a.reg.LoggedOut()
		if err := a.reg.Halted(); err != nil {
			st.Halted = err.Error()
		}
		st.Totals = a.reg.Totals()
		st.Queue = a.queue.Total()
		st.Skipped = a.reg.Skipped()
		st.Jobs = a.reg.List()
		st.Groupings = append(a.jobGroups.List(), a.trigGroups.List()...)
		st.Triggers = a.bridge.Triggers()
		st.Timers = a.sched.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	st.Fetch = a.pool.Snapshot()
	return st, nil
}
