package control

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	"hitgrab/internal/registry"
	"hitgrab/internal/task/scheduler"
	"hitgrab/internal/transport/telegram/router"
	"hitgrab/pkg/tgui"
)

const (
	jobsPageSize = 20
	nameWidth    = 48
)

func jobState(j job.Job) string {
	switch {
	case j.Skipped:
		return "skip"
	case j.Collecting:
		return "on"
	case j.Searching:
		return "search"
	case j.Disabled:
		return "disabled"
	}
	return "off"
}

func formatJob(j job.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s] %s", j.LocalID, jobState(j), tgui.TruncRunes(j.Name(), nameWidth))
	if j.RequesterName != "" {
		fmt.Fprintf(&b, " (%s)", tgui.TruncRunes(j.RequesterName, 24))
	}
	if j.Price > 0 {
		fmt.Fprintf(&b, " $%.2f", j.Price)
	}
	fmt.Fprintf(&b, " acc %d", j.Accepted)
	if j.DailyLimit > 0 {
		fmt.Fprintf(&b, " daily %d/%d", j.DailyAccepted, j.DailyLimit)
	}
	fmt.Fprintf(&b, " fetched %d", j.FetchedTotal)
	var flags []string
	if j.OnceOnly {
		flags = append(flags, "once")
	}
	if j.Search != job.SearchNone {
		flags = append(flags, "search:"+string(j.Search))
	}
	if j.AutoAdded {
		flags = append(flags, "auto")
	}
	if len(flags) > 0 {
		b.WriteString(" " + strings.Join(flags, ","))
	}
	return b.String()
}

// formatGroupings must run on the loop.
func (c *Commands) formatGroupings(title string, svc *grouping.Service) []string {
	list := svc.List()
	if len(list) == 0 {
		return nil
	}
	lines := []string{title + ":"}
	for _, st := range list {
		state := "off"
		if st.Collecting {
			state = "on"
		}
		ids := make([]string, 0, len(st.Grouping.Members))
		for durable := range st.Grouping.Members {
			if id, ok := c.d.Registry.LocalID(durable); ok {
				ids = append(ids, fmt.Sprintf("#%d", id))
			}
		}
		sort.Strings(ids)
		line := fmt.Sprintf("%d [%s] %s: %s", st.Unique, state, st.Grouping.Name, strings.Join(ids, " "))
		if !st.Start.IsZero() {
			line += " at " + st.Start.Format("15:04")
			if !st.End.IsZero() {
				line += "-" + st.End.Format("15:04")
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func (c *Commands) cmdStatus(ctx context.Context, req *router.Request) error {
	var (
		paused, loggedOut bool
		halted            error
		totals            registry.Totals
		snap              scheduler.Snapshot
		queue             int
		queueAt           time.Time
		jobs, collecting  int
		triggersActive    int
	)
	err := c.call(ctx, func() error {
		r := c.d.Registry
		paused, loggedOut, halted = r.Paused(), r.LoggedOut(), r.Halted()
		totals = r.Totals()
		for _, j := range r.List() {
			jobs++
			if j.Collecting {
				collecting++
			}
		}
		snap = c.d.Sched.Snapshot()
		if c.d.Queue != nil {
			queue = c.d.Queue.Total()
			queueAt = c.d.Queue.LoadedAt()
		}
		if c.d.Search != nil {
			triggersActive = c.d.Search.ActiveCount()
		}
		return nil
	})
	if err != nil {
		return err
	}

	state := "running"
	switch {
	case halted != nil:
		state = "HALTED: " + halted.Error()
	case loggedOut:
		state = "logged out (paused until the claim queue loads)"
	case paused:
		state = "paused"
	}
	lines := []string{
		"hitgrab " + state,
		fmt.Sprintf("uptime %s", c.d.Now().Sub(c.d.StartedAt).Truncate(time.Second)),
		fmt.Sprintf("jobs %d, collecting %d, tasks %d", jobs, collecting, len(snap.Tasks)),
		fmt.Sprintf("timers %s / ham %s", snap.Interval, snap.HamInterval),
		queueLine(queue, queueAt),
		fmt.Sprintf("fetched %d, claimed %d, no more %d, errors %d, captchas %d",
			totals.Fetched, totals.Claimed, totals.NoMore, totals.Errors, totals.Captchas),
	}
	if c.d.Search != nil {
		lines = append(lines, fmt.Sprintf("search triggers active %d", triggersActive))
	}
	if c.d.Pool != nil {
		ps := c.d.Pool.Snapshot()
		lines = append(lines, fmt.Sprintf("fetch pool %d workers, queue %d/%d, in flight %d, failed %d",
			ps.Workers, ps.QueueLen, ps.QueueCap, ps.InFlight, ps.Failed))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func queueLine(n int, at time.Time) string {
	if at.IsZero() {
		return fmt.Sprintf("claim queue %d (not listed yet)", n)
	}
	return fmt.Sprintf("claim queue %d (listed %s)", n, at.Format("15:04:05"))
}
