package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/config"
	"hitgrab/internal/job"
	"hitgrab/internal/registry"
	"hitgrab/internal/task/scheduler"
	"hitgrab/internal/transport/telegram/router"
	"hitgrab/pkg/tgui"
)

// applyPolicyFlags updates rec from the /add and /set flags.
func applyPolicyFlags(req *router.Request, rec *job.Record) error {
	ints := []struct {
		names []string
		dst   *int
	}{
		{[]string{"limit-group", "lq"}, &rec.LimitPerGroup},
		{[]string{"limit-total", "lt"}, &rec.LimitTotal},
		{[]string{"limit-fetches", "lf"}, &rec.LimitFetches},
		{[]string{"daily"}, &rec.DailyLimit},
	}
	for _, f := range ints {
		raw, ok := req.Flag(f.names...)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errors.Newf("--%s: want a count >= 0, got %q", f.names[0], raw)
		}
		*f.dst = n
	}

	if raw, ok := req.Flag("duration", "d"); ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return errors.Newf("--duration: invalid %q", raw)
		}
		rec.Duration = d
	}
	if raw, ok := req.Flag("ham-duration"); ok {
		d, err := time.ParseDuration(raw)
		if err != nil || (d != 0 && (d < config.MinHamDelay || d > config.MaxHamDelay)) {
			return errors.Newf("--ham-duration: want 0 or %s..%s, got %q", config.MinHamDelay, config.MaxHamDelay, raw)
		}
		rec.HamDuration = d
	}
	if raw, ok := req.Flag("search"); ok {
		mode := job.SearchMode(strings.ToLower(raw))
		if raw == "none" || raw == "off" {
			mode = job.SearchNone
		}
		if !mode.Valid() {
			return errors.Newf("--search: want gid, rid or none, got %q", raw)
		}
		rec.Search = mode
	}
	if req.Bool("once") {
		rec.OnceOnly = true
	}
	if req.Bool("no-once") {
		rec.OnceOnly = false
	}
	if req.Bool("auto-ham") {
		rec.AutoGoHam = true
	}
	if req.Bool("no-auto-ham") {
		rec.AutoGoHam = false
	}
	if req.Bool("disabled", "disable") {
		rec.Disabled = true
	}
	if req.Bool("enable", "enabled") {
		rec.Disabled = false
	}
	if raw, ok := req.Flag("title"); ok {
		rec.Title = raw
	}
	if raw, ok := req.Flag("requester"); ok {
		rec.RequesterName = raw
	}
	return nil
}

func (c *Commands) cmdAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return errors.New("usage: /add <group id|requester id> [name...]")
	}
	var rec job.Record
	id := strings.TrimSpace(req.Args[0])
	if job.LooksLikeRequesterID(id) {
		rec.RequesterID = id
		rec.Search = job.SearchRequester
	} else {
		rec.GroupID = id
	}
	rec.Friendly = strings.Join(req.Args[1:], " ")
	if err := applyPolicyFlags(req, &rec); err != nil {
		return err
	}
	if rec.Search == job.SearchRequester && rec.RequesterID == "" {
		return errors.New("--search rid needs a requester id")
	}

	var (
		local   int
		started bool
	)
	err := c.call(ctx, func() error {
		if rec.GroupID != "" {
			if existing, ok := c.d.Registry.CheckExisting(rec.GroupID, rec.Search); ok {
				return errors.Newf("group already has job #%d", existing)
			}
		}
		var err error
		local, err = c.d.Registry.Add(rec, registry.AddOptions{})
		if err != nil {
			return err
		}
		if req.Bool("start") {
			started = c.d.Registry.StartCollecting(local, registry.StartOptions{Ham: req.Bool("ham")})
		}
		return nil
	})
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("added #%d %s", local, rec.Name())
	if started {
		msg += " (collecting)"
	}
	return req.Reply(ctx, msg)
}

func (c *Commands) cmdSet(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	var name string
	err = c.call(ctx, func() error {
		j, ok := c.d.Registry.Get(id)
		if !ok {
			return registry.ErrUnknownJob
		}
		rec := j.Record
		if len(req.Args) > 1 {
			rec.Friendly = strings.Join(req.Args[1:], " ")
		}
		if err := applyPolicyFlags(req, &rec); err != nil {
			return err
		}
		if err := c.d.Registry.Update(id, rec); err != nil {
			return err
		}
		name = rec.Name()
		return nil
	})
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("updated #%d %s", id, name))
}

func (c *Commands) cmdReload(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	var line string
	if err := c.call(ctx, func() error {
		j, err := c.d.Registry.Reload(id)
		if err != nil {
			return err
		}
		line = formatJob(j)
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, "reloaded "+line)
}

func (c *Commands) cmdRemove(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	if err := c.call(ctx, func() error {
		return c.d.Registry.Remove(id, !req.Bool("keep"))
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("removed #%d", id))
}

func (c *Commands) cmdStart(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	var j job.Job
	err = c.call(ctx, func() error {
		if _, ok := c.d.Registry.Get(id); !ok {
			return registry.ErrUnknownJob
		}
		if !c.d.Registry.StartCollecting(id, registry.StartOptions{Ham: req.Bool("ham")}) {
			return errors.Newf("job #%d not started: disabled, limited or its group is already collecting", id)
		}
		j, _ = c.d.Registry.Get(id)
		return nil
	})
	if err != nil {
		return err
	}
	if j.Skipped {
		return req.Reply(ctx, fmt.Sprintf("#%d %s is skipped until the claim queue has room", id, j.Name()))
	}
	return req.Reply(ctx, fmt.Sprintf("collecting #%d %s", id, j.Name()))
}

func (c *Commands) cmdStop(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 && strings.EqualFold(req.Args[0], "all") {
		var n int
		err := c.call(ctx, func() error {
			for _, j := range c.d.Registry.List() {
				if j.Collecting {
					c.d.Registry.StopCollecting(j.LocalID, job.ReasonManual)
					n++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("stopped %d job(s)", n))
	}
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	if err := c.call(ctx, func() error {
		if _, ok := c.d.Registry.Get(id); !ok {
			return registry.ErrUnknownJob
		}
		c.d.Registry.StopCollecting(id, job.ReasonManual)
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("stopped #%d", id))
}

func (c *Commands) cmdHam(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	d := c.d.HamDelay
	if len(req.Args) > 1 {
		d, err = time.ParseDuration(req.Args[1])
		if err != nil || d < config.MinHamDelay || d > config.MaxHamDelay {
			return errors.Newf("ham duration: want %s..%s, got %q", config.MinHamDelay, config.MaxHamDelay, req.Args[1])
		}
	}
	if err := c.call(ctx, func() error {
		if !c.d.Registry.GoHam(id, d) {
			return errors.Newf("job #%d is not collecting", id)
		}
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("#%d ham for %s", id, d))
}

func (c *Commands) cmdHamOff(ctx context.Context, req *router.Request) error {
	id, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	if err := c.call(ctx, func() error {
		c.d.Registry.HamOff(id)
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("#%d ham off", id))
}

func (c *Commands) cmdPause(ctx context.Context, req *router.Request) error {
	var paused bool
	err := c.call(ctx, func() error {
		on := !c.d.Registry.Paused()
		if len(req.Args) > 0 {
			switch strings.ToLower(req.Args[0]) {
			case "on", "1", "true":
				on = true
			case "off", "0", "false":
				on = false
			default:
				return errors.Newf("want on or off, got %q", req.Args[0])
			}
		}
		c.d.Registry.Pause(on)
		paused = c.d.Registry.Paused()
		return nil
	})
	if err != nil {
		return err
	}
	if paused {
		return req.Reply(ctx, "timers paused")
	}
	return req.Reply(ctx, "timers running")
}

func (c *Commands) cmdTimer(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return errors.New("usage: /timer <main|ham> <duration>")
	}
	d, err := time.ParseDuration(req.Args[1])
	if err != nil || d <= 0 {
		return errors.Newf("invalid duration %q", req.Args[1])
	}
	var cfg scheduler.Config
	if err := c.call(ctx, func() error {
		switch req.Args[0] {
		case "main":
			c.d.Sched.SetInterval(d)
		case "ham":
			c.d.Sched.SetHamInterval(d)
		default:
			return errors.Newf("unknown timer %q", req.Args[0])
		}
		cfg = c.d.Sched.Config()
		return nil
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("timers %s / ham %s", cfg.Interval, cfg.HamInterval))
}

func (c *Commands) cmdJobs(ctx context.Context, req *router.Request) error {
	var jobs []job.Job
	if err := c.call(ctx, func() error {
		jobs = c.d.Registry.List()
		return nil
	}); err != nil {
		return err
	}
	only := req.Bool("collecting", "c")
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if only && !j.Collecting {
			continue
		}
		lines = append(lines, formatJob(j))
	}
	if len(lines) == 0 {
		return req.Reply(ctx, "no jobs")
	}
	page := 0
	if raw, ok := req.Flag("page", "p"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return errors.Newf("bad page %q", raw)
		}
		page = n - 1
	}
	p := tgui.Paginate(lines, page, jobsPageSize)
	out := p.Items
	if p.Pages > 1 {
		out = append(append([]string(nil), out...), p.Label())
	}
	return req.Reply(ctx, strings.Join(out, "\n"))
}
