package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/grouping"
	"hitgrab/internal/registry"
	"hitgrab/internal/transport/telegram/router"
)

type groupAction int

const (
	opStart groupAction = iota
	opStop
	opDelete
)

// groupingFor picks the job or trigger groupings by the --triggers flag.
func (c *Commands) groupingFor(req *router.Request) (*grouping.Service, string, error) {
	if req.Bool("triggers", "t") {
		if c.d.Triggers == nil {
			return nil, "", errors.New("search triggers are not enabled")
		}
		return c.d.Triggers, "trigger grouping", nil
	}
	return c.d.Jobs, "grouping", nil
}

func (c *Commands) groupOp(op groupAction) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		u, err := argID(req.Args, 0)
		if err != nil {
			return err
		}
		svc, label, err := c.groupingFor(req)
		if err != nil {
			return err
		}
		var verb string
		err = c.call(ctx, func() error {
			switch op {
			case opStart:
				verb = "started"
				return svc.StartGroup(u)
			case opStop:
				verb = "stopped"
				return svc.StopGroup(u)
			default:
				verb = "deleted"
				return svc.Delete(u)
			}
		})
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("%s %d %s", label, u, verb))
	}
}

func (c *Commands) cmdGroupInstant(ctx context.Context, req *router.Request) error {
	svc, label, err := c.groupingFor(req)
	if err != nil {
		return err
	}
	var u int
	if err := c.call(ctx, func() error {
		var err error
		u, err = svc.CreateInstant()
		return err
	}); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("%s %d created from everything collecting", label, u))
}

// parseIDList parses "1,2,3".
func parseIDList(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(part, "#"))
		if err != nil {
			return nil, errors.Newf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Commands) cmdGroupNew(ctx context.Context, req *router.Request) error {
	svc, label, err := c.groupingFor(req)
	if err != nil {
		return err
	}
	g := grouping.Grouping{Name: strings.Join(req.Args, " "), Members: map[int64]grouping.Member{}}
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("grouping needs a name")
	}
	if at, ok := req.Flag("at"); ok {
		if _, _, err := grouping.ParseClock(at); err != nil {
			return err
		}
		g.StartTime = at
	}
	if raw, ok := req.Flag("for"); ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errors.Newf("--for: invalid %q", raw)
		}
		g.EndHours = int(d / time.Hour)
		g.EndMinutes = int((d % time.Hour) / time.Minute)
	}
	raw, _ := req.Flag("members", "m")
	members, err := parseIDList(raw)
	if err != nil {
		return err
	}
	hamRaw, _ := req.Flag("ham")
	ham, err := parseIDList(hamRaw)
	if err != nil {
		return err
	}
	hamSet := map[int]bool{}
	for _, id := range ham {
		hamSet[id] = true
	}

	var u int
	err = c.call(ctx, func() error {
		for _, id := range members {
			durable, err := c.durableOf(id)
			if err != nil {
				return err
			}
			g.Members[durable] = grouping.Member{HamMode: hamSet[id]}
		}
		var err error
		u, err = svc.Add(g)
		return err
	})
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("%s %d %q created with %d member(s)", label, u, g.Name, len(g.Members)))
}

// durableOf maps a local job id to its store id. Must run on the loop.
func (c *Commands) durableOf(id int) (int64, error) {
	j, ok := c.d.Registry.Get(id)
	if !ok {
		return 0, errors.Wrapf(registry.ErrUnknownJob, "job #%d", id)
	}
	if j.ID == 0 {
		return 0, errors.Newf("job #%d is not stored and cannot join a grouping", id)
	}
	return j.ID, nil
}

func (c *Commands) cmdGroups(ctx context.Context, req *router.Request) error {
	var lines []string
	err := c.call(ctx, func() error {
		lines = append(lines, c.formatGroupings("Groupings", c.d.Jobs)...)
		if c.d.Triggers != nil {
			lines = append(lines, c.formatGroupings("Trigger groupings", c.d.Triggers)...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return req.Reply(ctx, "no groupings")
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (c *Commands) cmdGroupEdit(ctx context.Context, req *router.Request) error {
	u, err := argID(req.Args, 0)
	if err != nil {
		return err
	}
	svc, label, err := c.groupingFor(req)
	if err != nil {
		return err
	}
	lists := map[string][]int{}
	for _, name := range []string{"add", "remove", "ham"} {
		raw, _ := req.Flag(name)
		if lists[name], err = parseIDList(raw); err != nil {
			return err
		}
	}
	hamSet := map[int]bool{}
	for _, id := range lists["ham"] {
		hamSet[id] = true
	}

	var members int
	err = c.call(ctx, func() error {
		cur, ok := svc.Get(u)
		if !ok {
			return grouping.ErrNotFound
		}
		ed, err := svc.BeginEdit(u)
		if err != nil {
			return err
		}
		if err := c.fillEdit(req, ed, cur.Grouping, lists["add"], lists["remove"], hamSet); err != nil {
			ed.Cancel()
			return err
		}
		if err := ed.Commit(); err != nil {
			ed.Cancel()
			return err
		}
		after, _ := svc.Get(u)
		members = len(after.Grouping.Members)
		return nil
	})
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("%s %d updated, %d member(s)", label, u, members))
}

// fillEdit applies the /group edit arguments to ed. Must run on the loop.
func (c *Commands) fillEdit(req *router.Request, ed *grouping.Edit, cur grouping.Grouping, add, remove []int, ham map[int]bool) error {
	name, desc := cur.Name, cur.Description
	if len(req.Args) > 1 {
		name = strings.Join(req.Args[1:], " ")
	}
	if d, ok := req.Flag("desc"); ok {
		desc = d
	}
	ed.SetInfo(name, desc)

	start, hours, minutes := cur.StartTime, cur.EndHours, cur.EndMinutes
	if at, ok := req.Flag("at"); ok {
		start = at
		if at == "none" {
			start, hours, minutes = "", 0, 0
		}
	}
	if raw, ok := req.Flag("for"); ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errors.Newf("--for: invalid %q", raw)
		}
		hours, minutes = int(d/time.Hour), int((d%time.Hour)/time.Minute)
	}
	if err := ed.SetSchedule(start, hours, minutes); err != nil {
		return err
	}

	for _, id := range add {
		durable, err := c.durableOf(id)
		if err != nil {
			return err
		}
		ed.AddMember(durable, grouping.Member{HamMode: ham[id]})
	}
	for _, id := range remove {
		durable, err := c.durableOf(id)
		if err != nil {
			return err
		}
		ed.RemoveMember(durable)
	}
	return nil
}
