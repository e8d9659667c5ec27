// Package control is the operator command set: it adds, edits and drives
// jobs and groupings from chat. Every handler runs its state access on the
// event loop.
package control

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/fetch"
	"hitgrab/internal/grouping"
	"hitgrab/internal/registry"
	"hitgrab/internal/search"
	"hitgrab/internal/task/scheduler"
	"hitgrab/internal/transport/telegram/router"
)

// Runner executes fn on the goroutine that owns the core state.
type Runner interface {
	Call(ctx context.Context, fn func()) error
}

// PoolStats is the diagnostic side of the fetch pool.
type PoolStats interface {
	Snapshot() fetch.Snapshot
}

// Deps are the collaborators of the command set. Triggers, Search and Pool
// may be nil.
type Deps struct {
	Loop     Runner
	Registry *registry.Registry
	Sched    *scheduler.Service
	Queue    *claimqueue.Tracker
	Jobs     *grouping.Service
	Triggers *grouping.Service
	Search   *search.Bridge
	Pool     PoolStats

	// HamDelay is the /ham period when none is given.
	HamDelay  time.Duration
	StartedAt time.Time
	Now       func() time.Time
}

type Commands struct {
	d Deps
}

func New(d Deps) *Commands {
	if d.HamDelay <= 0 {
		d.HamDelay = 6 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = d.Now()
	}
	return &Commands{d: d}
}

// call runs fn on the loop and returns its error.
func (c *Commands) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := c.d.Loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return errors.Wrap(cerr, "event loop")
	}
	return err
}

func (c *Commands) Commands() []router.Command {
	owner := router.AccessOwnerOnly
	return []router.Command{
		{
			Route:       "add",
			Description: "add a job",
			Usage: "/add <group id|requester id> [name...] [--once] [--search gid|rid]\n" +
				"  [--limit-group N] [--limit-total N] [--limit-fetches N] [--daily N]\n" +
				"  [--duration 30s] [--ham-duration 6s] [--auto-ham] [--disabled] [--start]",
			Access: owner,
			Handle: c.cmdAdd,
		},
		{
			Route:       "set",
			Description: "change a job's name or limits",
			Usage:       "/set <id> [name...] [same flags as /add] [--enable]",
			Access:      owner,
			Handle:      c.cmdSet,
		},
		{
			Route:       "reload",
			Description: "re-read a job from storage",
			Usage:       "/reload <id>",
			Access:      owner,
			Handle:      c.cmdReload,
		},
		{
			Route:       "remove",
			Aliases:     []string{"rm"},
			Description: "remove a job",
			Usage:       "/remove <id> [--keep]",
			Access:      owner,
			Handle:      c.cmdRemove,
		},
		{
			Route:       "start",
			Description: "start collecting a job",
			Usage:       "/start <id> [--ham]",
			Access:      owner,
			Handle:      c.cmdStart,
		},
		{
			Route:       "stop",
			Description: "stop collecting a job",
			Usage:       "/stop <id|all>",
			Access:      owner,
			Handle:      c.cmdStop,
		},
		{
			Route:       "ham",
			Description: "poll a job at the ham interval",
			Usage:       "/ham <id> [duration]",
			Access:      owner,
			Handle:      c.cmdHam,
		},
		{
			Route:       "ham off",
			Description: "leave ham mode",
			Usage:       "/ham off <id>",
			Access:      owner,
			Handle:      c.cmdHamOff,
		},
		{
			Route:       "pause",
			Description: "pause or resume all timers",
			Usage:       "/pause [on|off]",
			Access:      owner,
			Handle:      c.cmdPause,
		},
		{
			Route:       "timer",
			Description: "change a timer until the next config reload",
			Usage:       "/timer <main|ham> <duration>",
			Access:      owner,
			Handle:      c.cmdTimer,
		},
		{
			Route:       "jobs",
			Description: "list jobs",
			Usage:       "/jobs [--collecting] [--page N]",
			Access:      owner,
			Handle:      c.cmdJobs,
		},
		{
			Route:       "groups",
			Description: "list groupings",
			Usage:       "/groups",
			Access:      owner,
			Handle:      c.cmdGroups,
		},
		{
			Route:       "group start",
			Aliases:     []string{"gstart"},
			Description: "start a grouping",
			Usage:       "/group start <id> [--triggers]",
			Access:      owner,
			Handle:      c.groupOp(opStart),
		},
		{
			Route:       "group stop",
			Aliases:     []string{"gstop"},
			Description: "stop a grouping",
			Usage:       "/group stop <id> [--triggers]",
			Access:      owner,
			Handle:      c.groupOp(opStop),
		},
		{
			Route:       "group instant",
			Description: "group everything collecting now",
			Usage:       "/group instant [--triggers]",
			Access:      owner,
			Handle:      c.cmdGroupInstant,
		},
		{
			Route:       "group new",
			Description: "create a grouping",
			Usage:       "/group new <name...> [--members 1,2,3] [--ham 2,3] [--at HH:MM] [--for 2h30m] [--triggers]",
			Access:      owner,
			Handle:      c.cmdGroupNew,
		},
		{
			Route:       "group edit",
			Description: "edit a grouping",
			Usage:       "/group edit <id> [name...] [--desc text] [--add 1,2] [--ham 1] [--remove 3] [--at HH:MM|none] [--for 1h30m] [--triggers]",
			Access:      owner,
			Handle:      c.cmdGroupEdit,
		},
		{
			Route:       "group delete",
			Description: "delete a grouping",
			Usage:       "/group delete <id> [--triggers]",
			Access:      owner,
			Handle:      c.groupOp(opDelete),
		},
		{
			Route:       "status",
			Description: "daemon status",
			Usage:       "/status",
			Access:      owner,
			Handle:      c.cmdStatus,
		},
	}
}

// argID parses the positional job or grouping id at i.
func argID(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, errors.New("missing id")
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args[i], "#"))
	if err != nil || id < 0 {
		return 0, errors.Newf("invalid id %q", args[i])
	}
	return id, nil
}
