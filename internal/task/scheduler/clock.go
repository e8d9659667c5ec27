package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "hitgrab/pkg/logx"
)

// Clock fires named wall-clock triggers. Callbacks run on cron's goroutines;
// callers hand the work to their own owner goroutine.
type Clock struct {
	mu     sync.Mutex
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	defs   []clockDef
}

type clockDef struct {
	name    string
	spec    string
	fn      func()
	entryID cron.EntryID
}

// ClockEntry is a read-only view of a registered trigger.
type ClockEntry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

func NewClock(timezone string, log logx.Logger) *Clock {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Clock{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loadLocation(timezone, log),
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone triggers are evaluated in.
func (c *Clock) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loc
}

// Add registers (or replaces, by name) a trigger. spec accepts cron
// expressions and descriptors like "@every 1s" or "@midnight".
func (c *Clock) Add(name, spec string, fn func()) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if fn == nil {
		return errors.New("callback required")
	}
	if _, err := c.parser.Parse(spec); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(name)
	c.defs = append(c.defs, clockDef{name: name, spec: spec, fn: fn})
	if c.c != nil {
		return c.registerLocked(&c.defs[len(c.defs)-1])
	}
	return nil
}

func (c *Clock) Remove(name string) {
	c.mu.Lock()
	c.removeLocked(name)
	c.mu.Unlock()
}

func (c *Clock) removeLocked(name string) {
	for i := range c.defs {
		if c.defs[i].name != name {
			continue
		}
		if c.c != nil && c.defs[i].entryID != 0 {
			c.c.Remove(c.defs[i].entryID)
		}
		c.defs = append(c.defs[:i], c.defs[i+1:]...)
		return
	}
}

func (c *Clock) registerLocked(d *clockDef) error {
	name, fn := d.name, d.fn
	id, err := c.c.AddFunc(d.spec, func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("clock trigger panic", logx.String("name", name), logx.Any("panic", r))
			}
		}()
		fn()
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c != nil {
		return
	}
	c.c = cron.New(cron.WithParser(c.parser), cron.WithLocation(c.loc))
	for i := range c.defs {
		if err := c.registerLocked(&c.defs[i]); err != nil {
			c.log.Error("clock register failed", logx.String("name", c.defs[i].name), logx.Err(err))
		}
	}
	c.c.Start()
	c.log.Info("clock started", logx.String("tz", c.loc.String()), logx.Int("triggers", len(c.defs)))
}

// Stop waits for running callbacks until ctx is done.
func (c *Clock) Stop(ctx context.Context) {
	c.mu.Lock()
	cr := c.c
	c.c = nil
	for i := range c.defs {
		c.defs[i].entryID = 0
	}
	c.mu.Unlock()
	if cr == nil {
		return
	}
	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
	}
}

// SetTimezone restarts the cron runner in the new zone if it is running.
func (c *Clock) SetTimezone(tz string) {
	loc := loadLocation(tz, c.log)
	c.mu.Lock()
	same := c.loc.String() == loc.String()
	c.loc = loc
	running := c.c != nil
	c.mu.Unlock()
	if same || !running {
		return
	}
	c.Stop(context.Background())
	c.Start()
}

func (c *Clock) Entries() []ClockEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ClockEntry, 0, len(c.defs))
	for _, d := range c.defs {
		e := ClockEntry{Name: d.name, Spec: d.spec}
		if c.c != nil && d.entryID != 0 {
			ce := c.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}
