// Package search keeps the search triggers of search-mode jobs and matches
// them against listings of available work.
package search

import (
	"sort"
	"time"

	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

// Listing is one available group from the search page.
type Listing struct {
	GroupID       string
	RequesterID   string
	RequesterName string
	Title         string
	Description   string
	Price         float64
	HitsAvailable int
	AssignedTime  int
}

func (l Listing) Descriptor() job.Descriptor {
	return job.Descriptor{
		GroupID:       l.GroupID,
		RequesterID:   l.RequesterID,
		RequesterName: l.RequesterName,
		Title:         l.Title,
		Description:   l.Description,
		Price:         l.Price,
		AssignedTime:  l.AssignedTime,
		HitsAvailable: l.HitsAvailable,
	}
}

// FoundFunc receives a match. It runs on the caller's goroutine.
type FoundFunc func(jobID int64, found job.Descriptor)

type Config struct {
	// Cooldown suppresses repeat matches of the same trigger and group.
	Cooldown time.Duration
}

type trigger struct {
	job.Trigger
	active    bool
	lastFound map[string]time.Time
	found     int
}

// Status is a read-only view of a trigger.
type Status struct {
	job.Trigger
	Active bool `json:"active"`
	Found  int  `json:"found"`
}

// Bridge is owned by the event loop and is not safe for concurrent use.
type Bridge struct {
	cfg     Config
	log     logx.Logger
	now     func() time.Time
	onFound FoundFunc

	triggers map[int64]*trigger
}

func New(cfg Config, log logx.Logger, onFound FoundFunc) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	return &Bridge{cfg: cfg, log: log, now: time.Now, onFound: onFound, triggers: map[int64]*trigger{}}
}

// Apply swaps the cooldown. Matches already recorded keep their time.
func (b *Bridge) Apply(cfg Config) {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	b.cfg = cfg
}

// SetFound replaces the match callback.
func (b *Bridge) SetFound(f FoundFunc) { b.onFound = f }

// AddTrigger registers (or refreshes) the trigger of a job. New triggers
// start searching unless disabled.
func (b *Bridge) AddTrigger(t job.Trigger) {
	if old, ok := b.triggers[t.JobID]; ok {
		old.Trigger = t
		if t.Disabled {
			old.active = false
		}
		return
	}
	b.triggers[t.JobID] = &trigger{Trigger: t, active: !t.Disabled, lastFound: map[string]time.Time{}}
	b.log.Debug("trigger added", logx.Int64("job", t.JobID), logx.String("mode", string(t.Mode)))
}

func (b *Bridge) RemoveTrigger(jobID int64) {
	delete(b.triggers, jobID)
}

// SetSearchActive turns searching on or off. A disabled trigger stays off.
func (b *Bridge) SetSearchActive(jobID int64, active bool) {
	t := b.triggers[jobID]
	if t == nil {
		return
	}
	t.active = active && !t.Disabled
}

// SetSearchDisabled disables a trigger; re-enabling also resumes searching.
func (b *Bridge) SetSearchDisabled(jobID int64, disabled bool) {
	t := b.triggers[jobID]
	if t == nil {
		return
	}
	t.Disabled = disabled
	t.active = !disabled
	b.log.Debug("trigger state", logx.Int64("job", jobID), logx.Bool("disabled", disabled))
}

// ActiveCount is the number of triggers currently searching.
func (b *Bridge) ActiveCount() int {
	n := 0
	for _, t := range b.triggers {
		if t.active {
			n++
		}
	}
	return n
}

// Match checks listings against every searching trigger and reports each
// new match once per cooldown. It returns the number of matches reported.
func (b *Bridge) Match(listings []Listing) int {
	if len(listings) == 0 || b.ActiveCount() == 0 {
		return 0
	}
	now := b.now()
	ids := make([]int64, 0, len(b.triggers))
	for id := range b.triggers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	hits := 0
	for _, id := range ids {
		t := b.triggers[id]
		if t == nil || !t.active {
			continue
		}
		for _, l := range listings {
			if !t.matches(l) {
				continue
			}
			if at, ok := t.lastFound[l.GroupID]; ok && now.Sub(at) < b.cfg.Cooldown {
				continue
			}
			t.lastFound[l.GroupID] = now
			t.found++
			hits++
			b.log.Info("trigger matched", logx.Int64("job", id), logx.String("gid", l.GroupID), logx.String("title", l.Title))
			if b.onFound != nil {
				b.onFound(id, l.Descriptor())
			}
			// The callback may have changed this trigger.
			if t = b.triggers[id]; t == nil || !t.active {
				break
			}
		}
	}
	return hits
}

func (t *trigger) matches(l Listing) bool {
	if l.HitsAvailable == 0 {
		return false
	}
	switch t.Mode {
	case job.SearchGroupID:
		return t.GroupID != "" && l.GroupID == t.GroupID
	case job.SearchRequester:
		return t.RequesterID != "" && l.RequesterID == t.RequesterID
	}
	return false
}

// Exists reports whether a trigger is registered for jobID.
func (b *Bridge) Exists(jobID int64) bool {
	_, ok := b.triggers[jobID]
	return ok
}

// IsCollecting reports whether the trigger is searching.
func (b *Bridge) IsCollecting(jobID int64) bool {
	t := b.triggers[jobID]
	return t != nil && t.active
}

// StartMember enables a trigger on behalf of a grouping.
func (b *Bridge) StartMember(jobID int64, _ bool) { b.SetSearchDisabled(jobID, false) }

// StopMember disables a trigger on behalf of a grouping.
func (b *Bridge) StopMember(jobID int64) { b.SetSearchDisabled(jobID, true) }

// CollectingIDs lists the triggers currently searching.
func (b *Bridge) CollectingIDs() []int64 {
	var out []int64
	for id, t := range b.triggers {
		if t.active {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bridge) Triggers() []Status {
	out := make([]Status, 0, len(b.triggers))
	for _, t := range b.triggers {
		out = append(out, Status{Trigger: t.Trigger, Active: t.active, Found: t.found})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
