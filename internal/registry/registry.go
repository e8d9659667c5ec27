// Package registry owns every polling job: its record, its runtime state,
// its scheduler task and the limits that start, skip and stop it.
//
// The registry is single-owner. Every method must run on the event loop
// goroutine; fetch results come back through ApplyOutcome on that same
// goroutine.
package registry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/job"
	"hitgrab/internal/task/scheduler"
	logx "hitgrab/pkg/logx"
)

// Deps are the collaborators of a Registry. Sched, Store, Queue and Fetch
// are required; the rest default to no-ops.
type Deps struct {
	Sched  *scheduler.Service
	Store  Store
	Queue  *claimqueue.Tracker
	Fetch  Fetcher
	UI     UISink
	Search SearchBridge
	Notify Notifier
	Log    logx.Logger
	Now    func() time.Time

	// OnHalt runs once, on the registry's goroutine, when a store failure
	// halts the registry. It must not block.
	OnHalt func(error)
}

type entry struct {
	job.Job

	gen      uint64
	task     scheduler.Handle
	inflight int
	autoHam  bool

	// skipSnap is the record the unskip check compares against.
	skipSnap *job.Record
}

type Registry struct {
	cfg    Config
	log    logx.Logger
	now    func() time.Time
	sched  *scheduler.Service
	store  Store
	queue  *claimqueue.Tracker
	fetch  Fetcher
	ui     UISink
	search SearchBridge
	notify Notifier
	onHalt func(error)

	jobs      []*entry
	byDurable map[int64]int
	byGroup   map[string][]int
	searchGID map[string][]int
	searchRID map[string][]int

	skipped []int
	sweep   *sweep

	loggedOut   bool
	pause       pauseReason
	halted      error
	claimsSince int
	totals      Totals
}

func New(cfg Config, d Deps) *Registry {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.UI == nil {
		d.UI = nopUI{}
	}
	if d.Search == nil {
		d.Search = nopSearch{}
	}
	if d.Notify == nil {
		d.Notify = nopNotifier{}
	}
	if d.Queue == nil {
		d.Queue = claimqueue.New()
	}
	return &Registry{
		cfg:       cfg.normalized(),
		log:       d.Log,
		now:       d.Now,
		sched:     d.Sched,
		store:     d.Store,
		queue:     d.Queue,
		fetch:     d.Fetch,
		ui:        d.UI,
		search:    d.Search,
		notify:    d.Notify,
		onHalt:    d.OnHalt,
		byDurable: map[int64]int{},
		byGroup:   map[string][]int{},
		searchGID: map[string][]int{},
		searchRID: map[string][]int{},
	}
}

// Apply swaps the registry knobs.
func (r *Registry) Apply(cfg Config) { r.cfg = cfg.normalized() }

func (r *Registry) get(id int) *entry {
	if id < 0 || id >= len(r.jobs) {
		return nil
	}
	return r.jobs[id]
}

func (r *Registry) emit(kind EventKind, e *entry, reason job.StopReason, detail string) {
	ev := Event{Kind: kind, At: r.now(), Reason: reason, Detail: detail}
	if e != nil {
		cp := e.Job
		ev.Job = &cp
	}
	r.ui.Report(ev)
}

func (r *Registry) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
}

// halt stops all polling after a store failure. The registry refuses
// mutating calls afterwards.
func (r *Registry) halt(err error, op string) error {
	if r.halted == nil {
		r.halted = errors.Mark(errors.Wrapf(err, "job store %s", op), ErrHalted)
		r.log.Error("job store failed, halting", logx.String("op", op), logx.Err(err))
		r.setPause(pauseHalted, true)
		r.emit(EventHalted, nil, "", r.halted.Error())
		if r.onHalt != nil {
			r.onHalt(r.halted)
		}
	}
	return r.halted
}

// Halted returns the error that halted the registry, if any.
func (r *Registry) Halted() error { return r.halted }

// Add registers rec and returns its local id. A record without a durable id
// is written to the store first unless opt.Transient is set.
func (r *Registry) Add(rec job.Record, opt AddOptions) (int, error) {
	if r.halted != nil {
		return -1, r.halted
	}
	if err := rec.Validate(); err != nil {
		return -1, errors.Wrap(err, "add job")
	}
	if rec.Added.IsZero() {
		rec.Added = r.now()
	}
	if rec.ID == 0 && !opt.Transient {
		ctx, cancel := r.storeCtx()
		id, err := r.store.AddJob(ctx, rec)
		cancel()
		if err != nil {
			return -1, r.halt(err, "add")
		}
		rec.ID = id
	}

	e := &entry{Job: job.Job{LocalID: len(r.jobs), Record: rec}}
	e.AutoAdded = opt.AutoAdded
	r.jobs = append(r.jobs, e)
	r.index(e)
	if rec.Search != job.SearchNone && rec.ID != 0 {
		r.search.AddTrigger(job.TriggerFor(rec))
	}
	r.log.Debug("job added", logx.Int("id", e.LocalID), logx.Int64("db", rec.ID), logx.String("gid", rec.GroupID))
	r.emit(EventAdded, e, "", "")
	return e.LocalID, nil
}

func (r *Registry) index(e *entry) {
	id := e.LocalID
	if e.ID != 0 {
		r.byDurable[e.ID] = id
	}
	if e.GroupID != "" && !job.LooksLikeRequesterID(e.GroupID) {
		r.byGroup[e.GroupID] = append(r.byGroup[e.GroupID], id)
	}
	switch e.Search {
	case job.SearchGroupID:
		r.searchGID[e.GroupID] = append(r.searchGID[e.GroupID], id)
	case job.SearchRequester:
		if job.LooksLikeRequesterID(e.RequesterID) {
			r.searchRID[e.RequesterID] = append(r.searchRID[e.RequesterID], id)
		}
	}
}

func (r *Registry) unindex(e *entry) {
	id := e.LocalID
	if e.ID != 0 {
		delete(r.byDurable, e.ID)
	}
	dropID(r.byGroup, e.GroupID, id)
	dropID(r.searchGID, e.GroupID, id)
	dropID(r.searchRID, e.RequesterID, id)
}

func dropID(m map[string][]int, key string, id int) {
	list, ok := m[key]
	if !ok {
		return
	}
	out := list[:0]
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		delete(m, key)
		return
	}
	m[key] = out
}

// Remove stops and forgets a job. With deleteStored the record is also
// removed from the store. Unknown ids are ignored.
func (r *Registry) Remove(id int, deleteStored bool) error {
	e := r.get(id)
	if e == nil {
		return nil
	}
	r.StopCollecting(id, job.ReasonNone)
	r.unindex(e)
	if e.Search != job.SearchNone && e.ID != 0 {
		r.search.RemoveTrigger(e.ID)
	}
	r.jobs[id] = nil
	r.fetch.Forget(id)
	r.log.Debug("job removed", logx.Int("id", id), logx.Bool("delete_stored", deleteStored))
	r.emit(EventRemoved, e, "", "")
	if deleteStored && e.ID != 0 && r.halted == nil {
		ctx, cancel := r.storeCtx()
		err := r.store.DeleteJob(ctx, e.ID)
		cancel()
		if err != nil {
			return r.halt(err, "delete")
		}
	}
	return nil
}

// Update replaces the record of a job, keeping its durable id, and re-runs
// the unskip check against the new limits.
func (r *Registry) Update(id int, rec job.Record) error {
	e := r.get(id)
	if e == nil {
		return ErrUnknownJob
	}
	if r.halted != nil {
		return r.halted
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, "update job")
	}
	rec.ID = e.ID
	rec.Added = e.Added
	if e.ID != 0 {
		ctx, cancel := r.storeCtx()
		err := r.store.UpdateJob(ctx, rec)
		cancel()
		if err != nil {
			return r.halt(err, "update")
		}
	}
	r.replace(id, e, rec)
	return nil
}

// Reload replaces a job's record with the stored copy, keeping its runtime
// state. Jobs that were never stored are left alone.
func (r *Registry) Reload(id int) (job.Job, error) {
	e := r.get(id)
	if e == nil {
		return job.Job{}, ErrUnknownJob
	}
	if r.halted != nil {
		return job.Job{}, r.halted
	}
	if e.ID == 0 {
		return e.Job, nil
	}
	ctx, cancel := r.storeCtx()
	rec, err := r.store.GetJob(ctx, e.ID)
	cancel()
	if err != nil {
		return job.Job{}, r.halt(err, "get")
	}
	rec.ID = e.ID
	if err := rec.Validate(); err != nil {
		return job.Job{}, errors.Wrapf(err, "stored job %d", e.ID)
	}
	r.replace(id, e, rec)
	return e.Job, nil
}

func (r *Registry) replace(id int, e *entry, rec job.Record) {
	durationChanged := rec.Duration != e.Duration
	r.unindex(e)
	if e.Search != job.SearchNone && e.ID != 0 {
		r.search.RemoveTrigger(e.ID)
	}
	e.Record = rec
	r.index(e)
	if e.Search != job.SearchNone && e.ID != 0 {
		r.search.AddTrigger(job.TriggerFor(rec))
	}
	if e.Skipped {
		r.checkSkipped(e, &rec)
	}
	if durationChanged {
		r.ChangeDuration(id)
	}
}

// StartCollecting begins polling a job. It returns false when a limit or the
// disabled flag prevents it. A job over a queue limit starts skipped.
func (r *Registry) StartCollecting(id int, opt StartOptions) bool {
	e := r.get(id)
	if e == nil || r.halted != nil {
		return false
	}
	if e.task != 0 {
		return true
	}
	e.FetchedSession = 0
	reason := r.CheckIfLimited(id, false)
	if e.Disabled {
		reason = job.ReasonDisabled
	}
	if (reason == job.ReasonNone || reason.Skips()) && r.groupBusy(e) {
		reason = job.ReasonDuplicate
	}
	if reason != job.ReasonNone && !reason.Skips() {
		if e.Skipped {
			e.Skipped = false
			e.skipSnap = nil
			r.dropSkipped(id)
		}
		r.log.Debug("start refused", logx.Int("id", id), logx.String("reason", string(reason)))
		r.emit(EventStopped, e, reason, "")
		return false
	}

	e.gen++
	e.task = r.sched.AddTask(scheduler.TaskSpec{
		Name:         e.Name(),
		Owner:        id,
		OnTick:       r.tick,
		OnRemoved:    r.expired,
		StartHam:     opt.Ham,
		TempHam:      opt.TempHam,
		Duration:     e.Duration,
		TempDuration: opt.TempDuration,
		StartSkipped: e.Skipped,
	})
	e.Collecting = true
	e.Searching = false
	e.autoHam = e.AutoGoHam
	if e.Search != job.SearchNone && e.ID != 0 {
		r.search.SetSearchActive(e.ID, false)
	}
	r.log.Info("collecting", logx.Int("id", id), logx.String("gid", e.GroupID), logx.String("title", e.Name()))
	r.emit(EventStarted, e, "", "")
	return true
}

// groupBusy reports whether another job on the same group is collecting.
func (r *Registry) groupBusy(e *entry) bool {
	for _, id := range r.byGroup[e.GroupID] {
		if o := r.get(id); o != nil && o != e && o.Collecting {
			return true
		}
	}
	return false
}

// StopCollecting ends polling of a job. It is idempotent: a second call
// emits nothing.
func (r *Registry) StopCollecting(id int, reason job.StopReason) {
	e := r.get(id)
	if e == nil {
		return
	}
	if e.task != 0 {
		r.sched.RemoveTask(e.task)
		e.task = 0
	}
	wasCollecting := e.Collecting
	if wasCollecting {
		e.gen++
	}
	e.inflight = 0
	e.Collecting = false
	e.autoHam = false
	if e.Skipped {
		e.Skipped = false
		e.skipSnap = nil
		r.dropSkipped(id)
	}
	// A job already stopped and not handed to its trigger has nothing left to disable.
	if (wasCollecting || e.Searching) && e.Search != job.SearchNone && e.ID != 0 && reason.Disables() {
		e.Searching = false
		r.search.SetSearchDisabled(e.ID, true)
		r.emit(EventSearchDisabled, e, reason, "")
	}
	if !wasCollecting {
		return
	}
	if reason == job.ReasonDaily {
		r.notify.DailyLimit(e.Job)
	}
	r.log.Info("stopped collecting", logx.Int("id", id), logx.String("reason", string(reason)))
	r.emit(EventStopped, e, reason, "")
}

// expired runs when a job's scheduler task used up its duration.
func (r *Registry) expired(id int) {
	e := r.get(id)
	if e == nil {
		return
	}
	e.task = 0
	handoff := e.Search != job.SearchNone && e.ID != 0 && (!e.OnceOnly || e.Accepted == 0)
	r.StopCollecting(id, job.ReasonExpired)
	switch {
	case handoff:
		e.Searching = true
		r.search.SetSearchActive(e.ID, true)
		r.emit(EventSearching, e, "", "")
	case e.AutoAdded && e.ID == 0:
		_ = r.Remove(id, false)
	}
}

// ChangeDuration pushes the job's configured duration to its running task.
func (r *Registry) ChangeDuration(id int) {
	e := r.get(id)
	if e == nil || e.task == 0 {
		return
	}
	r.sched.ChangeDuration(e.task, e.Duration)
}

// GoHam switches a collecting job to the ham interval.
func (r *Registry) GoHam(id int, d time.Duration) bool {
	e := r.get(id)
	if e == nil || e.task == 0 || e.Skipped {
		return false
	}
	r.sched.GoHam(e.task, d)
	return true
}

func (r *Registry) HamOff(id int) {
	if e := r.get(id); e != nil && e.task != 0 {
		r.sched.HamOff(e.task)
	}
}

// ResetDaily clears the daily accept counters.
func (r *Registry) ResetDaily() {
	for _, e := range r.jobs {
		if e != nil {
			e.DailyAccepted = 0
		}
	}
	r.log.Info("daily counters reset")
}

// Pause is the user's pause switch.
func (r *Registry) Pause(on bool) { r.setPause(pauseUser, on) }

func (r *Registry) setPause(reason pauseReason, on bool) {
	before := r.pause != 0
	if on {
		r.pause |= reason
	} else {
		r.pause &^= reason
	}
	after := r.pause != 0
	r.sched.PauseAll(after)
	if before == after {
		return
	}
	if after {
		r.emit(EventPaused, nil, "", "")
	} else {
		r.emit(EventResumed, nil, "", "")
	}
}

func (r *Registry) Paused() bool { return r.pause != 0 }

func (r *Registry) LoggedOut() bool { return r.loggedOut }

// Get returns a copy of a job.
func (r *Registry) Get(id int) (job.Job, bool) {
	e := r.get(id)
	if e == nil {
		return job.Job{}, false
	}
	return e.Job, true
}

// LocalID resolves a durable id.
func (r *Registry) LocalID(durable int64) (int, bool) {
	id, ok := r.byDurable[durable]
	return id, ok
}

// List returns copies of every job in local id order.
func (r *Registry) List() []job.Job {
	out := make([]job.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		if e != nil {
			out = append(out, e.Job)
		}
	}
	return out
}

func (r *Registry) Totals() Totals { return r.totals }
