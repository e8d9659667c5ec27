package registry

import (
	"time"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/job"
	"hitgrab/internal/task/scheduler"
	logx "hitgrab/pkg/logx"
)

// CheckIfLimited evaluates the job's limits in a fixed order and returns the
// first that applies. Stop reasons stop the job; queue-limit reasons mark it
// skipped instead. A previously skipped job that is now clear is unskipped
// and the result is empty.
func (r *Registry) CheckIfLimited(id int, accepted bool) job.StopReason {
	e := r.get(id)
	if e == nil {
		return job.ReasonNone
	}
	var stop job.StopReason
	switch {
	case accepted && e.OnceOnly:
		stop = job.ReasonOnce
	case accepted && e.AutoAdded && e.HitsAvailable == 1:
		stop = job.ReasonOneHit
	case e.DailyLimit > 0 && e.DailyAccepted >= e.DailyLimit:
		stop = job.ReasonDaily
	case e.LimitFetches > 0 && e.FetchedSession >= e.LimitFetches:
		stop = job.ReasonFetched
	case e.Skipped:
		if !r.checkSkipped(e, nil) {
			return r.skipReason(e.skipSnap)
		}
		return job.ReasonNone
	default:
		return r.checkQueueLimit(e)
	}
	if e.Collecting {
		r.StopCollecting(id, stop)
	}
	return stop
}

// queueOver reports which queue limit of rec the live claim queue exceeds.
func (r *Registry) queueOver(rec *job.Record) job.StopReason {
	if rec == nil {
		return job.ReasonNone
	}
	if rec.LimitTotal > 0 && r.queue.Total() >= rec.LimitTotal {
		return job.ReasonSkipTotal
	}
	if rec.LimitPerGroup > 0 && r.queue.CountGroup(rec.GroupID) >= rec.LimitPerGroup {
		return job.ReasonSkipGroup
	}
	return job.ReasonNone
}

func (r *Registry) skipReason(rec *job.Record) job.StopReason {
	if reason := r.queueOver(rec); reason != job.ReasonNone {
		return reason
	}
	return job.ReasonSkipTotal
}

// checkQueueLimit skips a job whose group or the whole claim queue is at its
// limit. A skipped job keeps its task but stops fetching.
func (r *Registry) checkQueueLimit(e *entry) job.StopReason {
	if e.Skipped {
		return r.skipReason(e.skipSnap)
	}
	reason := r.queueOver(&e.Record)
	if reason == job.ReasonNone {
		return job.ReasonNone
	}
	if e.task != 0 {
		r.sched.HamOff(e.task)
		r.sched.Skip(e.task)
	}
	e.Skipped = true
	snap := e.Record
	e.skipSnap = &snap
	r.skipped = append(r.skipped, e.LocalID)
	r.log.Debug("job skipped", logx.Int("id", e.LocalID), logx.String("reason", string(reason)))
	r.emit(EventSkipped, e, reason, "")
	return reason
}

// checkSkipped unskips a job once both queue limits are clear. rec, when
// given, replaces the snapshot taken at skip time.
func (r *Registry) checkSkipped(e *entry, rec *job.Record) bool {
	if rec != nil {
		snap := *rec
		e.skipSnap = &snap
	}
	if e.skipSnap == nil {
		snap := e.Record
		e.skipSnap = &snap
	}
	if r.queueOver(e.skipSnap) != job.ReasonNone {
		return false
	}
	if e.task != 0 {
		r.sched.Unskip(e.task)
	}
	e.Skipped = false
	e.skipSnap = nil
	r.dropSkipped(e.LocalID)
	r.log.Debug("job unskipped", logx.Int("id", e.LocalID))
	r.emit(EventUnskipped, e, "", "")
	return true
}

func (r *Registry) dropSkipped(id int) {
	out := r.skipped[:0]
	for _, x := range r.skipped {
		if x != id {
			out = append(out, x)
		}
	}
	r.skipped = out
}

// Skipped returns the local ids waiting for the claim queue to drain.
func (r *Registry) Skipped() []int { return append([]int(nil), r.skipped...) }

// sweep re-checks skipped jobs one at a time, spaced by Config.SweepSpacing.
type sweep struct {
	handle    scheduler.Handle
	remaining int
	cancelled bool
}

// RecheckSkipped starts a sweep over the skipped list unless one is running.
// Each job still over its limit goes back to the end of the list; the sweep
// visits at most as many entries as the list held when it started.
func (r *Registry) RecheckSkipped() {
	if r.sweep != nil || len(r.skipped) == 0 {
		return
	}
	sw := &sweep{remaining: len(r.skipped)}
	r.sweep = sw
	sw.handle = r.sched.Every("skip-sweep", 0, r.cfg.SweepSpacing, func() bool {
		if sw.cancelled || sw.remaining <= 0 || len(r.skipped) == 0 {
			r.sweep = nil
			return false
		}
		sw.remaining--
		id := r.skipped[0]
		r.skipped = r.skipped[1:]
		if e := r.get(id); e != nil && e.Skipped {
			if !r.checkSkipped(e, nil) {
				r.skipped = append(r.skipped, id)
			}
		}
		if sw.remaining <= 0 || len(r.skipped) == 0 {
			r.sweep = nil
			return false
		}
		return true
	})
}

// CancelSweep stops a running sweep after its current step.
func (r *Registry) CancelSweep() {
	if r.sweep == nil {
		return
	}
	r.sweep.cancelled = true
	r.sched.RemoveTask(r.sweep.handle)
	r.sweep = nil
}

// GotNewQueue installs a fresh claim queue listing. A listing proves the
// session is signed in; skipped jobs are re-checked and a temporary pause is
// lifted once the queue is small again.
func (r *Registry) GotNewQueue(items []claimqueue.Item, at time.Time) {
	r.queue.Replace(items, at)
	if r.loggedOut {
		r.loggedOut = false
		r.setPause(pauseLoggedOut, false)
		r.log.Info("signed in again")
		r.emit(EventLoggedIn, nil, "", "")
	}
	r.RecheckSkipped()
	if r.pause&pauseTemp != 0 && r.queue.Total() < r.cfg.UnpauseBelow {
		r.setPause(pauseTemp, false)
	}
	r.emit(EventQueue, nil, "", "")
}

// QueueSignedOut is called when the queue listing shows a signed-out session.
func (r *Registry) QueueSignedOut() { r.nowLoggedOut() }

func (r *Registry) nowLoggedOut() {
	if r.loggedOut {
		return
	}
	r.loggedOut = true
	r.setPause(pauseLoggedOut, true)
	r.log.Warn("signed out, timers paused")
	r.emit(EventLoggedOut, nil, "", "")
}
