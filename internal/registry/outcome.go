package registry

import (
	"time"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/classify"
	"hitgrab/internal/job"
	logx "hitgrab/pkg/logx"
)

// limitedFetch reports whether ticks of a job are dropped while its own
// fetch is outstanding. Ticks of other jobs go to the fetcher, which
// refuses overlapping fetches of the same job.
func limitedFetch(e *entry) bool {
	return e.OnceOnly || e.LimitTotal > 0 || e.LimitPerGroup > 0
}

// tick is the scheduler callback of a collecting job.
func (r *Registry) tick(id int, _ time.Duration) {
	e := r.get(id)
	if e == nil || e.task == 0 || r.halted != nil {
		return
	}
	if r.checkQueueLimit(e) != job.ReasonNone {
		return
	}
	if e.inflight > 0 && limitedFetch(e) {
		r.log.Trace("fetch outstanding, tick dropped", logx.Int("id", id))
		return
	}
	if r.fetch == nil {
		return
	}
	err := r.fetch.Fetch(FetchRequest{LocalID: id, Gen: e.gen, GroupID: e.GroupID, URL: job.AcceptURL(e.GroupID)})
	if err != nil {
		r.log.Debug("fetch not submitted", logx.Int("id", id), logx.Err(err))
		return
	}
	e.inflight++
}

// ApplyOutcome consumes the result of a fetch issued by tick. Results for
// removed jobs or from an earlier collecting session are discarded.
func (r *Registry) ApplyOutcome(id int, gen uint64, out classify.Outcome) {
	e := r.get(id)
	if e == nil || e.gen != gen || !e.Collecting {
		r.log.Trace("stale fetch result discarded", logx.Int("id", id), logx.Uint64("gen", gen))
		return
	}
	if e.inflight > 0 {
		e.inflight--
	}

	now := r.now()
	if !e.LastFetch.IsZero() {
		e.LastElapsed = now.Sub(e.LastFetch)
	}
	e.LastFetch = now
	e.FetchedSession++
	e.FetchedTotal++
	r.totals.Fetched++

	res := classify.Classify(out)
	if res.Mode == classify.Claimed {
		r.claimed(e, res)
		return
	}

	stopped := r.CheckIfLimited(id, false)
	switch res.Mode {
	case classify.LoggedOut:
		r.nowLoggedOut()
	case classify.TransientEmpty:
		r.totals.PRE++
	case classify.Throttled, classify.QueueFull:
		r.setPause(pauseTemp, true)
		if res.Mode == classify.Throttled && res.Detail == "cookies too large" {
			r.totals.Errors++
		}
		r.log.Warn("temporarily paused", logx.String("mode", res.Mode.String()), logx.String("detail", res.Detail))
		r.notify.Throttled(res.Detail)
	case classify.NoMoreAvailable:
		e.NoMore++
		r.totals.NoMore++
	case classify.NotQualified:
		if stopped == job.ReasonNone || stopped.Skips() {
			r.StopCollecting(id, job.ReasonNoQual)
		}
	case classify.Blocked:
		r.StopCollecting(id, job.ReasonBlocked)
	case classify.NotFound:
		r.totals.Errors++
		r.StopCollecting(id, job.ReasonNotValid)
	case classify.Captcha:
		r.totals.Captchas++
		r.claimsSince = 0
		r.log.Warn("captcha page", logx.Int("id", id))
		r.notify.Captcha(e.Job)
	default:
		r.totals.Errors++
		r.log.Debug("unrecognised result", logx.Int("id", id), logx.String("detail", res.Detail))
	}
	ev := Event{Kind: EventFetched, At: now, Mode: res.Mode, Detail: res.Detail}
	cp := e.Job
	ev.Job = &cp
	r.ui.Report(ev)
}

// AbandonFetch releases a fetch that produced no response, such as one the
// pool dropped before it ran. Nothing is counted.
func (r *Registry) AbandonFetch(id int, gen uint64) {
	e := r.get(id)
	if e == nil || e.gen != gen {
		return
	}
	if e.inflight > 0 {
		e.inflight--
	}
}

func (r *Registry) claimed(e *entry, res classify.Result) {
	e.DailyAccepted++
	e.Accepted++
	r.totals.Claimed++
	r.claimsSince++
	if r.cfg.CaptchaAt > 0 && r.claimsSince >= r.cfg.CaptchaAt {
		r.log.Info("captcha expected soon", logx.Int("claims", r.claimsSince))
	}

	r.queue.Added(claimqueue.Item{
		AssignmentID:  res.AssignmentID,
		GroupID:       e.GroupID,
		RequesterID:   e.RequesterID,
		RequesterName: e.RequesterName,
		Title:         e.Title,
		Price:         e.Price,
	})
	if e.task != 0 {
		r.sched.ResetStarted(e.task)
		if e.autoHam {
			d := e.HamDuration
			if d <= 0 {
				d = r.cfg.AutoHam
			}
			r.sched.GoHam(e.task, d)
		}
	}
	r.log.Info("claimed", logx.Int("id", e.LocalID), logx.String("gid", e.GroupID), logx.String("title", e.Name()), logx.Int("daily", e.DailyAccepted))
	r.notify.Claimed(e.Job)

	ev := Event{Kind: EventClaimed, At: r.now(), Mode: classify.Claimed, Detail: res.AssignmentID}
	cp := e.Job
	ev.Job = &cp
	r.ui.Report(ev)

	r.CheckIfLimited(e.LocalID, true)
}

// CheckExisting returns the job already polling groupID. With search set to
// SearchGroupID a gid search job wins; otherwise a non-search job is
// preferred when both kinds exist.
func (r *Registry) CheckExisting(groupID string, search job.SearchMode) (int, bool) {
	sg := r.searchGID[groupID]
	pg := r.byGroup[groupID]
	switch {
	case len(sg) > 0 && search == job.SearchGroupID:
		return sg[0], true
	case len(sg) > 0 && len(pg) > 0:
		for _, id := range pg {
			if e := r.get(id); e != nil && e.Search == job.SearchNone {
				return id, true
			}
		}
		return -1, false
	case len(pg) > 0:
		return pg[0], true
	}
	return -1, false
}

// FoundByTrigger starts collection for a hit a search trigger found. A gid
// trigger restarts its own job; a requester trigger reuses a job already on
// that group or adds a transient one.
func (r *Registry) FoundByTrigger(triggerJob int64, found job.Descriptor) (int, error) {
	if r.halted != nil {
		return -1, r.halted
	}
	lid, ok := r.byDurable[triggerJob]
	src := r.get(lid)
	if !ok || src == nil {
		return -1, ErrUnknownJob
	}
	if src.Disabled {
		return -1, nil
	}

	target := lid
	if src.Search == job.SearchRequester {
		if id, ok := r.CheckExisting(found.GroupID, job.SearchNone); ok {
			target = id
		} else {
			rec := job.Record{Descriptor: found}
			rec.OnceOnly = src.OnceOnly
			rec.LimitPerGroup = src.LimitPerGroup
			rec.LimitTotal = src.LimitTotal
			rec.DailyLimit = src.DailyLimit
			rec.AutoGoHam = src.AutoGoHam
			id, err := r.Add(rec, AddOptions{AutoAdded: true, Transient: true})
			if err != nil {
				return -1, err
			}
			target = id
		}
	} else if found.Title != "" {
		src.Title = found.Title
		src.Price = found.Price
		src.HitsAvailable = found.HitsAvailable
	}

	e := r.get(target)
	e.HitsAvailable = found.HitsAvailable
	r.log.Info("trigger found work", logx.Int64("trigger", triggerJob), logx.Int("id", target), logx.String("gid", found.GroupID))
	r.StartCollecting(target, StartOptions{
		Ham:          r.cfg.SearchHam > 0,
		TempHam:      r.cfg.SearchHam,
		TempDuration: r.cfg.SearchDuration,
	})
	return target, nil
}
