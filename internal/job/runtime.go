package job

import "time"

// StopReason names why collection stopped. An empty reason is a plain stop.
type StopReason string

const (
	ReasonNone        StopReason = ""
	ReasonOnce        StopReason = "once"
	ReasonOneHit      StopReason = "One Hit Available"
	ReasonDaily       StopReason = "Daily Accept Limit"
	ReasonFetched     StopReason = "Fetched Limit"
	ReasonManual      StopReason = "manual"
	ReasonNoQual      StopReason = "noQual"
	ReasonBlocked     StopReason = "blocked"
	ReasonNotValid    StopReason = "notValid"
	ReasonExpired     StopReason = "expired"
	ReasonRemoved     StopReason = "removed"
	ReasonDisabled    StopReason = "disabled"
	ReasonSkipGroup   StopReason = "group queue limit"
	ReasonSkipTotal   StopReason = "total queue limit"
	ReasonGroupingOff StopReason = "grouping"
	ReasonDuplicate   StopReason = "group already collecting"
)

// Disables reports whether stopping for this reason also disables the
// job's search trigger counterpart.
func (r StopReason) Disables() bool {
	switch r {
	case ReasonOnce, ReasonDaily, ReasonFetched, ReasonManual, ReasonNoQual, ReasonBlocked:
		return true
	}
	return false
}

// Skips reports whether the reason is a queue-limit skip rather than a stop.
func (r StopReason) Skips() bool {
	return r == ReasonSkipGroup || r == ReasonSkipTotal
}

// Stats are the per-job counters kept while the process runs. DailyAccepted
// only grows between daily resets.
type Stats struct {
	DailyAccepted  int           `json:"dailyAccepted"`
	Accepted       int           `json:"accepted"`
	FetchedSession int           `json:"fetchedSession"`
	FetchedTotal   int           `json:"fetchedTotal"`
	NoMore         int           `json:"noMore"`
	LastFetch      time.Time     `json:"lastFetch,omitempty"`
	LastElapsed    time.Duration `json:"lastElapsed,omitempty"`
}

// State is the runtime flag set of a job.
type State struct {
	Collecting bool `json:"collecting"`
	Skipped    bool `json:"skipped"`
	Searching  bool `json:"searching"`
	AutoAdded  bool `json:"autoAdded"`
}

// Job is a record plus its runtime state, addressed by a session-local id.
type Job struct {
	LocalID int
	Record
	State
	Stats
}

// Trigger is the view of a search-mode job handed to the search side.
type Trigger struct {
	JobID         int64      `json:"jobId"`
	Mode          SearchMode `json:"mode"`
	GroupID       string     `json:"groupId"`
	RequesterID   string     `json:"reqId"`
	RequesterName string     `json:"reqName"`
	Title         string     `json:"title"`
	Disabled      bool       `json:"disabled"`
}

// TriggerFor builds the search trigger view of rec.
func TriggerFor(rec Record) Trigger {
	return Trigger{
		JobID:         rec.ID,
		Mode:          rec.Search,
		GroupID:       rec.GroupID,
		RequesterID:   rec.RequesterID,
		RequesterName: rec.RequesterName,
		Title:         rec.Name(),
		Disabled:      rec.Disabled,
	}
}
