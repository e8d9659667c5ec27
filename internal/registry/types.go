package registry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/classify"
	"hitgrab/internal/job"
)

var (
	// ErrHalted is returned once a store failure stopped the registry.
	ErrHalted     = errors.New("registry halted")
	ErrUnknownJob = errors.New("unknown job")
)

// Store persists job records.
type Store interface {
	AddJob(ctx context.Context, rec job.Record) (int64, error)
	UpdateJob(ctx context.Context, rec job.Record) error
	DeleteJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (job.Record, error)
}

// FetchRequest asks the fetch side to poll a job once. Once Fetch accepts
// it, exactly one of Registry.ApplyOutcome or Registry.AbandonFetch must
// follow.
type FetchRequest struct {
	LocalID int
	Gen     uint64
	GroupID string
	URL     string
}

type Fetcher interface {
	Fetch(req FetchRequest) error
	// Forget is called once a job is removed; its local id is never reused.
	Forget(localID int)
}

// SearchBridge is the search trigger side of search-mode jobs.
type SearchBridge interface {
	AddTrigger(t job.Trigger)
	RemoveTrigger(jobID int64)
	SetSearchActive(jobID int64, active bool)
	SetSearchDisabled(jobID int64, disabled bool)
}

// Notifier raises user-facing alerts.
type Notifier interface {
	Claimed(j job.Job)
	Throttled(detail string)
	Captcha(j job.Job)
	DailyLimit(j job.Job)
}

// UISink receives every state change. It must not block.
type UISink interface {
	Report(ev Event)
}

type EventKind string

const (
	EventAdded          EventKind = "job.added"
	EventRemoved        EventKind = "job.removed"
	EventStarted        EventKind = "job.started"
	EventStopped        EventKind = "job.stopped"
	EventSkipped        EventKind = "job.skipped"
	EventUnskipped      EventKind = "job.unskipped"
	EventClaimed        EventKind = "job.claimed"
	EventFetched        EventKind = "job.fetched"
	EventSearching      EventKind = "job.searching"
	EventSearchDisabled EventKind = "job.search_disabled"
	EventLoggedOut      EventKind = "account.logged_out"
	EventLoggedIn       EventKind = "account.logged_in"
	EventPaused         EventKind = "timers.paused"
	EventResumed        EventKind = "timers.resumed"
	EventQueue          EventKind = "queue.updated"
	EventHalted         EventKind = "registry.halted"
)

// Event describes one state change. Job is a copy taken at emit time.
type Event struct {
	Kind   EventKind
	At     time.Time
	Job    *job.Job
	Reason job.StopReason
	Mode   classify.Mode
	Detail string
}

// Config holds registry knobs.
type Config struct {
	// CaptchaAt is the claim count after which a captcha is expected; zero disables.
	CaptchaAt int
	// SweepSpacing separates skip re-checks.
	SweepSpacing time.Duration
	// UnpauseBelow lifts a temporary pause once the claim queue is smaller.
	UnpauseBelow int
	// SearchDuration bounds collection started by a search trigger.
	SearchDuration time.Duration
	// SearchHam is the ham period at the start of a trigger-started collection.
	SearchHam time.Duration
	// AutoHam is the ham period after a claim for jobs with AutoGoHam and no
	// HamDuration of their own.
	AutoHam time.Duration
	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.SweepSpacing <= 0 {
		c.SweepSpacing = 200 * time.Millisecond
	}
	if c.UnpauseBelow <= 0 {
		c.UnpauseBelow = 25
	}
	if c.SearchDuration <= 0 {
		c.SearchDuration = 12 * time.Second
	}
	if c.SearchHam < 0 {
		c.SearchHam = 0
	}
	if c.AutoHam <= 0 {
		c.AutoHam = 6 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	return c
}

// AddOptions tune Add.
type AddOptions struct {
	// AutoAdded marks a job created by a search trigger.
	AutoAdded bool
	// Transient jobs are never written to the store.
	Transient bool
}

// StartOptions tune StartCollecting.
type StartOptions struct {
	Ham          bool
	TempDuration time.Duration
	TempHam      time.Duration
}

// Totals are process-wide counters.
type Totals struct {
	Fetched  int `json:"fetched"`
	Claimed  int `json:"claimed"`
	NoMore   int `json:"noMore"`
	PRE      int `json:"pre"`
	Errors   int `json:"errors"`
	Captchas int `json:"captchas"`
}

type pauseReason uint8

const (
	pauseUser pauseReason = 1 << iota
	pauseLoggedOut
	pauseTemp
	pauseHalted
)

type nopUI struct{}

func (nopUI) Report(Event) {}

type nopSearch struct{}

func (nopSearch) AddTrigger(job.Trigger)        {}
func (nopSearch) RemoveTrigger(int64)           {}
func (nopSearch) SetSearchActive(int64, bool)   {}
func (nopSearch) SetSearchDisabled(int64, bool) {}

type nopNotifier struct{}

func (nopNotifier) Claimed(job.Job)    {}
func (nopNotifier) Throttled(string)   {}
func (nopNotifier) Captcha(job.Job)    {}
func (nopNotifier) DailyLimit(job.Job) {}
