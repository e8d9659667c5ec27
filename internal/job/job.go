// Package job holds the persistent and runtime model of a polling job.
package job

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SearchMode says how a job is linked to the search trigger side.
type SearchMode string

const (
	SearchNone      SearchMode = ""
	SearchGroupID   SearchMode = "gid"
	SearchRequester SearchMode = "rid"
)

func (m SearchMode) Valid() bool {
	switch m {
	case SearchNone, SearchGroupID, SearchRequester:
		return true
	}
	return false
}

// Descriptor identifies the remote work item a job polls for.
type Descriptor struct {
	GroupID       string  `json:"groupId"`
	RequesterID   string  `json:"reqId,omitempty"`
	RequesterName string  `json:"reqName,omitempty"`
	Title         string  `json:"title,omitempty"`
	Description   string  `json:"description,omitempty"`
	Price         float64 `json:"price,omitempty"`
	AssignedTime  int     `json:"assignedTime,omitempty"`
	HitsAvailable int     `json:"hitsAvailable,omitempty"`
}

// Policy is the user-controlled limit configuration of a job.
type Policy struct {
	OnceOnly      bool          `json:"once,omitempty"`
	LimitPerGroup int           `json:"limitNumQueue,omitempty"`
	LimitTotal    int           `json:"limitTotalQueue,omitempty"`
	LimitFetches  int           `json:"limitFetches,omitempty"`
	DailyLimit    int           `json:"dailyLimit,omitempty"`
	AutoGoHam     bool          `json:"autoGoHam,omitempty"`
	HamDuration   time.Duration `json:"hamDuration,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Disabled      bool          `json:"disabled,omitempty"`
	Search        SearchMode    `json:"search,omitempty"`
}

// Limited reports whether any count-based limit is configured.
func (p Policy) Limited() bool {
	return p.OnceOnly || p.LimitFetches > 0 || p.DailyLimit > 0 ||
		p.LimitPerGroup > 0 || p.LimitTotal > 0
}

// Record is what the job store persists. ID is assigned by the store.
type Record struct {
	ID int64 `json:"id"`
	Descriptor
	Policy
	Friendly string    `json:"friendlyTitle,omitempty"`
	Added    time.Time `json:"dateAdded"`
}

// Validate checks the fields the registry relies on.
func (r Record) Validate() error {
	if strings.TrimSpace(r.GroupID) == "" && strings.TrimSpace(r.RequesterID) == "" {
		return fmt.Errorf("job needs a group id or requester id")
	}
	if !r.Search.Valid() {
		return fmt.Errorf("unknown search mode %q", r.Search)
	}
	if r.Search == SearchRequester && !LooksLikeRequesterID(r.RequesterID) {
		return fmt.Errorf("requester search needs a requester id, got %q", r.RequesterID)
	}
	if r.LimitPerGroup < 0 || r.LimitTotal < 0 || r.LimitFetches < 0 || r.DailyLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if r.Duration < 0 || r.HamDuration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Name is the display title, preferring the user's friendly title.
func (r Record) Name() string {
	if s := strings.TrimSpace(r.Friendly); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Title); s != "" {
		return s
	}
	return r.GroupID
}

// LooksLikeRequesterID reports whether id has the shape of a requester id.
// Group ids that look like requester ids are not indexed as groups.
func LooksLikeRequesterID(id string) bool {
	return strings.HasPrefix(id, "A")
}

// WorkerHost is the default remote origin.
const WorkerHost = "https://worker.mturk.com"

// AcceptPath is the claim endpoint for a group, relative to the host.
func AcceptPath(groupID string) string {
	return "/projects/" + url.PathEscape(groupID) + "/tasks/accept_random?format=json"
}

// AcceptURL is the claim endpoint for a group.
func AcceptURL(groupID string) string { return WorkerHost + AcceptPath(groupID) }

// PreviewURL is the human-facing page for a group.
func PreviewURL(groupID string) string {
	return WorkerHost + "/projects/" + url.PathEscape(groupID) + "/tasks"
}

// QueuePath lists the account's accepted items.
const QueuePath = "/tasks?format=json"

// QueueURL lists the account's accepted items.
func QueueURL() string { return WorkerHost + QueuePath }

// SearchPath lists currently available groups.
func SearchPath(pageSize int) string {
	if pageSize <= 0 {
		pageSize = 100
	}
	return fmt.Sprintf("/?page_size=%d&sort=updated_desc&filters%%5Bqualified%%5D=true&format=json", pageSize)
}

// SearchURL lists currently available groups.
func SearchURL(pageSize int) string { return WorkerHost + SearchPath(pageSize) }
