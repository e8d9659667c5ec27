package grouping

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound          = errors.New("grouping not found")
	ErrEditOpen          = errors.New("another grouping edit is open")
	ErrNothingCollecting = errors.New("nothing is collecting")
	ErrBadTime           = errors.New("start time must be HH:MM")
)

// Kind says what the members of a grouping refer to.
type Kind string

const (
	KindJobs     Kind = "jobs"
	KindTriggers Kind = "triggers"
)

// Member is the per-member metadata.
type Member struct {
	HamMode bool `json:"hamMode,omitempty"`
}

// Grouping is the persisted form. Members are keyed by durable job id.
type Grouping struct {
	ID          int64            `json:"id"`
	Kind        Kind             `json:"kind"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Members     map[int64]Member `json:"members"`
	StartTime   string           `json:"startTime,omitempty"`
	EndHours    int              `json:"endHours,omitempty"`
	EndMinutes  int              `json:"endMinutes,omitempty"`
}

func (g Grouping) clone() Grouping {
	cp := g
	cp.Members = make(map[int64]Member, len(g.Members))
	for k, v := range g.Members {
		cp.Members[k] = v
	}
	return cp
}

// HasEnd reports whether the grouping stops itself after its start.
func (g Grouping) HasEnd() bool { return g.EndHours != 0 || g.EndMinutes != 0 }

// Store persists groupings.
type Store interface {
	AddGrouping(ctx context.Context, g Grouping) (int64, error)
	UpdateGrouping(ctx context.Context, g Grouping) error
	DeleteGrouping(ctx context.Context, id int64) error
	ScanGroupings(ctx context.Context, kind Kind) ([]Grouping, error)
}

// Members is the side that owns the referenced jobs or triggers.
type Members interface {
	Exists(id int64) bool
	IsCollecting(id int64) bool
	StartMember(id int64, ham bool)
	StopMember(id int64)
	// CollectingIDs lists members eligible for an instant grouping.
	CollectingIDs() []int64
}

type Config struct {
	// StaggerFirst delays the first member change after a toggle.
	StaggerFirst time.Duration
	// StaggerStep separates the following member changes.
	StaggerStep time.Duration
	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.StaggerFirst <= 0 {
		c.StaggerFirst = 10 * time.Millisecond
	}
	if c.StaggerStep <= 0 {
		c.StaggerStep = 100 * time.Millisecond
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	return c
}

// Status is a read-only view of a grouping.
type Status struct {
	Unique     int       `json:"unique"`
	Grouping   Grouping  `json:"grouping"`
	Collecting bool      `json:"collecting"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
}

// ParseClock parses "HH:MM" (24h) and also accepts "h:mm AM/PM".
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	pm, am := strings.HasSuffix(s, "PM"), strings.HasSuffix(s, "AM")
	if pm || am {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, errors.Wrapf(ErrBadTime, "got %q", s)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Wrapf(ErrBadTime, "got %q", s)
	}
	if pm || am {
		if hour < 1 || hour > 12 {
			return 0, 0, errors.Wrapf(ErrBadTime, "got %q", s)
		}
		hour %= 12
		if pm {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 {
		return 0, 0, errors.Wrapf(ErrBadTime, "got %q", s)
	}
	return hour, minute, nil
}
