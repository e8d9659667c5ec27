// Package claimqueue tracks the account's queue of claimed items, as last
// reported by the remote queue listing plus claims made since then.
package claimqueue

import (
	"sort"
	"time"
)

// Item is one claimed item.
type Item struct {
	AssignmentID  string    `json:"assignmentId"`
	GroupID       string    `json:"groupId"`
	RequesterID   string    `json:"reqId"`
	RequesterName string    `json:"reqName"`
	Title         string    `json:"title"`
	Price         float64   `json:"price"`
	Deadline      time.Time `json:"deadline"`
}

// Tracker is owned by the event loop and is not safe for concurrent use.
type Tracker struct {
	items    []Item
	byGroup  map[string]int
	pending  map[string]int
	loaded   bool
	loadedAt time.Time
}

func New() *Tracker {
	return &Tracker{byGroup: map[string]int{}, pending: map[string]int{}}
}

// Replace installs a fresh listing. Optimistic adds are dropped since the
// listing now includes them.
func (t *Tracker) Replace(items []Item, at time.Time) {
	t.items = append(t.items[:0], items...)
	sort.SliceStable(t.items, func(i, j int) bool { return t.items[i].Deadline.Before(t.items[j].Deadline) })
	t.byGroup = make(map[string]int, len(items))
	for _, it := range t.items {
		t.byGroup[it.GroupID]++
	}
	t.pending = map[string]int{}
	t.loaded = true
	t.loadedAt = at
}

// Added records a claim before the next listing arrives.
func (t *Tracker) Added(it Item) {
	t.pending[it.GroupID]++
}

// CountGroup is the number of claimed items of a group.
func (t *Tracker) CountGroup(groupID string) int {
	return t.byGroup[groupID] + t.pending[groupID]
}

// Total is the number of claimed items.
func (t *Tracker) Total() int {
	n := len(t.items)
	for _, c := range t.pending {
		n += c
	}
	return n
}

func (t *Tracker) Loaded() bool { return t.loaded }

func (t *Tracker) LoadedAt() time.Time { return t.loadedAt }

// Items returns the listed items, earliest deadline first.
func (t *Tracker) Items() []Item {
	return append([]Item(nil), t.items...)
}
