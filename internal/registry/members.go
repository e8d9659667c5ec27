package registry

import (
	"sort"

	"hitgrab/internal/job"
)

// GroupMembers exposes the registry to job groupings, keyed by durable id.
type GroupMembers struct{ r *Registry }

func (r *Registry) GroupMembers() GroupMembers { return GroupMembers{r: r} }

func (m GroupMembers) Exists(durable int64) bool {
	_, ok := m.r.byDurable[durable]
	return ok
}

func (m GroupMembers) IsCollecting(durable int64) bool {
	id, ok := m.r.byDurable[durable]
	if !ok {
		return false
	}
	e := m.r.get(id)
	return e != nil && e.Collecting
}

func (m GroupMembers) StartMember(durable int64, ham bool) {
	if id, ok := m.r.byDurable[durable]; ok {
		m.r.StartCollecting(id, StartOptions{Ham: ham})
	}
}

func (m GroupMembers) StopMember(durable int64) {
	if id, ok := m.r.byDurable[durable]; ok {
		m.r.StopCollecting(id, job.ReasonManual)
	}
}

// CollectingIDs lists stored jobs that are collecting right now.
func (m GroupMembers) CollectingIDs() []int64 {
	var out []int64
	for durable, id := range m.r.byDurable {
		if e := m.r.get(id); e != nil && e.Collecting {
			out = append(out, durable)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
