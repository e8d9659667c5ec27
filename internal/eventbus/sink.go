package eventbus

import (
	"hitgrab/internal/registry"
)

// RegistrySink publishes registry events on a bus. The event type is the
// registry event kind.
type RegistrySink struct{ Bus Bus }

func (s RegistrySink) Report(ev registry.Event) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(Event{Type: string(ev.Kind), Time: ev.At, Data: ev})
}

// Topics outside the registry.
const (
	TypeFetchDropped  = "fetch.dropped"
	TypeFetchFailed   = "fetch.failed"
	TypeGroupToggled  = "grouping.toggled"
	TypeConfigApplied = "config.applied"
)
