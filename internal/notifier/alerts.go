package notifier

import (
	"context"
	"fmt"
	"strings"

	jobpkg "hitgrab/internal/job"
	kit "hitgrab/internal/transport"
	logx "hitgrab/pkg/logx"
)

const (
	prioClaim    = 3
	prioInfo     = 5
	prioWarn     = 7
	prioCritical = 9
)

// Claimed reports a successful claim when claim messages are on.
func (s *Service) Claimed(j jobpkg.Job) {
	if !s.config().Claims {
		return
	}
	s.broadcast(prioClaim, fmt.Sprintf("Claimed %s\n%s $%.2f\n%s", j.Name(), requester(j), j.Price, jobpkg.PreviewURL(j.GroupID)))
}

// Throttled reports that every timer was paused after the remote side
// pushed back.
func (s *Service) Throttled(detail string) {
	text := "Timers paused: claim queue full or rate limited."
	if d := strings.TrimSpace(detail); d != "" {
		text += "\n" + d
	}
	s.broadcast(prioWarn, text)
}

func (s *Service) Captcha(j jobpkg.Job) {
	s.broadcast(prioCritical, fmt.Sprintf("Captcha required while collecting %s.\n%s", j.Name(), jobpkg.PreviewURL(j.GroupID)))
}

func (s *Service) DailyLimit(j jobpkg.Job) {
	s.broadcast(prioInfo, fmt.Sprintf("%s stopped at its daily accept limit (%d).", j.Name(), j.DailyAccepted))
}

// Forward is a logx.Forwarder. It runs inside the logger and must not log.
func (s *Service) Forward(level logx.Level, text string) {
	p := prioWarn
	if level >= logx.LevelError {
		p = prioCritical
	}
	s.broadcast(p, text)
}

// Text sends a free-form message to every alert chat.
func (s *Service) Text(priority int, text string) {
	s.broadcast(priority, text)
}

func (s *Service) broadcast(priority int, text string) {
	cfg := s.config()
	if !cfg.Enabled {
		return
	}
	for _, chat := range cfg.Chats {
		// Errors are visible on the bus; there is nowhere better to report them.
		_ = s.Notify(context.Background(), kit.Notification{
			Channel:  "telegram",
			Priority: priority,
			Target:   kit.ChatTarget{ChatID: chat, ThreadID: cfg.ThreadID},
			Text:     text,
			Options:  &kit.SendOptions{DisablePreview: true},
		})
	}
}

func requester(j jobpkg.Job) string {
	if j.RequesterName != "" {
		return j.RequesterName
	}
	return j.RequesterID
}
