package notifier

import (
	"context"

	kit "hitgrab/internal/transport"
	logx "hitgrab/pkg/logx"
)

// LogSender writes notifications to a logger. It is the sender when no bot
// is configured. The logger must not forward to this notifier.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	l.Log.Info("notification", logx.Int64("chat_id", to.ChatID), logx.String("text", text))
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}, nil
}
