package notify

import (
	"context"
	"log/slog"

	chatapp "chatter/internal/app/chat"
)

// LogNotifier writes notifications to the log. Stands in for a push provider
// in dev mode; swap in a real sender behind the same port.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, userID int64, title, body string, meta map[string]string) error {
	n.Logger.Info("notification", "user_id", userID, "title", title, "body", body, "meta", meta)
	return nil
}

var _ chatapp.Notifier = LogNotifier{}
