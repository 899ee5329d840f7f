package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans out to every notifier and reports all failures together.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Announce forwards a supervisor notification to n.
func Announce(ctx context.Context, n Notifier, note domain.Notification) error {
	if n == nil {
		return nil
	}
	title, text := Format(note)
	return n.Send(ctx, title, text)
}

// Format renders a notification as a chat title and body.
func Format(note domain.Notification) (title, text string) {
	switch note.Type {
	case domain.NotifyNewURLs:
		title = "🔵 Targets changed"
	case domain.NotifySyncFailed:
		title = "🟠 Target sync failed"
	case domain.NotifyServiceRestarted:
		title = "🔴 Monitoring restarted"
	default:
		title = "Notice"
	}
	text = fmt.Sprintf("%s\nAt: %s", note.Message, note.CreatedAt.Format(time.RFC3339))
	if len(note.Data) > 0 && json.Valid(note.Data) {
		text += "\nData: " + string(note.Data)
	}
	return title, text
}
