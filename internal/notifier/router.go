package notifier

import (
	"context"
	"log/slog"

	"github.com/oakhurst/inf-report-bot/internal/models"
)

// ChatSink receives only the items not yet seen for the date.
type ChatSink interface {
	Notify(ctx context.Context, date string, records []models.ItemRecord) error
}

// EmailSink receives the complete daily set regardless of dedup.
type EmailSink interface {
	Notify(ctx context.Context, date string, records []models.ItemRecord) error
}

// Router fans records out to whichever sinks are configured. Sinks are
// isolated from each other: one failing never stops the other from running.
type Router struct {
	chat  ChatSink
	email EmailSink
}

func NewRouter(chat ChatSink, email EmailSink) *Router {
	return &Router{chat: chat, email: email}
}

// Result reports per-sink outcomes so the caller can decide whether the run
// as a whole succeeded.
type Result struct {
	ChatSent  bool
	ChatErr   error
	EmailSent bool
	EmailErr  error
}

// Failed reports whether every enabled sink that had something to deliver
// failed. A run with no enabled sinks never fails here.
func (r Result) Failed() bool {
	attempted := 0
	failures := 0
	if r.ChatSent || r.ChatErr != nil {
		attempted++
		if r.ChatErr != nil {
			failures++
		}
	}
	if r.EmailSent || r.EmailErr != nil {
		attempted++
		if r.EmailErr != nil {
			failures++
		}
	}
	return attempted > 0 && failures == attempted
}

// Distribute delivers newRecords to chat and allRecords to email. The chat
// sink is skipped when there is nothing new; the email sink always runs when
// enabled, even with an empty set.
func (r *Router) Distribute(ctx context.Context, date string, newRecords, allRecords []models.ItemRecord) Result {
	var res Result

	if r.chat != nil {
		if len(newRecords) == 0 {
			slog.Info("No new items, skipping chat notification", "date", date)
		} else if err := r.chat.Notify(ctx, date, newRecords); err != nil {
			slog.Error("Chat notification failed", "error", err)
			res.ChatErr = err
		} else {
			res.ChatSent = true
		}
	}

	if r.email != nil {
		if err := r.email.Notify(ctx, date, allRecords); err != nil {
			slog.Error("Email report failed", "error", err)
			res.EmailErr = err
		} else {
			res.EmailSent = true
		}
	}

	return res
}
