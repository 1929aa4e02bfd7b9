package bot

import (
	"context"
	"log/slog"

	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/metrics"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
)

// journal writes chat events to the store. Store failures are logged and
// counted but never stop a conversation.
type journal struct {
	store   messages.Repo
	events  Events
	metrics *metrics.Metrics
	selfID  int64
	log     *slog.Logger
}

func (j *journal) persist(ctx context.Context, msg *telegram.Message) bool {
	const op = "bot.journal.persist"

	if err := j.store.Persist(ctx, msg); err != nil {
		j.metrics.PersistFailures.Inc()
		j.log.Error("failed to persist message",
			slog.String("op", op),
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int64("message_id", msg.MessageID),
			sl.Err(err),
		)
		return false
	}

	j.metrics.MessagesPersisted.Inc()
	j.events.Publish(msg.Chat.ID, ws.EventMessageStored, ws.MessageStoredPayload{
		MessageID: msg.MessageID,
		SenderID:  msg.SenderID(),
		FromSelf:  msg.IsFrom(j.selfID),
		Text:      msg.Content(),
	})
	return true
}

func (j *journal) classify(ctx context.Context, msg *telegram.Message, commandType string) {
	const op = "bot.journal.classify"

	if err := j.store.RecordClassification(ctx, msg.Chat.ID, msg.MessageID, commandType); err != nil {
		j.metrics.PersistFailures.Inc()
		j.log.Error("failed to record classification",
			slog.String("op", op),
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int64("message_id", msg.MessageID),
			slog.String("command_type", commandType),
			sl.Err(err),
		)
	}
}
