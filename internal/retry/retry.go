package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
)

type Store interface {
	Get(ctx context.Context, chatID, messageID int64) (*messages.StoredMessage, error)
	Metadata(ctx context.Context, chatID, messageID int64) (*messages.CommandMetadata, error)
}

// DispatchFunc re-submits a request message through the normal dispatch
// path. It must block until the dispatch attempt has finished.
type DispatchFunc func(ctx context.Context, msg *telegram.Message) error

type Outcome string

const (
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
)

type key struct {
	chatID    int64
	messageID int64
}

// Controller re-dispatches the request behind a failed bot reply when the
// reply is acknowledged. Concurrent signals for the same reply collapse
// into one attempt.
type Controller struct {
	store    Store
	selfID   int64
	dispatch DispatchFunc
	log      *slog.Logger

	mu       sync.Mutex
	inflight map[key]struct{}
}

func New(store Store, selfID int64, dispatch DispatchFunc, log *slog.Logger) *Controller {
	return &Controller{
		store:    store,
		selfID:   selfID,
		dispatch: dispatch,
		log:      log,
		inflight: make(map[key]struct{}),
	}
}

func (c *Controller) tryAcquire(k key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[k]; busy {
		return false
	}
	c.inflight[k] = struct{}{}
	return true
}

func (c *Controller) release(k key) {
	c.mu.Lock()
	delete(c.inflight, k)
	c.mu.Unlock()
}

// OnAcknowledge handles an acknowledge signal on (chatID, messageID). A
// signal arriving while another one for the same message is in flight
// returns OutcomeDuplicate without touching the store.
func (c *Controller) OnAcknowledge(ctx context.Context, chatID, messageID int64) Outcome {
	const op = "retry.OnAcknowledge"

	log := c.log.With(
		slog.String("op", op),
		slog.Int64("chat_id", chatID),
		slog.Int64("message_id", messageID),
	)

	k := key{chatID: chatID, messageID: messageID}
	if !c.tryAcquire(k) {
		log.Debug("retry already in flight")
		return OutcomeDuplicate
	}
	defer c.release(k)

	target, err := c.store.Get(ctx, chatID, messageID)
	if err != nil {
		if !errors.Is(err, messages.ErrMessageNotExist) {
			log.Error("failed to load target message", sl.Err(err))
		}
		return OutcomeIgnored
	}

	if !target.FromSelf && !target.Message.IsFrom(c.selfID) {
		return OutcomeIgnored
	}

	var originalID int64
	switch {
	case target.Message.ReplyTo != nil:
		originalID = target.Message.ReplyTo.MessageID
	case target.ReplyToMessageID != nil:
		originalID = *target.ReplyToMessageID
	default:
		return OutcomeIgnored
	}

	md, err := c.store.Metadata(ctx, chatID, messageID)
	if err != nil {
		if !errors.Is(err, messages.ErrMetadataNotExist) {
			log.Error("failed to load target metadata", sl.Err(err))
		}
		return OutcomeIgnored
	}
	if !messages.IsErrorClassification(md.CommandType) {
		log.Debug("target is not an error reply", slog.String("command_type", md.CommandType))
		return OutcomeIgnored
	}

	var original *telegram.Message
	stored, err := c.store.Get(ctx, chatID, originalID)
	switch {
	case err == nil:
		original = &stored.Message
	case target.Message.ReplyTo != nil:
		if !errors.Is(err, messages.ErrMessageNotExist) {
			log.Warn("failed to load original request, using embedded copy", sl.Err(err))
		}
		original = target.Message.ReplyTo
	default:
		log.Error("original request not found", slog.Int64("original_id", originalID), sl.Err(err))
		return OutcomeFailed
	}

	log.Info("retrying failed request", slog.Int64("original_id", original.MessageID))

	if err := c.dispatch(ctx, original); err != nil {
		log.Error("retry dispatch failed", sl.Err(err))
		return OutcomeFailed
	}

	return OutcomeDispatched
}
