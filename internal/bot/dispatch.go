package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kgellert/gemini-relay/internal/commands"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
)

const (
	guidanceReplyWithContent = "You must reply to the bot's response or other commands with content."
	guidanceEnterPrompt      = "Enter a prompt with the command, or use it while replying to a message with content."
)

// Dispatch records one unit of inbound work and runs the command it
// resolves to, if any. siblings are the other messages of an album.
func (b *Bot) Dispatch(ctx context.Context, msg *telegram.Message, siblings []*telegram.Message) error {
	const op = "bot.Dispatch"

	log := b.log.With(
		slog.String("op", op),
		slog.Int64("chat_id", msg.Chat.ID),
		slog.Int64("message_id", msg.MessageID),
	)

	b.journal.persist(ctx, msg)
	for _, s := range siblings {
		b.journal.persist(ctx, s)
	}

	if msg.From == nil || !b.auth.Authorized(msg.Chat.ID, msg.From.ID) {
		log.Debug("unauthorized message", slog.Int64("user_id", msg.SenderID()))
		return nil
	}

	res, ok := b.resolve(ctx, log, msg)
	if !ok {
		return nil
	}

	command := res.Command()
	log = log.With(slog.String("command", command), slog.Bool("implicit", res.Implicit))

	b.journal.classify(ctx, msg, command)

	mode := "explicit"
	if res.Implicit {
		mode = "implicit"
	}
	b.metrics.Dispatches.WithLabelValues(command, mode).Inc()
	b.events.Publish(msg.Chat.ID, ws.EventCommandDispatched, ws.CommandDispatchedPayload{
		MessageID: msg.MessageID,
		Command:   command,
		Implicit:  res.Implicit,
		Args:      res.Args,
	})

	if guidance, ok := b.validatePrompt(res, msg, siblings); !ok {
		log.Info("bare command rejected")
		b.metrics.ValidationRejects.WithLabelValues(command).Inc()
		if _, err := b.sender.Reply(ctx, msg, Reply{Text: guidance}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	handler := b.handlers[command]
	if err := handler.Execute(ctx, &Request{Message: msg, Siblings: siblings, Resolution: res}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// resolve finds the command for msg: explicit syntax first, then the
// classification of the bot reply it answers.
func (b *Bot) resolve(ctx context.Context, log *slog.Logger, msg *telegram.Message) (*commands.Resolution, bool) {
	text := msg.Content()

	if res, ok := b.resolver.Explicit(text); ok {
		return res, true
	}

	parent := msg.ReplyTo
	if parent == nil || !parent.IsFrom(b.selfID) {
		return nil, false
	}

	md, err := b.store.Metadata(ctx, msg.Chat.ID, parent.MessageID)
	if err != nil {
		if !errors.Is(err, messages.ErrMetadataNotExist) {
			log.Warn("failed to load reply metadata", sl.Err(err))
		}
		return nil, false
	}

	return b.resolver.Implicit(md.CommandType, text)
}

// validatePrompt rejects an explicit command that carries nothing to
// answer. It returns the guidance text to send when it rejects.
func (b *Bot) validatePrompt(res *commands.Resolution, msg *telegram.Message, siblings []*telegram.Message) (string, bool) {
	if res.Implicit || !res.Spec.RequiresPrompt {
		return "", true
	}

	if res.CleanedText != "" || msg.HasMedia() {
		return "", true
	}
	for _, s := range siblings {
		if s.HasMedia() {
			return "", true
		}
	}

	parent := msg.ReplyTo
	switch {
	case parent == nil:
		return guidanceEnterPrompt, false
	case parent.IsFrom(b.selfID), b.isBareCommand(parent):
		return guidanceReplyWithContent, false
	case parent.Content() == "" && !parent.HasMedia():
		return guidanceEnterPrompt, false
	}

	return "", true
}

func (b *Bot) isBareCommand(msg *telegram.Message) bool {
	res, ok := b.resolver.Explicit(msg.Content())
	return ok && res.CleanedText == "" && !msg.HasMedia()
}
