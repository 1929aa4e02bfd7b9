package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kgellert/gemini-relay/internal/archive"
	"github.com/kgellert/gemini-relay/internal/generation"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
)

const emptyReplyText = "(empty response)"

// Reply is one logical answer to a request. It may be delivered as
// several transport messages.
type Reply struct {
	Text        string
	Images      []generation.Image
	CommandType string
	// Fragments is the model's structured output. It is stored against the
	// first outbound message; the others link to it.
	Fragments json.RawMessage
}

type sender struct {
	tg      Transport
	journal *journal
	archive Archiver
	log     *slog.Logger
}

func newSender(tg Transport, j *journal, archiver Archiver, log *slog.Logger) *sender {
	return &sender{tg: tg, journal: j, archive: archiver, log: log}
}

// Reply delivers r in answer to req and records every message it sent.
// It returns the sent messages in order.
func (s *sender) Reply(ctx context.Context, req *telegram.Message, r Reply) ([]*telegram.Message, error) {
	const op = "bot.sender.Reply"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("chat_id", req.Chat.ID),
		slog.Int64("request_id", req.MessageID),
	)

	chatID := req.Chat.ID

	firstLimit := telegram.MaxMessageLength
	if len(r.Images) > 0 {
		firstLimit = telegram.MaxCaptionLength
	}
	chunks := splitText(r.Text, firstLimit, telegram.MaxMessageLength)
	if len(chunks) == 0 && len(r.Images) == 0 {
		chunks = []string{emptyReplyText}
	}

	var sent []*telegram.Message

	switch {
	case len(r.Images) == 1:
		caption := ""
		if len(chunks) > 0 {
			caption, chunks = chunks[0], chunks[1:]
		}
		msg, err := s.tg.SendPhoto(ctx, chatID, imageFile(r.Images[0], "image.png"), caption, req.MessageID)
		if err != nil {
			return nil, fmt.Errorf("%s: send photo: %w", op, err)
		}
		sent = append(sent, msg)

	case len(r.Images) > 1:
		caption := ""
		if len(chunks) > 0 {
			caption, chunks = chunks[0], chunks[1:]
		}
		items := make([]telegram.InputMedia, len(r.Images))
		for i, img := range r.Images {
			items[i] = telegram.InputMedia{
				Kind: telegram.MediaPhoto,
				File: imageFile(img, fmt.Sprintf("image_%d.png", i+1)),
			}
		}
		items[0].Caption = caption
		msgs, err := s.tg.SendMediaGroup(ctx, chatID, items, req.MessageID)
		if err != nil {
			return nil, fmt.Errorf("%s: send media group: %w", op, err)
		}
		sent = append(sent, msgs...)
	}

	replyTo := req.MessageID
	for _, chunk := range chunks {
		if len(sent) > 0 {
			replyTo = sent[len(sent)-1].MessageID
		}
		msg, err := s.tg.SendMessage(ctx, chatID, chunk, replyTo)
		if err != nil {
			if len(sent) == 0 {
				return nil, fmt.Errorf("%s: send message: %w", op, err)
			}
			log.Error("failed to send continuation", sl.Err(err))
			break
		}
		sent = append(sent, msg)
	}
	if len(sent) == 0 {
		return nil, fmt.Errorf("%s: nothing was sent", op)
	}

	if len(r.Images) > 0 {
		s.sendOriginals(ctx, log, chatID, r.Images, sent[0].MessageID)
	}

	s.record(ctx, log, sent, r)
	s.archiveImages(ctx, log, chatID, sent[0].MessageID, r.Images)

	ids := make([]int64, len(sent))
	for i, m := range sent {
		ids[i] = m.MessageID
	}
	s.journal.events.Publish(chatID, ws.EventReplySent, ws.ReplySentPayload{
		RequestID:  req.MessageID,
		Command:    r.CommandType,
		MessageIDs: ids,
	})

	return sent, nil
}

// sendOriginals re-sends generated images as documents so users get the
// uncompressed files. They are not part of the conversation and failures
// are logged only.
func (s *sender) sendOriginals(ctx context.Context, log *slog.Logger, chatID int64, images []generation.Image, replyTo int64) {
	if len(images) == 1 {
		if _, err := s.tg.SendDocument(ctx, chatID, imageFile(images[0], "image.png"), "", replyTo); err != nil {
			log.Warn("failed to send original image", sl.Err(err))
		}
		return
	}

	items := make([]telegram.InputMedia, len(images))
	for i, img := range images {
		items[i] = telegram.InputMedia{
			Kind: telegram.MediaDocument,
			File: imageFile(img, fmt.Sprintf("image_%d.png", i+1)),
		}
	}
	if _, err := s.tg.SendMediaGroup(ctx, chatID, items, replyTo); err != nil {
		log.Warn("failed to send original images", sl.Err(err))
	}
}

func (s *sender) record(ctx context.Context, log *slog.Logger, sent []*telegram.Message, r Reply) {
	first := sent[0]
	// Links only make sense when the first message holds the fragments.
	ownerRecorded := false

	for i, msg := range sent {
		if !s.journal.persist(ctx, msg) {
			continue
		}
		if r.CommandType != "" {
			s.journal.classify(ctx, msg, r.CommandType)
		}

		var err error
		switch {
		case i == 0 && len(r.Fragments) > 0:
			err = s.journal.store.RecordGenerationLink(ctx, msg.Chat.ID, msg.MessageID, r.Fragments, nil)
			ownerRecorded = err == nil
		case i > 0 && len(r.Fragments) > 0 && ownerRecorded:
			linked := first.MessageID
			err = s.journal.store.RecordGenerationLink(ctx, msg.Chat.ID, msg.MessageID, nil, &linked)
		}
		if err != nil {
			s.journal.metrics.PersistFailures.Inc()
			log.Error("failed to record generation link",
				slog.Int64("message_id", msg.MessageID),
				sl.Err(err),
			)
		}
	}
}

func (s *sender) archiveImages(ctx context.Context, log *slog.Logger, chatID, messageID int64, images []generation.Image) {
	if s.archive == nil {
		return
	}
	for _, img := range images {
		key, err := s.archive.Store(ctx, chatID, messageID, img.Data, img.MIMEType)
		if errors.Is(err, archive.ErrDisabled) {
			return
		}
		if err != nil {
			log.Warn("failed to archive image", sl.Err(err))
			continue
		}
		s.journal.metrics.ArchivedImages.Inc()
		log.Debug("image archived", slog.String("key", key))
	}
}

func imageFile(img generation.Image, name string) telegram.InputFile {
	return telegram.InputFile{Name: name, MimeType: img.MIMEType, Data: img.Data}
}
