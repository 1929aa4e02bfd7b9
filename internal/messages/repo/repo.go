package messagesrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	messagesdomain "github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
)

// Repo persists chat events and their per-message metadata. Queries are
// written with '?' placeholders and rebound for the connected driver.
type Repo struct {
	db     *sqlx.DB
	selfID int64
	log    *slog.Logger
}

func New(db *sqlx.DB, selfID int64, log *slog.Logger) *Repo {
	return &Repo{db: db, selfID: selfID, log: log}
}

// Persist upserts msg with its attachments. A reply parent that is not
// stored yet is persisted first from the embedded reply object; this
// happens for the direct parent only.
func (s *Repo) Persist(ctx context.Context, msg *telegram.Message) error {
	const op = "storage.messages.Persist"

	if msg == nil {
		return fmt.Errorf("%s: %w", op, messagesdomain.ErrMessageIsNil)
	}

	if parent := msg.ReplyTo; parent != nil && parent.MessageID != 0 {
		exists, err := s.exists(ctx, parent.Chat.ID, parent.MessageID)
		if err != nil {
			return fmt.Errorf("%s: check parent: %w", op, err)
		}
		if !exists {
			s.log.Debug("persisting missing reply parent",
				slog.String("op", op),
				slog.Int64("chat_id", parent.Chat.ID),
				slog.Int64("message_id", parent.MessageID),
			)
			if err := s.persistOne(ctx, parent); err != nil {
				return fmt.Errorf("%s: persist parent: %w", op, err)
			}
		}
	}

	if err := s.persistOne(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Repo) exists(ctx context.Context, chatID, messageID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(1) FROM raw_messages WHERE chat_id = ? AND message_id = ?`,
	), chatID, messageID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Repo) persistOne(ctx context.Context, msg *telegram.Message) error {
	payload, err := msg.Payload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var groupID *string
	if msg.MediaGroupID != "" {
		g := msg.MediaGroupID
		groupID = &g
	}
	var replyTo *int64
	if msg.ReplyTo != nil && msg.ReplyTo.MessageID != 0 {
		id := msg.ReplyTo.MessageID
		replyTo = &id
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO raw_messages (chat_id, message_id, sender_id, date, from_self, media_group_id, reply_to_message_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			date = excluded.date,
			from_self = excluded.from_self,
			media_group_id = excluded.media_group_id,
			reply_to_message_id = excluded.reply_to_message_id,
			payload = excluded.payload
		`),
		msg.Chat.ID, msg.MessageID, msg.SenderID(), msg.Date,
		s.selfID != 0 && msg.IsFrom(s.selfID),
		groupID, replyTo, payload,
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	for i, att := range messagesdomain.AttachmentsFromMessage(msg) {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO attachments (file_unique_id, file_id, kind, file_name, file_size, mime_type, width, height)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (file_unique_id) DO UPDATE SET file_id = excluded.file_id
			`),
			att.FileUniqueID, att.FileID, string(att.Kind),
			att.FileName, att.FileSize, att.MimeType, att.Width, att.Height,
		)
		if err != nil {
			return fmt.Errorf("upsert attachment %s: %w", att.FileUniqueID, err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO message_attachments (chat_id, message_id, file_unique_id, position)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (chat_id, message_id, file_unique_id) DO NOTHING
			`),
			msg.Chat.ID, msg.MessageID, att.FileUniqueID, i,
		)
		if err != nil {
			return fmt.Errorf("link attachment %s: %w", att.FileUniqueID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

const selectRawMessage = `
	SELECT chat_id, message_id, sender_id, date, from_self, media_group_id, reply_to_message_id, payload
	FROM raw_messages`

func (s *Repo) Get(ctx context.Context, chatID, messageID int64) (*messagesdomain.StoredMessage, error) {
	const op = "storage.messages.Get"

	var row messagesdomain.RawMessageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectRawMessage+`
		WHERE chat_id = ? AND message_id = ?`,
	), chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, messagesdomain.ErrMessageNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	msg, err := messagesdomain.NewStoredMessageFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("%s: decode payload: %w", op, err)
	}

	return msg, nil
}

func (s *Repo) GroupSiblings(ctx context.Context, chatID int64, groupID string) ([]messagesdomain.StoredMessage, error) {
	const op = "storage.messages.GroupSiblings"

	var rows []messagesdomain.RawMessageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectRawMessage+`
		WHERE chat_id = ? AND media_group_id = ?
		ORDER BY message_id`,
	), chatID, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	out := make([]messagesdomain.StoredMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := messagesdomain.NewStoredMessageFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: decode payload of %d: %w", op, row.MessageID, err)
		}
		out = append(out, *msg)
	}

	return out, nil
}

func (s *Repo) Attachments(ctx context.Context, chatID, messageID int64) ([]messagesdomain.Attachment, error) {
	const op = "storage.messages.Attachments"

	atts := []messagesdomain.Attachment{}
	err := s.db.SelectContext(ctx, &atts, s.db.Rebind(`
		SELECT a.file_unique_id, a.file_id, a.kind, a.file_name, a.file_size, a.mime_type, a.width, a.height
		FROM message_attachments ma
		JOIN attachments a ON a.file_unique_id = ma.file_unique_id
		WHERE ma.chat_id = ? AND ma.message_id = ?
		ORDER BY ma.position, a.file_unique_id`,
	), chatID, messageID)
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	return atts, nil
}

func (s *Repo) Metadata(ctx context.Context, chatID, messageID int64) (*messagesdomain.CommandMetadata, error) {
	const op = "storage.messages.Metadata"

	var md messagesdomain.CommandMetadata
	err := s.db.GetContext(ctx, &md, s.db.Rebind(`
		SELECT chat_id, message_id, command_type
		FROM message_metadata
		WHERE chat_id = ? AND message_id = ?`,
	), chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, messagesdomain.ErrMetadataNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	return &md, nil
}

func (s *Repo) RecordClassification(ctx context.Context, chatID, messageID int64, commandType string) error {
	const op = "storage.messages.RecordClassification"

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO message_metadata (chat_id, message_id, command_type)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET command_type = excluded.command_type`,
	), chatID, messageID, commandType)
	if err != nil {
		return fmt.Errorf("%s: upsert: %w", op, err)
	}

	return nil
}

func (s *Repo) RecordGenerationLink(ctx context.Context, chatID, messageID int64, fragments json.RawMessage, linkedMessageID *int64) error {
	const op = "storage.messages.RecordGenerationLink"

	if linkedMessageID != nil && *linkedMessageID == messageID {
		return fmt.Errorf("%s: %w", op, messagesdomain.ErrSelfReferencingLink)
	}

	var frag []byte
	if len(fragments) > 0 {
		frag = []byte(fragments)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO generation_links (chat_id, message_id, fragments, linked_message_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			fragments = excluded.fragments,
			linked_message_id = excluded.linked_message_id`,
	), chatID, messageID, frag, linkedMessageID)
	if err != nil {
		return fmt.Errorf("%s: upsert: %w", op, err)
	}

	return nil
}

func (s *Repo) GenerationLink(ctx context.Context, chatID, messageID int64) (*messagesdomain.GenerationLink, error) {
	const op = "storage.messages.GenerationLink"

	var row messagesdomain.GenerationLinkRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT chat_id, message_id, fragments, linked_message_id
		FROM generation_links
		WHERE chat_id = ? AND message_id = ?`,
	), chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, messagesdomain.ErrLinkNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	return messagesdomain.NewGenerationLinkFromRow(row), nil
}
