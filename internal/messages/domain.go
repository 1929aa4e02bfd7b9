package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/kgellert/gemini-relay/internal/telegram"
)

type Repo interface {
	Persist(ctx context.Context, msg *telegram.Message) error
	Get(ctx context.Context, chatID, messageID int64) (*StoredMessage, error)
	Metadata(ctx context.Context, chatID, messageID int64) (*CommandMetadata, error)
	Attachments(ctx context.Context, chatID, messageID int64) ([]Attachment, error)
	GroupSiblings(ctx context.Context, chatID int64, groupID string) ([]StoredMessage, error)
	GenerationLink(ctx context.Context, chatID, messageID int64) (*GenerationLink, error)
	RecordClassification(ctx context.Context, chatID, messageID int64, commandType string) error
	RecordGenerationLink(ctx context.Context, chatID, messageID int64, fragments json.RawMessage, linkedMessageID *int64) error
}

type AttachmentKind string

const (
	KindPhoto    AttachmentKind = "photo"
	KindDocument AttachmentKind = "document"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ClassificationError marks a bot reply that reported a failed generation.
const ClassificationError = "error"

// IsErrorClassification reports whether commandType marks a failure
// outcome ("error" or "error:<detail>").
func IsErrorClassification(commandType string) bool {
	return commandType == ClassificationError || strings.HasPrefix(commandType, ClassificationError+":")
}

// StoredMessage is one persisted chat event with its decoded body.
type StoredMessage struct {
	ChatID           int64            `json:"chat_id" db:"chat_id"`
	MessageID        int64            `json:"message_id" db:"message_id"`
	SenderID         int64            `json:"sender_id" db:"sender_id"`
	Date             int64            `json:"date" db:"date"`
	FromSelf         bool             `json:"from_self" db:"from_self"`
	MediaGroupID     string           `json:"media_group_id,omitempty" db:"-"`
	ReplyToMessageID *int64           `json:"reply_to_message_id,omitempty" db:"-"`
	Message          telegram.Message `json:"-" db:"-"`
}

type Attachment struct {
	FileUniqueID string         `json:"file_unique_id" db:"file_unique_id"`
	FileID       string         `json:"file_id" db:"file_id"`
	Kind         AttachmentKind `json:"kind" db:"kind"`
	FileName     *string        `json:"file_name,omitempty" db:"file_name"`
	FileSize     *int64         `json:"file_size,omitempty" db:"file_size"`
	MimeType     *string        `json:"mime_type,omitempty" db:"mime_type"`
	Width        *int           `json:"width,omitempty" db:"width"`
	Height       *int           `json:"height,omitempty" db:"height"`
}

type CommandMetadata struct {
	ChatID      int64  `json:"chat_id" db:"chat_id"`
	MessageID   int64  `json:"message_id" db:"message_id"`
	CommandType string `json:"command_type" db:"command_type"`
}

type GenerationLink struct {
	ChatID          int64           `json:"chat_id"`
	MessageID       int64           `json:"message_id"`
	Fragments       json.RawMessage `json:"fragments,omitempty"`
	LinkedMessageID *int64          `json:"linked_message_id,omitempty"`
}

// ConversationTurn is one role-tagged unit of a reconstructed conversation.
type ConversationTurn struct {
	MessageID   int64           `json:"message_id"`
	Role        Role            `json:"role"`
	Text        string          `json:"text"`
	Attachments []Attachment    `json:"attachments"`
	Fragments   json.RawMessage `json:"fragments,omitempty"`
}

type GetHistoryResponse struct {
	ChatID    int64              `json:"chat_id"`
	MessageID int64              `json:"message_id"`
	Turns     []ConversationTurn `json:"turns"`
}

type RawMessageRow struct {
	ChatID           int64          `db:"chat_id"`
	MessageID        int64          `db:"message_id"`
	SenderID         int64          `db:"sender_id"`
	Date             int64          `db:"date"`
	FromSelf         bool           `db:"from_self"`
	MediaGroupID     sql.NullString `db:"media_group_id"`
	ReplyToMessageID sql.NullInt64  `db:"reply_to_message_id"`
	Payload          []byte         `db:"payload"`
}

type GenerationLinkRow struct {
	ChatID          int64         `db:"chat_id"`
	MessageID       int64         `db:"message_id"`
	Fragments       []byte        `db:"fragments"`
	LinkedMessageID sql.NullInt64 `db:"linked_message_id"`
}

func NewStoredMessageFromRow(row RawMessageRow) (*StoredMessage, error) {
	sm := &StoredMessage{
		ChatID:    row.ChatID,
		MessageID: row.MessageID,
		SenderID:  row.SenderID,
		Date:      row.Date,
		FromSelf:  row.FromSelf,
	}
	if row.MediaGroupID.Valid {
		sm.MediaGroupID = row.MediaGroupID.String
	}
	if row.ReplyToMessageID.Valid {
		id := row.ReplyToMessageID.Int64
		sm.ReplyToMessageID = &id
	}
	if err := json.Unmarshal(row.Payload, &sm.Message); err != nil {
		return nil, err
	}
	return sm, nil
}

func NewGenerationLinkFromRow(row GenerationLinkRow) *GenerationLink {
	gl := &GenerationLink{
		ChatID:    row.ChatID,
		MessageID: row.MessageID,
	}
	if len(row.Fragments) > 0 {
		gl.Fragments = json.RawMessage(row.Fragments)
	}
	if row.LinkedMessageID.Valid {
		id := row.LinkedMessageID.Int64
		gl.LinkedMessageID = &id
	}
	return gl
}

// AttachmentsFromMessage lists the files carried by a live message. Only
// the largest photo size is kept.
func AttachmentsFromMessage(msg *telegram.Message) []Attachment {
	if msg == nil {
		return nil
	}

	var out []Attachment
	if p := msg.LargestPhoto(); p != nil {
		att := Attachment{
			FileUniqueID: p.FileUniqueID,
			FileID:       p.FileID,
			Kind:         KindPhoto,
		}
		if p.FileSize > 0 {
			size := p.FileSize
			att.FileSize = &size
		}
		if p.Width > 0 {
			w := p.Width
			att.Width = &w
		}
		if p.Height > 0 {
			h := p.Height
			att.Height = &h
		}
		out = append(out, att)
	}

	if d := msg.Document; d != nil {
		att := Attachment{
			FileUniqueID: d.FileUniqueID,
			FileID:       d.FileID,
			Kind:         KindDocument,
		}
		if d.FileName != "" {
			name := d.FileName
			att.FileName = &name
		}
		if d.MimeType != "" {
			mt := d.MimeType
			att.MimeType = &mt
		}
		if d.FileSize > 0 {
			size := d.FileSize
			att.FileSize = &size
		}
		out = append(out, att)
	}

	return out
}

// MergeAttachments appends attachments from extra whose FileUniqueID is not
// already present in base.
func MergeAttachments(base []Attachment, extra ...[]Attachment) []Attachment {
	seen := make(map[string]struct{}, len(base))
	out := make([]Attachment, 0, len(base))
	for _, a := range base {
		if _, ok := seen[a.FileUniqueID]; ok {
			continue
		}
		seen[a.FileUniqueID] = struct{}{}
		out = append(out, a)
	}
	for _, list := range extra {
		for _, a := range list {
			if _, ok := seen[a.FileUniqueID]; ok {
				continue
			}
			seen[a.FileUniqueID] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// MimeTypeOrDefault is the attachment's mime type, falling back to a
// type derived from its kind.
func (a Attachment) MimeTypeOrDefault() string {
	if a.MimeType != nil && *a.MimeType != "" {
		return *a.MimeType
	}
	if a.Kind == KindPhoto {
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func (a Attachment) Size() int64 {
	if a.FileSize == nil {
		return 0
	}
	return *a.FileSize
}
