package telegram

import (
	"encoding/json"
	"strings"
)

type Update struct {
	UpdateID        int64                   `json:"update_id"`
	Message         *Message                `json:"message,omitempty"`
	MessageReaction *MessageReactionUpdated `json:"message_reaction,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID       string     `json:"file_id"`
	FileUniqueID string     `json:"file_unique_id"`
	FileName     string     `json:"file_name,omitempty"`
	MimeType     string     `json:"mime_type,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	Thumbnail    *PhotoSize `json:"thumbnail,omitempty"`
}

// Message is the subset of the Bot API message object the relay reads.
// The full JSON body it was decoded from is kept and returned by Payload,
// so fields not modelled here survive persistence.
type Message struct {
	MessageID     int64           `json:"message_id"`
	Date          int64           `json:"date"`
	Chat          Chat            `json:"chat"`
	From          *User           `json:"from,omitempty"`
	ReplyTo       *Message        `json:"reply_to_message,omitempty"`
	MediaGroupID  string          `json:"media_group_id,omitempty"`
	Text          string          `json:"text,omitempty"`
	Caption       string          `json:"caption,omitempty"`
	Photo         []PhotoSize     `json:"photo,omitempty"`
	Document      *Document       `json:"document,omitempty"`
	ForwardOrigin json.RawMessage `json:"forward_origin,omitempty"`

	raw json.RawMessage
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Payload returns the original event body when the message was decoded
// from the wire, and a fresh encoding otherwise.
func (m *Message) Payload() ([]byte, error) {
	if len(m.raw) > 0 {
		return m.raw, nil
	}
	return json.Marshal(m)
}

// Content is the text of the message or, for media, its caption.
func (m *Message) Content() string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func (m *Message) HasMedia() bool {
	return m != nil && (len(m.Photo) > 0 || m.Document != nil)
}

func (m *Message) SenderID() int64 {
	if m == nil || m.From == nil {
		return 0
	}
	return m.From.ID
}

// IsFrom reports whether userID authored the message.
func (m *Message) IsFrom(userID int64) bool {
	return m != nil && m.From != nil && m.From.ID == userID
}

func (m *Message) StartsWithCommand() bool {
	return strings.HasPrefix(m.Content(), "/")
}

// LargestPhoto returns the last (largest) photo size, or nil.
func (m *Message) LargestPhoto() *PhotoSize {
	if m == nil || len(m.Photo) == 0 {
		return nil
	}
	return &m.Photo[len(m.Photo)-1]
}

type ReactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji,omitempty"`
}

type MessageReactionUpdated struct {
	Chat        Chat           `json:"chat"`
	MessageID   int64          `json:"message_id"`
	User        *User          `json:"user,omitempty"`
	Date        int64          `json:"date"`
	OldReaction []ReactionType `json:"old_reaction"`
	NewReaction []ReactionType `json:"new_reaction"`
}

// AddedEmojis returns emojis present in the new reaction set but not in the old one.
func (u *MessageReactionUpdated) AddedEmojis() []string {
	old := make(map[string]struct{}, len(u.OldReaction))
	for _, r := range u.OldReaction {
		old[r.Emoji] = struct{}{}
	}

	var added []string
	for _, r := range u.NewReaction {
		if r.Type != "emoji" {
			continue
		}
		if _, ok := old[r.Emoji]; ok {
			continue
		}
		added = append(added, r.Emoji)
	}
	return added
}

type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

// InputFile is an upload sent as a multipart part.
type InputFile struct {
	Name     string
	MimeType string
	Data     []byte
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
)

type InputMedia struct {
	Kind    MediaKind
	File    InputFile
	Caption string
}
