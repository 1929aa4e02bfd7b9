package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
)

const DefaultDepthLimit = 15

// Store is the read side of the message store used to rebuild history.
type Store interface {
	Get(ctx context.Context, chatID, messageID int64) (*messages.StoredMessage, error)
	Attachments(ctx context.Context, chatID, messageID int64) ([]messages.Attachment, error)
	GroupSiblings(ctx context.Context, chatID int64, groupID string) ([]messages.StoredMessage, error)
	GenerationLink(ctx context.Context, chatID, messageID int64) (*messages.GenerationLink, error)
}

type Resolver struct {
	store      Store
	selfID     int64
	depthLimit int
	log        *slog.Logger
}

func New(store Store, selfID int64, depthLimit int, log *slog.Logger) *Resolver {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}
	return &Resolver{
		store:      store,
		selfID:     selfID,
		depthLimit: depthLimit,
		log:        log,
	}
}

// Build walks the reply chain backwards from start and returns the
// conversation oldest first. Store failures degrade the result and are
// logged; they never abort the walk.
func (r *Resolver) Build(ctx context.Context, chatID int64, start *telegram.Message) []messages.ConversationTurn {
	const op = "history.Build"

	log := r.log.With(
		slog.String("op", op),
		slog.Int64("chat_id", chatID),
	)

	var turns []messages.ConversationTurn
	visited := make(map[int64]struct{})
	cur := start

	for cur != nil && len(turns) < r.depthLimit {
		if _, seen := visited[cur.MessageID]; seen {
			break
		}
		visited[cur.MessageID] = struct{}{}

		turn := messages.ConversationTurn{
			MessageID: cur.MessageID,
			Role:      r.role(cur),
			Text:      cur.Content(),
		}

		if cur.MediaGroupID != "" {
			turn.Attachments, turn.Text = r.groupAttachments(ctx, log, chatID, cur, visited)
		} else {
			stored, err := r.store.Attachments(ctx, chatID, cur.MessageID)
			if err != nil {
				log.Warn("failed to load attachments", slog.Int64("message_id", cur.MessageID), sl.Err(err))
			}
			turn.Attachments = messages.MergeAttachments(messages.AttachmentsFromMessage(cur), stored)
		}

		turn.Fragments = r.fragments(ctx, log, chatID, cur.MessageID)

		turns = append(turns, turn)
		cur = r.next(ctx, log, chatID, cur)
	}

	// collected newest first
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns
}

func (r *Resolver) role(msg *telegram.Message) messages.Role {
	if r.selfID != 0 && msg.IsFrom(r.selfID) {
		return messages.RoleModel
	}
	return messages.RoleUser
}

// groupAttachments unions the files of every stored sibling of cur's media
// group with cur's own. All siblings are marked visited. When cur has no
// text of its own, the first sibling caption is used.
func (r *Resolver) groupAttachments(
	ctx context.Context,
	log *slog.Logger,
	chatID int64,
	cur *telegram.Message,
	visited map[int64]struct{},
) ([]messages.Attachment, string) {
	text := cur.Content()
	atts := messages.AttachmentsFromMessage(cur)

	siblings, err := r.store.GroupSiblings(ctx, chatID, cur.MediaGroupID)
	if err != nil {
		log.Warn("failed to load media group", slog.String("media_group_id", cur.MediaGroupID), sl.Err(err))
		return atts, text
	}

	for _, s := range siblings {
		visited[s.MessageID] = struct{}{}

		stored, err := r.store.Attachments(ctx, chatID, s.MessageID)
		if err != nil {
			log.Warn("failed to load attachments", slog.Int64("message_id", s.MessageID), sl.Err(err))
		}
		atts = messages.MergeAttachments(atts, messages.AttachmentsFromMessage(&s.Message), stored)

		if text == "" {
			text = s.Message.Content()
		}
	}

	return atts, text
}

// fragments returns the stored response fragments for messageID, following
// at most one linked_message_id hop.
func (r *Resolver) fragments(ctx context.Context, log *slog.Logger, chatID, messageID int64) []byte {
	link, err := r.store.GenerationLink(ctx, chatID, messageID)
	if err != nil {
		if !errors.Is(err, messages.ErrLinkNotExist) {
			log.Warn("failed to load generation link", slog.Int64("message_id", messageID), sl.Err(err))
		}
		return nil
	}
	if len(link.Fragments) > 0 {
		return link.Fragments
	}
	if link.LinkedMessageID == nil || *link.LinkedMessageID == messageID {
		return nil
	}

	owner, err := r.store.GenerationLink(ctx, chatID, *link.LinkedMessageID)
	if err != nil {
		if !errors.Is(err, messages.ErrLinkNotExist) {
			log.Warn("failed to load linked generation", slog.Int64("message_id", *link.LinkedMessageID), sl.Err(err))
		}
		return nil
	}
	return owner.Fragments
}

// next returns the message cur replies to. The live reply object wins;
// otherwise the stored copy of cur is consulted and its parent loaded.
func (r *Resolver) next(ctx context.Context, log *slog.Logger, chatID int64, cur *telegram.Message) *telegram.Message {
	if cur.ReplyTo != nil {
		return cur.ReplyTo
	}

	stored, err := r.store.Get(ctx, chatID, cur.MessageID)
	if err != nil {
		if !errors.Is(err, messages.ErrMessageNotExist) {
			log.Warn("failed to load message", slog.Int64("message_id", cur.MessageID), sl.Err(err))
		}
		return nil
	}

	var parentID int64
	switch {
	case stored.Message.ReplyTo != nil:
		parentID = stored.Message.ReplyTo.MessageID
	case stored.ReplyToMessageID != nil:
		parentID = *stored.ReplyToMessageID
	default:
		return nil
	}

	parent, err := r.store.Get(ctx, chatID, parentID)
	if err != nil {
		if !errors.Is(err, messages.ErrMessageNotExist) {
			log.Warn("failed to load reply parent", slog.Int64("message_id", parentID), sl.Err(err))
		}
		if stored.Message.ReplyTo != nil {
			return stored.Message.ReplyTo
		}
		return nil
	}

	return &parent.Message
}

// BuildFromStore rebuilds the conversation ending at a persisted message.
func (r *Resolver) BuildFromStore(ctx context.Context, chatID, messageID int64) (*messages.GetHistoryResponse, error) {
	const op = "history.BuildFromStore"

	stored, err := r.store.Get(ctx, chatID, messageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	turns := r.Build(ctx, chatID, &stored.Message)
	if turns == nil {
		turns = []messages.ConversationTurn{}
	}

	return &messages.GetHistoryResponse{
		ChatID:    chatID,
		MessageID: messageID,
		Turns:     turns,
	}, nil
}
