package history

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chatID = int64(5)
	selfID = int64(999)
	userID = int64(7)
)

type fakeStore struct {
	msgs  map[int64]*messages.StoredMessage
	atts  map[int64][]messages.Attachment
	links map[int64]*messages.GenerationLink
	gets  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		msgs:  map[int64]*messages.StoredMessage{},
		atts:  map[int64][]messages.Attachment{},
		links: map[int64]*messages.GenerationLink{},
	}
}

func (f *fakeStore) put(msg *telegram.Message) {
	sm := &messages.StoredMessage{
		ChatID:       msg.Chat.ID,
		MessageID:    msg.MessageID,
		SenderID:     msg.SenderID(),
		MediaGroupID: msg.MediaGroupID,
		Message:      *msg,
	}
	if msg.ReplyTo != nil {
		id := msg.ReplyTo.MessageID
		sm.ReplyToMessageID = &id
	}
	f.msgs[msg.MessageID] = sm
	f.atts[msg.MessageID] = messages.AttachmentsFromMessage(msg)
}

func (f *fakeStore) Get(_ context.Context, _, messageID int64) (*messages.StoredMessage, error) {
	f.gets++
	m, ok := f.msgs[messageID]
	if !ok {
		return nil, messages.ErrMessageNotExist
	}
	return m, nil
}

func (f *fakeStore) Attachments(_ context.Context, _, messageID int64) ([]messages.Attachment, error) {
	return f.atts[messageID], nil
}

func (f *fakeStore) GroupSiblings(_ context.Context, _ int64, groupID string) ([]messages.StoredMessage, error) {
	var out []messages.StoredMessage
	for id := int64(0); id < 100; id++ {
		if m, ok := f.msgs[id]; ok && m.MediaGroupID == groupID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) GenerationLink(_ context.Context, _, messageID int64) (*messages.GenerationLink, error) {
	l, ok := f.links[messageID]
	if !ok {
		return nil, messages.ErrLinkNotExist
	}
	return l, nil
}

func msg(id int64, from int64, text string, replyTo *telegram.Message) *telegram.Message {
	return &telegram.Message{
		MessageID: id,
		Chat:      telegram.Chat{ID: chatID},
		From:      &telegram.User{ID: from},
		Text:      text,
		ReplyTo:   replyTo,
	}
}

// parentRef mimics what the transport embeds: the parent without its own parent.
func parentRef(m *telegram.Message) *telegram.Message {
	c := *m
	c.ReplyTo = nil
	return &c
}

func newResolver(store Store, depth int) *Resolver {
	return New(store, selfID, depth, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuild_LinearChainOldestFirst(t *testing.T) {
	store := newFakeStore()

	m1 := msg(1, userID, "/gemini hello", nil)
	m2 := msg(2, selfID, "hi there", parentRef(m1))
	m3 := msg(3, userID, "how are you", parentRef(m2))
	m4 := msg(4, selfID, "fine", parentRef(m3))
	for _, m := range []*telegram.Message{m1, m2, m3, m4} {
		store.put(m)
	}

	start := msg(5, userID, "great", parentRef(m4))
	turns := newResolver(store, 15).Build(context.Background(), chatID, start)

	require.Len(t, turns, 5)
	wantText := []string{"/gemini hello", "hi there", "how are you", "fine", "great"}
	wantRole := []messages.Role{messages.RoleUser, messages.RoleModel, messages.RoleUser, messages.RoleModel, messages.RoleUser}
	for i, turn := range turns {
		assert.Equal(t, wantText[i], turn.Text)
		assert.Equal(t, wantRole[i], turn.Role)
	}
}

func TestBuild_CycleTerminates(t *testing.T) {
	store := newFakeStore()

	a := msg(1, userID, "a", nil)
	b := msg(2, selfID, "b", nil)
	a.ReplyTo = parentRef(b)
	b.ReplyTo = parentRef(a)
	store.put(a)
	store.put(b)

	turns := newResolver(store, 15).Build(context.Background(), chatID, a)
	require.Len(t, turns, 2)
	assert.Equal(t, "b", turns[0].Text)
	assert.Equal(t, "a", turns[1].Text)
}

func TestBuild_DepthLimit(t *testing.T) {
	store := newFakeStore()

	var prev *telegram.Message
	for id := int64(1); id <= 30; id++ {
		var reply *telegram.Message
		if prev != nil {
			reply = parentRef(prev)
		}
		m := msg(id, userID, "t", reply)
		store.put(m)
		prev = m
	}

	turns := newResolver(store, 15).Build(context.Background(), chatID, prev)
	require.Len(t, turns, 15)
	assert.Equal(t, int64(16), turns[0].MessageID)
	assert.Equal(t, int64(30), turns[14].MessageID)
}

func TestBuild_MediaGroupUnion(t *testing.T) {
	store := newFakeStore()

	photo := func(id int64, uid, caption string) *telegram.Message {
		m := msg(id, userID, "", nil)
		m.MediaGroupID = "G1"
		m.Caption = caption
		m.Photo = []telegram.PhotoSize{{FileID: "id-" + uid, FileUniqueID: uid}}
		return m
	}
	p1 := photo(1, "a", "")
	p2 := photo(2, "b", "/image draw these")
	p3 := photo(3, "c", "")
	for _, m := range []*telegram.Message{p1, p2, p3} {
		store.put(m)
	}

	answer := msg(4, selfID, "done", parentRef(p2))
	store.put(answer)

	start := msg(5, userID, "again", parentRef(answer))
	turns := newResolver(store, 15).Build(context.Background(), chatID, start)

	require.Len(t, turns, 3)
	group := turns[0]
	assert.Equal(t, "/image draw these", group.Text)
	var uids []string
	for _, a := range group.Attachments {
		uids = append(uids, a.FileUniqueID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, uids)
}

func TestBuild_LiveAndStoredAttachmentsDeduplicated(t *testing.T) {
	store := newFakeStore()

	m := msg(1, userID, "", nil)
	m.Caption = "/gemini what is this"
	m.Photo = []telegram.PhotoSize{{FileID: "x", FileUniqueID: "u1"}}
	store.put(m)
	store.atts[1] = append(store.atts[1], messages.Attachment{FileUniqueID: "u2", FileID: "y", Kind: messages.KindDocument})

	turns := newResolver(store, 15).Build(context.Background(), chatID, m)
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Attachments, 2)
	assert.Equal(t, "u1", turns[0].Attachments[0].FileUniqueID)
	assert.Equal(t, "u2", turns[0].Attachments[1].FileUniqueID)
}

func TestBuild_FragmentsFollowOneLink(t *testing.T) {
	store := newFakeStore()

	q := msg(1, userID, "/img a fox", nil)
	caption := msg(2, selfID, "here", parentRef(q))
	file := msg(3, selfID, "", parentRef(caption))
	for _, m := range []*telegram.Message{q, caption, file} {
		store.put(m)
	}

	frags := json.RawMessage(`[{"text":"here"}]`)
	owner := int64(2)
	store.links[2] = &messages.GenerationLink{ChatID: chatID, MessageID: 2, Fragments: frags}
	store.links[3] = &messages.GenerationLink{ChatID: chatID, MessageID: 3, LinkedMessageID: &owner}

	turns := newResolver(store, 15).Build(context.Background(), chatID, file)
	require.Len(t, turns, 3)
	assert.Nil(t, turns[0].Fragments)
	assert.JSONEq(t, string(frags), string(turns[1].Fragments))
	assert.JSONEq(t, string(frags), string(turns[2].Fragments))
}

func TestBuild_PrefersLiveReply(t *testing.T) {
	store := newFakeStore()

	parent := msg(1, userID, "parent", nil)
	start := msg(2, userID, "child", parent)

	turns := newResolver(store, 15).Build(context.Background(), chatID, start)
	require.Len(t, turns, 2)
	assert.Equal(t, "parent", turns[0].Text)
	// only the unknown parent itself is looked up, never the start message
	assert.Equal(t, 1, store.gets)
}

type failingStore struct{ *fakeStore }

func (f failingStore) Attachments(context.Context, int64, int64) ([]messages.Attachment, error) {
	return nil, errors.New("disk on fire")
}

func TestBuild_StoreFailureIsNotFatal(t *testing.T) {
	store := failingStore{newFakeStore()}

	m := msg(1, userID, "hello", nil)
	m.Photo = []telegram.PhotoSize{{FileID: "x", FileUniqueID: "u1"}}

	turns := newResolver(store, 15).Build(context.Background(), chatID, m)
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Attachments, 1)
}

func TestBuildFromStore(t *testing.T) {
	store := newFakeStore()
	m1 := msg(1, userID, "/gemini hello", nil)
	m2 := msg(2, selfID, "hi there", parentRef(m1))
	store.put(m1)
	store.put(m2)

	r := newResolver(store, 15)

	resp, err := r.BuildFromStore(context.Background(), chatID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.MessageID)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, "/gemini hello", resp.Turns[0].Text)

	_, err = r.BuildFromStore(context.Background(), chatID, 99)
	assert.ErrorIs(t, err, messages.ErrMessageNotExist)
}
