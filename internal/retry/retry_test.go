package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	chatID     = int64(111)
	selfID     = int64(123)
	targetID   = int64(222)
	originalID = int64(333)
)

type fakeStore struct {
	delay    time.Duration
	msgs     map[int64]*messages.StoredMessage
	meta     map[int64]string
	gets     atomic.Int32
	metaGets atomic.Int32
}

func (f *fakeStore) Get(_ context.Context, _, messageID int64) (*messages.StoredMessage, error) {
	f.gets.Add(1)
	time.Sleep(f.delay)
	m, ok := f.msgs[messageID]
	if !ok {
		return nil, messages.ErrMessageNotExist
	}
	return m, nil
}

func (f *fakeStore) Metadata(_ context.Context, _, messageID int64) (*messages.CommandMetadata, error) {
	f.metaGets.Add(1)
	ct, ok := f.meta[messageID]
	if !ok {
		return nil, messages.ErrMetadataNotExist
	}
	return &messages.CommandMetadata{ChatID: chatID, MessageID: messageID, CommandType: ct}, nil
}

func newStore(classification string) *fakeStore {
	original := telegram.Message{MessageID: originalID, Chat: telegram.Chat{ID: chatID}, From: &telegram.User{ID: 7}, Text: "/gemini original request"}
	target := telegram.Message{
		MessageID: targetID,
		Chat:      telegram.Chat{ID: chatID},
		From:      &telegram.User{ID: selfID, IsBot: true},
		Text:      "something went wrong",
		ReplyTo:   &telegram.Message{MessageID: originalID, Chat: telegram.Chat{ID: chatID}},
	}
	return &fakeStore{
		msgs: map[int64]*messages.StoredMessage{
			targetID:   {ChatID: chatID, MessageID: targetID, FromSelf: true, Message: target},
			originalID: {ChatID: chatID, MessageID: originalID, Message: original},
		},
		meta: map[int64]string{targetID: classification},
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []*telegram.Message
	err  error
}

func (r *recorder) dispatch(_ context.Context, msg *telegram.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestController_ConcurrentSignalsDispatchOnce(t *testing.T) {
	store := newStore(messages.ClassificationError)
	store.delay = 50 * time.Millisecond
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	const n = 3
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i] = c.OnAcknowledge(context.Background(), chatID, targetID)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(2), store.gets.Load())
	assert.Equal(t, int32(1), store.metaGets.Load())
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "/gemini original request", rec.msgs[0].Text)

	counts := map[Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeDispatched: 1, OutcomeDuplicate: n - 1}, counts)
}

func TestController_GateReleasedAfterCompletion(t *testing.T) {
	store := newStore("error: quota exceeded")
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeDispatched, c.OnAcknowledge(context.Background(), chatID, targetID))
	assert.Equal(t, OutcomeDispatched, c.OnAcknowledge(context.Background(), chatID, targetID))
	assert.Len(t, rec.msgs, 2)
}

func TestController_NonErrorReplyIgnored(t *testing.T) {
	store := newStore("gemini")
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeIgnored, c.OnAcknowledge(context.Background(), chatID, targetID))
	assert.Equal(t, int32(1), store.gets.Load())
	assert.Empty(t, rec.msgs)
}

func TestController_UserMessageIgnored(t *testing.T) {
	store := newStore(messages.ClassificationError)
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeIgnored, c.OnAcknowledge(context.Background(), chatID, originalID))
	assert.Zero(t, store.metaGets.Load())
	assert.Empty(t, rec.msgs)
}

func TestController_UnknownTargetIgnored(t *testing.T) {
	store := newStore(messages.ClassificationError)
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeIgnored, c.OnAcknowledge(context.Background(), chatID, 9999))
	assert.Empty(t, rec.msgs)
}

func TestController_FallsBackToEmbeddedOriginal(t *testing.T) {
	store := newStore(messages.ClassificationError)
	delete(store.msgs, originalID)
	rec := &recorder{}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeDispatched, c.OnAcknowledge(context.Background(), chatID, targetID))
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, originalID, rec.msgs[0].MessageID)
}

func TestController_DispatchFailure(t *testing.T) {
	store := newStore(messages.ClassificationError)
	rec := &recorder{err: errors.New("boom")}
	c := New(store, selfID, rec.dispatch, discard())

	assert.Equal(t, OutcomeFailed, c.OnAcknowledge(context.Background(), chatID, targetID))
	// gate is free again
	assert.Equal(t, OutcomeFailed, c.OnAcknowledge(context.Background(), chatID, targetID))
}
