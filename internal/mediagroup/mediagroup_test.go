package mediagroup

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type unit struct {
	primary  *telegram.Message
	siblings []*telegram.Message
}

type collector struct {
	mu    sync.Mutex
	units []unit
	ch    chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 16)}
}

func (c *collector) onReady(primary *telegram.Message, siblings []*telegram.Message) {
	c.mu.Lock()
	c.units = append(c.units, unit{primary, siblings})
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []unit {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for unit %d", i+1)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]unit(nil), c.units...)
}

func groupMsg(id int64, group, caption string) *telegram.Message {
	return &telegram.Message{
		MessageID:    id,
		Chat:         telegram.Chat{ID: 1},
		MediaGroupID: group,
		Caption:      caption,
		Photo:        []telegram.PhotoSize{{FileID: "f", FileUniqueID: "u"}},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregator_CaptionedCommandIsPrimary(t *testing.T) {
	c := newCollector()
	agg := New(500*time.Millisecond, 0, c.onReady, discard())
	defer agg.Stop()

	agg.Accept(groupMsg(1, "G1", ""))
	time.Sleep(200 * time.Millisecond)
	agg.Accept(groupMsg(2, "G1", "/image draw these"))
	time.Sleep(200 * time.Millisecond)
	agg.Accept(groupMsg(3, "G1", ""))

	units := c.wait(t, 1)
	require.Len(t, units, 1)
	assert.Equal(t, int64(2), units[0].primary.MessageID)
	require.Len(t, units[0].siblings, 2)
	assert.Equal(t, int64(1), units[0].siblings[0].MessageID)
	assert.Equal(t, int64(3), units[0].siblings[1].MessageID)
	assert.Zero(t, agg.Pending())
}

func TestAggregator_FirstArrivalWithoutCommand(t *testing.T) {
	c := newCollector()
	agg := New(50*time.Millisecond, 0, c.onReady, discard())
	defer agg.Stop()

	for id := int64(1); id <= 4; id++ {
		agg.Accept(groupMsg(id, "G", "no command"))
	}

	units := c.wait(t, 1)
	assert.Equal(t, int64(1), units[0].primary.MessageID)
	assert.Len(t, units[0].siblings, 3)
}

func TestAggregator_UngroupedPassesThrough(t *testing.T) {
	c := newCollector()
	agg := New(time.Hour, 0, c.onReady, discard())
	defer agg.Stop()

	agg.Accept(&telegram.Message{MessageID: 9, Text: "/gemini hi"})

	units := c.wait(t, 1)
	assert.Equal(t, int64(9), units[0].primary.MessageID)
	assert.Empty(t, units[0].siblings)
	assert.Zero(t, agg.Pending())
}

func TestAggregator_GroupsAreIndependent(t *testing.T) {
	c := newCollector()
	agg := New(50*time.Millisecond, 0, c.onReady, discard())
	defer agg.Stop()

	agg.Accept(groupMsg(1, "A", ""))
	agg.Accept(groupMsg(2, "B", ""))
	agg.Accept(groupMsg(3, "A", ""))

	units := c.wait(t, 2)
	sizes := map[string]int{}
	for _, u := range units {
		sizes[u.primary.MediaGroupID] = 1 + len(u.siblings)
	}
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, sizes)
}

func TestAggregator_EvictsOldestWhenFull(t *testing.T) {
	c := newCollector()
	agg := New(time.Hour, 2, c.onReady, discard())
	defer agg.Stop()

	agg.Accept(groupMsg(1, "A", ""))
	agg.Accept(groupMsg(2, "B", ""))
	agg.Accept(groupMsg(3, "C", ""))

	units := c.wait(t, 1)
	assert.Equal(t, "A", units[0].primary.MediaGroupID)
	assert.Equal(t, 2, agg.Pending())
}

func TestAggregator_StopCancelsPending(t *testing.T) {
	c := newCollector()
	agg := New(50*time.Millisecond, 0, c.onReady, discard())

	agg.Accept(groupMsg(1, "A", ""))
	assert.Len(t, agg.Stop(), 1)
	agg.Accept(groupMsg(2, "A", ""))

	time.Sleep(150 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.units)
}

func TestAggregator_StopReturnsBufferedMessages(t *testing.T) {
	c := newCollector()
	agg := New(time.Hour, 0, c.onReady, discard())

	agg.Accept(groupMsg(1, "A", ""))
	agg.Accept(groupMsg(2, "B", "/gemini hi"))
	agg.Accept(groupMsg(3, "A", ""))

	pending := agg.Stop()
	require.Len(t, pending, 3)
	assert.Equal(t, int64(1), pending[0].MessageID)
	assert.Equal(t, int64(3), pending[1].MessageID)
	assert.Equal(t, int64(2), pending[2].MessageID)
	assert.Equal(t, 0, agg.Pending())
	assert.Empty(t, agg.Stop())
}

func TestSplitPrimary(t *testing.T) {
	msgs := []*telegram.Message{
		groupMsg(1, "G", "plain"),
		groupMsg(2, "G", ""),
		groupMsg(3, "G", "/img 2k"),
		groupMsg(4, "G", "/gemini"),
	}

	primary, siblings := SplitPrimary(msgs)
	assert.Equal(t, int64(3), primary.MessageID)
	require.Len(t, siblings, 3)
	assert.Equal(t, []int64{1, 2, 4}, []int64{siblings[0].MessageID, siblings[1].MessageID, siblings[2].MessageID})

	primary, siblings = SplitPrimary(nil)
	assert.Nil(t, primary)
	assert.Nil(t, siblings)
}
