package mediagroup

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kgellert/gemini-relay/internal/telegram"
)

const (
	DefaultWindow    = 1000 * time.Millisecond
	DefaultMaxGroups = 256
)

// ReadyFunc receives one aggregated unit. siblings is empty for messages
// that are not part of a media group.
type ReadyFunc func(primary *telegram.Message, siblings []*telegram.Message)

type buffer struct {
	msgs  []*telegram.Message
	timer *time.Timer
	seq   uint64
	born  uint64
}

// Aggregator coalesces messages sharing a media_group_id into one unit
// emitted after the group has been quiet for the window.
type Aggregator struct {
	window    time.Duration
	maxGroups int
	onReady   ReadyFunc
	log       *slog.Logger

	mu      sync.Mutex
	groups  map[string]*buffer
	counter uint64
	stopped bool
}

func New(window time.Duration, maxGroups int, onReady ReadyFunc, log *slog.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxGroups <= 0 {
		maxGroups = DefaultMaxGroups
	}
	return &Aggregator{
		window:    window,
		maxGroups: maxGroups,
		onReady:   onReady,
		log:       log,
		groups:    make(map[string]*buffer),
	}
}

// Accept buffers msg when it belongs to a media group and restarts the
// group's timer. Other messages are handed to onReady synchronously.
func (a *Aggregator) Accept(msg *telegram.Message) {
	if msg == nil {
		return
	}
	if msg.MediaGroupID == "" {
		a.onReady(msg, nil)
		return
	}

	key := msg.MediaGroupID

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}

	var evicted []*telegram.Message

	b, ok := a.groups[key]
	if !ok {
		if len(a.groups) >= a.maxGroups {
			evicted = a.evictOldestLocked()
		}
		a.counter++
		b = &buffer{born: a.counter}
		a.groups[key] = b
	}

	b.msgs = append(b.msgs, msg)
	b.seq++
	seq := b.seq
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(a.window, func() { a.fire(key, seq) })
	a.mu.Unlock()

	if evicted != nil {
		a.emit(evicted)
	}
}

func (a *Aggregator) evictOldestLocked() []*telegram.Message {
	var (
		oldestKey string
		oldest    *buffer
	)
	for k, b := range a.groups {
		if oldest == nil || b.born < oldest.born {
			oldestKey, oldest = k, b
		}
	}
	if oldest == nil {
		return nil
	}

	oldest.timer.Stop()
	delete(a.groups, oldestKey)

	a.log.Warn("media group buffer full, flushing oldest group early",
		slog.String("media_group_id", oldestKey),
		slog.Int("size", len(oldest.msgs)),
	)

	return oldest.msgs
}

// fire flushes the group unless a later arrival has restarted its timer.
func (a *Aggregator) fire(key string, seq uint64) {
	a.mu.Lock()
	b, ok := a.groups[key]
	if !ok || b.seq != seq || a.stopped {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	msgs := b.msgs
	a.mu.Unlock()

	a.emit(msgs)
}

func (a *Aggregator) emit(msgs []*telegram.Message) {
	primary, siblings := SplitPrimary(msgs)
	if primary == nil {
		return
	}
	a.onReady(primary, siblings)
}

// SplitPrimary picks the first message whose text or caption starts with
// a command marker, else the first message. The rest keep arrival order.
func SplitPrimary(msgs []*telegram.Message) (*telegram.Message, []*telegram.Message) {
	if len(msgs) == 0 {
		return nil, nil
	}

	idx := 0
	for i, m := range msgs {
		if m.StartsWithCommand() {
			idx = i
			break
		}
	}

	siblings := make([]*telegram.Message, 0, len(msgs)-1)
	siblings = append(siblings, msgs[:idx]...)
	siblings = append(siblings, msgs[idx+1:]...)

	return msgs[idx], siblings
}

// Pending reports the number of groups still collecting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Stop cancels all pending timers and returns the messages still buffered,
// oldest group first. Later calls to Accept drop grouped messages.
func (a *Aggregator) Stop() []*telegram.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true

	pending := make([]*buffer, 0, len(a.groups))
	for k, b := range a.groups {
		b.timer.Stop()
		pending = append(pending, b)
		delete(a.groups, k)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].born < pending[j].born })

	var msgs []*telegram.Message
	for _, b := range pending {
		msgs = append(msgs, b.msgs...)
	}
	return msgs
}
