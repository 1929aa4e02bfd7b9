package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kgellert/gemini-relay/internal/commands"
	"github.com/kgellert/gemini-relay/internal/generation"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/mediagroup"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/metrics"
	"github.com/kgellert/gemini-relay/internal/retry"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
	"google.golang.org/genai"
)

const pollRetryDelay = 3 * time.Second

var allowedUpdates = []string{"message", "message_reaction"}

// Transport is the Bot API surface used to answer users.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyToID int64) (*telegram.Message, error)
	SendPhoto(ctx context.Context, chatID int64, file telegram.InputFile, caption string, replyToID int64) (*telegram.Message, error)
	SendDocument(ctx context.Context, chatID int64, file telegram.InputFile, caption string, replyToID int64) (*telegram.Message, error)
	SendMediaGroup(ctx context.Context, chatID int64, items []telegram.InputMedia, replyToID int64) ([]*telegram.Message, error)
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
}

type Updater interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]telegram.Update, int64, error)
}

type HistoryBuilder interface {
	Build(ctx context.Context, chatID int64, start *telegram.Message) []messages.ConversationTurn
}

type PromptBuilder interface {
	Build(ctx context.Context, in generation.PromptInput) ([]*genai.Content, error)
}

type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

type Authorizer interface {
	Authorized(chatID, userID int64) bool
}

type Archiver interface {
	Store(ctx context.Context, chatID, messageID int64, data []byte, contentType string) (string, error)
}

type Events interface {
	Publish(chatID int64, eventType string, payload any)
}

type noEvents struct{}

func (noEvents) Publish(int64, string, any) {}

type Settings struct {
	ChatModel        string
	ImageModel       string
	SummarizeModel   string
	Timeout          time.Duration
	SummarizeTimeout time.Duration
	ThinkingBudget   int32
	ProcessingEmoji  string
	RetryEmojis      []string
	PollTimeout      time.Duration
	MediaGroupWindow time.Duration
	MaxOpenGroups    int
}

type Deps struct {
	Transport Transport
	Updates   Updater
	Store     messages.Repo
	History   HistoryBuilder
	Prompts   PromptBuilder
	Generator Generator
	Resolver  *commands.Resolver
	Auth      Authorizer
	Archive   Archiver
	Events    Events
	Metrics   *metrics.Metrics
	Settings  Settings
	SelfID    int64
	Log       *slog.Logger
}

// Bot consumes transport updates and answers commands.
type Bot struct {
	tg       Transport
	updates  Updater
	store    messages.Repo
	history  HistoryBuilder
	prompts  PromptBuilder
	gen      Generator
	resolver *commands.Resolver
	auth     Authorizer
	events   Events
	metrics  *metrics.Metrics
	settings Settings
	selfID   int64
	log      *slog.Logger

	journal  *journal
	sender   *sender
	handlers map[string]Handler
	retry    *retry.Controller
	groups   *mediagroup.Aggregator
	retryOn  map[string]struct{}

	ctx context.Context
	wg  sync.WaitGroup
}

func New(d Deps) (*Bot, error) {
	const op = "bot.New"

	if d.Events == nil {
		d.Events = noEvents{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	b := &Bot{
		tg:       d.Transport,
		updates:  d.Updates,
		store:    d.Store,
		history:  d.History,
		prompts:  d.Prompts,
		gen:      d.Generator,
		resolver: d.Resolver,
		auth:     d.Auth,
		events:   d.Events,
		metrics:  d.Metrics,
		settings: d.Settings,
		selfID:   d.SelfID,
		log:      d.Log,
		retryOn:  make(map[string]struct{}, len(d.Settings.RetryEmojis)),
		ctx:      context.Background(),
	}

	b.journal = &journal{
		store:   d.Store,
		events:  d.Events,
		metrics: d.Metrics,
		selfID:  d.SelfID,
		log:     d.Log,
	}
	b.sender = newSender(d.Transport, b.journal, d.Archive, d.Log)
	b.handlers = b.buildHandlers()
	for _, spec := range d.Resolver.Specs() {
		if _, ok := b.handlers[spec.Name]; !ok {
			return nil, fmt.Errorf("%s: no handler for command %q", op, spec.Name)
		}
	}

	for _, e := range d.Settings.RetryEmojis {
		b.retryOn[e] = struct{}{}
	}
	b.retry = retry.New(d.Store, d.SelfID, b.redispatch, d.Log)
	b.groups = mediagroup.New(d.Settings.MediaGroupWindow, d.Settings.MaxOpenGroups, b.onUnit, d.Log)

	return b, nil
}

// Run long-polls for updates until ctx is done, then waits for in-flight
// work to finish.
func (b *Bot) Run(ctx context.Context) error {
	const op = "bot.Run"

	log := b.log.With(slog.String("op", op))

	b.ctx = ctx
	defer b.wg.Wait()
	defer b.flushPending(ctx)

	log.Info("polling for updates")

	var offset int64
	for {
		updates, next, err := b.updates.GetUpdates(ctx, offset, b.settings.PollTimeout, allowedUpdates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !telegram.IsPollTimeout(err) {
				log.Error("failed to get updates", sl.Err(err))
				t := time.NewTimer(pollRetryDelay)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
			continue
		}

		offset = next
		for _, u := range updates {
			b.HandleUpdate(u)
		}
	}
}

// HandleUpdate routes one update. Messages go through media-group
// aggregation; reactions may trigger a retry.
func (b *Bot) HandleUpdate(u telegram.Update) {
	switch {
	case u.Message != nil:
		b.groups.Accept(u.Message)
	case u.MessageReaction != nil:
		b.onReaction(u.MessageReaction)
	}
}

// flushPending stops aggregation and stores the album messages that were
// still waiting for their window. They are not dispatched.
func (b *Bot) flushPending(ctx context.Context) {
	pending := b.groups.Stop()
	if len(pending) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, msg := range pending {
		b.journal.persist(ctx, msg)
	}
	b.log.Info("stored pending media group messages on shutdown", slog.Int("count", len(pending)))
}

// Wait blocks until every spawned unit of work has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) spawn(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

func (b *Bot) onUnit(primary *telegram.Message, siblings []*telegram.Message) {
	if len(siblings) > 0 || primary.MediaGroupID != "" {
		b.metrics.MediaGroupsFlushed.Inc()
		b.metrics.MediaGroupSize.Observe(float64(len(siblings) + 1))
	}

	b.spawn(func(ctx context.Context) {
		if err := b.Dispatch(ctx, primary, siblings); err != nil {
			b.log.Error("dispatch failed",
				slog.Int64("chat_id", primary.Chat.ID),
				slog.Int64("message_id", primary.MessageID),
				sl.Err(err),
			)
		}
	})
}

func (b *Bot) onReaction(r *telegram.MessageReactionUpdated) {
	if r.User == nil || !b.auth.Authorized(r.Chat.ID, r.User.ID) {
		return
	}

	triggered := false
	for _, e := range r.AddedEmojis() {
		if _, ok := b.retryOn[e]; ok {
			triggered = true
			break
		}
	}
	if !triggered {
		return
	}

	chatID, messageID := r.Chat.ID, r.MessageID
	b.spawn(func(ctx context.Context) {
		outcome := b.retry.OnAcknowledge(ctx, chatID, messageID)
		b.metrics.RetryTriggers.WithLabelValues(string(outcome)).Inc()
		b.events.Publish(chatID, ws.EventRetryTriggered, ws.RetryTriggeredPayload{
			MessageID: messageID,
			Outcome:   string(outcome),
		})
	})
}

func (b *Bot) redispatch(ctx context.Context, msg *telegram.Message) error {
	return b.Dispatch(ctx, msg, nil)
}
