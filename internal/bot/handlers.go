package bot

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kgellert/gemini-relay/internal/commands"
	"github.com/kgellert/gemini-relay/internal/generation"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
	"google.golang.org/genai"
)

//go:embed prompts/summarize.md
var summarizePrompt string

const (
	CommandGemini    = "gemini"
	CommandImage     = "image"
	CommandMap       = "map"
	CommandSummarize = "summarize"
	CommandHelp      = "help"
	CommandStart     = "start"
)

const (
	defaultTimeout          = 10 * time.Minute
	defaultSummarizeTimeout = 2 * time.Minute
	defaultThinkingBudget   = 32768
)

const unexpectedErrorText = "An error occurred."

// CommandTable is the command set the relay answers.
func CommandTable() []commands.Spec {
	return []commands.Spec{
		{
			Name:           CommandGemini,
			Aliases:        []string{"chat", "g"},
			Description:    "Chat with Gemini.",
			ShowInList:     true,
			Conversational: true,
			RequiresPrompt: true,
		},
		{
			Name:        CommandImage,
			Aliases:     []string{"img"},
			Description: "Generate images with the Gemini image model.",
			ShowInList:  true,
			Parameters: []commands.Parameter{{
				Name:          "resolution",
				AllowedValues: []string{"1k", "2k", "4k"},
				Default:       "1k",
				Description:   "Image resolution",
			}},
			Conversational: true,
			RequiresPrompt: true,
		},
		{
			Name:           CommandMap,
			Description:    "Chat with Gemini with Google Maps enabled.",
			ShowInList:     true,
			Conversational: true,
			RequiresPrompt: true,
		},
		{
			Name:           CommandSummarize,
			Description:    "Summarize a message, a file or a conversation.",
			ShowInList:     true,
			RequiresPrompt: true,
		},
		{
			Name:        CommandHelp,
			Description: "Show help.",
			ShowInList:  true,
		},
		{
			Name:        CommandStart,
			Description: "Start the bot and show a short help.",
		},
	}
}

// Request is one resolved command ready to execute.
type Request struct {
	Message    *telegram.Message
	Siblings   []*telegram.Message
	Resolution *commands.Resolution
}

type Handler interface {
	Execute(ctx context.Context, req *Request) error
}

func (b *Bot) buildHandlers() map[string]Handler {
	timeout := b.settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	summarizeTimeout := b.settings.SummarizeTimeout
	if summarizeTimeout <= 0 {
		summarizeTimeout = defaultSummarizeTimeout
	}

	return map[string]Handler{
		CommandGemini: &genAIHandler{
			b:       b,
			command: CommandGemini,
			model:   b.settings.ChatModel,
			timeout: timeout,
			config:  b.chatConfig,
		},
		CommandImage: &genAIHandler{
			b:                 b,
			command:           CommandImage,
			model:             b.settings.ImageModel,
			timeout:           timeout,
			dropFunctionParts: true,
			config:            b.imageConfig,
		},
		CommandMap: &genAIHandler{
			b:       b,
			command: CommandMap,
			model:   b.settings.ChatModel,
			timeout: timeout,
			config:  b.mapConfig,
		},
		CommandSummarize: &genAIHandler{
			b:             b,
			command:       CommandSummarize,
			model:         b.settings.SummarizeModel,
			timeout:       summarizeTimeout,
			failurePrefix: "Summary failed: ",
			config:        b.summarizeConfig,
		},
		CommandHelp:  &helpHandler{b: b},
		CommandStart: &startHandler{b: b},
	}
}

func (b *Bot) thinking() *genai.ThinkingConfig {
	budget := b.settings.ThinkingBudget
	if budget == 0 {
		budget = defaultThinkingBudget
	}
	return &genai.ThinkingConfig{ThinkingBudget: &budget}
}

func (b *Bot) chatConfig(map[string]string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{CodeExecution: &genai.ToolCodeExecution{}},
			{URLContext: &genai.URLContext{}},
		},
		ThinkingConfig: b.thinking(),
	}
}

func (b *Bot) mapConfig(map[string]string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{GoogleMaps: &genai.GoogleMaps{}},
			{URLContext: &genai.URLContext{}},
		},
		ThinkingConfig: b.thinking(),
	}
}

func (b *Bot) imageConfig(args map[string]string) *genai.GenerateContentConfig {
	resolution := args["resolution"]
	if resolution == "" {
		resolution = "1k"
	}
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
		ImageConfig: &genai.ImageConfig{ImageSize: strings.ToUpper(resolution)},
	}
}

func (b *Bot) summarizeConfig(map[string]string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: summarizePrompt}},
		},
	}
}

// genAIHandler runs one generation for a conversational command.
type genAIHandler struct {
	b                 *Bot
	command           string
	model             string
	timeout           time.Duration
	dropFunctionParts bool
	failurePrefix     string
	config            func(args map[string]string) *genai.GenerateContentConfig
}

func (h *genAIHandler) Execute(ctx context.Context, req *Request) error {
	const op = "bot.genAIHandler.Execute"

	b := h.b
	msg := req.Message

	log := b.log.With(
		slog.String("op", op),
		slog.String("command", h.command),
		slog.Int64("chat_id", msg.Chat.ID),
		slog.Int64("message_id", msg.MessageID),
	)

	b.react(ctx, log, msg, b.settings.ProcessingEmoji)
	defer b.react(context.WithoutCancel(ctx), log, msg, "")

	turns := b.history.Build(ctx, msg.Chat.ID, msg)

	current := append([]*telegram.Message{msg}, req.Siblings...)
	contents, err := b.prompts.Build(ctx, generation.PromptInput{
		History:           turns,
		Current:           current,
		DropFunctionParts: h.dropFunctionParts,
	})
	switch {
	case errors.Is(err, generation.ErrEmptyPrompt), errors.Is(err, generation.ErrPromptTooLarge):
		log.Info("prompt rejected", sl.Err(err))
		if _, sendErr := b.sender.Reply(ctx, msg, Reply{Text: err.Error()}); sendErr != nil {
			return fmt.Errorf("%s: %w", op, sendErr)
		}
		return nil
	case err != nil:
		return h.fail(ctx, log, msg, err)
	}

	started := time.Now()
	res, err := b.gen.Generate(ctx, generation.Request{
		Model:    h.model,
		Contents: contents,
		Config:   h.config(req.Resolution.Args),
		Timeout:  h.timeout,
	})
	b.metrics.GenerationDuration.WithLabelValues(h.command).Observe(time.Since(started).Seconds())
	if err != nil {
		return h.fail(ctx, log, msg, err)
	}

	fragments, err := json.Marshal(res.Parts)
	if err != nil {
		log.Warn("failed to encode fragments", sl.Err(err))
		fragments = nil
	}

	_, err = b.sender.Reply(ctx, msg, Reply{
		Text:        generation.Format(res),
		Images:      res.Images,
		CommandType: h.command,
		Fragments:   fragments,
	})
	if err != nil {
		log.Error("failed to send reply", sl.Err(err))
		return b.replyUnexpected(ctx, msg, err)
	}

	return nil
}

// fail answers with a failure reply classified as an error so the user can
// retry it.
func (h *genAIHandler) fail(ctx context.Context, log *slog.Logger, msg *telegram.Message, cause error) error {
	const op = "bot.genAIHandler.fail"

	b := h.b

	log.Error("generation failed", sl.Err(cause))
	b.metrics.GenerationFailures.WithLabelValues(h.command).Inc()
	b.events.Publish(msg.Chat.ID, ws.EventGenerationFailed, ws.GenerationFailedPayload{
		RequestID: msg.MessageID,
		Command:   h.command,
		Error:     cause.Error(),
	})

	_, err := b.sender.Reply(ctx, msg, Reply{
		Text:        h.failurePrefix + failureText(cause),
		CommandType: messages.ClassificationError,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func failureText(err error) string {
	switch {
	case errors.Is(err, generation.ErrPromptBlocked):
		return "The prompt was blocked."
	case errors.Is(err, generation.ErrUnsafeResponse):
		return "The generated content was blocked by the safety policy."
	case errors.Is(err, generation.ErrMalformedToolCall):
		return "Function call error."
	case errors.Is(err, generation.ErrEmptyResponse):
		return "The response contained no data."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	}
	return "API error: " + rootCause(err).Error()
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// replyUnexpected tells the user something broke after generation. The
// reply is classified as an error so it can be retried.
func (b *Bot) replyUnexpected(ctx context.Context, msg *telegram.Message, cause error) error {
	const op = "bot.replyUnexpected"

	_, err := b.sender.Reply(ctx, msg, Reply{
		Text:        unexpectedErrorText,
		CommandType: messages.ClassificationError,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, errors.Join(cause, err))
	}
	return nil
}

func (b *Bot) react(ctx context.Context, log *slog.Logger, msg *telegram.Message, emoji string) {
	if b.settings.ProcessingEmoji == "" {
		return
	}
	if err := b.tg.SetMessageReaction(ctx, msg.Chat.ID, msg.MessageID, emoji); err != nil {
		log.Warn("failed to set reaction", slog.String("emoji", emoji), sl.Err(err))
	}
}

type helpHandler struct {
	b *Bot
}

func (h *helpHandler) Execute(ctx context.Context, req *Request) error {
	const op = "bot.helpHandler.Execute"

	b := h.b

	var text string
	if fields := strings.Fields(req.Resolution.CleanedText); len(fields) > 0 {
		name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		if spec, ok := b.resolver.Lookup(name); ok {
			text = commandDetail(spec)
		} else {
			text = "Unknown command: " + name
		}
	} else {
		text = "Available commands:\n\n" + commandList(b.resolver.Specs()) +
			"\nSend /help [command] for detailed usage."
	}

	if _, err := b.sender.Reply(ctx, req.Message, Reply{Text: text, CommandType: CommandHelp}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type startHandler struct {
	b *Bot
}

func (h *startHandler) Execute(ctx context.Context, req *Request) error {
	const op = "bot.startHandler.Execute"

	b := h.b

	text := "Hello! This is the Gemini AI bot. 🤖\n\nAvailable commands:\n" +
		commandList(b.resolver.Specs()) +
		"\nType a command, or just ask what you want to know."

	if _, err := b.sender.Reply(ctx, req.Message, Reply{Text: text, CommandType: CommandStart}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func commandList(specs []*commands.Spec) string {
	var sb strings.Builder
	for _, s := range specs {
		if !s.ShowInList {
			continue
		}
		fmt.Fprintf(&sb, "/%s - %s\n", s.Name, s.Description)
	}
	return sb.String()
}

func commandDetail(s *commands.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "/%s\n%s\n", s.Name, s.Description)
	if len(s.Aliases) > 0 {
		fmt.Fprintf(&sb, "Aliases: %s\n", strings.Join(s.Aliases, ", "))
	}
	if len(s.Parameters) > 0 {
		sb.WriteString("\nParameters:\n")
		for _, p := range s.Parameters {
			fmt.Fprintf(&sb, "- %s: %s", p.Name, p.Description)
			if p.Default != "" {
				fmt.Fprintf(&sb, " (default: %s)", p.Default)
			}
			if len(p.AllowedValues) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(p.AllowedValues, ", "))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
