package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/kgellert/gemini-relay/internal/cache"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

const (
	DefaultMaxPromptBytes = 100 * 1024 * 1024
	DefaultWorkers        = 4
)

type Downloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Stripper interface {
	StripInvocation(text string) string
}

// Builder turns a reconstructed conversation into model contents.
type Builder struct {
	files    Downloader
	cache    *cache.FIFO[string, []byte]
	strip    Stripper
	maxBytes int64
	workers  int
	log      *slog.Logger
}

func NewBuilder(files Downloader, fileCache *cache.FIFO[string, []byte], strip Stripper, maxBytes int64, workers int, log *slog.Logger) *Builder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPromptBytes
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Builder{
		files:    files,
		cache:    fileCache,
		strip:    strip,
		maxBytes: maxBytes,
		workers:  workers,
		log:      log,
	}
}

type PromptInput struct {
	History []messages.ConversationTurn
	// Current holds the triggering message and its album siblings.
	Current           []*telegram.Message
	DropFunctionParts bool
}

type draft struct {
	role  string
	parts []*genai.Part
	files []messages.Attachment
	text  string
}

func (b *Builder) Build(ctx context.Context, in PromptInput) ([]*genai.Content, error) {
	const op = "generation.Build"

	log := b.log.With(slog.String("op", op))

	seen := make(map[string]struct{})
	var total int64
	drafts := make([]*draft, 0, len(in.History)+1)

	for _, turn := range in.History {
		d := &draft{role: genai.RoleUser}
		if turn.Role == messages.RoleModel {
			d.role = genai.RoleModel
		}
		for _, a := range turn.Attachments {
			seen[a.FileUniqueID] = struct{}{}
		}

		if len(turn.Fragments) > 0 {
			var parts []*genai.Part
			err := json.Unmarshal(turn.Fragments, &parts)
			if err == nil {
				if in.DropFunctionParts {
					parts = withoutFunctionParts(parts)
				}
				d.parts = parts
				drafts = append(drafts, d)
				continue
			}
			log.Warn("stored fragments unreadable, using text", slog.Int64("message_id", turn.MessageID), sl.Err(err))
		}

		for _, a := range turn.Attachments {
			total += a.Size()
		}
		d.files = turn.Attachments
		d.text = strings.TrimSpace(b.strip.StripInvocation(turn.Text))
		drafts = append(drafts, d)
	}

	var extra []messages.Attachment
	for _, m := range in.Current {
		for _, a := range messages.AttachmentsFromMessage(m) {
			if _, ok := seen[a.FileUniqueID]; ok {
				continue
			}
			seen[a.FileUniqueID] = struct{}{}
			total += a.Size()
			extra = append(extra, a)
		}
	}
	if len(extra) > 0 {
		if len(drafts) == 0 {
			drafts = append(drafts, &draft{role: genai.RoleUser})
		}
		last := drafts[len(drafts)-1]
		last.files = append(last.files, extra...)
	}

	if total > b.maxBytes {
		return nil, fmt.Errorf("%w: total file size cannot exceed %s (%s)",
			ErrPromptTooLarge, humanize.IBytes(uint64(b.maxBytes)), humanize.IBytes(uint64(total)))
	}

	data, err := b.download(ctx, drafts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	contents := make([]*genai.Content, 0, len(drafts))
	for _, d := range drafts {
		parts := d.parts
		for _, a := range d.files {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: MimeFor(a), Data: data[a.FileUniqueID]},
			})
		}
		if d.text != "" {
			parts = append(parts, &genai.Part{Text: d.text})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: d.role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, ErrEmptyPrompt
	}

	return contents, nil
}

// download fetches every file referenced by drafts, reading through the
// file cache and running at most b.workers transfers at once.
func (b *Builder) download(ctx context.Context, drafts []*draft) (map[string][]byte, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]byte)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	queued := make(map[string]struct{})
	for _, d := range drafts {
		for _, a := range d.files {
			if _, ok := queued[a.FileUniqueID]; ok {
				continue
			}
			queued[a.FileUniqueID] = struct{}{}

			if cached, ok := b.cache.Get(a.FileUniqueID); ok {
				mu.Lock()
				out[a.FileUniqueID] = cached
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				body, err := b.files.DownloadFile(gctx, a.FileID)
				if err != nil {
					return fmt.Errorf("download %s: %w", a.FileUniqueID, err)
				}
				b.cache.Put(a.FileUniqueID, body)

				mu.Lock()
				out[a.FileUniqueID] = body
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func withoutFunctionParts(parts []*genai.Part) []*genai.Part {
	out := parts[:0:0]
	for _, p := range parts {
		if p == nil || p.FunctionCall != nil || p.FunctionResponse != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
