package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"google.golang.org/genai"
)

const DefaultMaxAttempts = 3

// Backend is the subset of the genai models service the relay calls.
type Backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenAIBackend opens a Gemini API client for apiKey.
func NewGenAIBackend(ctx context.Context, apiKey string) (Backend, error) {
	const op = "generation.NewGenAIBackend"

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return client.Models, nil
}

type Request struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
	Timeout  time.Duration
}

type Image struct {
	MIMEType string
	Data     []byte
}

// Result is the first candidate of a successful generation.
type Result struct {
	Parts     []*genai.Part
	Images    []Image
	Grounding *genai.GroundingMetadata
}

// Text concatenates the text parts, skipping thought summaries.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

type Client struct {
	backend     Backend
	maxAttempts int
	backoff     func(attempt int) time.Duration
	log         *slog.Logger
}

func New(backend Backend, maxAttempts int, log *slog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Client{
		backend:     backend,
		maxAttempts: maxAttempts,
		backoff:     linearBackoff,
		log:         log,
	}
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt)*time.Second + time.Second
}

// Generate calls the model, retrying transient upstream failures.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	const op = "generation.Generate"

	log := c.log.With(
		slog.String("op", op),
		slog.String("model", req.Model),
	)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.backend.GenerateContent(ctx, req.Model, req.Contents, req.Config)
		if err == nil {
			res, err := interpret(resp)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return res, nil
		}

		lastErr = err
		if !isTransient(err) || attempt == c.maxAttempts {
			break
		}

		delay := c.backoff(attempt)
		log.Warn("transient generation failure, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			sl.Err(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
	}

	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

func interpret(resp *genai.GenerateContentResponse) (*Result, error) {
	if resp == nil {
		return nil, ErrEmptyResponse
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrPromptBlocked, pf.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		return nil, ErrUnsafeResponse
	case genai.FinishReasonMalformedFunctionCall:
		return nil, ErrMalformedToolCall
	}

	res := &Result{Grounding: cand.GroundingMetadata}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			res.Parts = append(res.Parts, p)
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "image/") {
				res.Images = append(res.Images, Image{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				})
			}
		}
	}
	if len(res.Parts) == 0 && res.Grounding == nil {
		return nil, ErrEmptyResponse
	}

	return res, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return transientStatus(apiErrPtr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func transientStatus(code int) bool {
	return code == http.StatusInternalServerError || code == http.StatusServiceUnavailable
}
