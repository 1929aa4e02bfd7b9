package generation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type scriptedBackend struct {
	calls  int
	errs   []error
	resp   *genai.GenerateContentResponse
	models []string
}

func (s *scriptedBackend) GenerateContent(_ context.Context, model string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.calls++
	s.models = append(s.models, model)
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return s.resp, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestClient(b Backend) *Client {
	c := New(b, 3, discard())
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	b := &scriptedBackend{
		errs: []error{genai.APIError{Code: 503}, genai.APIError{Code: 500}},
		resp: textResponse("hello"),
	}
	c := newTestClient(b)

	res, err := c.Generate(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, 3, b.calls)
	assert.Equal(t, "hello", res.Text())
}

func TestGenerate_GivesUpAfterMaxAttempts(t *testing.T) {
	b := &scriptedBackend{
		errs: []error{genai.APIError{Code: 503}, genai.APIError{Code: 503}, genai.APIError{Code: 503}},
		resp: textResponse("never"),
	}
	c := newTestClient(b)

	_, err := c.Generate(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 3, b.calls)
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	b := &scriptedBackend{errs: []error{genai.APIError{Code: 400, Message: "bad"}}}
	c := newTestClient(b)

	_, err := c.Generate(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1, b.calls)
}

func TestGenerate_CancelledDuringBackoff(t *testing.T) {
	b := &scriptedBackend{errs: []error{genai.APIError{Code: 503}}}
	c := New(b, 3, discard())
	c.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, Request{Model: "m"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.calls)
}

func TestGenerate_ResponseChecks(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want error
	}{
		{
			name: "blocked prompt",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
			},
			want: ErrPromptBlocked,
		},
		{
			name: "no candidates",
			resp: &genai.GenerateContentResponse{},
			want: ErrEmptyResponse,
		},
		{
			name: "safety stop",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			},
			want: ErrUnsafeResponse,
		},
		{
			name: "malformed function call",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMalformedFunctionCall}},
			},
			want: ErrMalformedToolCall,
		},
		{
			name: "only thoughts",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "hmm", Thought: true}}},
				}},
			},
			want: ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&scriptedBackend{resp: tt.resp})
			_, err := c.Generate(context.Background(), Request{Model: "m"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_CollectsImagesAndSkipsThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "here you go"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}}},
			}},
		}},
	}
	c := newTestClient(&scriptedBackend{resp: resp})

	res, err := c.Generate(context.Background(), Request{Model: "img"})
	require.NoError(t, err)
	assert.Len(t, res.Parts, 2)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "image/png", res.Images[0].MIMEType)
	assert.Equal(t, "here you go", res.Text())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(genai.APIError{Code: 500}))
	assert.True(t, isTransient(io.ErrUnexpectedEOF))
	assert.False(t, isTransient(genai.APIError{Code: 429}))
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(errors.New("plain")))
}
