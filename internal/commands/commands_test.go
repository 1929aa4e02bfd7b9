package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() []Spec {
	return []Spec{
		{Name: "gemini", Aliases: []string{"chat", "g"}, Conversational: true, RequiresPrompt: true},
		{
			Name:           "image",
			Aliases:        []string{"img"},
			Conversational: true,
			RequiresPrompt: true,
			Parameters: []Parameter{
				{Name: "resolution", AllowedValues: []string{"1k", "2k", "4k"}, Default: "1k"},
			},
		},
		{Name: "help"},
	}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(testTable(), "relay_bot", DefaultLegacy)
	require.NoError(t, err)
	return r
}

func TestResolver_Explicit(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name       string
		text       string
		wantOK     bool
		wantCmd    string
		wantArgs   map[string]string
		wantPrompt string
	}{
		{
			name:       "alias with parameter first",
			text:       "/img 2k a red fox",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "2k"},
			wantPrompt: "a red fox",
		},
		{
			name:       "parameter leading",
			text:       "/image 4k a castle at dusk",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "4k"},
			wantPrompt: "a castle at dusk",
		},
		{
			name:       "parameter trailing",
			text:       "/image a castle at dusk 4k",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "4k"},
			wantPrompt: "a castle at dusk",
		},
		{
			name:       "parameter case insensitive",
			text:       "/image a 2K castle",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "2k"},
			wantPrompt: "a castle",
		},
		{
			name:       "unknown value falls back to default",
			text:       "/image 8k a castle",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "1k"},
			wantPrompt: "8k a castle",
		},
		{
			name:       "only first matching token consumed",
			text:       "/img 2k 4k",
			wantOK:     true,
			wantCmd:    "image",
			wantArgs:   map[string]string{"resolution": "2k"},
			wantPrompt: "4k",
		},
		{
			name:       "own handle",
			text:       "/gemini@relay_bot hello",
			wantOK:     true,
			wantCmd:    "gemini",
			wantArgs:   map[string]string{},
			wantPrompt: "hello",
		},
		{
			name:   "other handle",
			text:   "/gemini@other_bot hello",
			wantOK: false,
		},
		{
			name:       "short alias",
			text:       "/g why",
			wantOK:     true,
			wantCmd:    "gemini",
			wantArgs:   map[string]string{},
			wantPrompt: "why",
		},
		{
			name:       "multiline prompt survives without parameters",
			text:       "/chat line one\n\nline  two",
			wantOK:     true,
			wantCmd:    "gemini",
			wantArgs:   map[string]string{},
			wantPrompt: "line one\n\nline  two",
		},
		{
			name:       "bare command",
			text:       "/gemini",
			wantOK:     true,
			wantCmd:    "gemini",
			wantArgs:   map[string]string{},
			wantPrompt: "",
		},
		{
			name:   "prefix of alias is not a match",
			text:   "/gem hi",
			wantOK: false,
		},
		{
			name:   "not at start",
			text:   "hey /gemini hi",
			wantOK: false,
		},
		{
			name:   "unknown command",
			text:   "/weather today",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := r.Explicit(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantCmd, res.Command())
			assert.Equal(t, tt.wantArgs, res.Args)
			assert.Equal(t, tt.wantPrompt, res.CleanedText)
			assert.False(t, res.Implicit)
		})
	}
}

func TestResolver_Implicit(t *testing.T) {
	r := newTestResolver(t)

	res, ok := r.Implicit("summarize", " tell me more 4k ")
	require.True(t, ok)
	assert.Equal(t, "gemini", res.Command())
	assert.True(t, res.Implicit)
	assert.Equal(t, "tell me more 4k", res.CleanedText)

	res, ok = r.Implicit("image", "make it blue 4k")
	require.True(t, ok)
	assert.Equal(t, "image", res.Command())
	assert.Equal(t, map[string]string{"resolution": "1k"}, res.Args)
	assert.Equal(t, "make it blue 4k", res.CleanedText)

	_, ok = r.Implicit("help", "x")
	assert.False(t, ok)

	_, ok = r.Implicit("error", "x")
	assert.False(t, ok)

	_, ok = r.Implicit("", "x")
	assert.False(t, ok)
}

func TestResolver_ResolvePrefersExplicit(t *testing.T) {
	r := newTestResolver(t)

	res, ok := r.Resolve("/img a cat", "gemini")
	require.True(t, ok)
	assert.Equal(t, "image", res.Command())
	assert.False(t, res.Implicit)

	res, ok = r.Resolve("a cat", "gemini")
	require.True(t, ok)
	assert.Equal(t, "gemini", res.Command())
	assert.True(t, res.Implicit)

	_, ok = r.Resolve("a cat", "")
	assert.False(t, ok)
}

func TestNewResolver_DuplicateAlias(t *testing.T) {
	_, err := NewResolver([]Spec{
		{Name: "a", Aliases: []string{"x"}},
		{Name: "b", Aliases: []string{"x"}},
	}, "", nil)
	assert.Error(t, err)
}

func TestResolver_NoHandleConfigured(t *testing.T) {
	r, err := NewResolver(testTable(), "", nil)
	require.NoError(t, err)

	_, ok := r.Explicit("/gemini@relay_bot hi")
	assert.False(t, ok)

	res, ok := r.Explicit("/GEMINI hi")
	require.True(t, ok)
	assert.Equal(t, "gemini", res.Command())
}

func TestResolver_StripInvocation(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "a red fox", r.StripInvocation("/img 2k a red fox"))
	assert.Equal(t, "plain text", r.StripInvocation("  plain text "))
}
