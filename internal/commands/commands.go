package commands

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Parameter is a typed command argument matched against an enumerated
// set of values.
type Parameter struct {
	Name          string   `json:"name"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Default       string   `json:"default,omitempty"`
	Description   string   `json:"description,omitempty"`
}

func (p Parameter) match(token string) (string, bool) {
	for _, v := range p.AllowedValues {
		if strings.EqualFold(v, token) {
			return strings.ToLower(v), true
		}
	}
	return "", false
}

// Spec describes one command of the table the resolver is built from.
type Spec struct {
	Name        string      `json:"name"`
	Aliases     []string    `json:"aliases,omitempty"`
	Description string      `json:"description"`
	ShowInList  bool        `json:"show_in_list"`
	Parameters  []Parameter `json:"parameters,omitempty"`

	// Conversational commands continue when a user replies to their output.
	Conversational bool `json:"conversational"`
	// RequiresPrompt commands reject a bare invocation with no content.
	RequiresPrompt bool `json:"requires_prompt"`
}

func (s *Spec) Matches(name string) bool {
	if strings.EqualFold(s.Name, name) {
		return true
	}
	for _, a := range s.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func (s *Spec) defaults() map[string]string {
	args := make(map[string]string, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Default != "" {
			args[p.Name] = p.Default
		}
	}
	return args
}

// Resolution is the outcome of matching a message against the table.
type Resolution struct {
	Spec        *Spec
	Alias       string
	Args        map[string]string
	CleanedText string
	Implicit    bool
}

func (r *Resolution) Command() string {
	if r == nil || r.Spec == nil {
		return ""
	}
	return r.Spec.Name
}

// DefaultLegacy maps retired command types to the command that continues
// their conversations.
var DefaultLegacy = map[string]string{
	"summarize": "gemini",
	"chat":      "gemini",
}

type pattern struct {
	alias string
	spec  *Spec
	re    *regexp.Regexp
}

type Resolver struct {
	specs    []*Spec
	byName   map[string]*Spec
	patterns []pattern
	legacy   map[string]string
}

// NewResolver compiles the command table. botUsername is the only handle
// accepted in an "@" suffix; when it is empty no suffix matches.
func NewResolver(table []Spec, botUsername string, legacy map[string]string) (*Resolver, error) {
	const op = "commands.NewResolver"

	r := &Resolver{
		byName: make(map[string]*Spec),
		legacy: legacy,
	}

	for i := range table {
		spec := &table[i]
		r.specs = append(r.specs, spec)

		for _, alias := range append([]string{spec.Name}, spec.Aliases...) {
			key := strings.ToLower(alias)
			if prev, ok := r.byName[key]; ok && prev != spec {
				return nil, fmt.Errorf("%s: alias %q registered by %q and %q", op, alias, prev.Name, spec.Name)
			}
			if _, ok := r.byName[key]; ok {
				continue
			}
			r.byName[key] = spec

			mention := ""
			if botUsername != "" {
				mention = `(?:@` + regexp.QuoteMeta(strings.TrimPrefix(botUsername, "@")) + `)?`
			}
			re, err := regexp.Compile(`(?i)^/(` + regexp.QuoteMeta(alias) + `)` + mention + `(?:\s+|$)`)
			if err != nil {
				return nil, fmt.Errorf("%s: compile %q: %w", op, alias, err)
			}
			r.patterns = append(r.patterns, pattern{alias: alias, spec: spec, re: re})
		}
	}

	// longest alias first so a short alias never shadows a longer one
	sort.SliceStable(r.patterns, func(i, j int) bool {
		return len(r.patterns[i].alias) > len(r.patterns[j].alias)
	})

	return r, nil
}

func (r *Resolver) Specs() []*Spec {
	return r.specs
}

func (r *Resolver) Lookup(name string) (*Spec, bool) {
	s, ok := r.byName[strings.ToLower(strings.TrimPrefix(name, "/"))]
	return s, ok
}

// Explicit matches "/alias[@bot] rest" at the start of text.
func (r *Resolver) Explicit(text string) (*Resolution, bool) {
	for _, p := range r.patterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		args, cleaned := ParseArguments(p.spec, text[loc[1]:])
		return &Resolution{
			Spec:        p.spec,
			Alias:       p.alias,
			Args:        args,
			CleanedText: cleaned,
		}, true
	}
	return nil, false
}

// Implicit maps the command type recorded on a replied-to bot message to
// the command that continues it. It depends only on its arguments.
func (r *Resolver) Implicit(commandType, text string) (*Resolution, bool) {
	if commandType == "" {
		return nil, false
	}

	name := commandType
	if mapped, ok := r.legacy[commandType]; ok {
		name = mapped
	}

	spec, ok := r.Lookup(name)
	if !ok || !spec.Conversational {
		return nil, false
	}

	return &Resolution{
		Spec:        spec,
		Alias:       spec.Name,
		Args:        spec.defaults(),
		CleanedText: strings.TrimSpace(text),
		Implicit:    true,
	}, true
}

// Resolve tries the explicit syntax first and falls back to the reply
// target's command type. replyCommandType is empty when the message does
// not reply to a classified bot message.
func (r *Resolver) Resolve(text, replyCommandType string) (*Resolution, bool) {
	if res, ok := r.Explicit(text); ok {
		return res, true
	}
	return r.Implicit(replyCommandType, text)
}

// ParseArguments extracts spec's parameters from rest. Each parameter
// consumes the first case-insensitive match anywhere in the remainder;
// unmatched parameters take their default. Unconsumed tokens are rejoined
// with single spaces. Commands without parameters keep rest verbatim.
func ParseArguments(spec *Spec, rest string) (map[string]string, string) {
	args := spec.defaults()

	if len(spec.Parameters) == 0 {
		return args, strings.TrimSpace(rest)
	}

	tokens := strings.Fields(rest)
	used := make([]bool, len(tokens))

	for _, p := range spec.Parameters {
		if len(p.AllowedValues) == 0 {
			continue
		}
		for i, tok := range tokens {
			if used[i] {
				continue
			}
			if v, ok := p.match(tok); ok {
				args[p.Name] = v
				used[i] = true
				break
			}
		}
	}

	kept := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if !used[i] {
			kept = append(kept, tok)
		}
	}

	return args, strings.Join(kept, " ")
}

// StripInvocation removes a leading command and its parameter values from
// a historical turn's text.
func (r *Resolver) StripInvocation(text string) string {
	res, ok := r.Explicit(text)
	if !ok {
		return strings.TrimSpace(text)
	}
	return res.CleanedText
}
