package generation

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Format renders a result as plain text: model text, executed code with
// its outcome, then search queries and grounding sources.
func Format(res *Result) string {
	if res == nil {
		return ""
	}

	var b strings.Builder
	for _, p := range res.Parts {
		switch {
		case p.Text != "":
			b.WriteString(p.Text)
		case p.ExecutableCode != nil:
			b.WriteString("\n\n[code]\n")
			b.WriteString(p.ExecutableCode.Code)
			b.WriteString("\n")
		case p.CodeExecutionResult != nil:
			icon := "❌"
			if p.CodeExecutionResult.Outcome == genai.OutcomeOK {
				icon = "✅"
			}
			fmt.Fprintf(&b, "\n[result %s]\n%s\n", icon, p.CodeExecutionResult.Output)
		}
	}

	writeGrounding(&b, res.Grounding)

	return strings.TrimSpace(b.String())
}

func writeGrounding(b *strings.Builder, gm *genai.GroundingMetadata) {
	if gm == nil {
		return
	}

	if len(gm.WebSearchQueries) > 0 {
		quoted := make([]string, len(gm.WebSearchQueries))
		for i, q := range gm.WebSearchQueries {
			quoted[i] = "'" + q + "'"
		}
		fmt.Fprintf(b, "\n\n---\n🔍 Search: %s\n", strings.Join(quoted, ", "))
	}

	type source struct{ uri, title string }
	var sources []source
	index := make(map[string]int)
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || chunk.Web.Title == "" {
			continue
		}
		// later titles win for a repeated uri
		if i, ok := index[chunk.Web.URI]; ok {
			sources[i].title = chunk.Web.Title
			continue
		}
		index[chunk.Web.URI] = len(sources)
		sources = append(sources, source{uri: chunk.Web.URI, title: chunk.Web.Title})
	}
	if len(sources) == 0 {
		return
	}

	b.WriteString("\n📚 Sources:\n")
	for _, s := range sources {
		fmt.Fprintf(b, " - %s (%s)\n", s.title, s.uri)
	}
}
