package bot

import (
	"strings"
	"unicode/utf16"
)

// textLen counts UTF-16 code units, which is how the Bot API measures
// message and caption limits.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// splitText breaks text on line boundaries into chunks of at most
// firstLimit units for the first chunk and limit for the rest. A single
// line longer than the limit is cut mid-line.
func splitText(text string, firstLimit, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)

	capacity := func() int {
		if len(chunks) == 0 {
			return firstLimit
		}
		return limit
	}

	flush := func() {
		if chunk := strings.TrimRight(cur.String(), "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := textLen(line) + 1

		if curLen > 0 && curLen+lineLen > capacity() {
			flush()
		}

		for lineLen > capacity() {
			head, rest := cutUnits(line, capacity())
			cur.WriteString(head)
			curLen = textLen(head)
			flush()
			line = rest
			lineLen = textLen(line) + 1
		}

		cur.WriteString(line)
		cur.WriteByte('\n')
		curLen += lineLen
	}
	flush()

	return chunks
}

// cutUnits splits s after at most n UTF-16 units without breaking a rune.
func cutUnits(s string, n int) (string, string) {
	used := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if used+w > n {
			return s[:i], s[i:]
		}
		used += w
	}
	return s, ""
}
