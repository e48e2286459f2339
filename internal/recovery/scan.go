package recovery

import (
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// scanner tracks structural nesting over a byte stream. Quote state is only
// tracked inside a structure, so apostrophes in surrounding prose are inert.
// Both ' and " delimit strings and backslash escapes are honoured inside them.
//
// Iterating bytes is safe: every delimiter is ASCII and UTF-8 never reuses
// ASCII bytes inside multi-byte sequences.
type scanner struct {
	stack   []byte
	quote   byte
	escaped bool
}

func (sc *scanner) depth() int { return len(sc.stack) }

// step consumes b and reports whether it closed the outermost object.
func (sc *scanner) step(b byte) (closed bool) {
	if sc.quote != 0 {
		switch {
		case sc.escaped:
			sc.escaped = false
		case b == '\\':
			sc.escaped = true
		case b == sc.quote:
			sc.quote = 0
		}
		return false
	}

	if len(sc.stack) == 0 {
		if b == '{' {
			sc.stack = append(sc.stack, '{')
		}
		return false
	}

	switch b {
	case '"', '\'':
		sc.quote = b
	case '{', '[':
		sc.stack = append(sc.stack, b)
	case ']':
		if sc.stack[len(sc.stack)-1] == '[' {
			sc.stack = sc.stack[:len(sc.stack)-1]
		}
	case '}':
		// Unmatched '[' inside the object are dropped with it.
		for len(sc.stack) > 0 {
			top := sc.stack[len(sc.stack)-1]
			sc.stack = sc.stack[:len(sc.stack)-1]
			if top == '{' {
				break
			}
		}
		return len(sc.stack) == 0
	}
	return false
}

// firstObject returns the first top-level {...} span that returns to depth 0.
func firstObject(s string) (string, bool) {
	var sc scanner
	start := -1
	for i := 0; i < len(s); i++ {
		before := sc.depth()
		if sc.step(s[i]) {
			return s[start : i+1], true
		}
		if before == 0 && sc.depth() == 1 {
			start = i
		}
	}
	return "", false
}

// objects returns every top-level balanced {...} span in s, in order.
func objects(s string) []string {
	var out []string
	var sc scanner
	start := -1
	for i := 0; i < len(s); i++ {
		before := sc.depth()
		if sc.step(s[i]) {
			out = append(out, s[start:i+1])
			start = -1
			continue
		}
		if before == 0 && sc.depth() == 1 {
			start = i
		}
	}
	return out
}

// fencedBlock returns the interior of the first ```json fence, or of the
// first fence of any kind when no json fence exists. A language tag on the
// opening line of a generic fence is dropped.
func fencedBlock(s string) (string, bool) {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j]), true
		}
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		j := strings.Index(rest, "```")
		if j < 0 {
			return "", false
		}
		body := rest[:j]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(body[:nl]) {
			body = body[nl+1:]
		}
		return strings.TrimSpace(body), true
	}
	return "", false
}

func isLanguageTag(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// candidate is the span the targeted strategies work on: the fenced block
// when present, else the first balanced object.
func candidate(raw string) (string, bool) {
	if s, ok := fencedBlock(raw); ok && s != "" {
		return s, true
	}
	return firstObject(raw)
}

func stripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

func swapQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

// stripFence removes a leading ``` line and everything from the last ```.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}
	if j := strings.LastIndex(t, "```"); j >= 0 {
		t = t[:j]
	}
	return t
}

// closeTruncated appends whatever a truncated document is missing: the
// closing quote of an unterminated string, a null for a dangling key, and the
// ']' and '}' closers in nesting order.
func closeTruncated(s string) string {
	var sc scanner
	for i := 0; i < len(s); i++ {
		sc.step(s[i])
	}

	var b strings.Builder
	b.WriteString(s)
	if sc.quote != 0 {
		if sc.escaped {
			b.WriteByte('\\')
		}
		b.WriteByte(sc.quote)
	} else if strings.HasSuffix(strings.TrimSpace(s), ":") {
		b.WriteString("null")
	}
	for i := len(sc.stack) - 1; i >= 0; i-- {
		if sc.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

var pythonConstants = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "null",
}

// normalizeLiterals rewrites bare True/False/None outside strings to their
// JSON spellings and single-quoted strings to double-quoted ones. It reports
// whether s used any Python-only syntax.
func normalizeLiterals(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	pythonic := false
	var quote byte
	escaped := false

	for i := 0; i < len(s); {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			i++
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		if c == '"' {
			quote = c
			b.WriteByte(c)
			i++
			continue
		}
		if c == '\'' {
			pythonic = true
			i = requote(&b, s, i)
			continue
		}
		if isIdentByte(c) {
			j := i
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			word := s[i:j]
			if rep, ok := pythonConstants[word]; ok {
				b.WriteString(rep)
				pythonic = true
			} else {
				b.WriteString(word)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), pythonic
}

// requote rewrites the single-quoted string starting at s[start] as a JSON
// string and returns the index just past it. Embedded double quotes are
// escaped and \' becomes a bare apostrophe. An unterminated string is left
// open so the decoder rejects it.
func requote(b *strings.Builder, s string, start int) int {
	b.WriteByte('"')
	escaped := false
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			if c != '\'' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '\'':
			b.WriteByte('"')
			return i + 1
		case c == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	return len(s)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
