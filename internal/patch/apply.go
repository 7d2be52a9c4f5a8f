// Package patch generates, applies, reviews, and re-exploits candidate
// fixes for findings with actionable verdicts. Diff application is strict:
// a hunk whose context does not match the source refuses to apply.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	hydraerr "github.com/hydrasec/hydra/internal/errors"
)

// Hunk is one @@ block of a unified diff
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []string // with leading ' ', '-', '+' markers
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnifiedDiff extracts the hunks from a unified diff. File headers
// (---/+++) and any prose around them are ignored; only hunk bodies matter.
func ParseUnifiedDiff(diff string) ([]Hunk, error) {
	var hunks []Hunk
	var current *Hunk

	lines := strings.Split(diff, "\n")
	// A trailing newline is diff formatting, not an empty context line
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewCount: atoiDefault(m[4], 1),
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		if len(line) > 0 && (line[0] == ' ' || line[0] == '-' || line[0] == '+') {
			current.Lines = append(current.Lines, line)
		} else if line == "" {
			// An empty diff line is context for an empty source line
			current.Lines = append(current.Lines, " ")
		} else if line != `\ No newline at end of file` {
			return nil, patchErrf("malformed diff line %q", line)
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	if len(hunks) == 0 {
		return nil, patchErrf("diff contains no hunks")
	}
	return hunks, nil
}

// Apply applies a unified diff to source. Every removed and context line is
// verified against the source at its expected position; any mismatch fails
// the whole application and returns the source untouched.
func Apply(source, diff string) (string, error) {
	hunks, err := ParseUnifiedDiff(diff)
	if err != nil {
		return source, err
	}

	lines := strings.Split(source, "\n")
	offset := 0

	for hi, h := range hunks {
		idx := h.OldStart - 1 + offset
		if idx < 0 || idx > len(lines) {
			return source, patchErrf("hunk %d starts at line %d, beyond source", hi+1, h.OldStart)
		}

		var replacement []string
		pos := idx
		for _, hl := range h.Lines {
			marker, text := hl[0], hl[1:]
			switch marker {
			case ' ':
				if pos >= len(lines) || lines[pos] != text {
					return source, contextMismatch(hi, pos, text, lines)
				}
				replacement = append(replacement, text)
				pos++
			case '-':
				if pos >= len(lines) || lines[pos] != text {
					return source, contextMismatch(hi, pos, text, lines)
				}
				pos++
			case '+':
				replacement = append(replacement, text)
			}
		}

		lines = append(lines[:idx], append(replacement, lines[pos:]...)...)
		offset += len(replacement) - (pos - idx)
	}

	return strings.Join(lines, "\n"), nil
}

func contextMismatch(hunk, pos int, want string, lines []string) error {
	got := "<end of file>"
	if pos < len(lines) {
		got = lines[pos]
	}
	return patchErrf("hunk %d context mismatch at source line %d: diff expects %q, source has %q",
		hunk+1, pos+1, want, got)
}

func patchErrf(format string, args ...interface{}) error {
	return hydraerr.New(hydraerr.ErrorTypePatch, hydraerr.SeverityMedium, fmt.Sprintf(format, args...))
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
