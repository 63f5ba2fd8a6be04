package cli

import (
	"strings"
)

// indentation is the standard indentation for CLI help text.
const indentation = `  `

// longDesc trims a command's long description.
func longDesc(s string) string {
	return dedent(s, "")
}

// examples trims a command's examples and indents every line.
func examples(s string) string {
	return dedent(s, indentation)
}

// dedent strips the source indentation of a raw string literal and prefixes each line.
func dedent(s, prefix string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	lines := make([]string, 0, strings.Count(s, "\n")+1)
	for line := range strings.SplitSeq(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			lines = append(lines, "")
			continue
		}
		lines = append(lines, prefix+trimmed)
	}

	return strings.Join(lines, "\n")
}
