package source

import (
	"fmt"
	"strings"
)

// Window renders the source line containing span.Start with an underline
// marking the span:
//
//	3 | let s = "abc
//	  |         ^~~~
//
// Spans reaching past the end of their first line are underlined to the
// line end. An empty string is returned when the span lies outside src.
func Window(src string, span Span) string {
	if span.IsZero() || span.Start.Offset > len(src) {
		return ""
	}

	lineStart := strings.LastIndexByte(src[:span.Start.Offset], '\n') + 1
	lineEnd := strings.IndexByte(src[span.Start.Offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(src)
	} else {
		lineEnd += span.Start.Offset
	}
	line := strings.TrimRight(src[lineStart:lineEnd], "\r")

	width := span.End.Offset - span.Start.Offset
	if span.Start.Offset+width > lineStart+len(line) {
		width = lineStart + len(line) - span.Start.Offset
	}
	if width < 1 {
		width = 1
	}

	num := fmt.Sprintf("%d", span.Start.Line)
	gutter := strings.Repeat(" ", len(num))

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s\n", num, line)
	b.WriteString(gutter)
	b.WriteString(" | ")
	// Preserve tabs so the caret lines up under the offending column.
	col := span.Start.Offset - lineStart
	if col > len(line) {
		col = len(line)
	}
	for _, c := range line[:col] {
		if c == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte('^')
	b.WriteString(strings.Repeat("~", width-1))
	b.WriteByte('\n')
	return b.String()
}
