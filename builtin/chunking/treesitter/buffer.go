package treesitter

import (
	"fmt"

	"github.com/spetr/mcp-codechunk/pkg/types"
)

// TextBuffer resolves (row, column) positions against file content.
// Rows are split on '\n'; a preceding '\r' stays part of the row text.
// Columns are byte offsets, the unit tree-sitter reports positions in.
type TextBuffer struct {
	content    string
	lineStarts []int
}

// NewTextBuffer indexes the line starts of content.
func NewTextBuffer(content []byte) *TextBuffer {
	b := &TextBuffer{
		content:    string(content),
		lineStarts: []int{0},
	}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			b.lineStarts = append(b.lineStarts, i+1)
		}
	}
	return b
}

// LineCount returns the number of rows in the buffer. Content ending in a
// newline has a final empty row.
func (b *TextBuffer) LineCount() int {
	return len(b.lineStarts)
}

// Len returns the buffer size in bytes.
func (b *TextBuffer) Len() int {
	return len(b.content)
}

func (b *TextBuffer) lineEnd(row int) int {
	if row+1 < len(b.lineStarts) {
		return b.lineStarts[row+1] - 1
	}
	return len(b.content)
}

// Offset converts a position into a byte offset.
func (b *TextBuffer) Offset(p types.Point) (int, error) {
	if p.Row < 0 || p.Row >= len(b.lineStarts) {
		return 0, fmt.Errorf("%w: row %d not in [0, %d)", types.ErrOutOfRange, p.Row, len(b.lineStarts))
	}
	start := b.lineStarts[p.Row]
	width := b.lineEnd(p.Row) - start
	if p.Column < 0 || p.Column > width {
		return 0, fmt.Errorf("%w: column %d not in [0, %d] on row %d", types.ErrOutOfRange, p.Column, width, p.Row)
	}
	return start + p.Column, nil
}

// TextInRange returns the text between start and end. Equal positions give
// an empty string. Positions outside the buffer, or an end before the
// start, are reported as errors rather than truncated.
func (b *TextBuffer) TextInRange(start, end types.Point) (string, error) {
	from, err := b.Offset(start)
	if err != nil {
		return "", fmt.Errorf("start %s: %w", start, err)
	}
	to, err := b.Offset(end)
	if err != nil {
		return "", fmt.Errorf("end %s: %w", end, err)
	}
	if to < from {
		return "", fmt.Errorf("%w: end %s before start %s", types.ErrOutOfRange, end, start)
	}
	return b.content[from:to], nil
}
