// Package render formats plain Markdown into ANSI-styled terminal
// output for the commands that print human-facing summaries (status,
// pairing instructions).
package render

import (
	"github.com/charmbracelet/glamour"
)

// Renderer wraps a glamour term renderer, falling back to the raw
// Markdown source if the terminal style can't be constructed (e.g. no
// TTY is attached, such as in a piped command).
type Renderer struct {
	term *glamour.TermRenderer
}

// New builds a Renderer sized to the given terminal width.
func New(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	return &Renderer{term: r}
}

// Render converts md to styled output, returning md unchanged if no
// renderer could be built.
func (r *Renderer) Render(md string) string {
	if r.term == nil {
		return md
	}
	out, err := r.term.Render(md)
	if err != nil {
		return md
	}
	return out
}
