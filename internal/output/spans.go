package output

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/updatr/internal/ansi"
)

// SpanRenderer turns styled spans back into terminal text with lipgloss.
// The color profile follows the writer it was created for.
type SpanRenderer struct {
	r     *lipgloss.Renderer
	plain bool
}

func NewSpanRenderer(w io.Writer, plain bool) *SpanRenderer {
	return &SpanRenderer{r: lipgloss.NewRenderer(w), plain: plain}
}

func (s *SpanRenderer) style(st ansi.Style) lipgloss.Style {
	ls := s.r.NewStyle().
		Bold(st.Bold).
		Faint(st.Dim).
		Italic(st.Italic).
		Underline(st.Underline).
		TabWidth(lipgloss.NoTabConversion)
	if st.FG != "" {
		ls = ls.Foreground(lipgloss.Color(st.FG))
	}
	if st.BG != "" {
		ls = ls.Background(lipgloss.Color(st.BG))
	}
	return ls
}

// Render returns the text of spans with their styles applied. Newlines are
// kept outside styled runs so lipgloss never pads lines to a block.
func (s *SpanRenderer) Render(spans []ansi.Span) string {
	var b strings.Builder
	for _, sp := range spans {
		if s.plain || sp.Style.IsZero() {
			b.WriteString(sp.Text)
			continue
		}
		ls := s.style(sp.Style)
		for i, part := range strings.Split(sp.Text, "\n") {
			if i > 0 {
				b.WriteByte('\n')
			}
			if part != "" {
				b.WriteString(ls.Render(part))
			}
		}
	}
	return b.String()
}

// Spans writes rendered spans to the UI's output.
func (u *UI) Spans(r *SpanRenderer, spans []ansi.Span) {
	_, _ = io.WriteString(u.Out, r.Render(spans))
}
