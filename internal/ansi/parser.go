// Package ansi turns terminal output containing SGR escape sequences into
// styled text spans. Only style metadata is derived; the text itself is kept
// byte for byte.
package ansi

import (
	"strconv"
	"strings"
)

const esc = '\x1b'

// maxPending bounds how much of an unterminated escape sequence is held back
// between chunks. Anything longer is not a real SGR sequence and is emitted as text.
const maxPending = 64

// Style is the set of attributes active for a run of text.
type Style struct {
	Bold      bool  `json:"bold,omitempty"`
	Dim       bool  `json:"dim,omitempty"`
	Italic    bool  `json:"italic,omitempty"`
	Underline bool  `json:"underline,omitempty"`
	FG        Color `json:"fg,omitempty"`
	BG        Color `json:"bg,omitempty"`
}

// IsZero reports whether no attribute is set.
func (s Style) IsZero() bool { return s == Style{} }

// Span is a contiguous run of text sharing one Style.
type Span struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// Parser converts chunks of terminal output into spans. The active style and
// any partially received escape sequence carry over between Feed calls, so
// output may be fed in arbitrary fragments. A Parser is not safe for concurrent use.
type Parser struct {
	active  Style
	pending string
}

// NewParser returns a parser with no active style.
func NewParser() *Parser { return &Parser{} }

// Active returns the style that will apply to the next text fed.
func (p *Parser) Active() Style { return p.active }

// Reset clears the active style and drops any held-back partial sequence.
func (p *Parser) Reset() {
	p.active = Style{}
	p.pending = ""
}

// Feed parses chunk and returns the spans it contains, in order.
// Empty text segments produce no span.
func (p *Parser) Feed(chunk string) []Span {
	data := p.pending + chunk
	p.pending = ""

	var spans []Span
	start := 0
	i := 0
	for i < len(data) {
		j := strings.IndexByte(data[i:], esc)
		if j < 0 {
			break
		}
		j += i
		if j+1 >= len(data) {
			// lone ESC at the end; the '[' may arrive with the next chunk
			spans = p.emit(spans, data[start:j])
			p.pending = data[j:]
			return spans
		}
		if data[j+1] != '[' {
			i = j + 1
			continue
		}
		k := j + 2
		for k < len(data) && isParamByte(data[k]) {
			k++
		}
		if k >= len(data) {
			if len(data)-j > maxPending {
				i = len(data)
				break
			}
			spans = p.emit(spans, data[start:j])
			p.pending = data[j:]
			return spans
		}
		if data[k] != 'm' {
			// some other CSI sequence; leave it in the text
			i = j + 1
			continue
		}
		spans = p.emit(spans, data[start:j])
		p.apply(data[j+2 : k])
		start = k + 1
		i = k + 1
	}
	return p.emit(spans, data[start:])
}

// Flush returns any held-back partial sequence as plain text with the active
// style. Call it once the stream has ended.
func (p *Parser) Flush() []Span {
	rest := p.pending
	p.pending = ""
	return p.emit(nil, rest)
}

func (p *Parser) emit(spans []Span, text string) []Span {
	if text == "" {
		return spans
	}
	return append(spans, Span{Text: text, Style: p.active})
}

func isParamByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == ';'
}

// apply updates the active style from the parameter list of one SGR sequence.
// A 0 parameter anywhere clears every style and the rest of the sequence is
// not applied; otherwise parameters accumulate left to right.
func (p *Parser) apply(params string) {
	codes := strings.Split(params, ";")
	if params == "" || hasReset(codes) {
		p.active = Style{}
		return
	}
	for i := 0; i < len(codes); i++ {
		if codes[i] == "" {
			continue
		}
		c, err := strconv.Atoi(codes[i])
		if err != nil {
			continue
		}
		switch {
		case c == 1:
			p.active.Bold = true
		case c == 2:
			p.active.Dim = true
		case c == 3:
			p.active.Italic = true
		case c == 4:
			p.active.Underline = true
		case c == 38 || c == 48:
			col, used := extendedColor(codes[i+1:])
			if col != "" {
				if c == 38 {
					p.active.FG = col
				} else {
					p.active.BG = col
				}
			}
			i += used
		default:
			if col, ok := fgPalette[c]; ok {
				p.active.FG = col
			} else if col, ok := bgPalette[c]; ok {
				p.active.BG = col
			}
		}
	}
}

// hasReset reports whether codes hold a 0 parameter. Arguments of 38/48 such
// as the index in 38;5;0 are not parameters.
func hasReset(codes []string) bool {
	for i := 0; i < len(codes); i++ {
		c, err := strconv.Atoi(codes[i])
		if err != nil {
			continue
		}
		switch c {
		case 0:
			return true
		case 38, 48:
			_, used := extendedColor(codes[i+1:])
			i += used
		}
	}
	return false
}

// extendedColor decodes the arguments following 38/48: "5;N" (256-color) or
// "2;R;G;B" (truecolor). It returns the color, or "" when malformed, and the
// number of arguments consumed.
func extendedColor(args []string) (Color, int) {
	if len(args) == 0 {
		return "", 0
	}
	switch args[0] {
	case "5":
		if len(args) < 2 {
			return "", len(args)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 2
		}
		return Xterm256(n), 2
	case "2":
		if len(args) < 4 {
			return "", len(args)
		}
		var rgb [3]int
		for k := 0; k < 3; k++ {
			v, err := strconv.Atoi(args[k+1])
			if err != nil {
				return "", 4
			}
			rgb[k] = v
		}
		return RGB(rgb[0], rgb[1], rgb[2]), 4
	default:
		return "", 0
	}
}

// Plain concatenates the text of spans.
func Plain(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Strip removes SGR sequences from s.
func Strip(s string) string {
	var p Parser
	out := Plain(p.Feed(s))
	return out + Plain(p.Flush())
}
