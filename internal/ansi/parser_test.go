package ansi

import (
	"strings"
	"testing"
)

func TestFeed_RedThenReset(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[31mERROR\x1b[0m done\n")
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %#v", len(spans), spans)
	}
	if spans[0].Text != "ERROR" || spans[0].Style.FG != "#ff5555" {
		t.Fatalf("unexpected first span: %#v", spans[0])
	}
	if spans[0].Style.Bold || spans[0].Style.BG != "" {
		t.Fatalf("only foreground should be set: %#v", spans[0].Style)
	}
	if spans[1].Text != " done\n" || !spans[1].Style.IsZero() {
		t.Fatalf("text after reset must carry no style: %#v", spans[1])
	}
}

func TestFeed_StylePersistsAcrossChunks(t *testing.T) {
	p := NewParser()
	first := p.Feed("\x1b[1;32mok ")
	second := p.Feed("still green")
	third := p.Feed("\x1b[m plain")
	if len(first) != 1 || len(second) != 1 || len(third) != 1 {
		t.Fatalf("unexpected span counts: %d %d %d", len(first), len(second), len(third))
	}
	want := Style{Bold: true, FG: "#50fa7b"}
	if second[0].Style != want {
		t.Fatalf("style lost across chunks: %#v", second[0].Style)
	}
	if !third[0].Style.IsZero() {
		t.Fatalf("bare reset must clear styles: %#v", third[0].Style)
	}
}

func TestFeed_SplitEscapeSequence(t *testing.T) {
	p := NewParser()
	a := p.Feed("abc\x1b[3")
	b := p.Feed("4mblue")
	if Plain(a) != "abc" {
		t.Fatalf("partial sequence leaked into text: %q", Plain(a))
	}
	if len(b) != 1 || b[0].Text != "blue" || b[0].Style.FG != "#8be9fd" {
		t.Fatalf("unexpected spans after completion: %#v", b)
	}

	p = NewParser()
	a = p.Feed("x\x1b")
	b = p.Feed("[4my")
	if Plain(a) != "x" || len(b) != 1 || !b[0].Style.Underline {
		t.Fatalf("lone ESC split handled wrong: %#v %#v", a, b)
	}
}

func TestFeed_CombinedStyles(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[1m\x1b[31m\x1b[4mX")
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %#v", spans)
	}
	want := Style{Bold: true, Underline: true, FG: "#ff5555"}
	if spans[0].Style != want {
		t.Fatalf("got %#v want %#v", spans[0].Style, want)
	}
}

func TestFeed_ZeroInsideSequenceClearsEverything(t *testing.T) {
	p := NewParser()
	p.Feed("\x1b[1;4m")
	for _, seq := range []string{"\x1b[0;33m", "\x1b[33;0m", "\x1b[1;00;31m"} {
		spans := p.Feed(seq + "warn")
		if len(spans) != 1 || !spans[0].Style.IsZero() {
			t.Fatalf("%q: expected plain text, got %#v", seq, spans)
		}
		if spans[0].Text != "warn" {
			t.Fatalf("%q: text changed: %q", seq, spans[0].Text)
		}
	}
}

func TestFeed_ZeroColorIndexIsNotAReset(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[1;38;5;0mX\x1b[48;2;0;0;0mY")
	if !spans[0].Style.Bold || spans[0].Style.FG != Xterm256(0) {
		t.Fatalf("unexpected: %#v", spans[0].Style)
	}
	if !spans[1].Style.Bold || spans[1].Style.BG != "#000000" {
		t.Fatalf("unexpected: %#v", spans[1].Style)
	}
}

func TestFeed_UnknownParamsIgnored(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[5;7;53;31mblink")
	if len(spans) != 1 || spans[0].Style != (Style{FG: "#ff5555"}) {
		t.Fatalf("unexpected: %#v", spans)
	}
}

func TestFeed_Backgrounds(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[41mA\x1b[104mB")
	if spans[0].Style.BG != "#ff5555" || spans[1].Style.BG != "#9aedfe" {
		t.Fatalf("unexpected backgrounds: %#v", spans)
	}
}

func TestFeed_Extended256(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[38;5;196;48;5;232mX")
	if spans[0].Style.FG != "#ff0000" {
		t.Fatalf("fg: %q", spans[0].Style.FG)
	}
	if spans[0].Style.BG != "#080808" {
		t.Fatalf("bg: %q", spans[0].Style.BG)
	}
}

func TestFeed_ExtendedMalformedSkipsTriple(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[38;5;300;1mX")
	if spans[0].Style != (Style{Bold: true}) {
		t.Fatalf("unexpected: %#v", spans[0].Style)
	}
	spans = p.Feed("\x1b[0;38;5mY")
	if !spans[0].Style.IsZero() {
		t.Fatalf("truncated 38;5 must not set anything: %#v", spans[0].Style)
	}
}

func TestFeed_Truecolor(t *testing.T) {
	p := NewParser()
	spans := p.Feed("\x1b[38;2;1;2;3mX")
	if spans[0].Style.FG != "#010203" || spans[0].Style.Dim {
		t.Fatalf("unexpected: %#v", spans[0].Style)
	}
}

func TestFeed_NonSGRSequencePassesThrough(t *testing.T) {
	p := NewParser()
	in := "a\x1b[2Kb\x1b]0;title\x07c"
	if got := Plain(p.Feed(in)); got != in {
		t.Fatalf("non-SGR content must be preserved: %q", got)
	}
}

func TestFeed_PreservesText(t *testing.T) {
	in := "line1\n\x1b[31mred\x1b[0m\r\nünïcødé \x1b[1mbold\x1b[m\n"
	p := NewParser()
	var b strings.Builder
	// feed one byte at a time to exercise every split point
	for i := 0; i < len(in); i++ {
		b.WriteString(Plain(p.Feed(in[i : i+1])))
	}
	b.WriteString(Plain(p.Flush()))
	want := "line1\nred\r\nünïcødé bold\n"
	if b.String() != want {
		t.Fatalf("got %q want %q", b.String(), want)
	}
}

func TestFlush_ReturnsHeldBackBytes(t *testing.T) {
	p := NewParser()
	_ = p.Feed("end\x1b[3")
	rest := p.Flush()
	if Plain(rest) != "\x1b[3" {
		t.Fatalf("unexpected flush: %#v", rest)
	}
}

func TestStrip(t *testing.T) {
	if got := Strip("\x1b[1;31mfail\x1b[0m: x"); got != "fail: x" {
		t.Fatalf("got %q", got)
	}
}

func TestXterm256(t *testing.T) {
	cases := map[int]Color{
		0:   "#000000",
		9:   "#ff0000",
		15:  "#ffffff",
		16:  "#000000",
		21:  "#0000ff",
		196: "#ff0000",
		231: "#ffffff",
		232: "#080808",
		255: "#eeeeee",
		256: "",
		-1:  "",
	}
	for n, want := range cases {
		if got := Xterm256(n); got != want {
			t.Errorf("Xterm256(%d) = %q, want %q", n, got, want)
		}
	}
}
