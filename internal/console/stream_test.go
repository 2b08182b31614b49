package console

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

// chunkReader returns one predefined chunk per Read, then err.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader) []string {
	t.Helper()
	var out []string
	if err := Stream(r, func(s string) { out = append(out, s) }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	return out
}

func TestStream_SplitsLinesAndKeepsPartials(t *testing.T) {
	got := collect(t, &chunkReader{chunks: []string{"a\nb", "c\nContinue? [y/N] "}, err: io.EOF})
	want := []string{"a\n", "b", "c\n", "Continue? [y/N] "}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStream_HoldsIncompleteRune(t *testing.T) {
	// "é" is 0xC3 0xA9
	got := collect(t, &chunkReader{chunks: []string{"caf\xc3", "\xa9\n"}, err: io.EOF})
	want := []string{"caf", "é\n"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStream_TrailingIncompleteRuneFlushedAtEOF(t *testing.T) {
	got := collect(t, &chunkReader{chunks: []string{"x\xe2\x82"}, err: io.EOF})
	if strings.Join(got, "") != "x\xe2\x82" {
		t.Fatalf("bytes lost: %q", got)
	}
}

func TestStream_ClosedReaderEndsCleanly(t *testing.T) {
	got := collect(t, &chunkReader{chunks: []string{"done\n"}, err: os.ErrClosed})
	if len(got) != 1 {
		t.Fatalf("got %q", got)
	}
}

func TestStream_OtherErrorsReturned(t *testing.T) {
	boom := errors.New("boom")
	err := Stream(&chunkReader{err: boom}, func(string) {})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
