package console

import (
	"errors"
	"io"
	"os"
	"unicode/utf8"
)

const readBufSize = 4096

// Stream reads r incrementally and passes each piece of output to fn as soon
// as it arrives, split after every '\n'. A partial line such as a prompt is
// delivered without waiting for its newline; only an incomplete UTF-8 rune at
// the end of a read is held back. EOF, a closed reader and the EIO a pty
// master reports after its child exits all end the stream with a nil error.
func Stream(r io.Reader, fn func(chunk string)) error {
	buf := make([]byte, readBufSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			keep := incompleteTail(data)
			carry = append([]byte(nil), data[len(data)-keep:]...)
			emitLines(data[:len(data)-keep], fn)
		}
		if err != nil {
			if len(carry) > 0 {
				fn(string(carry))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || isTerminalReadErr(err) {
				return nil
			}
			return err
		}
	}
}

func emitLines(b []byte, fn func(string)) {
	for len(b) > 0 {
		i := 0
		for i < len(b) && b[i] != '\n' {
			i++
		}
		if i < len(b) {
			i++
		}
		fn(string(b[:i]))
		b = b[i:]
	}
}

// incompleteTail returns how many trailing bytes form the start of a rune
// that is not yet complete.
func incompleteTail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
