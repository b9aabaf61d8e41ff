package screen

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// plain collects printable runes, newlines and tabs.
type plain struct {
	buf []byte
}

func (p *plain) print(r rune) { p.buf = utf8.AppendRune(p.buf, r) }

func (p *plain) execute(b byte) {
	if b == '\n' || b == '\t' {
		p.buf = append(p.buf, b)
	}
}

func (p *plain) dispatchCSI(byte, []int, byte) {}
func (p *plain) dispatchESC(byte, byte)        {}

// StripANSI returns data with every escape sequence and non-printing control
// byte removed, except newlines and tabs.
func StripANSI(data []byte) string {
	var (
		ps parser
		h  = plain{buf: make([]byte, 0, len(data))}
	)
	ps.feed(data, &h)
	return string(h.buf)
}

var unsupported = [][]byte{
	[]byte("\x1b[?2026h"),
	[]byte("\x1b[?2026l"),
	[]byte("\x1b[<u"),
}

// FilterUnsupported removes synchronized-output toggles and keyboard
// protocol pops, which browser terminal widgets render as garbage.
func FilterUnsupported(data []byte) []byte {
	for _, seq := range unsupported {
		if bytes.Contains(data, seq) {
			data = bytes.ReplaceAll(data, seq, nil)
		}
	}
	return data
}

// VisibleText joins the non-blank lines, right-trimmed, with newlines.
func VisibleText(lines []string) string {
	var kept []string
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

var _ handler = (*plain)(nil)
