package screen

import "unicode/utf8"

type parserState uint8

const (
	stateGround parserState = iota
	stateEscape
	stateEscapeInter
	stateCSI
	stateString // OSC, DCS, SOS, PM, APC: discarded up to ST or BEL
	stateStringEscape
	stateCharset
)

const (
	maxParamBytes = 256
	maxParamValue = 65535
)

// handler receives decoded actions from a parser.
type handler interface {
	print(r rune)
	execute(b byte)
	dispatchCSI(private byte, params []int, final byte)
	dispatchESC(inter, final byte)
}

// parser is an incremental escape-sequence lexer. It never stalls: each
// input byte either completes an action, extends the current sequence, or
// aborts it.
type parser struct {
	state    parserState
	params   []byte
	inter    byte
	overflow bool

	utf8buf  [utf8.UTFMax]byte
	utf8len  int
	utf8want int
}

func (p *parser) feed(data []byte, h handler) {
	for _, b := range data {
		p.step(b, h)
	}
}

func (p *parser) step(b byte, h handler) {
	switch p.state {
	case stateGround:
		p.ground(b, h)

	case stateEscape:
		switch {
		case b == '[':
			p.params = p.params[:0]
			p.inter = 0
			p.overflow = false
			p.state = stateCSI
		case b == ']' || b == 'P' || b == 'X' || b == '^' || b == '_':
			p.state = stateString
		case b == '(' || b == ')' || b == '*' || b == '+' || b == '-' || b == '.' || b == '/':
			p.state = stateCharset
		case b >= 0x20 && b <= 0x2f:
			p.inter = b
			p.state = stateEscapeInter
		case b >= 0x30 && b <= 0x7e:
			p.state = stateGround
			h.dispatchESC(0, b)
		case b == 0x1b:
			// ESC ESC restarts the sequence.
		case b == 0x18 || b == 0x1a:
			p.state = stateGround
		case b < 0x20:
			h.execute(b)
		default:
			p.state = stateGround
			p.ground(b, h)
		}

	case stateEscapeInter:
		switch {
		case b >= 0x20 && b <= 0x2f:
			p.inter = b
		case b >= 0x30 && b <= 0x7e:
			p.state = stateGround
			h.dispatchESC(p.inter, b)
		case b == 0x1b:
			p.state = stateEscape
		case b == 0x18 || b == 0x1a:
			p.state = stateGround
		case b < 0x20:
			h.execute(b)
		default:
			p.state = stateGround
			p.ground(b, h)
		}

	case stateCSI:
		switch {
		case b >= 0x30 && b <= 0x3f:
			if len(p.params) < maxParamBytes {
				p.params = append(p.params, b)
			} else {
				p.overflow = true
			}
		case b >= 0x20 && b <= 0x2f:
			p.inter = b
		case b >= 0x40 && b <= 0x7e:
			p.state = stateGround
			if !p.overflow {
				private, params := parseParams(p.params)
				if p.inter != 0 && private == 0 {
					// Intermediates select vendor variants we do not model.
					return
				}
				h.dispatchCSI(private, params, b)
			}
		case b == 0x1b:
			p.state = stateEscape
		case b == 0x18 || b == 0x1a:
			p.state = stateGround
		case b < 0x20:
			h.execute(b)
		case b == 0x7f:
		default:
			p.state = stateGround
			p.ground(b, h)
		}

	case stateString:
		switch b {
		case 0x07, 0x18, 0x1a:
			p.state = stateGround
		case 0x1b:
			p.state = stateStringEscape
		}

	case stateStringEscape:
		if b == '\\' {
			p.state = stateGround
			return
		}
		// A new sequence began before the terminator arrived.
		p.state = stateEscape
		p.step(b, h)

	case stateCharset:
		if b == 0x1b {
			p.state = stateEscape
			return
		}
		p.state = stateGround
	}
}

func (p *parser) ground(b byte, h handler) {
	if p.utf8want > 0 {
		if b&0xc0 == 0x80 {
			p.utf8buf[p.utf8len] = b
			p.utf8len++
			if p.utf8len == p.utf8want {
				r, _ := utf8.DecodeRune(p.utf8buf[:p.utf8len])
				p.utf8want, p.utf8len = 0, 0
				h.print(r)
			}
			return
		}
		// Truncated sequence.
		p.utf8want, p.utf8len = 0, 0
		h.print(utf8.RuneError)
	}

	switch {
	case b == 0x1b:
		p.state = stateEscape
	case b < 0x20:
		h.execute(b)
	case b < 0x7f:
		h.print(rune(b))
	case b == 0x7f:
	case b&0xe0 == 0xc0:
		p.startRune(b, 2)
	case b&0xf0 == 0xe0:
		p.startRune(b, 3)
	case b&0xf8 == 0xf0:
		p.startRune(b, 4)
	default:
		h.print(utf8.RuneError)
	}
}

func (p *parser) startRune(b byte, n int) {
	p.utf8buf[0] = b
	p.utf8len = 1
	p.utf8want = n
}

// parseParams splits CSI parameter bytes into a private marker and numeric
// parameters. Missing parameters are reported as 0.
func parseParams(raw []byte) (byte, []int) {
	var private byte
	if len(raw) > 0 && raw[0] >= '<' && raw[0] <= '?' {
		private = raw[0]
		raw = raw[1:]
	}
	params := make([]int, 0, 4)
	cur, have := 0, false
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
			if cur < maxParamValue {
				cur = cur*10 + int(c-'0')
				if cur > maxParamValue {
					cur = maxParamValue
				}
			}
			have = true
		case c == ';' || c == ':':
			params = append(params, cur)
			cur, have = 0, false
		}
	}
	if have || len(params) > 0 {
		params = append(params, cur)
	}
	return private, params
}

// param returns params[i], or def when it is absent or zero.
func param(params []int, i, def int) int {
	if i < len(params) && params[i] > 0 {
		return params[i]
	}
	return def
}
