// Package screen reconstructs a best-effort character grid and a plain-text
// transcript from a raw terminal byte stream.
//
// It recognizes cursor movement, erase, scrolling and alternate-screen
// sequences. Everything else (SGR colors, modes, OSC titles, DCS payloads)
// is consumed without visual effect.
package screen

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

const (
	DefaultTextLimit = 1 << 20
	tabWidth         = 8
)

// Mode identifies the active screen buffer.
type Mode uint8

const (
	Primary Mode = iota
	Alternate
)

func (m Mode) String() string {
	if m == Alternate {
		return "alternate"
	}
	return "primary"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Cell is one grid position. The right half of a double-width rune is a
// cell with Width 0.
type Cell struct {
	Ch    rune
	Width uint8
}

var blank = Cell{Ch: ' ', Width: 1}

// Snapshot is a copy of the screen state at one instant.
type Snapshot struct {
	Lines     []string
	Grid      [][]Cell
	Rows      int
	Cols      int
	CursorRow int
	CursorCol int
	Mode      Mode
}

type Option func(*Screen)

// WithTextLimit bounds the plain-text transcript to the last n bytes.
func WithTextLimit(n int) Option {
	return func(s *Screen) {
		if n > 0 {
			s.textLimit = n
		}
	}
}

type cursor struct {
	row, col int
}

// Screen is safe for one writer calling Feed concurrently with any number of
// readers.
type Screen struct {
	mu sync.RWMutex
	p  parser

	rows, cols  int
	grid        [][]Cell
	cur         cursor
	wrapPending bool
	saved       cursor

	mode        Mode
	primary     [][]Cell
	primaryCur  cursor
	primarySave cursor

	text      []byte
	textLimit int
}

// New returns a blank primary screen. Non-positive dimensions fall back to
// 24x80.
func New(rows, cols int, opts ...Option) *Screen {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	s := &Screen{rows: rows, cols: cols, textLimit: DefaultTextLimit}
	for _, o := range opts {
		o(s)
	}
	s.grid = newGrid(rows, cols)
	return s
}

func newGrid(rows, cols int) [][]Cell {
	g := make([][]Cell, rows)
	for i := range g {
		g[i] = newRow(cols)
	}
	return g
}

func newRow(cols int) []Cell {
	r := make([]Cell, cols)
	for i := range r {
		r[i] = blank
	}
	return r
}

// Feed advances the screen by data. It never fails; malformed sequences are
// dropped.
func (s *Screen) Feed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.feed(data, s)
	s.trimText()
}

// Resize changes the grid dimensions, keeping the top-left region of the
// active and saved grids.
func (s *Screen) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows == s.rows && cols == s.cols {
		return
	}
	s.grid = resizeGrid(s.grid, rows, cols)
	if s.primary != nil {
		s.primary = resizeGrid(s.primary, rows, cols)
	}
	s.rows, s.cols = rows, cols
	s.cur = s.clamp(s.cur)
	s.saved = s.clamp(s.saved)
	s.primaryCur = s.clamp(s.primaryCur)
	s.primarySave = s.clamp(s.primarySave)
	s.wrapPending = false
}

func resizeGrid(old [][]Cell, rows, cols int) [][]Cell {
	g := newGrid(rows, cols)
	for r := 0; r < rows && r < len(old); r++ {
		copy(g[r], old[r])
		// A wide rune cut at the new right edge loses its continuation.
		if cols > 0 && cols < len(old[r]) && g[r][cols-1].Width == 2 {
			g[r][cols-1] = blank
		}
	}
	return g
}

func (s *Screen) clamp(c cursor) cursor {
	c.row = min(max(c.row, 0), s.rows-1)
	c.col = min(max(c.col, 0), s.cols-1)
	return c
}

// Snapshot returns a deep copy of the grid and cursor.
func (s *Screen) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grid := make([][]Cell, len(s.grid))
	for i, row := range s.grid {
		grid[i] = append([]Cell(nil), row...)
	}
	return Snapshot{
		Lines:     s.lines(),
		Grid:      grid,
		Rows:      s.rows,
		Cols:      s.cols,
		CursorRow: s.cur.row,
		CursorCol: s.cur.col,
		Mode:      s.mode,
	}
}

// Lines renders each grid row with trailing blanks removed.
func (s *Screen) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines()
}

func (s *Screen) lines() []string {
	out := make([]string, len(s.grid))
	var b strings.Builder
	for i, row := range s.grid {
		b.Reset()
		for _, c := range row {
			if c.Width == 0 {
				continue
			}
			b.WriteRune(c.Ch)
		}
		out[i] = strings.TrimRight(b.String(), " ")
	}
	return out
}

// Text returns the plain-text transcript: printable runes, newlines and tabs.
func (s *Screen) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.text
	if len(t) > s.textLimit {
		t = t[runeStart(t, len(t)-s.textLimit):]
	}
	return string(t)
}

func (s *Screen) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Screen) Size() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

// trimText keeps the transcript near textLimit, compacting in batches.
func (s *Screen) trimText() {
	if len(s.text) <= s.textLimit+s.textLimit/8 {
		return
	}
	cut := runeStart(s.text, len(s.text)-s.textLimit)
	s.text = append(s.text[:0], s.text[cut:]...)
}

func runeStart(b []byte, i int) int {
	for i < len(b) && !utf8.RuneStart(b[i]) {
		i++
	}
	return i
}

func (s *Screen) print(r rune) {
	s.text = utf8.AppendRune(s.text, r)

	w := runewidth.RuneWidth(r)
	if w == 0 {
		return
	}
	if w > s.cols {
		return
	}
	if s.wrapPending {
		s.cur.col = 0
		s.lineFeed()
		s.wrapPending = false
	}
	if w == 2 && s.cur.col == s.cols-1 {
		s.eraseCell(s.cur.row, s.cur.col)
		s.cur.col = 0
		s.lineFeed()
	}

	row := s.grid[s.cur.row]
	s.eraseCell(s.cur.row, s.cur.col)
	row[s.cur.col] = Cell{Ch: r, Width: uint8(w)}
	if w == 2 {
		s.eraseCell(s.cur.row, s.cur.col+1)
		row[s.cur.col+1] = Cell{Width: 0}
	}

	s.cur.col += w
	if s.cur.col >= s.cols {
		s.cur.col = s.cols - 1
		s.wrapPending = true
	}
}

// eraseCell blanks a cell along with the other half of any wide rune it
// belongs to.
func (s *Screen) eraseCell(r, c int) {
	row := s.grid[r]
	switch row[c].Width {
	case 0:
		if c > 0 && row[c-1].Width == 2 {
			row[c-1] = blank
		}
	case 2:
		if c+1 < len(row) && row[c+1].Width == 0 {
			row[c+1] = blank
		}
	}
	row[c] = blank
}

func (s *Screen) execute(b byte) {
	switch b {
	case '\n', '\v', '\f':
		if b == '\n' {
			s.text = append(s.text, '\n')
		}
		s.cur.col = 0
		s.lineFeed()
		s.wrapPending = false
	case '\r':
		s.cur.col = 0
		s.wrapPending = false
	case '\t':
		s.text = append(s.text, '\t')
		s.cur.col = min((s.cur.col/tabWidth+1)*tabWidth, s.cols-1)
		s.wrapPending = false
	case '\b':
		if s.cur.col > 0 && !s.wrapPending {
			s.cur.col--
		}
		s.wrapPending = false
	}
}

func (s *Screen) lineFeed() {
	if s.cur.row == s.rows-1 {
		s.scrollUp()
		return
	}
	s.cur.row++
}

func (s *Screen) scrollUp() {
	copy(s.grid, s.grid[1:])
	s.grid[s.rows-1] = newRow(s.cols)
}

func (s *Screen) scrollDown() {
	copy(s.grid[1:], s.grid[:s.rows-1])
	s.grid[0] = newRow(s.cols)
}

func (s *Screen) reverseIndex() {
	if s.cur.row == 0 {
		s.scrollDown()
		return
	}
	s.cur.row--
}

func (s *Screen) dispatchESC(inter, final byte) {
	if inter != 0 {
		return
	}
	switch final {
	case '7':
		s.saved = s.cur
	case '8':
		s.cur = s.clamp(s.saved)
		s.wrapPending = false
	case 'D':
		s.lineFeed()
		s.wrapPending = false
	case 'E':
		s.cur.col = 0
		s.lineFeed()
		s.wrapPending = false
	case 'M':
		s.reverseIndex()
		s.wrapPending = false
	case 'c':
		s.reset()
	}
}

func (s *Screen) reset() {
	s.grid = newGrid(s.rows, s.cols)
	s.cur = cursor{}
	s.saved = cursor{}
	s.wrapPending = false
	s.mode = Primary
	s.primary = nil
}

func (s *Screen) dispatchCSI(private byte, params []int, final byte) {
	if private == '?' {
		if final == 'h' || final == 'l' {
			s.setPrivateModes(params, final == 'h')
		}
		return
	}
	if private != 0 {
		return
	}

	n := param(params, 0, 1)
	switch final {
	case 'A':
		s.moveTo(s.cur.row-n, s.cur.col)
	case 'B', 'e':
		s.moveTo(s.cur.row+n, s.cur.col)
	case 'C', 'a':
		s.moveTo(s.cur.row, s.cur.col+n)
	case 'D':
		s.moveTo(s.cur.row, s.cur.col-n)
	case 'E':
		s.moveTo(s.cur.row+n, 0)
	case 'F':
		s.moveTo(s.cur.row-n, 0)
	case 'G', '`':
		s.moveTo(s.cur.row, n-1)
	case 'd':
		s.moveTo(n-1, s.cur.col)
	case 'H', 'f':
		s.moveTo(n-1, param(params, 1, 1)-1)
	case 'J':
		s.eraseDisplay(rawParam(params))
	case 'K':
		s.eraseLine(rawParam(params))
	case 'X':
		end := min(s.cur.col+n, s.cols)
		for c := s.cur.col; c < end; c++ {
			s.eraseCell(s.cur.row, c)
		}
	case 's':
		s.saved = s.cur
	case 'u':
		s.cur = s.clamp(s.saved)
		s.wrapPending = false
	}
}

func rawParam(params []int) int {
	if len(params) == 0 {
		return 0
	}
	return params[0]
}

func (s *Screen) moveTo(row, col int) {
	s.cur = s.clamp(cursor{row: row, col: col})
	s.wrapPending = false
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseRange(s.cur.row, s.cur.col, s.cols)
		for r := s.cur.row + 1; r < s.rows; r++ {
			s.grid[r] = newRow(s.cols)
		}
	case 1:
		for r := 0; r < s.cur.row; r++ {
			s.grid[r] = newRow(s.cols)
		}
		s.eraseRange(s.cur.row, 0, s.cur.col+1)
	case 2:
		// The cursor does not move.
		s.grid = newGrid(s.rows, s.cols)
	case 3:
		// Erases scrollback only, which the grid does not keep.
	}
}

func (s *Screen) eraseLine(mode int) {
	switch mode {
	case 0:
		s.eraseRange(s.cur.row, s.cur.col, s.cols)
	case 1:
		s.eraseRange(s.cur.row, 0, s.cur.col+1)
	case 2:
		s.grid[s.cur.row] = newRow(s.cols)
	}
}

func (s *Screen) eraseRange(row, from, to int) {
	for c := from; c < to; c++ {
		s.eraseCell(row, c)
	}
}

func (s *Screen) setPrivateModes(params []int, on bool) {
	for _, p := range params {
		switch p {
		case 1049, 1047, 47:
			if on {
				s.enterAlternate()
			} else {
				s.exitAlternate()
			}
		}
	}
}

func (s *Screen) enterAlternate() {
	if s.mode == Alternate {
		return
	}
	s.primary = s.grid
	s.primaryCur = s.cur
	s.primarySave = s.saved
	s.grid = newGrid(s.rows, s.cols)
	s.mode = Alternate
	s.wrapPending = false
}

func (s *Screen) exitAlternate() {
	if s.mode == Primary {
		return
	}
	s.grid = s.primary
	s.cur = s.clamp(s.primaryCur)
	s.saved = s.clamp(s.primarySave)
	s.primary = nil
	s.mode = Primary
	s.wrapPending = false
}

var _ handler = (*Screen)(nil)
