// Package grid implements the cell grid and scrollback described by the
// cell-grid component: a bounded in-memory terminal surface with scrolling
// regions, dirty tracking, cursor/style state, and resize semantics.
//
// Grid holds no goroutine of its own; callers (the parser, or tests) drive
// it synchronously. A Grid is safe for concurrent read access to
// DirtySnapshot/VisibleText while a single writer goroutine drives the
// mutating verbs — the same single-writer discipline the teacher's
// TerminalBuffer uses (see buffer.go's tb.mu).
package grid

import (
	"sync"

	"github.com/mattn/go-runewidth"
)

const (
	// DefaultScrollbackRows matches spec §3's default capacity.
	DefaultScrollbackRows = 10_000
	tabStop                = 8
)

// EraseMode selects the region erase_in_display/erase_in_line operate on.
type EraseMode int

const (
	EraseBelow EraseMode = iota // from cursor to end
	EraseAbove                  // from start to cursor
	EraseAll                    // entire display/line
	EraseAllAndScrollback       // erase_in_display only
)

type cursorState struct {
	x, y  int
	style Style
}

// buffer is one of the two screens (primary, alternate) a Grid can show.
type buffer struct {
	cells       []Cell
	cursor      cursorState
	savedCursor cursorState
}

// Grid is the visible terminal surface plus scrollback.
type Grid struct {
	mu sync.RWMutex

	cols, rows int

	primary   buffer
	alternate buffer
	onAlt     bool

	scrollTop, scrollBottom int // half-open [top, bottom)

	scrollback     []Row
	scrollbackHead int // index of oldest row, for O(1) ring eviction
	scrollbackLen  int
	scrollbackCap  int

	dirty    map[int]struct{} // y*cols+x of each dirty cell
	allDirty bool
}

// Row is a scrollback row: a snapshot of one evicted line, whose width is
// fixed at eviction time (spec §3: "length cols_at_time_of_eviction").
type Row []Cell

// active returns the buffer currently on screen.
func (g *Grid) active() *buffer {
	if g.onAlt {
		return &g.alternate
	}
	return &g.primary
}

// New creates a Grid of the given dimensions with the default scrollback
// capacity.
func New(cols, rows int) *Grid {
	return NewWithScrollback(cols, rows, DefaultScrollbackRows)
}

// NewWithScrollback creates a Grid with an explicit scrollback capacity.
func NewWithScrollback(cols, rows, scrollbackCap int) *Grid {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &Grid{
		cols:          cols,
		rows:          rows,
		scrollBottom:  rows,
		scrollbackCap: scrollbackCap,
		dirty:         make(map[int]struct{}),
	}
	g.primary.cells = newBlankCells(cols, rows, DefaultStyle)
	g.alternate.cells = newBlankCells(cols, rows, DefaultStyle)
	return g
}

func newBlankCells(cols, rows int, style Style) []Cell {
	cells := make([]Cell, cols*rows)
	blank := blankCell(style)
	for i := range cells {
		cells[i] = blank
	}
	return cells
}

// Size returns the current (cols, rows).
func (g *Grid) Size() (cols, rows int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cols, g.rows
}

// Cursor returns the current cursor position.
func (g *Grid) Cursor() (x, y int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := g.active().cursor
	return c.x, c.y
}

// Style returns a copy of the currently active style.
func (g *Grid) Style() Style {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active().cursor.style
}

// SetStyle replaces the active style wholesale; callers (the parser's SGR
// handler) compute the new style from Style() plus the SGR parameters.
func (g *Grid) SetStyle(s Style) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active().cursor.style = s
}

func (g *Grid) idx(x, y int) int { return y*g.cols + x }

// markDirty marks one cell dirty, collapsing to all-dirty once more than a
// quarter of the grid has been touched since the last snapshot (spec
// §4.1's dirty policy).
func (g *Grid) markDirty(x, y int) {
	if g.allDirty {
		return
	}
	g.dirty[g.idx(x, y)] = struct{}{}
	if len(g.dirty)*4 > g.cols*g.rows {
		g.allDirty = true
		g.dirty = make(map[int]struct{})
	}
}

func (g *Grid) markLineDirty(y int) {
	if g.allDirty {
		return
	}
	for x := 0; x < g.cols; x++ {
		g.dirty[g.idx(x, y)] = struct{}{}
	}
	if len(g.dirty)*4 > g.cols*g.rows {
		g.allDirty = true
		g.dirty = make(map[int]struct{})
	}
}

func (g *Grid) markAllDirty() {
	g.allDirty = true
	g.dirty = make(map[int]struct{})
}

// DirtySnapshot returns the set of dirty (x, y) coordinates and clears it,
// or reports allDirty if the collapsed representation is active.
func (g *Grid) DirtySnapshot() (coords [][2]int, allDirty bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.allDirty {
		g.allDirty = false
		return nil, true
	}
	coords = make([][2]int, 0, len(g.dirty))
	for enc := range g.dirty {
		coords = append(coords, [2]int{enc % g.cols, enc / g.cols})
	}
	g.dirty = make(map[int]struct{})
	return coords, false
}

// PutChar writes c at the cursor with the active style, advancing the
// cursor by its display width (1 or 2 columns), wrapping as needed.
func (g *Grid) PutChar(c rune) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putChar(c)
}

func (g *Grid) putChar(c rune) {
	b := g.active()
	width := runewidth.RuneWidth(c)
	if width < 1 {
		width = 1
	}

	if b.cursor.x+width > g.cols {
		g.wrapLine()
	}

	idx := g.idx(b.cursor.x, b.cursor.y)
	b.cells[idx] = Cell{Ch: c, Style: b.cursor.style}
	g.markDirty(b.cursor.x, b.cursor.y)

	if width == 2 {
		if b.cursor.x+1 < g.cols {
			b.cells[idx+1] = Cell{WideContinuation: true, Style: b.cursor.style}
			g.markDirty(b.cursor.x+1, b.cursor.y)
		}
		b.cursor.x += 2
	} else {
		b.cursor.x++
	}
}

// PutText writes a run of printable characters with no embedded control
// bytes, as the parser's fast path batches them. It is equivalent to
// calling PutChar for each rune, but takes the lock once for the whole run;
// each cell is marked dirty exactly as PutChar marks it.
func (g *Grid) PutText(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range s {
		g.putChar(c)
	}
}

// wrapLine advances to the next line when a character would overflow the
// current row, scrolling if necessary. Caller holds the lock.
func (g *Grid) wrapLine() {
	b := g.active()
	b.cursor.x = 0
	b.cursor.y++
	if b.cursor.y >= g.scrollBottom {
		g.scrollUp(1)
		b.cursor.y = g.scrollBottom - 1
	}
}

// LineFeed advances the cursor to the next line, scrolling the region if
// the bottom is crossed.
func (g *Grid) LineFeed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	b.cursor.y++
	if b.cursor.y >= g.scrollBottom {
		g.scrollUp(1)
		b.cursor.y = g.scrollBottom - 1
	}
}

// CarriageReturn moves the cursor to column 0.
func (g *Grid) CarriageReturn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active().cursor.x = 0
}

// Backspace moves the cursor left by one column, without erasing.
func (g *Grid) Backspace() {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	if b.cursor.x > 0 {
		b.cursor.x--
	}
}

// HorizontalTab advances the cursor to the next multiple of 8 columns,
// clamped to the last column.
func (g *Grid) HorizontalTab() {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	next := ((b.cursor.x / tabStop) + 1) * tabStop
	if next > g.cols-1 {
		next = g.cols - 1
	}
	b.cursor.x = next
}

// CursorMove moves the cursor to an absolute position, clamped to bounds.
func (g *Grid) CursorMove(x, y int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	b.cursor.x = clamp(x, 0, g.cols)
	b.cursor.y = clamp(y, 0, g.rows-1)
}

// CursorMoveRel moves the cursor relative to its current position, clamped.
func (g *Grid) CursorMoveRel(dx, dy int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	b.cursor.x = clamp(b.cursor.x+dx, 0, g.cols)
	b.cursor.y = clamp(b.cursor.y+dy, 0, g.rows-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SaveCursor snapshots position and style for the active buffer.
func (g *Grid) SaveCursor() {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	b.savedCursor = b.cursor
}

// RestoreCursor restores the active buffer's saved snapshot.
func (g *Grid) RestoreCursor() {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	b.cursor = b.savedCursor
}

// SetScrollRegion validates and assigns the scroll region, resetting the
// cursor to (0, 0) per spec §4.1.
func (g *Grid) SetScrollRegion(top, bottom int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if top < 0 {
		top = 0
	}
	if bottom > g.rows {
		bottom = g.rows
	}
	if top >= bottom {
		return
	}
	g.scrollTop = top
	g.scrollBottom = bottom
	b := g.active()
	b.cursor.x = 0
	b.cursor.y = 0
}

// ScrollUp moves rows [top+n, bottom) to [top, bottom-n), blanking the
// vacated rows at the bottom. On the primary buffer, with top == 0, the
// displaced rows are appended to scrollback.
func (g *Grid) ScrollUp(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scrollUp(n)
}

func (g *Grid) scrollUp(n int) {
	if n <= 0 {
		return
	}
	top, bottom := g.scrollTop, g.scrollBottom
	height := bottom - top
	if n > height {
		n = height
	}
	b := g.active()

	feedScrollback := top == 0 && !g.onAlt
	if feedScrollback {
		for y := 0; y < n; y++ {
			row := make(Row, g.cols)
			copy(row, b.cells[g.idx(0, top+y):g.idx(0, top+y)+g.cols])
			g.pushScrollback(row)
		}
	}

	if n < height {
		src := b.cells[g.idx(0, top+n) : g.idx(0, top+n)+(height-n)*g.cols]
		dst := b.cells[g.idx(0, top) : g.idx(0, top)+(height-n)*g.cols]
		copy(dst, src)
	}

	blank := blankCell(b.cursor.style)
	for y := bottom - n; y < bottom; y++ {
		row := b.cells[g.idx(0, y) : g.idx(0, y)+g.cols]
		for i := range row {
			row[i] = blank
		}
	}
	g.markLinesDirty(top, bottom)
}

// ScrollDown is the symmetric complement of ScrollUp; it never feeds
// scrollback.
func (g *Grid) ScrollDown(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 {
		return
	}
	top, bottom := g.scrollTop, g.scrollBottom
	height := bottom - top
	if n > height {
		n = height
	}
	b := g.active()

	if n < height {
		src := b.cells[g.idx(0, top) : g.idx(0, top)+(height-n)*g.cols]
		dst := b.cells[g.idx(0, top+n) : g.idx(0, top+n)+(height-n)*g.cols]
		copy(dst, src)
	}

	blank := blankCell(b.cursor.style)
	for y := top; y < top+n; y++ {
		row := b.cells[g.idx(0, y) : g.idx(0, y)+g.cols]
		for i := range row {
			row[i] = blank
		}
	}
	g.markLinesDirty(top, bottom)
}

func (g *Grid) markLinesDirty(top, bottom int) {
	for y := top; y < bottom; y++ {
		g.markLineDirty(y)
	}
}

// EraseInDisplay fills affected cells with default-styled blanks.
func (g *Grid) EraseInDisplay(mode EraseMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	blank := blankCell(DefaultStyle)

	switch mode {
	case EraseBelow:
		g.fillRange(b.cursor.x, b.cursor.y, g.cols-1, g.rows-1, blank)
	case EraseAbove:
		g.fillRange(0, 0, b.cursor.x, b.cursor.y, blank)
	case EraseAll:
		g.fillAll(blank)
	case EraseAllAndScrollback:
		g.fillAll(blank)
		g.scrollback = nil
		g.scrollbackHead = 0
		g.scrollbackLen = 0
	}
}

// EraseInLine fills part or all of the cursor's current row with
// default-styled blanks.
func (g *Grid) EraseInLine(mode EraseMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.active()
	blank := blankCell(DefaultStyle)
	y := b.cursor.y

	switch mode {
	case EraseBelow:
		for x := b.cursor.x; x < g.cols; x++ {
			b.cells[g.idx(x, y)] = blank
		}
	case EraseAbove:
		for x := 0; x <= b.cursor.x && x < g.cols; x++ {
			b.cells[g.idx(x, y)] = blank
		}
	case EraseAll:
		for x := 0; x < g.cols; x++ {
			b.cells[g.idx(x, y)] = blank
		}
	}
	g.markLineDirty(y)
}

// fillRange blanks cells from (x0,y0) through (x1,y1) inclusive, in reading
// order (left-to-right, top-to-bottom). Caller holds the lock.
func (g *Grid) fillRange(x0, y0, x1, y1 int, blank Cell) {
	b := g.active()
	for y := y0; y <= y1; y++ {
		startX, endX := 0, g.cols-1
		if y == y0 {
			startX = x0
		}
		if y == y1 {
			endX = x1
		}
		for x := startX; x <= endX; x++ {
			b.cells[g.idx(x, y)] = blank
		}
		g.markLineDirty(y)
	}
}

func (g *Grid) fillAll(blank Cell) {
	b := g.active()
	for i := range b.cells {
		b.cells[i] = blank
	}
	g.markAllDirty()
}

// Resize preserves cell contents in the intersection of old and new
// dimensions, anchored top-left, clamps the cursor, resets the scroll
// region to full height, and marks the grid all-dirty. Scrollback is
// retained.
func (g *Grid) Resize(cols, rows int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if cols == g.cols && rows == g.rows {
		return
	}

	g.primary = resizeBuffer(g.primary, g.cols, g.rows, cols, rows)
	g.alternate = resizeBuffer(g.alternate, g.cols, g.rows, cols, rows)

	g.cols, g.rows = cols, rows
	g.scrollTop, g.scrollBottom = 0, rows
	g.markAllDirty()
}

func resizeBuffer(b buffer, oldCols, oldRows, cols, rows int) buffer {
	newCells := newBlankCells(cols, rows, DefaultStyle)
	minCols := min(oldCols, cols)
	minRows := min(oldRows, rows)

	for y := 0; y < minRows; y++ {
		for x := 0; x < minCols; x++ {
			newCells[y*cols+x] = b.cells[y*oldCols+x]
		}
		// If the new right edge cuts a wide pair (its continuation cell is
		// not copied), blank the surviving lead cell too, so no half of a
		// pair is left behind. Pairs that fit whole are kept.
		if minCols < oldCols && b.cells[y*oldCols+minCols].WideContinuation {
			newCells[y*cols+minCols-1] = Cell{Ch: ' '}
		}
	}

	b.cells = newCells
	b.cursor.x = clamp(b.cursor.x, 0, cols)
	b.cursor.y = clamp(b.cursor.y, 0, rows-1)
	b.savedCursor.x = clamp(b.savedCursor.x, 0, cols)
	b.savedCursor.y = clamp(b.savedCursor.y, 0, rows-1)
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SwitchAlternate saves/restores the cursor and swaps the active buffer.
// Scrollback is inaccessible while the alternate screen is active.
func (g *Grid) SwitchAlternate(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on == g.onAlt {
		return
	}
	if on {
		g.primary.savedCursor = g.primary.cursor
		g.onAlt = true
		g.alternate.cursor = cursorState{}
	} else {
		g.onAlt = false
		g.primary.cursor = g.primary.savedCursor
	}
	g.markAllDirty()
}

// VisibleText returns the current visible buffer as rows of
// trailing-whitespace-trimmed strings.
func (g *Grid) VisibleText() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.active()
	out := make([]string, g.rows)
	for y := 0; y < g.rows; y++ {
		out[y] = rowString(b.cells[g.idx(0, y):g.idx(0, y)+g.cols])
	}
	return out
}

func rowString(cells []Cell) string {
	runes := make([]rune, 0, len(cells))
	for _, c := range cells {
		if c.WideContinuation {
			continue
		}
		runes = append(runes, c.Ch)
	}
	end := len(runes)
	for end > 0 && runes[end-1] == ' ' {
		end--
	}
	return string(runes[:end])
}
