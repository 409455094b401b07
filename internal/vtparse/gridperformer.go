package vtparse

import "github.com/termbroker/core/internal/grid"

// GridPerformer adapts a *grid.Grid to the Performer interface, translating
// decoded verbs into grid mutations. This is the only Performer
// implementation in this module; a test can substitute its own spy
// Performer against the same Parser without touching grid at all.
type GridPerformer struct {
	Grid *grid.Grid

	// title holds the most recently seen OSC 0/2 window title. Nothing in
	// the wire protocol currently surfaces it, but callers (e.g. the
	// debug web UI) can read it via Title().
	title string
}

// NewGridPerformer returns a Performer that drives g.
func NewGridPerformer(g *grid.Grid) *GridPerformer {
	return &GridPerformer{Grid: g}
}

// Title returns the last window title set via OSC 0 or OSC 2.
func (gp *GridPerformer) Title() string { return gp.title }

func (gp *GridPerformer) Print(r rune) {
	gp.Grid.PutChar(r)
}

// PrintText implements vtparse.TextPrinter, the Ground-state fast path:
// AdvanceBytes hands it whole runs of printable ASCII instead of calling
// Print byte by byte.
func (gp *GridPerformer) PrintText(s string) {
	gp.Grid.PutText(s)
}

func (gp *GridPerformer) Execute(b byte) {
	switch b {
	case '\n':
		gp.Grid.LineFeed()
	case '\r':
		gp.Grid.CarriageReturn()
	case '\t':
		gp.Grid.HorizontalTab()
	case '\b':
		gp.Grid.Backspace()
	case 0x07: // BEL outside of OSC: no terminal-visible effect
	}
}

func (gp *GridPerformer) CSI(params []int, private bool, final byte) {
	switch final {
	case 'A':
		gp.Grid.CursorMoveRel(0, -param1(params, 1))
	case 'B':
		gp.Grid.CursorMoveRel(0, param1(params, 1))
	case 'C':
		gp.Grid.CursorMoveRel(param1(params, 1), 0)
	case 'D':
		gp.Grid.CursorMoveRel(-param1(params, 1), 0)
	case 'G':
		col := param1(params, 1)
		_, y := gp.Grid.Cursor()
		gp.Grid.CursorMove(col-1, y)
	case 'd':
		row := param1(params, 1)
		x, _ := gp.Grid.Cursor()
		gp.Grid.CursorMove(x, row-1)
	case 'H', 'f':
		row, col := 1, 1
		if len(params) > 0 && params[0] > 0 {
			row = params[0]
		}
		if len(params) > 1 && params[1] > 0 {
			col = params[1]
		}
		gp.Grid.CursorMove(col-1, row-1)
	case 'J':
		gp.Grid.EraseInDisplay(eraseMode(params))
	case 'K':
		gp.Grid.EraseInLine(eraseMode(params))
	case 'S':
		gp.Grid.ScrollUp(param1(params, 1))
	case 'T':
		gp.Grid.ScrollDown(param1(params, 1))
	case 'm':
		gp.handleSGR(params)
	case 'r':
		top, bottom := 1, 0
		if len(params) > 0 && params[0] > 0 {
			top = params[0]
		}
		if len(params) > 1 && params[1] > 0 {
			bottom = params[1]
		} else {
			bottom = -1 // caller (us) resolves "full height" below
		}
		cols, rows := gp.Grid.Size()
		_ = cols
		if bottom < 0 {
			bottom = rows
		}
		gp.Grid.SetScrollRegion(top-1, bottom)
	case 's':
		gp.Grid.SaveCursor()
	case 'u':
		gp.Grid.RestoreCursor()
	case 'h':
		if private {
			gp.setPrivateMode(params, true)
		}
	case 'l':
		if private {
			gp.setPrivateMode(params, false)
		}
	}
}

func (gp *GridPerformer) setPrivateMode(params []int, enable bool) {
	for _, mode := range params {
		switch mode {
		case 1049, 47, 1047:
			gp.Grid.SwitchAlternate(enable)
		}
	}
}

func (gp *GridPerformer) OSC(data []byte) {
	// OSC 0 (icon+title) and OSC 2 (title) are the only ones with any
	// observable effect here; everything else (color palette queries,
	// hyperlinks, clipboard) is out of scope and discarded without
	// disturbing ground state, per the out-of-scope side effects rule.
	if len(data) < 2 || data[1] != ';' {
		return
	}
	switch data[0] {
	case '0', '2':
		gp.title = string(data[2:])
	}
}

func (gp *GridPerformer) Escape(intermediate byte, final byte) {
	if intermediate == 0 {
		switch final {
		case '7':
			gp.Grid.SaveCursor()
			return
		case '8':
			gp.Grid.RestoreCursor()
			return
		}
	}
	// Everything else — character-set selection (ESC ( B etc.), RIS
	// (ESC c) — is accepted input that a real shell may emit, but is a
	// no-op against this grid model.
}

func param1(params []int, def int) int {
	if len(params) > 0 && params[0] > 0 {
		return params[0]
	}
	return def
}

func eraseMode(params []int) grid.EraseMode {
	mode := 0
	if len(params) > 0 {
		mode = params[0]
	}
	switch mode {
	case 1:
		return grid.EraseAbove
	case 2:
		return grid.EraseAll
	case 3:
		return grid.EraseAllAndScrollback
	default:
		return grid.EraseBelow
	}
}

// handleSGR translates one or more SGR parameters into grid.Style updates,
// including the 256-color cube and direct RGB extensions.
func (gp *GridPerformer) handleSGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	style := gp.Grid.Style()

	for i := 0; i < len(params); i++ {
		v := params[i]
		switch {
		case v == 0:
			style = grid.DefaultStyle
		case v == 1:
			style.Flags |= grid.FlagBold
		case v == 3:
			style.Flags |= grid.FlagItalic
		case v == 4:
			style.Flags |= grid.FlagUnderline
		case v == 7:
			style.Flags |= grid.FlagInverse
		case v == 9:
			style.Flags |= grid.FlagStrikethrough
		case v == 22:
			style.Flags &^= grid.FlagBold
		case v == 23:
			style.Flags &^= grid.FlagItalic
		case v == 24:
			style.Flags &^= grid.FlagUnderline
		case v == 27:
			style.Flags &^= grid.FlagInverse
		case v == 29:
			style.Flags &^= grid.FlagStrikethrough
		case v >= 30 && v <= 37:
			style.Fg = grid.Palette(uint8(v - 30))
		case v == 38:
			fg, consumed := extendedColor(params[i+1:])
			style.Fg = fg
			i += consumed
		case v == 39:
			style.Fg = grid.DefaultColor
		case v >= 40 && v <= 47:
			style.Bg = grid.Palette(uint8(v - 40))
		case v == 48:
			bg, consumed := extendedColor(params[i+1:])
			style.Bg = bg
			i += consumed
		case v == 49:
			style.Bg = grid.DefaultColor
		case v >= 90 && v <= 97:
			style.Fg = grid.Palette(uint8(v - 90 + 8))
		case v >= 100 && v <= 107:
			style.Bg = grid.Palette(uint8(v - 100 + 8))
		}
	}

	gp.Grid.SetStyle(style)
}

// extendedColor parses the tail of a 38/48 SGR extended-color sequence
// (either "5;N" 256-color or "2;R;G;B" direct color) and reports how many
// extra parameters it consumed.
func extendedColor(rest []int) (grid.Color, int) {
	if len(rest) == 0 {
		return grid.DefaultColor, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return grid.DefaultColor, 1
		}
		return grid.Palette(uint8(rest[1])), 2
	case 2:
		if len(rest) < 4 {
			return grid.DefaultColor, len(rest)
		}
		return grid.RGB(uint8(rest[1]), uint8(rest[2]), uint8(rest[3])), 4
	default:
		return grid.DefaultColor, 1
	}
}
