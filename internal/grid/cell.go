package grid

// ColorMode tags a Color as the default terminal color, a 256-entry
// palette index, or a direct RGB triple.
type ColorMode uint8

const (
	ColorDefault ColorMode = iota
	ColorPalette
	ColorRGB
)

// Color is a tagged union over {default, palette-index 0..255, direct RGB}.
type Color struct {
	Mode  ColorMode
	Index uint8
	R, G, B uint8
}

// DefaultColor is the zero-value Color: the terminal's default foreground
// or background, not an explicit palette entry.
var DefaultColor = Color{Mode: ColorDefault}

// Palette returns a Color selecting palette index idx.
func Palette(idx uint8) Color {
	return Color{Mode: ColorPalette, Index: idx}
}

// RGB returns a direct-color Color.
func RGB(r, g, b uint8) Color {
	return Color{Mode: ColorRGB, R: r, G: g, B: b}
}

// StyleFlags is a bitset of SGR attributes.
type StyleFlags uint8

const (
	FlagBold StyleFlags = 1 << iota
	FlagItalic
	FlagUnderline
	FlagInverse
	FlagStrikethrough
)

// Style is the set of attributes applied to a Cell when it is written.
type Style struct {
	Fg, Bg Color
	Flags  StyleFlags
}

// DefaultStyle is the zero-value Style.
var DefaultStyle = Style{}

func (s Style) has(f StyleFlags) bool { return s.Flags&f != 0 }

func (s *Style) set(f StyleFlags, on bool) {
	if on {
		s.Flags |= f
	} else {
		s.Flags &^= f
	}
}

// Cell is a single on-screen character position.
type Cell struct {
	Ch    rune
	Style Style
	// WideContinuation marks a cell that is the trailing half of a
	// two-column character; its Ch is meaningless and must be skipped
	// when rendering or measuring text.
	WideContinuation bool
}

// blankCell returns a default space cell styled with the background of
// the given style. Scroll fills pass the active style; erases pass
// DefaultStyle.
func blankCell(style Style) Cell {
	return Cell{Ch: ' ', Style: Style{Bg: style.Bg}}
}
