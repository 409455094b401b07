package grid

import "testing"

func TestPutCharAdvancesCursorAndWraps(t *testing.T) {
	g := New(4, 3)
	g.PutText("abcd")
	x, y := g.Cursor()
	if x != 4 || y != 0 {
		t.Fatalf("expected pending wrap at (4,0), got (%d,%d)", x, y)
	}
	g.PutChar('e')
	x, y = g.Cursor()
	if x != 1 || y != 1 {
		t.Fatalf("expected next char to wrap, cursor (1,1), got (%d,%d)", x, y)
	}
	rows := g.VisibleText()
	if rows[0] != "abcd" {
		t.Fatalf("row 0 = %q, want %q", rows[0], "abcd")
	}
}

func TestLineFeedScrollsAtBottom(t *testing.T) {
	g := New(3, 2)
	g.PutText("aaa")
	g.CarriageReturn()
	g.LineFeed()
	g.PutText("bbb")
	g.CarriageReturn()
	g.LineFeed() // scrolls: "aaa" goes to scrollback, "bbb" moves up to row 0
	rows := g.VisibleText()
	if rows[0] != "bbb" {
		t.Fatalf("after scroll, row0 = %q, want %q", rows[0], "bbb")
	}
	if g.ScrollbackLen() != 1 {
		t.Fatalf("expected 1 scrollback row, got %d", g.ScrollbackLen())
	}
	sb := g.ScrollbackText(1)
	if sb[0] != "aaa" {
		t.Fatalf("scrollback[0] = %q, want %q", sb[0], "aaa")
	}
}

func TestScrollRegionResetsCursor(t *testing.T) {
	g := New(10, 10)
	g.CursorMove(5, 5)
	g.SetScrollRegion(2, 8)
	x, y := g.Cursor()
	if x != 0 || y != 0 {
		t.Fatalf("expected cursor reset to (0,0), got (%d,%d)", x, y)
	}
}

func TestEraseInDisplayAll(t *testing.T) {
	g := New(4, 2)
	g.PutText("abcd")
	g.EraseInDisplay(EraseAll)
	rows := g.VisibleText()
	if rows[0] != "" || rows[1] != "" {
		t.Fatalf("expected blank rows after EraseAll, got %q %q", rows[0], rows[1])
	}
}

func TestDirtyCollapsesToAllDirty(t *testing.T) {
	g := New(4, 4) // 16 cells; threshold is >4 touched
	for i := 0; i < 5; i++ {
		g.markDirty(i%4, i/4)
	}
	_, allDirty := g.DirtySnapshot()
	if !allDirty {
		t.Fatalf("expected all-dirty collapse after touching >1/4 of cells")
	}
}

func TestDirtySnapshotClearsState(t *testing.T) {
	g := New(4, 4)
	g.PutChar('x')
	coords, all := g.DirtySnapshot()
	if all {
		t.Fatalf("did not expect all-dirty from a single PutChar")
	}
	if len(coords) != 1 || coords[0] != [2]int{0, 0} {
		t.Fatalf("expected single dirty coord (0,0), got %v", coords)
	}
	coords2, all2 := g.DirtySnapshot()
	if all2 || len(coords2) != 0 {
		t.Fatalf("expected empty snapshot after drain, got %v all=%v", coords2, all2)
	}
}

func TestResizePreservesIntersectionAndClampsCursor(t *testing.T) {
	g := New(5, 5)
	g.PutText("hello")
	g.CursorMove(4, 4)
	g.Resize(3, 3)
	cols, rows := g.Size()
	if cols != 3 || rows != 3 {
		t.Fatalf("Size() = (%d,%d), want (3,3)", cols, rows)
	}
	x, y := g.Cursor()
	if x > 3 || y > 2 {
		t.Fatalf("cursor (%d,%d) not clamped into new bounds", x, y)
	}
	rowsText := g.VisibleText()
	if rowsText[0] != "hel" {
		t.Fatalf("row0 = %q, want preserved intersection %q", rowsText[0], "hel")
	}
}

func TestSwitchAlternatePreservesCursorAcrossToggle(t *testing.T) {
	g := New(10, 10)
	g.CursorMove(3, 3)
	g.SwitchAlternate(true)
	ax, ay := g.Cursor()
	if ax != 0 || ay != 0 {
		t.Fatalf("alternate screen cursor should start at (0,0), got (%d,%d)", ax, ay)
	}
	g.CursorMove(7, 7)
	g.SwitchAlternate(false)
	x, y := g.Cursor()
	if x != 3 || y != 3 {
		t.Fatalf("expected restored primary cursor (3,3), got (%d,%d)", x, y)
	}
}

func TestWideCharOccupiesTwoColumns(t *testing.T) {
	g := New(4, 1)
	g.PutChar('字') // CJK, width 2
	x, _ := g.Cursor()
	if x != 2 {
		t.Fatalf("expected cursor at column 2 after wide char, got %d", x)
	}
	rows := g.VisibleText()
	if rows[0] != "字" {
		t.Fatalf("row0 = %q, want %q", rows[0], "字")
	}
}

func TestScrollbackCapacityBounded(t *testing.T) {
	g := NewWithScrollback(2, 1, 3)
	for i := 0; i < 10; i++ {
		g.PutText("x")
		g.LineFeed()
	}
	if g.ScrollbackLen() != 3 {
		t.Fatalf("expected scrollback capped at 3, got %d", g.ScrollbackLen())
	}
}
