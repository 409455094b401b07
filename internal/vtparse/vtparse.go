// Package vtparse implements a byte-oriented VT100/ECMA-48/xterm escape
// sequence parser. It is a state machine, not a terminal emulator: it
// turns a byte stream into calls against a Performer, the way the
// teacher's AnsiParser fed TerminalBuffer.handlePrint/handleCsi/handleOsc,
// and the way vte::Parser fed TerminalPerformer in the original Rust
// implementation. Terminal semantics (cursor, grid, style) live entirely
// in the Performer implementation, not here.
package vtparse

// Performer receives the decoded verbs produced by Parser.Advance. A
// component that wants different terminal semantics (a headless grid, a
// pty pass-through recorder, a test spy) implements this interface instead
// of touching the parser.
type Performer interface {
	// Print is called for each decoded printable rune, including
	// multi-byte UTF-8 sequences.
	Print(r rune)
	// Execute is called for C0/C1 control bytes (\n \r \t \b, etc.)
	// outside of an escape or control sequence.
	Execute(b byte)
	// CSI is called once a complete Control Sequence Introducer has been
	// parsed: params are the numeric parameters (default-substituted as
	// 0, the way raw CSI parameters arrive — callers apply their own
	// per-verb defaults), private reports whether the first parameter
	// byte was '?' (a DEC private mode sequence), and final is the
	// terminating byte that selects the verb.
	CSI(params []int, private bool, final byte)
	// OSC is called with the raw bytes between "ESC ]" and the string
	// terminator (BEL or ESC \\), not including the terminator.
	OSC(data []byte)
	// Escape is called for a plain (non-CSI, non-OSC) escape sequence:
	// intermediate is 0 if there was none.
	Escape(intermediate byte, final byte)
}

// TextPrinter is an optional Performer extension: a Performer implementing
// it receives whole runs of consecutive printable ASCII bytes seen in
// Ground state via PrintText instead of one Print call per byte. This is
// the Ground-state fast path (spec's put_text batching): AdvanceBytes
// checks for it once per AdvanceBytes call, not once per byte, so a Performer
// that doesn't implement it (a test spy, say) still gets correct
// per-rune Print calls, just without the batching.
type TextPrinter interface {
	PrintText(s string)
}

type state int

const (
	stateGround state = iota
	stateEscape
	stateEscapeIntermediate
	stateCsiEntry
	stateCsiParam
	stateCsiIntermediate
	stateCsiIgnore
	stateOscString
	stateOscEscape
	stateDcsPassthrough
	stateDcsIgnore
)

const (
	// maxCSIParams matches the ≤16 numeric parameters bound; a separator
	// that would open a 17th parameter drives the sequence into CSI-Ignore.
	maxCSIParams     = 16
	maxCSIParamValue = 65535
	maxOSCLen        = 4096
)

// Parser decodes a byte stream into Performer calls. It carries no output
// buffer of its own and is safe to reuse across many AdvanceBytes calls, the same
// way the teacher kept a single persistent parser per session so escape
// sequences split across read() calls still parse correctly.
type Parser struct {
	state state

	params      []int
	paramsOverflowed bool
	private     bool
	intermediate byte

	osc []byte

	// utf8Buf holds the bytes of an in-progress multi-byte UTF-8
	// sequence across Advance calls.
	utf8Buf  [4]byte
	utf8Len  int
	utf8Need int
}

// New returns a ready-to-use Parser.
func New() *Parser {
	return &Parser{}
}

// Advance feeds one byte through the state machine, invoking p's callbacks
// as completed verbs are recognized.
func (ps *Parser) Advance(p Performer, b byte) {
	// UTF-8 continuation takes priority over the control-byte state
	// machine: a continuation byte (0x80-0xBF) is never a C0 control or
	// the start of an escape sequence.
	if ps.utf8Need > 0 {
		if b >= 0x80 && b <= 0xBF {
			ps.utf8Buf[ps.utf8Len] = b
			ps.utf8Len++
			ps.utf8Need--
			if ps.utf8Need == 0 {
				r := decodeUTF8(ps.utf8Buf[:ps.utf8Len])
				p.Print(r)
			}
			return
		}
		// malformed sequence: emit replacement and fall through to
		// reprocess b normally.
		ps.utf8Need = 0
		ps.utf8Len = 0
		p.Print('�')
	}

	switch ps.state {
	case stateGround:
		ps.advanceGround(p, b)
	case stateEscape:
		ps.advanceEscape(p, b)
	case stateEscapeIntermediate:
		ps.advanceEscapeIntermediate(p, b)
	case stateCsiEntry:
		ps.advanceCsiEntry(p, b)
	case stateCsiParam:
		ps.advanceCsiParam(p, b)
	case stateCsiIntermediate:
		ps.advanceCsiIntermediate(p, b)
	case stateCsiIgnore:
		ps.advanceCsiIgnore(p, b)
	case stateOscString:
		ps.advanceOscString(p, b)
	case stateOscEscape:
		ps.advanceOscEscape(p, b)
	case stateDcsPassthrough, stateDcsIgnore:
		ps.advanceDcs(p, b)
	}
}

// AdvanceBytes feeds an entire buffer through Advance. In Ground state, a
// run of consecutive printable ASCII bytes is batched into one PrintText
// call if p implements TextPrinter, rather than one Print call per byte —
// the fast path a real shell's high-volume plain-text output depends on.
func (ps *Parser) AdvanceBytes(p Performer, data []byte) {
	printer, batches := p.(TextPrinter)

	i := 0
	for i < len(data) {
		if batches && ps.state == stateGround && ps.utf8Need == 0 {
			j := i
			for j < len(data) && data[j] >= 0x20 && data[j] <= 0x7e {
				j++
			}
			if j > i {
				printer.PrintText(string(data[i:j]))
				i = j
				continue
			}
		}
		ps.Advance(p, data[i])
		i++
	}
}

func (ps *Parser) advanceGround(p Performer, b byte) {
	switch {
	case b == 0x1b:
		ps.enterEscape()
	case b < 0x20 || b == 0x7f:
		p.Execute(b)
	case b < 0x80:
		p.Print(rune(b))
	case b >= 0xc2 && b <= 0xdf:
		ps.beginUTF8(b, 1)
	case b >= 0xe0 && b <= 0xef:
		ps.beginUTF8(b, 2)
	case b >= 0xf0 && b <= 0xf4:
		ps.beginUTF8(b, 3)
	default:
		// stray continuation byte or invalid lead byte outside of a
		// sequence: treat as replacement rather than panicking the
		// state machine.
		p.Print('�')
	}
}

func (ps *Parser) beginUTF8(lead byte, continuationBytes int) {
	ps.utf8Buf[0] = lead
	ps.utf8Len = 1
	ps.utf8Need = continuationBytes
}

func decodeUTF8(buf []byte) rune {
	r := []rune(string(buf))
	if len(r) == 0 {
		return '�'
	}
	return r[0]
}

func (ps *Parser) enterEscape() {
	ps.state = stateEscape
	ps.intermediate = 0
}

func (ps *Parser) advanceEscape(p Performer, b byte) {
	switch {
	case b == '[':
		ps.enterCsiEntry()
	case b == ']':
		ps.state = stateOscString
		ps.osc = ps.osc[:0]
	case b == 'P' || b == 'X' || b == '^' || b == '_':
		ps.state = stateDcsPassthrough
	case b >= 0x20 && b <= 0x2f:
		ps.intermediate = b
		ps.state = stateEscapeIntermediate
	case b >= 0x30 && b <= 0x7e:
		p.Escape(0, b)
		ps.state = stateGround
	case b == 0x1b:
		ps.enterEscape() // ESC ESC: restart
	default:
		ps.state = stateGround
	}
}

func (ps *Parser) advanceEscapeIntermediate(p Performer, b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		// a second intermediate byte: only the first is retained, as
		// nothing in the supported verb set needs more than one.
	case b >= 0x30 && b <= 0x7e:
		p.Escape(ps.intermediate, b)
		ps.state = stateGround
	case b == 0x1b:
		ps.enterEscape()
	default:
		ps.state = stateGround
	}
}

func (ps *Parser) enterCsiEntry() {
	ps.state = stateCsiEntry
	ps.params = ps.params[:0]
	ps.paramsOverflowed = false
	ps.private = false
	ps.intermediate = 0
}

func (ps *Parser) advanceCsiEntry(p Performer, b byte) {
	switch {
	case b == '?' || b == '<' || b == '=' || b == '>':
		ps.private = b == '?'
		ps.params = append(ps.params, 0)
		ps.state = stateCsiParam
	case b >= '0' && b <= '9':
		ps.params = append(ps.params, 0)
		ps.accumulateDigit(b)
		ps.state = stateCsiParam
	case b == ';':
		ps.params = append(ps.params, 0, 0)
		ps.state = stateCsiParam
	case b >= 0x20 && b <= 0x2f:
		ps.intermediate = b
		ps.state = stateCsiIntermediate
	case b >= 0x40 && b <= 0x7e:
		ps.finishCSI(p, b)
	case b == 0x1b:
		ps.enterEscape()
	case b < 0x20:
		p.Execute(b)
	default:
		ps.state = stateCsiIgnore
	}
}

func (ps *Parser) accumulateDigit(b byte) {
	i := len(ps.params) - 1
	v := ps.params[i]*10 + int(b-'0')
	if v > maxCSIParamValue {
		v = maxCSIParamValue
	}
	ps.params[i] = v
}

func (ps *Parser) advanceCsiParam(p Performer, b byte) {
	switch {
	case b >= '0' && b <= '9':
		ps.accumulateDigit(b)
	case b == ';':
		if len(ps.params) >= maxCSIParams {
			ps.paramsOverflowed = true
			ps.state = stateCsiIgnore
			return
		}
		ps.params = append(ps.params, 0)
	case b >= 0x20 && b <= 0x2f:
		ps.intermediate = b
		ps.state = stateCsiIntermediate
	case b >= 0x40 && b <= 0x7e:
		ps.finishCSI(p, b)
	case b == 0x1b:
		ps.enterEscape()
	case b < 0x20:
		p.Execute(b)
	default:
		ps.state = stateCsiIgnore
	}
}

func (ps *Parser) advanceCsiIntermediate(p Performer, b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		// additional intermediate, ignored beyond the first.
	case b >= 0x40 && b <= 0x7e:
		ps.finishCSI(p, b)
	case b == 0x1b:
		ps.enterEscape()
	case b < 0x20:
		p.Execute(b)
	default:
		ps.state = stateCsiIgnore
	}
}

func (ps *Parser) advanceCsiIgnore(p Performer, b byte) {
	switch {
	case b >= 0x40 && b <= 0x7e:
		ps.state = stateGround
	case b == 0x1b:
		ps.enterEscape()
	case b < 0x20:
		p.Execute(b)
	}
}

func (ps *Parser) finishCSI(p Performer, final byte) {
	if !ps.paramsOverflowed {
		p.CSI(ps.params, ps.private, final)
	}
	ps.state = stateGround
}

func (ps *Parser) advanceOscString(p Performer, b byte) {
	switch b {
	case 0x07: // BEL terminator
		p.OSC(ps.osc)
		ps.state = stateGround
	case 0x1b:
		ps.state = stateOscEscape
	default:
		if len(ps.osc) < maxOSCLen {
			ps.osc = append(ps.osc, b)
		}
	}
}

// advanceOscEscape handles the byte following an ESC seen while collecting
// an OSC string: '\\' confirms a String Terminator (ESC \\) and flushes the
// OSC, anything else abandons OSC collection and is treated as the start of
// a fresh escape sequence (mirroring how ground-state ESC handling works).
func (ps *Parser) advanceOscEscape(p Performer, b byte) {
	if b == '\\' {
		p.OSC(ps.osc)
		ps.state = stateGround
		return
	}
	ps.enterEscape()
	ps.advanceEscape(p, b)
}

func (ps *Parser) advanceDcs(p Performer, b byte) {
	// DCS payloads are intentionally discarded: nothing in this system
	// emits or consumes device control strings, but a well-formed
	// terminal stream can still contain them and must exit cleanly on
	// the string terminator.
	switch b {
	case 0x07:
		ps.state = stateGround
	case 0x1b:
		// ESC begins the ESC \ terminator; the escape state consumes the
		// '\' so it is not printed.
		ps.enterEscape()
	}
}
