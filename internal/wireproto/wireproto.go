// Package wireproto implements the line-oriented text protocol spoken
// between the broker and its TCP clients: command parsing and response
// serialization. It has no knowledge of sessions, panes, or channels —
// internal/broker/conn owns dispatch; this package only owns the grammar.
package wireproto

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength is the maximum accepted command line length, not counting
// the LF terminator.
const MaxLineLength = 1 << 20 // 1 MiB

// Command is a single parsed request line. Verb is upper-cased; Args holds
// the space-split tokens that follow it, except where the grammar calls
// for a verbatim payload tail (PUBLISH/INJECT), in which case Args[len-1]
// is the untouched remainder of the line.
type Command struct {
	Verb string
	Args []string
	Raw  string
}

// ParseLine tokenizes one command line (without its terminator). Verbs are
// split on whitespace; PUBLISH and INJECT additionally capture the
// remainder of the line after their channel argument verbatim, per the
// payload grammar: "the remainder of the command line after the channel
// name, verbatim ... whitespace within the payload is preserved."
func ParseLine(line string) (Command, error) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	sp := strings.IndexByte(line, ' ')
	var verb, rest string
	if sp < 0 {
		verb = line
	} else {
		verb = line[:sp]
		rest = line[sp+1:]
	}
	verbUpper := strings.ToUpper(verb)

	// Two-word verbs: LIST SESSIONS / LIST PANES / LIST CHANNELS, CREATE
	// SESSION / CREATE PANE, CLOSE SESSION / CLOSE PANE.
	switch verbUpper {
	case "LIST", "CREATE", "CLOSE":
		sub, rest2 := splitFirst(rest)
		if sub == "" {
			return Command{}, fmt.Errorf("missing subcommand for %s", verbUpper)
		}
		return Command{Verb: verbUpper + " " + strings.ToUpper(sub), Args: splitArgs(rest2), Raw: line}, nil
	}

	switch verbUpper {
	case "PUBLISH", "INJECT":
		channel, payload := splitFirst(rest)
		if channel == "" {
			return Command{}, fmt.Errorf("missing channel")
		}
		return Command{Verb: verbUpper, Args: []string{channel, payload}, Raw: line}, nil
	}

	return Command{Verb: verbUpper, Args: splitArgs(rest), Raw: line}, nil
}

// splitFirst splits s into its first whitespace-delimited token and the
// untouched remainder (no further trimming, so embedded whitespace in the
// remainder survives).
func splitFirst(s string) (first, rest string) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return "", ""
	}
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return s, ""
	}
	return s[:sp], s[sp+1:]
}

func splitArgs(s string) []string {
	fields := strings.Fields(s)
	return fields
}

// OK formats a successful response with no arguments: "+OK".
func OK() string { return "+OK" }

// OKf formats a successful response with a printf-style argument tail:
// "+OK <args>", or a bare "+OK" when the tail formats to nothing.
func OKf(format string, args ...interface{}) string {
	s := fmt.Sprintf(format, args...)
	if s == "" {
		return "+OK"
	}
	return "+OK " + s
}

// Err formats an error response: "-ERR <reason>".
func Err(reason string) string {
	return "-ERR " + reason
}

// Errf formats an error response with a printf-style reason.
func Errf(format string, args ...interface{}) string {
	return "-ERR " + fmt.Sprintf(format, args...)
}

// Message formats an asynchronous delivery line: "+MESSAGE <channel> <payload>".
func Message(channel, payload string) string {
	return "+MESSAGE " + channel + " " + payload
}

// Reply formats the RPOP success line: a double-quoted payload, escaped
// with strconv.Quote so that a payload containing LF (INJECT appends one)
// still fits on a single reply line.
func Reply(payload string) string {
	return strconv.Quote(payload)
}

// ReadLine reads one line (without its terminator) from r, enforcing
// MaxLineLength while reading rather than after the fact — a client that
// never sends a newline cannot force unbounded buffering.
func ReadLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(string(buf), "\r"), nil
		}
		buf = append(buf, b)
		if len(buf) > MaxLineLength {
			return "", fmt.Errorf("command line exceeds %d bytes", MaxLineLength)
		}
	}
}
