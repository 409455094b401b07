// Package termlog centralizes the bracketed-tag logging convention used
// across termbroker, instead of scattering log.Printf and os.Getenv debug
// checks at every call site.
package termlog

import (
	"log"
	"os"
)

var debugEnabled = os.Getenv("TERMD_DEBUG") != ""

// Logger is a tagged logger bound to a component name, e.g. "broker" or
// "headless". Every line is prefixed "[component] [LEVEL] ".
type Logger struct {
	component string
}

// New returns a Logger for the given component name.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf("[%s] [DEBUG] "+format, prepend(l.component, args)...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	log.Printf("[%s] [INFO] "+format, prepend(l.component, args)...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	log.Printf("[%s] [WARN] "+format, prepend(l.component, args)...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	log.Printf("[%s] [ERROR] "+format, prepend(l.component, args)...)
}

func prepend(component string, args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, component)
	out = append(out, args...)
	return out
}

// DebugEnabled reports whether TERMD_DEBUG is set, for callers that need to
// skip expensive formatting work outright rather than pay for it and have
// Debugf discard the result.
func DebugEnabled() bool {
	return debugEnabled
}
