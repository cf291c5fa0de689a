package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/peereval/backend/core"
)

// Logger is a core.Logger writing to the test log. Entries are kept for assertions.
type Logger struct {
	t       testing.TB
	mu      sync.Mutex
	entries []string
}

var _ core.Logger = (*Logger)(nil)

func NewLogger(t testing.TB) *Logger {
	return &Logger{t: t}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	var b strings.Builder
	b.WriteString(level + ": " + msg)
	for _, arg := range args {
		_, _ = fmt.Fprintf(&b, " %+v", arg)
	}
	l.mu.Lock()
	l.entries = append(l.entries, b.String())
	l.mu.Unlock()
	l.t.Log(b.String())
}

// Entries returns the entries logged so far.
func (l *Logger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.t.FailNow()
}
