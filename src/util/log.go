// log.go provides the compiler-wide logging facility: one Logger wrapping
// a *logrus.Logger that compiler stages share, mirroring the teacher's single package-level util
// facility (NewPerror, ListenWrite) that every stage of vslc shared.
package util

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Severity classifies a compiler message (§7: "severity + code + source
// location + rendered message").
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Message is one structured diagnostic, queryable by IDE/editor tooling.
type Message struct {
	Severity Severity
	Code     string
	Line     int
	Pos      int
	Text     string
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%s] %d:%d: %s", m.Severity, m.Code, m.Line, m.Pos, m.Text)
}

// Logger accumulates structured Messages for a single compilation while
// forwarding them to logrus for the ambient textual log stream.
type Logger struct {
	mu       sync.Mutex
	messages []Message
	backend  *logrus.Logger
}

// NewLogger returns a Logger that forwards to a fresh logrus.Logger.
func NewLogger() *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &Logger{backend: l}
}

// SetVerbose raises the backing logrus level to Debug.
func (l *Logger) SetVerbose(v bool) {
	if v {
		l.backend.SetLevel(logrus.DebugLevel)
	} else {
		l.backend.SetLevel(logrus.InfoLevel)
	}
}

// Report records a Message and forwards it to the logrus backend at the
// matching level.
func (l *Logger) Report(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()

	fields := logrus.Fields{"code": m.Code, "line": m.Line, "pos": m.Pos}
	switch m.Severity {
	case SeverityError:
		l.backend.WithFields(fields).Error(m.Text)
	case SeverityWarning:
		l.backend.WithFields(fields).Warn(m.Text)
	default:
		l.backend.WithFields(fields).Info(m.Text)
	}
}

// Debugf forwards a debug-level message straight to logrus, without
// recording it as a structured Message (internal tracing rather than
// user-facing diagnostics).
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.backend.Debugf(format, args...)
}

// Messages returns all Messages reported so far, in report order.
func (l *Logger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// HasErrors returns true if any Message of SeverityError was reported.
// The pipeline refuses to emit a module while this holds (§7).
func (l *Logger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.Severity == SeverityError {
			return true
		}
	}
	return false
}
