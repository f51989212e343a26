// Package logging provides the console logger shared by every mcp-inspect
// surface, plus structured security audit records.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

const timeFormat = "15:04:05"

// Logger writes human-readable, optionally coloured lines. All methods are
// safe to call on a nil *Logger.
type Logger struct {
	mu          sync.Mutex
	verbose     bool
	useColor    bool
	jsonRPCMode bool
	writer      io.Writer
	audit       *slog.Logger
}

// NewLogger creates a logger writing to stdout.
func NewLogger(verbose, useColor, jsonRPCMode bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonRPCMode, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(verbose, useColor, jsonRPCMode bool, w io.Writer) *Logger {
	l := &Logger{
		verbose:     verbose,
		useColor:    useColor,
		jsonRPCMode: jsonRPCMode,
		writer:      w,
	}
	l.audit = newAuditLogger(w)
	return l
}

func newAuditLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("subsystem", "oauth")
}

// SetVerbose toggles verbose output.
func (l *Logger) SetVerbose(verbose bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.verbose = verbose
	l.mu.Unlock()
}

// Verbose reports whether verbose output is enabled.
func (l *Logger) Verbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// SetWriter redirects all subsequent output to w.
func (l *Logger) SetWriter(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.writer = w
	l.audit = newAuditLogger(w)
	l.mu.Unlock()
}

// Writer returns the current output writer.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s%s", time.Now().Format(timeFormat), prefix, msg)
	if l.useColor && c != nil {
		line = c.Sprint(line)
	}
	fmt.Fprintln(l.writer, line)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.print(color.New(color.FgCyan), "", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.print(color.New(color.FgGreen), "✓ ", format, args...)
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(color.New(color.FgYellow), "⚠ ", format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(color.New(color.FgRed), "✗ ", format, args...)
}

// Debug logs only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.print(color.New(color.FgHiBlack), "DEBUG ", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.Info(format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.Warning(format, args...)
}

// Request logs an outgoing JSON-RPC request.
func (l *Logger) Request(method string, params interface{}) {
	l.jsonRPC("→", method, params)
}

// Response logs a JSON-RPC response.
func (l *Logger) Response(method string, result interface{}) {
	l.jsonRPC("←", method, result)
}

// Notification logs a JSON-RPC notification.
func (l *Logger) Notification(method string, params interface{}) {
	l.jsonRPC("↯", method, params)
}

func (l *Logger) jsonRPC(arrow, method string, payload interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	full := l.jsonRPCMode
	l.mu.Unlock()

	if !full {
		l.print(color.New(color.FgMagenta), arrow+" ", "%s", method)
		return
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		l.print(color.New(color.FgMagenta), arrow+" ", "%s (unencodable payload: %v)", method, err)
		return
	}
	l.print(color.New(color.FgMagenta), arrow+" ", "%s\n%s", method, data)
}

// Audit emits a structured security audit record. The event name is carried
// as an attribute so the records can be filtered.
func (l *Logger) Audit(event string, attrs ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	audit := l.audit
	l.mu.Unlock()
	audit.Info("SECURITY_AUDIT: "+event, append([]any{"event", event}, attrs...)...)
}
