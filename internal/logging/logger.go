// Package logging provides the leveled, structured logger used by every
// DebugBridge component. The VM (internal/vmhost) keeps no trace log of
// its own.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Format selects the rendering of emitted log entries.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// Entry is a single structured log record. SessionID identifies the DAP
// client connection the entry is associated with, if any.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	SessionID string                 `json:"session_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Config controls logger behavior.
type Config struct {
	MinLevel      Level
	Format        Format
	IncludeCaller bool
	BufferSize    int
	Outputs       []io.Writer
}

// Logger is the shared application logger. Writes are buffered and
// processed on a background goroutine; a full buffer falls back to a
// synchronous write so FATAL/ERROR entries are never silently dropped.
type Logger struct {
	config  Config
	buffer  chan *Entry
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	syncCh  chan chan struct{}
}

// New creates a Logger from config, filling in defaults.
func New(config Config) *Logger {
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if len(config.Outputs) == 0 {
		config.Outputs = []io.Writer{os.Stdout}
	}

	l := &Logger{
		config: config,
		buffer: make(chan *Entry, config.BufferSize),
		syncCh: make(chan chan struct{}, 1),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

func (l *Logger) run() {
	defer l.wg.Done()

	for {
		select {
		case entry, ok := <-l.buffer:
			if !ok {
				select {
				case done := <-l.syncCh:
					close(done)
				default:
				}
				return
			}
			l.write(entry)
		case done := <-l.syncCh:
			draining := true
			for draining {
				select {
				case entry := <-l.buffer:
					l.write(entry)
				default:
					draining = false
				}
			}
			close(done)
		}
	}
}

func (l *Logger) write(entry *Entry) {
	var line string
	if l.config.Format == JSONFormat {
		b, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: marshal failed: %v\n", err)
			return
		}
		line = string(b) + "\n"
	} else {
		line = l.formatText(entry)
	}

	for _, w := range l.config.Outputs {
		if _, err := w.Write([]byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "logging: write failed: %v\n", err)
		}
	}
}

func (l *Logger) formatText(entry *Entry) string {
	ts := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	parts := []string{fmt.Sprintf("[%s]", ts), fmt.Sprintf("[%s]", entry.Level)}

	if entry.SessionID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.SessionID))
	}
	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.Caller))
	}
	parts = append(parts, entry.Message)

	if len(entry.Fields) > 0 {
		fieldsStr := ""
		for k, v := range entry.Fields {
			if fieldsStr != "" {
				fieldsStr += ", "
			}
			fieldsStr += fmt.Sprintf("%s=%v", k, v)
		}
		parts = append(parts, fmt.Sprintf("{%s}", fieldsStr))
	}

	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out + "\n"
}

func (l *Logger) log(level Level, sessionID, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped || level < l.config.MinLevel {
		return
	}

	entry := &Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
		SessionID: sessionID,
		Fields:    fields,
	}

	if l.config.IncludeCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	select {
	case l.buffer <- entry:
	default:
		l.write(entry)
	}

	if level == Fatal {
		l.Close()
		os.Exit(1)
	}
}

// With returns a session-scoped logger; every entry logged through it
// carries sessionID, matching the one-DAP-session-per-connection model.
func (l *Logger) With(sessionID string) *SessionLogger {
	return &SessionLogger{l: l, sessionID: sessionID}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, "", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, "", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, "", fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, "", fmt.Sprintf(format, args...), nil) }

// Sync blocks until every buffered entry has been written.
func (l *Logger) Sync() {
	done := make(chan struct{})
	l.syncCh <- done
	<-done
}

// Close flushes and stops the background writer.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.buffer)
	l.wg.Wait()
}

// SessionLogger is a Logger bound to one DAP session ID.
type SessionLogger struct {
	l         *Logger
	sessionID string
}

func (s *SessionLogger) Debugf(format string, args ...interface{}) {
	s.l.log(Debug, s.sessionID, fmt.Sprintf(format, args...), nil)
}
func (s *SessionLogger) Infof(format string, args ...interface{}) {
	s.l.log(Info, s.sessionID, fmt.Sprintf(format, args...), nil)
}
func (s *SessionLogger) Warnf(format string, args ...interface{}) {
	s.l.log(Warn, s.sessionID, fmt.Sprintf(format, args...), nil)
}
func (s *SessionLogger) Errorf(format string, args ...interface{}) {
	s.l.log(Error, s.sessionID, fmt.Sprintf(format, args...), nil)
}
