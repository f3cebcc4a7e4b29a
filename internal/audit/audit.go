// Package audit keeps an append-only log of debug sessions: break
// episodes, breakpoint hits and condition evaluations, written behind
// database/sql. SQLite is the zero-config default; MySQL and Postgres
// are opt-in for teams centralizing audit history across instances.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // Postgres driver
	_ "modernc.org/sqlite"             // Pure Go SQLite driver

	"github.com/sssooonnnggg/luaud/internal/ids"
	"github.com/sssooonnnggg/luaud/internal/logging"
)

// Config selects the audit backend.
type Config struct {
	Driver string // sqlite | mysql | postgres
	DSN    string
}

// Event is one audit row.
type Event struct {
	ID        string
	SessionID string
	Kind      string // break | hit | condition | disconnect
	Reason    string
	Path      string
	Line      int
	Detail    string
	CreatedAt time.Time
}

// Log is the audit writer. Inserts are buffered onto a background
// goroutine so recording never blocks the VM thread inside a Break
// entry.
type Log struct {
	db     *sql.DB
	driver string
	log    *logging.Logger

	events chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT,
	path       TEXT,
	line       INTEGER,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
)`

// Open connects to the configured backend and ensures the schema.
func Open(ctx context.Context, cfg Config, log *logging.Logger) (*Log, error) {
	driver := cfg.Driver
	dsn := cfg.DSN
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		if dsn == "" {
			dsn = "luaud_audit.db"
		}
		if !strings.Contains(dsn, "?") && dsn != ":memory:" {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	case "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if driver == "sqlite" {
		// A single connection sidesteps "database is locked" under
		// concurrent writes.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	l := &Log{
		db:     db,
		driver: driver,
		log:    log,
		events: make(chan Event, 256),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *Log) run() {
	defer l.wg.Done()
	for ev := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := l.db.ExecContext(ctx,
			insertPlaceholders("INSERT INTO audit_events (id, session_id, kind, reason, path, line, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", l.driver),
			ev.ID, ev.SessionID, ev.Kind, ev.Reason, ev.Path, ev.Line, ev.Detail, ev.CreatedAt)
		cancel()
		if err != nil {
			l.log.Warnf("audit insert: %v", err)
		}
	}
}

// insertPlaceholders rewrites ? placeholders to $N for Postgres, which
// rejects the mysql/sqlite style.
func insertPlaceholders(query, driver string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *Log) record(ev Event) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	ev.ID = ids.NewAuditID()
	ev.CreatedAt = time.Now().UTC()
	select {
	case l.events <- ev:
	default:
		// Never block the VM thread; drop under backpressure.
		l.log.Warnf("audit buffer full, dropping %s event", ev.Kind)
	}
}

// RecordBreak logs the start of one Break episode.
func (l *Log) RecordBreak(sessionID, reason, path string, line int) {
	l.record(Event{SessionID: sessionID, Kind: "break", Reason: reason, Path: path, Line: line})
}

// RecordHit logs one breakpoint hit with its running count.
func (l *Log) RecordHit(sessionID, path string, line, hitCount int) {
	l.record(Event{SessionID: sessionID, Kind: "hit", Path: path, Line: line, Detail: fmt.Sprintf("hit_count=%d", hitCount)})
}

// RecordCondition logs one condition evaluation outcome.
func (l *Log) RecordCondition(sessionID, path string, line int, condition string, outcome string) {
	l.record(Event{SessionID: sessionID, Kind: "condition", Path: path, Line: line, Detail: condition + " -> " + outcome})
}

// RecordDisconnect logs the end of a client session.
func (l *Log) RecordDisconnect(sessionID string) {
	l.record(Event{SessionID: sessionID, Kind: "disconnect"})
}

// Recent returns the n newest audit rows.
func (l *Log) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		insertPlaceholders("SELECT id, session_id, kind, reason, path, line, detail, created_at FROM audit_events ORDER BY created_at DESC LIMIT ?", l.driver), n)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var reason, path, detail sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &reason, &path, &line, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Reason = reason.String
		ev.Path = path.String
		ev.Line = int(line.Int64)
		ev.Detail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close drains the buffer and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)
	l.wg.Wait()
	return l.db.Close()
}
