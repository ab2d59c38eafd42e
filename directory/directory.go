// Package directory records which objects are alive in which interpreter
// session. It listens to interpreter lifecycle events and keeps one row per
// live handle in a SQLite table, so operators can list a session's objects
// without touching the interpreter that owns them.
package directory

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

var log = commonlog.GetLogger("clientserver.directory")

// ErrClosed is returned by queries on a closed directory.
var ErrClosed = errors.New("directory is closed")

// Entry is one live object.
type Entry struct {
	Session   string
	Handle    stream.ID
	Class     string
	CreatedAt time.Time
}

// Directory is a SQLite-backed table of live objects, keyed by session and
// handle.
type Directory struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

// Open opens or creates the directory database at path. An empty path or
// ":memory:" keeps the table in memory.
func Open(path string) (*Directory, error) {
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening directory: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS objects (
		session    TEXT    NOT NULL,
		handle     INTEGER NOT NULL,
		class      TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session, handle)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating objects table: %w", err)
	}

	log.Debugf("directory opened at %s", path)
	return &Directory{db: db, now: time.Now}, nil
}

// Close closes the database. Further calls fail with ErrClosed.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Observer returns an interpreter observer that records session's objects.
// Storage failures are logged and never reach the interpreter.
func (d *Directory) Observer(session string) interp.Observer {
	return interp.ObserverFunc(func(e interp.Event) {
		var err error
		switch e.Kind {
		case interp.EventConstructed:
			err = d.add(session, e.ID, e.ClassName)
		case interp.EventDestroying:
			err = d.remove(session, e.ID)
		}
		if err != nil {
			log.Errorf("session %s: recording %s of handle %d: %v", session, e.Kind, e.ID, err)
		}
	})
}

func (d *Directory) add(session string, id stream.ID, class string) error {
	return d.exec(
		"INSERT OR REPLACE INTO objects (session, handle, class, created_at) VALUES (?, ?, ?, ?)",
		session, int64(id), class, d.now().UnixNano(),
	)
}

func (d *Directory) remove(session string, id stream.ID) error {
	return d.exec("DELETE FROM objects WHERE session = ? AND handle = ?", session, int64(id))
}

// Forget drops every row of session.
func (d *Directory) Forget(session string) error {
	return d.exec("DELETE FROM objects WHERE session = ?", session)
}

func (d *Directory) exec(query string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	_, err := d.db.Exec(query, args...)
	return err
}

// Live returns session's objects ordered by handle.
func (d *Directory) Live(session string) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.Query(
		"SELECT handle, class, created_at FROM objects WHERE session = ? ORDER BY handle",
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			handle  int64
			class   string
			created int64
		)
		if err := rows.Scan(&handle, &class, &created); err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		entries = append(entries, Entry{
			Session:   session,
			Handle:    stream.ID(handle),
			Class:     class,
			CreatedAt: time.Unix(0, created),
		})
	}
	return entries, rows.Err()
}

// CountByClass returns how many live objects of each class session holds.
func (d *Directory) CountByClass(session string) (map[string]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.Query(
		"SELECT class, COUNT(*) FROM objects WHERE session = ? GROUP BY class",
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("counting objects: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			class string
			n     int
		)
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[class] = n
	}
	return counts, rows.Err()
}
