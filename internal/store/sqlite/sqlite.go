package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stone-age-io/svcmon/internal/state"
	"github.com/stone-age-io/svcmon/internal/store"
)

// DB implements store.Store on a SQLite file (modernc.org/sqlite driver,
// CGO-free). The file is opened and closed around every operation.
type DB struct {
	path        string
	busyTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger reports unreadable cells that were skipped while loading.
func WithLogger(logger *zap.Logger) Option {
	return func(s *DB) { s.logger = logger.Named("store") }
}

// New validates path and returns a store for it. Nothing is opened yet.
func New(path string, busyTimeout time.Duration, opts ...Option) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if strings.HasPrefix(strings.ToLower(p), "sqlite://") {
		p = p[len("sqlite://"):]
	}
	if p == ":memory:" {
		return nil, errors.New("in-memory sqlite cannot be reopened per operation")
	}
	if busyTimeout <= 0 {
		busyTimeout = 3 * time.Second
	}
	db := &DB{path: p, busyTimeout: busyTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Path returns the database file location.
func (s *DB) Path() string { return s.path }

func (s *DB) open(ctx context.Context) (*sql.DB, error) {
	d, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, err
	}
	// one connection so the pragma below applies to every statement
	d.SetMaxOpenConns(1)
	if _, err := d.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", s.busyTimeout.Milliseconds())); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (s *DB) with(ctx context.Context, op string, fn func(*sql.DB) error) error {
	d, err := s.open(ctx)
	if err != nil {
		return store.Wrap(op, err)
	}
	defer func() { _ = d.Close() }()
	return store.Wrap(op, fn(d))
}

// EnsureSchema creates the service and event_log tables when missing.
func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			short_name TEXT NOT NULL UNIQUE,
			description TEXT,
			last_state TEXT,
			expected_state TEXT,
			force_expected_state TEXT,
			service_type TEXT,
			image_path TEXT,
			object_name TEXT,
			"ignore" TEXT,
			notes TEXT,
			established_at DATETIME,
			established_by TEXT,
			edited_at DATETIME,
			edited_by TEXT,
			inactivated_at DATETIME,
			inactivated_by TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS event_log(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_short_name TEXT NULL,
			message TEXT NOT NULL,
			established_at DATETIME NOT NULL,
			established_by TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_service ON event_log(service_short_name);`,
	}
	return s.with(ctx, "ensure schema", func(d *sql.DB) error {
		for _, q := range stmts {
			if _, err := d.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

const selectService = `
	SELECT short_name, description, last_state, expected_state, force_expected_state,
		service_type, image_path, object_name, "ignore", notes,
		established_at, established_by, edited_at, edited_by, inactivated_at, inactivated_by
	FROM service`

// LoadAll returns every service record ordered by short name.
func (s *DB) LoadAll(ctx context.Context) ([]*state.ServiceRecord, error) {
	var out []*state.ServiceRecord
	err := s.with(ctx, "load", func(d *sql.DB) error {
		rows, err := d.QueryContext(ctx, selectService+` ORDER BY short_name;`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out, err = s.scanRecords(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single record or store.ErrNotFound.
func (s *DB) Get(ctx context.Context, shortName string) (*state.ServiceRecord, error) {
	var out []*state.ServiceRecord
	err := s.with(ctx, "get", func(d *sql.DB) error {
		rows, err := d.QueryContext(ctx, selectService+` WHERE short_name=?;`, shortName)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out, err = s.scanRecords(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, store.Wrap("get", fmt.Errorf("%s: %w", shortName, store.ErrNotFound))
	}
	return out[0], nil
}

// Insert writes a newly discovered record.
func (s *DB) Insert(ctx context.Context, rec *state.ServiceRecord) error {
	return s.with(ctx, "insert", func(d *sql.DB) error {
		_, err := d.ExecContext(ctx, `
			INSERT INTO service(short_name, description, last_state, expected_state, force_expected_state,
				service_type, image_path, object_name, "ignore", notes,
				established_at, established_by, edited_at, edited_by, inactivated_at, inactivated_by)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			rec.ShortName,
			rec.Description,
			nullState(rec.LastObservedState),
			nullState(rec.ExpectedState),
			nullMarker(rec.ForceExpectedState),
			string(rec.ServiceType),
			rec.ImagePath,
			rec.RunAsAccount,
			nullMarker(rec.Ignore),
			nullString(rec.Notes),
			nullTime(rec.Established.At), nullString(rec.Established.By),
			nullTime(rec.Edited.At), nullString(rec.Edited.By),
			nullTime(rec.Inactivated.At), nullString(rec.Inactivated.By),
		)
		return err
	})
}

// UpdateObservedState overwrites last_state only. Operator columns are
// never touched here.
func (s *DB) UpdateObservedState(ctx context.Context, shortName string, observed state.State) error {
	return s.with(ctx, "update state", func(d *sql.DB) error {
		res, err := d.ExecContext(ctx, `UPDATE service SET last_state=? WHERE short_name=?;`,
			nullState(observed), shortName)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", shortName, store.ErrNotFound)
		}
		return nil
	})
}

// AppendEvent adds a row to event_log.
func (s *DB) AppendEvent(ctx context.Context, ev state.LogEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.with(ctx, "append event", func(d *sql.DB) error {
		_, err := d.ExecContext(ctx, `
			INSERT INTO event_log(service_short_name, message, established_at, established_by)
			VALUES(?, ?, ?, ?);`,
			nullString(ev.ServiceName), ev.Message, at.UTC(), nullString(ev.Originator))
		return err
	})
}

// scanRecords reads service rows. The stamp columns are operator-editable
// text, so a value that does not parse as a time is logged and left zero
// instead of failing the row.
func (s *DB) scanRecords(rows *sql.Rows) ([]*state.ServiceRecord, error) {
	out := make([]*state.ServiceRecord, 0)
	for rows.Next() {
		var (
			r                                  state.ServiceRecord
			desc, last, expected, force, stype sql.NullString
			image, object, ignore, notes       sql.NullString
			estBy, editBy, inactBy             sql.NullString
			estAt, editAt, inactAt             any
		)
		if err := rows.Scan(&r.ShortName, &desc, &last, &expected, &force,
			&stype, &image, &object, &ignore, &notes,
			&estAt, &estBy, &editAt, &editBy, &inactAt, &inactBy); err != nil {
			return nil, err
		}
		r.Description = desc.String
		r.LastObservedState = state.State(last.String)
		r.ExpectedState = state.State(expected.String)
		r.ForceExpectedState = state.Marker{Value: force.String, Valid: force.Valid}
		r.ServiceType = state.ServiceType(stype.String)
		r.ImagePath = image.String
		r.RunAsAccount = object.String
		r.Ignore = state.Marker{Value: ignore.String, Valid: ignore.Valid}
		r.Notes = notes.String
		r.Established = state.Stamp{At: s.stampTime(r.ShortName, "established_at", estAt), By: estBy.String}
		r.Edited = state.Stamp{At: s.stampTime(r.ShortName, "edited_at", editAt), By: editBy.String}
		r.Inactivated = state.Stamp{At: s.stampTime(r.ShortName, "inactivated_at", inactAt), By: inactBy.String}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *DB) stampTime(shortName, column string, v any) time.Time {
	t, ok := parseStamp(v)
	if !ok {
		s.logger.Warn("Unreadable timestamp in service row, leaving it empty",
			zap.String("service", shortName),
			zap.String("column", column),
			zap.Any("value", v))
	}
	return t
}

// stampLayouts are the text forms accepted for stamp columns: what the
// driver writes, RFC 3339 and the space-separated forms SQLite's own date
// functions and hand edits produce.
var stampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseStamp converts a raw stamp cell. NULL and empty text are a zero time
// and count as parsed. Integers are Unix seconds.
func parseStamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, true
	case time.Time:
		return x.UTC(), true
	case int64:
		return time.Unix(x, 0).UTC(), true
	case []byte:
		return parseStampText(string(x))
	case string:
		return parseStampText(x)
	default:
		return time.Time{}, false
	}
}

func parseStampText(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, true
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullState(v state.State) sql.NullString {
	return nullString(string(v))
}

func nullMarker(m state.Marker) sql.NullString {
	return sql.NullString{String: m.Value, Valid: m.Valid}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ store.Store = (*DB)(nil)
