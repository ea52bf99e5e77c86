// Package archive keeps a local copy of pinned messages so the weekly
// digest can be produced without refetching history from the platform.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the local SQLite archive.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS pins (
	  message_id TEXT PRIMARY KEY,
	  sender_id TEXT NOT NULL,
	  sender_name TEXT,
	  operator_id TEXT,
	  operator_name TEXT,
	  content TEXT,
	  msg_type TEXT,
	  file_tokens TEXT,
	  create_time INTEGER,
	  pin_time INTEGER,
	  archive_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pins_pin_time ON pins(pin_time);
	CREATE TABLE IF NOT EXISTS cursors (
	  name TEXT PRIMARY KEY,
	  value TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	return err
}

// Pin is one archived pinned message.
type Pin struct {
	MessageID    string
	SenderID     string
	SenderName   string
	OperatorID   string
	OperatorName string
	Content      string
	MsgType      string
	FileTokens   []string
	CreateTime   time.Time
	PinTime      time.Time
	ArchiveTime  time.Time
}

// SavePin inserts or replaces the archived row for p.MessageID.
func (d *DB) SavePin(ctx context.Context, p Pin) error {
	var tokens *string
	if len(p.FileTokens) > 0 {
		b, _ := json.Marshal(p.FileTokens)
		s := string(b)
		tokens = &s
	}
	at := p.ArchiveTime
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO pins(message_id, sender_id, sender_name, operator_id, operator_name, content, msg_type, file_tokens, create_time, pin_time, archive_time)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(message_id) DO UPDATE SET
		  sender_id=excluded.sender_id, sender_name=excluded.sender_name,
		  operator_id=excluded.operator_id, operator_name=excluded.operator_name,
		  content=excluded.content, msg_type=excluded.msg_type,
		  file_tokens=excluded.file_tokens, create_time=excluded.create_time,
		  pin_time=excluded.pin_time, archive_time=excluded.archive_time`,
		p.MessageID, p.SenderID, p.SenderName, p.OperatorID, p.OperatorName,
		p.Content, p.MsgType, tokens, p.CreateTime.Unix(), p.PinTime.Unix(), at.Unix())
	return err
}

// DeletePin removes an archived pin row.
func (d *DB) DeletePin(ctx context.Context, messageID string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM pins WHERE message_id=?`, messageID)
	return err
}

// GetPin loads one archived pin.
func (d *DB) GetPin(ctx context.Context, messageID string) (Pin, bool, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT message_id, sender_id, sender_name, operator_id, operator_name, content, msg_type, COALESCE(file_tokens,''), create_time, pin_time, archive_time FROM pins WHERE message_id=?`, messageID)
	if err != nil {
		return Pin{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return Pin{}, false, rows.Err()
	}
	p, err := scanPin(rows)
	return p, err == nil, err
}

// ListPinsSince returns pins with pin_time >= since, newest last.
func (d *DB) ListPinsSince(ctx context.Context, since time.Time) ([]Pin, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT message_id, sender_id, sender_name, operator_id, operator_name, content, msg_type, COALESCE(file_tokens,''), create_time, pin_time, archive_time FROM pins WHERE pin_time>=? ORDER BY pin_time`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPin(rows *sql.Rows) (Pin, error) {
	var p Pin
	var tokens string
	var ct, pt, at int64
	if err := rows.Scan(&p.MessageID, &p.SenderID, &p.SenderName, &p.OperatorID, &p.OperatorName,
		&p.Content, &p.MsgType, &tokens, &ct, &pt, &at); err != nil {
		return p, err
	}
	if tokens != "" {
		_ = json.Unmarshal([]byte(tokens), &p.FileTokens)
	}
	p.CreateTime = time.Unix(ct, 0).UTC()
	p.PinTime = time.Unix(pt, 0).UTC()
	p.ArchiveTime = time.Unix(at, 0).UTC()
	return p, nil
}

// SaveCursor stores a named resume point.
func (d *DB) SaveCursor(ctx context.Context, name, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(name, value, updated_at) VALUES(?,?,?)
		ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		name, value, time.Now().Unix())
	return err
}

// LoadCursor returns the stored value for name, or "" when absent.
func (d *DB) LoadCursor(ctx context.Context, name string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name=?`, name)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
