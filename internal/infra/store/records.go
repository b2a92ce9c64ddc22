package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// GetItem returns the value stored under key. The second result is false when
// the key is absent.
func (d *DB) GetItem(key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return "", false, err
	}

	var value string
	err = db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get item %s: %w", key, err)
	}
	return value, true, nil
}

// SetItem stores value under key, replacing any previous value.
func (d *DB) SetItem(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set item %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (d *DB) RemoveItem(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	if _, err := db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove item %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys in order.
func (d *DB) Keys() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SaveBundle replaces the saved instance state with bundle.
func (d *DB) SaveBundle(bundle map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM instance_state"); err != nil {
		return fmt.Errorf("failed to clear instance state: %w", err)
	}
	for k, v := range bundle {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode state %s: %w", k, err)
		}
		if _, err := tx.Exec("INSERT INTO instance_state (key, value) VALUES (?, ?)", k, string(data)); err != nil {
			return fmt.Errorf("failed to save state %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LoadBundle returns the saved instance state. An empty map means nothing was saved.
func (d *DB) LoadBundle() (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT key, value FROM instance_state")
	if err != nil {
		return nil, fmt.Errorf("failed to load instance state: %w", err)
	}
	defer rows.Close()

	bundle := make(map[string]any)
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Skipping unreadable saved state")
			continue
		}
		bundle[k] = v
	}
	return bundle, rows.Err()
}

// CheckSelfPermission reports whether perm was recorded as granted.
// Errors count as not granted.
func (d *DB) CheckSelfPermission(perm string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return false
	}

	var granted bool
	if err := db.QueryRow("SELECT granted FROM permissions WHERE name = ?", perm).Scan(&granted); err != nil {
		return false
	}
	return granted
}

// RecordPermission stores the user's answer for perm.
func (d *DB) RecordPermission(perm string, granted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO permissions (name, granted, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET granted = excluded.granted, updated_at = excluded.updated_at
	`, perm, granted, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record permission %s: %w", perm, err)
	}
	return nil
}

// LogEntry is a log line recorded by the UI.
type LogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppendLog records a log line.
func (d *DB) AppendLog(level, tag, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	_, err = db.Exec("INSERT INTO log_entries (level, tag, message, created_at) VALUES (?, ?, ?, ?)",
		level, tag, message, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// Logs returns up to limit of the most recent log lines, newest first.
func (d *DB) Logs(limit int) ([]LogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(`
		SELECT id, level, tag, message, created_at FROM log_entries
		ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Level, &e.Tag, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearLogs removes all log lines.
func (d *DB) ClearLogs() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM log_entries")
	return err
}

// Download statuses.
const (
	DownloadQueued = "queued"
)

// Download is a queued download request.
type Download struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueDownload stores a download request.
func (d *DB) QueueDownload(dl Download) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}

	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	if dl.Status == "" {
		dl.Status = DownloadQueued
	}

	_, err = db.Exec("INSERT INTO downloads (id, item_id, title, status, created_at) VALUES (?, ?, ?, ?, ?)",
		dl.ID, dl.ItemID, dl.Title, dl.Status, dl.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to queue download %s: %w", dl.ItemID, err)
	}
	return nil
}

// Downloads returns all download requests, oldest first.
func (d *DB) Downloads() ([]Download, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT id, item_id, title, status, created_at FROM downloads ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var dl Download
		var title sql.NullString
		var created string
		if err := rows.Scan(&dl.ID, &dl.ItemID, &title, &dl.Status, &created); err != nil {
			return nil, err
		}
		dl.Title = title.String
		dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, dl)
	}
	return out, rows.Err()
}

// RemoveDownload deletes a download request by id.
func (d *DB) RemoveDownload(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM downloads WHERE id = ?", id)
	return err
}
