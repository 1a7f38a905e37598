// Package sqlite stores colony saves in slots of a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oriumgames/colony"
	"github.com/oriumgames/colony/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrSlotExists is returned by CreateSlot when the slot already holds a save.
var ErrSlotExists = errors.New("sqlite: save slot already exists")

// SlotInfo describes a stored save without decoding it.
type SlotInfo struct {
	Slot     string
	SaveID   uuid.UUID
	Tick     uint64
	Entities int
	SavedAt  time.Time
}

// Store provides SQLite-backed save slots.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite save store at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSlot writes data into slot, replacing any save already there.
func (s *Store) SaveSlot(ctx context.Context, slot string, data *colony.SaveData) error {
	return s.write(ctx, slot, data, `
INSERT INTO saves (slot, save_id, tick, entity_count, payload, saved_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET
    save_id = excluded.save_id,
    tick = excluded.tick,
    entity_count = excluded.entity_count,
    payload = excluded.payload,
    saved_at = excluded.saved_at
`)
}

// CreateSlot writes data into slot, failing with ErrSlotExists if the slot is taken.
func (s *Store) CreateSlot(ctx context.Context, slot string, data *colony.SaveData) error {
	err := s.write(ctx, slot, data, `
INSERT INTO saves (slot, save_id, tick, entity_count, payload, saved_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if isSlotUniqueViolation(err) {
		return fmt.Errorf("create slot %q: %w", slot, ErrSlotExists)
	}
	return err
}

func (s *Store) write(ctx context.Context, slot string, data *colony.SaveData, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	slot = strings.TrimSpace(slot)
	if slot == "" {
		return fmt.Errorf("slot is required")
	}
	if data == nil {
		return fmt.Errorf("save data is required")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode save %s: %w", data.ID, err)
	}
	_, err = s.sqlDB.ExecContext(ctx, query,
		slot,
		data.ID.String(),
		int64(data.Tick),
		len(data.Entities),
		payload,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("write slot %q: %w", slot, err)
	}
	return nil
}

// LoadSlot reads the save in slot. A missing slot yields colony.ErrNotFound.
func (s *Store) LoadSlot(ctx context.Context, slot string) (*colony.SaveData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var payload []byte
	err := s.sqlDB.QueryRowContext(ctx, "SELECT payload FROM saves WHERE slot = ?", strings.TrimSpace(slot)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load slot %q: %w", slot, colony.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %q: %w", slot, err)
	}

	data := &colony.SaveData{}
	if err := json.Unmarshal(payload, data); err != nil {
		return nil, fmt.Errorf("decode slot %q: %w", slot, err)
	}
	return data, nil
}

// ListSlots returns every stored save, most recent first.
func (s *Store) ListSlots(ctx context.Context) ([]SlotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT slot, save_id, tick, entity_count, saved_at
FROM saves
ORDER BY saved_at DESC, slot ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var infos []SlotInfo
	for rows.Next() {
		var (
			info    SlotInfo
			saveID  string
			tick    int64
			savedAt int64
		)
		if err := rows.Scan(&info.Slot, &saveID, &tick, &info.Entities, &savedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		info.SaveID, err = uuid.Parse(saveID)
		if err != nil {
			return nil, fmt.Errorf("parse save id of slot %q: %w", info.Slot, err)
		}
		info.Tick = uint64(tick)
		info.SavedAt = fromMillis(savedAt)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return infos, nil
}

// DeleteSlot removes the save in slot. A missing slot yields colony.ErrNotFound.
func (s *Store) DeleteSlot(ctx context.Context, slot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM saves WHERE slot = ?", strings.TrimSpace(slot))
	if err != nil {
		return fmt.Errorf("delete slot %q: %w", slot, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete slot %q: %w", slot, err)
	}
	if n == 0 {
		return fmt.Errorf("delete slot %q: %w", slot, colony.ErrNotFound)
	}
	return nil
}

func isSlotUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
