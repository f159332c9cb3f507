// Package sqlite provides a SQLite-backed game journal.
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
	"github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/jason-s-yu/cloister/service/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists game journals in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Journal = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applyMigrations(sqlDB *sql.DB) error {
	files, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, storage.MigrationTable)
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range files {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+storage.MigrationTable+" WHERE name = ?", m.Name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if strings.TrimSpace(m.Up) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(m.Up); err != nil && !storage.IsAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO "+storage.MigrationTable+" (name, applied_at) VALUES (?, ?)",
			m.Name,
			toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// CreateGame inserts one game header.
func (s *Store) CreateGame(ctx context.Context, game storage.Game) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if game.ID == uuid.Nil {
		return fmt.Errorf("game id is required")
	}
	if len(game.Players) == 0 {
		return fmt.Errorf("at least one player is required")
	}
	if game.Status == "" {
		game.Status = storage.StatusActive
	}
	if !game.Status.Valid() {
		return fmt.Errorf("unknown game status %q", game.Status)
	}
	players, err := json.Marshal(game.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}
	caps, err := json.Marshal(game.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	createdAt := game.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := game.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO games (id, seed, tile_set, players, capabilities, status, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		game.ID.String(),
		int64(game.Seed),
		game.TileSet,
		string(players),
		string(caps),
		string(game.Status),
		game.Snapshot,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create game: %w", err)
	}
	return nil
}

// GetGame returns one game header with its latest snapshot.
func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (storage.Game, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Game{}, err
	}
	var (
		seed                 int64
		tileSet, status      string
		players, caps        string
		snapshot             []byte
		createdAt, updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT seed, tile_set, players, capabilities, status, snapshot, created_at, updated_at
		 FROM games WHERE id = ?`,
		id.String(),
	).Scan(&seed, &tileSet, &players, &caps, &status, &snapshot, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Game{}, storage.ErrNotFound
		}
		return storage.Game{}, fmt.Errorf("get game: %w", err)
	}

	game := storage.Game{
		ID:        id,
		Seed:      uint64(seed),
		TileSet:   tileSet,
		Status:    storage.GameStatus(status),
		Snapshot:  snapshot,
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
	}
	if err := json.Unmarshal([]byte(players), &game.Players); err != nil {
		return storage.Game{}, fmt.Errorf("decode players: %w", err)
	}
	if err := json.Unmarshal([]byte(caps), &game.Capabilities); err != nil {
		return storage.Game{}, fmt.Errorf("decode capabilities: %w", err)
	}
	return game, nil
}

// SetGameStatus updates the lifecycle status of a game.
func (s *Store) SetGameStatus(ctx context.Context, id uuid.UUID, status storage.GameStatus) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("unknown game status %q", status)
	}
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("set game status: %w", err)
	}
	return requireRow(res)
}

// AppendEvents stores records and the new snapshot in one transaction.
func (s *Store) AppendEvents(ctx context.Context, id uuid.UUID, records []storage.Record, snapshot []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE games SET snapshot = ?, updated_at = ? WHERE id = ?`,
		snapshot, toMillis(time.Now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO game_events (game_id, seq, type, payload, hash) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range records {
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", rec.Event.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, id.String(), int64(rec.Event.Seq), string(rec.Event.Type), payload, rec.Hash); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("event %d: %w", rec.Event.Seq, storage.ErrAlreadyExists)
			}
			return fmt.Errorf("insert event %d: %w", rec.Event.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListEvents returns the journal of a game in sequence order.
func (s *Store) ListEvents(ctx context.Context, id uuid.UUID) ([]storage.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT payload, hash FROM game_events WHERE game_id = ? ORDER BY seq`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var (
			payload []byte
			rec     storage.Record
		)
		if err := rows.Scan(&payload, &rec.Hash); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev engine.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		rec.Event = ev
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
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
