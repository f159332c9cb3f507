// Package postgres provides a Postgres-backed game journal over pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/jason-s-yu/cloister/service/internal/storage/postgres/migrations"
)

const uniqueViolation = "23505"

// Store persists game journals in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Journal = (*Store)(nil)

// Open connects to dsn and applies embedded migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+storage.MigrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range files {
		if strings.TrimSpace(m.Up) == "" {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO `+storage.MigrationTable+` (name, applied_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
				m.Name, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil && !storage.IsAlreadyExistsError(err) {
				return fmt.Errorf("exec migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO games (id, seed, tile_set, players, capabilities, status, snapshot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		game.ID, int64(game.Seed), game.TileSet, players, caps, string(game.Status),
		nullableJSON(game.Snapshot), createdAt, updatedAt,
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
		seed          int64
		status        string
		players, caps []byte
	)
	game := storage.Game{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT seed, tile_set, players, capabilities, status, snapshot, created_at, updated_at
		 FROM games WHERE id = $1`, id,
	).Scan(&seed, &game.TileSet, &players, &caps, &status, &game.Snapshot, &game.CreatedAt, &game.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Game{}, storage.ErrNotFound
		}
		return storage.Game{}, fmt.Errorf("get game: %w", err)
	}
	game.Seed = uint64(seed)
	game.Status = storage.GameStatus(status)
	if err := json.Unmarshal(players, &game.Players); err != nil {
		return storage.Game{}, fmt.Errorf("decode players: %w", err)
	}
	if err := json.Unmarshal(caps, &game.Capabilities); err != nil {
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set game status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendEvents stores records and the new snapshot in one transaction.
func (s *Store) AppendEvents(ctx context.Context, id uuid.UUID, records []storage.Record, snapshot []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE games SET snapshot = $1, updated_at = $2 WHERE id = $3`,
			nullableJSON(snapshot), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}

		batch := &pgx.Batch{}
		for _, rec := range records {
			payload, err := json.Marshal(rec.Event)
			if err != nil {
				return fmt.Errorf("encode event %d: %w", rec.Event.Seq, err)
			}
			batch.Queue(
				`INSERT INTO game_events (game_id, seq, type, payload, hash) VALUES ($1, $2, $3, $4, $5)`,
				id, int64(rec.Event.Seq), string(rec.Event.Type), payload, rec.Hash,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("append events: %w", storage.ErrAlreadyExists)
			}
			return fmt.Errorf("append events: %w", err)
		}
		return nil
	})
}

// ListEvents returns the journal of a game in sequence order.
func (s *Store) ListEvents(ctx context.Context, id uuid.UUID) ([]storage.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload, hash FROM game_events WHERE game_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Record, error) {
		var (
			payload []byte
			rec     storage.Record
			ev      engine.Event
		)
		if err := row.Scan(&payload, &rec.Hash); err != nil {
			return storage.Record{}, err
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return storage.Record{}, fmt.Errorf("decode event: %w", err)
		}
		rec.Event = ev
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return records, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
