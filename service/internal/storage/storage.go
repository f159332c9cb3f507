// Package storage defines the durable journal behind game sessions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cloister/engine"
)

var (
	// ErrNotFound indicates a requested game record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a game id or event sequence is already stored.
	ErrAlreadyExists = errors.New("record already exists")
)

// GameStatus is the lifecycle state of a stored game.
type GameStatus string

const (
	StatusActive   GameStatus = "active"
	StatusFinished GameStatus = "finished"
	// StatusCorrupt marks a game aborted by a protocol violation.
	StatusCorrupt GameStatus = "corrupt"
)

// Valid reports whether st is a known status.
func (st GameStatus) Valid() bool {
	switch st {
	case StatusActive, StatusFinished, StatusCorrupt:
		return true
	}
	return false
}

// Game is the stored header of one game plus its latest snapshot.
type Game struct {
	ID           uuid.UUID
	Seed         uint64
	TileSet      string
	Players      []string
	Capabilities []engine.CapabilityID
	Status       GameStatus
	// Snapshot is the JSON encoding of the latest engine snapshot.
	Snapshot  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is one journaled engine event with its chain hash.
type Record struct {
	Event engine.Event
	Hash  string
}

// Journal persists game headers and their append-only event logs.
type Journal interface {
	CreateGame(ctx context.Context, game Game) error
	GetGame(ctx context.Context, id uuid.UUID) (Game, error)
	SetGameStatus(ctx context.Context, id uuid.UUID, status GameStatus) error
	// AppendEvents stores records and replaces the game's snapshot atomically.
	AppendEvents(ctx context.Context, id uuid.UUID, records []Record, snapshot []byte) error
	ListEvents(ctx context.Context, id uuid.UUID) ([]Record, error)
	Close() error
}
