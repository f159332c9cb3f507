package engine

import "errors"

var (
	// ErrProtocolViolation marks a fatal desynchronisation between the caller
	// and the engine, e.g. a reply naming a tile that is not the drawn one.
	// The game session must be considered corrupt.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrInvalidRequest marks a reply that does not match the current offer.
	// The snapshot is unchanged and the player may be prompted again.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPackEmpty indicates a draw from a pack with no drawable tile.
	ErrPackEmpty = errors.New("tile pack is empty")
	// ErrTileNotInPack indicates a draw by id for a tile the pack no longer holds.
	ErrTileNotInPack = errors.New("tile not in pack")
	// ErrNoTileAtPosition indicates a board write against an empty cell.
	ErrNoTileAtPosition = errors.New("no tile at position")
	// ErrPositionOccupied indicates a tile placed onto an occupied cell.
	ErrPositionOccupied = errors.New("position already occupied")

	// ErrCapabilityIDRequired indicates a capability with an empty id.
	ErrCapabilityIDRequired = errors.New("capability id is required")
	// ErrCapabilityAlreadyRegistered indicates a duplicate ruleset entry.
	ErrCapabilityAlreadyRegistered = errors.New("capability already registered")
	// ErrPlacementSourceRequired indicates a tile phase without board geometry.
	ErrPlacementSourceRequired = errors.New("placement source is required")
)

// IsFatal reports whether err must abort the game session.
func IsFatal(err error) bool { return errors.Is(err, ErrProtocolViolation) }
