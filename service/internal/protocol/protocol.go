// Package protocol defines the JSON messages exchanged over a game
// connection. Every frame is an envelope {"command": "...", "arg": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
)

// Command names.
const (
	CmdHello     = "HELLO"      // client -> server, once after connecting
	CmdWelcome   = "WELCOME"    // server -> client, reply to HELLO
	CmdPass      = "PASS"       // client -> server
	CmdPlaceTile = "PLACE_TILE" // client -> server
	CmdSync      = "SYNC"       // client -> server, asks for a state resend
	CmdGameEvent = "GAME_EVENT" // server -> client
	CmdError     = "ERROR"      // server -> client
)

var (
	// ErrUnknownCommand indicates an envelope whose command is not understood.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed indicates a frame that is not a valid envelope.
	ErrMalformed = errors.New("malformed message")
)

// Message is the wire envelope.
type Message struct {
	Command string          `json:"command"`
	Arg     json.RawMessage `json:"arg,omitempty"`
}

// HelloArg introduces the client.
type HelloArg struct {
	Nickname string `json:"nickname"`
}

// WelcomeArg confirms the seat bound to the connection. SessionKey can be
// presented again to resume the seat after a reconnect.
type WelcomeArg struct {
	ClientID   uuid.UUID `json:"clientId"`
	SessionKey string    `json:"sessionKey"`
	GameID     uuid.UUID `json:"gameId"`
	Seat       int       `json:"seat"`
}

// ErrorArg reports a rejected request to the sender only.
type ErrorArg struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// Decode parses one frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	m.Command = strings.ToUpper(strings.TrimSpace(m.Command))
	if m.Command == "" {
		return Message{}, fmt.Errorf("%w: command is required", ErrMalformed)
	}
	return m, nil
}

// Encode builds a frame for command with arg marshalled as its payload.
func Encode(command string, arg any) ([]byte, error) {
	m := Message{Command: command}
	if arg != nil {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", command, err)
		}
		m.Arg = raw
	}
	return json.Marshal(m)
}

// New wraps arg in an envelope.
func New(command string, arg any) (Message, error) {
	m := Message{Command: command}
	if arg == nil {
		return m, nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", command, err)
	}
	m.Arg = raw
	return m, nil
}

// Hello decodes a HELLO payload.
func (m Message) Hello() (HelloArg, error) {
	var arg HelloArg
	if m.Command != CmdHello {
		return arg, fmt.Errorf("%w: %s is not %s", ErrUnknownCommand, m.Command, CmdHello)
	}
	if len(m.Arg) > 0 {
		if err := json.Unmarshal(m.Arg, &arg); err != nil {
			return arg, fmt.Errorf("%w: hello: %w", ErrMalformed, err)
		}
	}
	return arg, nil
}

// EngineCommand maps PASS and PLACE_TILE onto the matching engine command.
func (m Message) EngineCommand() (engine.Command, error) {
	switch m.Command {
	case CmdPass:
		return engine.Pass{}, nil
	case CmdPlaceTile:
		var arg engine.PlaceTile
		if len(m.Arg) == 0 {
			return nil, fmt.Errorf("%w: %s needs an argument", ErrMalformed, m.Command)
		}
		if err := json.Unmarshal(m.Arg, &arg); err != nil {
			return nil, fmt.Errorf("%w: place tile: %w", ErrMalformed, err)
		}
		if arg.TileID == "" {
			return nil, fmt.Errorf("%w: place tile: tileId is required", ErrMalformed)
		}
		if arg.Rotation > engine.R270 {
			return nil, fmt.Errorf("%w: place tile: rotation %d out of range", ErrMalformed, arg.Rotation)
		}
		return arg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, m.Command)
	}
}

// IsEngineCommand reports whether the message is a reply to a pending action.
func (m Message) IsEngineCommand() bool {
	return m.Command == CmdPass || m.Command == CmdPlaceTile
}
