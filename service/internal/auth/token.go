// Package auth issues and verifies the seat tokens that bind a websocket
// connection to a player in a game.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "cloister"

var (
	// ErrTokenInvalid indicates a token that is malformed, badly signed or
	// missing required claims.
	ErrTokenInvalid = errors.New("seat token is invalid")
	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("seat token is expired")
)

// Seat is the identity carried by a token.
type Seat struct {
	GameID   uuid.UUID
	PlayerID uuid.UUID
	Index    int
	Name     string
}

type seatClaims struct {
	jwt.RegisteredClaims
	GameID string `json:"game_id"`
	Seat   int    `json:"seat"`
	Name   string `json:"name,omitempty"`
}

// Signer issues and verifies HS256 seat tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer keyed with secret. ttl <= 0 means one day.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for seat.
func (s *Signer) Issue(seat Seat) (string, error) {
	now := s.now().UTC()
	claims := seatClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   seat.PlayerID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		GameID: seat.GameID.String(),
		Seat:   seat.Index,
		Name:   seat.Name,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign seat token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and claims of token and returns its seat.
func (s *Signer) Verify(token string) (Seat, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Seat{}, fmt.Errorf("%w: token is required", ErrTokenInvalid)
	}

	var claims seatClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Seat{}, ErrTokenExpired
		}
		return Seat{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	gameID, err := uuid.Parse(claims.GameID)
	if err != nil {
		return Seat{}, fmt.Errorf("%w: game_id: %w", ErrTokenInvalid, err)
	}
	playerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Seat{}, fmt.Errorf("%w: sub: %w", ErrTokenInvalid, err)
	}
	if claims.Seat < 0 {
		return Seat{}, fmt.Errorf("%w: seat %d", ErrTokenInvalid, claims.Seat)
	}
	return Seat{GameID: gameID, PlayerID: playerID, Index: claims.Seat, Name: claims.Name}, nil
}
