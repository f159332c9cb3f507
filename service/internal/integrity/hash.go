// Package integrity links journaled game events into a tamper-evident
// chain and fingerprints snapshots.
package integrity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	engine "github.com/jason-s-yu/cloister/engine"
	"golang.org/x/crypto/blake2b"
)

// ErrChainBroken indicates a journal whose stored hashes do not match its
// events.
var ErrChainBroken = errors.New("event chain broken")

// Chain hashes events, optionally keyed so that only the server can extend
// a journal.
type Chain struct {
	key []byte
}

// NewChain returns a chain keyed with key. A nil key gives plain hashes.
// blake2b accepts keys of at most 64 bytes.
func NewChain(key []byte) (Chain, error) {
	if len(key) > blake2b.Size {
		return Chain{}, fmt.Errorf("integrity key is %d bytes, max %d", len(key), blake2b.Size)
	}
	return Chain{key: key}, nil
}

// DeriveKey turns an arbitrary server secret into a chain key of valid size.
func DeriveKey(secret string) []byte {
	sum := blake2b.Sum256([]byte("cloister/journal\x00" + secret))
	return sum[:]
}

func (c Chain) sum(parts ...[]byte) (string, error) {
	h, err := blake2b.New256(c.key)
	if err != nil {
		return "", fmt.Errorf("new hash: %w", err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EventHash computes the content hash of ev. Events carry no clock data, so
// equal events always hash equally.
func (c Chain) EventHash(ev engine.Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	return c.sum(payload)
}

// ChainHash links ev to the hash of its predecessor. prevHash is empty for
// the first event of a game.
func (c Chain) ChainHash(ev engine.Event, prevHash string) (string, error) {
	eventHash, err := c.EventHash(ev)
	if err != nil {
		return "", err
	}
	return c.sum([]byte(prevHash), []byte{0}, []byte(eventHash))
}

// Extend hashes events in order on top of prevHash and returns one chain
// hash per event.
func (c Chain) Extend(prevHash string, events []engine.Event) ([]string, error) {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		h, err := c.ChainHash(ev, prevHash)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
		prevHash = h
	}
	return out, nil
}

// Verify recomputes the chain over events and compares it with hashes.
func (c Chain) Verify(events []engine.Event, hashes []string) error {
	if len(events) != len(hashes) {
		return fmt.Errorf("%w: %d events, %d hashes", ErrChainBroken, len(events), len(hashes))
	}
	want, err := c.Extend("", events)
	if err != nil {
		return err
	}
	for i := range want {
		if want[i] != hashes[i] {
			return fmt.Errorf("%w: at event %d", ErrChainBroken, events[i].Seq)
		}
	}
	return nil
}

// SnapshotDigest fingerprints a whole snapshot, used to check a cached copy
// against the one rebuilt from the journal.
func SnapshotDigest(s engine.Snapshot) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
