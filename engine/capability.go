package engine

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// CapabilityID identifies an optional rule module, e.g. "bazaar".
type CapabilityID string

// CapabilityData maps each active capability to its model. A key that is
// present marks the capability active even when its model is still nil.
//
// Models are plain values. After a snapshot is decoded from JSON they are held
// as json.RawMessage until first read through Model.
type CapabilityData map[CapabilityID]any

// HasCapability reports whether the capability id is active.
func (s Snapshot) HasCapability(id CapabilityID) bool {
	_, ok := s.Capabilities[id]
	return ok
}

// Model returns the model stored for id. ok is false when the capability is
// inactive, has no model yet, or the stored model cannot be read as T.
func Model[T any](s Snapshot, id CapabilityID) (model T, ok bool) {
	raw, active := s.Capabilities[id]
	if !active || raw == nil {
		return model, false
	}
	switch v := raw.(type) {
	case T:
		return v, true
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return model, false
		}
		if err := json.Unmarshal(v, &model); err != nil {
			return model, false
		}
		return model, true
	}
	return model, false
}

// WithModel returns s with the model for id replaced. It also activates id.
func WithModel[T any](s Snapshot, id CapabilityID, model T) Snapshot {
	caps := maps.Clone(s.Capabilities)
	if caps == nil {
		caps = CapabilityData{}
	}
	caps[id] = model
	s.Capabilities = caps
	return s
}

// MarshalJSON encodes active capabilities in id order; inactive models encode
// as null.
func (c CapabilityData) MarshalJSON() ([]byte, error) {
	ids := slices.Sorted(maps.Keys(c))
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(string(id))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c[id])
		if err != nil {
			return nil, fmt.Errorf("encode capability %s: %w", id, err)
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON keeps each model raw until a typed accessor reads it.
func (c *CapabilityData) UnmarshalJSON(data []byte) error {
	var raw map[CapabilityID]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(CapabilityData, len(raw))
	for id, v := range raw {
		if string(v) == "null" {
			out[id] = nil
			continue
		}
		out[id] = v
	}
	*c = out
	return nil
}

// ---------------------------------------------------------------------------
// Extension points
// ---------------------------------------------------------------------------

// Capability is an optional rule module. A capability takes part in the tile
// phase by also implementing any of the touch-point interfaces below; the
// phase calls them only while the capability is active in the snapshot.
type Capability interface {
	ID() CapabilityID
}

// DrawOverride may supply the drawn tile before the regular pack draw.
// Implementations set s.Drawn when they supply a tile.
type DrawOverride interface {
	OverrideDraw(s Snapshot) Snapshot
}

// PackExhaustion decides how the phase ends once the pack is empty.
// Returning handled=false lets the next capability (and finally the default
// game-over hand-off) decide.
type PackExhaustion interface {
	PackExhausted(s Snapshot) (next Snapshot, phase Phase, handled bool)
}

// PlacementEffect runs after a tile has been placed and the pending action
// cleared.
type PlacementEffect interface {
	AfterPlacement(s Snapshot, placed PlacedTile) Snapshot
}

// Ruleset holds the capability implementations known to a tile phase, in
// registration order. Order matters for PackExhaustion: the first capability
// that handles an empty pack wins.
type Ruleset struct {
	caps []Capability
}

// NewRuleset registers caps in order.
func NewRuleset(caps ...Capability) (Ruleset, error) {
	var r Ruleset
	for _, c := range caps {
		if err := r.register(c); err != nil {
			return Ruleset{}, err
		}
	}
	return r, nil
}

func (r *Ruleset) register(c Capability) error {
	if c == nil {
		return fmt.Errorf("capability is required")
	}
	id := CapabilityID(strings.TrimSpace(string(c.ID())))
	if id == "" {
		return ErrCapabilityIDRequired
	}
	if r.Get(id) != nil {
		return fmt.Errorf("%w: %s", ErrCapabilityAlreadyRegistered, id)
	}
	r.caps = append(r.caps, c)
	return nil
}

// Get returns the registered capability for id, or nil.
func (r Ruleset) Get(id CapabilityID) Capability {
	for _, c := range r.caps {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// IDs lists registered capability ids in registration order.
func (r Ruleset) IDs() []CapabilityID {
	ids := make([]CapabilityID, len(r.caps))
	for i, c := range r.caps {
		ids[i] = c.ID()
	}
	return ids
}

// active returns the registered capabilities enabled in s.
func (r Ruleset) active(s Snapshot) []Capability {
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		if s.HasCapability(c.ID()) {
			out = append(out, c)
		}
	}
	return out
}
