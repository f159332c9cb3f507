// Package tileset loads tile definitions and expands them into the tiles of
// a pack.
package tileset

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	engine "github.com/jason-s-yu/cloister/engine"
)

//go:embed data/*.json
var dataFS embed.FS

// ErrUnknownSet indicates a set name with no embedded definition.
var ErrUnknownSet = errors.New("unknown tile set")

// Default names the set used when a game does not pick one.
const Default = "basic"

// Definition is one tile kind and the number of copies in the set.
type Definition struct {
	ID        string   `json:"id"`
	Edges     []string `json:"edges"`
	Modifiers []string `json:"modifiers,omitempty"`
	Count     int      `json:"count"`
}

// Set is a named collection of tile definitions with its start tile.
type Set struct {
	Name  string       `json:"name"`
	Start Definition   `json:"start"`
	Tiles []Definition `json:"tiles"`
}

// Load reads an embedded set by name, e.g. "basic".
func Load(name string) (Set, error) {
	if name == "" || strings.ContainsAny(name, "/\\.") {
		return Set{}, fmt.Errorf("%w: %q", ErrUnknownSet, name)
	}
	data, err := dataFS.ReadFile(path.Join("data", name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Set{}, fmt.Errorf("%w: %q", ErrUnknownSet, name)
	}
	if err != nil {
		return Set{}, fmt.Errorf("load tile set %q: %w", name, err)
	}
	return Parse(data)
}

// Parse decodes a set and checks every definition.
func Parse(data []byte) (Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return Set{}, fmt.Errorf("decode tile set: %w", err)
	}
	if _, err := s.Start.tile(s.Start.ID); err != nil {
		return Set{}, fmt.Errorf("start tile: %w", err)
	}
	seen := make(map[string]bool, len(s.Tiles))
	for _, d := range s.Tiles {
		if seen[d.ID] {
			return Set{}, fmt.Errorf("tile %s defined twice", d.ID)
		}
		seen[d.ID] = true
		if d.Count <= 0 {
			return Set{}, fmt.Errorf("tile %s: count must be positive", d.ID)
		}
		if _, err := d.tile(d.ID); err != nil {
			return Set{}, fmt.Errorf("tile %s: %w", d.ID, err)
		}
	}
	return s, nil
}

// StartTile returns the tile placed at the origin.
func (s Set) StartTile() engine.Tile {
	t, _ := s.Start.tile(s.Start.ID)
	return t
}

// Pack expands the set into individual tiles. Copies of a kind get distinct
// ids ("RS.1", "RS.2", ...) so a draw can be replayed by id.
func (s Set) Pack() []engine.Tile {
	var out []engine.Tile
	for _, d := range s.Tiles {
		for i := 0; i < d.Count; i++ {
			id := d.ID
			if d.Count > 1 {
				id = fmt.Sprintf("%s.%d", d.ID, i+1)
			}
			t, _ := d.tile(id)
			out = append(out, t)
		}
	}
	return out
}

// Size returns the number of tiles Pack yields.
func (s Set) Size() int {
	n := 0
	for _, d := range s.Tiles {
		n += d.Count
	}
	return n
}

func (d Definition) tile(id string) (engine.Tile, error) {
	if strings.TrimSpace(id) == "" {
		return engine.Tile{}, fmt.Errorf("id is required")
	}
	if len(d.Edges) != 4 {
		return engine.Tile{}, fmt.Errorf("need 4 edges, got %d", len(d.Edges))
	}
	t := engine.Tile{ID: engine.TileID(id)}
	for i, name := range d.Edges {
		e, err := parseEdge(name)
		if err != nil {
			return engine.Tile{}, err
		}
		t.Edges[i] = e
	}
	for _, m := range d.Modifiers {
		mod, err := parseModifier(m)
		if err != nil {
			return engine.Tile{}, err
		}
		t.Modifiers = append(t.Modifiers, mod)
	}
	return t, nil
}

func parseEdge(name string) (engine.Edge, error) {
	switch strings.ToLower(name) {
	case "field":
		return engine.EdgeField, nil
	case "road":
		return engine.EdgeRoad, nil
	case "city":
		return engine.EdgeCity, nil
	case "river":
		return engine.EdgeRiver, nil
	}
	return 0, fmt.Errorf("unknown edge %q", name)
}

func parseModifier(name string) (engine.Modifier, error) {
	switch m := engine.Modifier(strings.ToLower(name)); m {
	case engine.ModifierHill, engine.ModifierBazaar, engine.ModifierAbbey:
		return m, nil
	}
	return "", fmt.Errorf("unknown modifier %q", name)
}
