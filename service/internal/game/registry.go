// internal/game/registry.go
package game

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/cache"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/jason-s-yu/cloister/service/internal/tileset"
	"github.com/sirupsen/logrus"
)

// ErrGameNotFound indicates an unknown or no longer active game.
var ErrGameNotFound = errors.New("game not found")

// Defaults are the settings applied to games created without overrides.
type Defaults struct {
	Seed         uint64
	TurnDuration time.Duration
	BridgeTokens int
	Capabilities []engine.CapabilityID
	TileSet      string
}

// CreateRequest describes a new game. Zero fields take the registry defaults.
type CreateRequest struct {
	Players      []string
	TileSet      string
	Seed         uint64
	Capabilities []engine.CapabilityID
}

// Registry owns the live sessions of one server process and loads
// persisted sessions on first access.
type Registry struct {
	mu    sync.Mutex
	games map[uuid.UUID]*TileGame

	Journal  storage.Journal
	Cache    *cache.SnapshotCache
	Chain    integrity.Chain
	Source   engine.PlacementSource
	Defaults Defaults
	// Attach is called with every session before it starts or resumes, so
	// the transport can install its broadcast callbacks.
	Attach func(g *TileGame)

	log *logrus.Entry
}

// NewRegistry returns an empty registry.
func NewRegistry(journal storage.Journal, snapshots *cache.SnapshotCache, chain integrity.Chain, src engine.PlacementSource, defaults Defaults, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		games:    make(map[uuid.UUID]*TileGame),
		Journal:  journal,
		Cache:    snapshots,
		Chain:    chain,
		Source:   src,
		Defaults: defaults,
		log:      logger,
	}
}

// Create builds, persists and starts a new game.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*TileGame, error) {
	setName := req.TileSet
	if setName == "" {
		setName = r.Defaults.TileSet
	}
	if setName == "" {
		setName = tileset.Default
	}
	set, err := tileset.Load(setName)
	if err != nil {
		return nil, err
	}
	caps := req.Capabilities
	if caps == nil {
		caps = r.Defaults.Capabilities
	}
	id := uuid.New()
	seed := req.Seed
	if seed == 0 {
		seed = r.Defaults.Seed
	}
	if seed == 0 {
		seed = binary.BigEndian.Uint64(id[8:])
	}

	g, err := NewTileGame(r.options(id, seed, set, req.Players, caps))
	if err != nil {
		return nil, err
	}
	if r.Journal != nil {
		rec := g.Record()
		if rec.Snapshot, err = g.marshalCheckpoint(); err != nil {
			return nil, err
		}
		if err := r.Journal.CreateGame(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist game: %w", err)
		}
	}

	r.mu.Lock()
	r.games[g.ID] = g
	r.mu.Unlock()
	if r.Attach != nil {
		r.Attach(g)
	}

	g.Mu.Lock()
	defer g.Mu.Unlock()
	if err := g.Start(ctx); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"game_id": g.ID, "seed": seed, "tile_set": set.Name}).Info("Game created.")
	return g, nil
}

func (r *Registry) options(id uuid.UUID, seed uint64, set tileset.Set, players []string, caps []engine.CapabilityID) Options {
	start := set.StartTile()
	return Options{
		ID:           id,
		Seed:         seed,
		TileSet:      set.Name,
		Tiles:        set.Pack(),
		StartTile:    &start,
		Players:      players,
		Capabilities: caps,
		BridgeTokens: r.Defaults.BridgeTokens,
		TurnDuration: r.Defaults.TurnDuration,
		Source:       r.Source,
		Journal:      r.Journal,
		Cache:        r.Cache,
		Chain:        r.Chain,
		Logger:       r.log,
	}
}

// Get returns the live session for id, loading it from storage when this
// process has not seen it yet. Loading runs outside the registry lock; when
// two callers race, the first session stored wins.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*TileGame, error) {
	r.mu.Lock()
	g, ok := r.games[id]
	r.mu.Unlock()
	if ok {
		return g, nil
	}
	if r.Journal == nil {
		return nil, ErrGameNotFound
	}

	loaded, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if g, ok := r.games[id]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.games[id] = loaded
	r.mu.Unlock()

	if r.Attach != nil {
		r.Attach(loaded)
	}
	loaded.Mu.Lock()
	defer loaded.Mu.Unlock()
	if err := loaded.Resume(ctx); err != nil {
		return nil, err
	}
	return loaded, nil
}

// load rebuilds a session from the journal. The cached checkpoint is used
// when its chain head matches the journal; either way the journal's hash
// chain and the pack replay are verified before the session is trusted.
func (r *Registry) load(ctx context.Context, id uuid.UUID) (*TileGame, error) {
	header, err := r.Journal.GetGame(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	if header.Status != storage.StatusActive {
		return nil, fmt.Errorf("%w: game %s is %s", ErrGameNotFound, id, header.Status)
	}
	set, err := tileset.Load(header.TileSet)
	if err != nil {
		return nil, err
	}

	records, err := r.Journal.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, len(records))
	hashes := make([]string, len(records))
	for i, rec := range records {
		events[i], hashes[i] = rec.Event, rec.Hash
	}
	if err := r.Chain.Verify(events, hashes); err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	head := ""
	if n := len(hashes); n > 0 {
		head = hashes[n-1]
	}

	data := header.Snapshot
	if entry, err := r.Cache.Load(ctx, id); err == nil && entry.Head == head {
		data = entry.State
	} else if err != nil && !errors.Is(err, cache.ErrMiss) {
		r.log.WithError(err).WithField("game_id", id).Warn("Snapshot cache unavailable, using journal.")
	}

	g, err := Restore(r.options(id, header.Seed, set, header.Players, header.Capabilities), data)
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	if g.head != head || len(g.Snapshot.Events) != len(events) {
		return nil, fmt.Errorf("load game %s: checkpoint does not match journal", id)
	}
	if err := engine.VerifyPack(engine.NewTilePack(set.Pack()), g.Snapshot); err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	r.log.WithFields(logrus.Fields{"game_id": id, "events": len(events)}).Info("Game restored.")
	return g, nil
}

// Remove forgets a finished session.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.games, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.games)
}
