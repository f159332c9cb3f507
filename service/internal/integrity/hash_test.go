package integrity

import (
	"testing"

	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvents() []engine.Event {
	tile := engine.Tile{ID: "a"}
	player, idx := 0, 3
	pos := engine.Position{X: 1}
	rot := engine.R90
	return []engine.Event{
		{Seq: 1, Type: engine.EventTileDrawn, Player: &player, Tile: &tile, Source: engine.DrawFromPack, Index: &idx},
		{Seq: 2, Type: engine.EventTilePlaced, Player: &player, Tile: &tile, Position: &pos, Rotation: &rot},
		{Seq: 3, Type: engine.EventTilesHidden, Hidden: 1},
	}
}

func TestChainDeterministic(t *testing.T) {
	c, err := NewChain([]byte("k"))
	require.NoError(t, err)

	first, err := c.Extend("", testEvents())
	require.NoError(t, err)
	second, err := c.Extend("", testEvents())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
	assert.Len(t, first[0], 64)

	require.NoError(t, c.Verify(testEvents(), first))
}

func TestChainDetectsTampering(t *testing.T) {
	c, err := NewChain(nil)
	require.NoError(t, err)
	hashes, err := c.Extend("", testEvents())
	require.NoError(t, err)

	events := testEvents()
	events[1].Hidden = 9
	assert.ErrorIs(t, c.Verify(events, hashes), ErrChainBroken)

	assert.ErrorIs(t, c.Verify(testEvents()[:2], hashes), ErrChainBroken)

	swapped := testEvents()
	swapped[0], swapped[2] = swapped[2], swapped[0]
	assert.ErrorIs(t, c.Verify(swapped, hashes), ErrChainBroken)
}

func TestChainKeyMatters(t *testing.T) {
	a, err := NewChain([]byte("one"))
	require.NoError(t, err)
	b, err := NewChain([]byte("two"))
	require.NoError(t, err)

	ha, err := a.Extend("", testEvents())
	require.NoError(t, err)
	assert.ErrorIs(t, b.Verify(testEvents(), ha), ErrChainBroken)

	_, err = NewChain(make([]byte, 65))
	assert.Error(t, err)
}

func TestSnapshotDigest(t *testing.T) {
	s, err := engine.NewGame(engine.Setup{Players: []string{"a", "b"}, Tiles: []engine.Tile{{ID: "x"}}})
	require.NoError(t, err)

	d1, err := SnapshotDigest(s)
	require.NoError(t, err)
	d2, err := SnapshotDigest(s)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	d3, err := SnapshotDigest(s.WithTurnPlayer(1))
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestDeriveKey(t *testing.T) {
	long := string(make([]byte, 200))
	key := DeriveKey(long)
	assert.Len(t, key, 32)
	assert.Equal(t, key, DeriveKey(long))
	assert.NotEqual(t, key, DeriveKey("other"))

	_, err := NewChain(key)
	require.NoError(t, err)
}
