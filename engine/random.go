package engine

// Random is the injected source of randomness for tile draws. Implementations
// must be deterministic for a given seed so games can be replayed.
type Random interface {
	// IntN returns a value in [0, n). n is always positive.
	IntN(n int) int
}

// XorShift is a seeded xorshift64 generator.
type XorShift struct {
	state uint64
}

// NewXorShift returns a generator for seed. Seed 0 is corrected to 1 because
// xorshift cannot leave the zero state.
func NewXorShift(seed uint64) *XorShift {
	if seed == 0 {
		seed = 1
	}
	return &XorShift{state: seed}
}

// Next advances the generator and returns the new state.
func (x *XorShift) Next() uint64 {
	v := x.state
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	x.state = v
	return v
}

// IntN returns a number in [0, n).
func (x *XorShift) IntN(n int) int {
	return int(x.Next() % uint64(n))
}

// State returns the current generator state, for checkpointing a replay.
func (x *XorShift) State() uint64 { return x.state }
