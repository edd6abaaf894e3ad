package tracker

import "github.com/cory-johannsen/chunkmap/internal/chunk"

// ByteLevels is a sparse level store for trackers with a small level range.
// Keys whose level reaches the drop threshold are removed and read back as the
// absent level.
type ByteLevels struct {
	levels map[chunk.Key]uint8
	dropAt int
	absent int
}

// NewByteLevels returns an empty store.
//
// Precondition: 0 < dropAt <= absent < 256.
func NewByteLevels(dropAt, absent, capacityHint int) *ByteLevels {
	if dropAt <= 0 || dropAt > absent || absent >= 256 {
		panic("tracker.NewByteLevels: require 0 < dropAt <= absent < 256")
	}
	return &ByteLevels{
		levels: make(map[chunk.Key]uint8, capacityHint),
		dropAt: dropAt,
		absent: absent,
	}
}

// Get returns the stored level of k, or the absent level.
func (b *ByteLevels) Get(k chunk.Key) int {
	if l, ok := b.levels[k]; ok {
		return int(l)
	}
	return b.absent
}

// Set stores level for k and returns the previous level.
func (b *ByteLevels) Set(k chunk.Key, level int) int {
	old := b.Get(k)
	if level >= b.dropAt {
		delete(b.levels, k)
	} else {
		b.levels[k] = uint8(level)
	}
	return old
}

// Contains reports whether k holds a level below the drop threshold.
func (b *ByteLevels) Contains(k chunk.Key) bool {
	_, ok := b.levels[k]
	return ok
}

// Len returns the number of stored keys.
func (b *ByteLevels) Len() int {
	return len(b.levels)
}

// Range calls fn for every stored key until fn returns false. Iteration order
// is unspecified.
func (b *ByteLevels) Range(fn func(k chunk.Key, level int) bool) {
	for k, l := range b.levels {
		if !fn(k, int(l)) {
			return
		}
	}
}

// Keys returns a snapshot of the stored keys.
func (b *ByteLevels) Keys() []chunk.Key {
	out := make([]chunk.Key, 0, len(b.levels))
	for k := range b.levels {
		out = append(out, k)
	}
	return out
}
