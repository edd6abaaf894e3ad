package chunk

import "fmt"

// Level scale shared by the loading and simulation trackers. Lower is
// stronger: 0 is the most important chunk, MaxLevel is the weakest level that
// still keeps a chunk loaded.
const (
	// EntityTickingLevel is the weakest level at which entities are simulated.
	EntityTickingLevel = 31
	// BlockTickingLevel is the weakest level at which blocks receive random ticks.
	BlockTickingLevel = 32
	// FullLevel is the weakest level at which a chunk is fully generated and accessible.
	FullLevel = 33
	// GenerationSteps is the number of partial generation steps beyond FullLevel.
	GenerationSteps = 11
	// MaxLevel is the weakest level at which a chunk is still held in memory.
	MaxLevel = FullLevel + GenerationSteps
	// UnloadedLevel is the level reported for keys with no influence at all.
	UnloadedLevel = MaxLevel + 1
)

// FullStatus classifies a level into the activity band it grants.
type FullStatus int

const (
	// Inaccessible chunks are held only as partially generated data.
	Inaccessible FullStatus = iota
	// Full chunks are accessible but not ticked.
	Full
	// BlockTicking chunks receive block and fluid ticks.
	BlockTicking
	// EntityTicking chunks receive block ticks and simulate entities.
	EntityTicking
)

var fullStatusNames = [...]string{"inaccessible", "full", "block_ticking", "entity_ticking"}

// String returns the lower_snake name of s.
func (s FullStatus) String() string {
	if s < Inaccessible || s > EntityTicking {
		return fmt.Sprintf("full_status(%d)", int(s))
	}
	return fullStatusNames[s]
}

// IsOrAfter reports whether s grants at least the activity of o.
func (s FullStatus) IsOrAfter(o FullStatus) bool {
	return s >= o
}

// IsLoaded reports whether level keeps a chunk in memory.
func IsLoaded(level int) bool {
	return level <= MaxLevel
}

// IsFull reports whether level makes a chunk fully accessible.
func IsFull(level int) bool {
	return level <= FullLevel
}

// IsBlockTicking reports whether level grants block ticking.
func IsBlockTicking(level int) bool {
	return level <= BlockTickingLevel
}

// IsEntityTicking reports whether level grants entity ticking.
func IsEntityTicking(level int) bool {
	return level <= EntityTickingLevel
}

// FullStatusOf returns the activity band for level.
func FullStatusOf(level int) FullStatus {
	switch {
	case IsEntityTicking(level):
		return EntityTicking
	case IsBlockTicking(level):
		return BlockTicking
	case IsFull(level):
		return Full
	default:
		return Inaccessible
	}
}

// ByStatus returns the weakest level that grants s.
//
// Precondition: s must be one of the declared FullStatus values.
func ByStatus(s FullStatus) int {
	switch s {
	case EntityTicking:
		return EntityTickingLevel
	case BlockTicking:
		return BlockTickingLevel
	case Full:
		return FullLevel
	case Inaccessible:
		return MaxLevel
	default:
		panic(fmt.Sprintf("chunk.ByStatus: unknown status %d", int(s)))
	}
}

// RadiusLevel converts a ticket radius into a ticket level: a radius of r keeps
// every chunk within Chebyshev distance r at least full.
func RadiusLevel(radius int) int {
	return FullLevel - radius
}
