// Package ticket defines chunk tickets and the keyed ticket storage the
// distance trackers read their source levels from.
package ticket

import (
	"fmt"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

// Use states which trackers a ticket type feeds.
type Use int

const (
	// Loading tickets keep chunks loaded.
	Loading Use = iota
	// Simulation tickets make chunks tick without loading anything themselves.
	Simulation
	// LoadingAndSimulation tickets do both.
	LoadingAndSimulation
)

var useNames = map[Use]string{
	Loading:              "loading",
	Simulation:           "simulation",
	LoadingAndSimulation: "loading_and_simulation",
}

// String returns the lower_snake name of u.
func (u Use) String() string {
	if s, ok := useNames[u]; ok {
		return s
	}
	return fmt.Sprintf("use(%d)", int(u))
}

// ParseUse is the inverse of Use.String.
func ParseUse(s string) (Use, error) {
	for u, name := range useNames {
		if name == s {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unknown ticket use %q", s)
}

// Type describes a category of tickets. Types are compared by pointer.
type Type struct {
	// Name identifies the type in persisted data and debug output.
	Name string
	// Timeout is the lifetime in ticks; <= 0 means the ticket never expires.
	Timeout int64
	// Persist marks tickets that survive a restart.
	Persist bool
	// Use selects the trackers the type feeds.
	Use Use
}

// HasTimeout reports whether tickets of this type expire.
func (t *Type) HasTimeout() bool {
	return t.Timeout > 0
}

// DoesLoad reports whether tickets of this type feed the loading tracker.
func (t *Type) DoesLoad() bool {
	return t.Use == Loading || t.Use == LoadingAndSimulation
}

// DoesSimulate reports whether tickets of this type feed the simulation tracker.
func (t *Type) DoesSimulate() bool {
	return t.Use == Simulation || t.Use == LoadingAndSimulation
}

func (t *Type) String() string {
	return t.Name
}

// Built-in ticket types.
var (
	Start            = &Type{Name: "start", Use: LoadingAndSimulation}
	Dragon           = &Type{Name: "dragon", Use: LoadingAndSimulation}
	PlayerLoading    = &Type{Name: "player_loading", Use: Loading}
	PlayerSimulation = &Type{Name: "player_simulation", Use: Simulation}
	Forced           = &Type{Name: "forced", Persist: true, Use: LoadingAndSimulation}
	Portal           = &Type{Name: "portal", Timeout: 300, Persist: true, Use: LoadingAndSimulation}
	EnderPearl       = &Type{Name: "ender_pearl", Timeout: 40, Use: LoadingAndSimulation}
	PostTeleport     = &Type{Name: "post_teleport", Timeout: 5, Use: LoadingAndSimulation}
	Unknown          = &Type{Name: "unknown", Timeout: 1, Use: Loading}
)

// Ticket is a leveled, optionally expiring claim on a chunk. Two tickets are
// the same ticket when type and level match; TicksLeft is not part of the
// identity.
type Ticket struct {
	Type      *Type
	Level     int
	TicksLeft int64
}

// New returns a ticket with a full timer.
//
// Precondition: typ must be non-nil; level must be >= 0.
func New(typ *Type, level int) *Ticket {
	if typ == nil {
		panic("ticket.New: type must not be nil")
	}
	if level < 0 {
		panic(fmt.Sprintf("ticket.New: negative level %d for %s", level, typ.Name))
	}
	return &Ticket{Type: typ, Level: level, TicksLeft: typ.Timeout}
}

// WithRadius returns a ticket that keeps every chunk within radius full.
func WithRadius(typ *Type, radius int) *Ticket {
	return New(typ, chunk.RadiusLevel(radius))
}

// Same reports whether t and o share type and level.
func (t *Ticket) Same(o *Ticket) bool {
	return t.Type == o.Type && t.Level == o.Level
}

// ResetTicksLeft restarts the expiry timer.
func (t *Ticket) ResetTicksLeft() {
	t.TicksLeft = t.Type.Timeout
}

// DecreaseTicksLeft advances the expiry timer by one tick.
func (t *Ticket) DecreaseTicksLeft() {
	if t.Type.HasTimeout() {
		t.TicksLeft--
	}
}

// IsTimedOut reports whether the ticket has expired.
func (t *Ticket) IsTimedOut() bool {
	return t.Type.HasTimeout() && t.TicksLeft < 0
}

func (t *Ticket) String() string {
	return fmt.Sprintf("Ticket[%s %d] with timeout %d", t.Type.Name, t.Level, t.TicksLeft)
}
