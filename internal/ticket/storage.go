package ticket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

// ChunkUpdated is notified when the strongest ticket level of a category
// changes at a key. level is the new strongest level; decreasing is true when
// the level improved.
type ChunkUpdated func(k chunk.Key, level int, decreasing bool)

// Persisted is the storable form of one ticket.
type Persisted struct {
	Pos       chunk.Pos
	Type      string
	Level     int
	TicksLeft int64
}

// ErrNoSavedTickets is wrapped by Store implementations when a world has never
// been saved.
var ErrNoSavedTickets = errors.New("no saved tickets")

// Store persists the persistent tickets of a world between runs.
type Store interface {
	LoadTickets(ctx context.Context, world string) ([]Persisted, error)
	SaveTickets(ctx context.Context, world string, tickets []Persisted) error
}

// Storage is the keyed ticket multiset. It notifies the loading and simulation
// listeners whenever the strongest ticket of their category may have changed,
// whichever path made the change.
//
// Concurrency: Storage is not safe for concurrent use; it is owned by the
// tick goroutine.
type Storage struct {
	tickets     map[chunk.Key][]*Ticket
	deactivated map[chunk.Key][]*Ticket
	forced      map[chunk.Key]struct{}
	dirty       bool

	loadingListener    ChunkUpdated
	simulationListener ChunkUpdated
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{
		tickets:     make(map[chunk.Key][]*Ticket),
		deactivated: make(map[chunk.Key][]*Ticket),
		forced:      make(map[chunk.Key]struct{}),
	}
}

// SetLoadingChunkUpdatedListener registers the loading tracker's hook.
func (s *Storage) SetLoadingChunkUpdatedListener(fn ChunkUpdated) {
	s.loadingListener = fn
}

// SetSimulationChunkUpdatedListener registers the simulation tracker's hook.
func (s *Storage) SetSimulationChunkUpdatedListener(fn ChunkUpdated) {
	s.simulationListener = fn
}

// Tickets returns a copy of the tickets held at k.
func (s *Storage) Tickets(k chunk.Key) []*Ticket {
	return append([]*Ticket(nil), s.tickets[k]...)
}

// HasTicketOfType reports whether k holds any ticket of typ.
func (s *Storage) HasTicketOfType(k chunk.Key, typ *Type) bool {
	for _, t := range s.tickets[k] {
		if t.Type == typ {
			return true
		}
	}
	return false
}

// HasTickets reports whether any key holds a ticket.
func (s *Storage) HasTickets() bool {
	return len(s.tickets) > 0
}

// Keys returns the keys holding tickets.
func (s *Storage) Keys() []chunk.Key {
	out := make([]chunk.Key, 0, len(s.tickets))
	for k := range s.tickets {
		out = append(out, k)
	}
	return out
}

// Len returns the number of keys holding tickets.
func (s *Storage) Len() int {
	return len(s.tickets)
}

// AddTicket adds t at k. When k already holds a ticket with the same type and
// level, that ticket's timer is reset instead and AddTicket returns false.
//
// Precondition: t must be non-nil with a non-negative level.
// Postcondition: k holds exactly one ticket with t's type and level.
func (s *Storage) AddTicket(k chunk.Key, t *Ticket) bool {
	if t == nil || t.Level < 0 {
		panic(fmt.Sprintf("ticket.Storage.AddTicket: invalid ticket %v at %s", t, k))
	}
	list := s.tickets[k]
	for _, existing := range list {
		if existing.Same(t) {
			existing.ResetTicksLeft()
			s.dirty = true
			return false
		}
	}
	simBefore := levelOf(list, true)
	loadBefore := levelOf(list, false)
	s.tickets[k] = append(list, t)

	if t.Type.DoesSimulate() && t.Level < simBefore && s.simulationListener != nil {
		s.simulationListener(k, t.Level, true)
	}
	if t.Type.DoesLoad() && t.Level < loadBefore && s.loadingListener != nil {
		s.loadingListener(k, t.Level, true)
	}
	if t.Type == Forced {
		s.forced[k] = struct{}{}
	}
	s.dirty = true
	return true
}

// RemoveTicket removes the ticket at k with t's type and level. It returns
// false when no such ticket exists.
func (s *Storage) RemoveTicket(k chunk.Key, t *Ticket) bool {
	list, ok := s.tickets[k]
	if !ok {
		return false
	}
	idx := slices.IndexFunc(list, t.Same)
	if idx < 0 {
		return false
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(s.tickets, k)
	} else {
		s.tickets[k] = list
	}

	if t.Type.DoesSimulate() && s.simulationListener != nil {
		s.simulationListener(k, levelOf(list, true), false)
	}
	if t.Type.DoesLoad() && s.loadingListener != nil {
		s.loadingListener(k, levelOf(list, false), false)
	}
	if t.Type == Forced {
		s.refreshForced(k)
	}
	s.dirty = true
	return true
}

// AddTicketWithRadius adds a ticket of typ keeping every chunk within radius
// of pos full.
func (s *Storage) AddTicketWithRadius(typ *Type, pos chunk.Pos, radius int) bool {
	return s.AddTicket(pos.Key(), WithRadius(typ, radius))
}

// RemoveTicketWithRadius is the inverse of AddTicketWithRadius.
func (s *Storage) RemoveTicketWithRadius(typ *Type, pos chunk.Pos, radius int) bool {
	return s.RemoveTicket(pos.Key(), WithRadius(typ, radius))
}

// TicketLevelAt returns the strongest level among the tickets at k that feed
// the simulation (simulation == true) or loading category, or
// chunk.UnloadedLevel when none do.
func (s *Storage) TicketLevelAt(k chunk.Key, simulation bool) int {
	return levelOf(s.tickets[k], simulation)
}

// ReplaceTicketLevelOfType moves every ticket of typ to level. Each affected
// key is re-announced to the listeners once, after all tickets changed.
func (s *Storage) ReplaceTicketLevelOfType(level int, typ *Type) {
	if level < 0 {
		panic(fmt.Sprintf("ticket.Storage.ReplaceTicketLevelOfType: negative level %d", level))
	}
	type before struct{ sim, load int }
	changed := make(map[chunk.Key]before)
	for k, list := range s.tickets {
		hit := false
		for _, t := range list {
			if t.Type == typ && t.Level != level {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		changed[k] = before{sim: levelOf(list, true), load: levelOf(list, false)}
		kept := list[:0]
		var merged *Ticket
		for _, t := range list {
			if t.Type != typ {
				kept = append(kept, t)
				continue
			}
			if merged == nil {
				t.Level = level
				merged = t
				kept = append(kept, t)
				continue
			}
			if t.TicksLeft > merged.TicksLeft {
				merged.TicksLeft = t.TicksLeft
			}
		}
		s.tickets[k] = kept
	}
	for k, b := range changed {
		list := s.tickets[k]
		if typ.DoesSimulate() && s.simulationListener != nil {
			if after := levelOf(list, true); after != b.sim {
				s.simulationListener(k, after, after < b.sim)
			}
		}
		if typ.DoesLoad() && s.loadingListener != nil {
			if after := levelOf(list, false); after != b.load {
				s.loadingListener(k, after, after < b.load)
			}
		}
	}
	if len(changed) > 0 {
		s.dirty = true
	}
}

// PurgeStaleTickets advances every expiring ticket by one tick and removes the
// ones that timed out.
func (s *Storage) PurgeStaleTickets() int {
	return s.RemoveTicketIf(func(_ chunk.Key, t *Ticket) bool {
		t.DecreaseTicksLeft()
		return t.IsTimedOut()
	}, nil)
}

// RemoveTicketIf removes every ticket matching pred, optionally collecting
// the removed tickets into removed, and returns how many were removed.
func (s *Storage) RemoveTicketIf(pred func(chunk.Key, *Ticket) bool, removed map[chunk.Key][]*Ticket) int {
	count := 0
	forcedTouched := false
	for k, list := range s.tickets {
		kept := list[:0]
		var load, sim bool
		for _, t := range list {
			if !pred(k, t) {
				kept = append(kept, t)
				continue
			}
			count++
			if removed != nil {
				removed[k] = append(removed[k], t)
			}
			load = load || t.Type.DoesLoad()
			sim = sim || t.Type.DoesSimulate()
			forcedTouched = forcedTouched || t.Type == Forced
		}
		if !load && !sim {
			continue
		}
		// Clear the tail so removed tickets are not retained by the backing array.
		for i := len(kept); i < len(list); i++ {
			list[i] = nil
		}
		if len(kept) == 0 {
			delete(s.tickets, k)
		} else {
			s.tickets[k] = kept
		}
		if load && s.loadingListener != nil {
			s.loadingListener(k, levelOf(kept, false), false)
		}
		if sim && s.simulationListener != nil {
			s.simulationListener(k, levelOf(kept, true), false)
		}
		s.dirty = true
	}
	if forcedTouched {
		s.forced = make(map[chunk.Key]struct{})
		for k, list := range s.tickets {
			for _, t := range list {
				if t.Type == Forced {
					s.forced[k] = struct{}{}
					break
				}
			}
		}
	}
	return count
}

// DeactivateTicketsOnClosing removes every ticket except Unknown ones and
// keeps them aside so ActivateAllDeactivatedTickets can restore them.
func (s *Storage) DeactivateTicketsOnClosing() int {
	return s.RemoveTicketIf(func(_ chunk.Key, t *Ticket) bool {
		return t.Type != Unknown
	}, s.deactivated)
}

// ActivateAllDeactivatedTickets re-adds the tickets set aside on closing.
func (s *Storage) ActivateAllDeactivatedTickets() {
	for k, list := range s.deactivated {
		for _, t := range list {
			s.AddTicket(k, t)
		}
	}
	s.deactivated = make(map[chunk.Key][]*Ticket)
}

// UpdateChunkForced adds or removes the force-load ticket at pos.
func (s *Storage) UpdateChunkForced(pos chunk.Pos, add bool) bool {
	t := New(Forced, ForcedTicketLevel)
	if add {
		return s.AddTicket(pos.Key(), t)
	}
	return s.RemoveTicket(pos.Key(), t)
}

// ForcedTicketLevel keeps a force-loaded chunk entity ticking.
const ForcedTicketLevel = chunk.EntityTickingLevel

// ForceLoadedChunks returns the keys holding a Forced ticket.
func (s *Storage) ForceLoadedChunks() []chunk.Key {
	out := make([]chunk.Key, 0, len(s.forced))
	for k := range s.forced {
		out = append(out, k)
	}
	return out
}

// Dirty reports whether tickets changed since the last MarkSaved.
func (s *Storage) Dirty() bool {
	return s.dirty
}

// MarkSaved clears the dirty flag.
func (s *Storage) MarkSaved() {
	s.dirty = false
}

// Persistent returns the tickets whose type persists, deactivated ones
// included, ordered by key then type name.
func (s *Storage) Persistent() []Persisted {
	var out []Persisted
	collect := func(src map[chunk.Key][]*Ticket) {
		for k, list := range src {
			for _, t := range list {
				if t.Type.Persist {
					out = append(out, Persisted{Pos: k.Pos(), Type: t.Type.Name, Level: t.Level, TicksLeft: t.TicksLeft})
				}
			}
		}
	}
	collect(s.tickets)
	collect(s.deactivated)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pos.X != b.Pos.X {
			return a.Pos.X < b.Pos.X
		}
		if a.Pos.Z != b.Pos.Z {
			return a.Pos.Z < b.Pos.Z
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Level < b.Level
	})
	return out
}

// Restore adds persisted tickets, resolving type names through reg.
//
// Postcondition: Returns the number of tickets added, or an error naming the
// first unknown type; tickets before it stay added.
func (s *Storage) Restore(reg *Registry, saved []Persisted) (int, error) {
	n := 0
	for _, p := range saved {
		typ, err := reg.Lookup(p.Type)
		if err != nil {
			return n, fmt.Errorf("restoring ticket at %s: %w", p.Pos, err)
		}
		t := New(typ, p.Level)
		t.TicksLeft = p.TicksLeft
		if s.AddTicket(p.Pos.Key(), t) {
			n++
		}
	}
	return n, nil
}

// DebugString lists the tickets at k that feed the requested category, the
// strongest first.
func (s *Storage) DebugString(k chunk.Key, simulation bool) string {
	var matching []*Ticket
	for _, t := range s.tickets[k] {
		if (simulation && t.Type.DoesSimulate()) || (!simulation && t.Type.DoesLoad()) {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return "no_ticket"
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Level < matching[j].Level })
	parts := make([]string, len(matching))
	for i, t := range matching {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func (s *Storage) refreshForced(k chunk.Key) {
	if s.HasTicketOfType(k, Forced) {
		s.forced[k] = struct{}{}
		return
	}
	delete(s.forced, k)
}

func levelOf(list []*Ticket, simulation bool) int {
	best := chunk.UnloadedLevel
	for _, t := range list {
		if t.Level >= best {
			continue
		}
		if (simulation && t.Type.DoesSimulate()) || (!simulation && t.Type.DoesLoad()) {
			best = t.Level
		}
	}
	return best
}
