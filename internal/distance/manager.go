package distance

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

const (
	// PlayerTicketLevel is the level of the loading ticket every chunk within
	// view distance of a player receives.
	PlayerTicketLevel = chunk.EntityTickingLevel
	// MaxViewDistance bounds the view distance the player ticket tracker
	// resolves.
	MaxViewDistance = 32
	// NaturalSpawnDistance is how far the natural spawn counter tracks players.
	NaturalSpawnDistance = 8
	// InscribedSquareSpawnDistanceChunk is the proximity level at or under
	// which HasPlayersNearby answers True.
	InscribedSquareSpawnDistanceChunk = 5
	// PlayersNearbyCutoff is the proximity level above which HasPlayersNearby
	// answers False.
	PlayersNearbyCutoff = 8
	// DefaultSimulationDistance is the simulation distance of a new Manager.
	DefaultSimulationDistance = 10
)

// Options configures a Manager.
type Options struct {
	// Scheduler is the chunk lifecycle owner. Required.
	Scheduler ChunkScheduler
	// MainThread runs work marshalled back onto the tick goroutine. Required.
	MainThread dispatch.Executor
	// ThrottleExecutor runs the player ticket throttler's tasks. Defaults to
	// dispatch.Inline.
	ThrottleExecutor dispatch.Executor
	// ThrottleLimit bounds the keys the player ticket throttler keeps in
	// execution. Defaults to dispatch.DefaultMaxInExecution.
	ThrottleLimit int
	// ViewDistance is the initial player ticket radius.
	ViewDistance int
	// SimulationDistance is the initial simulation distance. Negative selects
	// DefaultSimulationDistance.
	SimulationDistance int
	// LoadingBudget bounds the loading tracker steps per tick. Zero means
	// unbounded.
	LoadingBudget int
	// Tickets is the ticket storage to own. Defaults to an empty storage.
	Tickets *ticket.Storage
	Logger  *zap.Logger
}

// Manager is the per-world orchestrator of chunk levels.
//
// Concurrency: every method must be called on the tick goroutine.
type Manager struct {
	logger     *zap.Logger
	mainThread dispatch.Executor
	throttler  *dispatch.Throttler
	tickets    *ticket.Storage

	playersPerChunk map[chunk.Key]map[uuid.UUID]struct{}
	playerCount     int

	naturalSpawn *proximityTracker
	players      *playerTicketTracker
	simulation   *SimulationChunkTracker
	loading      *LoadingChunkTracker

	ticketsToRelease   map[chunk.Key]struct{}
	futuresToUpdate    []Holder
	futuresToUpdateSet map[Holder]struct{}

	simulationDistance int
	loadingBudget      int
}

// NewManager wires the trackers to the ticket storage and the throttler.
//
// Precondition: opts.Scheduler and opts.MainThread must be non-nil;
// 0 <= opts.ViewDistance <= MaxViewDistance.
// Postcondition: Returns a Manager with no players and no pending work.
func NewManager(opts Options) *Manager {
	if opts.Scheduler == nil || opts.MainThread == nil {
		panic("distance.NewManager: scheduler and main thread executor must be non-nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	throttleExec := opts.ThrottleExecutor
	if throttleExec == nil {
		throttleExec = dispatch.Inline{}
	}
	limit := opts.ThrottleLimit
	if limit <= 0 {
		limit = dispatch.DefaultMaxInExecution
	}
	tickets := opts.Tickets
	if tickets == nil {
		tickets = ticket.NewStorage()
	}
	simDistance := opts.SimulationDistance
	if simDistance < 0 {
		simDistance = DefaultSimulationDistance
	}
	budget := opts.LoadingBudget
	if budget <= 0 {
		budget = math.MaxInt
	}

	m := &Manager{
		logger:             logger,
		mainThread:         opts.MainThread,
		throttler:          dispatch.NewThrottler("player ticket throttler", throttleExec, limit, logger),
		tickets:            tickets,
		playersPerChunk:    make(map[chunk.Key]map[uuid.UUID]struct{}),
		ticketsToRelease:   make(map[chunk.Key]struct{}),
		futuresToUpdateSet: make(map[Holder]struct{}),
		simulationDistance: simDistance,
		loadingBudget:      budget,
	}
	m.naturalSpawn = newProximityTracker(NaturalSpawnDistance, m.hasPlayers)
	m.players = newPlayerTicketTracker(m, MaxViewDistance)
	m.simulation = NewSimulationChunkTracker(tickets)
	m.loading = NewLoadingChunkTracker(tickets, opts.Scheduler, m.markFuturesDirty)

	tickets.SetLoadingChunkUpdatedListener(m.loading.Update)
	tickets.SetSimulationChunkUpdatedListener(m.simulation.Update)
	// Tickets added before the listeners were registered.
	for _, k := range tickets.Keys() {
		m.loading.Update(k, tickets.TicketLevelAt(k, false), true)
		m.simulation.Update(k, tickets.TicketLevelAt(k, true), true)
	}

	m.UpdatePlayerTickets(opts.ViewDistance)
	return m
}

func playerTicket() *ticket.Ticket {
	return ticket.New(ticket.PlayerLoading, PlayerTicketLevel)
}

// PlayerSimulationTicketLevel is the level of the simulation ticket a player
// holds at its home chunk for the given simulation distance.
func PlayerSimulationTicketLevel(simulationDistance int) int {
	return max(0, chunk.EntityTickingLevel-simulationDistance)
}

func (m *Manager) playerSimulationTicket() *ticket.Ticket {
	return ticket.New(ticket.PlayerSimulation, PlayerSimulationTicketLevel(m.simulationDistance))
}

func (m *Manager) hasPlayers(k chunk.Key) bool {
	return len(m.playersPerChunk[k]) > 0
}

func (m *Manager) markFuturesDirty(h Holder) {
	if _, ok := m.futuresToUpdateSet[h]; ok {
		return
	}
	m.futuresToUpdateSet[h] = struct{}{}
	m.futuresToUpdate = append(m.futuresToUpdate, h)
}

// AddPlayer records observer at home and makes home a proximity source.
//
// Postcondition: Returns false when observer was already recorded at home.
func (m *Manager) AddPlayer(home chunk.Pos, observer uuid.UUID) bool {
	k := home.Key()
	set, ok := m.playersPerChunk[k]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.playersPerChunk[k] = set
	}
	if _, dup := set[observer]; dup {
		return false
	}
	set[observer] = struct{}{}
	m.playerCount++
	m.naturalSpawn.Update(k, 0, true)
	m.players.Update(k, 0, true)
	m.tickets.AddTicket(k, m.playerSimulationTicket())
	m.logger.Debug("player added", zap.Stringer("chunk", home), zap.Stringer("observer", observer))
	return true
}

// RemovePlayer forgets observer at home. The last observer leaving a chunk
// clears its proximity source and simulation ticket.
//
// Postcondition: Returns false when observer was not recorded at home.
func (m *Manager) RemovePlayer(home chunk.Pos, observer uuid.UUID) bool {
	k := home.Key()
	set, ok := m.playersPerChunk[k]
	if !ok {
		return false
	}
	if _, present := set[observer]; !present {
		return false
	}
	delete(set, observer)
	m.playerCount--
	m.logger.Debug("player removed", zap.Stringer("chunk", home), zap.Stringer("observer", observer))
	if len(set) > 0 {
		return true
	}
	delete(m.playersPerChunk, k)
	m.naturalSpawn.Update(k, m.naturalSpawn.MaxLevel(), false)
	m.players.Update(k, m.players.MaxLevel(), false)
	m.tickets.RemoveTicket(k, m.playerSimulationTicket())
	return true
}

// MovePlayer moves observer from one home chunk to another.
func (m *Manager) MovePlayer(from, to chunk.Pos, observer uuid.UUID) {
	if from == to {
		return
	}
	m.RemovePlayer(from, observer)
	m.AddPlayer(to, observer)
}

// PlayerCount returns the number of recorded observers.
func (m *Manager) PlayerCount() int {
	return m.playerCount
}

// UpdateSimulationDistance moves every player simulation ticket to the level
// of the new distance in one bulk replacement.
func (m *Manager) UpdateSimulationDistance(distance int) {
	if distance == m.simulationDistance {
		return
	}
	m.simulationDistance = distance
	m.tickets.ReplaceTicketLevelOfType(PlayerSimulationTicketLevel(distance), ticket.PlayerSimulation)
	m.logger.Info("simulation distance updated", zap.Int("simulation_distance", distance))
}

// SimulationDistance returns the current simulation distance.
func (m *Manager) SimulationDistance() int {
	return m.simulationDistance
}

// UpdatePlayerTickets re-derives the player loading tickets of every tracked
// key under the new view distance.
//
// Precondition: 0 <= viewDistance <= MaxViewDistance.
func (m *Manager) UpdatePlayerTickets(viewDistance int) {
	if viewDistance < 0 || viewDistance > MaxViewDistance {
		panic(fmt.Sprintf("distance.Manager.UpdatePlayerTickets: view distance %d out of range [0, %d]", viewDistance, MaxViewDistance))
	}
	m.players.updateViewDistance(viewDistance)
}

// ViewDistance returns the current player ticket radius.
func (m *Manager) ViewDistance() int {
	return m.players.viewDistance
}

// RunAllUpdates resolves every tracker and drives the scheduler. Phases run
// in a fixed order: proximity and simulation trackers, the budgeted loading
// tracker, then either the two-phase holder futures update or, when no holder
// changed, the deferred player ticket releases. Both later phases wait until
// a budgeted loading tracker has no queued keys left.
//
// Postcondition: Returns true when any holder was rescheduled or any loading
// work was done. A non-nil error is an invariant breach and the tick must
// stop.
func (m *Manager) RunAllUpdates(s ChunkScheduler) (bool, error) {
	m.naturalSpawn.RunAllUpdates()
	m.simulation.RunAllUpdates()
	m.players.runAllUpdates()
	spent := m.loadingBudget - m.loading.RunDistanceUpdates(m.loadingBudget)
	worked := spent != 0
	if m.loading.HasWork() {
		// Committed levels are not final until the tracker drains: a key whose
		// support got worse sits at chunk.UnloadedLevel until re-derived.
		// Holders keep their futures and releases stay queued until then.
		return worked, nil
	}

	if len(m.futuresToUpdate) > 0 {
		for _, h := range m.futuresToUpdate {
			h.UpdateHighestAllowedStatus(s)
		}
		for _, h := range m.futuresToUpdate {
			h.UpdateFutures(s, m.mainThread)
		}
		clear(m.futuresToUpdate)
		m.futuresToUpdate = m.futuresToUpdate[:0]
		clear(m.futuresToUpdateSet)
		return true, nil
	}

	for k := range m.ticketsToRelease {
		k := k
		if !m.tickets.HasTicketOfType(k, ticket.PlayerLoading) {
			continue
		}
		h := s.Holder(k)
		if h == nil {
			return worked, fmt.Errorf("releasing player ticket at %s: %w", k, ErrHolderMissing)
		}
		h.EntityTickingFuture().Then(func(struct{}, error) {
			m.mainThread.Execute(func() { m.throttler.Release(k, nil, false) })
		})
	}
	clear(m.ticketsToRelease)
	return worked, nil
}

// HasLoadingWork reports whether the loading tracker has queued keys left
// after a budgeted tick.
func (m *Manager) HasLoadingWork() bool {
	return m.loading.HasWork()
}

// AddTicket adds t at pos.
func (m *Manager) AddTicket(pos chunk.Pos, t *ticket.Ticket) bool {
	return m.tickets.AddTicket(pos.Key(), t)
}

// RemoveTicket removes t from pos.
func (m *Manager) RemoveTicket(pos chunk.Pos, t *ticket.Ticket) bool {
	return m.tickets.RemoveTicket(pos.Key(), t)
}

// AddRegionTicket keeps every chunk within radius of pos full.
func (m *Manager) AddRegionTicket(typ *ticket.Type, pos chunk.Pos, radius int) bool {
	return m.tickets.AddTicketWithRadius(typ, pos, radius)
}

// RemoveRegionTicket is the inverse of AddRegionTicket.
func (m *Manager) RemoveRegionTicket(typ *ticket.Type, pos chunk.Pos, radius int) bool {
	return m.tickets.RemoveTicketWithRadius(typ, pos, radius)
}

// UpdateChunkForced adds or removes the force-load ticket at pos.
func (m *Manager) UpdateChunkForced(pos chunk.Pos, add bool) bool {
	return m.tickets.UpdateChunkForced(pos, add)
}

// PurgeStaleTickets advances ticket timers by one tick and drops expired
// tickets.
func (m *Manager) PurgeStaleTickets() int {
	return m.tickets.PurgeStaleTickets()
}

// HasTickets reports whether any ticket is held.
func (m *Manager) HasTickets() bool {
	return m.tickets.HasTickets()
}

// Tickets returns the owned ticket storage for read access and persistence.
func (m *Manager) Tickets() *ticket.Storage {
	return m.tickets
}

// InEntityTickingRange reports whether pos simulates entities.
func (m *Manager) InEntityTickingRange(pos chunk.Pos) bool {
	return chunk.IsEntityTicking(m.simulation.Level(pos.Key()))
}

// InBlockTickingRange reports whether pos receives block ticks.
func (m *Manager) InBlockTickingRange(pos chunk.Pos) bool {
	return chunk.IsBlockTicking(m.simulation.Level(pos.Key()))
}

// ChunkLevel returns the simulation level of pos when simulate is set, the
// loading level otherwise.
func (m *Manager) ChunkLevel(pos chunk.Pos, simulate bool) int {
	if simulate {
		return m.simulation.Level(pos.Key())
	}
	return m.loading.Level(pos.Key())
}

// PlayerProximity returns the player ticket tracker's distance from pos to
// the nearest player, MaxViewDistance+1 beyond range.
func (m *Manager) PlayerProximity(pos chunk.Pos) int {
	return m.players.Level(pos.Key())
}

// NaturalSpawnChunkCount returns the number of chunks within
// NaturalSpawnDistance of a player.
func (m *Manager) NaturalSpawnChunkCount() int {
	m.naturalSpawn.RunAllUpdates()
	return m.naturalSpawn.levels.Len()
}

// HasPlayersNearby classifies pos by its distance to the nearest player.
func (m *Manager) HasPlayersNearby(pos chunk.Pos) chunk.TriState {
	m.naturalSpawn.RunAllUpdates()
	level := m.naturalSpawn.Level(pos.Key())
	switch {
	case level <= InscribedSquareSpawnDistanceChunk:
		return chunk.True
	case level > PlayersNearbyCutoff:
		return chunk.False
	default:
		return chunk.Default
	}
}

// ForEachEntityTickingChunk calls fn for every entity ticking key.
func (m *Manager) ForEachEntityTickingChunk(fn func(chunk.Pos)) {
	m.simulation.Range(func(k chunk.Key, level int) bool {
		if chunk.IsEntityTicking(level) {
			fn(k.Pos())
		}
		return true
	})
}

// SpawnCandidateChunks returns the keys within NaturalSpawnDistance of a
// player.
func (m *Manager) SpawnCandidateChunks() []chunk.Key {
	m.naturalSpawn.RunAllUpdates()
	return m.naturalSpawn.levels.Keys()
}

// TicketDebugString lists the loading tickets at pos.
func (m *Manager) TicketDebugString(pos chunk.Pos) string {
	return m.tickets.DebugString(pos.Key(), false)
}

// DebugStatus reports the player ticket throttler state.
func (m *Manager) DebugStatus() string {
	return m.throttler.DebugStatus()
}

// Close stops the player ticket throttler.
func (m *Manager) Close() {
	m.throttler.Close()
}
