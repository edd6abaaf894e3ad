package distance

import (
	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/tracker"
)

// proximityTracker resolves the Chebyshev distance to the nearest player's
// home chunk up to maxDistance. Farther keys are not stored.
type proximityTracker struct {
	*tracker.Tracker
	maxDistance int
	levels      *tracker.ByteLevels
	hasPlayers  func(chunk.Key) bool
	onChange    func(k chunk.Key, oldLevel, newLevel int)
}

func newProximityTracker(maxDistance int, hasPlayers func(chunk.Key) bool) *proximityTracker {
	p := &proximityTracker{
		maxDistance: maxDistance,
		levels:      tracker.NewByteLevels(maxDistance+1, maxDistance+1, 16),
		hasPlayers:  hasPlayers,
	}
	p.Tracker = tracker.New(p, maxDistance+2, 16)
	return p
}

// untracked is the level of keys beyond maxDistance.
func (p *proximityTracker) untracked() int {
	return p.maxDistance + 1
}

func (p *proximityTracker) SourceLevel(k chunk.Key) int {
	if p.hasPlayers(k) {
		return 0
	}
	return p.untracked()
}

func (p *proximityTracker) Level(k chunk.Key) int {
	return p.levels.Get(k)
}

func (p *proximityTracker) SetLevel(k chunk.Key, level int) {
	p.levels.Set(k, level)
}

func (p *proximityTracker) OnLevelChange(k chunk.Key, oldLevel, newLevel int) {
	if p.onChange != nil {
		p.onChange(k, oldLevel, newLevel)
	}
}

// playerTicketTracker turns player proximity into player loading tickets:
// every key within viewDistance of a player's home chunk gets one. Grants and
// releases pass through the ticket throttler and are re-validated on the tick
// goroutine before they touch the ticket storage.
type playerTicketTracker struct {
	*proximityTracker
	m            *Manager
	viewDistance int
	// queueLevels mirrors the throttler priority of every key with queued
	// work. It is only touched on the tick goroutine.
	queueLevels map[chunk.Key]int
	toUpdate    map[chunk.Key]struct{}
}

func newPlayerTicketTracker(m *Manager, maxDistance int) *playerTicketTracker {
	p := &playerTicketTracker{
		proximityTracker: newProximityTracker(maxDistance, m.hasPlayers),
		m:                m,
		queueLevels:      make(map[chunk.Key]int),
		toUpdate:         make(map[chunk.Key]struct{}),
	}
	p.onChange = func(k chunk.Key, _, _ int) { p.toUpdate[k] = struct{}{} }
	return p
}

func (p *playerTicketTracker) haveTicketFor(level int) bool {
	return level <= p.viewDistance
}

func (p *playerTicketTracker) queueLevel(k chunk.Key) int {
	if l, ok := p.queueLevels[k]; ok {
		return l
	}
	return p.untracked()
}

func (p *playerTicketTracker) storeQueueLevel(k chunk.Key) func(int) {
	return func(l int) {
		if l >= p.untracked() {
			delete(p.queueLevels, k)
			return
		}
		p.queueLevels[k] = l
	}
}

// runAllUpdates resolves proximity levels, then reprioritizes and grants or
// releases tickets for every key whose level changed.
func (p *playerTicketTracker) runAllUpdates() {
	p.RunAllUpdates()
	for k := range p.toUpdate {
		k := k
		old := p.queueLevel(k)
		cur := p.Level(k)
		if old == cur {
			continue
		}
		p.m.throttler.OnLevelChange(k, func() int { return p.queueLevel(k) }, cur, p.storeQueueLevel(k))
		p.transition(k, cur, p.haveTicketFor(old), p.haveTicketFor(cur))
	}
	clear(p.toUpdate)
}

// updateViewDistance re-derives ticket ownership for every tracked key under
// the new distance.
func (p *playerTicketTracker) updateViewDistance(viewDistance int) {
	p.levels.Range(func(k chunk.Key, level int) bool {
		p.transition(k, level, p.haveTicketFor(level), level <= viewDistance)
		return true
	})
	p.viewDistance = viewDistance
}

func (p *playerTicketTracker) transition(k chunk.Key, level int, had, has bool) {
	if had == has {
		return
	}
	if has {
		g := pendingGrant{key: k, level: level}
		p.m.throttler.Submit(func() {
			p.m.mainThread.Execute(func() { g.apply(p.m) })
		}, k, func() int { return g.level })
		return
	}
	r := pendingRelease{key: k}
	p.m.throttler.Release(k, func() {
		p.m.mainThread.Execute(func() { r.apply(p.m) })
	}, true)
}

// pendingGrant is a player ticket grant waiting in the throttler. It is
// re-validated when it reaches the tick goroutine.
type pendingGrant struct {
	key   chunk.Key
	level int
}

func (g pendingGrant) apply(m *Manager) {
	if m.players.haveTicketFor(m.players.Level(g.key)) {
		m.tickets.AddTicket(g.key, playerTicket())
		m.ticketsToRelease[g.key] = struct{}{}
		return
	}
	m.throttler.Release(g.key, nil, false)
}

// pendingRelease removes a player ticket once the throttler let go of its key.
type pendingRelease struct {
	key chunk.Key
}

func (r pendingRelease) apply(m *Manager) {
	m.tickets.RemoveTicket(r.key, playerTicket())
}
