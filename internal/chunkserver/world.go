// Package chunkserver assembles one world: the distance manager, the chunk
// map it schedules, the main thread mailbox and the background load pool, and
// drives them from a fixed-rate tick loop.
package chunkserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chunkmap/internal/chunkmap"
	"github.com/cory-johannsen/chunkmap/internal/config"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
	"github.com/cory-johannsen/chunkmap/internal/distance"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

// Options configures a World.
type Options struct {
	// Name identifies the world's tickets in Store.
	Name     string
	Distance config.DistanceConfig
	// Loader produces chunk data; nil loads empty chunks.
	Loader chunkmap.Loader
	// Registry resolves persisted ticket type names; nil uses the built-in types.
	Registry *ticket.Registry
	// Store persists tickets between runs; nil disables persistence.
	Store ticket.Store
	// AutosaveEvery saves dirty tickets every that many ticks; 0 disables.
	AutosaveEvery int
	Logger        *zap.Logger
}

// World owns the chunk state of one dimension.
//
// Concurrency: Tick, Save and the fields' methods run on the tick goroutine.
// Other goroutines reach the world through Main.Call.
type World struct {
	Main     *dispatch.MainThread
	Chunks   *chunkmap.Map
	Distance *distance.Manager

	name          string
	logger        *zap.Logger
	pool          *dispatch.Pool
	registry      *ticket.Registry
	store         ticket.Store
	autosaveEvery int
	ticks         int
	cancel        context.CancelFunc
}

// NewWorld builds a world with no players and no tickets.
//
// Precondition: opts.Name must be non-empty; opts.Distance must be valid.
func NewWorld(ctx context.Context, opts Options) *World {
	if opts.Name == "" {
		panic("chunkserver.NewWorld: name must be non-empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("world", opts.Name))
	loader := opts.Loader
	if loader == nil {
		loader = chunkmap.EmptyLoader
	}
	registry := opts.Registry
	if registry == nil {
		registry = ticket.NewRegistry()
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &World{
		Main:          dispatch.NewMainThread(),
		name:          opts.Name,
		logger:        logger,
		pool:          dispatch.NewPool(opts.Distance.WorkerLimit, logger),
		registry:      registry,
		store:         opts.Store,
		autosaveEvery: opts.AutosaveEvery,
		cancel:        cancel,
	}
	w.Chunks = chunkmap.NewMap(ctx, loader, w.pool, logger)
	w.Distance = distance.NewManager(distance.Options{
		Scheduler:          w.Chunks,
		MainThread:         w.Main,
		ThrottleLimit:      opts.Distance.ThrottleLimit,
		ViewDistance:       opts.Distance.ViewDistance,
		SimulationDistance: opts.Distance.SimulationDistance,
		LoadingBudget:      opts.Distance.LoadingBudget,
		Logger:             logger,
	})
	return w
}

// Name returns the world name.
func (w *World) Name() string { return w.name }

// Restore loads the world's persisted tickets from the store. A world that
// was never saved restores nothing.
//
// Precondition: called before the first Tick.
// Postcondition: Returns the number of tickets added.
func (w *World) Restore(ctx context.Context) (int, error) {
	if w.store == nil {
		return 0, nil
	}
	saved, err := w.store.LoadTickets(ctx, w.name)
	if errors.Is(err, ticket.ErrNoSavedTickets) {
		w.logger.Info("no saved tickets")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading tickets of %s: %w", w.name, err)
	}
	n, err := w.Distance.Tickets().Restore(w.registry, saved)
	if err != nil {
		return n, err
	}
	w.Distance.Tickets().MarkSaved()
	w.logger.Info("tickets restored", zap.Int("count", n))
	return n, nil
}

// Save writes the persistent tickets when they changed since the last save.
func (w *World) Save(ctx context.Context) error {
	tickets := w.Distance.Tickets()
	if w.store == nil || !tickets.Dirty() {
		return nil
	}
	persistent := tickets.Persistent()
	if err := w.store.SaveTickets(ctx, w.name, persistent); err != nil {
		return fmt.Errorf("saving tickets of %s: %w", w.name, err)
	}
	tickets.MarkSaved()
	w.logger.Debug("tickets saved", zap.Int("count", len(persistent)))
	return nil
}

// Tick runs one server tick: queued main thread work, ticket timers, the
// distance manager, chunk unloads and the periodic autosave. Unloads wait
// while a budgeted loading tracker still has queued keys.
//
// Postcondition: A non-nil error means the world is inconsistent and must
// stop ticking.
func (w *World) Tick() error {
	w.Main.RunPending()
	w.Distance.PurgeStaleTickets()
	if _, err := w.Distance.RunAllUpdates(w.Chunks); err != nil {
		return err
	}
	w.Main.RunPending()
	if !w.Distance.HasLoadingWork() {
		w.Chunks.ProcessUnloads()
		w.Chunks.RecheckCapped(w.Main)
	}

	w.ticks++
	if w.autosaveEvery > 0 && w.ticks%w.autosaveEvery == 0 {
		if err := w.Save(context.Background()); err != nil {
			w.logger.Error("autosave failed", zap.Error(err))
		}
	}
	return nil
}

// Ticks returns the number of ticks run.
func (w *World) Ticks() int { return w.ticks }

// Attach registers the world's tick on loop.
func (w *World) Attach(loop *TickLoop) {
	loop.RegisterPhase(w.name, w.Tick)
}

// Close saves the tickets, parks them as deactivated and stops background
// work. The world must not tick afterwards.
func (w *World) Close(ctx context.Context) error {
	w.Main.RunPending()
	saveErr := w.Save(ctx)
	parked := w.Distance.Tickets().DeactivateTicketsOnClosing()
	w.logger.Info("world closed", zap.Int("deactivated_tickets", parked))
	w.Distance.Close()
	w.cancel()
	return errors.Join(saveErr, w.pool.Close())
}
