// Package chunkmap is the chunk lifecycle owner driven by the distance
// manager. It creates a holder for every key whose loading level is in the
// loaded range, loads chunk data on a background executor and drops holders
// whose level left the range.
package chunkmap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
	"github.com/cory-johannsen/chunkmap/internal/distance"
)

// Chunk is the data of one loaded chunk.
type Chunk struct {
	Pos  chunk.Pos
	Data []byte
}

// Loader produces chunk data. Load runs on a background goroutine.
type Loader interface {
	Load(ctx context.Context, pos chunk.Pos) (*Chunk, error)
}

// Saver is implemented by loaders that persist chunks when they unload.
type Saver interface {
	Save(ctx context.Context, c *Chunk) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, pos chunk.Pos) (*Chunk, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, pos chunk.Pos) (*Chunk, error) { return f(ctx, pos) }

// EmptyLoader produces chunks without data.
var EmptyLoader = LoaderFunc(func(_ context.Context, pos chunk.Pos) (*Chunk, error) {
	return &Chunk{Pos: pos}, nil
})

// Map implements distance.ChunkScheduler.
//
// Concurrency: Map is owned by the tick goroutine.
type Map struct {
	ctx        context.Context
	logger     *zap.Logger
	loader     Loader
	background dispatch.Executor

	holders map[chunk.Key]*Holder
	toDrop  map[chunk.Key]struct{}
	capped  map[chunk.Key]*Holder
	loaded  int
}

// NewMap returns an empty Map loading chunks with loader on background.
// Loads observe ctx.
//
// Precondition: loader and background must be non-nil.
func NewMap(ctx context.Context, loader Loader, background dispatch.Executor, logger *zap.Logger) *Map {
	if loader == nil || background == nil {
		panic("chunkmap.NewMap: loader and background executor must be non-nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Map{
		ctx:        ctx,
		logger:     logger,
		loader:     loader,
		background: background,
		holders:    make(map[chunk.Key]*Holder),
		toDrop:     make(map[chunk.Key]struct{}),
		capped:     make(map[chunk.Key]*Holder),
	}
}

// Holder implements distance.ChunkScheduler.
func (m *Map) Holder(k chunk.Key) distance.Holder {
	if h, ok := m.holders[k]; ok {
		return h
	}
	return nil
}

// HolderAt returns the concrete holder at pos, or nil.
func (m *Map) HolderAt(pos chunk.Pos) *Holder {
	return m.holders[pos.Key()]
}

// IsChunkToRemove implements distance.ChunkScheduler.
func (m *Map) IsChunkToRemove(k chunk.Key) bool {
	_, ok := m.toDrop[k]
	return ok
}

// UpdateChunkScheduling implements distance.ChunkScheduler.
func (m *Map) UpdateChunkScheduling(k chunk.Key, newLevel int, holder distance.Holder, oldLevel int) distance.Holder {
	if !chunk.IsLoaded(oldLevel) && !chunk.IsLoaded(newLevel) {
		return holder
	}
	var h *Holder
	if holder != nil {
		var ok bool
		if h, ok = holder.(*Holder); !ok {
			panic(fmt.Sprintf("chunkmap.Map.UpdateChunkScheduling: foreign holder %T at %s", holder, k))
		}
		h.ticketLevel = newLevel
		if chunk.IsLoaded(newLevel) {
			delete(m.toDrop, k)
		} else {
			m.toDrop[k] = struct{}{}
		}
	}
	if h == nil {
		h = newHolder(m, k.Pos(), newLevel)
		m.holders[k] = h
		m.logger.Debug("chunk scheduled", zap.Stringer("chunk", h.pos), zap.Int("level", newLevel))
	}
	return h
}

// ProcessUnloads drops every holder queued for removal, failing its pending
// futures and saving its data when the loader can save. It returns the number
// of holders dropped.
func (m *Map) ProcessUnloads() int {
	n := 0
	for k := range m.toDrop {
		h := m.holders[k]
		delete(m.toDrop, k)
		if h == nil || chunk.IsLoaded(h.ticketLevel) {
			continue
		}
		delete(m.holders, k)
		delete(m.capped, k)
		h.demoteAll()
		n++
		if h.data == nil {
			continue
		}
		m.loaded--
		if saver, ok := m.loader.(Saver); ok {
			c := h.data
			m.background.Execute(func() {
				if err := saver.Save(m.ctx, c); err != nil {
					m.logger.Error("saving chunk", zap.Stringer("chunk", c.Pos), zap.Error(err))
				}
			})
		}
	}
	if n > 0 {
		m.logger.Debug("chunks unloaded", zap.Int("count", n))
	}
	return n
}

// RecheckCapped re-runs the futures update of every holder held below its
// allowed status by a neighbour and returns how many were rechecked.
func (m *Map) RecheckCapped(mainThread dispatch.Executor) int {
	if len(m.capped) == 0 {
		return 0
	}
	held := make([]*Holder, 0, len(m.capped))
	for _, h := range m.capped {
		held = append(held, h)
	}
	for _, h := range held {
		h.UpdateFutures(m, mainThread)
	}
	return len(held)
}

// Len returns the number of holders.
func (m *Map) Len() int {
	return len(m.holders)
}

// LoadedCount returns the number of holders with chunk data.
func (m *Map) LoadedCount() int {
	return m.loaded
}

func (m *Map) neighboursAllow(pos chunk.Pos, status chunk.FullStatus) bool {
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			if dx == 0 && dz == 0 {
				continue
			}
			n, ok := m.holders[pos.Offset(dx, dz).Key()]
			if !ok || !n.loadAllowed || !n.allowed.IsOrAfter(status) {
				return false
			}
		}
	}
	return true
}
