package chunkmap

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
	"github.com/cory-johannsen/chunkmap/internal/distance"
)

// ErrUnloaded completes status futures whose chunk dropped below the status
// before reaching it.
var ErrUnloaded = errors.New("chunk unloaded")

// bands are the statuses a holder exposes futures for, weakest first.
var bands = [...]chunk.FullStatus{chunk.Full, chunk.BlockTicking, chunk.EntityTicking}

type statusFuture struct {
	future *chunk.Future[struct{}]
	live   bool
}

func unloadedFuture() *chunk.Future[struct{}] {
	f := chunk.NewFuture[struct{}]()
	f.Complete(struct{}{}, ErrUnloaded)
	return f
}

// Holder is the lifecycle state of one scheduled chunk.
//
// Concurrency: Holder is owned by the tick goroutine. Load completions are
// marshalled onto it before they touch the holder.
type Holder struct {
	m           *Map
	pos         chunk.Pos
	ticketLevel int

	loadAllowed bool
	allowed     chunk.FullStatus

	loading bool
	data    *Chunk
	loadErr error

	futures [len(bands)]statusFuture
}

func newHolder(m *Map, pos chunk.Pos, level int) *Holder {
	h := &Holder{m: m, pos: pos, ticketLevel: level}
	for i := range h.futures {
		h.futures[i].future = unloadedFuture()
	}
	return h
}

// Pos returns the chunk position.
func (h *Holder) Pos() chunk.Pos { return h.pos }

// TicketLevel returns the loading level the holder is scheduled at.
func (h *Holder) TicketLevel() int { return h.ticketLevel }

// AllowedStatus returns the status the last UpdateHighestAllowedStatus
// committed.
func (h *Holder) AllowedStatus() chunk.FullStatus { return h.allowed }

// Chunk returns the loaded chunk data, or nil.
func (h *Holder) Chunk() *Chunk { return h.data }

// Status returns the highest status whose future completed successfully.
func (h *Holder) Status() chunk.FullStatus {
	status := chunk.Inaccessible
	for i, b := range bands {
		f := h.futures[i]
		if !f.live || !f.future.IsDone() || h.data == nil {
			break
		}
		status = b
	}
	return status
}

// UpdateHighestAllowedStatus commits the status the ticket level allows.
func (h *Holder) UpdateHighestAllowedStatus(distance.ChunkScheduler) {
	h.loadAllowed = chunk.IsLoaded(h.ticketLevel)
	h.allowed = chunk.FullStatusOf(h.ticketLevel)
}

// UpdateFutures starts the load when the chunk may be loaded and promotes or
// demotes the status futures toward the allowed status. Ticking statuses also
// require every neighbour to allow Full.
func (h *Holder) UpdateFutures(_ distance.ChunkScheduler, mainThread dispatch.Executor) {
	if h.loadAllowed && !h.loading && h.data == nil {
		h.startLoad(mainThread)
	}
	target := chunk.Inaccessible
	if h.loadAllowed {
		target = h.allowed
		if target.IsOrAfter(chunk.BlockTicking) && !h.m.neighboursAllow(h.pos, chunk.Full) {
			target = chunk.Full
		}
	}
	if target != h.allowed && h.loadAllowed {
		h.m.capped[h.pos.Key()] = h
	} else {
		delete(h.m.capped, h.pos.Key())
	}
	for i, b := range bands {
		if target.IsOrAfter(b) {
			h.promote(i)
		} else {
			h.demote(i)
		}
	}
}

// EntityTickingFuture completes once the chunk is loaded and entity ticking,
// or with ErrUnloaded when the chunk drops below entity ticking first.
func (h *Holder) EntityTickingFuture() *chunk.Future[struct{}] {
	return h.futures[2].future
}

// FullFuture completes once the chunk is loaded and accessible.
func (h *Holder) FullFuture() *chunk.Future[struct{}] {
	return h.futures[0].future
}

func (h *Holder) promote(i int) {
	f := &h.futures[i]
	if f.live {
		return
	}
	f.future = chunk.NewFuture[struct{}]()
	f.live = true
	switch {
	case h.data != nil:
		f.future.Complete(struct{}{}, nil)
	case h.loadErr != nil:
		f.future.Complete(struct{}{}, h.loadErr)
	}
}

func (h *Holder) demote(i int) {
	f := &h.futures[i]
	if !f.live {
		return
	}
	f.future.Complete(struct{}{}, ErrUnloaded)
	f.future = unloadedFuture()
	f.live = false
}

func (h *Holder) demoteAll() {
	for i := range h.futures {
		h.demote(i)
	}
}

func (h *Holder) startLoad(mainThread dispatch.Executor) {
	h.loading = true
	h.loadErr = nil
	pos := h.pos
	h.m.background.Execute(func() {
		c, err := h.m.loader.Load(h.m.ctx, pos)
		mainThread.Execute(func() { h.onLoaded(c, err) })
	})
}

func (h *Holder) onLoaded(c *Chunk, err error) {
	h.loading = false
	if h.m.holders[h.pos.Key()] != h {
		h.m.logger.Debug("discarding load of dropped chunk", zap.Stringer("chunk", h.pos))
		return
	}
	if err != nil {
		h.loadErr = err
		h.m.logger.Error("loading chunk", zap.Stringer("chunk", h.pos), zap.Error(err))
	} else {
		h.data = c
		h.m.loaded++
	}
	for i := range h.futures {
		if f := h.futures[i]; f.live {
			f.future.Complete(struct{}{}, err)
		}
	}
}
