// Package debugrpc exposes a world's distance manager over gRPC for operators
// and load tests. Messages are well-known protobuf types, so the service needs
// no generated code. Every call runs on the world's tick goroutine through
// the main thread mailbox.
package debugrpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/chunkserver"
	"github.com/cory-johannsen/chunkmap/internal/distance"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chunkmap.debug.v1.ChunkDebug"

// ChunkDebugServer is the server API of the debug service.
type ChunkDebugServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Chunk(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddPlayer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemovePlayer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MovePlayer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetViewDistance(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetSimulationDistance(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ForceChunk(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements ChunkDebugServer against one world.
type Server struct {
	world           *chunkserver.World
	maxViewDistance int
	logger          *zap.Logger
}

// NewServer returns a Server for w. View distance changes are capped at
// maxViewDistance.
//
// Precondition: w must be non-nil; 0 <= maxViewDistance <= distance.MaxViewDistance.
func NewServer(w *chunkserver.World, maxViewDistance int, logger *zap.Logger) *Server {
	if w == nil {
		panic("debugrpc.NewServer: world must be non-nil")
	}
	if maxViewDistance < 0 || maxViewDistance > distance.MaxViewDistance {
		panic(fmt.Sprintf("debugrpc.NewServer: max view distance %d out of range", maxViewDistance))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{world: w, maxViewDistance: maxViewDistance, logger: logger}
}

// Register adds s to a gRPC server.
func Register(gs grpc.ServiceRegistrar, s ChunkDebugServer) {
	gs.RegisterService(&ServiceDesc, s)
}

// call runs fn on the tick goroutine.
func (s *Server) call(ctx context.Context, fn func() error) error {
	err := s.world.Main.Call(ctx, fn)
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// Status reports world wide counters.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var fields map[string]any
	err := s.call(ctx, func() error {
		m := s.world.Distance
		fields = map[string]any{
			"world":               s.world.Name(),
			"ticks":               s.world.Ticks(),
			"players":             m.PlayerCount(),
			"view_distance":       m.ViewDistance(),
			"simulation_distance": m.SimulationDistance(),
			"throttler":           m.DebugStatus(),
			"holders":             s.world.Chunks.Len(),
			"loaded":              s.world.Chunks.LoadedCount(),
			"spawn_chunks":        m.NaturalSpawnChunkCount(),
			"force_loaded":        len(m.Tickets().ForceLoadedChunks()),
			"loading_work":        m.HasLoadingWork(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// Chunk reports the levels, tickets and status of the chunk at x, z.
func (s *Server) Chunk(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pos, err := posArg(in)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	err = s.call(ctx, func() error {
		m := s.world.Distance
		holderStatus := "unloaded"
		if h := s.world.Chunks.HolderAt(pos); h != nil {
			holderStatus = h.Status().String()
		}
		fields = map[string]any{
			"chunk":            pos.String(),
			"loading_level":    m.ChunkLevel(pos, false),
			"simulation_level": m.ChunkLevel(pos, true),
			"player_proximity": m.PlayerProximity(pos),
			"entity_ticking":   m.InEntityTickingRange(pos),
			"block_ticking":    m.InBlockTickingRange(pos),
			"players_nearby":   m.HasPlayersNearby(pos).String(),
			"status":           holderStatus,
			"tickets":          m.TicketDebugString(pos),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// AddPlayer registers an observer at x, z. A missing id gets a fresh one.
func (s *Server) AddPlayer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pos, err := posArg(in)
	if err != nil {
		return nil, err
	}
	id, err := idArg(in, true)
	if err != nil {
		return nil, err
	}
	var added bool
	if err := s.call(ctx, func() error {
		added = s.world.Distance.AddPlayer(pos, id)
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger.Debug("debug player added", zap.Stringer("chunk", pos), zap.Stringer("observer", id), zap.Bool("added", added))
	return structpb.NewStruct(map[string]any{"id": id.String(), "added": added})
}

// RemovePlayer unregisters the observer id at x, z.
func (s *Server) RemovePlayer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pos, err := posArg(in)
	if err != nil {
		return nil, err
	}
	id, err := idArg(in, false)
	if err != nil {
		return nil, err
	}
	var removed bool
	if err := s.call(ctx, func() error {
		removed = s.world.Distance.RemovePlayer(pos, id)
		return nil
	}); err != nil {
		return nil, err
	}
	if !removed {
		return nil, status.Errorf(codes.NotFound, "player %s not at %s", id, pos)
	}
	return structpb.NewStruct(map[string]any{"id": id.String(), "removed": true})
}

// MovePlayer moves the observer id from from_x, from_z to x, z.
func (s *Server) MovePlayer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	to, err := posArg(in)
	if err != nil {
		return nil, err
	}
	fx, err := intArg(in, "from_x", math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	fz, err := intArg(in, "from_z", math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	from := chunk.NewPos(int32(fx), int32(fz))
	id, err := idArg(in, false)
	if err != nil {
		return nil, err
	}
	if err := s.call(ctx, func() error {
		if !s.world.Distance.RemovePlayer(from, id) {
			return status.Errorf(codes.NotFound, "player %s not at %s", id, from)
		}
		s.world.Distance.AddPlayer(to, id)
		return nil
	}); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"id": id.String(), "chunk": to.String()})
}

// SetViewDistance changes the player ticket radius.
func (s *Server) SetViewDistance(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	d, err := intArg(in, "view_distance", 0, s.maxViewDistance)
	if err != nil {
		return nil, err
	}
	if err := s.call(ctx, func() error {
		s.world.Distance.UpdatePlayerTickets(d)
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger.Info("view distance updated", zap.Int("view_distance", d))
	return &emptypb.Empty{}, nil
}

// SetSimulationDistance changes the player simulation radius.
func (s *Server) SetSimulationDistance(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	d, err := intArg(in, "simulation_distance", 0, distance.PlayerTicketLevel)
	if err != nil {
		return nil, err
	}
	if err := s.call(ctx, func() error {
		s.world.Distance.UpdateSimulationDistance(d)
		return nil
	}); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// ForceChunk adds or removes the force-load ticket at x, z.
func (s *Server) ForceChunk(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pos, err := posArg(in)
	if err != nil {
		return nil, err
	}
	forced := true
	if v, ok := in.GetFields()["forced"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return nil, status.Error(codes.InvalidArgument, "forced must be a bool")
		}
		forced = b.BoolValue
	}
	var changed bool
	if err := s.call(ctx, func() error {
		changed = s.world.Distance.UpdateChunkForced(pos, forced)
		return nil
	}); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"chunk": pos.String(), "forced": forced, "changed": changed})
}

func posArg(in *structpb.Struct) (chunk.Pos, error) {
	x, err := intArg(in, "x", math.MinInt32, math.MaxInt32)
	if err != nil {
		return chunk.Pos{}, err
	}
	z, err := intArg(in, "z", math.MinInt32, math.MaxInt32)
	if err != nil {
		return chunk.Pos{}, err
	}
	return chunk.NewPos(int32(x), int32(z)), nil
}

func intArg(in *structpb.Struct, name string, lo, hi int) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f < float64(lo) || f > float64(hi) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer in [%d, %d], got %v", name, lo, hi, f)
	}
	return int(f), nil
}

func idArg(in *structpb.Struct, optional bool) (uuid.UUID, error) {
	v, ok := in.GetFields()["id"]
	if !ok {
		if optional {
			return uuid.New(), nil
		}
		return uuid.Nil, status.Error(codes.InvalidArgument, "id is required")
	}
	id, err := uuid.Parse(v.GetStringValue())
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "id: %v", err)
	}
	return id, nil
}
