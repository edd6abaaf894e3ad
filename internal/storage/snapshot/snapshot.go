// Package snapshot persists chunk tickets in a zstd-compressed YAML file
// holding every world.
package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

// Version is the snapshot format written by this package.
const Version = 1

// ErrWorldNotFound is returned when the snapshot has no entry for a world.
var ErrWorldNotFound = fmt.Errorf("world not in snapshot: %w", ticket.ErrNoSavedTickets)

// File is the decoded snapshot.
type File struct {
	Version int              `yaml:"version"`
	Worlds  map[string]World `yaml:"worlds"`
}

// World is the saved ticket set of one world.
type World struct {
	SavedAt time.Time `yaml:"saved_at"`
	Tickets []Ticket  `yaml:"tickets"`
}

// Ticket is one saved ticket.
type Ticket struct {
	X         int32  `yaml:"x"`
	Z         int32  `yaml:"z"`
	Type      string `yaml:"type"`
	Level     int    `yaml:"level"`
	TicksLeft int64  `yaml:"ticks_left,omitempty"`
}

// Write encodes f to path, replacing any previous file atomically.
func Write(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encode(out *os.File, f File) error {
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	ye := yaml.NewEncoder(bw)
	if err := ye.Encode(f); err != nil {
		enc.Close()
		return fmt.Errorf("yaml encode: %w", err)
	}
	if err := ye.Close(); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes the snapshot at path.
func Read(path string) (File, error) {
	var f File
	in, err := os.Open(path)
	if err != nil {
		return f, err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return f, err
	}
	defer dec.Close()

	if err := yaml.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(&f); err != nil {
		return f, fmt.Errorf("yaml decode: %w", err)
	}
	if f.Version != Version {
		return f, fmt.Errorf("snapshot %s: unsupported version %d", path, f.Version)
	}
	return f, nil
}

// Store implements ticket.Store on a snapshot file.
//
// Concurrency: Store is safe for concurrent use within one process.
type Store struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewStore returns a Store backed by the file at path. The file is created
// on the first save.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// LoadTickets returns the saved tickets of world.
//
// Postcondition: Returns ErrWorldNotFound when the file or the world entry
// does not exist.
func (s *Store) LoadTickets(_ context.Context, world string) ([]ticket.Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	w, ok := f.Worlds[world]
	if !ok {
		return nil, ErrWorldNotFound
	}
	out := make([]ticket.Persisted, 0, len(w.Tickets))
	for _, t := range w.Tickets {
		out = append(out, ticket.Persisted{Pos: chunk.NewPos(t.X, t.Z), Type: t.Type, Level: t.Level, TicksLeft: t.TicksLeft})
	}
	return out, nil
}

// SaveTickets replaces the saved tickets of world, keeping other worlds.
func (s *Store) SaveTickets(_ context.Context, world string, tickets []ticket.Persisted) error {
	if world == "" {
		return errors.New("saving tickets: world must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	saved := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		saved = append(saved, Ticket{X: t.Pos.X, Z: t.Pos.Z, Type: t.Type, Level: t.Level, TicksLeft: t.TicksLeft})
	}
	f.Worlds[world] = World{SavedAt: s.now().UTC(), Tickets: saved}
	if err := Write(s.path, f); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", s.path, err)
	}
	return nil
}

// Worlds returns the saved world names in order.
func (s *Store) Worlds() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Worlds))
	for name := range f.Worlds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) read() (File, error) {
	f, err := Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return File{Version: Version, Worlds: map[string]World{}}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("reading snapshot %s: %w", s.path, err)
	}
	if f.Worlds == nil {
		f.Worlds = map[string]World{}
	}
	return f, nil
}
