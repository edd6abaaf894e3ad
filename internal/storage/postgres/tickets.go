package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

// ErrTicketsNotFound is returned when a world has never been saved.
var ErrTicketsNotFound = fmt.Errorf("tickets not found: %w", ticket.ErrNoSavedTickets)

// TicketRepository stores the persistent tickets of each world.
//
// Invariant: a world row exists exactly when the world was saved at least
// once, so an empty save is distinguishable from no save.
type TicketRepository struct {
	db *pgxpool.Pool
}

// NewTicketRepository creates a TicketRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTicketRepository(db *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{db: db}
}

// SaveTickets replaces the stored tickets of world with tickets in one
// transaction.
//
// Precondition: world must be non-empty.
// Postcondition: LoadTickets(world) returns tickets in key order.
func (r *TicketRepository) SaveTickets(ctx context.Context, world string, tickets []ticket.Persisted) error {
	if world == "" {
		return errors.New("saving tickets: world must not be empty")
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunk_ticket_worlds (world, saved_at)
			 VALUES ($1, $2)
			 ON CONFLICT (world) DO UPDATE SET saved_at = EXCLUDED.saved_at`,
			world, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("upserting world %s: %w", world, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunk_tickets WHERE world = $1`, world); err != nil {
			return fmt.Errorf("clearing tickets of %s: %w", world, err)
		}
		if len(tickets) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"chunk_tickets"},
			[]string{"world", "x", "z", "type", "level", "ticks_left"},
			pgx.CopyFromSlice(len(tickets), func(i int) ([]any, error) {
				t := tickets[i]
				return []any{world, t.Pos.X, t.Pos.Z, t.Type, int16(t.Level), t.TicksLeft}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying %d tickets of %s: %w", len(tickets), world, err)
		}
		return nil
	})
}

// LoadTickets returns the stored tickets of world ordered by x, z, type and
// level.
//
// Postcondition: Returns ErrTicketsNotFound if world was never saved.
func (r *TicketRepository) LoadTickets(ctx context.Context, world string) ([]ticket.Persisted, error) {
	var savedAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT saved_at FROM chunk_ticket_worlds WHERE world = $1`, world,
	).Scan(&savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketsNotFound
		}
		return nil, fmt.Errorf("querying world %s: %w", world, err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT x, z, type, level, ticks_left
		 FROM chunk_tickets WHERE world = $1
		 ORDER BY x, z, type, level`,
		world,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tickets of %s: %w", world, err)
	}
	defer rows.Close()

	var out []ticket.Persisted
	for rows.Next() {
		var (
			x, z  int32
			typ   string
			level int16
			ticks int64
		)
		if err := rows.Scan(&x, &z, &typ, &level, &ticks); err != nil {
			return nil, fmt.Errorf("scanning ticket of %s: %w", world, err)
		}
		out = append(out, ticket.Persisted{Pos: chunk.NewPos(x, z), Type: typ, Level: int(level), TicksLeft: ticks})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tickets of %s: %w", world, err)
	}
	return out, nil
}

// DeleteWorld removes every stored ticket of world.
//
// Postcondition: LoadTickets(world) returns ErrTicketsNotFound.
func (r *TicketRepository) DeleteWorld(ctx context.Context, world string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunk_tickets WHERE world = $1`, world); err != nil {
			return fmt.Errorf("deleting tickets of %s: %w", world, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunk_ticket_worlds WHERE world = $1`, world); err != nil {
			return fmt.Errorf("deleting world %s: %w", world, err)
		}
		return nil
	})
}
