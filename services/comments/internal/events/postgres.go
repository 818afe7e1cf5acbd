package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

// PostgresLookup reads the local events table.
type PostgresLookup struct {
	pool *pgxpool.Pool
}

func NewPostgresLookup(pool *pgxpool.Pool) *PostgresLookup {
	return &PostgresLookup{pool: pool}
}

func (l *PostgresLookup) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var ev domain.Event
	err := l.pool.QueryRow(ctx, `SELECT id, title FROM events WHERE id = $1`, eventID).
		Scan(&ev.ID, &ev.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, errEventNotFound(eventID)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("lookup event: %w", err)
	}
	return ev, nil
}
