// Package changefeed maintains a postgres mirror of the upstream change
// feed. It backs the two operations the REST API does not expose directly:
// deleting a task and creating a calendar event. The mirror is optional —
// when its connection parameters are unset the dependent tools report a
// configuration error instead of failing at startup.
package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marvinmcp/pkg/logging"
)

// Mirror is a handle to the change-feed database.
type Mirror struct {
	pool *pgxpool.Pool
}

// Config holds the connection parameters for the mirror database.
type Config struct {
	Host     string
	Database string
	User     string
	Password string
}

// Connect opens a connection pool to the mirror database and verifies it.
func Connect(ctx context.Context, cfg Config) (*Mirror, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", cfg.User, cfg.Password, cfg.Host, cfg.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create change-feed pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach change-feed database at %s: %w", cfg.Host, err)
	}
	logging.Info("ChangeFeed", "Connected to change-feed database %s on %s", cfg.Database, cfg.Host)
	return &Mirror{pool: pool}, nil
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	m.pool.Close()
}

// DeleteTask records a deletion in the change feed. The upstream sync worker
// picks the row up and removes the document.
func (m *Mirror) DeleteTask(ctx context.Context, itemID string) error {
	if itemID == "" {
		return fmt.Errorf("item id is required")
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO feed_events (event_type, item_id, created_at) VALUES ('delete', $1, now())`,
		itemID)
	if err != nil {
		return fmt.Errorf("failed to record deletion for %s: %w", itemID, err)
	}
	return nil
}

// CreateCalendarEvent records a new calendar event in the change feed.
func (m *Mirror) CreateCalendarEvent(ctx context.Context, title, start string, durationMinutes int) error {
	if title == "" {
		return fmt.Errorf("event title is required")
	}
	if start == "" {
		return fmt.Errorf("event start time is required")
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO feed_events (event_type, payload, created_at)
		 VALUES ('calendar_event', jsonb_build_object('title', $1, 'start', $2, 'duration_minutes', $3), now())`,
		title, start, durationMinutes)
	if err != nil {
		return fmt.Errorf("failed to record calendar event %q: %w", title, err)
	}
	return nil
}
