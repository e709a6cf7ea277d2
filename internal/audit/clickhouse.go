package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	createEventsTable = `
		CREATE TABLE IF NOT EXISTS file_events (
			processing_key String,
			object_key String,
			state LowCardinality(String),
			detail String,
			recorded_at DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree
		ORDER BY (processing_key, recorded_at)`

	insertEvent = `INSERT INTO file_events (processing_key, object_key, state, detail, recorded_at)`

	selectHistory = `
		SELECT processing_key, object_key, state, detail, recorded_at
		FROM file_events
		WHERE processing_key = @processing_key
		ORDER BY recorded_at`
)

type ClickHouse struct {
	conn driver.Conn
}

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// NewClickHouse opens and pings a ClickHouse connection.
func NewClickHouse(ctx context.Context, cfg Config, logger *slog.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
		Settings: clickhouse.Settings{
			"max_execution_time": 15,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create file_events: %w", err)
	}
	return nil
}

// Record appends one event. A zero RecordedAt is stamped with the current time.
func (c *ClickHouse) Record(ctx context.Context, e Event) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	batch, err := c.conn.PrepareBatch(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare file event: %w", err)
	}
	if err := batch.Append(e.ProcessingKey, e.ObjectKey, e.State, e.Detail, e.RecordedAt); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("append file event: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send file event: %w", err)
	}
	return nil
}

// History returns every event recorded for a processing key, oldest first.
func (c *ClickHouse) History(ctx context.Context, processingKey string) ([]Event, error) {
	rows, err := c.conn.Query(ctx, selectHistory, clickhouse.Named("processing_key", processingKey))
	if err != nil {
		return nil, fmt.Errorf("query file events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ProcessingKey, &e.ObjectKey, &e.State, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan file event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file events: %w", err)
	}
	return events, nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
