package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "basenet/pkg/platform/tx"
)

// PostgresOutbox stores events in network_outbox. Append joins the
// transaction carried by ctx, so events commit with the graph change.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

func (o *PostgresOutbox) Append(ctx context.Context, e Event) error {
	return AppendOutbox(ctx, txcontext.ExecutorFrom(ctx, o.db), e)
}

// AppendOutbox inserts e through exec, typically the partition transaction.
func AppendOutbox(ctx context.Context, exec txcontext.Executor, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	query := `
		INSERT INTO network_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = exec.ExecContext(ctx, query,
		e.ID,
		e.AggregateID(),
		string(e.Type),
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT payload FROM network_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode outbox entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

func (o *PostgresOutbox) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	_, err := o.db.ExecContext(ctx,
		`UPDATE network_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
		time.Now(), pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
