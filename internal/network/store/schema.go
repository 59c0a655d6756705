package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// groupTables maps each attribute dimension to its segment table.
var groupTables = map[string]string{
	"responsibility": "edge_responsibility_segments",
	"direction":      "edge_direction_segments",
	"speed":          "edge_speed_segments",
	"way_form":       "edge_way_form_segments",
}

// EnsureSchema creates every table and index the engine needs. Statements
// are idempotent and safe to run at every start.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS network_nodes (
			id BIGSERIAL PRIMARY KEY,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			form TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_network_nodes_xy ON network_nodes(x, y)`,
		`CREATE TABLE IF NOT EXISTS network_edges (
			id BIGSERIAL PRIMARY KEY,
			geometry BYTEA NOT NULL,
			min_x DOUBLE PRECISION NOT NULL,
			min_y DOUBLE PRECISION NOT NULL,
			max_x DOUBLE PRECISION NOT NULL,
			max_y DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			start_node BIGINT NOT NULL REFERENCES network_nodes(id),
			end_node BIGINT NOT NULL REFERENCES network_nodes(id),
			base_network BOOLEAN NOT NULL DEFAULT TRUE,
			version INT NOT NULL DEFAULT 1,
			street_name TEXT NOT NULL DEFAULT '',
			street_number TEXT NOT NULL DEFAULT '',
			surface TEXT NOT NULL DEFAULT '',
			lighting TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_network_edges_bbox ON network_edges(min_x, max_x, min_y, max_y)`,
		`CREATE INDEX IF NOT EXISTS idx_network_edges_start ON network_edges(start_node)`,
		`CREATE INDEX IF NOT EXISTS idx_network_edges_end ON network_edges(end_node)`,
		`CREATE TABLE IF NOT EXISTS feature_edge_mappings (
			feature_id TEXT NOT NULL,
			seq INT NOT NULL,
			edge_id BIGINT NOT NULL,
			PRIMARY KEY (feature_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feature_edge_mappings_edge ON feature_edge_mappings(edge_id)`,
		`CREATE TABLE IF NOT EXISTS network_outbox (
			id UUID PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_network_outbox_pending ON network_outbox(created_at) WHERE published_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS network_anomalies (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			feature_id TEXT,
			edge_id BIGINT,
			node_id BIGINT,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, dim := range []string{"responsibility", "direction", "speed", "way_form"} {
		table := groupTables[dim]
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			edge_id BIGINT NOT NULL REFERENCES network_edges(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			from_pos DOUBLE PRECISION NOT NULL,
			to_pos DOUBLE PRECISION NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (edge_id, seq)
		)`, table))
	}

	for i, s := range stmts {
		logger.DebugContext(ctx, "schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.DebugContext(ctx, "schema_done")
	return nil
}
