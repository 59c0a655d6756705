// Package protocol records network anomalies ("Netzfehler") for manual
// review.
//
// Recording is fire-and-forget: sinks log their own failures and never
// return them, and writes happen outside the partition transaction so an
// anomaly survives a rollback of the work that found it.
package protocol

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"basenet/pkg/domain"
)

// Kind classifies an anomaly.
type Kind string

const (
	KindAmbiguousSplit     Kind = "ambiguous-split"
	KindSearchLoopExceeded Kind = "split-search-loop-exceeded"
	KindNoEndpointMatch    Kind = "no-endpoint-match"
	KindDistributionFailed Kind = "successor-distribution-failed"
	KindMergeCandidate     Kind = "merge-candidate"
	KindDegenerateGeometry Kind = "degenerate-geometry"
	KindUnmappable         Kind = "unmappable-feature"
	KindPartitionFailed    Kind = "partition-failed"
)

// Anomaly is one protocol entry.
type Anomaly struct {
	ID        uuid.UUID
	Kind      Kind
	FeatureID domain.FeatureID
	EdgeID    domain.EdgeID
	NodeID    domain.NodeID
	Location  orb.Point
	Detail    string
	At        time.Time
}

// New stamps an anomaly with an id and time.
func New(kind Kind, location orb.Point, detail string) Anomaly {
	return Anomaly{ID: uuid.New(), Kind: kind, Location: location, Detail: detail, At: time.Now().UTC()}
}

// Recorder is the write-only protocol port.
type Recorder interface {
	Record(ctx context.Context, a Anomaly)
}

// Discard drops every anomaly.
type Discard struct{}

func (Discard) Record(context.Context, Anomaly) {}

// Memory keeps anomalies for inspection in tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []Anomaly
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(_ context.Context, a Anomaly) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, a)
}

func (m *Memory) List() []Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Anomaly(nil), m.entries...)
}

// OfKind filters List by kind.
func (m *Memory) OfKind(k Kind) []Anomaly {
	var out []Anomaly
	for _, a := range m.List() {
		if a.Kind == k {
			out = append(out, a)
		}
	}
	return out
}

// Log writes anomalies as structured warnings.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Record(ctx context.Context, a Anomaly) {
	l.logger.WarnContext(ctx, "network anomaly",
		"kind", string(a.Kind),
		"feature_id", string(a.FeatureID),
		"edge_id", int64(a.EdgeID),
		"node_id", int64(a.NodeID),
		"x", a.Location[0],
		"y", a.Location[1],
		"detail", a.Detail,
	)
}

// Postgres appends anomalies to network_anomalies on its own connection.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Record(ctx context.Context, a Anomaly) {
	_, err := p.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO network_anomalies (id, kind, feature_id, edge_id, node_id, x, y, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		a.ID,
		string(a.Kind),
		nullString(string(a.FeatureID)),
		nullInt(int64(a.EdgeID)),
		nullInt(int64(a.NodeID)),
		a.Location[0],
		a.Location[1],
		a.Detail,
		a.At,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to record network anomaly",
			"kind", string(a.Kind),
			"error", err,
		)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// Multi fans out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, a Anomaly) {
	for _, r := range m {
		r.Record(ctx, a)
	}
}
