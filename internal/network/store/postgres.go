package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
	txcontext "basenet/pkg/platform/tx"
)

// Postgres is the graph store on lib/pq. Geometry is stored as WKB with a
// bounding box for range queries; attribute groups live in one child table
// per dimension.
type Postgres struct {
	exec txcontext.Executor
}

// NewPostgres returns a store that autocommits every statement.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{exec: db}
}

func newPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{exec: tx}
}

const defaultPartitionTxTimeout = 10 * time.Minute

// PostgresTx runs a partition in one database transaction.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB, timeout time.Duration) *PostgresTx {
	return &PostgresTx{db: db, timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultPartitionTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("begin partition tx: %v: %w", err, sentinel.ErrUnavailable),
			dErrors.CodeUnavailable, "database unavailable")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(newPostgresTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit partition: %w", err)
	}
	return nil
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, sentinel.ErrNotFound)
	}
	return fmt.Errorf("find %s %v: %w", what, id, err)
}

func (p *Postgres) CreateNode(ctx context.Context, node *models.Node) error {
	err := p.exec.QueryRowContext(ctx,
		`INSERT INTO network_nodes (x, y, source, form) VALUES ($1, $2, $3, $4) RETURNING id`,
		node.Point[0], node.Point[1], string(node.Source), string(formOrUnknown(node.Form)),
	).Scan(&node.ID)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func formOrUnknown(f models.NodeForm) models.NodeForm {
	if f == "" {
		return models.NodeFormUnknown
	}
	return f
}

const nodeColumns = `id, x, y, source, form`

func scanNode(row interface{ Scan(...any) error }) (*models.Node, error) {
	var (
		n      models.Node
		source string
		form   string
	)
	if err := row.Scan(&n.ID, &n.Point[0], &n.Point[1], &source, &form); err != nil {
		return nil, err
	}
	n.Source = models.Source(source)
	n.Form = models.NodeForm(form)
	return &n, nil
}

func (p *Postgres) FindNode(ctx context.Context, id domain.NodeID) (*models.Node, error) {
	n, err := scanNode(p.exec.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM network_nodes WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "node", id)
	}
	return n, nil
}

func (p *Postgres) UpdateNode(ctx context.Context, node *models.Node) error {
	res, err := p.exec.ExecContext(ctx,
		`UPDATE network_nodes SET x = $2, y = $3, source = $4, form = $5 WHERE id = $1`,
		node.ID, node.Point[0], node.Point[1], string(node.Source), string(formOrUnknown(node.Form)))
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	return expectRow(res, "node", node.ID)
}

func (p *Postgres) DeleteNode(ctx context.Context, id domain.NodeID) error {
	res, err := p.exec.ExecContext(ctx, `DELETE FROM network_nodes WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("node %d still has edges: %w", id, sentinel.ErrInvalidState)
		}
		return fmt.Errorf("delete node: %w", err)
	}
	return expectRow(res, "node", id)
}

func (p *Postgres) NodesInBound(ctx context.Context, bound orb.Bound) ([]*models.Node, error) {
	rows, err := p.exec.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM network_nodes
		 WHERE x BETWEEN $1 AND $3 AND y BETWEEN $2 AND $4
		 ORDER BY id`,
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()
	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

func expectRow(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, sentinel.ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateEdge(ctx context.Context, edge *models.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	raw, err := wkb.Marshal(edge.Geometry)
	if err != nil {
		return fmt.Errorf("encode edge geometry: %w", err)
	}
	b := edge.Geometry.Bound()
	err = p.exec.QueryRowContext(ctx, `
		INSERT INTO network_edges (
			geometry, min_x, min_y, max_x, max_y, source, start_node, end_node,
			base_network, version, street_name, street_number, surface, lighting
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		raw, b.Min[0], b.Min[1], b.Max[0], b.Max[1], string(edge.Source), edge.StartNode, edge.EndNode,
		edge.BaseNetwork, edge.Version,
		edge.Attributes.StreetName, edge.Attributes.StreetNumber, edge.Attributes.Surface, edge.Attributes.Lighting,
	).Scan(&edge.ID)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return p.writeGroups(ctx, edge)
}

func (p *Postgres) UpdateEdge(ctx context.Context, edge *models.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	raw, err := wkb.Marshal(edge.Geometry)
	if err != nil {
		return fmt.Errorf("encode edge geometry: %w", err)
	}
	b := edge.Geometry.Bound()
	res, err := p.exec.ExecContext(ctx, `
		UPDATE network_edges SET
			geometry = $2, min_x = $3, min_y = $4, max_x = $5, max_y = $6, source = $7,
			start_node = $8, end_node = $9, base_network = $10, version = $11,
			street_name = $12, street_number = $13, surface = $14, lighting = $15
		WHERE id = $1
	`,
		edge.ID, raw, b.Min[0], b.Min[1], b.Max[0], b.Max[1], string(edge.Source),
		edge.StartNode, edge.EndNode, edge.BaseNetwork, edge.Version,
		edge.Attributes.StreetName, edge.Attributes.StreetNumber, edge.Attributes.Surface, edge.Attributes.Lighting,
	)
	if err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	if err := expectRow(res, "edge", edge.ID); err != nil {
		return err
	}
	return p.writeGroups(ctx, edge)
}

type segmentRow struct {
	from, to float64
	value    string
}

func rowsOf[V models.Value](g models.Group[V]) []segmentRow {
	out := make([]segmentRow, len(g.Segments))
	for i, s := range g.Segments {
		out[i] = segmentRow{from: s.Range.From, to: s.Range.To, value: string(s.Value)}
	}
	return out
}

func groupOf[V models.Value](rows []segmentRow) models.Group[V] {
	g := models.Group[V]{Segments: make([]models.Segment[V], len(rows))}
	for i, r := range rows {
		g.Segments[i] = models.Segment[V]{Range: models.LinearRange{From: r.from, To: r.to}, Value: V(r.value)}
	}
	return g
}

func groupRows(a models.AttributeGroups) map[string][]segmentRow {
	return map[string][]segmentRow{
		"responsibility": rowsOf(a.Responsibility),
		"direction":      rowsOf(a.Direction),
		"speed":          rowsOf(a.Speed),
		"way_form":       rowsOf(a.WayForm),
	}
}

// writeGroups replaces every segment row of edge.
func (p *Postgres) writeGroups(ctx context.Context, edge *models.Edge) error {
	for dim, rows := range groupRows(edge.Groups) {
		table := groupTables[dim]
		if _, err := p.exec.ExecContext(ctx, `DELETE FROM `+table+` WHERE edge_id = $1`, edge.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		for seq, r := range rows {
			_, err := p.exec.ExecContext(ctx,
				`INSERT INTO `+table+` (edge_id, seq, from_pos, to_pos, value) VALUES ($1, $2, $3, $4, $5)`,
				edge.ID, seq, r.from, r.to, r.value)
			if err != nil {
				return fmt.Errorf("insert %s: %w", table, err)
			}
		}
	}
	return nil
}

const edgeColumns = `id, geometry, source, start_node, end_node, base_network, version,
	street_name, street_number, surface, lighting`

func scanEdge(row interface{ Scan(...any) error }) (*models.Edge, error) {
	var (
		e      models.Edge
		raw    []byte
		source string
	)
	err := row.Scan(&e.ID, &raw, &source, &e.StartNode, &e.EndNode, &e.BaseNetwork, &e.Version,
		&e.Attributes.StreetName, &e.Attributes.StreetNumber, &e.Attributes.Surface, &e.Attributes.Lighting)
	if err != nil {
		return nil, err
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode edge %d geometry: %w", e.ID, err)
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("edge %d geometry is %s: %w", e.ID, g.GeoJSONType(), sentinel.ErrInvalidState)
	}
	e.Geometry = ls
	e.Source = models.Source(source)
	return &e, nil
}

func (p *Postgres) FindEdge(ctx context.Context, id domain.EdgeID) (*models.Edge, error) {
	e, err := scanEdge(p.exec.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM network_edges WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "edge", id)
	}
	if err := p.loadGroups(ctx, []*models.Edge{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Postgres) queryEdges(ctx context.Context, query string, args ...any) ([]*models.Edge, error) {
	rows, err := p.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()
	var out []*models.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	if err := p.loadGroups(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) EdgesInBound(ctx context.Context, bound orb.Bound) ([]*models.Edge, error) {
	return p.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM network_edges
		 WHERE max_x >= $1 AND min_x <= $3 AND max_y >= $2 AND min_y <= $4
		 ORDER BY id`,
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
}

func (p *Postgres) EdgesAtNode(ctx context.Context, node domain.NodeID) ([]*models.Edge, error) {
	return p.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM network_edges WHERE start_node = $1 OR end_node = $1 ORDER BY id`, node)
}

// loadGroups fills the attribute groups of edges with one query per
// dimension.
func (p *Postgres) loadGroups(ctx context.Context, edges []*models.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	ids := make([]int64, len(edges))
	byID := make(map[domain.EdgeID]*models.Edge, len(edges))
	for i, e := range edges {
		ids[i] = int64(e.ID)
		byID[e.ID] = e
	}
	loaded := make(map[string]map[domain.EdgeID][]segmentRow, len(groupTables))
	for dim, table := range groupTables {
		rows, err := p.exec.QueryContext(ctx,
			`SELECT edge_id, from_pos, to_pos, value FROM `+table+` WHERE edge_id = ANY($1) ORDER BY edge_id, seq`,
			pq.Array(ids))
		if err != nil {
			return fmt.Errorf("query %s: %w", table, err)
		}
		perEdge := make(map[domain.EdgeID][]segmentRow)
		for rows.Next() {
			var (
				id domain.EdgeID
				r  segmentRow
			)
			if err := rows.Scan(&id, &r.from, &r.to, &r.value); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", table, err)
			}
			perEdge[id] = append(perEdge[id], r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate %s: %w", table, err)
		}
		loaded[dim] = perEdge
	}
	for id, e := range byID {
		e.Groups = models.AttributeGroups{
			Responsibility: groupOf[models.Organisation](loaded["responsibility"][id]),
			Direction:      groupOf[models.Direction](loaded["direction"][id]),
			Speed:          groupOf[models.Speed](loaded["speed"][id]),
			WayForm:        groupOf[models.WayForm](loaded["way_form"][id]),
		}
	}
	return nil
}

func (p *Postgres) DeleteEdge(ctx context.Context, id domain.EdgeID) error {
	res, err := p.exec.ExecContext(ctx, `DELETE FROM network_edges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return expectRow(res, "edge", id)
}

func (p *Postgres) FindMapping(ctx context.Context, feature domain.FeatureID) (*models.FeatureMapping, error) {
	fms, err := p.queryMappings(ctx,
		`SELECT feature_id, edge_id FROM feature_edge_mappings WHERE feature_id = $1 ORDER BY seq`, string(feature))
	if err != nil {
		return nil, err
	}
	if len(fms) == 0 {
		return nil, fmt.Errorf("mapping %s: %w", feature, sentinel.ErrNotFound)
	}
	return fms[0], nil
}

func (p *Postgres) SaveMapping(ctx context.Context, mapping *models.FeatureMapping) error {
	if _, err := p.exec.ExecContext(ctx,
		`DELETE FROM feature_edge_mappings WHERE feature_id = $1`, string(mapping.FeatureID)); err != nil {
		return fmt.Errorf("clear mapping: %w", err)
	}
	for seq, edge := range mapping.Edges {
		if _, err := p.exec.ExecContext(ctx,
			`INSERT INTO feature_edge_mappings (feature_id, seq, edge_id) VALUES ($1, $2, $3)`,
			string(mapping.FeatureID), seq, edge); err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
	}
	return nil
}

func (p *Postgres) DeleteMapping(ctx context.Context, feature domain.FeatureID) error {
	res, err := p.exec.ExecContext(ctx, `DELETE FROM feature_edge_mappings WHERE feature_id = $1`, string(feature))
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return expectRow(res, "mapping", feature)
}

func (p *Postgres) MappingsForEdge(ctx context.Context, edge domain.EdgeID) ([]*models.FeatureMapping, error) {
	return p.queryMappings(ctx, `
		SELECT feature_id, edge_id FROM feature_edge_mappings
		WHERE feature_id IN (SELECT feature_id FROM feature_edge_mappings WHERE edge_id = $1)
		ORDER BY feature_id, seq
	`, edge)
}

func (p *Postgres) ListMappings(ctx context.Context) ([]*models.FeatureMapping, error) {
	return p.queryMappings(ctx, `SELECT feature_id, edge_id FROM feature_edge_mappings ORDER BY feature_id, seq`)
}

// queryMappings folds (feature_id, edge_id) rows ordered by feature and seq.
func (p *Postgres) queryMappings(ctx context.Context, query string, args ...any) ([]*models.FeatureMapping, error) {
	rows, err := p.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()
	var out []*models.FeatureMapping
	for rows.Next() {
		var (
			feature string
			edge    domain.EdgeID
		)
		if err := rows.Scan(&feature, &edge); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].FeatureID != domain.FeatureID(feature) {
			out = append(out, &models.FeatureMapping{FeatureID: domain.FeatureID(feature)})
		}
		last := out[len(out)-1]
		last.Edges = append(last.Edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}

func (p *Postgres) AppendEvent(ctx context.Context, event events.Event) error {
	return events.AppendOutbox(ctx, p.exec, event)
}
