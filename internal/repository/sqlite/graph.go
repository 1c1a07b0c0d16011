package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkgraph/internal/domain"
	"linkgraph/internal/repository"
)

// touchBatchSize bounds the number of ids bound into one UPDATE statement
const touchBatchSize = 500

// ============================================================================
// Nodes
// ============================================================================

// CreateNode inserts a new node
func (r *Repository) CreateNode(ctx context.Context, n *domain.Node) error {
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO nodes (id, topology_id, address, addresses, label, properties,
			user_properties, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

// UpdateNode overwrites the reconciled columns of a node. User properties
// are only written by SetNodeUserProperties.
func (r *Repository) UpdateNode(ctx context.Context, n *domain.Node) error {
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	// args: id, topology_id, address, addresses, label, properties, user_properties, created, modified
	result, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET
			address = ?, addresses = ?, label = ?, properties = ?, modified = ?
		WHERE id = ?`,
		args[2], args[3], args[4], args[5], args[8], args[0])
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return requireRow(result, "node", n.ID)
}

// SetNodeUserProperties replaces the operator-supplied properties of the
// node with the given canonical address and returns the updated node
func (r *Repository) SetNodeUserProperties(ctx context.Context, topologyID, address string, props map[string]any) (*domain.Node, error) {
	userJSON, err := marshalToNull(props)
	if err != nil {
		return nil, fmt.Errorf("marshal user properties: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET user_properties = ? WHERE topology_id = ? AND address = ?`,
		userJSON, topologyID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to update user properties: %w", err)
	}
	if err := requireRow(result, "node", address); err != nil {
		return nil, err
	}
	return r.GetNodeByAddress(ctx, topologyID, address)
}

// GetNodeByAddress finds a node by canonical address, or nil if none exists
func (r *Repository) GetNodeByAddress(ctx context.Context, topologyID, address string) (*domain.Node, error) {
	var row nodeRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE topology_id = ? AND address = ?`,
		topologyID, address,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return row.toDomain()
}

// ListNodes returns every node of a topology ordered by creation
func (r *Repository) ListNodes(ctx context.Context, topologyID string) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE topology_id = ? ORDER BY created, address`,
		topologyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		node, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// DeleteOrphanNodes removes nodes last modified before the cutoff that no
// link references, across all topologies
func (r *Repository) DeleteOrphanNodes(ctx context.Context, modifiedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE modified < ?
		AND NOT EXISTS (
			SELECT 1 FROM links
			WHERE links.source_id = nodes.id OR links.target_id = nodes.id
		)`, cutoff(modifiedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan nodes: %w", err)
	}
	return result.RowsAffected()
}

// ============================================================================
// Links
// ============================================================================

// CreateLink inserts a new link
func (r *Repository) CreateLink(ctx context.Context, l *domain.Link) error {
	args, err := linkArgs(l)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO links (id, topology_id, source_id, target_id, cost, cost_text,
			status, properties, status_changed, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// UpdateLink overwrites the mutable columns of a link
func (r *Repository) UpdateLink(ctx context.Context, l *domain.Link) error {
	props, err := marshalToNull(l.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE links SET
			cost = ?, cost_text = ?, status = ?, properties = ?,
			status_changed = ?, modified = ?
		WHERE id = ?`,
		l.Cost, l.CostText, string(l.Status), props,
		toNanos(l.StatusChanged), toNanos(l.ModifiedAt), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	return requireRow(result, "link", l.ID)
}

// GetLinkByEndpoints finds the link joining two nodes in either direction,
// or nil if none exists
func (r *Repository) GetLinkByEndpoints(ctx context.Context, topologyID, nodeA, nodeB string) (*domain.Link, error) {
	var row linkRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` `+linkFrom+`
		WHERE l.topology_id = ?
		AND ((l.source_id = ? AND l.target_id = ?) OR (l.source_id = ? AND l.target_id = ?))
		ORDER BY l.created LIMIT 1`,
		topologyID, nodeA, nodeB, nodeB, nodeA,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return row.toDomain()
}

// ListLinks returns the links of a topology ordered by creation
func (r *Repository) ListLinks(ctx context.Context, topologyID string, filter repository.LinkFilter) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` ` + linkFrom + ` WHERE l.topology_id = ?`
	args := []interface{}{topologyID}
	if filter.Status != "" {
		query += " AND l.status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY l.created, l.id"
	return r.queryLinks(ctx, query, args...)
}

// ListMeshLinks returns the links of every mesh topology of an organization
func (r *Repository) ListMeshLinks(ctx context.Context, organizationID string, filter repository.LinkFilter) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` ` + linkFrom + `
		JOIN topologies t ON t.id = l.topology_id
		WHERE t.organization_id = ? AND t.mesh_key != ''`
	args := []interface{}{organizationID}
	if filter.Status != "" {
		query += " AND l.status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY l.topology_id, l.created, l.id"
	return r.queryLinks(ctx, query, args...)
}

func (r *Repository) queryLinks(ctx context.Context, query string, args ...interface{}) ([]domain.Link, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []domain.Link
	for rows.Next() {
		var row linkRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		link, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// TouchLinks sets the modified time of the given links without changing
// anything else
func (r *Repository) TouchLinks(ctx context.Context, ids []string, at time.Time) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += touchBatchSize {
		end := start + touchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, toNanos(at))
		for _, id := range batch {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		result, err := r.db.ExecContext(ctx,
			`UPDATE links SET modified = ? WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return total, fmt.Errorf("failed to touch links: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read affected rows: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeleteDownLinks removes down links last modified before the cutoff,
// across all topologies
func (r *Repository) DeleteDownLinks(ctx context.Context, modifiedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM links WHERE status = ? AND modified < ?`,
		string(domain.LinkStatusDown), cutoff(modifiedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to delete down links: %w", err)
	}
	return result.RowsAffected()
}
