package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"linkgraph/internal/domain"
)

// ============================================================================
// Time Conversion Helpers
// ============================================================================

// toNanos converts a time to unix nanoseconds (0 for the zero time)
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos converts unix nanoseconds to a UTC time (zero time for 0)
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals interface to nullable JSON string
// Returns empty NullString for nil or empty maps
func marshalToNull(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}

	// Handle empty maps - don't store "{}"
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to a table:
// 1. Add field to the row struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update the columns constant - APPEND to end
// 4. Update toDomain() to map new field
// 5. Update the insert args helper if column should be writable
// 6. Add the column to the schema in sqlite.go migrate()
//
// CRITICAL: Column order must match between the columns constant,
// scanArgs() and every SELECT using the constant.

// ============================================================================
// Topology Row Scanner
// ============================================================================

type topologyRow struct {
	ID             string
	Label          string
	Parser         string
	Strategy       string
	URL            string
	Key            string
	ExpirationTime int
	Published      int
	Protocol       string
	Version        string
	Revision       string
	Metric         string
	OrganizationID string
	MeshKey        string
	Created        int64
	Modified       int64
}

// scanArgs MUST match topologyColumns order exactly
func (r *topologyRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,             // 1
		&r.Label,          // 2
		&r.Parser,         // 3
		&r.Strategy,       // 4
		&r.URL,            // 5
		&r.Key,            // 6
		&r.ExpirationTime, // 7
		&r.Published,      // 8
		&r.Protocol,       // 9
		&r.Version,        // 10
		&r.Revision,       // 11
		&r.Metric,         // 12
		&r.OrganizationID, // 13
		&r.MeshKey,        // 14
		&r.Created,        // 15
		&r.Modified,       // 16
	}
}

func (r *topologyRow) toDomain() *domain.Topology {
	return &domain.Topology{
		ID:             r.ID,
		Label:          r.Label,
		Parser:         r.Parser,
		Strategy:       domain.Strategy(r.Strategy),
		URL:            r.URL,
		Key:            r.Key,
		ExpirationTime: r.ExpirationTime,
		Published:      r.Published != 0,
		Protocol:       r.Protocol,
		Version:        r.Version,
		Revision:       r.Revision,
		Metric:         r.Metric,
		OrganizationID: r.OrganizationID,
		MeshKey:        r.MeshKey,
		CreatedAt:      fromNanos(r.Created),
		ModifiedAt:     fromNanos(r.Modified),
	}
}

const topologyColumns = `id, label, parser, strategy, url, key, expiration_time,
	published, protocol, version, revision, metric, organization_id, mesh_key,
	created, modified`

func topologyArgs(t *domain.Topology) []interface{} {
	return []interface{}{
		t.ID,
		t.Label,
		t.Parser,
		string(t.Strategy),
		t.URL,
		t.Key,
		t.ExpirationTime,
		boolToInt(t.Published),
		t.Protocol,
		t.Version,
		t.Revision,
		t.Metric,
		t.OrganizationID,
		t.MeshKey,
		toNanos(t.CreatedAt),
		toNanos(t.ModifiedAt),
	}
}

// ============================================================================
// Node Row Scanner
// ============================================================================

type nodeRow struct {
	ID                 string
	TopologyID         string
	Label              string
	AddressesJSON      sql.NullString
	PropertiesJSON     sql.NullString
	UserPropertiesJSON sql.NullString
	Created            int64
	Modified           int64
}

// scanArgs MUST match nodeColumns order exactly:
// id, topology_id, label, addresses, properties, user_properties, created, modified
func (r *nodeRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,                 // 1
		&r.TopologyID,         // 2
		&r.Label,              // 3
		&r.AddressesJSON,      // 4
		&r.PropertiesJSON,     // 5
		&r.UserPropertiesJSON, // 6
		&r.Created,            // 7
		&r.Modified,           // 8
	}
}

func (r *nodeRow) toDomain() (*domain.Node, error) {
	node := &domain.Node{
		ID:         r.ID,
		TopologyID: r.TopologyID,
		Label:      r.Label,
		CreatedAt:  fromNanos(r.Created),
		ModifiedAt: fromNanos(r.Modified),
	}

	if err := unmarshalJSONField(r.AddressesJSON, &node.Addresses); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	if err := unmarshalJSONField(r.PropertiesJSON, &node.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	if err := unmarshalJSONField(r.UserPropertiesJSON, &node.UserProperties); err != nil {
		return nil, fmt.Errorf("unmarshal user properties: %w", err)
	}

	return node, nil
}

const nodeColumns = `id, topology_id, label, addresses, properties, user_properties, created, modified`

// nodeArgs returns: id, topology_id, address, addresses, label, properties,
// user_properties, created, modified
func nodeArgs(n *domain.Node) ([]interface{}, error) {
	addrJSON, err := json.Marshal(n.Addresses)
	if err != nil {
		return nil, fmt.Errorf("marshal addresses: %w", err)
	}
	propsJSON, err := marshalToNull(n.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	userJSON, err := marshalToNull(n.UserProperties)
	if err != nil {
		return nil, fmt.Errorf("marshal user properties: %w", err)
	}

	return []interface{}{
		n.ID,
		n.TopologyID,
		n.CanonicalID(),
		string(addrJSON),
		n.Label,
		propsJSON,
		userJSON,
		toNanos(n.CreatedAt),
		toNanos(n.ModifiedAt),
	}, nil
}

// ============================================================================
// Link Row Scanner
// ============================================================================

type linkRow struct {
	ID             string
	TopologyID     string
	SourceID       string
	TargetID       string
	Cost           float64
	CostText       string
	Status         string
	PropertiesJSON sql.NullString
	StatusChanged  int64
	Created        int64
	Modified       int64
	SourceAddress  string
	TargetAddress  string
}

// scanArgs MUST match linkColumns order exactly
func (r *linkRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,             // 1
		&r.TopologyID,     // 2
		&r.SourceID,       // 3
		&r.TargetID,       // 4
		&r.Cost,           // 5
		&r.CostText,       // 6
		&r.Status,         // 7
		&r.PropertiesJSON, // 8
		&r.StatusChanged,  // 9
		&r.Created,        // 10
		&r.Modified,       // 11
		&r.SourceAddress,  // 12
		&r.TargetAddress,  // 13
	}
}

func (r *linkRow) toDomain() (*domain.Link, error) {
	link := &domain.Link{
		ID:            r.ID,
		TopologyID:    r.TopologyID,
		SourceID:      r.SourceID,
		TargetID:      r.TargetID,
		Cost:          r.Cost,
		CostText:      r.CostText,
		Status:        domain.LinkStatus(r.Status),
		StatusChanged: fromNanos(r.StatusChanged),
		CreatedAt:     fromNanos(r.Created),
		ModifiedAt:    fromNanos(r.Modified),
		SourceAddress: r.SourceAddress,
		TargetAddress: r.TargetAddress,
	}

	if err := unmarshalJSONField(r.PropertiesJSON, &link.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}

	return link, nil
}

// linkColumns selects from links l joined with nodes src and dst
const linkColumns = `l.id, l.topology_id, l.source_id, l.target_id, l.cost, l.cost_text,
	l.status, l.properties, l.status_changed, l.created, l.modified,
	src.address, dst.address`

const linkFrom = `FROM links l
	JOIN nodes src ON src.id = l.source_id
	JOIN nodes dst ON dst.id = l.target_id`

// linkArgs returns: id, topology_id, source_id, target_id, cost, cost_text,
// status, properties, status_changed, created, modified
func linkArgs(l *domain.Link) ([]interface{}, error) {
	propsJSON, err := marshalToNull(l.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}

	return []interface{}{
		l.ID,
		l.TopologyID,
		l.SourceID,
		l.TargetID,
		l.Cost,
		l.CostText,
		string(l.Status),
		propsJSON,
		toNanos(l.StatusChanged),
		toNanos(l.CreatedAt),
		toNanos(l.ModifiedAt),
	}, nil
}
