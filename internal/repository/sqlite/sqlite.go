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

	_ "modernc.org/sqlite"
)

// Repository implements repository.Store using SQLite
type Repository struct {
	db *sql.DB
}

var _ repository.Store = (*Repository)(nil)

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases and pragmas consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topologies (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		parser TEXT NOT NULL,
		strategy TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL DEFAULT '',
		expiration_time INTEGER NOT NULL DEFAULT 0,
		published INTEGER NOT NULL DEFAULT 1,
		protocol TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		revision TEXT NOT NULL DEFAULT '',
		metric TEXT NOT NULL DEFAULT '',
		organization_id TEXT NOT NULL DEFAULT '',
		mesh_key TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL,
		modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		topology_id TEXT NOT NULL,
		address TEXT NOT NULL,
		addresses JSON NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		properties JSON,
		user_properties JSON,
		created INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		UNIQUE (topology_id, address),
		FOREIGN KEY (topology_id) REFERENCES topologies(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		topology_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		cost REAL NOT NULL DEFAULT 0,
		cost_text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		properties JSON,
		status_changed INTEGER NOT NULL,
		created INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		FOREIGN KEY (topology_id) REFERENCES topologies(id) ON DELETE CASCADE,
		FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		topology_id TEXT NOT NULL,
		date TEXT NOT NULL,
		data JSON NOT NULL,
		created INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		UNIQUE (topology_id, date),
		FOREIGN KEY (topology_id) REFERENCES topologies(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS device_samples (
		device_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		data JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_topologies_mesh ON topologies(organization_id, mesh_key);
	CREATE INDEX IF NOT EXISTS idx_links_topology_status ON links(topology_id, status);
	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);
	CREATE INDEX IF NOT EXISTS idx_links_status_modified ON links(status, modified);
	CREATE INDEX IF NOT EXISTS idx_device_samples_org ON device_samples(organization_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// ============================================================================
// Topologies
// ============================================================================

// CreateTopology inserts a new topology
func (r *Repository) CreateTopology(ctx context.Context, t *domain.Topology) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topologies (`+topologyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		topologyArgs(t)...)
	if err != nil {
		return fmt.Errorf("failed to insert topology: %w", err)
	}
	return nil
}

// UpdateTopology overwrites every mutable column of a topology
func (r *Repository) UpdateTopology(ctx context.Context, t *domain.Topology) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE topologies SET
			label = ?, parser = ?, strategy = ?, url = ?, key = ?,
			expiration_time = ?, published = ?, protocol = ?, version = ?,
			revision = ?, metric = ?, organization_id = ?, mesh_key = ?,
			modified = ?
		WHERE id = ?`,
		t.Label, t.Parser, string(t.Strategy), t.URL, t.Key,
		t.ExpirationTime, boolToInt(t.Published), t.Protocol, t.Version,
		t.Revision, t.Metric, t.OrganizationID, t.MeshKey,
		toNanos(t.ModifiedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update topology: %w", err)
	}
	return requireRow(result, "topology", t.ID)
}

// GetTopology retrieves a topology by id
func (r *Repository) GetTopology(ctx context.Context, id string) (*domain.Topology, error) {
	var row topologyRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+topologyColumns+` FROM topologies WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("topology", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topology: %w", err)
	}
	return row.toDomain(), nil
}

// ListTopologies returns topologies matching the filter ordered by creation
func (r *Repository) ListTopologies(ctx context.Context, filter repository.TopologyFilter) ([]domain.Topology, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, string(filter.Strategy))
	}
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Parser != "" {
		where = append(where, "parser = ?")
		args = append(args, filter.Parser)
	}
	if filter.MeshOnly {
		where = append(where, "mesh_key != ''")
	}

	query := `SELECT ` + topologyColumns + ` FROM topologies`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query topologies: %w", err)
	}
	defer rows.Close()

	var topologies []domain.Topology
	for rows.Next() {
		var row topologyRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan topology: %w", err)
		}
		topologies = append(topologies, *row.toDomain())
	}
	return topologies, rows.Err()
}

// FindMeshTopology returns the mesh topology of an organization for a mesh
// key, or nil if none exists
func (r *Repository) FindMeshTopology(ctx context.Context, organizationID, meshKey string) (*domain.Topology, error) {
	var row topologyRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+topologyColumns+` FROM topologies
		WHERE organization_id = ? AND mesh_key = ?
		ORDER BY created LIMIT 1`, organizationID, meshKey,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mesh topology: %w", err)
	}
	return row.toDomain(), nil
}

// ============================================================================
// Snapshots
// ============================================================================

// SaveSnapshot upserts the snapshot for (topology, date)
func (r *Repository) SaveSnapshot(ctx context.Context, s *domain.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, topology_id, date, data, created, modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (topology_id, date) DO UPDATE SET
			data = excluded.data,
			modified = excluded.modified`,
		s.ID, s.TopologyID, s.Date, string(s.Data),
		toNanos(s.CreatedAt), toNanos(s.ModifiedAt))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot of a topology for a date
func (r *Repository) GetSnapshot(ctx context.Context, topologyID, date string) (*domain.Snapshot, error) {
	var (
		s                 domain.Snapshot
		data              string
		created, modified int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, topology_id, date, data, created, modified
		FROM snapshots WHERE topology_id = ? AND date = ?`, topologyID, date,
	).Scan(&s.ID, &s.TopologyID, &s.Date, &data, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("snapshot", topologyID+"@"+date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	s.Data = []byte(data)
	s.CreatedAt = fromNanos(created)
	s.ModifiedAt = fromNanos(modified)
	return &s, nil
}

// ListSnapshotDates returns the dates with a stored snapshot, newest first
func (r *Repository) ListSnapshotDates(ctx context.Context, topologyID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date FROM snapshots WHERE topology_id = ? ORDER BY date DESC`, topologyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// ============================================================================
// Device Telemetry
// ============================================================================

// SaveDeviceSample stores the latest sample of a device, replacing older ones
func (r *Repository) SaveDeviceSample(ctx context.Context, s *domain.DeviceSample) error {
	data, err := marshalToNull(s)
	if err != nil {
		return fmt.Errorf("marshal device sample: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_samples (device_id, organization_id, timestamp, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			organization_id = excluded.organization_id,
			timestamp = excluded.timestamp,
			data = excluded.data
		WHERE excluded.timestamp >= device_samples.timestamp`,
		s.DeviceID, s.OrganizationID, toNanos(s.Timestamp), data)
	if err != nil {
		return fmt.Errorf("failed to save device sample: %w", err)
	}
	return nil
}

// ListDeviceSamples returns the latest sample of every device of an
// organization ordered by device id
func (r *Repository) ListDeviceSamples(ctx context.Context, organizationID string) ([]domain.DeviceSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM device_samples
		WHERE organization_id = ?
		ORDER BY device_id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.DeviceSample
	for rows.Next() {
		var data sql.NullString
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan device sample: %w", err)
		}
		var s domain.DeviceSample
		if err := unmarshalJSONField(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal device sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// requireRow turns a zero-row update into a not found error
func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError(kind, id)
	}
	return nil
}

// cutoff converts a time to the integer compared against modified columns
func cutoff(t time.Time) int64 {
	return t.UnixNano()
}
