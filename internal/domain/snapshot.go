package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotDateLayout is the calendar day format of snapshot dates
const SnapshotDateLayout = "2006-01-02"

// Snapshot is a dated serialization of a topology's full graph.
// There is at most one per topology and calendar day.
type Snapshot struct {
	ID         string          `json:"id"`
	TopologyID string          `json:"topology_id"`
	Date       string          `json:"date"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created"`
	ModifiedAt time.Time       `json:"modified"`
}

// NewSnapshot serializes graph into a snapshot dated on the UTC day of now
func NewSnapshot(topologyID string, graph *Graph, now time.Time) (*Snapshot, error) {
	data, err := json.Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return &Snapshot{
		ID:         uuid.NewString(),
		TopologyID: topologyID,
		Date:       SnapshotDate(now),
		Data:       data,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// SnapshotDate returns the snapshot date key for t
func SnapshotDate(t time.Time) string {
	return t.UTC().Format(SnapshotDateLayout)
}

// ParseSnapshotDate validates a YYYY-MM-DD date string
func ParseSnapshotDate(s string) (string, error) {
	t, err := time.Parse(SnapshotDateLayout, s)
	if err != nil {
		return "", NewValidationError("snapshot", "date", "expected YYYY-MM-DD")
	}
	return SnapshotDate(t), nil
}

// Graph decodes the stored graph
func (s *Snapshot) Graph() (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(s.Data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &g, nil
}
