package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
	"linkgraph/internal/repository"
	"linkgraph/internal/service"
)

// maxPayloadBytes bounds pushed snapshots and telemetry
const maxPayloadBytes = 8 << 20

// Topologies is the topology service used by the handler.
// *service.TopologyService satisfies it.
type Topologies interface {
	GetTopology(ctx context.Context, id string) (*domain.Topology, error)
	ListTopologies(ctx context.Context, filter repository.TopologyFilter) ([]domain.Topology, error)
	Update(ctx context.Context, id string) (*service.Result, error)
	Receive(ctx context.Context, id, key string, payload []byte) (*service.Result, error)
	Graph(ctx context.Context, id string) (*domain.Graph, error)
	Snapshot(ctx context.Context, id, date string) (*domain.Snapshot, error)
	SnapshotDates(ctx context.Context, id string) ([]string, error)
	SetNodeProperties(ctx context.Context, id, address string, props map[string]any) (*domain.Node, error)
}

// Telemetry stores device samples. *mesh.Aggregator satisfies it.
type Telemetry interface {
	RecordSample(ctx context.Context, s *domain.DeviceSample) error
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TopologySummary is a topology without its key
type TopologySummary struct {
	ID             string          `json:"id"`
	Label          string          `json:"label"`
	Parser         string          `json:"parser"`
	Strategy       domain.Strategy `json:"strategy"`
	URL            string          `json:"url,omitempty"`
	ExpirationTime int             `json:"expiration_time"`
	Published      bool            `json:"published"`
	OrganizationID string          `json:"organization_id,omitempty"`
}

// HistoryResponse lists the dates with a stored snapshot
type HistoryResponse struct {
	TopologyID string   `json:"topology_id"`
	Dates      []string `json:"dates"`
}

// Handler serves the linkgraph API
type Handler struct {
	svc       Topologies
	telemetry Telemetry
	events    http.Handler
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// New creates a handler
func New(svc Topologies, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("http")}
}

// SetTelemetry enables POST /api/telemetry
func (h *Handler) SetTelemetry(t Telemetry) {
	h.telemetry = t
}

// SetEvents mounts the event stream on GET /events
func (h *Handler) SetEvents(events http.Handler) {
	h.events = events
}

// SetGatherer exposes metrics on GET /metrics
func (h *Handler) SetGatherer(g prometheus.Gatherer) {
	h.gatherer = g
}

// Routes returns the API wrapped in the standard middleware
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/topologies", h.ListTopologies)
	mux.HandleFunc("GET /api/topologies/{id}", h.GetGraph)
	mux.HandleFunc("GET /api/topologies/{id}/history", h.GetHistory)
	mux.HandleFunc("POST /api/topologies/{id}/update", h.UpdateTopology)
	mux.HandleFunc("POST /api/topologies/{id}/receive", h.ReceiveTopology)
	mux.HandleFunc("PUT /api/topologies/{id}/nodes/{node}/properties", h.SetNodeProperties)
	mux.HandleFunc("POST /api/telemetry", h.PostTelemetry)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	if h.events != nil {
		mux.Handle("GET /events", h.events)
	}
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return Chain(mux,
		Recover(h.logger),
		Logger(h.logger),
	)
}

// ListTopologies returns every topology, optionally filtered by strategy
// and organization
func (h *Handler) ListTopologies(w http.ResponseWriter, r *http.Request) {
	filter := repository.TopologyFilter{
		Strategy:       domain.Strategy(r.URL.Query().Get("strategy")),
		OrganizationID: r.URL.Query().Get("organization"),
	}
	topologies, err := h.svc.ListTopologies(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to list topologies", err, http.StatusInternalServerError)
		return
	}

	out := make([]TopologySummary, 0, len(topologies))
	for _, t := range topologies {
		out = append(out, summarize(&t))
	}
	h.writeJSON(w, out, http.StatusOK)
}

// GetGraph returns the NetworkGraph of a published topology
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Graph(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "Failed to get graph", err, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, g, http.StatusOK)
}

// GetHistory returns the snapshot of a day, or the list of days when no
// date is given
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	date := r.URL.Query().Get("date")

	if date == "" {
		dates, err := h.svc.SnapshotDates(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, "Failed to list snapshots", err, http.StatusInternalServerError)
			return
		}
		if dates == nil {
			dates = []string{}
		}
		h.writeJSON(w, HistoryResponse{TopologyID: id, Dates: dates}, http.StatusOK)
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), id, date)
	if err != nil {
		h.writeServiceError(w, "Failed to get snapshot", err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(snap.Data)
}

// UpdateTopology fetches the topology source and reconciles it
func (h *Handler) UpdateTopology(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.svc.Update(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, res, http.StatusOK)
	case domain.IsParse(err):
		h.logger.Warn("topology update failed", zap.String("topology", id), zap.Error(err))
		h.writeError(w, "Failed to fetch topology", err.Error(), http.StatusBadGateway)
	default:
		h.writeServiceError(w, "Failed to update topology", err, http.StatusInternalServerError)
	}
}

// ReceiveTopology reconciles a pushed snapshot. The key query parameter
// must match the topology key.
func (h *Handler) ReceiveTopology(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Receive(r.Context(), id, r.URL.Query().Get("key"), payload)
	if err != nil {
		h.writeServiceError(w, "Failed to receive topology", err, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// SetNodeProperties replaces the operator-supplied properties of a node.
// The body is a JSON object; an empty object clears them.
func (h *Handler) SetNodeProperties(w http.ResponseWriter, r *http.Request) {
	var props map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&props); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	node, err := h.svc.SetNodeProperties(r.Context(), r.PathValue("id"), r.PathValue("node"), props)
	if err != nil {
		h.writeServiceError(w, "Failed to set node properties", err, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, node, http.StatusOK)
}

// PostTelemetry stores a device sample for the mesh aggregator
func (h *Handler) PostTelemetry(w http.ResponseWriter, r *http.Request) {
	if h.telemetry == nil {
		h.writeError(w, "Telemetry not configured", "mesh aggregation is disabled", http.StatusServiceUnavailable)
		return
	}

	var sample domain.DeviceSample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&sample); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.telemetry.RecordSample(r.Context(), &sample); err != nil {
		h.writeServiceError(w, "Failed to record telemetry", err, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]string{"status": "recorded", "device_id": sample.DeviceID}, http.StatusAccepted)
}

func summarize(t *domain.Topology) TopologySummary {
	return TopologySummary{
		ID:             t.ID,
		Label:          t.Label,
		Parser:         t.Parser,
		Strategy:       t.Strategy,
		URL:            t.URL,
		ExpirationTime: t.ExpirationTime,
		Published:      t.Published,
		OrganizationID: t.OrganizationID,
	}
}

// Helper methods

// writeServiceError maps typed domain errors to status codes, falling back
// to fallback for anything else
func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error, fallback int) {
	status := fallback
	switch {
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsAuthorization(err):
		status = http.StatusForbidden
	case domain.IsValidation(err), domain.IsParse(err):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
