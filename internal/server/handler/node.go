package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
)

// NodeService is the part of the hierarchy service the node routes use.
type NodeService interface {
	CreateNode(ctx context.Context, exchangeID string, spec engine.NodeSpec) (*domain.PropertyNode, error)
	Node(exchangeID, id string) (*domain.PropertyNode, error)
	Children(exchangeID, parentID string) ([]*domain.PropertyNode, error)
	Resolve(ctx context.Context, exchangeID, id string) (any, error)
	UpdateValue(ctx context.Context, exchangeID, id string, value any) (domain.UpdateEvent, error)
}

// NodeHandler serves single-node reads and writes.
type NodeHandler struct {
	svc    NodeService
	logger *slog.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(svc NodeService, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{svc: svc, logger: logger.With(slog.String("handler", "nodes"))}
}

type createNodeRequest struct {
	Name        string              `json:"name"`
	Type        domain.NodeType     `json:"type"`
	Value       any                 `json:"value"`
	ParentID    string              `json:"parent_id"`
	Final       bool                `json:"final"`
	Inheritable *bool               `json:"inheritable"`
	Constraints *domain.Constraints `json:"constraints"`
	Tags        []string            `json:"tags"`
	Source      string              `json:"source"`
	CacheTTLMs  int64               `json:"cache_ttl_ms"`
}

type nodeResponse struct {
	Node     *domain.PropertyNode `json:"node"`
	Resolved any                  `json:"resolved"`
}

// Create adds a node to an exchange's tree.
// POST /api/nodes/{exchange}
func (h *NodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	n, err := h.svc.CreateNode(r.Context(), r.PathValue("exchange"), engine.NodeSpec{
		Name:        req.Name,
		Type:        req.Type,
		Value:       req.Value,
		ParentID:    req.ParentID,
		Final:       req.Final,
		Inheritable: req.Inheritable,
		Constraints: req.Constraints,
		Tags:        req.Tags,
		Source:      req.Source,
		CacheTTL:    time.Duration(req.CacheTTLMs) * time.Millisecond,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// Get returns a node with its freshly resolved value.
// GET /api/nodes/{exchange}/{id}
func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	exchange, id := r.PathValue("exchange"), r.PathValue("id")
	v, err := h.svc.Resolve(r.Context(), exchange, id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	n, err := h.svc.Node(exchange, id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeResponse{Node: n, Resolved: v})
}

// Children lists a node's children.
// GET /api/nodes/{exchange}/{id}/children
func (h *NodeHandler) Children(w http.ResponseWriter, r *http.Request) {
	kids, err := h.svc.Children(r.PathValue("exchange"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": kids})
}

// Update replaces a node's own value.
// PUT /api/nodes/{exchange}/{id}
func (h *NodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := h.svc.UpdateValue(r.Context(), r.PathValue("exchange"), r.PathValue("id"), req.Value)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
