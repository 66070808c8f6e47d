package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/graphstore"
	"github.com/nidhogg/mer/internal/memory"
	"github.com/nidhogg/mer/internal/replicate"
	"github.com/nidhogg/mer/internal/seedbus"
	"github.com/nidhogg/mer/internal/seedstore"
	"github.com/nidhogg/mer/internal/vectorstore"
)

// maxBundleBytes bounds an imported bundle body.
const maxBundleBytes = 32 << 20

// Archive is the read side of the bundle archive.
type Archive interface {
	Latest(ctx context.Context, nodeID string) (*seedstore.Record, error)
	List(ctx context.Context, nodeID string, limit int) ([]seedstore.Record, error)
}

// PeerFeed returns the latest bundle a peer published.
type PeerFeed interface {
	Latest(ctx context.Context, nodeID string) (*seedbus.Message, error)
}

// NeighborGraph answers strong-edge queries over the mirrored graph.
type NeighborGraph interface {
	StrongNeighbors(ctx context.Context, nodeID, conceptID string, minWeight float64) ([]graphstore.Neighbor, error)
}

// ConceptSearch finds indexed concepts close to a vector.
type ConceptSearch interface {
	SimilarConcepts(ctx context.Context, collection, nodeID string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
}

// ProbeEmbedder embeds free text for vector search.
type ProbeEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Deps are the optional collaborators of a Handler. Nil members disable
// the routes that need them.
type Deps struct {
	Replicator *replicate.Replicator
	Archive    Archive
	Peers      PeerFeed
	Graph      NeighborGraph
	Vectors    ConceptSearch
	Collection string
	Embedder   ProbeEmbedder
}

const (
	defaultSimilarK = 5
	maxSimilarK     = 50
	// defaultMinWeight matches the edge weight reconstruction follows.
	defaultMinWeight = 0.5
)

// Handler serves one memory system. Every call into the system holds mu.
type Handler struct {
	mu     sync.Mutex
	sys    *memory.System
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(sys *memory.System, deps Deps, logger *zap.Logger) *Handler {
	return &Handler{sys: sys, deps: deps, logger: logger}
}

// Locker returns the lock guarding the system, for background jobs that
// read it outside HTTP requests.
func (h *Handler) Locker() sync.Locker { return &h.mu }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)

		r.Post("/encode", h.encode)
		r.Post("/attribute", h.attribute)
		r.Post("/reconstruct", h.reconstruct)

		r.Get("/export", h.export)
		r.Post("/import", h.importBundle)

		// Replication routes
		r.Post("/replicate", h.replicate)
		r.Get("/bundles", h.listBundles)
		r.Post("/restore", h.restore)
		r.Post("/peers/{node}/pull", h.pullPeer)

		// Mirror queries
		r.Get("/concepts/similar", h.similarConcepts)
		r.Get("/concepts/{id}/neighbors", h.neighbors)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": h.sys.NodeID()})
}

type statsResponse struct {
	memory.Statistics
	NodeID    string  `json:"node_id"`
	SessionID string  `json:"session_id"`
	Clock     float64 `json:"clock"`
	Embedding string  `json:"embedding_provider"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := statsResponse{
		Statistics: h.sys.Statistics(),
		NodeID:     h.sys.NodeID(),
		SessionID:  h.sys.SessionID(),
		Clock:      h.sys.Clock(),
		Embedding:  h.sys.EmbeddingCapability(),
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

type encodeRequest struct {
	Text          string `json:"text"`
	AttributionID string `json:"attribution_id,omitempty"`
}

func (h *Handler) encode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	id := h.sys.Encode(r.Context(), req.Text, req.AttributionID)
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"episode_id": id})
}

type attributeRequest struct {
	Text   string `json:"text"`
	NodeID string `json:"node_id,omitempty"`
}

func (h *Handler) attribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	rec := h.sys.EncodeAttributed(r.Context(), req.Text, req.NodeID)
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, rec)
}

type reconstructRequest struct {
	Probe string `json:"probe"`
}

type reconstructResponse struct {
	Found        bool                 `json:"found"`
	Narrative    string               `json:"narrative,omitempty"`
	Recollection *memory.Recollection `json:"recollection,omitempty"`
}

func (h *Handler) reconstruct(w http.ResponseWriter, r *http.Request) {
	var req reconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	rec, found := h.sys.Reconstruct(r.Context(), req.Probe)
	h.mu.Unlock()

	resp := reconstructResponse{Found: found, Recollection: rec}
	if found {
		resp.Narrative = rec.Text
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	raw, err := h.sys.Export()
	h.mu.Unlock()
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, raw)
}

func (h *Handler) importBundle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBundleBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.importRaw(w, string(body))
}

// importRaw replaces the system state with raw and answers with the new
// statistics.
func (h *Handler) importRaw(w http.ResponseWriter, raw string) {
	h.mu.Lock()
	err := h.sys.Import(raw)
	stats := h.sys.Statistics()
	h.mu.Unlock()

	if err != nil {
		writeError(w, importStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imported": true, "stats": stats})
}

func importStatus(err error) int {
	switch {
	case errors.Is(err, memory.ErrIntegrityViolation):
		return http.StatusConflict
	case errors.Is(err, memory.ErrUnsupportedVersion), errors.Is(err, memory.ErrMalformedSeed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) replicate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replicator == nil {
		writeError(w, http.StatusServiceUnavailable, replicate.ErrNoSinks.Error())
		return
	}
	report, err := h.deps.Replicator.Run(r.Context(), &h.mu, h.sys)
	if errors.Is(err, replicate.ErrNoSinks) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if report.Failed() > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (h *Handler) listBundles(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "bundle archive not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.deps.Archive.List(r.Context(), h.sys.NodeID(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []seedstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "bundle archive not configured")
		return
	}
	rec, err := h.deps.Archive.Latest(r.Context(), h.sys.NodeID())
	if errors.Is(err, seedstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.importRaw(w, rec.Bundle)
}

func (h *Handler) pullPeer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Peers == nil {
		writeError(w, http.StatusServiceUnavailable, "seed bus not configured")
		return
	}
	node := chi.URLParam(r, "node")
	msg, err := h.deps.Peers.Latest(r.Context(), node)
	if errors.Is(err, seedbus.ErrNoBundle) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.logger.Info("pulling peer bundle", zap.String("peer", node), zap.String("digest", msg.Digest))
	h.importRaw(w, msg.Bundle)
}

func (h *Handler) similarConcepts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Vectors == nil || h.deps.Embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	probe := r.URL.Query().Get("probe")
	if probe == "" {
		writeError(w, http.StatusBadRequest, "probe is required")
		return
	}
	k := defaultSimilarK
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, maxSimilarK)
	}

	vec, ok := h.deps.Embedder.Embed(r.Context(), probe)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable")
		return
	}
	results, err := h.deps.Vectors.SimilarConcepts(r.Context(), h.deps.Collection, h.sys.NodeID(), vec, uint64(k))
	if err != nil {
		h.logger.Error("similar concepts failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if results == nil {
		results = []*vectorstore.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) neighbors(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		writeError(w, http.StatusServiceUnavailable, "graph mirror not configured")
		return
	}
	minWeight := defaultMinWeight
	if v := r.URL.Query().Get("min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min must be a number")
			return
		}
		minWeight = f
	}

	out, err := h.deps.Graph.StrongNeighbors(r.Context(), h.sys.NodeID(), chi.URLParam(r, "id"), minWeight)
	if err != nil {
		h.logger.Error("neighbor query failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if out == nil {
		out = []graphstore.Neighbor{}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
