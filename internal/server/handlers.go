package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/service/ingest"
	"github.com/ashita-ai/kanri/internal/service/metrics"
	"github.com/ashita-ai/kanri/internal/service/rootcause"
	"github.com/ashita-ai/kanri/internal/service/workflow"
	"github.com/ashita-ai/kanri/internal/store"
)

// Pinger checks the persistence backend. Nil means in-memory only.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               *store.Store
	ingest              *ingest.Pipeline
	dispatcher          *dispatch.Dispatcher
	workflows           *workflow.Evaluator
	analyzer            *rootcause.Analyzer
	metrics             *metrics.Aggregator
	broker              *Broker
	storage             Pinger
	storageName         string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, Storage, OpenAPISpec.
type HandlersDeps struct {
	Store               *store.Store
	Ingest              *ingest.Pipeline
	Dispatcher          *dispatch.Dispatcher
	Workflows           *workflow.Evaluator
	Analyzer            *rootcause.Analyzer
	Metrics             *metrics.Aggregator
	Broker              *Broker
	Storage             Pinger
	StorageName         string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	name := d.StorageName
	if name == "" {
		name = "memory"
	}
	return &Handlers{
		store:               d.Store,
		ingest:              d.Ingest,
		dispatcher:          d.Dispatcher,
		workflows:           d.Workflows,
		analyzer:            d.Analyzer,
		metrics:             d.Metrics,
		broker:              d.Broker,
		storage:             d.Storage,
		storageName:         name,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleSubscribe handles GET /api/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "event stream not enabled")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	// Idle SSE connections would otherwise be cut at WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if h.storage != nil {
		if err := h.storage.Ping(r.Context()); err != nil {
			storageStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Queue health: >50% capacity = high, >75% capacity = critical.
	depth := 0
	queueStatus := "ok"
	if h.ingest != nil {
		depth = h.ingest.Len()
		capacity := h.ingest.Capacity()
		if depth > capacity*3/4 {
			queueStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		} else if depth > capacity/2 {
			queueStatus = "high"
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:      status,
		Version:     h.version,
		Storage:     h.storageName + ":" + storageStatus,
		QueueDepth:  depth,
		QueueStatus: queueStatus,
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return t, nil
}

// filterBy keeps the items whose key matches the named query parameter.
// An absent parameter keeps everything.
func filterBy[T any, K ~string](r *http.Request, param string, items []T, key func(T) K) []T {
	want := r.URL.Query().Get(param)
	if want == "" {
		return items
	}
	return slices.DeleteFunc(items, func(v T) bool { return string(key(v)) != want })
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
