package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

// HandleListAlerts handles GET /api/alerts. Optional filters: status, severity.
func (h *Handlers) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.store.Alerts()
	alerts = filterBy(r, "status", alerts, func(a model.Alert) model.AlertStatus { return a.Status })
	alerts = filterBy(r, "severity", alerts, func(a model.Alert) model.AlertSeverity { return a.Severity })
	writeJSON(w, r, http.StatusOK, nonNil(alerts))
}

// HandleGetAlert handles GET /api/alerts/{id}.
func (h *Handlers) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Alert(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// HandleAcknowledgeAlert handles POST /api/alerts/{id}/acknowledge.
func (h *Handlers) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, lifecycle.AlertChange{To: model.AlertAcknowledged})
}

// HandleResolveAlert handles POST /api/alerts/{id}/resolve. The body is
// optional and may carry the operator's root cause.
func (h *Handlers) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveAlertRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}
	h.transitionAlert(w, r, lifecycle.AlertChange{To: model.AlertResolved, RootCause: req.RootCause})
}

// transitionAlert applies an operator status change and then emits an
// alert-updated event so workflows can react to it.
func (h *Handlers) transitionAlert(w http.ResponseWriter, r *http.Request, change lifecycle.AlertChange) {
	ref := model.EntityRef{Kind: model.EntityAlert, ID: r.PathValue("id")}
	var updated model.Alert
	err := h.store.WithEntity(r.Context(), ref, func(tx *store.Tx) error {
		var err error
		updated, err = tx.TransitionAlert(change)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.emitUpdated(r.Context(), ref, change.To)
	writeJSON(w, r, http.StatusOK, updated)
}

func (h *Handlers) emitUpdated(ctx context.Context, ref model.EntityRef, status model.AlertStatus) {
	if h.ingest == nil {
		return
	}
	_, err := h.ingest.Submit(ctx, model.EventAlertUpdated, map[string]any{
		"entityKind": string(ref.Kind),
		"entityId":   ref.ID,
		"status":     string(status),
	})
	if err != nil {
		h.logger.Warn("server: alert-updated event not submitted", "alert_id", ref.ID, "error", err)
	}
}

// HandleAnalyzeAlert handles POST /api/alerts/{id}/analyze.
func (h *Handlers) HandleAnalyzeAlert(w http.ResponseWriter, r *http.Request) {
	rca, err := h.analyzer.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rca)
}

// HandleListRootCauses handles GET /api/rca.
func (h *Handlers) HandleListRootCauses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, nonNil(h.store.RootCauses()))
}

// HandleGetRootCause handles GET /api/rca/{alert_id}.
func (h *Handlers) HandleGetRootCause(w http.ResponseWriter, r *http.Request) {
	rca, err := h.store.RootCause(r.PathValue("alert_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rca)
}
