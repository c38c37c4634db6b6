package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
)

// ActorHeader carries the id of the authenticated caller.
const ActorHeader = "X-Actor-ID"

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
)

type HTTPHandler struct {
	svc    FulfillmentService
	checks map[string]Pinger
	logger *zap.Logger
}

func NewHTTPHandler(svc FulfillmentService, checks map[string]Pinger, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, checks: checks, logger: logger}
}

// Router returns the full HTTP surface with request logging and panic recovery.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Get("/health", h.HealthCheck)
	r.Route("/api", h.RegisterRoutes)
	return r
}

// RegisterRoutes registers the fulfillment endpoints on r, expected to be mounted at /api.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Post("/preview", h.PreviewOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/pick-list", h.GetPickList)
		r.Put("/{id}/status", h.UpdateStatus)
		r.Put("/{id}/sync", h.SyncOrder)
	})
	r.Route("/cabinet-orders", func(r chi.Router) {
		r.Post("/{id}/execute", h.Execute)
		r.Post("/{id}/rollback", h.Rollback)
	})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	createdBy := actorFromRequest(r)
	if createdBy == "" {
		createdBy = req.CreatedBy
	}

	res, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		RouteID:    req.RouteID,
		Selections: req.Selections,
		CreatedBy:  createdBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, planResponse(res))
}

func (h *HTTPHandler) PreviewOrder(w http.ResponseWriter, r *http.Request) {
	var req PreviewOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.PreviewOrder(r.Context(), service.PreviewRequest{
		RouteID:     req.RouteID,
		Selections:  req.Selections,
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse(res))
}

// ListOrders accepts ?status=pending,in_progress; no filter lists every order.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListOrders(r.Context(), parseStatuses(r.URL.Query()["status"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.OrderDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) GetPickList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PickList(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, ok := h.pathID(w, r, req.OrderID)
	if !ok {
		return
	}
	res, err := h.svc.UpdateStatus(r.Context(), id, req.Status, actorFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(res))
}

func (h *HTTPHandler) SyncOrder(w http.ResponseWriter, r *http.Request) {
	var req SyncOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, ok := h.pathID(w, r, req.OrderID)
	if !ok {
		return
	}
	res, err := h.svc.Sync(r.Context(), service.SyncRequest{
		OrderID:  id,
		ActorID:  actorFromRequest(r),
		LastSync: req.LastSync,
		Changes:  req.Changes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, ok := h.pathID(w, r, req.CabinetOrderID)
	if !ok {
		return
	}
	res, err := h.svc.Execute(r.Context(), id, req.Items, actorFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse(res))
}

func (h *HTTPHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse(res))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    domain.CodeValidation,
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// pathID returns the {id} URL parameter. A body that names a different id is
// rejected rather than ignored.
func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, bodyID string) (string, bool) {
	id := chi.URLParam(r, "id")
	if bodyID != "" && bodyID != id {
		h.writeError(w, r, domain.Validationf("body id %s does not match path id %s", bodyID, id))
		return "", false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse(err))
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotExecuted):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExecuted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func actorFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func parseStatuses(values []string) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, domain.OrderStatus(s))
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
