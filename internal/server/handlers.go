package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/manager"
)

// Engine is the manager surface the handlers call.
type Engine interface {
	Submit(ctx context.Context, req manager.SubmitRequest) (string, error)
	Status(ctx context.Context, id string) (domain.StatusView, error)
	Cancel(ctx context.Context, id string) (domain.StatusView, error)
	SystemMetrics(ctx context.Context) (domain.SystemMetrics, error)
	Nodes() []domain.Node
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger *zap.Logger
	engine Engine
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *zap.Logger, engine Engine) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		engine: engine,
	}
}

type submitResponse struct {
	TransactionID string        `json:"transaction_id"`
	Status        domain.Status `json:"status"`
}

type validationResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
}

type nodesResponse struct {
	Nodes   []domain.Node `json:"nodes"`
	Healthy int           `json:"healthy"`
	Total   int           `json:"total"`
}

func (h *APIHandlers) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var req manager.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.engine.Submit(r.Context(), req)
	if err != nil {
		var verr *manager.SubmitValidationError
		switch {
		case errors.As(err, &verr):
			respondJSON(w, http.StatusBadRequest, validationResponse{Error: "invalid transaction", Problems: verr.Problems})
		case errors.Is(err, manager.ErrIdempotencyConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to submit transaction", zap.String("transactionId", req.TransactionID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to submit transaction")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, submitResponse{TransactionID: id, Status: domain.StatusPending})
}

func (h *APIHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.engine.Status(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, "failed to fetch transaction status", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *APIHandlers) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, manager.ErrNotCancellable) {
			respondJSON(w, http.StatusConflict, map[string]any{
				"error":  err.Error(),
				"status": view.Status,
			})
			return
		}
		h.writeLookupError(w, id, "failed to cancel transaction", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *APIHandlers) systemMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.SystemMetrics(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate system metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate system metrics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *APIHandlers) listNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := h.engine.Nodes()
	resp := nodesResponse{Nodes: nodes, Total: len(nodes)}
	if resp.Nodes == nil {
		resp.Nodes = []domain.Node{}
	}
	for _, n := range nodes {
		if n.Healthy {
			resp.Healthy++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) writeLookupError(w http.ResponseWriter, id, msg string, err error) {
	if errors.Is(err, manager.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	h.logger.Error(msg, zap.String("transactionId", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
