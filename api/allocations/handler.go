// Package allocations exposes the allocation coordinator over HTTP.
package allocations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reliefops/aidchain/core/allocation"
	"github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/core/registry"
)

// walletHeader carries the caller identity used to sign ledger transactions.
const walletHeader = "X-Wallet-Address"

// Allocator is the slice of the allocation coordinator the handlers use.
type Allocator interface {
	Allocate(ctx context.Context, disasterID string, rt model.ResourceType, quantity int, requester string) (allocation.Result, error)
	ResourceStatus(ctx context.Context, resourceID string) (allocation.StatusReport, error)
	UpdateDeliveryStatus(ctx context.Context, resourceID string, next model.ResourceStatus, loc model.GeoPoint, actor string) (string, error)
}

// NewHandler returns the HTTP routes for allocation and delivery tracking.
func NewHandler(coord Allocator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/allocations", handleAllocate(coord))
	mux.HandleFunc("GET /api/resources/{id}/status", handleResourceStatus(coord))
	mux.HandleFunc("PATCH /api/resources/{id}/delivery", handleDeliveryUpdate(coord))
	return mux
}

type allocateRequest struct {
	DisasterID   string `json:"disaster_id"`
	ResourceType string `json:"resource_type"`
	Quantity     int    `json:"quantity"`
}

func handleAllocate(coord Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := r.Header.Get(walletHeader)
		if wallet == "" {
			http.Error(w, walletHeader+" header is required", http.StatusBadRequest)
			return
		}
		var req allocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := coord.Allocate(r.Context(), req.DisasterID, model.ResourceType(req.ResourceType), req.Quantity, wallet)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func handleResourceStatus(coord Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := coord.ResourceStatus(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type deliveryRequest struct {
	Status string  `json:"status"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

func handleDeliveryUpdate(coord Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := r.Header.Get(walletHeader)
		if wallet == "" {
			http.Error(w, walletHeader+" header is required", http.StatusBadRequest)
			return
		}
		var req deliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		txHash, err := coord.UpdateDeliveryStatus(r.Context(), r.PathValue("id"),
			model.ResourceStatus(req.Status), model.GeoPoint{Lat: req.Lat, Lon: req.Lon}, wallet)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"tx_hash": txHash}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// writeError maps the coordinator error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var rejected *ledger.ContractRejectedError
	switch {
	case errors.Is(err, allocation.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, allocation.ErrAlreadyAllocated):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &rejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrLedgerUnreachable), errors.Is(err, ledger.ErrTransactionFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
