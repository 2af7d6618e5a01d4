// Package drones exposes the dispatch coordinator over HTTP: fleet state,
// mission dispatch, live telemetry and emergency procedures.
package drones

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reliefops/aidchain/core/dispatch"
	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

// Dispatcher is the slice of the dispatch coordinator the handlers use.
type Dispatcher interface {
	Fleet() []model.DroneState
	CreateMission(ctx context.Context, deviceID string, waypoints []model.Waypoint, payload model.Payload, priority model.Priority, operator string) (model.Mission, error)
	GetTelemetryStream(deviceID string) (*dispatch.TelemetrySub, error)
	ExecuteEmergencyProcedure(ctx context.Context, deviceID string, proc drone.Procedure) error
}

// NewHandler returns the HTTP routes for fleet operations.
func NewHandler(coord Dispatcher) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/drones", handleFleet(coord))
	mux.HandleFunc("POST /api/drones/{id}/dispatch", handleDispatch(coord))
	mux.HandleFunc("GET /api/drones/{id}/telemetry", handleTelemetry(coord))
	mux.HandleFunc("POST /api/drones/{id}/emergency", handleEmergency(coord))
	return mux
}

func handleFleet(coord Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(coord.Fleet()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type dispatchRequest struct {
	Waypoints []model.Waypoint `json:"waypoints"`
	Payload   model.Payload    `json:"payload"`
	Priority  string           `json:"priority"`
	Operator  string           `json:"operator"`
}

func handleDispatch(coord Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		mission, err := coord.CreateMission(r.Context(), r.PathValue("id"),
			req.Waypoints, req.Payload, model.Priority(req.Priority), req.Operator)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(mission); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// handleTelemetry streams telemetry samples as server-sent events until the
// client disconnects or the device session ends.
func handleTelemetry(coord Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := coord.GetTelemetryStream(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		defer sub.Cancel()

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case tm, open := <-sub.C:
				if !open {
					return
				}
				payload, err := json.Marshal(tm)
				if err != nil {
					continue
				}
				if _, err := w.Write([]byte("data: ")); err != nil {
					return
				}
				if _, err := w.Write(payload); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

type emergencyRequest struct {
	Procedure string `json:"procedure"`
}

func handleEmergency(coord Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := coord.ExecuteEmergencyProcedure(r.Context(), r.PathValue("id"), drone.Procedure(req.Procedure)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var rejected *drone.MissionRejectedError
	switch {
	case errors.Is(err, dispatch.ErrDeviceNotConnected):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, dispatch.ErrProcedureInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &rejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, drone.ErrAckTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		// Mission validation failures (payload weight, waypoint bounds,
		// unknown procedures) are caller mistakes.
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
