package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"

	bridge "github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/bridges/ngbs"
)

// startTimeout bounds the first controller contact of a new device.
const startTimeout = 30 * time.Second

// handleListDevices returns all paired devices.
//
// Query parameters:
//   - kind: filter by driver kind (thermostat, modbus_thermostat)
//   - address: filter by controller address
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		devices []device.Device
		err     error
	)
	switch {
	case r.URL.Query().Get("kind") != "":
		devices, err = s.registry.ListByKind(ctx, thermostat.Kind(r.URL.Query().Get("kind")))
	case r.URL.Query().Get("address") != "":
		devices, err = s.registry.ListByAddress(ctx, r.URL.Query().Get("address"))
	default:
		devices, err = s.registry.ListDevices(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// createDeviceRequest is the body of POST /devices, the shape of a pairing
// candidate plus a name.
type createDeviceRequest struct {
	Name         string          `json:"name"`
	Kind         thermostat.Kind `json:"kind"`
	Address      string          `json:"address"`
	ThermostatID string          `json:"thermostat_id"`
	Settings     device.Settings `json:"settings"`
}

// handleCreateDevice pairs a device and starts it on the bridge.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	d, err := s.pairDevice(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// pairDevice stores a device and starts it. The record is removed again
// when the bridge cannot start it.
func (s *Server) pairDevice(ctx context.Context, req createDeviceRequest) (*device.Device, error) {
	if _, err := s.registry.FindThermostat(ctx, req.Address, req.ThermostatID); err == nil {
		return nil, device.ErrDeviceExists
	}

	d := &device.Device{
		Name:         req.Name,
		Kind:         req.Kind,
		Address:      req.Address,
		ThermostatID: req.ThermostatID,
		Settings:     req.Settings,
	}
	if err := s.registry.CreateDevice(ctx, d); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := s.bridge.AddDevice(startCtx, *d); err != nil {
		if derr := s.registry.DeleteDevice(context.WithoutCancel(ctx), d.ID); derr != nil {
			s.logger.Error("rolling back device", "id", d.ID, "error", derr)
		}
		return nil, err
	}
	return s.registry.GetDevice(ctx, d.ID)
}

// handleRenameDevice changes the display name of a device.
func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == nil {
		writeBadRequest(w, "name is required")
		return
	}

	d, err := s.registry.RenameDevice(r.Context(), chi.URLParam(r, "id"), *req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateSettings replaces the device settings. A running device is
// moved to the new host first.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings device.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	d, err := s.bridge.UpdateSettings(r.Context(), id, settings)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice stops and unpairs a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.bridge.RemoveDevice(id); err != nil && !errors.Is(err, bridge.ErrDeviceNotManaged) {
		s.logger.Warn("stopping device", "id", id, "error", err)
	}
	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleGetLiveState returns the running state of a device.
func (s *Server) handleGetLiveState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.bridge.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

// handleCommand sets a capability on a device.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.bridge.Execute(r.Context(), id, req.Command, req.Parameters); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "command": req.Command, "status": "accepted"})
}
