package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

const (
	// sessionTTL is how long an idle pairing session is kept.
	sessionTTL = 15 * time.Minute

	// sessionSweepInterval is how often idle sessions are dropped.
	sessionSweepInterval = time.Minute
)

// pairingSession is a pairing flow held between wizard steps.
type pairingSession struct {
	id       string
	session  *pairing.Session
	created  time.Time
	lastUsed time.Time
}

// sessionView is the JSON form of a pairing session.
type sessionView struct {
	ID        string          `json:"id"`
	Kind      thermostat.Kind `json:"kind"`
	Address   string          `json:"address,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p *pairingSession) view() sessionView {
	v := sessionView{ID: p.id, Kind: p.session.Kind(), CreatedAt: p.created}
	if addr, err := p.session.Address(); err == nil {
		v.Address = addr
	}
	return v
}

// expireSessionsLoop drops sessions idle for longer than sessionTTL until
// ctx is cancelled.
func (s *Server) expireSessionsLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.expireSessions(now)
		}
	}
}

func (s *Server) expireSessions(now time.Time) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for id, p := range s.sessions {
		if now.Sub(p.lastUsed) > sessionTTL {
			delete(s.sessions, id)
			s.logger.Debug("pairing session expired", "session_id", id)
		}
	}
}

// lookupSession returns the session named in the URL, writing a 404 if it
// does not exist.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*pairingSession, bool) {
	id := chi.URLParam(r, "id")
	s.sessionsMu.Lock()
	p, ok := s.sessions[id]
	if ok {
		p.lastUsed = time.Now()
	}
	s.sessionsMu.Unlock()
	if !ok {
		writeNotFound(w, "pairing session not found")
		return nil, false
	}
	return p, true
}

// handleCreateSession starts a pairing flow for one driver kind.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind thermostat.Kind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown kind: "+string(req.Kind))
		return
	}

	sess, err := s.newSession(req.Kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now()
	p := &pairingSession{id: uuid.NewString(), session: sess, created: now, lastUsed: now}
	s.sessionsMu.Lock()
	s.sessions[p.id] = p
	s.sessionsMu.Unlock()

	s.logger.Info("pairing session started", "session_id", p.id, "kind", req.Kind)
	writeJSON(w, http.StatusCreated, p.view())
}

// handleGetSession returns the collected pairing input.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.view())
}

// handleDeleteSession abandons a pairing flow.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.sessionsMu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if !ok {
		writeNotFound(w, "pairing session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetAddress records the controller host.
func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	p.session.SetAddress(req.Host)
	writeJSON(w, http.StatusOK, p.view())
}

// handleSetSysID records the controller system id.
func (s *Server) handleSetSysID(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req struct {
		SysID string `json:"sysid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if err := p.session.SetSysID(req.SysID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.view())
}

// handlePrefill scans the network and presets the session on a hit.
// found is false when no controller answered.
func (s *Server) handlePrefill(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	res, err := s.runScan(r.Context(), p.session.Prefill, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": res != nil, "result": res, "session": p.view()})
}

// handlePrefillStream is handlePrefill over a websocket, with progress.
func (s *Server) handlePrefillStream(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.streamScan(w, r, p.session.Prefill)
}

// handleListCandidates connects to the controller and lists its thermostats.
// Thermostats already paired are left out.
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	candidates, err := p.session.ListDevices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	fresh := make([]pairing.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, err := s.registry.FindThermostat(r.Context(), c.Data.URL, c.Data.ID); err == nil {
			continue
		}
		fresh = append(fresh, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": fresh, "count": len(fresh)})
}

// pairResult is the outcome of pairing one selected candidate.
type pairResult struct {
	Device *device.Device `json:"device,omitempty"`
	Name   string         `json:"name"`
	Error  *Error         `json:"error,omitempty"`
}

// handleAddCandidates pairs the selected candidates and ends the session.
func (s *Server) handleAddCandidates(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Devices []pairing.Candidate `json:"devices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Devices) == 0 {
		writeBadRequest(w, "no devices selected")
		return
	}

	results := make([]pairResult, 0, len(req.Devices))
	failed := 0
	for _, c := range req.Devices {
		d, err := s.pairDevice(r.Context(), createDeviceRequest{
			Name:         c.Name,
			Kind:         p.session.Kind(),
			Address:      c.Data.URL,
			ThermostatID: c.Data.ID,
		})
		if err != nil {
			failed++
			resp := errorResponse(err)
			results = append(results, pairResult{Name: c.Name, Error: &resp})
			continue
		}
		results = append(results, pairResult{Device: d, Name: c.Name})
	}

	if failed < len(req.Devices) {
		s.sessionsMu.Lock()
		delete(s.sessions, p.id)
		s.sessionsMu.Unlock()
	}

	status := http.StatusCreated
	if failed == len(req.Devices) {
		status = results[0].Error.Status
	}
	writeJSON(w, status, map[string]any{"results": results, "paired": len(req.Devices) - failed, "failed": failed})
}
