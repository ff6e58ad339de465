// Package api is the service's HTTP surface: health and call inspection, the
// websocket report endpoint, and controls for the simulated network and
// radio used when no modem is attached.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/events"
	"github.com/sebas/callservice/internal/callservice/policy"
)

// CallProvider exposes call state. Implemented by control.Manager.
type CallProvider interface {
	ListCalls(ctx context.Context) ([]call.Info, error)
	GetCallInfo(ctx context.Context, callID int) (call.Info, error)
}

// Network drives the far side of calls. Implemented by transport.Simulator.
type Network interface {
	Ring(ctx context.Context, attrs call.Attributes) (int, error)
	RemoteAnswer(callID int) error
	RemoteHangUp(callID int) error
}

// Radio is the mutable radio environment. Implemented by
// policy.StaticEnvironment.
type Radio interface {
	SlotCount() int
	IsAirplaneMode() bool
	SetAirplaneMode(on bool)
	Slot(slotID int) (policy.SlotStatus, bool)
	SetSlot(slotID int, s policy.SlotStatus) error
}

// ReportProvider is the websocket report hub.
type ReportProvider interface {
	http.Handler
	ClientCount() int
	DroppedCount() int64
}

// Server provides the HTTP API.
type Server struct {
	httpServer *http.Server
	calls      CallProvider
	network    Network
	radio      Radio
	reports    ReportProvider
	startTime  time.Time
}

// NewServer creates a server. network, radio and reports may be nil; their
// endpoints then answer 404.
func NewServer(calls CallProvider, network Network, radio Radio, reports ReportProvider) *Server {
	s := &Server{
		calls:     calls,
		network:   network,
		radio:     radio,
		reports:   reports,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health and stats
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Calls
	mux.HandleFunc("GET /api/v1/calls", s.handleCalls)
	mux.HandleFunc("GET /api/v1/calls/{id}", s.handleCallByID)

	if network != nil {
		mux.HandleFunc("POST /api/v1/network/incoming", s.handleIncoming)
		mux.HandleFunc("POST /api/v1/network/calls/{id}/answer", s.handleRemote(network.RemoteAnswer))
		mux.HandleFunc("POST /api/v1/network/calls/{id}/hangup", s.handleRemote(network.RemoteHangUp))
	}
	if radio != nil {
		mux.HandleFunc("GET /api/v1/radio", s.handleRadio)
		mux.HandleFunc("PUT /api/v1/radio/airplane", s.handleAirplane)
		mux.HandleFunc("PUT /api/v1/radio/slots/{id}", s.handleSlot)
	}
	if reports != nil {
		mux.Handle("/ws", reports)
	}

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("[API] Starting HTTP API server", "addr", lis.Addr().String())
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	infos, err := s.calls.ListCalls(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	byState := make(map[string]int)
	for _, info := range infos {
		byState[info.TelState.String()]++
	}
	response := map[string]any{
		"total_calls": len(infos),
		"by_state":    byState,
	}
	if s.reports != nil {
		response["report_clients"] = s.reports.ClientCount()
		response["reports_dropped"] = s.reports.DroppedCount()
	}
	s.writeJSON(w, response)
}

// --- Calls ---

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	infos, err := s.calls.ListCalls(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]events.CallSnapshot, 0, len(infos))
	for _, info := range infos {
		out = append(out, events.NewSnapshot(info))
	}
	s.writeJSON(w, out)
}

func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := s.calls.GetCallInfo(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, events.NewSnapshot(info))
}

// --- Network ---

type incomingRequest struct {
	Number      string `json:"number"`
	SlotID      int    `json:"slot_id"`
	Type        string `json:"type"`
	VideoState  string `json:"video_state"`
	ContactName string `json:"contact_name"`
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	var req incomingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	attrs := call.Attributes{
		Type:        call.TypeCS,
		Number:      req.Number,
		SlotID:      req.SlotID,
		ContactName: req.ContactName,
	}
	if req.Type != "" {
		t, ok := call.ParseCallType(strings.ToUpper(req.Type))
		if !ok {
			http.Error(w, "Invalid call type", http.StatusBadRequest)
			return
		}
		attrs.Type = t
	}
	if req.VideoState != "" {
		v, ok := call.ParseVideoState(strings.ToUpper(req.VideoState))
		if !ok {
			http.Error(w, "Invalid video state", http.StatusBadRequest)
			return
		}
		attrs.VideoState = v
	}

	id, err := s.network.Ring(r.Context(), attrs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, map[string]any{"call_id": id})
}

func (s *Server) handleRemote(fn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := fn(id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Radio ---

func (s *Server) handleRadio(w http.ResponseWriter, r *http.Request) {
	slots := make([]map[string]any, 0, s.radio.SlotCount())
	for id := 0; id < s.radio.SlotCount(); id++ {
		st, _ := s.radio.Slot(id)
		slots = append(slots, map[string]any{
			"slot_id":        id,
			"sim_present":    st.SIMPresent,
			"in_service":     st.InService,
			"ims_registered": st.IMSRegistered,
			"ims_required":   st.IMSRequired,
		})
	}
	s.writeJSON(w, map[string]any{
		"airplane_mode": s.radio.IsAirplaneMode(),
		"slots":         slots,
	})
}

func (s *Server) handleAirplane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	s.radio.SetAirplaneMode(req.On)
	slog.Info("[API] Airplane mode changed", "on", req.On)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		SIMPresent    bool `json:"sim_present"`
		InService     bool `json:"in_service"`
		IMSRegistered bool `json:"ims_registered"`
		IMSRequired   bool `json:"ims_required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	st := policy.SlotStatus(req)
	if err := s.radio.SetSlot(id, st); err != nil {
		s.writeError(w, err)
		return
	}
	slog.Info("[API] Slot status changed", "slot_id", id, "status", st)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

var kindStatus = map[callerr.Kind]int{
	callerr.KindArgumentInvalid:  http.StatusBadRequest,
	callerr.KindNotFound:         http.StatusNotFound,
	callerr.KindAlreadyInState:   http.StatusConflict,
	callerr.KindIllegalOperation: http.StatusConflict,
	callerr.KindCapacityExceeded: http.StatusTooManyRequests,
	callerr.KindPermissionDenied: http.StatusForbidden,
	callerr.KindUninitialized:    http.StatusServiceUnavailable,
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, ok := kindStatus[callerr.KindOf(err)]
	if !ok {
		code = http.StatusInternalServerError
	}
	s.writeJSONStatus(w, code, map[string]string{
		"error":  err.Error(),
		"reason": callerr.ReasonOf(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	s.writeJSONStatus(w, http.StatusOK, v)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
