// Package httpapi is the sauna supervisor's front door: a small JSON API
// for the eight operator commands plus a Server-Sent Events stream of the
// live snapshot, following the ServeMux + routes-map layout of the
// teacher's CiA-309-5 gateway server.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/snapshot"
)

// Poster is the narrow bus surface the HTTP layer needs.
type Poster interface {
	Post(e bus.Event)
}

type Handler func(w http.ResponseWriter, r *http.Request)

// Server exposes the operator command API and the /events SSE stream.
type Server struct {
	logger      *slog.Logger
	serveMux    *http.ServeMux
	routes      map[string]Handler
	bus         Poster
	broadcaster *snapshot.Broadcaster
	commandWait time.Duration
}

func NewServer(busPoster Poster, broadcaster *snapshot.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:      logger.With("service", "[HTTP]"),
		bus:         busPoster,
		broadcaster: broadcaster,
		commandWait: 5 * time.Second,
	}
	s.serveMux = http.NewServeMux()
	s.routes = make(map[string]Handler)

	s.addRoute("/api/mcb", s.handleCommand(bus.CmdGetMcb))
	s.addRoute("/api/mcb/on", s.handleCommand(bus.CmdTurnOn))
	s.addRoute("/api/mcb/off", s.handleCommand(bus.CmdTurnOff))
	s.addRoute("/api/mcb/toggle", s.handleCommand(bus.CmdToggle))
	s.addRoute("/api/mcb/force-on", s.handleCommand(bus.CmdForceOn))
	s.addRoute("/api/mcb/force-off", s.handleCommand(bus.CmdForceOff))
	s.addRoute("/api/notify/test", s.handleCommand(bus.CmdTestNotify))
	s.addRoute("/api/health", s.handleCommand(bus.CmdHealth))
	s.addRoute("/events", s.handleEvents)

	for path, handler := range s.routes {
		s.serveMux.HandleFunc(path, handler)
	}
	return s
}

func (s *Server) addRoute(path string, handler Handler) {
	s.logger.Debug("registering route", "path", path)
	s.routes[path] = handler
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.serveMux)
}

// Handler exposes the underlying mux, for embedding into a larger server
// or for httptest in callers' own test files.
func (s *Server) Handler() http.Handler {
	return s.serveMux
}

func (s *Server) handleCommand(kind bus.OperatorCommandKind) Handler {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan bus.CommandResult, 1)
		s.bus.Post(bus.OperatorCommand{Kind: kind, Reply: reply})

		ctx, cancel := context.WithTimeout(r.Context(), s.commandWait)
		defer cancel()

		select {
		case result := <-reply:
			writeJSON(w, statusFor(result), result)
		case <-ctx.Done():
			s.logger.Warn("command reply timed out", "kind", kind)
			writeJSON(w, http.StatusGatewayTimeout, bus.CommandResult{
				Ok: false, ErrKind: "timeout", Message: "supervisor did not reply in time",
			})
		}
	}
}

func statusFor(result bus.CommandResult) int {
	if result.Ok {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// connectedRecord is the synthetic record sent once, immediately after
// Subscribe, so a client can correlate its own stream with the subscriber
// id used by Unsubscribe and by server-side logging.
type connectedRecord struct {
	SubscriberID string `json:"subscriberId"`
}

type mcbStatusRecord struct {
	Status string `json:"status"`
	Source string `json:"source"`
}

type sensorDataRecord struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
}

type temperatureRecord struct {
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type doorRecord struct {
	IsOpen bool `json:"isOpen"`
}

type ventilatorRecord struct {
	Status              bool  `json:"status"`
	DelayedOffRemaining int64 `json:"delayedOffRemaining"`
}

type floorHeatingRecord struct {
	CurrentTemp float64 `json:"currentTemp"`
	TargetTemp  float64 `json:"targetTemp"`
	Mode        string  `json:"mode"`
	Action      string  `json:"action"`
}

// handleEvents streams the live snapshot as Server-Sent Events: a synthetic
// connected record immediately on subscribe, then one named record per
// populated component of every subsequent published snapshot, until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	s.writeEvent(w, "connected", connectedRecord{SubscriberID: id})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.writeSnapshotRecords(w, snap)
			flusher.Flush()
		}
	}
}

func (s *Server) writeSnapshotRecords(w http.ResponseWriter, snap snapshot.Snapshot) {
	s.writeEvent(w, "mcb_status", mcbStatusRecord{Status: snap.Mcb.String(), Source: snap.McbSource})
	if snap.Phases != nil {
		s.writeEvent(w, "sensor_data", sensorDataRecord{L1: snap.Phases.L1, L2: snap.Phases.L2, L3: snap.Phases.L3})
	}
	if snap.Temperature != nil {
		s.writeEvent(w, "temperature", temperatureRecord{Temperature: snap.Temperature.Celsius, Humidity: snap.Temperature.Humidity})
	}
	if snap.Door != nil {
		s.writeEvent(w, "door", doorRecord{IsOpen: snap.Door.IsOpen})
	}
	if snap.Ventilator != nil {
		s.writeEvent(w, "ventilator", ventilatorRecord{
			Status:              snap.Ventilator.IsOn,
			DelayedOffRemaining: snap.Ventilator.DelayedOffRemainingMs,
		})
	}
	if snap.FloorHeating != nil {
		s.writeEvent(w, "floor_heating", floorHeatingRecord{
			CurrentTemp: snap.FloorHeating.CurrentC,
			TargetTemp:  snap.FloorHeating.TargetC,
			Mode:        snap.FloorHeating.Mode,
			Action:      snap.FloorHeating.Action,
		})
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, name string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to marshal event", "event", name, "err", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
