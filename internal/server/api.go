package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jpalmerr/airboard/storage"
)

// Reading windows accepted by /devices/{id}/readings?select=.
const (
	SelectLast    = "Last"
	SelectHours24 = "24H"
	SelectDays7   = "7D"
)

// response is the envelope for every query API reply.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.query.ListDevices(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to get devices")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: devices})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.query.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err, "Failed getting device")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: device})
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	var window time.Duration
	switch sel := r.URL.Query().Get("select"); sel {
	case SelectLast:
		rec, err := s.query.LatestReading(ctx, id)
		if err != nil {
			s.fail(w, err, "Failed getting last record")
			return
		}
		s.writeJSON(w, http.StatusOK, response{Success: true, Data: rec})
		return
	case SelectHours24:
		window = 24 * time.Hour
	case SelectDays7:
		window = 7 * 24 * time.Hour
	default:
		s.writeJSON(w, http.StatusBadRequest, response{
			Message: "select must be one of Last, 24H, 7D",
		})
		return
	}

	records, err := s.query.ReadingsSince(ctx, id, s.now().Add(-window))
	if err != nil {
		s.fail(w, err, "Failed to get records")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: records})
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	records, err := s.query.LatestReadings(r.Context())
	if err != nil {
		s.fail(w, err, "Failed getting records")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: records})
}

// fail maps storage errors to a status code and writes the envelope.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		s.writeJSON(w, http.StatusNotFound, response{Message: "Device not found"})
	case errors.Is(err, storage.ErrNoReading):
		s.writeJSON(w, http.StatusNotFound, response{Message: "No reading recorded"})
	default:
		s.logger.Error("query failed", "message", msg, "error", err)
		s.metrics.StorageError("query")
		s.writeJSON(w, http.StatusInternalServerError, response{Message: msg})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
