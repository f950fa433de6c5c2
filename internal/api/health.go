package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/scheduler"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database string `json:"database"`
	Scanner  string `json:"scanner"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "connected"
	if s.ping == nil || s.ping(r.Context()) != nil {
		dbStatus = "disconnected"
		status = "degraded"
	}

	scanner := "stopped"
	if s.scanner != nil {
		switch {
		case s.scanner.Busy():
			scanner = "scanning"
		case s.scanner.Running():
			scanner = "idle"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Scanner: scanner},
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	err := s.scanner.TriggerAsync()
	if errors.Is(err, scheduler.ErrScanInProgress) {
		writeError(w, http.StatusConflict, "scan already in progress")
		return
	}
	if err != nil {
		s.log.Error("trigger scan", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "scan started"})
}
