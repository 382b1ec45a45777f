package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/cycler/internal/harvester"
)

// handleHarvest starts a pass in the background and returns 202. A pass that
// is already running yields 409.
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	st, err := s.harvester.Status(r.Context())
	if err == nil && st.PassRunning {
		writeJSONStatus(w, http.StatusConflict, ErrorResponse{Error: harvester.ErrPassRunning.Error(), Code: "HRV002"})
		return
	}

	go func() {
		res, err := s.harvester.RunPass(s.baseCtx)
		if errors.Is(err, harvester.ErrPassRunning) {
			return
		}
		if err != nil {
			slog.Error("requested harvest pass failed", "error", err)
			return
		}
		slog.Info("requested harvest pass completed",
			"run_id", res.RunID,
			"imported", res.Imported,
			"failed", res.Failed,
		)
	}()

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleHarvestStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.harvester.Status(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, st)
}
