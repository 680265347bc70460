// internal/handler/activity_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/mailleopard-backend/internal/repository"
	"github.com/unclebandit/mailleopard-backend/internal/service"
)

type ActivityHandler struct {
	Service *service.CampaignService
	Repo    *repository.ActivityRepository
}

// ExportHandler returns the activity log of the in-process run.
func (h *ActivityHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":  h.Service.RunID(),
		"entries": h.Service.ActivityExport(),
	})
}

// RunExportHandler returns the persisted activity log of any past run.
func (h *ActivityHandler) RunExportHandler(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		http.Error(w, "activity store unavailable", http.StatusServiceUnavailable)
		return
	}

	runID := chi.URLParam(r, "runID")
	entries, err := h.Repo.ListByRun(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":  runID,
		"entries": entries,
	})
}
