package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/cluster"
)

type clusteringRequest struct {
	IDs               []string               `json:"ids"`
	NClusters         *int                   `json:"n_clusters"`
	WaitForCompletion *bool                  `json:"wait_for_completion"`
	SkipUmap          bool                   `json:"skip_umap"`
	SkipLabeling      bool                   `json:"skip_labeling"`
	UmapParams        cluster.UmapParams     `json:"umap_params"`
	LabelingParams    cluster.LabelingParams `json:"labeling_params"`
	Description       string                 `json:"description"`
}

// performClustering starts a clustering run. Shape errors reject with 400
// before any warehouse job is submitted; n_clusters defaults to 5 and
// wait_for_completion to true when absent.
func (s *Server) performClustering(w http.ResponseWriter, r *http.Request) {
	var req clusteringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, `request must include ids list, example: {"ids": ["id_123", "id_456"]}`)
		return
	}

	runReq := cluster.Request{
		IDs:               req.IDs,
		NClusters:         valueOrDefault(req.NClusters, cluster.DefaultNClusters),
		WaitForCompletion: valueOrDefault(req.WaitForCompletion, true),
		SkipUmap:          req.SkipUmap,
		SkipLabeling:      req.SkipLabeling,
		UmapParams:        req.UmapParams,
		LabelingParams:    req.LabelingParams,
		Description:       req.Description,
	}

	resp, err := s.orchestrator.Perform(r.Context(), runReq)
	switch {
	case errors.Is(err, cluster.ErrNoIDs), errors.Is(err, cluster.ErrInvalidClusterCount):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("clustering run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error processing request: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// getClusteringRun reads a run row and its labels back.
func (s *Server) getClusteringRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	record, err := s.orchestrator.GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, cluster.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error("run read-back failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error fetching run")
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
