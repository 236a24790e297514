package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/scrape"
)

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

// triggerScrape forwards a url batch to the scrape provider. Missing
// dataset_id or a malformed urls field rejects with 400; configuration gaps
// and provider failures surface as 500. Non-POST methods are rejected by the
// router with 405.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")

	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, `invalid JSON payload, expected {"urls": [...]}`)
		return
	}

	result, err := s.initiator.TriggerScrape(r.Context(), datasetID, req.URLs)
	switch {
	case errors.Is(err, scrape.ErrMissingDatasetID), errors.Is(err, scrape.ErrNoURLs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scrape.ErrMissingAPIKey), errors.Is(err, scrape.ErrMissingCredentials):
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.logger.Error("scrape trigger failed", zap.String("dataset_id", datasetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger collection: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// serpSearch runs one SERP query and stores its results. The query defaults
// to the literal "pizza" and the pagination offset to "0".
func (s *Server) serpSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		query = "pizza"
	}
	start := r.URL.Query().Get("start")
	if start == "" {
		start = "0"
	}

	result, err := s.initiator.Search(r.Context(), query, start)
	switch {
	case errors.Is(err, scrape.ErrMissingAPIKey):
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.logger.Error("serp search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
