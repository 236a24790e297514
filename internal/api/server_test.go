package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/senseworks/social-listening/internal/cluster"
	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/scrape"
	"github.com/senseworks/social-listening/internal/warehouse"
)

type stubClock struct {
	t time.Time
}

func (c stubClock) Now() time.Time { return c.t }

type stubIDs struct{}

func (stubIDs) NewV4ID() (string, error) { return "row-id-1", nil }

type stubProvider struct {
	trigger  scrape.TriggerResponse
	envelope scrape.SerpEnvelope
	err      error
}

func (s *stubProvider) TriggerCollection(context.Context, string, []string) (scrape.TriggerResponse, error) {
	return s.trigger, s.err
}

func (s *stubProvider) Search(context.Context, string, string) (scrape.SerpEnvelope, error) {
	return s.envelope, s.err
}

func apiWarehouseConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		ProjectID: "test-project",
		Dataset:   "social",
		Tables: config.TablesConfig{
			ScrapeJobs:       "scrape_job",
			ContentItems:     "unified_social_content_items",
			EmbeddingsCache:  "embeddings_cache",
			ClusteringRuns:   "kmeans_runs",
			TopicAssignments: "document_topic_assignments",
			UmapCoordinates:  "document_umap_coordinates",
			TopicLabels:      "topic_labels",
			SerpSearches:     "serp_searches",
			SerpResults:      "serp_results",
		},
		Models: config.ModelsConfig{Labeling: "gemini_labeling_model"},
	}
}

func newTestServer(wh *warehouse.MockClient, provider *stubProvider, bdCfg config.BrightDataConfig) *Server {
	metrics.Init()
	whCfg := apiWarehouseConfig()
	clk := stubClock{t: time.Unix(1700000000, 0).UTC()}

	orchestrator := cluster.NewOrchestrator(wh, whCfg, clk, nil)
	initiator := scrape.NewInitiator(provider, wh, whCfg, bdCfg, stubIDs{}, clk, nil)
	return NewServer(orchestrator, initiator, nil)
}

func configuredBrightData() config.BrightDataConfig {
	return config.BrightDataConfig{
		APIKey:      "key",
		ClientEmail: "svc@test.iam",
		PrivateKey:  "pk",
	}
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(&warehouse.MockClient{}, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerformClusteringRejectsInvalidClusterCount(t *testing.T) {
	wh := &warehouse.MockClient{}
	s := newTestServer(wh, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodPost, "/v1/clustering/runs",
		`{"ids": ["id-1"], "n_clusters": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "error", payload["status"])

	// No warehouse job may be submitted on a 400.
	wh.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestPerformClusteringRejectsMissingIDs(t *testing.T) {
	wh := &warehouse.MockClient{}
	s := newTestServer(wh, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodPost, "/v1/clustering/runs", `{"n_clusters": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	wh.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	rec = doRequest(t, s, http.MethodPost, "/v1/clustering/runs", `{"ids": "not-a-list"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPerformClusteringAsync(t *testing.T) {
	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, mock.Anything).
		Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
	wh.On("Exec", mock.Anything, mock.Anything).Return(nil)

	s := newTestServer(wh, &stubProvider{}, configuredBrightData())
	rec := doRequest(t, s, http.MethodPost, "/v1/clustering/runs",
		`{"ids": ["id-1", "id-2"], "n_clusters": 3, "wait_for_completion": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "kmeans_run_1700000000_3", payload["run_id"])
	assert.Equal(t, "model-job-1", payload["model_creation_job_id"])
}

func TestGetClusteringRunNotFound(t *testing.T) {
	wh := &warehouse.MockClient{}
	wh.On("ReadRows", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	s := newTestServer(wh, &stubProvider{}, configuredBrightData())
	rec := doRequest(t, s, http.MethodGet, "/v1/clustering/runs/kmeans_run_0_5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSerpSearchDefaultsQuery(t *testing.T) {
	provider := &stubProvider{}
	provider.envelope.Input.RequestID = "req-1"

	wh := &warehouse.MockClient{}
	wh.On("InsertRows", mock.Anything, "serp_searches", mock.Anything).Return(nil, nil)

	s := newTestServer(wh, provider, configuredBrightData())
	rec := doRequest(t, s, http.MethodGet, "/v1/search", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "pizza", payload["query"])
	assert.Equal(t, float64(0), payload["rows_inserted"])
}

func TestSerpSearchMissingAPIKey(t *testing.T) {
	bd := configuredBrightData()
	bd.APIKey = ""
	s := newTestServer(&warehouse.MockClient{}, &stubProvider{}, bd)

	rec := doRequest(t, s, http.MethodGet, "/v1/search?q=espresso", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "error", payload["status"])
}

func TestTriggerScrapeMissingDatasetID(t *testing.T) {
	s := newTestServer(&warehouse.MockClient{}, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodPost, "/v1/scrape", `{"urls": ["https://a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerScrapeRejectsNonPost(t *testing.T) {
	s := newTestServer(&warehouse.MockClient{}, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodGet, "/v1/scrape?dataset_id=gd_x", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggerScrapeMalformedURLs(t *testing.T) {
	s := newTestServer(&warehouse.MockClient{}, &stubProvider{}, configuredBrightData())

	rec := doRequest(t, s, http.MethodPost, "/v1/scrape?dataset_id=gd_x", `{"urls": "https://a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/scrape?dataset_id=gd_x", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerScrapeSuccess(t *testing.T) {
	provider := &stubProvider{trigger: scrape.TriggerResponse{
		SnapshotID: "snap_5",
		Raw:        map[string]any{"snapshot_id": "snap_5"},
	}}
	wh := &warehouse.MockClient{}
	wh.On("InsertRows", mock.Anything, "scrape_job", mock.Anything).Return(nil, nil)

	s := newTestServer(wh, provider, configuredBrightData())
	rec := doRequest(t, s, http.MethodPost, "/v1/scrape?dataset_id=gd_x",
		`{"urls": ["https://a", "https://b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "success", payload["bigquery_insert_status"])
}
