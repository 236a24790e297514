// Package cluster orchestrates topic-clustering runs against the warehouse:
// a KMEANS model fit over cached embeddings, centroid prediction, an optional
// 2-D projection of the embedding space, and optional LLM topic labeling.
package cluster

import (
	"errors"
	"fmt"
	"time"
)

// Run statuses. A run only moves forward through these; failed is reachable
// from any stage and nothing is rolled back.
const (
	StatusSubmitted           = "submitted"
	StatusModelCreated        = "model_created"
	StatusPredictionStarted   = "prediction_started"
	StatusPredictionCompleted = "prediction_completed"
	StatusCompleted           = "completed"
	StatusFailed              = "failed"
)

const embeddingModelName = "text-embedding-004"

var (
	// ErrNoIDs rejects a request whose ids list is missing or empty.
	ErrNoIDs = errors.New("ids must be a non-empty list of strings")

	// ErrInvalidClusterCount rejects n_clusters < 2.
	ErrInvalidClusterCount = errors.New("n_clusters must be an integer greater than 1")

	// ErrNoEmbeddings reports that none of the requested ids have a cached
	// embedding vector.
	ErrNoEmbeddings = errors.New("no valid embeddings found for the provided ids")

	// ErrRunNotFound reports an unknown run_id on read-back.
	ErrRunNotFound = errors.New("run not found")
)

// Clock abstracts time for run id generation and row timestamps.
type Clock interface {
	Now() time.Time
}

// Request drives one clustering run.
type Request struct {
	IDs               []string
	NClusters         int
	WaitForCompletion bool
	SkipUmap          bool
	SkipLabeling      bool
	UmapParams        UmapParams
	LabelingParams    LabelingParams
	Description       string
}

// UmapParams carries the caller-tunable projection knobs. Zero values fall
// back to the orchestrator defaults below.
type UmapParams struct {
	NNeighbors  int     `json:"n_neighbors"`
	MinDist     float64 `json:"min_dist"`
	Metric      string  `json:"metric"`
	NComponents int     `json:"n_components"`
}

// LabelingParams tunes the topic-labeling stage.
type LabelingParams struct {
	NumDocsPerTopic int `json:"num_docs_per_topic"`
	MaxTextLength   int `json:"max_text_length"`
}

// Orchestrator defaults.
const (
	DefaultNClusters = 5

	defaultUmapNeighbors  = 10
	defaultUmapMinDist    = 0.0
	defaultUmapMetric     = "cosine"
	defaultUmapComponents = 2

	defaultDocsPerTopic  = 10
	defaultMaxTextLength = 500
)

// Validate enforces the request shape before any job is submitted.
func (r Request) Validate() error {
	if len(r.IDs) == 0 {
		return ErrNoIDs
	}
	if r.NClusters < 2 {
		return ErrInvalidClusterCount
	}
	return nil
}

// NewRunID derives the run identifier from the submission time and cluster
// count. Uniqueness rests on one run per second per count, which holds for
// the request rates this service sees.
func NewRunID(now time.Time, nClusters int) string {
	return fmt.Sprintf("kmeans_run_%d_%d", now.Unix(), nClusters)
}

// ModelName is the per-run temporary model created by the fit stage.
func ModelName(runID string) string {
	return "temp_topic_model_" + runID
}

// StageOutcome reports an optional stage's result in the response payload.
type StageOutcome struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ProcessedIDs  int    `json:"processed_ids,omitempty"`
	TopicsLabeled int    `json:"num_topics_labeled,omitempty"`
}

// Response summarizes a run for the HTTP caller.
type Response struct {
	Status             string        `json:"status"`
	Message            string        `json:"message"`
	RunID              string        `json:"run_id"`
	ModelCreationJobID string        `json:"model_creation_job_id"`
	PredictJobID       string        `json:"predict_job_id,omitempty"`
	PredictionsTable   string        `json:"predictions_table,omitempty"`
	CoordinatesTable   string        `json:"coordinates_table,omitempty"`
	LabelsTable        string        `json:"labels_table,omitempty"`
	InputSummary       InputSummary  `json:"input_summary"`
	UmapReduction      *StageOutcome `json:"umap_reduction,omitempty"`
	TopicLabeling      *StageOutcome `json:"topic_labeling,omitempty"`
}

// InputSummary echoes the request dimensions back to the caller.
type InputSummary struct {
	NumIDs    int `json:"num_ids"`
	NClusters int `json:"n_clusters"`
}

// RunRecord is the persisted run row, read back by the status endpoint.
type RunRecord struct {
	RunID              string          `json:"run_id"`
	CreatedAt          time.Time       `json:"created_at"`
	NumTopics          int64           `json:"num_topics"`
	Description        *string         `json:"description,omitempty"`
	ModelName          string          `json:"model_name"`
	ModelCreationJobID *string         `json:"model_creation_job_id,omitempty"`
	PredictJobID       *string         `json:"predict_job_id,omitempty"`
	Status             string          `json:"status"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	EmbeddingModel     string          `json:"embedding_model"`
	Labels             []TopicLabelRow `json:"labels,omitempty"`
}
