package cluster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/warehouse"
)

type fakeClock struct {
	t time.Time
}

func (c fakeClock) Now() time.Time { return c.t }

func testConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		ProjectID: "test-project",
		Dataset:   "social",
		Location:  "eu",
		Tables: config.TablesConfig{
			ContentItems:     "unified_social_content_items",
			EmbeddingsCache:  "embeddings_cache",
			ClusteringRuns:   "kmeans_runs",
			TopicAssignments: "document_topic_assignments",
			UmapCoordinates:  "document_umap_coordinates",
			TopicLabels:      "topic_labels",
		},
		Models: config.ModelsConfig{
			Labeling: "gemini_labeling_model",
		},
	}
}

func sqlContains(marker string) any {
	return mock.MatchedBy(func(q warehouse.Query) bool {
		return strings.Contains(q.SQL, marker)
	})
}

// recordStatuses collects the status parameter of every Exec call so tests
// can assert the run's forward-only progression.
func recordStatuses(wh *warehouse.MockClient, statuses *[]string) *mock.Call {
	return wh.On("Exec", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			q := args.Get(1).(warehouse.Query)
			for _, p := range q.Parameters {
				if p.Name == "status" {
					*statuses = append(*statuses, p.Value.(string))
				}
			}
		}).
		Return(nil)
}

func feedRows(rows ...warehouse.Row) func(mock.Arguments) {
	return func(args mock.Arguments) {
		fn := args.Get(2).(func(warehouse.Row) error)
		for _, row := range rows {
			_ = fn(row)
		}
	}
}

func goodLabelText() string {
	return "LABEL: Espresso Machines\nDESCRIPTION: Discussion of machines and upgrades. Mostly purchase advice.\nCONFIDENCE: 0.9"
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Request{NClusters: 3}.Validate(), ErrNoIDs)
	assert.ErrorIs(t, Request{IDs: []string{"a"}, NClusters: 1}.Validate(), ErrInvalidClusterCount)
	assert.NoError(t, Request{IDs: []string{"a"}, NClusters: 2}.Validate())
}

func TestNewRunIDAndModelName(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	runID := NewRunID(now, 5)
	assert.Equal(t, "kmeans_run_1700000000_5", runID)
	assert.Equal(t, "temp_topic_model_kmeans_run_1700000000_5", ModelName(runID))
}

func TestPerformRejectsInvalidRequestWithoutSubmitting(t *testing.T) {
	t.Parallel()

	wh := &warehouse.MockClient{}
	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)

	_, err := o.Perform(context.Background(), Request{IDs: []string{"a"}, NClusters: 1})
	assert.ErrorIs(t, err, ErrInvalidClusterCount)
	wh.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	wh.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything)
}

func TestPerformAsyncReturnsAfterSubmission(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
		Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
	var statuses []string
	recordStatuses(wh, &statuses)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	resp, err := o.Perform(context.Background(), Request{
		IDs:       []string{"id-1", "id-2"},
		NClusters: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "kmeans_run_1700000000_3", resp.RunID)
	assert.Equal(t, "model-job-1", resp.ModelCreationJobID)
	assert.Empty(t, resp.PredictJobID)
	assert.Nil(t, resp.UmapReduction)
	assert.Nil(t, resp.TopicLabeling)
	assert.Equal(t, []string{StatusSubmitted}, statuses)
	wh.AssertNumberOfCalls(t, "Submit", 1)
}

func TestPerformFullRun(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
		Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
	wh.On("Submit", mock.Anything, sqlContains("ML.PREDICT")).
		Return(&warehouse.MockJob{JobID: "predict-job-1"}, nil)

	var statuses []string
	recordStatuses(wh, &statuses)

	// Three documents with embeddings; small enough that the projection
	// places them directly.
	wh.On("ReadRows", mock.Anything, sqlContains("ARRAY_LENGTH(ec.embeddings) > 0"), mock.Anything).
		Run(feedRows(
			warehouse.Row{"unified_id": "id-1", "embeddings": []float64{0.1, 0.2, 0.3}},
			warehouse.Row{"unified_id": "id-2", "embeddings": []float64{0.4, 0.5, 0.6}},
			warehouse.Row{"unified_id": "id-3", "embeddings": []float64{0.7, 0.8, 0.9}},
		)).
		Return(nil)
	wh.On("ReadRows", mock.Anything, sqlContains("RankedDocs"), mock.Anything).
		Run(feedRows(
			warehouse.Row{"topic_id": int64(1), "topic_documents": "doc a\n---\ndoc b", "avg_assignment_score": 0.12, "num_documents": int64(2)},
			warehouse.Row{"topic_id": int64(2), "topic_documents": "doc c", "avg_assignment_score": 0.3, "num_documents": int64(1)},
		)).
		Return(nil)
	wh.On("ReadRows", mock.Anything, sqlContains("ML.GENERATE_TEXT"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"result": geminiEnvelope(goodLabelText()),
			"status": "",
			"prompt": "prompt text",
		})).
		Return(nil)

	var labelRows []TopicLabelRow
	wh.On("InsertRows", mock.Anything, "document_umap_coordinates", mock.Anything).Return(nil, nil)
	wh.On("InsertRows", mock.Anything, "topic_labels", mock.Anything).
		Run(func(args mock.Arguments) {
			labelRows = args.Get(2).([]TopicLabelRow)
		}).
		Return(nil, nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	resp, err := o.Perform(context.Background(), Request{
		IDs:               []string{"id-1", "id-2", "id-3"},
		NClusters:         2,
		WaitForCompletion: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "kmeans_run_1700000000_2", resp.RunID)
	assert.Equal(t, "model-job-1", resp.ModelCreationJobID)
	assert.Equal(t, "predict-job-1", resp.PredictJobID)
	assert.Equal(t, "test-project.social.document_topic_assignments", resp.PredictionsTable)

	require.NotNil(t, resp.UmapReduction)
	assert.Equal(t, "success", resp.UmapReduction.Status)
	assert.Equal(t, 3, resp.UmapReduction.ProcessedIDs)
	assert.Equal(t, "test-project.social.document_umap_coordinates", resp.CoordinatesTable)

	require.NotNil(t, resp.TopicLabeling)
	assert.Equal(t, "success", resp.TopicLabeling.Status)
	assert.Equal(t, 2, resp.TopicLabeling.TopicsLabeled)
	assert.Equal(t, "test-project.social.topic_labels", resp.LabelsTable)

	// Forward-only status progression.
	assert.Equal(t, []string{
		StatusSubmitted,
		StatusModelCreated,
		StatusPredictionStarted,
		StatusPredictionCompleted,
		StatusCompleted,
	}, statuses)

	// Exactly one row per topic, error channel empty on success.
	require.Len(t, labelRows, 2)
	for _, row := range labelRows {
		assert.Equal(t, "Espresso Machines", row.TopicLabel)
		assert.Nil(t, row.ErrorMessage)
		assert.InDelta(t, 0.9, row.ConfidenceScore, 1e-9)
	}
}

func TestPerformPredictionSubmitFailureMarksRunFailed(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
		Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
	wh.On("Submit", mock.Anything, sqlContains("ML.PREDICT")).
		Return(nil, errors.New("quota exceeded"))

	var statuses []string
	recordStatuses(wh, &statuses)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	_, err := o.Perform(context.Background(), Request{
		IDs:               []string{"id-1"},
		NClusters:         2,
		WaitForCompletion: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, []string{StatusSubmitted, StatusModelCreated, StatusFailed}, statuses)
}

func TestPerformModelJobFailureMarksRunFailed(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
		Return(&warehouse.MockJob{JobID: "model-job-1", WaitErr: errors.New("model fit blew up")}, nil)

	var statuses []string
	recordStatuses(wh, &statuses)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	_, err := o.Perform(context.Background(), Request{
		IDs:               []string{"id-1"},
		NClusters:         2,
		WaitForCompletion: true,
	})
	require.Error(t, err)
	assert.Equal(t, []string{StatusSubmitted, StatusFailed}, statuses)
}

func TestPerformUmapNoEmbeddingsStillCompletes(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
		Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
	wh.On("Submit", mock.Anything, sqlContains("ML.PREDICT")).
		Return(&warehouse.MockJob{JobID: "predict-job-1"}, nil)

	var statuses []string
	recordStatuses(wh, &statuses)

	// No documents have cached embeddings.
	wh.On("ReadRows", mock.Anything, sqlContains("ARRAY_LENGTH(ec.embeddings) > 0"), mock.Anything).
		Return(nil)
	wh.On("ReadRows", mock.Anything, sqlContains("RankedDocs"), mock.Anything).
		Run(feedRows(
			warehouse.Row{"topic_id": int64(1), "topic_documents": "doc a", "avg_assignment_score": 0.2, "num_documents": int64(1)},
		)).
		Return(nil)
	wh.On("ReadRows", mock.Anything, sqlContains("ML.GENERATE_TEXT"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"result": geminiEnvelope(goodLabelText()),
			"status": "",
			"prompt": "prompt text",
		})).
		Return(nil)
	wh.On("InsertRows", mock.Anything, "topic_labels", mock.Anything).Return(nil, nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	resp, err := o.Perform(context.Background(), Request{
		IDs:               []string{"id-1"},
		NClusters:         2,
		WaitForCompletion: true,
	})
	require.NoError(t, err)

	// The projection failure is isolated: the run still completes and
	// labeling runs unaffected.
	require.NotNil(t, resp.UmapReduction)
	assert.Equal(t, "error", resp.UmapReduction.Status)
	assert.Contains(t, resp.UmapReduction.Message, "no valid embeddings")
	assert.Empty(t, resp.CoordinatesTable)
	require.NotNil(t, resp.TopicLabeling)
	assert.Equal(t, "success", resp.TopicLabeling.Status)
	assert.Contains(t, statuses, StatusCompleted)
	wh.AssertNotCalled(t, "InsertRows", mock.Anything, "document_umap_coordinates", mock.Anything)
}

func TestPerformUmapComponentCountVariants(t *testing.T) {
	metrics.Init()

	cases := []struct {
		name        string
		nComponents int
		wantStatus  string
	}{
		{"single component is a stage error", 1, "error"},
		{"pair stores coordinates", 2, "success"},
		{"extra components keep the first two", 3, "success"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wh := &warehouse.MockClient{}
			wh.On("Submit", mock.Anything, sqlContains("CREATE OR REPLACE MODEL")).
				Return(&warehouse.MockJob{JobID: "model-job-1"}, nil)
			wh.On("Submit", mock.Anything, sqlContains("ML.PREDICT")).
				Return(&warehouse.MockJob{JobID: "predict-job-1"}, nil)

			var statuses []string
			recordStatuses(wh, &statuses)

			wh.On("ReadRows", mock.Anything, sqlContains("ARRAY_LENGTH(ec.embeddings) > 0"), mock.Anything).
				Run(feedRows(
					warehouse.Row{"unified_id": "id-1", "embeddings": []float64{0.1, 0.2, 0.3}},
					warehouse.Row{"unified_id": "id-2", "embeddings": []float64{0.4, 0.5, 0.6}},
					warehouse.Row{"unified_id": "id-3", "embeddings": []float64{0.7, 0.8, 0.9}},
				)).
				Return(nil)
			wh.On("InsertRows", mock.Anything, "document_umap_coordinates", mock.Anything).Return(nil, nil)

			o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
			resp, err := o.Perform(context.Background(), Request{
				IDs:               []string{"id-1", "id-2", "id-3"},
				NClusters:         2,
				WaitForCompletion: true,
				SkipLabeling:      true,
				UmapParams:        UmapParams{NComponents: tc.nComponents},
			})
			require.NoError(t, err)

			require.NotNil(t, resp.UmapReduction)
			assert.Equal(t, tc.wantStatus, resp.UmapReduction.Status)

			// However the projection fares, the run still completes.
			require.NotEmpty(t, statuses)
			assert.Equal(t, StatusCompleted, statuses[len(statuses)-1])

			if tc.wantStatus == "error" {
				wh.AssertNotCalled(t, "InsertRows", mock.Anything, "document_umap_coordinates", mock.Anything)
			}
		})
	}
}

func TestLabelTopicMissingConfidenceYieldsPlaceholder(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("ReadRows", mock.Anything, sqlContains("ML.GENERATE_TEXT"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"result": geminiEnvelope("LABEL: Topic\nDESCRIPTION: Something."),
			"status": "",
			"prompt": "prompt text",
		})).
		Return(nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	row := o.labelTopic(context.Background(), "run-1", topicDocs{
		TopicID:            4,
		Documents:          "doc a",
		AvgAssignmentScore: 0.4,
		NumDocuments:       1,
	}, time.Unix(1700000000, 0))

	assert.Equal(t, int64(4), row.TopicID)
	assert.True(t, strings.HasPrefix(row.TopicLabel, "Error:"), "label %q should carry the error marker", row.TopicLabel)
	assert.Zero(t, row.ConfidenceScore)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "CONFIDENCE")
	require.NotNil(t, row.TopicDescription)
	assert.Contains(t, *row.TopicDescription, "Raw response:")
}

func TestLabelTopicInvalidJSONYieldsPlaceholder(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("ReadRows", mock.Anything, sqlContains("ML.GENERATE_TEXT"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"result": "definitely not json",
			"status": "",
			"prompt": "prompt text",
		})).
		Return(nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	row := o.labelTopic(context.Background(), "run-1", topicDocs{TopicID: 1, NumDocuments: 1}, time.Unix(1700000000, 0))

	assert.Equal(t, "Error: Invalid JSON response", row.TopicLabel)
	assert.Zero(t, row.ConfidenceScore)
	require.NotNil(t, row.ErrorMessage)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	wh := &warehouse.MockClient{}
	wh.On("ReadRows", mock.Anything, sqlContains("FROM `test-project.social.kmeans_runs`"), mock.Anything).
		Return(nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	_, err := o.GetRun(context.Background(), "kmeans_run_missing_5")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetRunReturnsRecordWithLabels(t *testing.T) {
	t.Parallel()

	created := time.Unix(1700000000, 0).UTC()
	wh := &warehouse.MockClient{}
	wh.On("ReadRows", mock.Anything, sqlContains("FROM `test-project.social.kmeans_runs`"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"run_id":                "kmeans_run_1700000000_2",
			"created_at":            created,
			"num_topics":            int64(2),
			"model_name":            "temp_topic_model_kmeans_run_1700000000_2",
			"model_creation_job_id": "model-job-1",
			"status":                StatusCompleted,
			"embedding_model":       "text-embedding-004",
		})).
		Return(nil)
	wh.On("ReadRows", mock.Anything, sqlContains("FROM `test-project.social.topic_labels`"), mock.Anything).
		Run(feedRows(warehouse.Row{
			"run_id":           "kmeans_run_1700000000_2",
			"topic_id":         int64(1),
			"created_at":       created,
			"topic_label":      "Espresso Machines",
			"confidence_score": 0.9,
		})).
		Return(nil)

	o := NewOrchestrator(wh, testConfig(), fakeClock{t: time.Unix(1700000000, 0)}, nil)
	record, err := o.GetRun(context.Background(), "kmeans_run_1700000000_2")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, record.Status)
	assert.Equal(t, int64(2), record.NumTopics)
	require.NotNil(t, record.ModelCreationJobID)
	assert.Equal(t, "model-job-1", *record.ModelCreationJobID)
	require.Len(t, record.Labels, 1)
	assert.Equal(t, "Espresso Machines", record.Labels[0].TopicLabel)
}
