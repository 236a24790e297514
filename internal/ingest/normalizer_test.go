package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/warehouse"
)

func testWarehouseConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		ProjectID: "test-project",
		Dataset:   "social",
		Tables: config.TablesConfig{
			RedditData:      "reddit_data",
			QuoraData:       "quora_data",
			ContentItems:    "unified_social_content_items",
			EmbeddingsCache: "embeddings_cache",
		},
		Models: config.ModelsConfig{
			Embedding: "embedding_model",
			Sentiment: "sentiment_model",
		},
	}
}

func TestProcessBatchCleanInsertRunsMerge(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("InsertRows", mock.Anything, "reddit_data", mock.Anything).Return(nil, nil)
	wh.On("Exec", mock.Anything, mock.MatchedBy(func(q warehouse.Query) bool {
		return strings.Contains(q.SQL, "MERGE INTO `test-project.social.embeddings_cache`")
	})).Return(nil)

	n := NewNormalizer(wh, testWarehouseConfig(), nil)
	outcome, err := n.ProcessBatch(context.Background(), Envelope{
		JobID:      "snap-1",
		DatasetTag: "gd_lvz8ah06191smkebj4",
		Payload:    []byte(`[{"post_id":"a"},{"post_id":"b"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 2, outcome.RowsInserted)
	assert.Equal(t, SourceReddit, outcome.Source)

	wh.AssertExpectations(t)
	wh.AssertNumberOfCalls(t, "Exec", 1)
}

func TestProcessBatchRowErrorsSkipMerge(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("InsertRows", mock.Anything, "reddit_data", mock.Anything).
		Return([]warehouse.RowError{{Index: 0, Reason: "no such field"}}, nil)

	n := NewNormalizer(wh, testWarehouseConfig(), nil)
	outcome, err := n.ProcessBatch(context.Background(), Envelope{
		JobID:      "snap-2",
		DatasetTag: "gd_lvz8ah06191smkebj4",
		Payload:    []byte(`[{"post_id":"a"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusWithFailures, outcome.Status)
	assert.Equal(t, 1, outcome.RowErrors)

	// The enrichment merge only runs after a clean insert.
	wh.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything)
}

func TestProcessBatchMergeFailureDoesNotAffectOutcome(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	wh.On("InsertRows", mock.Anything, "quora_data", mock.Anything).Return(nil, nil)
	wh.On("Exec", mock.Anything, mock.Anything).Return(errors.New("quota exceeded"))

	n := NewNormalizer(wh, testWarehouseConfig(), nil)
	outcome, err := n.ProcessBatch(context.Background(), Envelope{
		JobID:      "snap-3",
		DatasetTag: "gd_lvz1rbj81afv3m6n5y",
		Payload:    []byte(`[{"post_id":"q"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
}

func TestProcessBatchRejectsUnknownTag(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	n := NewNormalizer(wh, testWarehouseConfig(), nil)

	_, err := n.ProcessBatch(context.Background(), Envelope{
		JobID:      "snap-4",
		DatasetTag: "gd_unknown",
		Payload:    []byte(`[]`),
	})
	assert.ErrorIs(t, err, ErrUnknownSource)
	wh.AssertNotCalled(t, "InsertRows", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBatchRejectsNonArrayPayload(t *testing.T) {
	metrics.Init()

	wh := &warehouse.MockClient{}
	n := NewNormalizer(wh, testWarehouseConfig(), nil)

	_, err := n.ProcessBatch(context.Background(), Envelope{
		JobID:      "snap-5",
		DatasetTag: "gd_lvz8ah06191smkebj4",
		Payload:    []byte(`{"not":"a list"}`),
	})
	assert.ErrorIs(t, err, ErrNotAList)
	wh.AssertNotCalled(t, "InsertRows", mock.Anything, mock.Anything, mock.Anything)
}

func TestMergeSQLUsesCoalesceConflictPolicy(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(&warehouse.MockClient{}, testWarehouseConfig(), nil)
	sql := n.mergeSQL()

	// First-non-null-wins: every updated column must COALESCE the existing
	// value ahead of the incoming one, so reruns cannot flip a field.
	for _, col := range []string{"embeddings", "sentiment_score", "sentiment_magnitude", "embedding_model_name"} {
		assert.Contains(t, sql, "T."+col+" = COALESCE(T."+col+", S."+col+")")
	}
	assert.Contains(t, sql, "ML.GENERATE_EMBEDDING")
	assert.Contains(t, sql, "ML.UNDERSTAND_TEXT")
	assert.Contains(t, sql, "INTERVAL 2 DAY")
}
