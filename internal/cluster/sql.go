package cluster

import "fmt"

// SQL statements driven by the orchestrator. All table and model names are
// fully qualified through the config; row-level values bind as query
// parameters, never string interpolation.

func (o *Orchestrator) qualified(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", o.cfg.ProjectID, o.cfg.Dataset, name)
}

// createModelSQL fits a per-run KMEANS model over the cached embeddings of
// the requested ids, skipping rows without a non-empty vector.
func (o *Orchestrator) createModelSQL(runID string, nClusters int) string {
	return fmt.Sprintf(`
CREATE OR REPLACE MODEL %s
OPTIONS(
  model_type='KMEANS',
  num_clusters=%d,
  kmeans_init_method='KMEANS_PLUS_PLUS',
  max_iterations=50,
  distance_type='COSINE'
)
AS
SELECT
  ec.unified_id,
  ec.embeddings AS feature_vector
FROM %s AS v
INNER JOIN %s AS ec
  ON v.content_item_id = ec.unified_id
WHERE
  ec.unified_id IN UNNEST(@unified_id_list)
  AND ec.embeddings IS NOT NULL AND ARRAY_LENGTH(ec.embeddings) > 0`,
		o.qualified(ModelName(runID)),
		nClusters,
		o.qualified(o.cfg.Tables.ContentItems),
		o.qualified(o.cfg.Tables.EmbeddingsCache),
	)
}

// predictSQL assigns each id to its nearest centroid and lands the result in
// the topic assignments table, denormalized with content metadata and
// sentiment. The assignment score is the distance to the nearest centroid,
// lower meaning a closer fit.
func (o *Orchestrator) predictSQL(runID string) string {
	contentItems := o.qualified(o.cfg.Tables.ContentItems)
	embeddingsCache := o.qualified(o.cfg.Tables.EmbeddingsCache)
	return fmt.Sprintf(`
INSERT INTO %s (
  run_id, unified_id, topic_id, assignment_score, assigned_at,
  source, content_type, content_timestamp, primary_text, sentiment_score, sentiment_magnitude
)
SELECT
  @run_id AS run_id,
  predicted_results.unified_id,
  predicted_results.CENTROID_ID AS topic_id,
  predicted_results.NEAREST_CENTROIDS_DISTANCE[OFFSET(0)].DISTANCE AS assignment_score,
  CURRENT_TIMESTAMP() AS assigned_at,
  v.source,
  v.content_type,
  v.content_timestamp,
  v.primary_text,
  ec_full.sentiment_score,
  ec_full.sentiment_magnitude
FROM
  ML.PREDICT(
    MODEL %s,
    (
      SELECT
        ec.unified_id,
        ec.embeddings AS feature_vector
      FROM %s AS v
      INNER JOIN %s AS ec
        ON v.content_item_id = ec.unified_id
      WHERE
        ec.unified_id IN UNNEST(@unified_id_list)
        AND ec.embeddings IS NOT NULL AND ARRAY_LENGTH(ec.embeddings) > 0
    )
  ) AS predicted_results
JOIN %s AS v
  ON predicted_results.unified_id = v.content_item_id
JOIN %s AS ec_full
  ON predicted_results.unified_id = ec_full.unified_id`,
		o.qualified(o.cfg.Tables.TopicAssignments),
		o.qualified(ModelName(runID)),
		contentItems,
		embeddingsCache,
		contentItems,
		embeddingsCache,
	)
}

func (o *Orchestrator) insertRunSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s
(run_id, created_at, num_topics, description, model_name, model_creation_job_id, status, embedding_model)
VALUES
(@run_id, @created_at, @num_topics, @description, @model_name, @model_creation_job_id, @status, @embedding_model)`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) insertFailedRunSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s
(run_id, created_at, num_topics, description, model_name, status, error_message, embedding_model)
VALUES
(@run_id, @created_at, @num_topics, @description, @model_name, @status, @error_message, @embedding_model)`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) updateStatusSQL() string {
	return fmt.Sprintf(`
UPDATE %s
SET status = @status
WHERE run_id = @run_id`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) updatePredictJobSQL() string {
	return fmt.Sprintf(`
UPDATE %s
SET predict_job_id = @predict_job_id,
    status = @status
WHERE run_id = @run_id`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) markFailedSQL() string {
	return fmt.Sprintf(`
UPDATE %s
SET status = @status,
    error_message = @error_message
WHERE run_id = @run_id`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) fetchEmbeddingsSQL() string {
	return fmt.Sprintf(`
SELECT
  ec.unified_id,
  ec.embeddings
FROM %s AS ec
WHERE
  ec.unified_id IN UNNEST(@unified_id_list)
  AND ec.embeddings IS NOT NULL
  AND ARRAY_LENGTH(ec.embeddings) > 0`,
		o.qualified(o.cfg.Tables.EmbeddingsCache))
}

// topDocumentsSQL aggregates the closest-fitting documents per topic into one
// separator-joined string, truncated per document.
func (o *Orchestrator) topDocumentsSQL() string {
	return fmt.Sprintf(`
WITH RankedDocs AS (
  SELECT
    topic_id,
    primary_text,
    assignment_score,
    ROW_NUMBER() OVER (PARTITION BY topic_id ORDER BY assignment_score ASC) AS doc_rank
  FROM %s
  WHERE run_id = @run_id
)
SELECT
  topic_id,
  STRING_AGG(
    SUBSTR(primary_text, 1, @max_text_length),
    '\n---\n'
    ORDER BY doc_rank
    LIMIT @num_docs
  ) AS topic_documents,
  AVG(assignment_score) AS avg_assignment_score,
  COUNT(*) AS num_documents
FROM RankedDocs
WHERE doc_rank <= @num_docs
GROUP BY topic_id`,
		o.qualified(o.cfg.Tables.TopicAssignments))
}

// generateTextSQL invokes the managed text-generation model over one prompt.
func (o *Orchestrator) generateTextSQL() string {
	return fmt.Sprintf(`
SELECT
  ml_generate_text_result AS result,
  ml_generate_text_status AS status,
  prompt
FROM ML.GENERATE_TEXT(
  MODEL %s,
  (
    SELECT @prompt AS prompt
  ),
  STRUCT(
    0.2 AS temperature,
    1024 AS max_output_tokens,
    0.95 AS top_p,
    40 AS top_k
  )
)`,
		o.qualified(o.cfg.Models.Labeling))
}

func (o *Orchestrator) fetchRunSQL() string {
	return fmt.Sprintf(`
SELECT
  run_id, created_at, num_topics, description, model_name,
  model_creation_job_id, predict_job_id, status, error_message, embedding_model
FROM %s
WHERE run_id = @run_id
LIMIT 1`,
		o.qualified(o.cfg.Tables.ClusteringRuns))
}

func (o *Orchestrator) fetchLabelsSQL() string {
	return fmt.Sprintf(`
SELECT
  run_id, topic_id, created_at, topic_label, topic_description,
  confidence_score, num_documents_used, avg_assignment_score, model_metadata, error_message
FROM %s
WHERE run_id = @run_id
ORDER BY topic_id`,
		o.qualified(o.cfg.Tables.TopicLabels))
}
