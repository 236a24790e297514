package ingest

import "fmt"

// The enrichment merge finds content items loaded in the last 2 days that are
// missing an embedding or a sentiment score, computes both through the managed
// ML models, and merges the results into the embeddings cache.
//
// Conflict policy is first-non-null-wins: every SET column goes through
// COALESCE(target, source), so a value already cached is never overwritten.
// Re-running the merge with no new content leaves the cache unchanged.
const mergeTemplate = `
MERGE INTO %[1]s AS T
USING (
  WITH SourceData AS (
    SELECT v.content_item_id, v.primary_text AS content
    FROM %[2]s AS v
    LEFT JOIN %[1]s AS ec
    ON v.content_item_id = ec.unified_id
    WHERE
      v.record_load_timestamp >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL 2 DAY)
      AND (ec.unified_id IS NULL OR ec.sentiment_score IS NULL OR ec.embeddings IS NULL OR ARRAY_LENGTH(ec.embeddings) = 0)
      AND v.primary_text IS NOT NULL AND LENGTH(TRIM(v.primary_text)) > 0
  ),
  EmbeddingResults AS (
    SELECT generated.content_item_id, generated.ml_generate_embedding_result AS embeddings_array, generated.ml_generate_embedding_status AS embedding_status
    FROM ML.GENERATE_EMBEDDING(
      MODEL %[3]s,
      (SELECT content_item_id, content FROM SourceData),
      STRUCT(TRUE AS flatten_json_output, 'CLUSTERING' as task_type)
    ) AS generated
  ),
  SentimentResults AS (
    SELECT
      understand_results.content_item_id,
      CAST(JSON_VALUE(understand_results.ml_understand_text_result, '$.document_sentiment.score') AS FLOAT64) AS sentiment_score,
      CAST(JSON_VALUE(understand_results.ml_understand_text_result, '$.document_sentiment.magnitude') AS FLOAT64) AS sentiment_magnitude,
      understand_results.ml_understand_text_status AS sentiment_status
    FROM ML.UNDERSTAND_TEXT(
      MODEL %[4]s,
      (SELECT content_item_id, content AS text_content FROM SourceData),
      STRUCT('analyze_sentiment' AS nlu_option)
    ) AS understand_results
  )
  SELECT
    COALESCE(er.content_item_id, sr.content_item_id) AS unified_id,
    er.embeddings_array AS embeddings,
    CURRENT_TIMESTAMP() AS embedding_generated_at,
    'text-embedding-004' AS embedding_model_name,
    'CLUSTERING' AS embedding_task_type,
    sr.sentiment_score,
    sr.sentiment_magnitude,
    er.embedding_status,
    sr.sentiment_status
  FROM EmbeddingResults AS er
  FULL OUTER JOIN SentimentResults AS sr
  ON er.content_item_id = sr.content_item_id
  WHERE
    (LENGTH(COALESCE(er.embedding_status, '')) = 0 OR er.content_item_id IS NULL)
    AND (LENGTH(COALESCE(sr.sentiment_status, '')) = 0 OR sr.content_item_id IS NULL)
    AND (er.content_item_id IS NOT NULL OR sr.content_item_id IS NOT NULL)
) AS S
ON T.unified_id = S.unified_id
WHEN NOT MATCHED THEN
  INSERT (unified_id, embeddings, embedding_model_name, embedding_task_type, embedding_generated_at, sentiment_score, sentiment_magnitude)
  VALUES (S.unified_id, S.embeddings, S.embedding_model_name, S.embedding_task_type, S.embedding_generated_at, S.sentiment_score, S.sentiment_magnitude)
WHEN MATCHED THEN
  UPDATE SET
    T.embeddings = COALESCE(T.embeddings, S.embeddings),
    T.embedding_model_name = COALESCE(T.embedding_model_name, S.embedding_model_name),
    T.embedding_task_type = COALESCE(T.embedding_task_type, S.embedding_task_type),
    T.embedding_generated_at = COALESCE(T.embedding_generated_at, S.embedding_generated_at),
    T.sentiment_score = COALESCE(T.sentiment_score, S.sentiment_score),
    T.sentiment_magnitude = COALESCE(T.sentiment_magnitude, S.sentiment_magnitude)
`

func (n *Normalizer) mergeSQL() string {
	return fmt.Sprintf(mergeTemplate,
		n.qualified(n.cfg.Tables.EmbeddingsCache),
		n.qualified(n.cfg.Tables.ContentItems),
		n.qualified(n.cfg.Models.Embedding),
		n.qualified(n.cfg.Models.Sentiment),
	)
}

func (n *Normalizer) qualified(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", n.cfg.ProjectID, n.cfg.Dataset, name)
}
