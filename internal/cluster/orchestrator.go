package cluster

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/umap"
	"github.com/senseworks/social-listening/internal/warehouse"
)

// Orchestrator drives the staged clustering pipeline against the warehouse.
// Stages run sequentially; the fit and prediction stages are mandatory and a
// failure there marks the run failed and propagates. The projection and
// labeling stages are optional and their failures are reported in the
// response without touching the run's terminal status.
type Orchestrator struct {
	wh     warehouse.Client
	cfg    config.WarehouseConfig
	clock  Clock
	logger *zap.Logger
}

// NewOrchestrator wires an orchestrator. A nil logger falls back to a no-op.
func NewOrchestrator(wh warehouse.Client, cfg config.WarehouseConfig, clk Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{wh: wh, cfg: cfg, clock: clk, logger: logger}
}

// Perform runs one clustering request end to end. With WaitForCompletion
// unset it returns right after the fit job is submitted.
func (o *Orchestrator) Perform(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	runID := NewRunID(o.clock.Now(), req.NClusters)
	o.logger.Info("starting clustering run",
		zap.String("run_id", runID),
		zap.Int("num_ids", len(req.IDs)),
		zap.Int("n_clusters", req.NClusters))

	modelJob, err := o.createModel(ctx, runID, req)
	if err != nil {
		metrics.ObserveClusteringRun(StatusFailed)
		return Response{}, err
	}

	resp := Response{
		Status:             "success",
		Message:            "clustering job submitted successfully",
		RunID:              runID,
		ModelCreationJobID: modelJob.ID(),
		InputSummary:       InputSummary{NumIDs: len(req.IDs), NClusters: req.NClusters},
	}

	if !req.WaitForCompletion {
		metrics.ObserveClusteringRun(StatusSubmitted)
		return resp, nil
	}

	predictJobID, err := o.runMandatoryStages(ctx, runID, req, modelJob)
	if err != nil {
		metrics.ObserveClusteringRun(StatusFailed)
		return Response{}, err
	}
	resp.PredictJobID = predictJobID
	resp.PredictionsTable = o.tableRef(o.cfg.Tables.TopicAssignments)
	resp.Message = "clustering and prediction completed successfully"

	if !req.SkipUmap {
		resp.UmapReduction = o.runUmapStage(ctx, runID, req)
		if resp.UmapReduction.Status == "success" {
			resp.CoordinatesTable = o.tableRef(o.cfg.Tables.UmapCoordinates)
		}
	}

	// The run is complete once prediction has landed; the optional stages
	// never hold it back.
	if err := o.updateStatus(ctx, runID, StatusCompleted); err != nil {
		o.logger.Error("failed to mark run completed", zap.String("run_id", runID), zap.Error(err))
	}
	metrics.ObserveClusteringRun(StatusCompleted)

	if !req.SkipLabeling {
		resp.TopicLabeling = o.runLabelingStage(ctx, runID, req)
		if resp.TopicLabeling.Status == "success" {
			resp.LabelsTable = o.tableRef(o.cfg.Tables.TopicLabels)
		}
	}

	return resp, nil
}

// createModel submits the KMEANS fit job and records the run row. On
// submission failure a failed run row is written best-effort before the error
// propagates.
func (o *Orchestrator) createModel(ctx context.Context, runID string, req Request) (warehouse.JobHandle, error) {
	q := warehouse.Query{
		SQL: o.createModelSQL(runID, req.NClusters),
		Parameters: []warehouse.Parameter{
			{Name: "unified_id_list", Value: req.IDs},
		},
		Labels: map[string]string{
			"run_id":     strings.ToLower(runID),
			"job_type":   "kmeans_model_creation",
			"num_topics": strconv.Itoa(req.NClusters),
		},
	}

	job, err := o.wh.Submit(ctx, q)
	if err != nil {
		o.logger.Error("model creation submission failed", zap.String("run_id", runID), zap.Error(err))
		o.insertFailedRun(ctx, runID, req, err)
		return nil, fmt.Errorf("submit model creation: %w", err)
	}
	o.logger.Info("model creation job submitted",
		zap.String("run_id", runID), zap.String("job_id", job.ID()))

	insert := warehouse.Query{
		SQL: o.insertRunSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
			{Name: "created_at", Value: o.clock.Now()},
			{Name: "num_topics", Value: int64(req.NClusters)},
			{Name: "description", Value: nullableString(req.Description)},
			{Name: "model_name", Value: ModelName(runID)},
			{Name: "model_creation_job_id", Value: job.ID()},
			{Name: "status", Value: StatusSubmitted},
			{Name: "embedding_model", Value: embeddingModelName},
		},
	}
	if err := o.wh.Exec(ctx, insert); err != nil {
		o.logger.Error("run row insert failed", zap.String("run_id", runID), zap.Error(err))
		o.insertFailedRun(ctx, runID, req, err)
		return nil, fmt.Errorf("insert run row: %w", err)
	}

	return job, nil
}

// runMandatoryStages waits out the fit job, runs prediction, and advances the
// run status after each stage. Any failure marks the run failed and returns.
func (o *Orchestrator) runMandatoryStages(ctx context.Context, runID string, req Request, modelJob warehouse.JobHandle) (string, error) {
	if err := modelJob.Wait(ctx); err != nil {
		o.markFailed(ctx, runID, err)
		return "", fmt.Errorf("model creation job: %w", err)
	}
	if err := o.updateStatus(ctx, runID, StatusModelCreated); err != nil {
		o.logger.Error("status update failed", zap.String("run_id", runID), zap.Error(err))
	}

	predictJob, err := o.wh.Submit(ctx, warehouse.Query{
		SQL: o.predictSQL(runID),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
			{Name: "unified_id_list", Value: req.IDs},
		},
		Labels: map[string]string{
			"run_id":   strings.ToLower(runID),
			"job_type": "kmeans_prediction",
		},
	})
	if err != nil {
		o.markFailed(ctx, runID, err)
		return "", fmt.Errorf("submit prediction: %w", err)
	}

	if err := o.wh.Exec(ctx, warehouse.Query{
		SQL: o.updatePredictJobSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "predict_job_id", Value: predictJob.ID()},
			{Name: "status", Value: StatusPredictionStarted},
			{Name: "run_id", Value: runID},
		},
	}); err != nil {
		o.logger.Error("predict job bookkeeping failed", zap.String("run_id", runID), zap.Error(err))
	}

	if err := predictJob.Wait(ctx); err != nil {
		o.markFailed(ctx, runID, err)
		return "", fmt.Errorf("prediction job: %w", err)
	}
	if err := o.updateStatus(ctx, runID, StatusPredictionCompleted); err != nil {
		o.logger.Error("status update failed", zap.String("run_id", runID), zap.Error(err))
	}

	return predictJob.ID(), nil
}

// runUmapStage fetches the cached embeddings, projects them to two
// dimensions, and stores one coordinate pair per document. Failures are
// contained in the returned outcome.
func (o *Orchestrator) runUmapStage(ctx context.Context, runID string, req Request) *StageOutcome {
	validIDs, vectors, err := o.fetchEmbeddings(ctx, req.IDs)
	if err != nil {
		o.logger.Error("umap stage failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}
	if len(validIDs) < len(req.IDs) {
		o.logger.Warn("embeddings missing for some ids",
			zap.String("run_id", runID),
			zap.Int("found", len(validIDs)),
			zap.Int("requested", len(req.IDs)))
	}

	coords, err := umap.Reduce(vectors, umap.Params{
		NNeighbors:  defaultInt(req.UmapParams.NNeighbors, defaultUmapNeighbors),
		MinDist:     defaultFloat(req.UmapParams.MinDist, defaultUmapMinDist),
		Metric:      defaultString(req.UmapParams.Metric, defaultUmapMetric),
		NComponents: defaultInt(req.UmapParams.NComponents, defaultUmapComponents),
	})
	if err != nil {
		o.logger.Error("umap reduction failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}

	// The coordinates table stores an (x, y) pair per document, so a
	// projection with fewer than two components cannot be persisted.
	if len(coords) == 0 || len(coords[0]) < 2 {
		err := fmt.Errorf("projection produced fewer than 2 components per document")
		o.logger.Error("umap stage failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}

	now := o.clock.Now()
	rows := make([]UmapCoordinateRow, len(validIDs))
	for i, id := range validIDs {
		rows[i] = UmapCoordinateRow{
			RunID:     runID,
			UnifiedID: id,
			UmapX:     coords[i][0],
			UmapY:     coords[i][1],
			CreatedAt: now,
		}
	}
	rowErrs, err := o.wh.InsertRows(ctx, o.cfg.Tables.UmapCoordinates, rows)
	if err != nil {
		o.logger.Error("coordinate insert failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}
	if len(rowErrs) > 0 {
		metrics.ObserveInsertErrors(o.cfg.Tables.UmapCoordinates, len(rowErrs))
		o.logger.Error("coordinate insert reported row errors",
			zap.String("run_id", runID), zap.Int("row_errors", len(rowErrs)))
		return &StageOutcome{Status: "error", Message: fmt.Sprintf("errors inserting rows: %d failed", len(rowErrs))}
	}

	o.logger.Info("stored umap coordinates",
		zap.String("run_id", runID), zap.Int("documents", len(rows)))
	return &StageOutcome{
		Status:       "success",
		Message:      "UMAP reduction completed successfully",
		ProcessedIDs: len(validIDs),
	}
}

// runLabelingStage generates one label row per topic through the managed
// text-generation model. Per-topic failures become placeholder rows; only a
// failure of the document query or the final insert fails the stage.
func (o *Orchestrator) runLabelingStage(ctx context.Context, runID string, req Request) *StageOutcome {
	docs, err := o.topDocuments(ctx, runID, req.LabelingParams)
	if err != nil {
		o.logger.Error("labeling stage failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}

	now := o.clock.Now()
	rows := make([]TopicLabelRow, 0, len(docs))
	for _, topic := range docs {
		rows = append(rows, o.labelTopic(ctx, runID, topic, now))
	}

	rowErrs, err := o.wh.InsertRows(ctx, o.cfg.Tables.TopicLabels, rows)
	if err != nil {
		o.logger.Error("label insert failed", zap.String("run_id", runID), zap.Error(err))
		return &StageOutcome{Status: "error", Message: err.Error()}
	}
	if len(rowErrs) > 0 {
		metrics.ObserveInsertErrors(o.cfg.Tables.TopicLabels, len(rowErrs))
		return &StageOutcome{Status: "error", Message: fmt.Sprintf("errors inserting topic labels: %d failed", len(rowErrs))}
	}

	return &StageOutcome{
		Status:        "success",
		Message:       "topic labeling completed successfully",
		TopicsLabeled: len(docs),
	}
}

// labelTopic invokes the generation model for one topic and parses the
// response. Every failure path returns a placeholder row; a topic never goes
// unlabeled.
func (o *Orchestrator) labelTopic(ctx context.Context, runID string, docs topicDocs, now time.Time) TopicLabelRow {
	prompt := buildPrompt(docs.Documents)

	var rawResult, promptUsed string
	found := false
	err := o.wh.ReadRows(ctx, warehouse.Query{
		SQL: o.generateTextSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "prompt", Value: prompt},
		},
	}, func(row warehouse.Row) error {
		if !found {
			rawResult = asString(row["result"])
			promptUsed = asString(row["prompt"])
			found = true
		}
		return nil
	})
	if err != nil {
		o.logger.Error("label generation failed",
			zap.String("run_id", runID), zap.Int64("topic_id", docs.TopicID), zap.Error(err))
		metrics.ObserveLabelParseFailure()
		return placeholderRow(runID, docs, now,
			"Error: "+truncate(err.Error(), 100), nil, err, errorMetadata(err, "", prompt))
	}
	if !found {
		err := fmt.Errorf("empty generation result")
		metrics.ObserveLabelParseFailure()
		return placeholderRow(runID, docs, now,
			"Error: "+truncate(err.Error(), 100), nil, err, errorMetadata(err, "", promptUsed))
	}

	text, result, err := extractResponseText(rawResult)
	if err != nil {
		o.logger.Error("label response envelope invalid",
			zap.String("run_id", runID), zap.Int64("topic_id", docs.TopicID), zap.Error(err))
		metrics.ObserveLabelParseFailure()
		desc := "Raw response: " + truncate(rawResult, 200) + "..."
		return placeholderRow(runID, docs, now,
			"Error: Invalid JSON response", &desc, err, errorMetadata(err, rawResult, promptUsed))
	}

	parsed, err := parseLabelResponse(text)
	if err != nil {
		o.logger.Error("label response format invalid",
			zap.String("run_id", runID), zap.Int64("topic_id", docs.TopicID),
			zap.String("raw_response", truncate(text, 500)), zap.Error(err))
		metrics.ObserveLabelParseFailure()
		desc := "Raw response: " + truncate(text, 200) + "..."
		return placeholderRow(runID, docs, now,
			"Error: Invalid response format", &desc, err, errorMetadata(err, text, promptUsed))
	}

	if words := len(strings.Fields(parsed.Label)); words > 5 {
		o.logger.Info("label longer than recommended 5 words",
			zap.Int64("topic_id", docs.TopicID),
			zap.String("label", parsed.Label),
			zap.Int("words", words))
	}

	return TopicLabelRow{
		RunID:              runID,
		TopicID:            docs.TopicID,
		CreatedAt:          now,
		TopicLabel:         parsed.Label,
		TopicDescription:   &parsed.Description,
		ConfidenceScore:    parsed.Confidence,
		NumDocumentsUsed:   docs.NumDocuments,
		AvgAssignmentScore: docs.AvgAssignmentScore,
		ModelMetadata:      successMetadata(result, promptUsed),
	}
}

// GetRun reads a run row and its labels back for the status endpoint.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var record RunRecord
	found := false

	err := o.wh.ReadRows(ctx, warehouse.Query{
		SQL: o.fetchRunSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
		},
	}, func(row warehouse.Row) error {
		record = RunRecord{
			RunID:              asString(row["run_id"]),
			CreatedAt:          asTime(row["created_at"]),
			NumTopics:          asInt64(row["num_topics"]),
			Description:        asStringPtr(row["description"]),
			ModelName:          asString(row["model_name"]),
			ModelCreationJobID: asStringPtr(row["model_creation_job_id"]),
			PredictJobID:       asStringPtr(row["predict_job_id"]),
			Status:             asString(row["status"]),
			ErrorMessage:       asStringPtr(row["error_message"]),
			EmbeddingModel:     asString(row["embedding_model"]),
		}
		found = true
		return nil
	})
	if err != nil {
		return RunRecord{}, fmt.Errorf("fetch run: %w", err)
	}
	if !found {
		return RunRecord{}, ErrRunNotFound
	}

	labels, err := o.fetchLabels(ctx, runID)
	if err != nil {
		// The run row itself is the primary artifact; labels are additive.
		o.logger.Warn("label read-back failed", zap.String("run_id", runID), zap.Error(err))
	} else {
		record.Labels = labels
	}
	return record, nil
}

func (o *Orchestrator) fetchLabels(ctx context.Context, runID string) ([]TopicLabelRow, error) {
	var labels []TopicLabelRow
	err := o.wh.ReadRows(ctx, warehouse.Query{
		SQL: o.fetchLabelsSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
		},
	}, func(row warehouse.Row) error {
		labels = append(labels, TopicLabelRow{
			RunID:              asString(row["run_id"]),
			TopicID:            asInt64(row["topic_id"]),
			CreatedAt:          asTime(row["created_at"]),
			TopicLabel:         asString(row["topic_label"]),
			TopicDescription:   asStringPtr(row["topic_description"]),
			ConfidenceScore:    asFloat64(row["confidence_score"]),
			NumDocumentsUsed:   asInt64(row["num_documents_used"]),
			AvgAssignmentScore: asFloat64(row["avg_assignment_score"]),
			ModelMetadata:      asString(row["model_metadata"]),
			ErrorMessage:       asStringPtr(row["error_message"]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch labels: %w", err)
	}
	return labels, nil
}

func (o *Orchestrator) fetchEmbeddings(ctx context.Context, ids []string) ([]string, [][]float64, error) {
	var validIDs []string
	var vectors [][]float64

	err := o.wh.ReadRows(ctx, warehouse.Query{
		SQL: o.fetchEmbeddingsSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "unified_id_list", Value: ids},
		},
	}, func(row warehouse.Row) error {
		vec := asFloat64Slice(row["embeddings"])
		if len(vec) == 0 {
			return nil
		}
		validIDs = append(validIDs, asString(row["unified_id"]))
		vectors = append(vectors, vec)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	if len(validIDs) == 0 {
		return nil, nil, ErrNoEmbeddings
	}
	return validIDs, vectors, nil
}

func (o *Orchestrator) topDocuments(ctx context.Context, runID string, params LabelingParams) ([]topicDocs, error) {
	var docs []topicDocs
	err := o.wh.ReadRows(ctx, warehouse.Query{
		SQL: o.topDocumentsSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
			{Name: "num_docs", Value: int64(defaultInt(params.NumDocsPerTopic, defaultDocsPerTopic))},
			{Name: "max_text_length", Value: int64(defaultInt(params.MaxTextLength, defaultMaxTextLength))},
		},
	}, func(row warehouse.Row) error {
		docs = append(docs, topicDocs{
			TopicID:            asInt64(row["topic_id"]),
			Documents:          asString(row["topic_documents"]),
			AvgAssignmentScore: asFloat64(row["avg_assignment_score"]),
			NumDocuments:       asInt64(row["num_documents"]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch top documents: %w", err)
	}
	return docs, nil
}

func (o *Orchestrator) updateStatus(ctx context.Context, runID, status string) error {
	return o.wh.Exec(ctx, warehouse.Query{
		SQL: o.updateStatusSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "status", Value: status},
			{Name: "run_id", Value: runID},
		},
	})
}

// markFailed records a terminal failure on the run row. Best-effort: a
// failure here is logged and swallowed because the original error is about to
// propagate anyway.
func (o *Orchestrator) markFailed(ctx context.Context, runID string, cause error) {
	if err := o.wh.Exec(ctx, warehouse.Query{
		SQL: o.markFailedSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "status", Value: StatusFailed},
			{Name: "error_message", Value: cause.Error()},
			{Name: "run_id", Value: runID},
		},
	}); err != nil {
		o.logger.Error("failed to mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) insertFailedRun(ctx context.Context, runID string, req Request, cause error) {
	if err := o.wh.Exec(ctx, warehouse.Query{
		SQL: o.insertFailedRunSQL(),
		Parameters: []warehouse.Parameter{
			{Name: "run_id", Value: runID},
			{Name: "created_at", Value: o.clock.Now()},
			{Name: "num_topics", Value: int64(req.NClusters)},
			{Name: "description", Value: nullableString(req.Description)},
			{Name: "model_name", Value: ModelName(runID)},
			{Name: "status", Value: StatusFailed},
			{Name: "error_message", Value: cause.Error()},
			{Name: "embedding_model", Value: embeddingModelName},
		},
	}); err != nil {
		o.logger.Error("failed to insert failed run row", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) tableRef(table string) string {
	return fmt.Sprintf("%s.%s.%s", o.cfg.ProjectID, o.cfg.Dataset, table)
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
