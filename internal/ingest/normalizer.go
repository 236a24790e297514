package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/warehouse"
)

// Batch insertion outcomes. A failed insert downgrades the outcome; it does
// not fail the invocation.
const (
	StatusSuccess      = "completed_success"
	StatusWithFailures = "completed_with_failures"
)

// Envelope is one delivered scrape batch: the raw JSON array payload plus the
// delivery attributes correlating it to the originating scrape job.
type Envelope struct {
	JobID      string
	DatasetTag string
	Payload    []byte
}

// Outcome reports what a batch produced.
type Outcome struct {
	Source       Source
	Status       string
	RowsInserted int
	RowErrors    int
}

// Normalizer converts delivered batches into warehouse rows and kicks off the
// embedding-cache enrichment after clean inserts.
type Normalizer struct {
	wh     warehouse.Client
	cfg    config.WarehouseConfig
	logger *zap.Logger
}

// NewNormalizer wires the warehouse client and logger.
func NewNormalizer(wh warehouse.Client, cfg config.WarehouseConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{wh: wh, cfg: cfg, logger: logger}
}

// ProcessBatch normalizes and inserts one delivered batch. An unrecognized
// dataset tag or a non-array payload aborts with no side effects. Insert
// errors downgrade the outcome to completed_with_failures. The enrichment
// merge runs only after a clean insert and its failure is logged, never
// surfaced.
func (n *Normalizer) ProcessBatch(ctx context.Context, env Envelope) (Outcome, error) {
	source, err := ParseSource(env.DatasetTag)
	if err != nil {
		return Outcome{}, err
	}
	if env.JobID == "" {
		// Rows are still written; they just cannot be correlated back to a
		// scrape job later.
		n.logger.Warn("delivery missing job_id attribute", zap.String("dataset_tag", env.DatasetTag))
	}

	rows, count, err := NormalizeBatch(source, env.JobID, env.Payload)
	if err != nil {
		return Outcome{}, err
	}

	table := n.tableFor(source)
	n.logger.Info("inserting normalized batch",
		zap.String("source", string(source)),
		zap.String("table", table),
		zap.Int("rows", count),
	)

	outcome := Outcome{Source: source, Status: StatusSuccess, RowsInserted: count}
	rowErrs, err := n.wh.InsertRows(ctx, table, rows)
	switch {
	case err != nil:
		n.logger.Error("batch insert failed", zap.String("table", table), zap.Error(err))
		outcome.Status = StatusWithFailures
		outcome.RowsInserted = 0
	case len(rowErrs) > 0:
		n.logger.Error("batch insert had row errors",
			zap.String("table", table),
			zap.Int("row_errors", len(rowErrs)),
		)
		outcome.Status = StatusWithFailures
		outcome.RowErrors = len(rowErrs)
		metrics.ObserveInsertErrors(table, len(rowErrs))
	}

	metrics.ObserveIngestBatch(string(source), outcome.Status)
	if outcome.Status == StatusSuccess {
		metrics.ObserveIngestRows(string(source), count)
		n.enrich(ctx)
	}
	return outcome, nil
}

// enrich runs the embeddings-cache merge. Fire-and-forget relative to the
// ingestion outcome: failures are logged only.
func (n *Normalizer) enrich(ctx context.Context) {
	n.logger.Info("running embeddings cache merge")
	if err := n.wh.Exec(ctx, warehouse.Query{SQL: n.mergeSQL()}); err != nil {
		metrics.ObserveEnrichmentMerge("error")
		n.logger.Error("embeddings cache merge failed", zap.Error(err))
		return
	}
	metrics.ObserveEnrichmentMerge("success")
	n.logger.Info("embeddings cache merge completed")
}

func (n *Normalizer) tableFor(source Source) string {
	if source == SourceQuora {
		return n.cfg.Tables.QuoraData
	}
	return n.cfg.Tables.RedditData
}
