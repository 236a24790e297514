package scrape

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/warehouse"
)

// Required-configuration and input-shape errors. Config errors surface as
// server-side failures; input errors as client errors.
var (
	ErrMissingAPIKey      = errors.New("bright data api key not configured")
	ErrMissingCredentials = errors.New("delivery credentials not configured")
	ErrMissingDatasetID   = errors.New("dataset_id is required")
	ErrNoURLs             = errors.New("urls must be a non-empty list of strings")
)

// API is the provider surface the initiator consumes.
type API interface {
	TriggerCollection(ctx context.Context, datasetID string, urls []string) (TriggerResponse, error)
	Search(ctx context.Context, query, start string) (SerpEnvelope, error)
}

// IDGenerator mints row identifiers for SERP results.
type IDGenerator interface {
	NewV4ID() (string, error)
}

// Clock abstracts time for job row timestamps.
type Clock interface {
	Now() time.Time
}

// ScrapeJobRow records one triggered collection. Immutable once written;
// delivered payloads join back to it through the snapshot id.
type ScrapeJobRow struct {
	SnapshotID     string    `bigquery:"snapshot_id" json:"snapshot_id"`
	DatasetID      string    `bigquery:"dataset_id" json:"dataset_id"`
	URLsInBatch    []string  `bigquery:"urls_in_batch" json:"urls_in_batch"`
	TotalURLsCount int64     `bigquery:"total_urls_count" json:"total_urls_count"`
	InitiatedAt    time.Time `bigquery:"initiated_at" json:"initiated_at"`
}

// SerpSearchRow is one search's general metadata.
type SerpSearchRow struct {
	RequestID       string  `bigquery:"request_id" json:"request_id"`
	SearchQuery     string  `bigquery:"search_query" json:"search_query"`
	SearchEngine    string  `bigquery:"search_engine" json:"search_engine"`
	ResultsCount    int64   `bigquery:"results_count" json:"results_count"`
	SearchTime      float64 `bigquery:"search_time" json:"search_time"`
	Language        string  `bigquery:"language" json:"language"`
	IsMobile        string  `bigquery:"is_mobile" json:"is_mobile"`
	Timestamp       string  `bigquery:"timestamp" json:"timestamp"`
	PaginationStart string  `bigquery:"pagination_start" json:"pagination_start"`
}

// SerpResultRow is one organic result hit.
type SerpResultRow struct {
	ID            string `bigquery:"id" json:"id"`
	Query         string `bigquery:"query" json:"query"`
	SerpRequestID string `bigquery:"serp_request_id" json:"serp_request_id"`
	Link          string `bigquery:"link" json:"link"`
	Title         string `bigquery:"title" json:"title"`
	Description   string `bigquery:"description" json:"description"`
	Rank          *int64 `bigquery:"rank" json:"rank,omitempty"`
	GlobalRank    *int64 `bigquery:"global_rank" json:"global_rank,omitempty"`
	CreatedAt     string `bigquery:"created_at" json:"created_at"`
}

// TriggerResult reports a trigger call plus the warehouse bookkeeping
// attempt. The insert status never fails the call once the provider has
// accepted the trigger.
type TriggerResult struct {
	Status           string               `json:"status"`
	Message          string               `json:"message"`
	ProviderResponse map[string]any       `json:"bright_data_response"`
	InsertStatus     string               `json:"bigquery_insert_status"`
	InsertErrors     []warehouse.RowError `json:"bigquery_insert_errors,omitempty"`
}

// SearchResult reports a SERP search.
type SearchResult struct {
	Message      string `json:"message"`
	Query        string `json:"query"`
	RowsInserted int    `json:"rows_inserted"`
}

// Initiator forwards scrape and search requests to the provider and logs the
// job metadata into the warehouse.
type Initiator struct {
	api    API
	wh     warehouse.Client
	whCfg  config.WarehouseConfig
	bdCfg  config.BrightDataConfig
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger
}

// NewInitiator wires an initiator. A nil logger falls back to a no-op.
func NewInitiator(api API, wh warehouse.Client, whCfg config.WarehouseConfig, bdCfg config.BrightDataConfig, ids IDGenerator, clk Clock, logger *zap.Logger) *Initiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initiator{api: api, wh: wh, whCfg: whCfg, bdCfg: bdCfg, ids: ids, clock: clk, logger: logger}
}

// TriggerScrape starts a collection for the urls and records the scrape job.
// A response without a snapshot id is warned about, not failed: the provider
// accepted the trigger and the payload may still arrive.
func (i *Initiator) TriggerScrape(ctx context.Context, datasetID string, urls []string) (TriggerResult, error) {
	if i.bdCfg.APIKey == "" {
		return TriggerResult{}, ErrMissingAPIKey
	}
	if i.bdCfg.ClientEmail == "" || i.bdCfg.PrivateKey == "" {
		return TriggerResult{}, ErrMissingCredentials
	}
	if datasetID == "" {
		return TriggerResult{}, ErrMissingDatasetID
	}
	if len(urls) == 0 {
		return TriggerResult{}, ErrNoURLs
	}

	resp, err := i.api.TriggerCollection(ctx, datasetID, urls)
	if err != nil {
		metrics.ObserveScrapeTrigger("error")
		return TriggerResult{}, fmt.Errorf("trigger scrape: %w", err)
	}

	result := TriggerResult{
		Status:           "success",
		Message:          "collection triggered and job insert attempted",
		ProviderResponse: resp.Raw,
		InsertStatus:     "not attempted",
	}

	if resp.SnapshotID == "" {
		i.logger.Warn("snapshot_id missing from provider response",
			zap.String("dataset_id", datasetID))
		metrics.ObserveScrapeTrigger("no_snapshot")
		return result, nil
	}

	row := ScrapeJobRow{
		SnapshotID:     resp.SnapshotID,
		DatasetID:      datasetID,
		URLsInBatch:    urls,
		TotalURLsCount: int64(len(urls)),
		InitiatedAt:    i.clock.Now(),
	}
	rowErrs, err := i.wh.InsertRows(ctx, i.whCfg.Tables.ScrapeJobs, []ScrapeJobRow{row})
	switch {
	case err != nil:
		i.logger.Error("scrape job insert failed",
			zap.String("snapshot_id", resp.SnapshotID), zap.Error(err))
		result.InsertStatus = "failed"
	case len(rowErrs) > 0:
		metrics.ObserveInsertErrors(i.whCfg.Tables.ScrapeJobs, len(rowErrs))
		result.InsertStatus = "failed"
		result.InsertErrors = rowErrs
	default:
		result.InsertStatus = "success"
	}

	metrics.ObserveScrapeTrigger("success")
	return result, nil
}

// Search runs one SERP query, stores the search metadata and one row per
// organic result. Missing provider fields degrade to defaults; a failed
// insert fails the call.
func (i *Initiator) Search(ctx context.Context, query, start string) (SearchResult, error) {
	if i.bdCfg.APIKey == "" {
		return SearchResult{}, ErrMissingAPIKey
	}

	envelope, err := i.api.Search(ctx, query, start)
	if err != nil {
		metrics.ObserveSerpSearch("error")
		return SearchResult{}, fmt.Errorf("serp search: %w", err)
	}

	searchRow := SerpSearchRow{
		RequestID:       envelope.Input.RequestID,
		SearchQuery:     query,
		SearchEngine:    envelope.General.SearchEngine,
		ResultsCount:    envelope.General.ResultsCnt,
		SearchTime:      envelope.General.SearchTime,
		Language:        envelope.General.Language,
		IsMobile:        strconv.FormatBool(envelope.General.Mobile),
		Timestamp:       envelope.General.Timestamp,
		PaginationStart: start,
	}
	if rowErrs, err := i.wh.InsertRows(ctx, i.whCfg.Tables.SerpSearches, []SerpSearchRow{searchRow}); err != nil {
		metrics.ObserveSerpSearch("error")
		return SearchResult{}, fmt.Errorf("insert search metadata: %w", err)
	} else if len(rowErrs) > 0 {
		metrics.ObserveInsertErrors(i.whCfg.Tables.SerpSearches, len(rowErrs))
		metrics.ObserveSerpSearch("error")
		return SearchResult{}, fmt.Errorf("insert search metadata: %d row errors", len(rowErrs))
	}

	rows := make([]SerpResultRow, 0, len(envelope.Organic))
	for _, organic := range envelope.Organic {
		id, err := i.ids.NewV4ID()
		if err != nil {
			return SearchResult{}, fmt.Errorf("generate result id: %w", err)
		}
		rows = append(rows, SerpResultRow{
			ID:            id,
			Query:         query,
			SerpRequestID: envelope.Input.RequestID,
			Link:          organic.Link,
			Title:         organic.Title,
			Description:   organic.Description,
			Rank:          organic.Rank,
			GlobalRank:    organic.GlobalRank,
			CreatedAt:     envelope.General.Timestamp,
		})
	}
	if len(rows) > 0 {
		if rowErrs, err := i.wh.InsertRows(ctx, i.whCfg.Tables.SerpResults, rows); err != nil {
			metrics.ObserveSerpSearch("error")
			return SearchResult{}, fmt.Errorf("insert serp results: %w", err)
		} else if len(rowErrs) > 0 {
			metrics.ObserveInsertErrors(i.whCfg.Tables.SerpResults, len(rowErrs))
			metrics.ObserveSerpSearch("error")
			return SearchResult{}, fmt.Errorf("insert serp results: %d row errors", len(rowErrs))
		}
	}

	metrics.ObserveSerpSearch("success")
	return SearchResult{
		Message:      "successfully scraped and uploaded",
		Query:        query,
		RowsInserted: len(rows),
	}, nil
}
