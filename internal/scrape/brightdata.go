// Package scrape triggers external Bright Data collections and SERP searches
// and records the resulting job and result metadata in the warehouse. No page
// is ever fetched locally; the provider delivers scraped batches to cloud
// storage and a message queue out of band.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/config"
)

// TriggerResponse is the provider's answer to a collection trigger. The
// snapshot id correlates the delivered payload back to this request; the raw
// body is passed through to the HTTP caller untouched.
type TriggerResponse struct {
	SnapshotID string
	Raw        map[string]any
}

// SerpEnvelope is the parsed SERP payload. The provider wraps it as a
// JSON-encoded string under "body", re-parsed by the client.
type SerpEnvelope struct {
	Input struct {
		RequestID string `json:"request_id"`
	} `json:"input"`
	General struct {
		SearchEngine string  `json:"search_engine"`
		ResultsCnt   int64   `json:"results_cnt"`
		SearchTime   float64 `json:"search_time"`
		Language     string  `json:"language"`
		Mobile       bool    `json:"mobile"`
		Timestamp    string  `json:"timestamp"`
	} `json:"general"`
	Organic []OrganicResult `json:"organic"`
}

// OrganicResult is one organic search hit. Missing fields stay at their zero
// values and degrade to defaults when stored.
type OrganicResult struct {
	Link        string `json:"link"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rank        *int64 `json:"rank"`
	GlobalRank  *int64 `json:"global_rank"`
}

type triggerPayload struct {
	Deliver deliverConfig `json:"deliver"`
	Input   []inputURL    `json:"input"`
}

type deliverConfig struct {
	Type        string            `json:"type"`
	Filename    filenameSpec      `json:"filename"`
	Bucket      string            `json:"bucket"`
	Credentials deliverCredential `json:"credentials"`
	Directory   string            `json:"directory"`
}

type filenameSpec struct {
	Template  string `json:"template"`
	Extension string `json:"extension"`
}

type deliverCredential struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

type inputURL struct {
	URL string `json:"url"`
}

type serpRequestPayload struct {
	Zone   string `json:"zone"`
	URL    string `json:"url"`
	Format string `json:"format"`
	Method string `json:"method"`
}

type serpRawResponse struct {
	Body string `json:"body"`
}

// APIClient talks to the Bright Data trigger and request endpoints.
type APIClient struct {
	http   *resty.Client
	cfg    config.BrightDataConfig
	logger *zap.Logger
}

// NewAPIClient builds a client from config. The API key is attached per
// request so callers can validate its presence lazily.
func NewAPIClient(cfg config.BrightDataConfig, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetHeader("Content-Type", "application/json")
	return &APIClient{http: client, cfg: cfg, logger: logger}
}

// TriggerCollection starts a dataset collection for the given urls with
// delivery into the configured bucket, under a directory named after the
// dataset.
func (c *APIClient) TriggerCollection(ctx context.Context, datasetID string, urls []string) (TriggerResponse, error) {
	input := make([]inputURL, len(urls))
	for i, u := range urls {
		input[i] = inputURL{URL: u}
	}
	payload := triggerPayload{
		Deliver: deliverConfig{
			Type:     "gcs",
			Filename: filenameSpec{Template: "{[snapshot_id]}", Extension: "json"},
			Bucket:   c.cfg.DeliveryBucket,
			Credentials: deliverCredential{
				ClientEmail: c.cfg.ClientEmail,
				PrivateKey:  c.cfg.PrivateKey,
			},
			Directory: datasetID,
		},
		Input: input,
	}

	var raw map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetQueryParams(map[string]string{
			"dataset_id":     datasetID,
			"include_errors": "true",
		}).
		SetBody(payload).
		SetResult(&raw).
		Post("/datasets/v3/trigger")
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("trigger collection: %w", err)
	}
	if resp.IsError() {
		return TriggerResponse{}, fmt.Errorf("trigger collection: provider returned %s: %s", resp.Status(), resp.String())
	}

	out := TriggerResponse{Raw: raw}
	if id, ok := raw["snapshot_id"].(string); ok {
		out.SnapshotID = id
	}
	c.logger.Info("collection triggered",
		zap.String("dataset_id", datasetID),
		zap.String("snapshot_id", out.SnapshotID),
		zap.Int("urls", len(urls)))
	return out, nil
}

// Search runs one SERP request through the configured zone and returns the
// re-parsed result envelope.
func (c *APIClient) Search(ctx context.Context, query, start string) (SerpEnvelope, error) {
	target := fmt.Sprintf("https://www.google.com/search?q=%s&brd_json=1&start=%s",
		url.QueryEscape(query), start)

	var raw serpRawResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetBody(serpRequestPayload{
			Zone:   c.cfg.SerpZone,
			URL:    target,
			Format: "json",
			Method: "GET",
		}).
		SetResult(&raw).
		Post("/request")
	if err != nil {
		return SerpEnvelope{}, fmt.Errorf("serp request: %w", err)
	}
	if resp.IsError() {
		return SerpEnvelope{}, fmt.Errorf("serp request: provider returned %s: %s", resp.Status(), resp.String())
	}

	var envelope SerpEnvelope
	if raw.Body == "" {
		return envelope, nil
	}
	if err := json.Unmarshal([]byte(raw.Body), &envelope); err != nil {
		return SerpEnvelope{}, fmt.Errorf("parse serp body: %w", err)
	}
	return envelope, nil
}
