// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Warehouse  WarehouseConfig  `mapstructure:"warehouse"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	BrightData BrightDataConfig `mapstructure:"brightdata"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WarehouseConfig identifies the BigQuery project, dataset, tables and the
// managed ML models the pipeline drives.
type WarehouseConfig struct {
	ProjectID string       `mapstructure:"project_id"`
	Dataset   string       `mapstructure:"dataset"`
	Location  string       `mapstructure:"location"`
	Tables    TablesConfig `mapstructure:"tables"`
	Models    ModelsConfig `mapstructure:"models"`
}

// TablesConfig names every warehouse table the pipeline reads or writes.
type TablesConfig struct {
	RedditData       string `mapstructure:"reddit_data"`
	QuoraData        string `mapstructure:"quora_data"`
	ScrapeJobs       string `mapstructure:"scrape_jobs"`
	ContentItems     string `mapstructure:"content_items"`
	EmbeddingsCache  string `mapstructure:"embeddings_cache"`
	ClusteringRuns   string `mapstructure:"clustering_runs"`
	TopicAssignments string `mapstructure:"topic_assignments"`
	UmapCoordinates  string `mapstructure:"umap_coordinates"`
	TopicLabels      string `mapstructure:"topic_labels"`
	SerpSearches     string `mapstructure:"serp_searches"`
	SerpResults      string `mapstructure:"serp_results"`
}

// ModelsConfig names the managed ML models invoked through warehouse SQL.
type ModelsConfig struct {
	Embedding string `mapstructure:"embedding"`
	Sentiment string `mapstructure:"sentiment"`
	Labeling  string `mapstructure:"labeling"`
}

// PubSubConfig holds the subscription delivering scraped batches.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
}

// BrightDataConfig configures the external scrape trigger and SERP APIs.
// APIKey is validated per request rather than at startup so deployments that
// never trigger scrapes do not need to carry the credential.
type BrightDataConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	SerpZone       string `mapstructure:"serp_zone"`
	DeliveryBucket string `mapstructure:"delivery_bucket"`
	ClientEmail    string `mapstructure:"client_email"`
	PrivateKey     string `mapstructure:"private_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("warehouse.location", "eu")
	v.SetDefault("warehouse.tables.reddit_data", "reddit_data")
	v.SetDefault("warehouse.tables.quora_data", "quora_data")
	v.SetDefault("warehouse.tables.scrape_jobs", "scrape_job")
	v.SetDefault("warehouse.tables.content_items", "unified_social_content_items")
	v.SetDefault("warehouse.tables.embeddings_cache", "embeddings_cache")
	v.SetDefault("warehouse.tables.clustering_runs", "kmeans_runs")
	v.SetDefault("warehouse.tables.topic_assignments", "document_topic_assignments")
	v.SetDefault("warehouse.tables.umap_coordinates", "document_umap_coordinates")
	v.SetDefault("warehouse.tables.topic_labels", "topic_labels")
	v.SetDefault("warehouse.tables.serp_searches", "serp_searches")
	v.SetDefault("warehouse.tables.serp_results", "serp_results")
	v.SetDefault("warehouse.models.embedding", "social_media_embedding_model")
	v.SetDefault("warehouse.models.sentiment", "sentiment_analysis_model")
	v.SetDefault("warehouse.models.labeling", "gemini_labeling_model")
	v.SetDefault("brightdata.base_url", "https://api.brightdata.com")
	v.SetDefault("brightdata.serp_zone", "social_listening_serp_api")
	v.SetDefault("brightdata.delivery_bucket", "brightdata-social-raw")
	v.SetDefault("brightdata.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Warehouse.ProjectID == "" {
		return fmt.Errorf("warehouse.project_id must be set")
	}
	if c.Warehouse.Dataset == "" {
		return fmt.Errorf("warehouse.dataset must be set")
	}
	if c.BrightData.TimeoutSeconds <= 0 {
		return fmt.Errorf("brightdata.timeout_seconds must be > 0")
	}
	return nil
}
