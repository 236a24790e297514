package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
warehouse:
  project_id: social-listening-sense
  dataset: social_listening_data
  location: eu
  tables:
    reddit_data: reddit_raw
pubsub:
  project_id: social-listening-sense
  subscription: scrape-deliveries
brightdata:
  api_key: secret
  timeout_seconds: 15
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Development {
		t.Error("Logging.Development = true, want false")
	}
	if cfg.Warehouse.ProjectID != "social-listening-sense" {
		t.Errorf("Warehouse.ProjectID = %q", cfg.Warehouse.ProjectID)
	}
	if cfg.Warehouse.Tables.RedditData != "reddit_raw" {
		t.Errorf("Tables.RedditData = %q, want override", cfg.Warehouse.Tables.RedditData)
	}
	// Untouched table names keep their defaults.
	if cfg.Warehouse.Tables.QuoraData != "quora_data" {
		t.Errorf("Tables.QuoraData = %q, want default", cfg.Warehouse.Tables.QuoraData)
	}
	if cfg.BrightData.TimeoutSeconds != 15 {
		t.Errorf("BrightData.TimeoutSeconds = %d, want 15", cfg.BrightData.TimeoutSeconds)
	}
}

func TestLoadRequiresProject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
warehouse:
  dataset: social_listening_data
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "warehouse.project_id") {
		t.Fatalf("Load() error = %v, want project_id validation failure", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{Port: 0},
		Warehouse: WarehouseConfig{ProjectID: "p", Dataset: "d"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want port error")
	}
}
