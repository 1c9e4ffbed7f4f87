package vigil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
transport:
  provider: mock
vendors:
  vision:
    provider: mock
  tts:
    provider: mock
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.Size != 4 {
		t.Fatalf("batch size = %d", cfg.Batch.Size)
	}
	if cfg.Batch.SimilarityThreshold != 0.7 {
		t.Fatalf("similarity threshold = %v", cfg.Batch.SimilarityThreshold)
	}
	if cfg.Vision.Concurrency != 3 || cfg.Vision.FrameTimeoutSeconds != 10 {
		t.Fatalf("vision = %+v", cfg.Vision)
	}
	if cfg.Commands.FuzzyThreshold != 75 {
		t.Fatalf("fuzzy threshold = %d", cfg.Commands.FuzzyThreshold)
	}
	if cfg.HTTP.Addr != ":4443" {
		t.Fatalf("http addr = %s", cfg.HTTP.Addr)
	}
	if cfg.Task == "" {
		t.Fatalf("default task missing")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
log_level: debug
log_format: json
task: spot hazards around the player
batch:
  size: 8
  similarity_threshold: 0.5
  delete_processed_frames: true
commands:
  fuzzy_threshold: 80
  control_url: http://localhost:9000/command
transport:
  provider: relay
  settings:
    url: ws://localhost:8080/ws
vendors:
  vision:
    provider: gemini
    settings:
      api_key: test-key
  tts:
    provider: gtts
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.Size != 8 || cfg.Batch.SimilarityThreshold != 0.5 || !cfg.Batch.DeleteProcessed {
		t.Fatalf("batch = %+v", cfg.Batch)
	}
	if cfg.Commands.FuzzyThreshold != 80 {
		t.Fatalf("commands = %+v", cfg.Commands)
	}
	if cfg.Transport.Provider != "relay" {
		t.Fatalf("transport = %+v", cfg.Transport)
	}
	if cfg.Vendors.Vision.Settings["api_key"] != "test-key" {
		t.Fatalf("vision settings = %v", cfg.Vendors.Vision.Settings)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VIGIL_TEST_API_KEY", "secret-from-env")
	cfg, err := LoadConfig(writeConfig(t, `
transport:
  provider: mock
vendors:
  vision:
    provider: gemini
    settings:
      api_key: ${VIGIL_TEST_API_KEY}
  tts:
    provider: mock
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vendors.Vision.Settings["api_key"] != "secret-from-env" {
		t.Fatalf("api_key = %v", cfg.Vendors.Vision.Settings["api_key"])
	}
}

func TestLoadConfigRejectsMissingProviders(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, `
transport:
  provider: mock
vendors:
  vision:
    provider: mock
`)); err == nil {
		t.Fatalf("expected error for missing tts provider")
	}
}

func TestLoadConfigRejectsBadThreshold(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, minimalConfig+`
batch:
  similarity_threshold: 1.5
`)); err == nil {
		t.Fatalf("expected error for out-of-range threshold")
	}
}
