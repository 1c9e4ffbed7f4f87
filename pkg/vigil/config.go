package vigil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/vigil/pkg/api"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	RedactLogs  bool   `mapstructure:"redact_logs"`

	// Task is the standing description fed to the vision model with every
	// frame batch.
	Task string `mapstructure:"task"`

	Batch     BatchConfig     `mapstructure:"batch"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Vendors   VendorsConfig   `mapstructure:"vendors"`
	Transport TransportConfig `mapstructure:"transport"`
	HTTP      api.Config      `mapstructure:"http"`
}

type BatchConfig struct {
	Size                int     `mapstructure:"size"`
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	DeleteProcessed     bool    `mapstructure:"delete_processed_frames"`
}

type VisionConfig struct {
	Concurrency         int `mapstructure:"concurrency"`
	FrameTimeoutSeconds int `mapstructure:"frame_timeout_seconds"`
	MaxImageDimension   int `mapstructure:"max_image_dimension"`
}

type CommandsConfig struct {
	FuzzyThreshold int    `mapstructure:"fuzzy_threshold"`
	ControlURL     string `mapstructure:"control_url"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Vision VendorConfig `mapstructure:"vision"`
	TTS    VendorConfig `mapstructure:"tts"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("redact_logs", false)
	v.SetDefault("task", "assisting the player based on first-person AR/VR headset view frames, analyzing surroundings and actions to provide real-time guidance and corrections")
	v.SetDefault("batch.size", 4)
	v.SetDefault("batch.max_concurrent", 8)
	v.SetDefault("batch.similarity_threshold", 0.7)
	v.SetDefault("batch.delete_processed_frames", false)
	v.SetDefault("vision.concurrency", 3)
	v.SetDefault("vision.frame_timeout_seconds", 10)
	v.SetDefault("vision.max_image_dimension", 1024)
	v.SetDefault("commands.fuzzy_threshold", 75)
	v.SetDefault("http.addr", ":4443")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Vision.Provider) == "" {
		return fmt.Errorf("vendors.vision.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if c.Batch.SimilarityThreshold <= 0 || c.Batch.SimilarityThreshold > 1 {
		return fmt.Errorf("batch.similarity_threshold must be in (0, 1]")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Task = os.ExpandEnv(cfg.Task)
	cfg.Commands.ControlURL = os.ExpandEnv(cfg.Commands.ControlURL)
	cfg.Vendors.Vision.Settings = expandSettings(cfg.Vendors.Vision.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
