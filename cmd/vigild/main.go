package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
	adaptervision "github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/api"
	"github.com/harunnryd/vigil/pkg/commands"
	"github.com/harunnryd/vigil/pkg/configutil"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/metrics"
	"github.com/harunnryd/vigil/pkg/providers/gemini"
	"github.com/harunnryd/vigil/pkg/providers/gtts"
	"github.com/harunnryd/vigil/pkg/providers/mock"
	"github.com/harunnryd/vigil/pkg/redact"
	"github.com/harunnryd/vigil/pkg/runner"
	"github.com/harunnryd/vigil/pkg/transports"
	mocktransport "github.com/harunnryd/vigil/pkg/transports/mock"
	"github.com/harunnryd/vigil/pkg/transports/relay"
	"github.com/harunnryd/vigil/pkg/vigil"
	"github.com/harunnryd/vigil/pkg/vision"
)

type geminiSettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type gttsSettings struct {
	Language       string `mapstructure:"language"`
	Slow           *bool  `mapstructure:"slow"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type mockVisionSettings struct {
	Status  string `mapstructure:"status"`
	Message string `mapstructure:"message"`
}

type relaySettings struct {
	URL                 string `mapstructure:"url"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReconnectAttempts   int    `mapstructure:"reconnect_attempts"`
	ReconnectDelayMs    int    `mapstructure:"reconnect_delay_ms"`
	ReconnectMaxDelayMs int    `mapstructure:"reconnect_max_delay_ms"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	metricsPath := flag.String("metrics", "", "path to a JSONL metrics file (empty disables)")
	flag.Parse()

	cfg, err := vigil.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.RedactLogs)

	analyzer, err := buildVisionAnalyzer(cfg, logger)
	if err != nil {
		logger.Error("vision provider unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	synth, err := buildSynthesizer(cfg)
	if err != nil {
		logger.Error("tts provider unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	transport, err := buildTransport(cfg)
	if err != nil {
		logger.Error("transport unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	obs, flush := buildObserver(*metricsPath, logger)
	defer flush()

	engine := vigil.New(cfg, transport, analyzer, synth)
	engine.SetLogger(logger)
	engine.SetObserver(obs)

	handlers := commands.NewHandlers(cfg.Commands.ControlURL)
	handlers.SetLogger(logger)
	resolver := commands.NewResolver(commands.DefaultRegistry(handlers), cfg.Commands.FuzzyThreshold)
	httpServer := api.NewServer(cfg.HTTP, engine.Registry(), resolver, synth)
	httpServer.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	life := runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStart: func() {
			go func() {
				if err := httpServer.Start(ctx); err != nil {
					logger.Error("http server stopped", slog.String("error", err.Error()))
				}
			}()
			go func() {
				if err := engine.Run(ctx); err != nil {
					logger.Error("engine stopped", slog.String("error", err.Error()))
				}
				cancel()
			}()
		},
		OnStop: func() {
			_ = transport.Stop()
			_ = httpServer.Stop()
		},
	}, 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := life.Run(ctx); err != nil {
		logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildVisionAnalyzer(cfg vigil.Config, logger *slog.Logger) (adaptervision.BatchAnalyzer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Vendors.Vision.Provider)) {
	case "gemini":
		if err := validateSettings("vendors.vision.settings", cfg.Vendors.Vision.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "timeout_seconds", "circuit_threshold", "circuit_cooldown_ms"},
		}); err != nil {
			return nil, err
		}
		var settings geminiSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Vision.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.vision.settings.api_key"); err != nil {
			return nil, err
		}
		client := gemini.New(gemini.Config{
			APIKey:           settings.APIKey,
			Model:            settings.Model,
			BaseURL:          settings.BaseURL,
			Timeout:          time.Duration(settings.TimeoutSeconds) * time.Second,
			CircuitThreshold: settings.CircuitThreshold,
			CircuitCooldown:  time.Duration(settings.CircuitCooldownMs) * time.Millisecond,
		})
		engine := vision.NewEngine(vision.Config{
			Concurrency:  cfg.Vision.Concurrency,
			FrameTimeout: time.Duration(cfg.Vision.FrameTimeoutSeconds) * time.Second,
			MaxDimension: cfg.Vision.MaxImageDimension,
		}, client, client)
		engine.SetLogger(logger)
		return engine, nil
	case "mock":
		if err := validateSettings("vendors.vision.settings", cfg.Vendors.Vision.Settings, configutil.Schema{
			Optional: []string{"status", "message"},
		}); err != nil {
			return nil, err
		}
		var settings mockVisionSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Vision.Settings, &settings); err != nil {
			return nil, err
		}
		status := adaptervision.Status(settings.Status)
		if status == "" {
			status = adaptervision.StatusOK
		}
		message := settings.Message
		if message == "" {
			message = "All clear."
		}
		return mock.NewBatchAnalyzer(adaptervision.Result{Status: status, Message: message, HasChanges: true}), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Vendors.Vision.Provider)
	}
}

func buildSynthesizer(cfg vigil.Config) (speech.Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Vendors.TTS.Provider)) {
	case "gtts":
		if err := validateSettings("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Optional: []string{"language", "slow", "base_url", "timeout_seconds"},
		}); err != nil {
			return nil, err
		}
		var settings gttsSettings
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		return gtts.New(gtts.Config{
			Language: settings.Language,
			Slow:     configutil.BoolValue(settings.Slow, false),
			BaseURL:  settings.BaseURL,
			Timeout:  time.Duration(settings.TimeoutSeconds) * time.Second,
		}), nil
	case "mock":
		return mock.NewSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider: %s", cfg.Vendors.TTS.Provider)
	}
}

func buildTransport(cfg vigil.Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Provider)) {
	case "relay":
		if err := validateSettings("transport.settings", cfg.Transport.Settings, configutil.Schema{
			Required: []string{"url"},
			Optional: []string{"dial_timeout_seconds", "reconnect_attempts", "reconnect_delay_ms", "reconnect_max_delay_ms"},
		}); err != nil {
			return nil, err
		}
		var settings relaySettings
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.URL, "transport.settings.url"); err != nil {
			return nil, err
		}
		return relay.New(relay.Config{
			URL:               settings.URL,
			DialTimeout:       time.Duration(settings.DialTimeoutSeconds) * time.Second,
			ReconnectAttempts: settings.ReconnectAttempts,
			ReconnectDelay:    time.Duration(settings.ReconnectDelayMs) * time.Millisecond,
			ReconnectMaxDelay: time.Duration(settings.ReconnectMaxDelayMs) * time.Millisecond,
		}), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transport.Provider)
	}
}

func buildObserver(path string, logger *slog.Logger) (metrics.Observer, func()) {
	if strings.TrimSpace(path) == "" {
		return metrics.NoopObserver{}, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn("metrics file unavailable, metrics disabled", slog.String("error", err.Error()))
		return metrics.NoopObserver{}, func() {}
	}
	async := metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), 1024)
	return async, func() {
		async.Close()
		_ = f.Close()
	}
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
