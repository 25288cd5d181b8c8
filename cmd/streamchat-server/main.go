package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"StreamChat/internal/config"
	"StreamChat/internal/provider"
	"StreamChat/internal/server"
	"StreamChat/internal/telemetry"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	var cfg config.ServerConfig
	var timeoutSecs int

	flag.StringVar(&cfg.Addr, "addr", config.DefaultAddr, "Listen address")
	flag.StringVar(&cfg.Provider, "provider", config.ProviderGemini, "LLM provider (gemini|ollama)")
	flag.StringVar(&cfg.GeminiModel, "gemini-model", provider.DefaultGeminiModel, "Gemini model name")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", provider.DefaultOllamaModel, "Ollama model specification (format: model:version)")
	flag.StringVar(&cfg.OllamaURL, "ollama-url", provider.DefaultOllamaURL, "Ollama chat endpoint")
	flag.IntVar(&timeoutSecs, "provider-timeout", int(config.DefaultProviderTimeout/time.Second), "Upper bound on one provider call in seconds")
	flag.BoolVar(&cfg.CacheEnabled, "cache", false, "Cache completed responses by conversation hash")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg.ProviderTimeout = time.Duration(timeoutSecs) * time.Second
	cfg.DefaultAPIKey = os.Getenv("GEMINI_API_KEY")
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}

	logger, err := telemetry.InitLogger("streamchat-server", cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, "streamchat-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var p provider.Provider
	switch cfg.Provider {
	case config.ProviderGemini:
		p = provider.NewGemini(cfg.GeminiModel)
	case config.ProviderOllama:
		p = provider.NewOllama(cfg.OllamaModel, cfg.OllamaURL)
	default:
		fmt.Fprintf(os.Stderr, "Unknown provider: %s\n", cfg.Provider)
		os.Exit(1)
	}

	srv := server.New(cfg, p, logger, tracer, meter)

	fmt.Printf("StreamChat server running on ws://localhost%s/ws\n", cfg.Addr)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Server closed")
}
