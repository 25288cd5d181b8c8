package config

import "time"

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Defaults for values the flags leave unset.
const (
	DefaultAddr            = ":8080"
	DefaultServerURL       = "ws://localhost:8080/ws"
	DefaultDBPath          = "streamchat.db"
	DefaultReconnectDelay  = 3 * time.Second
	DefaultMaxReconnects   = 5
	DefaultProviderTimeout = 120 * time.Second
)

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Addr            string        // Listen address
	Provider        string        // Generative-language backend (gemini|ollama)
	GeminiModel     string        // Gemini model name
	OllamaModel     string        // Ollama model specification (e.g., "llama3:latest")
	OllamaURL       string        // Ollama chat endpoint
	DefaultAPIKey   string        // Server-default credential (GEMINI_API_KEY)
	ProviderTimeout time.Duration // Upper bound on one provider call
	CacheEnabled    bool          // Enable the completed-response cache
	Debug           bool
}

// ClientConfig holds chat client configuration
type ClientConfig struct {
	ServerURL            string        // WebSocket URL of the relay server
	DBPath               string        // SQLite path for persisted conversations
	ReconnectDelay       time.Duration // Delay between reconnect attempts
	MaxReconnectAttempts int           // Automatic attempts before giving up
	Debug                bool
}
