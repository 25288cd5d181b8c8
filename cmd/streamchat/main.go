package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"StreamChat/internal/client"
	"StreamChat/internal/config"
	"StreamChat/internal/store"
	"StreamChat/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	var cfg config.ClientConfig
	var delaySecs int

	flag.StringVar(&cfg.ServerURL, "server", config.DefaultServerURL, "WebSocket URL of the relay server")
	flag.StringVar(&cfg.DBPath, "db", config.DefaultDBPath, "Path to the conversation database")
	flag.IntVar(&delaySecs, "reconnect-delay", int(config.DefaultReconnectDelay/time.Second), "Delay between reconnect attempts in seconds")
	flag.IntVar(&cfg.MaxReconnectAttempts, "max-reconnects", config.DefaultMaxReconnects, "Automatic reconnect attempts before giving up")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg.ReconnectDelay = time.Duration(delaySecs) * time.Second

	logger, err := telemetry.InitLogger("streamchat", cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	kv, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	convs, err := client.OpenConvStore(kv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load conversations: %v\n", err)
		os.Exit(1)
	}

	turnDone := make(chan struct{}, 1)
	signalTurnDone := func() {
		select {
		case turnDone <- struct{}{}:
		default:
		}
	}

	mgr := client.NewManager(cfg, convs, logger, client.Callbacks{
		StatusChanged: func(status client.Status) {
			fmt.Printf("\n[%s]\n", status)
		},
		Chunk: func(text string) {
			fmt.Print(text)
		},
		TurnComplete: func(client.Message) {
			fmt.Println()
			signalTurnDone()
		},
		Banner: func(text string) {
			fmt.Printf("\nError: %s\n", text)
			signalTurnDone()
		},
	})
	defer mgr.Close()

	if mgr.CurrentConversationID() == "" {
		if _, err := mgr.NewConversation(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create conversation: %v\n", err)
			os.Exit(1)
		}
	}

	mgr.Connect()

	fmt.Println("=== StreamChat ===")
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handleCommand(mgr, input) {
				break
			}
			continue
		}

		fmt.Print("AI: ")
		if err := mgr.SendPrompt(input); err != nil {
			fmt.Println()
			switch {
			case errors.Is(err, client.ErrNotConnected):
				fmt.Println("Not connected to server. Use /reconnect to try again.")
			case errors.Is(err, client.ErrBusy):
				fmt.Println("A response is still streaming. Please wait.")
			default:
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}
		<-turnDone
		fmt.Println()
	}

	fmt.Println("Goodbye!")
}

// handleCommand handles slash commands. It returns true when the client
// should exit.
func handleCommand(mgr *client.Manager, cmd string) bool {
	parts := strings.Fields(cmd)

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		conv, err := mgr.NewConversation()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Println("Started new conversation:", conv.ID)

	case "/sessions":
		conversations := mgr.Conversations()
		if len(conversations) == 0 {
			fmt.Println("No conversations.")
			return false
		}
		current := mgr.CurrentConversationID()
		fmt.Println("\nConversations:")
		for i, conv := range conversations {
			marker := ""
			if conv.ID == current {
				marker = " (current)"
			}
			fmt.Printf("%d. %s — %d messages, updated %s%s\n",
				i+1, conv.Title, len(conv.Messages),
				conv.UpdatedAt.Format("2006-01-02 15:04"), marker)
		}
		fmt.Println()

	case "/switch":
		conv, ok := pickConversation(mgr, parts)
		if !ok {
			fmt.Println("usage: /switch <number> (see /sessions)")
			return false
		}
		if err := mgr.SwitchConversation(conv.ID); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Printf("Switched to: %s\n", conv.Title)

	case "/delete":
		conv, ok := pickConversation(mgr, parts)
		if !ok {
			fmt.Println("usage: /delete <number> (see /sessions)")
			return false
		}
		if err := mgr.DeleteConversation(conv.ID); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Printf("Deleted: %s\n", conv.Title)

	case "/clear":
		if err := mgr.ClearConversation(); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Println("Conversation cleared.")

	case "/set-api-key":
		if len(parts) < 2 {
			fmt.Println("usage: /set-api-key <key>")
			return false
		}
		if err := mgr.SetAPIKey(parts[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Println("API key saved.")

	case "/reconnect":
		mgr.Reconnect()

	case "/status":
		fmt.Printf("Connection: %s\n", mgr.Status())
		if msg := mgr.LastError(); msg != "" {
			fmt.Printf("Last error: %s\n", msg)
		}

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /new               - Start a new conversation")
		fmt.Println("  /sessions          - List conversations")
		fmt.Println("  /switch <number>   - Switch to a conversation")
		fmt.Println("  /delete <number>   - Delete a conversation")
		fmt.Println("  /clear             - Clear the current conversation")
		fmt.Println("  /set-api-key <key> - Save the provider API key")
		fmt.Println("  /reconnect         - Reconnect to the server")
		fmt.Println("  /status            - Show connection status")
		fmt.Println("  /quit, /exit       - Exit")

	default:
		fmt.Println("Unknown command. Type /help for commands.")
	}

	return false
}

// pickConversation resolves a 1-based index argument against the listing
// order of /sessions.
func pickConversation(mgr *client.Manager, parts []string) (client.Conversation, bool) {
	if len(parts) < 2 {
		return client.Conversation{}, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return client.Conversation{}, false
	}
	conversations := mgr.Conversations()
	if n < 1 || n > len(conversations) {
		return client.Conversation{}, false
	}
	return conversations[n-1], true
}
