// Command chatwidget is the terminal frontend of the dealership chat
// widget. It restores the visitor's identity and session, keeps the
// conversation synchronized over the realtime channel with polling
// fallback, and accepts slash commands for profile edits.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/primeautohub/chatwidget/internal/api"
	"github.com/primeautohub/chatwidget/internal/chat"
	"github.com/primeautohub/chatwidget/internal/config"
	"github.com/primeautohub/chatwidget/internal/identity"
	"github.com/primeautohub/chatwidget/internal/logger"
	"github.com/primeautohub/chatwidget/internal/sound"
	"github.com/primeautohub/chatwidget/internal/store"
	"github.com/primeautohub/chatwidget/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment")
	}

	cfg := config.LoadConfig()
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	st, err := store.Open(cfg.StateFile)
	if err != nil {
		log.Error("failed to open state store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	visitorID := identity.NewProvider(st, log).GetOrCreate()
	fmt.Printf("Prime Auto Hub — чат с менеджером\nvisitor %s\n\n", visitorID)

	client := api.NewClient(cfg.BackendURL, cfg.RequestTimeout, log)
	sounds := sound.NewService(sound.TerminalSink{}, st, cfg.SoundEnabled)

	manager := transport.NewManager(transport.Config{
		WebSocketURL:         cfg.WebSocketURL,
		PollInterval:         cfg.PollInterval,
		ReconnectMinDelay:    cfg.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		TypingResetWindow:    cfg.TypingResetWindow,
	}, client, log)

	engine := chat.NewEngine(chat.Options{
		Backend:         client,
		Realtime:        manager,
		Store:           st,
		Sound:           sounds,
		Logger:          log,
		ProjectSource:   cfg.ProjectSource,
		ProfileDebounce: cfg.ProfileDebounce,
		OnNotice: func(text string) {
			fmt.Printf("\n[!] %s\n> ", text)
		},
	})

	manager.OnMessages = engine.HandleIncoming
	manager.OnPeerTyping = func(isTyping bool) {
		engine.HandlePeerTyping(isTyping)
		if isTyping {
			fmt.Print("\n[менеджер печатает...]\n> ")
		}
	}
	manager.OnStateChange = func(s transport.State) {
		log.Debug("transport state", slog.String("state", s.String()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start(ctx)
	printTranscript(engine)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	var lastRev uint64
	for {
		fmt.Print("> ")
		select {
		case <-quit:
			fmt.Println("\nдо свидания")
			engine.Close()
			return
		case line, ok := <-lines:
			if !ok {
				engine.Close()
				return
			}
			if handleLine(ctx, engine, sounds, line) {
				engine.Close()
				return
			}
			if rev := engine.Revision(); rev != lastRev {
				lastRev = rev
				printTranscript(engine)
			}
		}
	}
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// handleLine dispatches one REPL line. Returns true on /quit.
func handleLine(ctx context.Context, engine *chat.Engine, sounds *sound.Service, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/sound":
		if err := sounds.SetEnabled(!sounds.Enabled()); err != nil {
			fmt.Printf("[!] %v\n", err)
		}
		fmt.Printf("звук: %v\n", sounds.Enabled())
		return false
	case strings.HasPrefix(line, "/name "):
		updateProfile(engine, func(p *chat.ContactProfile) { p.Name = strings.TrimSpace(line[6:]) })
		return false
	case strings.HasPrefix(line, "/email "):
		updateProfile(engine, func(p *chat.ContactProfile) { p.Email = strings.TrimSpace(line[7:]) })
		return false
	case strings.HasPrefix(line, "/phone "):
		updateProfile(engine, func(p *chat.ContactProfile) { p.Phone = strings.TrimSpace(line[7:]) })
		return false
	}

	engine.Typing()
	if err := engine.Send(ctx, line); err != nil && !errors.Is(err, chat.ErrProfileIncomplete) {
		fmt.Printf("[!] отправка не удалась: %v\n", err)
	}
	return false
}

func updateProfile(engine *chat.Engine, apply func(*chat.ContactProfile)) {
	profile := engine.Profile()
	apply(&profile)
	engine.SetProfile(profile)
	fmt.Printf("профиль: %s / %s / %s\n", profile.Name, profile.Phone, profile.Email)
}

func printTranscript(engine *chat.Engine) {
	for _, msg := range engine.Messages() {
		who := "вы"
		if msg.Sender == chat.SenderAdmin {
			who = "менеджер"
		}
		marker := ""
		if msg.Pending() {
			marker = " (отправляется)"
		}
		fmt.Printf("  [%s]%s %s\n", who, marker, msg.Text)
	}
}
