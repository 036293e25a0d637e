package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/config"
	"github.com/csheth/chatterm/internal/engine"
	"github.com/csheth/chatterm/internal/record"
	"github.com/csheth/chatterm/internal/remote"
	"github.com/csheth/chatterm/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to the user config dir)")
	apiURL := flag.String("api", "", "override the conversation service base URL")
	token := flag.String("token", "", "override the bearer token")
	language := flag.String("lang", "", "initial transcription language (en or ar)")
	archivePath := flag.String("archive", "", "override the archive JSON path")
	noAltScreen := flag.Bool("no-alt-screen", false, "disable the alternate screen buffer")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *language != "" {
		cfg.Language = strings.ToLower(*language)
	}
	if *archivePath != "" {
		cfg.ArchivePath = *archivePath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("invalid config:", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Println("failed to open log:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cred := remote.NewCredential(cfg.Token)
	if expires, ok := cred.ExpiresAt(); ok {
		logger.Info("credential loaded", zap.String("subject", cred.Subject()), zap.Time("expires_at", expires))
	}
	client, err := remote.New(remote.Config{
		BaseURL:    cfg.APIBaseURL,
		Credential: cred,
		Logger:     logger,
	})
	if err != nil {
		fmt.Println("failed to create client:", err)
		os.Exit(1)
	}

	command := cfg.RecordCommand
	if len(command) == 0 {
		command = record.DefaultCommand
	}
	recorder := record.New(record.Options{
		Device:      record.CommandDevice{Command: command},
		Transcriber: client,
		Timeout:     cfg.TranscribeTimeout,
		Logger:      logger,
	})
	if err := recorder.SetLanguage(cfg.Language); err != nil {
		fmt.Println("invalid language:", err)
		os.Exit(1)
	}
	eng := engine.New(client, engine.Options{
		ConversationInterval: cfg.ConversationPoll,
		MessageInterval:      cfg.MessagePoll,
		RequestTimeout:       cfg.RequestTimeout,
		Logger:               logger,
	})

	logger.Info("starting",
		zap.String("api", cfg.APIBaseURL),
		zap.String("language", recorder.Language()),
		zap.String("archive", cfg.ArchivePath),
	)

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if !*noAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(
		tui.New(tui.Config{
			Engine:      eng,
			Recorder:    recorder,
			Credential:  cred,
			ArchivePath: cfg.ArchivePath,
			Logger:      logger,
		}),
		opts...,
	)

	if _, err := program.Run(); err != nil {
		logger.Error("program error", zap.Error(err))
		fmt.Println("program error:", err)
		os.Exit(1)
	}
}
