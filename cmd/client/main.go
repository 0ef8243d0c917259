package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/fenggwsx/StayChat/internal/client"
	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/logging"
)

func main() {
	cfg, err := config.LoadClientConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "staychat: %v\n", err)
		os.Exit(2)
	}

	// The terminal belongs to the UI, so logs go to a file.
	var out io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "staychat: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, out)

	api, err := client.NewAPI(cfg.ServerURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "staychat: %v\n", err)
		os.Exit(2)
	}

	model := client.NewApp(cfg, api, logger)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		logger.Error().Err(err).Msg("client exited")
		fmt.Fprintf(os.Stderr, "staychat: %v\n", err)
		os.Exit(1)
	}
}
