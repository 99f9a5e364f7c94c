package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rrh2023/book-finder/controller"
	"github.com/rrh2023/book-finder/render"
)

const shellHelp = `Type a book description and press Enter to search.
  :clear   clear the results
  :help    show this help
  :quit    exit (also Ctrl-D)`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive search prompt",
	RunE:  runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newSearchClient(cfg, nil)
	if err != nil {
		return err
	}

	ctrl := controller.New(client,
		controller.WithMessageTimeout(cfg.MessageTimeout),
		controller.WithLogger(slog.Default()),
	)
	defer ctrl.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := shellHistoryPath()
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shellHelp)
	for {
		input, err := line.Prompt("bookfinder> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}

		trimmed := strings.TrimSpace(input)
		switch trimmed {
		case ":quit", ":q", ":exit":
			saveHistory(line, historyPath)
			return nil
		case ":help":
			fmt.Fprintln(out, shellHelp)
			continue
		case ":clear":
			ctrl.Clear()
			fmt.Fprintln(out, "Cleared.")
			continue
		}
		if trimmed != "" {
			line.AppendHistory(trimmed)
		}

		ctrl.SetQuery(input)
		snap := awaitWithSpinner(ctrl.Submit(cmd.Context()))
		printSnapshot(out, snap)
	}

	saveHistory(line, historyPath)
	return nil
}

// awaitWithSpinner shows an indeterminate spinner until the search settles.
func awaitWithSpinner(ch <-chan controller.Snapshot) controller.Snapshot {
	bar := progressbar.Default(-1, "Searching...")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case snap := <-ch:
			_ = bar.Clear()
			return snap
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func printSnapshot(w io.Writer, snap controller.Snapshot) {
	if snap.Message != "" {
		fmt.Fprintln(w, snap.Message)
		return
	}
	if err := render.WriteText(w, render.Cards(snap.Books)); err != nil {
		slog.Warn("printing results failed", slog.Any("error", err))
	}
}

func shellHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bookfinder_history")
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		slog.Debug("saving history failed", slog.Any("error", err))
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
