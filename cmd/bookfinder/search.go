package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rrh2023/book-finder/config"
	"github.com/rrh2023/book-finder/controller"
	"github.com/rrh2023/book-finder/pipeline"
	"github.com/rrh2023/book-finder/render"
)

var searchCmd = &cobra.Command{
	Use:   "search [description...]",
	Short: "Search books by description",
	Long: `search submits one description and prints the matching books.

With --input, every non-blank line of the file is searched and the results
are written to --output as CSV, JSON lines or both.`,
	Example: `  bookfinder search "a mystery set in Victorian London"
  bookfinder search --format json "space opera with a rogue AI"
  bookfinder search --input queries.txt --output results/books --output-format dual`,
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.String("format", "text", "output format for a single search: text, json or yaml")
	f.String("input", "", "file with one description per line (batch mode)")
	f.String("output", "books", "batch output path without extension")
	f.String("output-format", "csv", "batch output format: csv, json or dual")
	f.Int("parallel", 0, "concurrent batch searches (default from config)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	input, _ := cmd.Flags().GetString("input")
	if input != "" {
		output, _ := cmd.Flags().GetString("output")
		outputFormat, _ := cmd.Flags().GetString("output-format")
		return runBatch(cmd, cfg, input, output, outputFormat)
	}

	if len(args) == 0 {
		return errors.New("a description is required (or use --input)")
	}
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := render.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	client, err := newSearchClient(cfg, nil)
	if err != nil {
		return err
	}

	ctrl := controller.New(client, controller.WithLogger(slog.Default()))
	defer ctrl.Close()

	ctrl.SetQuery(strings.Join(args, " "))
	snap := <-ctrl.Submit(cmd.Context())
	if snap.State == controller.Failed && snap.Message != controller.MsgNoBooks {
		return errors.New(snap.Message)
	}
	return render.Write(cmd.OutOrStdout(), format, render.Cards(snap.Books))
}

func runBatch(cmd *cobra.Command, cfg *config.Config, input, output, outputFormat string) error {
	descriptions, err := readDescriptions(input)
	if err != nil {
		return err
	}
	if len(descriptions) == 0 {
		return fmt.Errorf("no descriptions in %s", input)
	}

	client, err := newSearchClient(cfg, nil)
	if err != nil {
		return err
	}
	writer, err := pipeline.NewOutputWriter(outputFormat, output)
	if err != nil {
		return fmt.Errorf("creating output writer: %w", err)
	}

	bar := progressbar.Default(int64(len(descriptions)), "searching")
	p := pipeline.New(cmd.Context(), client, writer,
		pipeline.WithLogger(slog.Default()),
		pipeline.WithProgress(func() { _ = bar.Add(1) }),
	)

	start := time.Now()
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartStatsReporting(10 * time.Second)
	}

	processErr := p.Process(descriptions...)
	closeErr := p.Close()
	writerErr := writer.Close()
	_ = bar.Finish()
	if err := errors.Join(processErr, closeErr, writerErr); err != nil {
		return fmt.Errorf("batch search: %w", err)
	}
	if err := writer.Validate(); errors.Is(err, pipeline.ErrNoRecords) {
		slog.Warn("no books found for any description", slog.String("output", output))
	} else if err != nil {
		return fmt.Errorf("validating output: %w", err)
	}

	printSummary(cmd.OutOrStdout(), p.Stats(), time.Since(start), output, outputFormat)
	return nil
}

func readDescriptions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	var descriptions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		descriptions = append(descriptions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return descriptions, nil
}

func printSummary(w io.Writer, s pipeline.Stats, duration time.Duration, output, format string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Batch search complete")

	successRate := 0.0
	if s.Queries > 0 {
		successRate = float64(s.Queries-s.FailedQueries) / float64(s.Queries) * 100
	}
	fmt.Fprintf(w, "  Queries:       %d\n", s.Queries)
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Failed:        %d\n", s.FailedQueries)
	fmt.Fprintf(w, "  Books:         %d\n", s.Books)
	if len(s.Validation) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", s.Validation)
	}
	fmt.Fprintf(w, "  Duration:      %s\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output:        %s (%s)\n", output, format)
	fmt.Fprintln(w, separator)
}
