package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/rrh2023/book-finder/controller"
	"github.com/rrh2023/book-finder/models"
	"github.com/rrh2023/book-finder/pipeline"
)

func newFlagCommand(name string) *cobra.Command {
	cmd := &cobra.Command{Use: name}
	f := cmd.Flags()
	f.String("endpoint", "", "")
	f.BoolP("verbose", "v", false, "")
	f.String("listen", "", "")
	f.String("metrics-addr", "", "")
	f.Int("parallel", 0, "")
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newFlagCommand("serve"))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.APIAddr != ":8081" {
		t.Fatalf("unexpected addresses: listen=%q api=%q", cfg.ListenAddr, cfg.APIAddr)
	}
	if cfg.MessageTimeout != 5*time.Second {
		t.Fatalf("expected 5s message timeout, got %s", cfg.MessageTimeout)
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	cmd := newFlagCommand("api")
	mustSet(t, cmd, "listen", ":9999")
	mustSet(t, cmd, "endpoint", "http://books.test/search")
	mustSet(t, cmd, "metrics-addr", ":9100")
	mustSet(t, cmd, "parallel", "8")

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.APIAddr != ":9999" {
		t.Fatalf("expected api addr :9999, got %q", cfg.APIAddr)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen flag on api must not touch the ui address, got %q", cfg.ListenAddr)
	}
	if cfg.EndpointURL != "http://books.test/search" {
		t.Fatalf("unexpected endpoint %q", cfg.EndpointURL)
	}
	if cfg.MetricsAddr != ":9100" || cfg.Parallelism != 8 {
		t.Fatalf("unexpected metrics addr %q or parallelism %d", cfg.MetricsAddr, cfg.Parallelism)
	}
}

func TestLoadConfigRejectsInvalidEndpoint(t *testing.T) {
	cmd := newFlagCommand("serve")
	mustSet(t, cmd, "endpoint", "ftp://books.test")

	if _, err := loadConfig(cmd); err == nil {
		t.Fatal("expected validation error for non-http endpoint")
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("BOOKFINDER_ENDPOINT_URL", "http://env.test/search")
	t.Setenv("BOOKFINDER_MESSAGE_TIMEOUT", "2s")
	t.Setenv("BOOKFINDER_RATE_LIMIT", "1")
	t.Setenv("BOOKFINDER_SESSION_LIMIT", "7")
	t.Setenv("BOOKFINDER_USER_AGENT", "shelf-bot/2.0")
	t.Setenv("BOOKFINDER_RETRY_BACKOFF", "50ms")
	initConfig()

	cfg, err := loadConfig(newFlagCommand("serve"))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.EndpointURL != "http://env.test/search" {
		t.Fatalf("unexpected endpoint %q", cfg.EndpointURL)
	}
	if cfg.MessageTimeout != 2*time.Second {
		t.Fatalf("expected 2s message timeout, got %s", cfg.MessageTimeout)
	}
	if cfg.RateLimit != 1 || cfg.SessionLimit != 7 {
		t.Fatalf("rate limit = %v session limit = %d, want 1 and 7", cfg.RateLimit, cfg.SessionLimit)
	}
	if cfg.UserAgent != "shelf-bot/2.0" {
		t.Fatalf("unexpected user agent %q", cfg.UserAgent)
	}
	if cfg.RetryBackoff != 50*time.Millisecond {
		t.Fatalf("expected 50ms retry backoff, got %s", cfg.RetryBackoff)
	}
}

func TestReadDescriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	content := "a mystery in Victorian London\n\n# comment\n  space opera  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	got, err := readDescriptions(path)
	if err != nil {
		t.Fatalf("readDescriptions returned error: %v", err)
	}
	want := []string{"a mystery in Victorian London", "space opera"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestReadDescriptionsMissingFile(t *testing.T) {
	if _, err := readDescriptions(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing input file")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, pipeline.Stats{
		Queries:       4,
		FailedQueries: 1,
		Books:         12,
		Validation:    map[string]int{"duplicate_book": 2},
	}, 1500*time.Millisecond, "out/books", "dual")

	out := buf.String()
	for _, want := range []string{
		"Batch search complete",
		"Queries:       4",
		"Success rate:  75.00%",
		"Books:         12",
		"duplicate_book:2",
		"Duration:      1.5s",
		"out/books (dual)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, controller.Snapshot{State: controller.Failed, Message: controller.MsgTransport})
	if strings.TrimSpace(buf.String()) != controller.MsgTransport {
		t.Fatalf("expected message only, got %q", buf.String())
	}

	buf.Reset()
	printSnapshot(&buf, controller.Snapshot{
		State: controller.Success,
		Books: []models.Book{{Title: "Dune", Authors: "Frank Herbert"}},
	})
	if !strings.Contains(buf.String(), "1. Dune") || !strings.Contains(buf.String(), "by Frank Herbert") {
		t.Fatalf("unexpected card output:\n%s", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != "bookfinder dev\n" {
		t.Fatalf("unexpected version output %q", got)
	}
}

func mustSet(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	if err := cmd.Flags().Set(name, value); err != nil {
		t.Fatalf("set --%s: %v", name, err)
	}
}
