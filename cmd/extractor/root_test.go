package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"website-extractor/internal/config"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()
	cmd := NewRootCmd()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"crawl", "serve", "version"})

	for _, flag := range []string{"config", "verbose", "log-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing --%s", flag)
	}
}

func TestCrawlCmdFlags(t *testing.T) {
	t.Parallel()
	cmd := NewCrawlCmd()

	depth := cmd.Flags().Lookup("depth")
	require.NotNil(t, depth)
	assert.Equal(t, "d", depth.Shorthand)
	assert.Equal(t, "2", depth.DefValue)
	assert.NotNil(t, cmd.Flags().Lookup("no-render"))
	assert.NotNil(t, cmd.Flags().Lookup("workers"))
	assert.NotNil(t, cmd.Flags().Lookup("output"))
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "extractor version "))
}

func TestCrawlCmdRequiresURL(t *testing.T) {
	t.Parallel()
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"crawl"})
	assert.Error(t, cmd.Execute())
}

func TestCrawlCmdRejectsBadSeed(t *testing.T) {
	t.Parallel()
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"crawl", "ftp://example.com/", "--log-file", ""})
	assert.Error(t, cmd.Execute())
}

func TestApplyCrawlFlagsOverridesOnlyChangedFlags(t *testing.T) {
	t.Parallel()
	cmd := NewCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "6", "--no-render"}))

	cfg := config.Default()
	cfg.Crawl.MaxDepth = 5
	require.NoError(t, applyCrawlFlags(cmd, &cfg, "https://example.com"))

	assert.Equal(t, 5, cfg.Crawl.MaxDepth, "unset --depth keeps the config value")
	assert.Equal(t, 6, cfg.Crawl.Workers)
	assert.False(t, cfg.Rendering.Enabled)
	assert.Equal(t, "https://example.com", cfg.Crawl.SeedURL)
}

func TestResolveMaxConcurrency(t *testing.T) {
	t.Setenv(maxConcurrencyEnv, "7")
	assert.Equal(t, 3, resolveMaxConcurrency(3, 2))
	assert.Equal(t, 7, resolveMaxConcurrency(0, 2))

	t.Setenv(maxConcurrencyEnv, "junk")
	assert.Equal(t, 2, resolveMaxConcurrency(0, 2))
}

func TestCrawlCmdEndToEnd(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/next">next</a><img src="/pic.gif"></body></html>`))
	})
	mux.HandleFunc("/pic.gif", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "extractor.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("fetch:\n  min_delay: 0s\n  max_delay: 0s\n"), 0o644))
	logPath := filepath.Join(dir, "crawler.log")
	outDir := filepath.Join(dir, "out")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"crawl", srv.URL, "--depth", "1", "--no-render", "-o", outDir, "-c", cfgPath, "--log-file", logPath})
	require.NoError(t, cmd.Execute(), out.String())

	assert.Contains(t, out.String(), "saved 2 resources")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	root := filepath.Join(outDir, entries[0].Name())
	assert.True(t, strings.HasPrefix(entries[0].Name(), "http_127_0_0_1_"))
	assert.FileExists(t, filepath.Join(root, "index.html"))
	assert.FileExists(t, filepath.Join(root, "pic.gif"))

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "msg=downloaded")
	assert.Contains(t, string(logData), "msg=\"created directory\"")
}
