// Command lastused remembers the third-party login used on each site and
// marks that button on later visits.
//
// Usage:
//
//	lastused -config lastused.yaml              # observe configured pages
//	lastused -url https://example.com/login     # observe one page until interrupted
//	lastused -inspect https://example.com/login # one HTTP scan, JSON to stdout
//	lastused -http :8080                        # popup UI and JSON API
//	lastused -mcp                               # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lastused/lastused"
)

func main() {
	configPath := flag.String("config", "", "path to lastused.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL in Chrome")
	inspectURL := flag.String("inspect", "", "fetch a URL over HTTP, print its login buttons and exit")
	httpAddr := flag.String("http", "", "serve the popup UI on this address")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools over stdio")
	dbPath := flag.String("db", "", "recall database path (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		configPath: *configPath,
		singleURL:  *singleURL,
		inspectURL: *inspectURL,
		httpAddr:   *httpAddr,
		mcp:        *mcpStdio,
		dbPath:     *dbPath,
	}
	if err := run(ctx, logger, opts); err != nil {
		logger.Error("lastused: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	singleURL  string
	inspectURL string
	httpAddr   string
	mcp        bool
	dbPath     string
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.configPath == "" && opts.singleURL == "" && opts.inspectURL == "" && opts.httpAddr == "" && !opts.mcp {
		fmt.Fprintln(os.Stderr, "usage: lastused -config <file> | -url <url> | -inspect <url> | -http <addr> | -mcp")
		os.Exit(2)
	}

	cfg := &lastused.Config{}
	if opts.configPath != "" {
		var err error
		if cfg, err = lastused.LoadConfigFile(opts.configPath); err != nil {
			return err
		}
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.singleURL != "" {
		cfg.Pages = append(cfg.Pages, lastused.PageConfig{URL: opts.singleURL})
	}
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}

	eng, err := lastused.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Stop()

	if opts.inspectURL != "" {
		return runInspect(ctx, eng, opts.inspectURL)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	errc := make(chan error, 2)
	if cfg.HTTP.Addr != "" {
		go func() { errc <- serveHTTP(ctx, logger, cfg.HTTP.Addr, eng.Handler()) }()
	}
	if opts.mcp {
		go func() { errc <- serveMCP(ctx, eng) }()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func runInspect(ctx context.Context, eng *lastused.Engine, url string) error {
	in, err := eng.Inspect(ctx, url)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(in)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("lastused: popup listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, eng *lastused.Engine) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "lastused", Version: "0.1.0"}, nil)
	eng.RegisterMCP(srv)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
