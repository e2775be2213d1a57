package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/inxource/inxight/internal/api"
	"github.com/inxource/inxight/internal/config"
	"github.com/inxource/inxight/internal/cron"
	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/llm"
	"github.com/inxource/inxight/internal/report"
	"github.com/inxource/inxight/internal/source"
	"github.com/inxource/inxight/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the insight API and hourly scheduler (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running inxight server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and when each cadence is next due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "inxight.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// app is the wired report subsystem shared by serve and local generate.
type app struct {
	store     *storage.Store
	reports   *storage.CachedStore
	scheduler *report.Scheduler
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.ValidateGeneration(); err != nil {
		return nil, err
	}

	a := &app{}

	src, err := source.Open(cfg.Source.Driver, cfg.Source.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, src.Close)

	store, err := storage.OpenDriver(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.store = store

	client, err := llm.New(ctx, llm.Options{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating text service client: %w", err)
	}
	slog.Info("text service configured", "client", client.Name())

	extractor := insight.NewExtractor(src, cfg.Insights.CallTimeout, cfg.Insights.Parallelism)
	generator := insight.NewGenerator(client, cfg.Insights.CallTimeout, cfg.Insights.Parallelism)
	pipeline := insight.NewPipeline(extractor, generator, cfg.TableList())
	slog.Info("monitoring tables", "tables", strings.Join(pipeline.Tables(), ","))

	a.reports = storage.NewCachedStore(store, cfg.Storage.CacheSize, cfg.Storage.CacheTTL)
	a.scheduler = report.NewScheduler(a.reports, pipeline, store)
	return a, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "inxight version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; /insights routes are unauthenticated")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("inxight is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("inxight is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	appHandler := api.NewAppHandler(api.AppDeps{
		Reports:   a.reports,
		Scheduler: a.scheduler,
		Runs:      a.store,
		Token:     cfg.Server.Token,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           appHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the schedule runner.
	if cfg.Schedule.Interval > 0 {
		runner := cron.NewRunner(a.scheduler, nil, cfg.Schedule.Interval)
		go runner.Run(ctx)
	} else {
		slog.Info("schedule runner disabled")
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Reports:   a.reports,
			Scheduler: a.scheduler,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "inxight listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("inxight is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop inxight (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to inxight (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	for _, c := range insight.Cadences {
		st, err := fetchStatus(ctx, client, c)
		if err != nil {
			printStatus(capitalize(string(c)), "unknown (%v)", err)
			continue
		}
		printStatus(capitalize(string(c)), "%s", describeStatus(st))
	}
	return nil
}

func fetchStatus(ctx context.Context, client *apiClient, c insight.Cadence) (report.Status, error) {
	resp, err := client.get(ctx, "/insights/"+string(c)+"/status")
	if err != nil {
		return report.Status{}, err
	}
	var st report.Status
	if err := decodeJSON(resp, &st); err != nil {
		return report.Status{}, err
	}
	return st, nil
}

func describeStatus(st report.Status) string {
	switch st.State {
	case report.NoPriorReport:
		return "no report yet, due now"
	case report.Stale:
		return "due now"
	case report.Fresh:
		days := 0
		if st.DaysRemaining != nil {
			days = *st.DaysRemaining
		}
		if st.NextDue != nil {
			return fmt.Sprintf("fresh, %d days remaining (next due %s)", days, st.NextDue.Format(time.DateOnly))
		}
		return fmt.Sprintf("fresh, %d days remaining", days)
	}
	return string(st.State)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
