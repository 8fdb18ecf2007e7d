package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/kalambet/datamill/internal/api"
	"github.com/kalambet/datamill/internal/config"
	"github.com/kalambet/datamill/internal/crawler"
	"github.com/kalambet/datamill/internal/etl"
	"github.com/kalambet/datamill/internal/ingest"
	"github.com/kalambet/datamill/internal/ml"
	"github.com/kalambet/datamill/internal/quality"
	"github.com/kalambet/datamill/internal/report"
	"github.com/kalambet/datamill/internal/storage"
	"github.com/kalambet/datamill/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the datamill server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running datamill server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show datamill system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "datamill.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "datamill version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.Token == "" {
		return fmt.Errorf("missing API token: set server.token in config or DATAMILL_SERVER_TOKEN")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("datamill is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("datamill is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the processing stack.
	processor := ingest.NewProcessor(store)
	siteCrawler := crawler.New(processor, crawler.Config{
		Delay:     cfg.Crawler.Delay,
		Timeout:   cfg.Crawler.Timeout,
		UserAgent: cfg.Crawler.UserAgent,
	})
	pipeline := etl.NewPipeline(store, quality.NewChecker())
	reporter := report.NewReporter(store)
	trainer := ml.NewTrainer()

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Ingestor: processor,
		Reporter: reporter,
		Trainer:  trainer,
		Token:    cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the job worker for queued crawls and pipeline runs.
	jobWorker := worker.NewWorker(store, siteCrawler, pipeline, 500*time.Millisecond)
	go jobWorker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Reporter: reporter,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "datamill listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("datamill is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop datamill (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to datamill (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running && cfg.Server.Token != "" {
		ac := &apiClient{baseURL: serverURL, token: cfg.Server.Token, httpClient: client}
		if statsResp, err := ac.get(context.Background(), "/stats"); err == nil {
			var dash struct {
				ProcessingStats struct {
					TotalFiles     int     `json:"total_files"`
					ProcessedFiles int     `json:"processed_files"`
					AnalyzedFiles  int     `json:"analyzed_files"`
					ProcessingRate float64 `json:"processing_rate"`
				} `json:"processing_stats"`
			}
			if decodeJSON(statsResp, &dash) == nil {
				printStatus("Files", "%d total, %d processed, %d analyzed",
					dash.ProcessingStats.TotalFiles, dash.ProcessingStats.ProcessedFiles, dash.ProcessingStats.AnalyzedFiles)
				printStatus("Processing rate", "%.1f%%", dash.ProcessingStats.ProcessingRate)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
