package main

import (
	"context"
	"encoding/json"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/groupmind/internal/api"
	"github.com/kalambet/groupmind/internal/bot"
	"github.com/kalambet/groupmind/internal/cache"
	"github.com/kalambet/groupmind/internal/completion"
	"github.com/kalambet/groupmind/internal/composer"
	"github.com/kalambet/groupmind/internal/config"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/learning"
	"github.com/kalambet/groupmind/internal/setup"
	"github.com/kalambet/groupmind/internal/storage"
	"github.com/kalambet/groupmind/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the admin API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running groupmind server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show groupmind status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "groupmind.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newProvider builds the configured completion backend.
func newProvider(ctx context.Context, cfg config.Config) (completion.Provider, error) {
	switch cfg.Completion.Provider {
	case config.ProviderOllama:
		o := completion.NewOllama(cfg.Ollama.BaseURL, cfg.Completion.Model)
		if err := o.EnsureReady(ctx, stderr); err != nil {
			return nil, err
		}
		return o, nil
	case config.ProviderOpenRouter:
		return completion.NewOpenRouter(cfg.OpenRouter.APIKey, cfg.Completion.Model), nil
	}
	return nil, fmt.Errorf("unknown completion provider %q", cfg.Completion.Provider)
}

func runServer(parent context.Context) error {
	fmt.Fprintf(stderr, "groupmind version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewSecrets())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start twice against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	guard := completion.NewGuard(provider, completion.Options{Timeout: cfg.CompletionTimeout()})

	ks := knowledge.NewService(store)

	tg := telegram.NewClient(nil, cfg.Telegram.BaseURL, cfg.Telegram.BotToken)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}
	slog.Info("telegram bot authenticated", "username", me.Username, "id", me.ID)

	b := bot.New(bot.Deps{
		Store:     store,
		Knowledge: ks,
		Setup:     setup.NewMachine(store),
		Cache: cache.New(cache.Options{
			Size:   cfg.Cache.Size,
			TTL:    cfg.CacheTTL(),
			Policy: cache.ParsePolicy(cfg.Cache.Policy),
		}),
		Completer: guard,
		Composer:  composer.New(0),
		Sender:    tg,
		Members:   tg,
		Handle:    me.Username,
	})

	poller := telegram.NewPoller(tg, b, me, telegram.PollerOptions{
		PollTimeout:    time.Duration(cfg.Telegram.PollTimeout) * time.Second,
		MaxConcurrency: cfg.Bot.MaxConcurrency,
	})
	worker := learning.NewWorker(store, ks, 500*time.Millisecond)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAdminHandler(api.AdminDeps{
			Store:        store,
			Knowledge:    ks,
			Token:        apiToken,
			BreakerState: guard.State,
		}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("admin API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Knowledge: knowledge.NewService(store)})
	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("groupmind is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop groupmind (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to groupmind (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	Completion string `json:"completion"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthResponse
		json.NewDecoder(resp.Body).Decode(&h)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
			if h.Completion != "" {
				printStatus("Completion breaker", "%s", h.Completion)
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s (%s)", cfg.Completion.Provider, cfg.Completion.Model)
	if cfg.Completion.Provider == config.ProviderOllama {
		if completion.NewOllama(cfg.Ollama.BaseURL, cfg.Completion.Model).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
	}
	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}

	if running {
		client, err := newAPIClient()
		if err == nil {
			if groups, err := fetchGroups(ctx, client); err == nil {
				configured := 0
				for _, g := range groups {
					if g.SetupComplete {
						configured++
					}
				}
				printStatus("Groups", "%d (%d configured)", len(groups), configured)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
