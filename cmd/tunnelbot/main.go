package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/btouchard/tunnelbot/internal/auth"
	"github.com/btouchard/tunnelbot/internal/bootstrap"
	"github.com/btouchard/tunnelbot/internal/bot"
	"github.com/btouchard/tunnelbot/internal/config"
	"github.com/btouchard/tunnelbot/internal/liveness"
	tunnelmcp "github.com/btouchard/tunnelbot/internal/mcp"
	authmw "github.com/btouchard/tunnelbot/internal/mcp/middleware"
	"github.com/btouchard/tunnelbot/internal/notify"
	"github.com/btouchard/tunnelbot/internal/store"
	"github.com/btouchard/tunnelbot/internal/telegram"
	"github.com/btouchard/tunnelbot/internal/tunnel"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("tunnelbot %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "rotate-token":
		cmdRotateToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tunnelbot <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve          Start the bot\n")
	fmt.Fprintf(os.Stderr, "  check          Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  rotate-token   Generate a new MCP access token\n")
	fmt.Fprintf(os.Stderr, "  version        Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting tunnelbot",
		"version", version,
		"provider", cfg.Tunnel.Provider,
		"webhook_port", cfg.Telegram.Port,
		"liveness_port", cfg.Liveness.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func cmdRotateToken(args []string) {
	fs := flag.NewFlagSet("rotate-token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.RotateToken(cfg.MCP.SecretDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotating token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var console slog.Handler
	if cfg.Server.LogFormat == "text" {
		console = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	} else {
		console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	handlers := []slog.Handler{console}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func newBackend(cfg *config.Config) (tunnel.Backend, func()) {
	if cfg.Tunnel.Provider == "agent" {
		return tunnel.NewAgent(cfg.Tunnel.AgentAPIURL, cfg.Tunnel.Timeout), func() {}
	}

	ng := tunnel.NewNgrok(cfg.Tunnel.AuthToken, cfg.Tunnel.Domain)
	return ng, func() {
		if err := ng.Shutdown(); err != nil {
			slog.Warn("ngrok session shutdown failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	// --- Telegram ---
	tg := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL, cfg.Telegram.Timeout)

	// --- Tunnel Manager ---
	backend, shutdownBackend := newBackend(cfg)
	defer shutdownBackend()

	defaultAddr := tunnel.PortAddr(cfg.Tunnel.DefaultPort)
	mgr := tunnel.NewManager(backend, tunnel.NewRegistry(), defaultAddr, cfg.Tunnel.Timeout)
	if ng, ok := backend.(*tunnel.NgrokBackend); ok {
		ng.SetLostFunc(mgr.Lost)
	}

	// --- Commands ---
	dispatcher := bot.NewDispatcher(tg)
	bot.RegisterCommands(dispatcher, bot.Deps{
		Tunnels:      mgr,
		History:      db,
		HistoryLimit: cfg.Database.HistoryLimit,
	})

	// --- MCP Server ---
	var mcpHandler http.Handler
	notifiers := []notify.Notifier{
		notify.NewStoreNotifier(db),
		notify.NewTelegramNotifier(tg, cfg.Telegram.NotifyChatIDs),
	}
	if cfg.MCP.Enabled {
		token := cfg.MCP.Token
		if token == "" {
			token, err = auth.LoadOrCreateToken(cfg.MCP.SecretDir)
			if err != nil {
				return fmt.Errorf("loading mcp token: %w", err)
			}
		}

		mcpServer := tunnelmcp.NewServer(&tunnelmcp.Deps{
			Commands: dispatcher,
			Version:  version,
		})
		notifiers = append(notifiers, notify.NewMCPNotifier(mcpServer))
		mcpHandler = authmw.BearerAuth(token)(server.NewStreamableHTTPServer(mcpServer))
	}

	hub := notify.NewHub(notifiers...)
	defer hub.Close()
	mgr.SetNotifyFunc(hub.Notify)

	// --- HTTP Routers ---
	gate := &bootstrap.Gate{}
	webhook := telegram.NewWebhookHandler(dispatcher)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.With(gate.Middleware).Post(cfg.Telegram.WebhookPath, webhook.ServeHTTP)

	webhookAddr := net.JoinHostPort(cfg.Telegram.Host, strconv.Itoa(cfg.Telegram.Port))
	ln, err := net.Listen("tcp", webhookAddr)
	if err != nil {
		return fmt.Errorf("webhook listen on %s: %w", webhookAddr, err)
	}
	srv := newHTTPServer(r)

	var (
		mcpLn   net.Listener
		mcpSrv  *http.Server
		mcpAddr string
	)
	if mcpHandler != nil {
		mr := chi.NewRouter()
		mr.Use(middleware.Recoverer)
		mr.With(gate.Middleware).Handle(cfg.MCP.Path, mcpHandler)

		mcpAddr = net.JoinHostPort(cfg.MCP.Host, strconv.Itoa(cfg.MCP.Port))
		mcpLn, err = net.Listen("tcp", mcpAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("mcp listen on %s: %w", mcpAddr, err)
		}
		mcpSrv = newHTTPServer(mr)
	}

	live, err := liveness.Listen(net.JoinHostPort(cfg.Liveness.Host, strconv.Itoa(cfg.Liveness.Port)))
	if err != nil {
		_ = ln.Close()
		if mcpLn != nil {
			_ = mcpLn.Close()
		}
		return err
	}

	// --- Servers ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("webhook server listening", "addr", webhookAddr, "path", cfg.Telegram.WebhookPath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	if mcpSrv != nil {
		g.Go(func() error {
			slog.Info("mcp server listening", "addr", mcpAddr, "path", cfg.MCP.Path)
			if err := mcpSrv.Serve(mcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return live.Serve(gctx)
	})

	g.Go(func() error {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		db.StartCleanupLoop(gctx.Done(), time.Hour, retention)
		return nil
	})

	// --- Bootstrap ---
	g.Go(func() error {
		seq := bootstrap.New(mgr, tg, bootstrap.Options{
			WebhookPath:    cfg.Telegram.WebhookPath,
			Attempts:       cfg.Bootstrap.Attempts,
			InitialBackoff: cfg.Bootstrap.InitialBackoff,
			MaxBackoff:     cfg.Bootstrap.MaxBackoff,
			Commands:       menu(dispatcher),
			Gate:           gate,
		})
		if _, err := seq.Run(gctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		slog.Info("tunnelbot is ready")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if mcpSrv != nil {
			err = errors.Join(err, mcpSrv.Shutdown(shutdownCtx))
		}
		webhook.Wait()
		cleanup(shutdownCtx, mgr, tg)
		return err
	})

	return g.Wait()
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

// menu builds the Telegram command menu from the registered commands.
func menu(d *bot.Dispatcher) []telegram.BotCommand {
	var cmds []telegram.BotCommand
	for _, c := range d.Commands() {
		cmds = append(cmds, telegram.BotCommand{Command: c.Name, Description: c.Description})
	}
	return cmds
}

// cleanup releases the managed tunnel and the webhook pointing at it.
func cleanup(ctx context.Context, mgr *tunnel.Manager, tg *telegram.Client) {
	t, err := mgr.Stop(ctx)
	switch {
	case errors.Is(err, tunnel.ErrNoActiveTunnel):
		return
	case err != nil:
		slog.Warn("failed to close tunnel on shutdown", "error", err)
	default:
		slog.Info("tunnel closed on shutdown", "public_url", t.PublicURL)
	}

	if err := tg.DeleteWebhook(ctx); err != nil {
		slog.Warn("failed to delete webhook on shutdown", "error", err)
	}
}
