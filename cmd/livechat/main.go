package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	intrnl "livechat/internal"
	"livechat/internal/app"
)

const defaultServerURL = "ws://127.0.0.1:8080/join"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "livechat: load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "livechat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "livechat",
		Short:         "Real-time direct and room chat in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServerCmd(), newClientCmd(), newLocalCmd(), newVersionCmd())
	return root
}

type serverFlags struct {
	addr       string
	path       string
	db         string
	tokenTTL   time.Duration
	logLevel   string
	trustProxy bool
	origins    []string
}

func (f *serverFlags) register(cmd *cobra.Command, defaultAddr string) {
	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", envOrDefault("LIVECHAT_ADDR", defaultAddr), "server listen address")
	flags.StringVar(&f.path, "path", envOrDefault("LIVECHAT_PATH", "/join"), "websocket join path")
	flags.StringVar(&f.db, "db", envOrDefault("LIVECHAT_DB_PATH", ""), "sqlite database path (defaults to a per-user path)")
	flags.DurationVar(&f.tokenTTL, "token-ttl", envDuration("LIVECHAT_TOKEN_TTL", 7*24*time.Hour), "login session lifetime")
	flags.StringVar(&f.logLevel, "log-level", envOrDefault("LIVECHAT_LOG_LEVEL", "info"), "debug, info, warn or error")
	flags.BoolVar(&f.trustProxy, "trust-proxy", os.Getenv("LIVECHAT_TRUST_PROXY") == "true", "use X-Forwarded-For for client addresses")
	flags.StringSliceVar(&f.origins, "allowed-origin", envList("LIVECHAT_ALLOWED_ORIGINS"), "websocket origins to accept (empty accepts all)")
}

func (f *serverFlags) config(logger *slog.Logger) app.ServerConfig {
	db := f.db
	if db == "" {
		db = app.DefaultDBPath()
	}
	return app.ServerConfig{
		Addr:           f.addr,
		Path:           app.NormalizeJoinPath(f.path),
		DBPath:         db,
		TokenTTL:       f.tokenTTL,
		TrustProxy:     f.trustProxy,
		AllowedOrigins: f.origins,
		Logger:         logger,
	}
}

type clientFlags struct {
	serverURL  string
	session    string
	user       string
	peer       string
	room       string
	retry      time.Duration
	logFile    string
	logLevel   string
	configPath string
}

// register adds the client flags. A standalone client also owns --server-url
// and --log-level; local mode takes both from its in-process server.
func (f *clientFlags) register(cmd *cobra.Command, standalone bool) {
	flags := cmd.Flags()
	if standalone {
		flags.StringVar(&f.serverURL, "server-url", envOrDefault("LIVECHAT_SERVER", defaultServerURL), "server websocket URL")
		flags.StringVar(&f.logLevel, "log-level", envOrDefault("LIVECHAT_LOG_LEVEL", "info"), "debug, info, warn or error")
	}
	flags.StringVar(&f.session, "session", app.DefaultSessionPath(), "file holding the saved login")
	flags.StringVar(&f.user, "user", envOrDefault("LIVECHAT_USER", ""), "default username for login prompts")
	flags.StringVar(&f.peer, "peer", "", "open a direct conversation with this user on start")
	flags.StringVar(&f.room, "room", "", "join this room on start")
	flags.DurationVar(&f.retry, "retry", 2*time.Second, "reconnect delay")
	flags.StringVar(&f.logFile, "log-file", envOrDefault("LIVECHAT_LOG_FILE", ""), "write client logs to this file")
	flags.StringVar(&f.configPath, "config", app.DefaultConfigPath(), "YAML config file")
}

func (f *clientFlags) config(cmd *cobra.Command, args []string) (app.ClientConfig, error) {
	cfg := app.ClientConfig{
		ServerURL:   f.serverURL,
		SessionPath: f.session,
		Username:    f.user,
		Peer:        f.peer,
		Room:        f.room,
		RetryDelay:  f.retry,
		LogFile:     f.logFile,
		LogLevel:    f.logLevel,
	}
	file, err := app.LoadFileConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	file.Apply(&cfg, cmd.Flags().Changed)
	if len(args) > 0 && cfg.Room == "" && cfg.Peer == "" {
		cfg.Room = args[0]
	}
	if cfg.Peer != "" && cfg.Room != "" {
		return cfg, errors.New("--peer and --room are mutually exclusive")
	}
	return cfg, nil
}

func newServerCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger(flags.logLevel, os.Stderr)
			if err != nil {
				return err
			}
			cfg := flags.config(logger)
			handle, err := app.RunServer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			logger.Info("livechat server listening", "addr", handle.Addr(), "path", cfg.Path, "db", cfg.DBPath)
			return handle.Wait()
		},
	}
	flags.register(cmd, ":8080")
	return cmd
}

func newClientCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "client [room]",
		Short: "Open the chat client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(cmd, args)
			if err != nil {
				return err
			}
			return app.RunClient(cfg)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newLocalCmd() *cobra.Command {
	var (
		server serverFlags
		client clientFlags
	)
	cmd := &cobra.Command{
		Use:   "local [room]",
		Short: "Run a private server on loopback and open a client against it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client.logLevel = server.logLevel
			clientCfg, err := client.config(cmd, args)
			if err != nil {
				return err
			}
			out, closeLog, err := openServerLog(clientCfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()
			logger, err := app.NewLogger(server.logLevel, out)
			if err != nil {
				return err
			}
			return runLocal(cmd.Context(), server.config(logger), clientCfg, logger)
		},
	}
	server.register(cmd, "127.0.0.1:0")
	client.register(cmd, false)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), intrnl.VersionString())
		},
	}
}

func runLocal(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, logger *slog.Logger) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	logger.Info("local livechat server started", "addr", handle.Addr(), "db", serverCfg.DBPath)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	logger.Info("launching client", "url", clientCfg.ServerURL)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

// openServerLog keeps the in-process server quiet while the TUI owns the
// terminal; it shares the client's log file when one is set.
func openServerLog(path string) (*os.File, func(), error) {
	if path == "" {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, nil, err
		}
		return devNull, func() { _ = devNull.Close() }, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
