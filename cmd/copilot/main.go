// Command copilot is a terminal client for the promotor copilot backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MegaGrindStone/promotor-copilot/internal/services"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultAPIURL = "http://localhost:5000/api"

	errLoggerKey = "err"
)

type options struct {
	apiURL    string
	token     string
	tokenFile string
	logFile   string
	debug     bool
}

// app holds what the commands share once the root command has run its setup.
type app struct {
	logger  *slog.Logger
	auth    *services.Auth
	gateway services.HTTPGateway
}

func main() {
	// A missing .env is fine, the environment and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	a := &app{}

	cmd := &cobra.Command{
		Use:           "copilot",
		Short:         "EFEX promotor copilot in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("COPILOT_API_URL", defaultAPIURL),
		"Base URL of the copilot API")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("COPILOT_TOKEN"),
		"Bearer token (env COPILOT_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.tokenFile, "token-file", os.Getenv("COPILOT_TOKEN_FILE"),
		"File holding the bearer token, re-read when the token is rejected (env COPILOT_TOKEN_FILE)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", defaultLogFile(), "Log file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log debug messages")

	cmd.AddCommand(chatCmd(a), listCmd(a), exportCmd(a), watchCmd(a))

	return cmd
}

func (a *app) setup(ctx context.Context, opts *options) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   opts.logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}, &slog.HandlerOptions{Level: level}))

	var source services.TokenSource
	switch {
	case opts.tokenFile != "":
		source = services.FileToken{Path: opts.tokenFile}
	case opts.token != "":
		source = services.StaticToken(opts.token)
	default:
		return fmt.Errorf("no credentials: set --token, --token-file, COPILOT_TOKEN or COPILOT_TOKEN_FILE")
	}

	auth, err := services.NewAuth(ctx, source, a.logger)
	if err != nil {
		return err
	}
	a.auth = auth
	a.gateway = services.NewHTTPGateway(opts.apiURL, auth, nil, a.logger)

	a.logger.Info("Client started",
		slog.String("apiURL", opts.apiURL),
		slog.String("userID", auth.Identity().UserID))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "promotor-copilot", "copilot.log")
}
