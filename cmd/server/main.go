package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/handlers"
	"github.com/MegaGrindStone/promotor-copilot/internal/services"
	"gopkg.in/yaml.v3"
)

const errLoggerKey = "err"

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting user config dir: %v\n", err)
		os.Exit(1)
	}
	cfgDir = filepath.Join(cfgDir, "promotor-copilot")

	cfgFilePath := flag.String("config", filepath.Join(cfgDir, "config.yaml"), "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgFilePath, cfgDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the config file at path. A missing file runs the server with the defaults.
func loadConfig(path, cfgDir string) (config, error) {
	cfg := config{}

	cfgFile, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer cfgFile.Close()
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults(cfgDir)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func run(cfg config, logger *slog.Logger) error {
	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}
	titleGen, err := cfg.LLM.titleGen(cfg.TitleGeneratorPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating title generator: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}
	boltDB, err := services.NewBoltDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	c := handlers.NewCopilot(llm, titleGen, boltDB, cfg.JWTSecret, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := c.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("dbPath", cfg.DBPath))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}
	return nil
}
