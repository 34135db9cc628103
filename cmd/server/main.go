package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seo-optimizer/internal/config"
	"seo-optimizer/internal/handler"
	"seo-optimizer/pkg/logger"
)

type Application struct {
	configPath string
	addr       string
	debug      bool
}

func main() {
	app := &Application{}

	flag.StringVar(&app.configPath, "config", os.Getenv("SEOOPT_CONFIG"), "Configuration file path")
	flag.StringVar(&app.addr, "addr", ":8080", "Listen address")
	flag.BoolVar(&app.debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if err := app.Run(); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func (app *Application) Run() error {
	manager := config.NewManager()
	cfg, err := manager.Load(app.configPath)
	if err != nil {
		return err
	}
	if app.debug {
		cfg.Logger.Level = "debug"
	}
	logger.SetGlobalLogger(logger.New(cfg.Logger))
	lg := logger.ForComponent("server")

	ctrl, closeLog, err := handler.Build(cfg, nil, logger.GetLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil {
			lg.WithError(err).Warn("Failed to close opportunity log cleanly")
		}
	}()

	// Reloaded settings take effect on restart; the controller is built once.
	if app.configPath != "" {
		manager.Watch(func(*config.Config) {
			lg.Warn("Configuration file changed; restart the server to apply it")
		})
	}

	srv := handler.NewHTTPHandler(ctrl).App(ctrl.Registry())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		lg.WithField("addr", app.addr).Info("Server started")
		errCh <- srv.Listen(app.addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", app.addr, err)
	case <-ctx.Done():
	}

	lg.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}
