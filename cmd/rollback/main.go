package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seo-optimizer/internal/config"
	"seo-optimizer/internal/handler"
	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/logger"
)

type Application struct {
	configPath string
	id         string
	list       bool
	prune      bool
	debug      bool
}

func main() {
	app := &Application{}

	flag.StringVar(&app.configPath, "config", os.Getenv("SEOOPT_CONFIG"), "Configuration file path")
	flag.StringVar(&app.id, "id", "", "Snapshot to restore (default: latest)")
	flag.BoolVar(&app.list, "list", false, "List snapshots and exit")
	flag.BoolVar(&app.prune, "prune", false, "Apply the retention policy and exit")
	flag.BoolVar(&app.debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if err := app.Run(); err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}
}

func (app *Application) Run() error {
	cfg, err := config.NewManager().Load(app.configPath)
	if err != nil {
		return err
	}
	if app.debug {
		cfg.Logger.Level = "debug"
	}
	logger.SetGlobalLogger(logger.New(cfg.Logger))

	store, err := handler.NewSnapshotStore(cfg, logger.GetLogger(), nil)
	if err != nil {
		return err
	}

	switch {
	case app.list:
		return printSnapshots(store)
	case app.prune:
		removed, err := store.Prune()
		for _, id := range removed {
			fmt.Printf("pruned %s\n", id)
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target := backup.SnapshotID(app.id)
	if target == "" {
		latest, err := store.Latest()
		if errors.Is(err, backup.ErrSnapshotNotFound) {
			return fmt.Errorf("no snapshots in %s", cfg.Backup.Dir)
		}
		if err != nil {
			return err
		}
		target = latest.ID
	}

	pre, err := store.Rollback(ctx, target)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %s\n", target)
	fmt.Printf("Previous state saved as %s\n", pre)
	return nil
}

func printSnapshots(store *backup.Store) error {
	snaps, err := store.List()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%s  %s  %d files  %d bytes\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Files, s.Bytes)
	}
	return nil
}
