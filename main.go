package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"seo-optimizer/internal/config"
	"seo-optimizer/internal/handler"
	"seo-optimizer/pkg/logger"
)

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

// run returns the process exit code so that every deferred cleanup,
// including the opportunity log flush, happens before the process exits.
func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL ERROR: optimizer panic recovered: %v\n", r)
			code = 1
		}
	}()

	var (
		configPath = flag.String("config", getEnvOrDefault("SEOOPT_CONFIG", ""), "Configuration file path (env: SEOOPT_CONFIG)")
		root       = flag.String("root", "", "Document tree root, overrides site.root")
		signals    = flag.String("signals", "", "JSON file of performance signals, overrides analytics.file")
		debug      = flag.Bool("debug", getEnvBoolOrDefault("DEBUG", false), "Enable debug logging (env: DEBUG)")
		status     = flag.Bool("status", false, "Print snapshot and log status and exit")
		timeout    = flag.Duration("timeout", 30*time.Minute, "Upper bound for one optimisation cycle")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		printUsage()
		return 0
	}

	cfg, err := config.NewManager().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	if *root != "" {
		cfg.Site.Root = *root
	}
	if *signals != "" {
		cfg.Analytics.File = *signals
	}
	if *debug {
		cfg.Logger.Level = "debug"
	}

	logger.SetGlobalLogger(logger.New(cfg.Logger))
	log := logger.ForComponent("main")
	log.SafeInfo("Configuration loaded", map[string]interface{}{
		"config":          *configPath,
		"site_root":       cfg.Site.Root,
		"backup_dir":      cfg.Backup.Dir,
		"retain":          cfg.Backup.Retain,
		"analytics":       logger.MaskEndpoint(cfg.Analytics.Endpoint),
		"analytics_file":  cfg.Analytics.File,
		"serp":            logger.MaskEndpoint(cfg.SERP.Endpoint),
		"generator_model": cfg.Generator.Model,
		"api_key":         cfg.Generator.APIKey,
	})

	ctrl, closeLog, err := handler.Build(cfg, nil, logger.GetLogger())
	if err != nil {
		log.WithError(err).Error("Failed to build optimizer")
		return 1
	}
	defer func() {
		if err := closeLog(); err != nil {
			log.WithError(err).Warn("Failed to close opportunity log cleanly")
			if code == 0 {
				code = 1
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *status {
		st, err := ctrl.GetStatus(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to read status")
			return 1
		}
		printJSON(st)
		return 0
	}

	res, err := ctrl.RunCycle(ctx)
	if res != nil {
		printJSON(res)
	}
	if err != nil {
		log.WithError(err).Error("Optimization cycle failed")
		return 1
	}
	return 0
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: encode output: %v\n", err)
	}
}

func printUsage() {
	fmt.Println("SEO Optimizer")
	fmt.Println("")
	fmt.Println("Runs one optimisation cycle: classify search signals, generate edits,")
	fmt.Println("snapshot the document tree, apply the edits and regenerate the sitemap.")
	fmt.Println("")
	fmt.Println("USAGE:")
	fmt.Println("    ./seo-optimizer [-config file.yaml] [OPTIONS]")
	fmt.Println("")
	fmt.Println("OPTIONS:")
	fmt.Println("    -config string    Configuration file (env: SEOOPT_CONFIG)")
	fmt.Println("    -root string      Document tree root")
	fmt.Println("    -signals string   JSON signals file instead of the analytics API")
	fmt.Println("    -status           Print status and exit")
	fmt.Println("    -timeout duration Cycle timeout (default 30m)")
	fmt.Println("    -debug            Enable debug logging (env: DEBUG)")
	fmt.Println("    -help             Show this help message")
	fmt.Println("")
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("    OPENAI_API_KEY           Generator API key")
	fmt.Println("    SEOOPT_SITE_ROOT         Document tree root")
	fmt.Println("    SEOOPT_SITE_BASE_URL     Public base URL for the sitemap")
	fmt.Println("    SEOOPT_BACKUP_DIR        Snapshot directory")
	fmt.Println("    SEOOPT_ANALYTICS_API_KEY Search analytics key")
	fmt.Println("    SEOOPT_SERP_ENDPOINT     Competitor lookup service")
	fmt.Println("")
	fmt.Println("Undo a cycle with: ./rollback [-id backup-...]")
}
