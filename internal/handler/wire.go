package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"seo-optimizer/internal/config"
	"seo-optimizer/internal/service"
	"seo-optimizer/pkg/analytics"
	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
	"seo-optimizer/pkg/mutation"
	"seo-optimizer/pkg/oplog"
	"seo-optimizer/pkg/sitemap"
	"seo-optimizer/pkg/synth"
)

// Build wires a controller from cfg. gen overrides the configured OpenAI
// generator when non-nil. The returned close func flushes and closes the
// opportunity log.
func Build(cfg *config.Config, gen synth.Generator, log *logger.Logger) (*Controller, func() error, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New(cfg.Metrics.Namespace)
	}

	store, err := NewSnapshotStore(cfg, log, rec)
	if err != nil {
		return nil, nil, err
	}

	smCfg := cfg.SitemapConfig()
	var protected []string
	if rel, ok := nestedDir(cfg.Site.Root, cfg.Backup.Dir); ok {
		smCfg.Exclude = append(smCfg.Exclude, rel)
		protected = append(protected, rel)
	}
	regen := sitemap.NewRegenerator(smCfg, log)

	engine, err := mutation.New(cfg.Site.Root,
		mutation.WithLogger(log),
		mutation.WithMetrics(rec),
		mutation.WithIndex(regen),
		mutation.WithExclude(protected...))
	if err != nil {
		return nil, nil, fmt.Errorf("mutation engine: %w", err)
	}

	if gen == nil {
		gen, err = synth.NewOpenAIGenerator(cfg.Generator, log)
		if err != nil {
			return nil, nil, fmt.Errorf("generator: %w", err)
		}
	}
	synthesizer := synth.New(gen, cfg.SynthConfig(), synth.WithLogger(log), synth.WithMetrics(rec))

	signals, err := newSignalSource(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	var serp service.SERPService
	if cfg.SERP.Endpoint != "" {
		client, err := analytics.NewSERPClient(cfg.SERP, log)
		if err != nil {
			return nil, nil, fmt.Errorf("serp client: %w", err)
		}
		serp = client
	}

	sink, err := oplog.Open(cfg.Log.Path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opportunity log: %w", err)
	}

	ctrl, err := NewController(Services{
		Signals:   signals,
		SERP:      serp,
		Synth:     synthesizer,
		Snapshots: store,
		Mutation:  engine,
		Log:       sink,
	}, controllerConfig(cfg), rec)
	if err != nil {
		return nil, nil, errors.Join(err, sink.Close())
	}
	return ctrl, sink.Close, nil
}

func controllerConfig(cfg *config.Config) ControllerConfig {
	return ControllerConfig{
		Thresholds:      cfg.Optimizer.Thresholds.Thresholds(),
		MaxSERPLookups:  cfg.Optimizer.MaxSERPLookups,
		SERPDelay:       cfg.Optimizer.InterCallDelay,
		MetricsTextfile: cfg.Metrics.Textfile,
	}
}

// NewSnapshotStore builds the snapshot store on its own, for tools that
// only list or restore snapshots.
func NewSnapshotStore(cfg *config.Config, log *logger.Logger, rec *metrics.Recorder) (*backup.Store, error) {
	store, err := backup.New(backup.Config{
		TreeRoot: cfg.Site.Root,
		Dir:      cfg.Backup.Dir,
		Retain:   cfg.Backup.Retain,
	}, backup.WithLogger(log), backup.WithMetrics(rec))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return store, nil
}

func newSignalSource(cfg *config.Config, log *logger.Logger) (service.SignalService, error) {
	if cfg.Analytics.File != "" {
		return analytics.FileSource{Path: cfg.Analytics.File}, nil
	}
	src, err := analytics.NewSearchAnalytics(cfg.Analytics, log)
	if err != nil {
		return nil, fmt.Errorf("search analytics: %w", err)
	}
	return src, nil
}

// nestedDir reports dir relative to root when it lies inside root.
func nestedDir(root, dir string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
