package handler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"seo-optimizer/internal/service"
	"seo-optimizer/pkg/analytics"
	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
	"seo-optimizer/pkg/oplog"
	"seo-optimizer/pkg/opportunity"
	"seo-optimizer/pkg/synth"
)

// ReasonSnapshotFailed rejects every directive of a batch whose snapshot
// could not be taken.
const ReasonSnapshotFailed = "snapshot failed"

type Services struct {
	Signals   service.SignalService
	SERP      service.SERPService // optional
	Synth     service.SynthesisService
	Snapshots service.SnapshotService
	Mutation  service.MutationService
	Log       service.LogService
}

type ControllerConfig struct {
	Thresholds     opportunity.Thresholds
	MaxSERPLookups int
	SERPDelay      time.Duration
	// MetricsTextfile, when set, receives the registry after every cycle.
	MetricsTextfile string
}

// Controller runs one optimisation cycle at a time against one document
// tree. It is not safe for concurrent cycles.
type Controller struct {
	svc        Services
	cfg        ControllerConfig
	classifier *opportunity.Classifier
	metrics    *metrics.Recorder
	log        *logger.Logger
}

type ControllerInterface interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
	Rollback(ctx context.Context, id backup.SnapshotID) (*RollbackResult, error)
	ListSnapshots() ([]backup.Snapshot, error)
	GetStatus(ctx context.Context) (*StatusResponse, error)
}

// CycleResult is everything one cycle produced.
type CycleResult struct {
	BatchID       string                    `json:"batch_id"`
	Opportunities []opportunity.Opportunity `json:"opportunities"`
	Directives    []directive.EditDirective `json:"directives"`
	Skipped       []synth.Skipped           `json:"skipped"`
	SnapshotID    backup.SnapshotID         `json:"snapshot_id,omitempty"`
	Results       []directive.Result        `json:"results"`
	Summary       directive.Summary         `json:"summary"`
	Entry         oplog.Entry               `json:"log_entry"`
}

type RollbackResult struct {
	Target      backup.SnapshotID `json:"target"`
	PreRollback backup.SnapshotID `json:"pre_rollback"`
}

type StatusResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	Snapshots      int               `json:"snapshots"`
	LatestSnapshot backup.SnapshotID `json:"latest_snapshot,omitempty"`
	Log            oplog.Report      `json:"log"`
}

func NewController(svc Services, cfg ControllerConfig, rec *metrics.Recorder) (*Controller, error) {
	if svc.Signals == nil || svc.Synth == nil || svc.Snapshots == nil || svc.Mutation == nil || svc.Log == nil {
		return nil, fmt.Errorf("controller: signals, synth, snapshots, mutation and log services are required")
	}
	classifier, err := opportunity.NewClassifier(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	return &Controller{
		svc:        svc,
		cfg:        cfg,
		classifier: classifier,
		metrics:    rec,
		log:        logger.ForComponent("controller"),
	}, nil
}

// RunCycle classifies, ranks, synthesises and applies one batch. Only
// failures before mutation (no signals, no snapshot) return an error
// without applying anything; per-directive problems are in the results.
func (c *Controller) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	res := &CycleResult{BatchID: uuid.NewString()}
	log := c.log.WithField("batch_id", res.BatchID)
	log.Info("Starting optimization cycle")

	signals, err := c.svc.Signals.Signals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load performance signals: %w", err)
	}

	opps := opportunity.Rank(c.classify(signals))
	for kind, n := range opportunity.CountByKind(opps) {
		c.metrics.Opportunities(kind.String(), n)
	}
	res.Opportunities = opps
	log.WithFields(map[string]interface{}{
		"keywords":      len(signals),
		"opportunities": len(opps),
	}).Info("Opportunities ranked")

	competitors := c.competitors(ctx, opps)
	out := c.svc.Synth.Synthesize(ctx, opps, competitors)
	res.Directives = out.Directives
	res.Skipped = out.Skipped

	var applyErr error
	if len(out.Directives) > 0 {
		id, err := c.svc.Snapshots.Snapshot(ctx)
		if err != nil {
			res.Results = rejectAll(out.Directives, err)
			res.Summary = directive.Summarize(res.Results)
			c.record(res, start)
			return res, fmt.Errorf("batch aborted before mutation: %w", err)
		}
		res.SnapshotID = id

		report, err := c.svc.Mutation.Apply(ctx, out.Directives)
		res.Results = report.Results
		applyErr = err
	}
	res.Summary = directive.Summarize(res.Results)

	c.record(res, start)
	log.WithFields(map[string]interface{}{
		"snapshot": string(res.SnapshotID),
		"applied":  res.Summary.Applied,
		"errors":   res.Summary.Errors,
		"skipped":  len(res.Skipped),
	}).Info("Optimization cycle finished")
	return res, applyErr
}

// classify visits keywords in sorted order so that equal-priority
// opportunities keep a reproducible order through the stable Rank.
func (c *Controller) classify(signals map[string]opportunity.PerformanceSignal) []opportunity.Opportunity {
	keywords := make([]string, 0, len(signals))
	for kw := range signals {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	var out []opportunity.Opportunity
	for _, kw := range keywords {
		out = append(out, c.classifier.ClassifyOne(kw, signals[kw])...)
	}
	return out
}

// competitors looks up result pages for the first MaxSERPLookups ranked
// keywords. Lookup failures only lose context for that keyword.
func (c *Controller) competitors(ctx context.Context, opps []opportunity.Opportunity) map[string]synth.CompetitorContext {
	out := make(map[string]synth.CompetitorContext)
	if c.svc.SERP == nil || len(opps) == 0 {
		return out
	}
	keywords := make([]string, 0, len(opps))
	seen := make(map[string]bool, len(opps))
	for _, o := range opps {
		if !seen[o.Keyword] {
			seen[o.Keyword] = true
			keywords = append(keywords, o.Keyword)
		}
	}
	snaps, errs := analytics.LookupAll(ctx, c.svc.SERP, keywords, c.cfg.MaxSERPLookups, c.cfg.SERPDelay, c.log)
	if len(errs) > 0 {
		c.log.WithField("failed", len(errs)).Warn("Some SERP lookups failed")
	}
	for kw, snap := range snaps {
		out[kw] = competitorContext(snap)
	}
	return out
}

func competitorContext(s analytics.SERPSnapshot) synth.CompetitorContext {
	topics := s.Descriptions()
	if s.FeaturedSnippet != "" {
		topics = append([]string{s.FeaturedSnippet}, topics...)
	}
	return synth.CompetitorContext{
		Titles:       s.Titles(),
		Descriptions: s.Descriptions(),
		Topics:       topics,
	}
}

// record appends the batch to the opportunity log and closes out metrics.
func (c *Controller) record(res *CycleResult, start time.Time) {
	entry := oplog.NewEntry(res.Results, len(res.Skipped))
	entry.ID = res.BatchID
	entry.SnapshotID = string(res.SnapshotID)
	stored, err := c.svc.Log.Append(entry)
	if err != nil {
		c.log.WithError(err).Error("Failed to append opportunity log entry")
		stored = entry
	} else if err := c.svc.Log.Flush(); err != nil {
		c.log.WithError(err).Error("Failed to flush opportunity log")
	}
	res.Entry = stored

	c.metrics.Batch(time.Since(start))
	if err := c.metrics.WriteTextfile(c.cfg.MetricsTextfile); err != nil {
		c.log.WithError(err).Warn("Failed to write metrics textfile")
	}
}

// Rollback restores id, or the latest snapshot when id is empty. The
// returned result names the snapshot that captured the pre-rollback state.
func (c *Controller) Rollback(ctx context.Context, id backup.SnapshotID) (*RollbackResult, error) {
	if id == "" {
		latest, err := c.svc.Snapshots.Latest()
		if err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		id = latest.ID
	}
	pre, err := c.svc.Snapshots.Rollback(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rollback to %s: %w", id, err)
	}
	c.log.WithFields(map[string]interface{}{
		"target":       string(id),
		"pre_rollback": string(pre),
	}).Info("Rolled back document tree")
	return &RollbackResult{Target: id, PreRollback: pre}, nil
}

// Registry is the metrics registry, or nil when metrics are disabled.
func (c *Controller) Registry() *prometheus.Registry {
	return c.metrics.Registry()
}

func (c *Controller) ListSnapshots() ([]backup.Snapshot, error) {
	return c.svc.Snapshots.List()
}

func (c *Controller) GetStatus(ctx context.Context) (*StatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snaps, err := c.svc.Snapshots.List()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	status := &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Snapshots: len(snaps),
		Log:       c.svc.Log.Report(),
	}
	if n := len(snaps); n > 0 {
		status.LatestSnapshot = snaps[n-1].ID
	}
	return status, nil
}

func rejectAll(ds []directive.EditDirective, cause error) []directive.Result {
	out := make([]directive.Result, len(ds))
	for i, d := range ds {
		out[i] = directive.Result{
			Directive: d,
			Outcome:   directive.Rejected{Reason: ReasonSnapshotFailed},
			Err:       cause,
		}
	}
	return out
}

var _ ControllerInterface = (*Controller)(nil)
