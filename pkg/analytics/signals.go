package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/opportunity"
)

// SignalSource returns one performance signal per keyword for a run.
type SignalSource interface {
	Signals(ctx context.Context) (map[string]opportunity.PerformanceSignal, error)
}

type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	SiteURL  string `mapstructure:"site_url"`
	Days     int    `mapstructure:"days"`
	RowLimit int    `mapstructure:"row_limit"`
	// File, when set, replaces the HTTP provider with a JSON file.
	File   string       `mapstructure:"file"`
	Client ClientConfig `mapstructure:",squash"`
}

type searchQuery struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
}

type searchResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// SearchAnalytics queries a search-analytics provider for per-query
// performance over the last Days days.
type SearchAnalytics struct {
	cfg    SearchConfig
	client *client
	now    func() time.Time
	log    *logger.Logger
}

func NewSearchAnalytics(cfg SearchConfig, log *logger.Logger, opts ...ClientOption) (*SearchAnalytics, error) {
	if cfg.Endpoint == "" || cfg.SiteURL == "" {
		return nil, fmt.Errorf("analytics: endpoint and site url are required")
	}
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 100
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Component("search_analytics")
	return &SearchAnalytics{
		cfg:    cfg,
		client: newClient(cfg.Client, log, opts...),
		now:    time.Now,
		log:    log,
	}, nil
}

func (s *SearchAnalytics) Signals(ctx context.Context) (map[string]opportunity.PerformanceSignal, error) {
	end := s.now().UTC()
	start := end.AddDate(0, 0, -s.cfg.Days)
	query := searchQuery{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		Dimensions: []string{"query"},
		RowLimit:   s.cfg.RowLimit,
	}
	uri := strings.TrimRight(s.cfg.Endpoint, "/") + "/sites/" + url.PathEscape(s.cfg.SiteURL) + "/searchAnalytics/query"

	s.log.WithFields(map[string]interface{}{
		"endpoint": logger.MaskEndpoint(s.cfg.Endpoint),
		"start":    query.StartDate,
		"end":      query.EndDate,
	}).Debug("Querying search analytics")

	var resp searchResponse
	if err := s.client.doJSON(ctx, fasthttp.MethodPost, uri, s.cfg.APIKey, query, &resp); err != nil {
		return nil, fmt.Errorf("%w: search analytics: %w", ErrCollaborator, err)
	}

	signals := make(map[string]opportunity.PerformanceSignal, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.Keys) == 0 || strings.TrimSpace(row.Keys[0]) == "" {
			continue
		}
		sig := opportunity.PerformanceSignal{
			Position:    row.Position,
			Impressions: int(row.Impressions),
			Clicks:      int(row.Clicks),
			CTR:         math.Round(row.CTR*100*100) / 100,
		}
		if err := sig.Validate(); err != nil {
			s.log.WithField("keyword", row.Keys[0]).WithError(err).Warn("Dropping invalid signal")
			continue
		}
		signals[row.Keys[0]] = sig
	}
	s.log.WithField("keywords", len(signals)).Info("Search analytics loaded")
	return signals, nil
}

// FileSource reads signals from a JSON object of keyword to signal, the
// shape the analytics provider is summarised into.
type FileSource struct {
	Path string
}

func (f FileSource) Signals(ctx context.Context) (map[string]opportunity.PerformanceSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read signals: %w", ErrCollaborator, err)
	}
	var signals map[string]opportunity.PerformanceSignal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("%w: parse signals %s: %w", ErrCollaborator, f.Path, err)
	}
	for kw, sig := range signals {
		if err := sig.Validate(); err != nil {
			return nil, fmt.Errorf("%w: signal %q: %w", ErrCollaborator, kw, err)
		}
	}
	return signals, nil
}
