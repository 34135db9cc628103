package config

import (
	"errors"
	"time"

	"seo-optimizer/pkg/analytics"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/opportunity"
	"seo-optimizer/pkg/sitemap"
	"seo-optimizer/pkg/synth"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Site      SiteConfig             `mapstructure:"site"`
	Backup    BackupConfig           `mapstructure:"backup"`
	Optimizer OptimizerConfig        `mapstructure:"optimizer"`
	Analytics analytics.SearchConfig `mapstructure:"analytics"`
	SERP      analytics.SERPConfig   `mapstructure:"serp"`
	Generator synth.OpenAIConfig     `mapstructure:"generator"`
	Log       LogConfig              `mapstructure:"log"`
	Logger    logger.Config          `mapstructure:"logger"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
}

type SiteConfig struct {
	Root            string `mapstructure:"root"`
	BaseURL         string `mapstructure:"base_url"`
	SitemapFile     string `mapstructure:"sitemap_file"`
	ChangeFrequency string `mapstructure:"change_frequency"`
	HomeDocument    string `mapstructure:"home_document"`
}

type BackupConfig struct {
	Dir    string `mapstructure:"dir"`
	Retain int    `mapstructure:"retain"`
}

type OptimizerConfig struct {
	MaxSERPLookups  int             `mapstructure:"max_serp_lookups"`
	InterCallDelay  time.Duration   `mapstructure:"inter_call_delay"`
	CallTimeout     time.Duration   `mapstructure:"call_timeout"`
	TitleMax        int             `mapstructure:"title_max"`
	MetaMin         int             `mapstructure:"meta_min"`
	MetaMax         int             `mapstructure:"meta_max"`
	H1Max           int             `mapstructure:"h1_max"`
	DefaultTarget   string          `mapstructure:"default_target"`
	ContentAnchor   string          `mapstructure:"content_anchor"`
	ExpansionAnchor string          `mapstructure:"expansion_anchor"`
	Thresholds      ThresholdConfig `mapstructure:"thresholds"`
}

type ThresholdConfig struct {
	RankingMin           float64 `mapstructure:"ranking_min"`
	RankingMax           float64 `mapstructure:"ranking_max"`
	RankingImpressions   int     `mapstructure:"ranking_impressions"`
	RankingTarget        float64 `mapstructure:"ranking_target"`
	CtrMaxPosition       float64 `mapstructure:"ctr_max_position"`
	CtrBelow             float64 `mapstructure:"ctr_below"`
	CtrTarget            float64 `mapstructure:"ctr_target"`
	ExpansionMin         float64 `mapstructure:"expansion_min"`
	ExpansionImpressions int     `mapstructure:"expansion_impressions"`
}

type LogConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	// Textfile, when set, receives the registry after every run.
	Textfile string `mapstructure:"textfile"`
}

func (t ThresholdConfig) Thresholds() opportunity.Thresholds {
	return opportunity.Thresholds{
		RankingMin:           t.RankingMin,
		RankingMax:           t.RankingMax,
		RankingImpressions:   t.RankingImpressions,
		RankingTarget:        t.RankingTarget,
		CtrMaxPosition:       t.CtrMaxPosition,
		CtrBelow:             t.CtrBelow,
		CtrTarget:            t.CtrTarget,
		ExpansionMin:         t.ExpansionMin,
		ExpansionImpressions: t.ExpansionImpressions,
	}
}

func (c *Config) SynthConfig() synth.Config {
	o := c.Optimizer
	return synth.Config{
		Target:          o.DefaultTarget,
		ContentAnchor:   o.ContentAnchor,
		ExpansionAnchor: o.ExpansionAnchor,
		TitleMax:        o.TitleMax,
		MetaMin:         o.MetaMin,
		MetaMax:         o.MetaMax,
		H1Max:           o.H1Max,
		InterCallDelay:  o.InterCallDelay,
		CallTimeout:     o.CallTimeout,
	}
}

func (c *Config) SitemapConfig() sitemap.Config {
	return sitemap.Config{
		BaseURL:         c.Site.BaseURL,
		HomeDocument:    c.Site.HomeDocument,
		ChangeFrequency: c.Site.ChangeFrequency,
		FileName:        c.Site.SitemapFile,
	}
}

type Manager interface {
	Load(configPath string) (*Config, error)
	Reload() error
	GetConfig() *Config
	// Watch calls fn with each valid configuration written to the file.
	Watch(fn func(*Config))
}
