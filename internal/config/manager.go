package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/opportunity"
)

const EnvPrefix = "SEOOPT"

type manager struct {
	mu     sync.RWMutex
	config *Config
	viper  *viper.Viper
	loaded bool
	log    *logger.Logger
}

func NewManager() Manager {
	return &manager{
		viper: viper.New(),
		log:   logger.ForComponent("config"),
	}
}

// Load reads configPath over the defaults. An empty path uses defaults and
// SEOOPT_* environment variables only.
func (m *manager) Load(configPath string) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setupViper(configPath)
	cfg, err := m.read(configPath != "")
	if err != nil {
		return nil, err
	}
	m.config = cfg
	m.loaded = true
	return cfg, nil
}

func (m *manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return fmt.Errorf("config not loaded")
	}
	cfg, err := m.read(m.viper.ConfigFileUsed() != "")
	if err != nil {
		return err
	}
	m.config = cfg
	return nil
}

func (m *manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch reloads on file writes. An invalid edit is logged and the previous
// configuration stays active.
func (m *manager) Watch(fn func(*Config)) {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.Reload(); err != nil {
			m.log.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid config change")
			return
		}
		m.log.WithField("file", e.Name).Info("Config reloaded")
		if fn != nil {
			fn(m.GetConfig())
		}
	})
	m.viper.WatchConfig()
}

func (m *manager) read(fromFile bool) (*Config, error) {
	if fromFile {
		if err := m.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func (m *manager) setupViper(configPath string) {
	if configPath != "" {
		m.viper.SetConfigFile(configPath)
	}
	setDefaults(m.viper)

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()
	_ = m.viper.BindEnv("generator.api_key", EnvPrefix+"_GENERATOR_API_KEY", "OPENAI_API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.root", "site")
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.sitemap_file", "sitemap.xml")
	v.SetDefault("site.change_frequency", "weekly")
	v.SetDefault("site.home_document", "index.html")

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.retain", backup.DefaultRetain)

	th := opportunity.DefaultThresholds()
	v.SetDefault("optimizer.max_serp_lookups", 5)
	v.SetDefault("optimizer.inter_call_delay", "1s")
	v.SetDefault("optimizer.call_timeout", "60s")
	v.SetDefault("optimizer.title_max", 60)
	v.SetDefault("optimizer.meta_min", 150)
	v.SetDefault("optimizer.meta_max", 160)
	v.SetDefault("optimizer.h1_max", 70)
	v.SetDefault("optimizer.default_target", "index.html")
	v.SetDefault("optimizer.content_anchor", ".services")
	v.SetDefault("optimizer.expansion_anchor", ".cta-section")
	v.SetDefault("optimizer.thresholds.ranking_min", th.RankingMin)
	v.SetDefault("optimizer.thresholds.ranking_max", th.RankingMax)
	v.SetDefault("optimizer.thresholds.ranking_impressions", th.RankingImpressions)
	v.SetDefault("optimizer.thresholds.ranking_target", th.RankingTarget)
	v.SetDefault("optimizer.thresholds.ctr_max_position", th.CtrMaxPosition)
	v.SetDefault("optimizer.thresholds.ctr_below", th.CtrBelow)
	v.SetDefault("optimizer.thresholds.ctr_target", th.CtrTarget)
	v.SetDefault("optimizer.thresholds.expansion_min", th.ExpansionMin)
	v.SetDefault("optimizer.thresholds.expansion_impressions", th.ExpansionImpressions)

	v.SetDefault("analytics.endpoint", "")
	v.SetDefault("analytics.api_key", "")
	v.SetDefault("analytics.site_url", "")
	v.SetDefault("analytics.days", 30)
	v.SetDefault("analytics.row_limit", 100)
	v.SetDefault("analytics.file", "")
	v.SetDefault("analytics.timeout", "30s")
	v.SetDefault("analytics.max_retries", 3)
	v.SetDefault("analytics.retry_delay", "1s")

	v.SetDefault("serp.endpoint", "")
	v.SetDefault("serp.api_key", "")
	v.SetDefault("serp.timeout", "30s")
	v.SetDefault("serp.max_retries", 1)
	v.SetDefault("serp.retry_delay", "2s")
	v.SetDefault("serp.breaker_failures", 3)
	v.SetDefault("serp.breaker_reset", "5m")

	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.base_url", "")
	v.SetDefault("generator.max_tokens", 800)
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("generator.system_prompt", "")

	v.SetDefault("log.path", "optimization-log.json")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.time_format", "rfc3339")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "seo_optimizer")
	v.SetDefault("metrics.textfile", "")
}

func validateConfig(config *Config) error {
	if config.Site.Root == "" {
		return fmt.Errorf("site.root cannot be empty")
	}
	if config.Site.BaseURL != "" {
		u, err := url.Parse(config.Site.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("site.base_url must be an absolute http(s) URL: %q", config.Site.BaseURL)
		}
	}
	if config.Backup.Dir == "" {
		return fmt.Errorf("backup.dir cannot be empty")
	}
	if config.Backup.Retain < 0 {
		return fmt.Errorf("backup.retain must not be negative")
	}

	o := config.Optimizer
	if o.MaxSERPLookups < 0 {
		return fmt.Errorf("optimizer.max_serp_lookups must not be negative")
	}
	if o.InterCallDelay < 0 || o.CallTimeout < 0 {
		return fmt.Errorf("optimizer delays must not be negative")
	}
	if o.MetaMin > o.MetaMax {
		return fmt.Errorf("optimizer.meta_min %d exceeds meta_max %d", o.MetaMin, o.MetaMax)
	}
	if err := opportunity.CheckExclusive(o.Thresholds.Thresholds()); err != nil {
		return fmt.Errorf("optimizer.thresholds: %w", err)
	}

	if config.Analytics.Days <= 0 {
		return fmt.Errorf("analytics.days must be positive")
	}
	if config.Analytics.RowLimit <= 0 {
		return fmt.Errorf("analytics.row_limit must be positive")
	}

	switch strings.ToLower(config.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown logger.level %q", config.Logger.Level)
	}
	return nil
}
