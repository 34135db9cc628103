package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-optimizer/pkg/opportunity"
)

const sample = `
site:
  root: ./public
  base_url: https://example.com
backup:
  dir: ./public/.backups
  retain: 4
optimizer:
  inter_call_delay: 250ms
  thresholds:
    ranking_impressions: 200
analytics:
  endpoint: https://analytics.example.com/v3
  site_url: https://example.com/
  timeout: 5s
generator:
  model: gpt-4o
logger:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	m := NewManager()
	cfg, err := m.Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "./public", cfg.Site.Root)
	assert.Equal(t, "sitemap.xml", cfg.Site.SitemapFile)
	assert.Equal(t, 4, cfg.Backup.Retain)
	assert.Equal(t, 250*time.Millisecond, cfg.Optimizer.InterCallDelay)
	assert.Equal(t, 5, cfg.Optimizer.MaxSERPLookups)
	assert.Equal(t, ".services", cfg.Optimizer.ContentAnchor)
	assert.Equal(t, 5*time.Second, cfg.Analytics.Client.Timeout)
	assert.Equal(t, 3, cfg.Analytics.Client.MaxRetries)
	assert.Equal(t, 30, cfg.Analytics.Days)
	assert.Equal(t, "gpt-4o", cfg.Generator.Model)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Same(t, cfg, m.GetConfig())

	th := cfg.Optimizer.Thresholds.Thresholds()
	want := opportunity.DefaultThresholds()
	want.RankingImpressions = 200
	assert.Equal(t, want, th)

	sc := cfg.SynthConfig()
	assert.Equal(t, "index.html", sc.Target)
	assert.Equal(t, 250*time.Millisecond, sc.InterCallDelay)
	assert.Equal(t, "https://example.com", cfg.SitemapConfig().BaseURL)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := NewManager().Load("")
	require.NoError(t, err)
	assert.Equal(t, "site", cfg.Site.Root)
	assert.Equal(t, 10, cfg.Backup.Retain)
	assert.Equal(t, "optimization-log.json", cfg.Log.Path)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SEOOPT_BACKUP_RETAIN", "3")
	t.Setenv("SEOOPT_SITE_ROOT", "/srv/site")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := NewManager().Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Backup.Retain)
	assert.Equal(t, "/srv/site", cfg.Site.Root)
	assert.Equal(t, "sk-env", cfg.Generator.APIKey)
}

func TestLoad_ExplicitZeroRetainIsKept(t *testing.T) {
	t.Setenv("SEOOPT_BACKUP_RETAIN", "0")
	cfg, err := NewManager().Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Backup.Retain)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"base url":     "site:\n  base_url: example.com\n",
		"retain":       "backup:\n  retain: -1\n",
		"meta range":   "optimizer:\n  meta_min: 170\n",
		"overlap":      "optimizer:\n  thresholds:\n    ranking_min: 5\n",
		"logger level": "logger:\n  level: loud\n",
		"row limit":    "analytics:\n  row_limit: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager().Load(writeConfig(t, content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewManager().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestReload(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Reload())

	path := writeConfig(t, sample)
	_, err := m.Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("backup:\n  retain: 7\n"), 0644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 7, m.GetConfig().Backup.Retain)

	require.NoError(t, os.WriteFile(path, []byte("backup:\n  retain: -2\n"), 0644))
	assert.ErrorIs(t, m.Reload(), ErrInvalidConfig)
	assert.Equal(t, 7, m.GetConfig().Backup.Retain, "previous config kept")
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, sample)
	m := NewManager()
	_, err := m.Load(path)
	require.NoError(t, err)

	changed := make(chan *Config, 16)
	m.Watch(func(c *Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("backup:\n  retain: 2\n"), 0644))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			// A truncate may be observed before the full write.
			if c.Backup.Retain == 2 {
				return
			}
		case <-deadline:
			t.Fatal("no reload after config write")
		}
	}
}
