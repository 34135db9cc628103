package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWith executes run with a fresh flag set, as a separate process would.
func runWith(t *testing.T, args ...string) int {
	t.Helper()
	oldArgs, oldFlags := os.Args, flag.CommandLine
	t.Cleanup(func() { os.Args, flag.CommandLine = oldArgs, oldFlags })
	flag.CommandLine = flag.NewFlagSet("seo-optimizer", flag.ContinueOnError)
	os.Args = append([]string{"seo-optimizer"}, args...)
	return run()
}

func siteEnv(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "site")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html><head><title>t</title></head><body></body></html>"), 0644))
	t.Setenv("SEOOPT_CONFIG", "")
	t.Setenv("DEBUG", "")
	t.Setenv("SEOOPT_SITE_ROOT", root)
	t.Setenv("SEOOPT_BACKUP_DIR", filepath.Join(base, "backups"))
	t.Setenv("SEOOPT_LOG_PATH", filepath.Join(base, "optimization-log.json"))
	t.Setenv("SEOOPT_GENERATOR_API_KEY", "sk-test")
	t.Setenv("SEOOPT_METRICS_ENABLED", "false")
	t.Setenv("SEOOPT_LOGGER_LEVEL", "error")
	return base
}

func TestRun_Status(t *testing.T) {
	siteEnv(t)
	assert.Equal(t, 0, runWith(t, "-status"))
}

func TestRun_BuildFailureReturnsExitCode(t *testing.T) {
	base := siteEnv(t)
	assert.Equal(t, 1, runWith(t, "-root", filepath.Join(base, "missing")))
}

func TestRun_CycleFailureReturnsExitCode(t *testing.T) {
	base := siteEnv(t)
	assert.Equal(t, 1, runWith(t, "-signals", filepath.Join(base, "no-signals.json")))
}

func TestRun_BadConfigReturnsExitCode(t *testing.T) {
	siteEnv(t)
	assert.Equal(t, 1, runWith(t, "-config", filepath.Join(t.TempDir(), "absent.yaml")))
}
