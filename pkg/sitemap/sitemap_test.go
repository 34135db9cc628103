package sitemap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-optimizer/pkg/logger"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := []string{
		"index.html",
		"about.html",
		"blog/index.html",
		"blog/first post.html",
		"styles.css",
		".git/config.html",
		".drafts/secret.html",
		"assets/.hidden.html",
	}
	mod := time.Date(2026, 10, 1, 15, 4, 5, 0, time.UTC)
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("<html></html>"), 0644))
		require.NoError(t, os.Chtimes(p, mod, mod))
	}
	return root
}

func newRegen() *Regenerator {
	return NewRegenerator(Config{BaseURL: "https://example.com/"}, logger.Nop())
}

func TestRegenerate_ListsVisibleDocuments(t *testing.T) {
	root := buildTree(t)

	idx, err := newRegen().Regenerate(context.Background(), root)
	require.NoError(t, err)

	var paths, locs []string
	for _, e := range idx {
		paths = append(paths, e.Path)
		locs = append(locs, e.Location)
	}
	assert.Equal(t, []string{"about.html", "blog/first post.html", "blog/index.html", "index.html"}, paths)
	assert.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/blog/first%20post",
		"https://example.com/blog/",
		"https://example.com/",
	}, locs)
}

func TestRegenerate_Exclude(t *testing.T) {
	root := buildTree(t)
	snap := filepath.Join(root, "backups", "backup-1", "index.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(snap), 0755))
	require.NoError(t, os.WriteFile(snap, []byte("<html></html>"), 0644))

	r := NewRegenerator(Config{BaseURL: "https://example.com", Exclude: []string{"backups"}}, logger.Nop())
	idx, err := r.Regenerate(context.Background(), root)
	require.NoError(t, err)
	for _, e := range idx {
		assert.NotContains(t, e.Path, "backups/")
	}
	assert.Len(t, idx, 4)
}

func TestRegenerate_HomeWeightedHighest(t *testing.T) {
	idx, err := newRegen().Regenerate(context.Background(), buildTree(t))
	require.NoError(t, err)

	for _, e := range idx {
		if e.Path == "index.html" {
			assert.Equal(t, 1.0, e.Priority)
		} else {
			assert.Equal(t, 0.8, e.Priority, e.Path)
		}
		assert.Equal(t, "weekly", e.ChangeFrequency)
		assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), e.LastModified)
	}
}

func TestRegenerate_Deterministic(t *testing.T) {
	root := buildTree(t)
	r := newRegen()

	a, err := r.Regenerate(context.Background(), root)
	require.NoError(t, err)
	b, err := r.Regenerate(context.Background(), root)
	require.NoError(t, err)

	ra, err := Render(a)
	require.NoError(t, err)
	rb, err := Render(b)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestWrite_RoundTrip(t *testing.T) {
	root := buildTree(t)

	idx, err := newRegen().Write(context.Background(), root)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, DefaultFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	assert.Contains(t, string(data), "<loc>https://example.com/</loc>")
	assert.Contains(t, string(data), "<lastmod>2026-10-01</lastmod>")
	assert.Contains(t, string(data), "<priority>1.0</priority>")

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed, len(idx))
	for i := range idx {
		assert.Equal(t, idx[i].Location, parsed[i].Location)
		assert.Equal(t, idx[i].Priority, parsed[i].Priority)
		assert.True(t, idx[i].LastModified.Equal(parsed[i].LastModified))
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".sitemap.xml."), "temp file left behind: %s", e.Name())
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("<urlset><url>"))
	assert.Error(t, err)
}
