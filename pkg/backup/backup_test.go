package backup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

// treeDigest maps relative path to content hash for every regular file.
func treeDigest(t *testing.T, root string, skip string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, path)
		if skip != "" && (rel == skip || strings.HasPrefix(rel, skip+string(filepath.Separator))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out[filepath.ToSlash(rel)] = fmt.Sprintf("%x", sha256.Sum256(data))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

type fixture struct {
	root  string
	dir   string
	store *Store
}

func newFixture(t *testing.T, retain int, opts ...Option) fixture {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "site")
	dir := filepath.Join(base, "backups")
	writeTree(t, root, map[string]string{
		"index.html":        "<html><head><title>Home</title></head></html>",
		"about.html":        "<html><head><title>About</title></head></html>",
		"blog/post-1.html":  "<html><body><h1>Post</h1></body></html>",
		"assets/styles.css": "body{}",
	})
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	store, err := New(Config{TreeRoot: root, Dir: dir, Retain: retain}, opts...)
	require.NoError(t, err)
	return fixture{root: root, dir: dir, store: store}
}

func TestSnapshot_RollbackRoundTrip(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	before := treeDigest(t, f.root, "")

	id, err := f.store.Snapshot(ctx)
	require.NoError(t, err)

	writeTree(t, f.root, map[string]string{
		"index.html":    "<html><head><title>Changed</title></head></html>",
		"new-page.html": "<p>new</p>",
	})
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "blog")))
	require.NotEqual(t, before, treeDigest(t, f.root, ""))

	pre, err := f.store.Rollback(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, before, treeDigest(t, f.root, ""))
	assert.NotEqual(t, id, pre)

	// The rollback itself is undoable.
	preDir, err := f.store.Path(pre)
	require.NoError(t, err)
	mutated := treeDigest(t, preDir, manifestName)
	assert.Contains(t, mutated, "new-page.html")
	assert.NotContains(t, mutated, "blog/post-1.html")
}

func TestSnapshot_ManifestNotRestored(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	id, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	_, err = f.store.Rollback(ctx, id)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(f.root, manifestName))
	assert.True(t, os.IsNotExist(err))
}

func TestRollback_NotFound(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	for _, id := range []SnapshotID{"backup-2020-01-01T00-00-00-000000000Z", "../site", "backup-../../etc", ""} {
		_, err := f.store.Rollback(ctx, id)
		assert.ErrorIs(t, err, ErrSnapshotNotFound, string(id))
	}
	snaps, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, snaps, "a failed lookup must not take a snapshot")
}

func TestSnapshot_FailsLoudlyWithoutTree(t *testing.T) {
	base := t.TempDir()
	store, err := New(Config{TreeRoot: filepath.Join(base, "missing"), Dir: filepath.Join(base, "b")}, WithLogger(logger.Nop()))
	require.NoError(t, err)

	_, err = store.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotFailed)

	entries, _ := os.ReadDir(filepath.Join(base, "b"))
	assert.Empty(t, entries, "no staging leftovers")
}

func TestSnapshot_Cancelled(t *testing.T) {
	f := newFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.store.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrSnapshotFailed)
}

func TestPrune_RetainsNewest(t *testing.T) {
	for _, retain := range []int{1, 2, 3, 5} {
		for calls := 1; calls <= 7; calls++ {
			t.Run(fmt.Sprintf("retain=%d/calls=%d", retain, calls), func(t *testing.T) {
				f := newFixture(t, retain)
				ctx := context.Background()

				var ids []SnapshotID
				for i := 0; i < calls; i++ {
					id, err := f.store.Snapshot(ctx)
					require.NoError(t, err)
					ids = append(ids, id)
				}

				_, err := f.store.Prune()
				require.NoError(t, err)

				snaps, err := f.store.List()
				require.NoError(t, err)
				want := calls
				if want > retain {
					want = retain
				}
				require.Len(t, snaps, want)
				assert.Equal(t, ids[len(ids)-1], snaps[len(snaps)-1].ID)
				for i, snap := range snaps {
					assert.Equal(t, ids[len(ids)-want+i], snap.ID, "oldest evicted first")
				}
			})
		}
	}
}

func TestPrune_FloorOfOne(t *testing.T) {
	for _, retain := range []int{0, -3} {
		f := newFixture(t, retain)
		ctx := context.Background()

		var last SnapshotID
		for i := 0; i < 4; i++ {
			id, err := f.store.Snapshot(ctx)
			require.NoError(t, err)
			last = id
		}

		snaps, err := f.store.List()
		require.NoError(t, err)
		require.Len(t, snaps, 1, "retain=%d", retain)
		assert.Equal(t, last, snaps[0].ID)
	}
}

func TestRollback_KeepsTargetDuringPrune(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	oldest, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	_, err = f.store.Snapshot(ctx)
	require.NoError(t, err)

	_, err = f.store.Rollback(ctx, oldest)
	require.NoError(t, err)

	_, err = f.store.Path(oldest)
	assert.NoError(t, err)
}

func TestSnapshot_OrderingWithFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, 10, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	a, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	b, err := f.store.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, SnapshotID("backup-2026-10-16T09-30-00-000000000Z"), a)
	assert.Less(t, string(a), string(b))

	latest, err := f.store.Latest()
	require.NoError(t, err)
	assert.Equal(t, b, latest.ID)
	assert.Equal(t, 4, latest.Files)
}

func TestParseID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 20, 30, 123456789, time.UTC)
	got, err := parseID(idFor(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	_, err = parseID("backup-nonsense")
	assert.Error(t, err)
}

func TestNestedSnapshotDir(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "site")
	writeTree(t, root, map[string]string{"index.html": "<title>v1</title>"})
	store, err := New(Config{TreeRoot: root, Dir: filepath.Join(root, ".backups")}, WithLogger(logger.Nop()))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Snapshot(ctx)
	require.NoError(t, err)
	writeTree(t, root, map[string]string{"index.html": "<title>v2</title>"})

	_, err = store.Rollback(ctx, id)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<title>v1</title>", string(data))

	snaps, err := store.List()
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "snapshot dir survives the swap")

	_, err = New(Config{TreeRoot: root, Dir: filepath.Join(root, "a", "b")})
	assert.Error(t, err)
	_, err = New(Config{TreeRoot: root, Dir: root})
	assert.Error(t, err)
}

func TestStore_RecordsMetrics(t *testing.T) {
	rec := metrics.New("test")
	f := newFixture(t, 1, WithMetrics(rec))
	ctx := context.Background()

	id, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	_, err = f.store.Rollback(ctx, id)
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[fam.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["test_snapshots_total"])
	assert.Equal(t, 1.0, values["test_rollbacks_total"])
}
