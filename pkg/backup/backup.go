// Package backup keeps full, timestamped copies of the document tree and
// restores the tree from any retained copy.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
)

const (
	namePrefix     = "backup-"
	manifestName   = ".snapshot.json"
	stagingPrefix  = ".staging-"
	nameTimeLayout = "2006-01-02T15:04:05.000000000Z"

	DefaultRetain = 10
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotFailed aborts a batch before any mutation.
	ErrSnapshotFailed = errors.New("snapshot failed")
)

// SnapshotID is the snapshot directory name, backup-<timestamp>.
type SnapshotID string

// Snapshot describes one retained copy.
type Snapshot struct {
	ID        SnapshotID `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Files     int        `json:"files"`
	Bytes     int64      `json:"bytes"`
}

type Config struct {
	// TreeRoot is the live document tree.
	TreeRoot string
	// Dir holds the snapshots. It may live inside TreeRoot; it is then
	// excluded from copies.
	Dir string
	// Retain is the number of snapshots kept by Prune; values below 1
	// are treated as 1.
	Retain int
}

// Store owns the snapshot directory. It assumes a single writer per tree.
type Store struct {
	root    string
	dir     string
	retain  int
	log     *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

type Option func(*Store)

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l.Component("backup") }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.TreeRoot == "" || cfg.Dir == "" {
		return nil, fmt.Errorf("backup: tree root and snapshot dir are required")
	}
	root, err := filepath.Abs(cfg.TreeRoot)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve tree root: %w", err)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve snapshot dir: %w", err)
	}
	if root == dir {
		return nil, fmt.Errorf("backup: snapshot dir must differ from tree root")
	}
	s := &Store{
		root:   root,
		dir:    dir,
		retain: cfg.Retain,
		log:    logger.ForComponent("backup"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.nestedSnapshotDir(); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return s, nil
}

// Snapshot copies the whole tree into a new snapshot and then applies the
// retention policy. Any failure is wrapped in ErrSnapshotFailed.
func (s *Store) Snapshot(ctx context.Context) (SnapshotID, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.prune(""); err != nil {
		s.log.WithError(err).Warn("Retention pruning failed after snapshot")
	}
	return snap.ID, nil
}

func (s *Store) snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Snapshot{}, fmt.Errorf("%w: create snapshot dir: %v", ErrSnapshotFailed, err)
	}

	created := s.nextTimestamp()
	id := idFor(created)
	staging := filepath.Join(s.dir, stagingPrefix+string(id))
	final := filepath.Join(s.dir, string(id))

	stats, err := copyTree(ctx, s.root, staging, s.skipInTree)
	if err != nil {
		_ = os.RemoveAll(staging)
		return Snapshot{}, fmt.Errorf("%w: copy tree: %v", ErrSnapshotFailed, err)
	}

	snap := Snapshot{ID: id, CreatedAt: created, Files: stats.files, Bytes: stats.bytes}
	if err := writeManifest(staging, snap); err != nil {
		_ = os.RemoveAll(staging)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return Snapshot{}, fmt.Errorf("%w: publish snapshot: %v", ErrSnapshotFailed, err)
	}

	s.metrics.Snapshot()
	s.log.WithFields(map[string]interface{}{
		"snapshot": id,
		"files":    snap.Files,
		"bytes":    snap.Bytes,
	}).Info("Snapshot created")
	return snap, nil
}

// nextTimestamp returns a UTC time strictly after the previous one so that
// IDs stay unique and ordered within a process.
func (s *Store) nextTimestamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// Rollback snapshots the current tree, then replaces the tree's contents
// with those of id. The pre-rollback snapshot ID is returned so the
// rollback itself can be undone.
func (s *Store) Rollback(ctx context.Context, id SnapshotID) (SnapshotID, error) {
	src, err := s.path(id)
	if err != nil {
		return "", err
	}

	pre, err := s.snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("rollback %s: %w", id, err)
	}
	if _, err := s.prune(id); err != nil {
		s.log.WithError(err).Warn("Retention pruning failed before rollback")
	}

	if err := s.restore(ctx, src); err != nil {
		return pre.ID, fmt.Errorf("rollback %s: %w", id, err)
	}

	s.metrics.Rollback()
	s.log.WithFields(map[string]interface{}{
		"snapshot":     id,
		"pre_rollback": pre.ID,
	}).Info("Rollback completed")
	return pre.ID, nil
}

// restore stages a copy next to the tree and swaps it in, so the tree is
// never left half-copied.
func (s *Store) restore(ctx context.Context, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := filepath.Dir(s.root)
	base := filepath.Base(s.root)
	staging := filepath.Join(parent, "."+base+".restore")
	old := filepath.Join(parent, "."+base+".old")
	_ = os.RemoveAll(staging)
	_ = os.RemoveAll(old)

	skipManifest := func(rel string, _ os.DirEntry) bool { return rel == manifestName }
	if _, err := copyTree(ctx, src, staging, skipManifest); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("stage snapshot: %w", err)
	}

	// A snapshot dir nested in the tree must survive the swap.
	nested, err := s.nestedSnapshotDir()
	if err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if nested != "" {
		if err := os.Rename(filepath.Join(s.root, nested), filepath.Join(staging, nested)); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("carry snapshot dir: %w", err)
		}
	}

	if err := os.Rename(s.root, old); err != nil {
		return fmt.Errorf("move tree aside: %w", err)
	}
	if err := os.Rename(staging, s.root); err != nil {
		if rerr := os.Rename(old, s.root); rerr != nil {
			return fmt.Errorf("swap in snapshot: %v (tree left at %s: %v)", err, old, rerr)
		}
		return fmt.Errorf("swap in snapshot: %w", err)
	}
	if err := os.RemoveAll(old); err != nil {
		s.log.WithError(err).WithField("path", old).Warn("Failed to remove previous tree")
	}
	return nil
}

// Prune keeps the newest Retain snapshots (at least one) and returns the
// IDs it removed, oldest first.
func (s *Store) Prune() ([]SnapshotID, error) {
	return s.prune("")
}

func (s *Store) prune(protect SnapshotID) ([]SnapshotID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps, err := s.list()
	if err != nil {
		return nil, err
	}
	keep := s.retain
	if keep < 1 {
		keep = 1
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var removed []SnapshotID
	var errs []error
	for _, snap := range snaps[:len(snaps)-keep] {
		if snap.ID == protect {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, string(snap.ID))); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", snap.ID, err))
			continue
		}
		removed = append(removed, snap.ID)
		s.log.WithField("snapshot", snap.ID).Info("Snapshot pruned")
	}
	s.metrics.Pruned(len(removed))
	return removed, errors.Join(errs...)
}

// List returns retained snapshots ordered oldest first.
func (s *Store) List() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Latest returns the most recent snapshot.
func (s *Store) Latest() (Snapshot, error) {
	snaps, err := s.List()
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snaps[len(snaps)-1], nil
}

// Path returns the directory holding snapshot id.
func (s *Store) Path(id SnapshotID) (string, error) {
	return s.path(id)
}

func (s *Store) list() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), namePrefix) {
			continue
		}
		snap, err := readManifest(filepath.Join(s.dir, e.Name()))
		if err != nil {
			created, perr := parseID(SnapshotID(e.Name()))
			if perr != nil {
				s.log.WithField("dir", e.Name()).Warn("Skipping unrecognised snapshot directory")
				continue
			}
			snap = Snapshot{ID: SnapshotID(e.Name()), CreatedAt: created}
		}
		snaps = append(snaps, snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
		}
		return snaps[i].ID < snaps[j].ID
	})
	return snaps, nil
}

func (s *Store) path(id SnapshotID) (string, error) {
	name := string(id)
	if !strings.HasPrefix(name, namePrefix) || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return p, nil
}

// nestedSnapshotDir returns the snapshot dir relative to the tree root when
// it lives inside the tree, or "".
func (s *Store) nestedSnapshotDir() (string, error) {
	rel, err := filepath.Rel(s.root, s.dir)
	if err != nil {
		return "", nil
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", nil
	}
	if strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("snapshot dir %s must be a direct child of the tree root", s.dir)
	}
	return rel, nil
}

func (s *Store) skipInTree(rel string, _ os.DirEntry) bool {
	nested, _ := s.nestedSnapshotDir()
	return nested != "" && rel == nested
}

func idFor(t time.Time) SnapshotID {
	stamp := t.UTC().Format(nameTimeLayout)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return SnapshotID(namePrefix + stamp)
}

// parseID recovers the creation time from a snapshot name.
func parseID(id SnapshotID) (time.Time, error) {
	stamp := strings.TrimPrefix(string(id), namePrefix)
	// 2006-01-02T15-04-05-000000000Z
	if len(stamp) != len("2006-01-02T15-04-05-000000000Z") {
		return time.Time{}, fmt.Errorf("unexpected snapshot name %q", id)
	}
	b := []byte(stamp)
	b[13], b[16], b[19] = ':', ':', '.'
	return time.Parse(nameTimeLayout, string(b))
}

func writeManifest(dir string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func readManifest(dir string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
