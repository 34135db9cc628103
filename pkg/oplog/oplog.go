// Package oplog is the append-only audit trail of optimisation batches,
// persisted as a JSON array. A Sink is opened at batch start and flushed at
// batch end; entries are never rewritten.
package oplog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/fsutil"
	"seo-optimizer/pkg/logger"
)

var ErrClosed = errors.New("oplog: sink closed")

// Detail is one directive's line in a batch entry.
type Detail struct {
	Type     string `json:"type"`
	Target   string `json:"target"`
	Selector string `json:"selector,omitempty"`
	Keyword  string `json:"keyword,omitempty"`
	Change   string `json:"change"`
}

// Entry summarises one batch.
type Entry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	SnapshotID         string    `json:"snapshotId,omitempty"`
	OptimizationsCount int       `json:"optimizationsCount"`
	AppliedCount       int       `json:"appliedCount"`
	ErrorCount         int       `json:"errorCount"`
	Skipped            int       `json:"skipped"`
	Details            []Detail  `json:"details"`
}

// NewEntry builds an entry from a batch's results, one detail per result
// in order.
func NewEntry(results []directive.Result, skipped int) Entry {
	sum := directive.Summarize(results)
	e := Entry{
		OptimizationsCount: len(results),
		AppliedCount:       sum.Applied,
		ErrorCount:         sum.Errors,
		Skipped:            skipped,
		Details:            make([]Detail, 0, len(results)),
	}
	for _, r := range results {
		e.Details = append(e.Details, Detail{
			Type:     r.Directive.Operation.String(),
			Target:   r.Directive.TargetDocument,
			Selector: r.Directive.Selector,
			Keyword:  r.Directive.SourceKeyword,
			Change:   r.Change(),
		})
	}
	return e
}

type Sink struct {
	path string
	log  *logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries []Entry
	dirty   bool
	closed  bool
}

// Open loads the existing log at path, if any.
func Open(path string, log *logger.Logger) (*Sink, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Sink{path: path, log: log.Component("oplog"), now: time.Now}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("open oplog: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("open oplog %s: %w", path, err)
		}
	}
	return s, nil
}

// Append adds e, filling ID and Timestamp when unset, and returns the
// stored entry.
func (s *Sink) Append(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.Details == nil {
		e.Details = []Detail{}
	}
	s.entries = append(s.entries, e)
	s.dirty = true
	return e, nil
}

// Flush writes the whole log if anything was appended since the last flush.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	if !s.dirty {
		return nil
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode oplog: %w", err)
	}
	if err := writeFile(s.path, data); err != nil {
		return fmt.Errorf("write oplog: %w", err)
	}
	s.dirty = false
	s.log.WithFields(map[string]interface{}{
		"entries": len(s.entries),
		"path":    s.path,
	}).Debug("Opportunity log flushed")
	return nil
}

// Close flushes and rejects further appends. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}

func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// SuccessRate is the rounded percentage of batches with no errors.
func (s *Sink) SuccessRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return successRate(s.entries)
}

// Report aggregates the log.
type Report struct {
	Batches     int        `json:"totalOptimizations"`
	SuccessRate int        `json:"successRate"`
	Applied     int        `json:"applied"`
	Errors      int        `json:"errors"`
	Skipped     int        `json:"skipped"`
	Last        *time.Time `json:"lastRun,omitempty"`
}

func (s *Sink) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Report{Batches: len(s.entries), SuccessRate: successRate(s.entries)}
	for _, e := range s.entries {
		r.Applied += e.AppliedCount
		r.Errors += e.ErrorCount
		r.Skipped += e.Skipped
	}
	if n := len(s.entries); n > 0 {
		last := s.entries[n-1].Timestamp
		r.Last = &last
	}
	return r
}

func successRate(entries []Entry) int {
	if len(entries) == 0 {
		return 0
	}
	ok := 0
	for _, e := range entries {
		if e.ErrorCount == 0 {
			ok++
		}
	}
	return int(math.Round(float64(ok) / float64(len(entries)) * 100))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0644)
}
