// Package mutation applies edit directives to the on-disk document tree.
//
// Callers must take a snapshot of the tree before calling Apply; the engine
// does not check for one. Directives are applied one at a time, in order,
// and each document write is committed before the next directive starts.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
	"seo-optimizer/pkg/sitemap"
)

// Rejection reasons.
const (
	ReasonDocumentNotFound = "document not found"
	ReasonSelectorNotFound = "selector not found"
	ReasonCancelled        = "batch cancelled"
)

// IndexWriter regenerates the location index after a batch.
type IndexWriter interface {
	Write(ctx context.Context, root string) (sitemap.Index, error)
}

// Report is the outcome of one batch. Results has one entry per input
// directive, in input order.
type Report struct {
	Results []directive.Result `json:"results"`
	Summary directive.Summary  `json:"summary"`
	Index   sitemap.Index      `json:"-"`
}

type Engine struct {
	root    string
	exclude []string
	index   IndexWriter
	log     *logger.Logger
	metrics *metrics.Recorder

	// afterDirective runs once each result is recorded; tests use it.
	afterDirective func(i int)
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l.Component("mutation") }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithIndex sets the sitemap writer run after any batch with at least one
// applied directive.
func WithIndex(w IndexWriter) Option {
	return func(e *Engine) { e.index = w }
}

// WithExclude protects tree-relative, slash-separated directories from
// edits; directives targeting a document beneath one are rejected as not
// found. The snapshot directory goes here when it lives inside the tree.
func WithExclude(dirs ...string) Option {
	return func(e *Engine) {
		for _, d := range dirs {
			if d = strings.Trim(filepath.ToSlash(d), "/"); d != "" {
				e.exclude = append(e.exclude, filepath.ToSlash(filepath.Clean(filepath.FromSlash(d))))
			}
		}
	}
}

func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("mutation: resolve tree root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("mutation: tree root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mutation: tree root %s is not a directory", abs)
	}
	e := &Engine{root: abs, log: logger.ForComponent("mutation")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply runs the batch. Failures of individual directives become Rejected
// results and never stop the batch. Cancellation leaves the directives
// already applied in place and rejects the rest. The returned error reports
// cancellation or a failed sitemap write; the Report is complete either way.
func (e *Engine) Apply(ctx context.Context, directives []directive.EditDirective) (Report, error) {
	start := time.Now()
	results := make([]directive.Result, 0, len(directives))

	var cancelErr error
	for i, d := range directives {
		if cancelErr == nil {
			cancelErr = ctx.Err()
		}
		var res directive.Result
		if cancelErr != nil {
			res = reject(d, ReasonCancelled, cancelErr)
		} else {
			res = e.applyOne(d)
		}
		results = append(results, res)
		e.record(i, res)
		if e.afterDirective != nil {
			e.afterDirective(i)
		}
	}

	report := Report{Results: results, Summary: directive.Summarize(results)}
	e.log.WithFields(map[string]interface{}{
		"directives": len(directives),
		"applied":    report.Summary.Applied,
		"errors":     report.Summary.Errors,
		"duration":   time.Since(start).String(),
	}).Info("Mutation batch finished")

	if report.Summary.Applied > 0 && e.index != nil {
		// The index must reflect what was written even if the batch was cut short.
		idx, err := e.index.Write(context.WithoutCancel(ctx), e.root)
		if err != nil {
			return report, errors.Join(cancelErr, fmt.Errorf("regenerate sitemap: %w", err))
		}
		report.Index = idx
	}
	if cancelErr != nil {
		return report, fmt.Errorf("mutation batch: %w", cancelErr)
	}
	return report, nil
}

func (e *Engine) record(i int, res directive.Result) {
	fields := map[string]interface{}{
		"index":     i,
		"target":    res.Directive.TargetDocument,
		"operation": res.Directive.Operation.String(),
		"selector":  res.Directive.Selector,
	}
	switch o := res.Outcome.(type) {
	case directive.Applied:
		e.metrics.Directive(metrics.OutcomeApplied)
		fields["change"] = o.DiffSummary
		e.log.WithFields(fields).Info("Directive applied")
	case directive.Rejected:
		e.metrics.Directive(metrics.OutcomeRejected)
		fields["reason"] = o.Reason
		l := e.log.WithFields(fields)
		if res.Err != nil {
			l = l.WithError(res.Err)
		}
		l.Warn("Directive rejected")
	}
}

// applyOne owns the parsed document only for the duration of the call.
func (e *Engine) applyOne(d directive.EditDirective) directive.Result {
	if !d.Operation.Valid() {
		return reject(d, "unknown operation "+d.Operation.String(), nil)
	}
	path, err := e.resolve(d.TargetDocument)
	if err != nil {
		return reject(d, ReasonDocumentNotFound, err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = fmt.Errorf("%s is not a regular file", d.TargetDocument)
		}
		return reject(d, ReasonDocumentNotFound, fmt.Errorf("%w: %v", directive.ErrNotFound, err))
	}

	doc, err := readDocument(path)
	if err != nil {
		return reject(d, "read failed", err)
	}
	summary, err := edit(doc, d)
	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			return reject(d, rej.reason, rej.err)
		}
		return reject(d, err.Error(), err)
	}
	if err := writeDocument(path, doc, info.Mode().Perm()); err != nil {
		return reject(d, "write failed", err)
	}
	return directive.Result{Directive: d, Outcome: directive.Applied{DiffSummary: summary}}
}

// resolve maps a slash-separated relative path onto the tree, refusing
// anything that would leave it.
func (e *Engine) resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty target document", directive.ErrNotFound)
	}
	rel := filepath.FromSlash(target)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q is outside the document tree", directive.ErrNotFound, target)
	}
	slash := filepath.ToSlash(filepath.Clean(rel))
	for _, ex := range e.exclude {
		if slash == ex || strings.HasPrefix(slash, ex+"/") {
			return "", fmt.Errorf("%w: %q is inside excluded directory %s", directive.ErrNotFound, target, ex)
		}
	}
	return filepath.Join(e.root, rel), nil
}

func reject(d directive.EditDirective, reason string, err error) directive.Result {
	return directive.Result{Directive: d, Outcome: directive.Rejected{Reason: reason}, Err: err}
}
