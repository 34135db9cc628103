package service

import (
	"context"

	"seo-optimizer/pkg/analytics"
	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/mutation"
	"seo-optimizer/pkg/oplog"
	"seo-optimizer/pkg/opportunity"
	"seo-optimizer/pkg/synth"
)

// SignalService is the search-analytics collaborator.
type SignalService interface {
	Signals(ctx context.Context) (map[string]opportunity.PerformanceSignal, error)
}

// SERPService is the competitor result-page collaborator.
type SERPService interface {
	Lookup(ctx context.Context, keyword string) (analytics.SERPSnapshot, error)
}

type SynthesisService interface {
	Synthesize(ctx context.Context, opps []opportunity.Opportunity, competitors map[string]synth.CompetitorContext) synth.Output
}

type SnapshotService interface {
	Snapshot(ctx context.Context) (backup.SnapshotID, error)
	Rollback(ctx context.Context, id backup.SnapshotID) (backup.SnapshotID, error)
	List() ([]backup.Snapshot, error)
	Latest() (backup.Snapshot, error)
}

type MutationService interface {
	Apply(ctx context.Context, directives []directive.EditDirective) (mutation.Report, error)
}

// LogService is the opportunity log sink for the current process.
type LogService interface {
	Append(e oplog.Entry) (oplog.Entry, error)
	Flush() error
	Report() oplog.Report
}
