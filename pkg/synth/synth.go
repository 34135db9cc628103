// Package synth turns ranked opportunities into edit directives using an
// external text generator. Generated text is untrusted: it is normalised,
// sanitised and validated before a directive is built from it.
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/metrics"
	"seo-optimizer/pkg/opportunity"
)

var (
	// ErrValidation marks a generated payload that violates a hard constraint.
	ErrValidation = errors.New("payload validation failed")
	// ErrCollaborator marks a failure of the text generator.
	ErrCollaborator = errors.New("generator failed")
)

// Request is one generation call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Generator produces text for a prompt. Output is not assumed to be
// repeatable across calls.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// CompetitorContext is what the synthesizer knows about the current
// result page for a keyword.
type CompetitorContext struct {
	Titles       []string `json:"titles"`
	Descriptions []string `json:"descriptions"`
	Topics       []string `json:"topics"`
}

// Skipped records an opportunity slot that produced no directive.
type Skipped struct {
	Keyword string           `json:"keyword"`
	Kind    opportunity.Kind `json:"type"`
	Slot    Slot             `json:"slot"`
	Reason  string           `json:"reason"`
	Err     error            `json:"-"`
}

// Output is the result of a batch synthesis. Directives keep the order of
// the input opportunities.
type Output struct {
	Directives []directive.EditDirective `json:"directives"`
	Skipped    []Skipped                 `json:"skipped"`
}

type Config struct {
	Target          string        `mapstructure:"default_target"`
	ContentAnchor   string        `mapstructure:"content_anchor"`
	ExpansionAnchor string        `mapstructure:"expansion_anchor"`
	TitleMax        int           `mapstructure:"title_max"`
	MetaMin         int           `mapstructure:"meta_min"`
	MetaMax         int           `mapstructure:"meta_max"`
	H1Max           int           `mapstructure:"h1_max"`
	InterCallDelay  time.Duration `mapstructure:"inter_call_delay"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Target:          "index.html",
		ContentAnchor:   ".services",
		ExpansionAnchor: ".cta-section",
		TitleMax:        60,
		MetaMin:         150,
		MetaMax:         160,
		H1Max:           70,
		InterCallDelay:  time.Second,
		CallTimeout:     60 * time.Second,
	}
}

type Synthesizer struct {
	gen     Generator
	cfg     Config
	limiter *rate.Limiter
	log     *logger.Logger
	metrics *metrics.Recorder
}

type Option func(*Synthesizer)

func WithLogger(l *logger.Logger) Option {
	return func(s *Synthesizer) { s.log = l.Component("synth") }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Synthesizer) { s.metrics = r }
}

func New(gen Generator, cfg Config, opts ...Option) *Synthesizer {
	def := DefaultConfig()
	if cfg.Target == "" {
		cfg.Target = def.Target
	}
	if cfg.ContentAnchor == "" {
		cfg.ContentAnchor = def.ContentAnchor
	}
	if cfg.ExpansionAnchor == "" {
		cfg.ExpansionAnchor = def.ExpansionAnchor
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = def.TitleMax
	}
	if cfg.MetaMin <= 0 {
		cfg.MetaMin = def.MetaMin
	}
	if cfg.MetaMax <= 0 {
		cfg.MetaMax = def.MetaMax
	}
	if cfg.H1Max <= 0 {
		cfg.H1Max = def.H1Max
	}

	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}
	s := &Synthesizer{
		gen:     gen,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.ForComponent("synth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize builds directives for every opportunity in order. A failed or
// invalid generation skips that slot only; the batch always completes
// unless ctx is cancelled, in which case the remaining slots are skipped.
func (s *Synthesizer) Synthesize(ctx context.Context, opps []opportunity.Opportunity, competitors map[string]CompetitorContext) Output {
	var out Output
	for _, opp := range opps {
		comp := competitors[opp.Keyword]
		if opp.Kind == opportunity.CtrImprovement {
			ds, skipped := s.synthesizeVariants(ctx, opp)
			out.Directives = append(out.Directives, ds...)
			out.Skipped = append(out.Skipped, skipped...)
			continue
		}
		for _, slot := range SlotsFor(opp.Kind) {
			d, err := s.SynthesizeOne(ctx, opp, slot, comp)
			if err != nil {
				out.Skipped = append(out.Skipped, s.skip(opp, slot, err))
				continue
			}
			out.Directives = append(out.Directives, *d)
		}
	}

	s.log.WithFields(map[string]interface{}{
		"opportunities": len(opps),
		"directives":    len(out.Directives),
		"skipped":       len(out.Skipped),
	}).Info("Synthesis finished")
	return out
}

// SynthesizeOne generates the payload for one slot and returns the
// directive, or nil and an error wrapping ErrCollaborator or ErrValidation.
func (s *Synthesizer) SynthesizeOne(ctx context.Context, opp opportunity.Opportunity, slot Slot, comp CompetitorContext) (*directive.EditDirective, error) {
	req, err := buildRequest(opp, slot, comp)
	if err != nil {
		return nil, err
	}
	raw, err := s.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.build(opp, slot, raw)
}

func (s *Synthesizer) synthesizeVariants(ctx context.Context, opp opportunity.Opportunity) ([]directive.EditDirective, []Skipped) {
	raw, err := s.call(ctx, variantsRequest(opp))
	if err != nil {
		return nil, []Skipped{s.skip(opp, SlotVariants, err)}
	}
	titles, metas := ParseVariants(raw)

	var (
		ds      []directive.EditDirective
		skipped []Skipped
	)
	for _, part := range []struct {
		slot       Slot
		candidates []string
	}{
		{SlotTitle, titles},
		{SlotMeta, metas},
	} {
		d, err := s.firstValid(opp, part.slot, part.candidates)
		if err != nil {
			skipped = append(skipped, s.skip(opp, part.slot, err))
			continue
		}
		ds = append(ds, *d)
	}
	return ds, skipped
}

func (s *Synthesizer) firstValid(opp opportunity.Opportunity, slot Slot, candidates []string) (*directive.EditDirective, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no %s variant in response", ErrValidation, slot)
	}
	var lastErr error
	for _, c := range candidates {
		d, err := s.build(opp, slot, c)
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// call throttles and times out one generator request.
func (s *Synthesizer) call(ctx context.Context, req Request) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}
	out, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	return out, nil
}

func (s *Synthesizer) build(opp opportunity.Opportunity, slot Slot, raw string) (*directive.EditDirective, error) {
	payload, warnings, err := s.validate(slot, raw)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.log.WithFields(map[string]interface{}{
			"keyword": opp.Keyword,
			"slot":    slot.String(),
		}).Warn(w)
	}
	op, selector := s.placement(slot)
	s.metrics.Synthesis(metrics.SynthesisAccepted)
	return &directive.EditDirective{
		TargetDocument: s.cfg.Target,
		Operation:      op,
		Selector:       selector,
		Payload:        payload,
		SourceKeyword:  opp.Keyword,
	}, nil
}

func (s *Synthesizer) placement(slot Slot) (directive.Operation, string) {
	switch slot {
	case SlotTitle:
		return directive.TitleSet, "title"
	case SlotMeta:
		return directive.MetaSet, `meta[name="description"]`
	case SlotH1:
		return directive.H1Set, "h1"
	case SlotRelated:
		return directive.InsertAfter, s.cfg.ContentAnchor
	default:
		return directive.InsertBefore, s.cfg.ExpansionAnchor
	}
}

func (s *Synthesizer) skip(opp opportunity.Opportunity, slot Slot, err error) Skipped {
	result := metrics.SynthesisSkipped
	if errors.Is(err, ErrValidation) {
		result = metrics.SynthesisInvalid
	}
	s.metrics.Synthesis(result)
	s.log.WithFields(map[string]interface{}{
		"keyword": opp.Keyword,
		"type":    opp.Kind.String(),
		"slot":    slot.String(),
	}).WithError(err).Warn("Optimization skipped")
	return Skipped{Keyword: opp.Keyword, Kind: opp.Kind, Slot: slot, Reason: err.Error(), Err: err}
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
