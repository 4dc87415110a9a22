// Package engine composes the rule store, matcher, resolver and auditor into
// the redirect management API used by the HTTP layer and the CLI.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/audit"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/matcher"
	"github.com/freewebtopdf/redirect-resolver/internal/metrics"
	"github.com/freewebtopdf/redirect-resolver/internal/resolver"
)

// Config holds the engine options
type Config struct {
	MaxChainLength      int
	EnableRegex         bool
	DefaultType         domain.RedirectType
	PreserveQueryString bool
	PatternCacheSize    int
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		MaxChainLength:      resolver.DefaultMaxChainLength,
		EnableRegex:         true,
		DefaultType:         domain.RedirectPermanent,
		PreserveQueryString: true,
		PatternCacheSize:    10000,
	}
}

// Engine is the redirect management facade. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	store     domain.RuleRepository
	matcher   *matcher.Matcher
	resolver  *resolver.Resolver
	detector  *audit.Detector
	validator domain.Validator

	selMu     sync.Mutex
	selection map[string]struct{}
}

// New builds an engine over store
func New(store domain.RuleRepository, cfg Config) *Engine {
	if !cfg.DefaultType.IsValid() {
		cfg.DefaultType = domain.RedirectPermanent
	}

	m := matcher.NewMatcher(matcher.Config{
		EnableRegex: cfg.EnableRegex,
		CacheSize:   cfg.PatternCacheSize,
	})
	r := resolver.New(store, m, cfg.MaxChainLength)
	cfg.MaxChainLength = r.MaxChainLength()

	e := &Engine{
		cfg:       cfg,
		store:     store,
		matcher:   m,
		resolver:  r,
		detector:  audit.NewDetector(store, r, m),
		validator: domain.NewValidator(),
		selection: make(map[string]struct{}),
	}
	e.refreshRuleGauge()
	return e
}

// Config returns the effective engine options
func (e *Engine) Config() Config {
	return e.cfg
}

// Store returns the underlying rule repository
func (e *Engine) Store() domain.RuleRepository {
	return e.store
}

// Matcher returns the pattern matcher
func (e *Engine) Matcher() *matcher.Matcher {
	return e.matcher
}

// Validator returns the validator used for drafts and patches
func (e *Engine) Validator() domain.Validator {
	return e.validator
}

// Rules returns every rule in evaluation order
func (e *Engine) Rules() []domain.Rule {
	rules := e.store.Snapshot().Rules
	out := make([]domain.Rule, len(rules))
	copy(out, rules)
	return out
}

// Rule returns a single rule by id
func (e *Engine) Rule(id string) (domain.Rule, bool) {
	return e.store.Snapshot().Find(id)
}

// AddRule validates draft and appends it to the rule set
func (e *Engine) AddRule(draft domain.RuleDraft) (domain.Rule, error) {
	if err := e.validator.ValidateDraft(&draft); err != nil {
		return domain.Rule{}, err
	}

	rule := e.store.Add(draft)
	e.refreshRuleGauge()

	log.Info().Str("rule_id", rule.ID).Str("source", rule.Source).Str("destination", rule.Destination).Msg("Redirect rule created")
	return rule, nil
}

// UpdateRule merges patch into the rule. An unknown id returns false and no error.
func (e *Engine) UpdateRule(id string, patch domain.RulePatch) (domain.Rule, bool, error) {
	if err := e.validator.ValidatePatch(&patch); err != nil {
		return domain.Rule{}, false, err
	}

	rule, ok := e.store.Update(id, patch)
	if !ok {
		return domain.Rule{}, false, nil
	}
	if patch.TouchesSource() {
		e.matcher.Invalidate(id)
	}
	e.refreshRuleGauge()

	log.Info().Str("rule_id", id).Msg("Redirect rule updated")
	return rule, true, nil
}

// DeleteRule removes a rule and drops it from the selection
func (e *Engine) DeleteRule(id string) bool {
	if !e.store.Delete(id) {
		log.Debug().Str("rule_id", id).Msg("Delete ignored for unknown rule")
		return false
	}
	e.discard([]string{id})
	e.refreshRuleGauge()

	log.Info().Str("rule_id", id).Msg("Redirect rule deleted")
	return true
}

// ToggleRule flips a rule between enabled and disabled
func (e *Engine) ToggleRule(id string) (domain.Rule, bool) {
	rule, ok := e.store.Toggle(id)
	if ok {
		e.refreshRuleGauge()
		log.Info().Str("rule_id", id).Bool("enabled", rule.IsEnabled).Msg("Redirect rule toggled")
	}
	return rule, ok
}

// MoveRule changes a rule's position in evaluation order
func (e *Engine) MoveRule(id string, index int) bool {
	ok := e.store.Move(id, index)
	if ok {
		log.Info().Str("rule_id", id).Int("index", index).Msg("Redirect rule moved")
	}
	return ok
}

// RecordHit counts one confirmed use of a rule
func (e *Engine) RecordHit(id string) bool {
	return e.store.RecordHit(id)
}

// Resolve follows redirects from path. It never records hits.
func (e *Engine) Resolve(path string) domain.ResolutionResult {
	start := time.Now()
	result := e.resolver.Resolve(path)
	metrics.ObserveResolution(string(result.Status), time.Since(start))

	if result.Status == domain.StatusLoop {
		log.Warn().Str("path", path).Int("chain_length", result.Chain.ChainLength).Msg("Redirect loop detected")
	}
	return result
}

// DetectChains lists multi-hop chains in the current rule set
func (e *Engine) DetectChains() []domain.Chain {
	return e.detector.DetectChains()
}

// DetectLoops lists loops in the current rule set
func (e *Engine) DetectLoops() []domain.Chain {
	return e.detector.DetectLoops()
}

// Audit runs every audit over one snapshot
func (e *Engine) Audit(ctx context.Context) (*audit.Report, error) {
	return e.detector.Report(ctx)
}

// Flush persists pending changes such as hit counters
func (e *Engine) Flush(ctx context.Context) error {
	return e.store.Flush(ctx)
}

func (e *Engine) refreshRuleGauge() {
	snap := e.store.Snapshot()
	enabled := len(snap.Enabled())
	metrics.SetRuleCounts(enabled, len(snap.Rules)-enabled)
}
