// Package audit sweeps a rule snapshot for chains, loops and rules that can never fire.
package audit

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// PatternMatcher is a matcher that can also list rules whose pattern does not compile
type PatternMatcher interface {
	domain.PatternMatcher
	BrokenPatterns(rules []domain.Rule) []string
}

// Shadowed describes an enabled rule that an earlier enabled rule always wins over
type Shadowed struct {
	Rule       domain.Rule `json:"rule"`
	ShadowedBy domain.Rule `json:"shadowed_by"`
}

// Report bundles every finding for one snapshot
type Report struct {
	SnapshotVersion uint64         `json:"snapshot_version"`
	RuleCount       int            `json:"rule_count"`
	EnabledCount    int            `json:"enabled_count"`
	Chains          []domain.Chain `json:"chains"`
	Loops           []domain.Chain `json:"loops"`
	Shadowed        []Shadowed     `json:"shadowed"`
	BrokenPatterns  []string       `json:"broken_patterns"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Clean reports whether the audit found nothing worth acting on
func (r *Report) Clean() bool {
	return len(r.Chains) == 0 && len(r.Loops) == 0 && len(r.Shadowed) == 0 && len(r.BrokenPatterns) == 0
}

// Detector runs audits against the snapshots handed out by a store
type Detector struct {
	source   domain.SnapshotSource
	resolver domain.Resolver
	matcher  PatternMatcher
}

// NewDetector creates a new Detector
func NewDetector(source domain.SnapshotSource, resolver domain.Resolver, matcher PatternMatcher) *Detector {
	return &Detector{
		source:   source,
		resolver: resolver,
		matcher:  matcher,
	}
}

// DetectChains resolves the source of every enabled rule and returns each
// multi-hop chain found, keeping only the first chain per first-hop rule.
// Loops of two or more hops carry a chain and are reported here as well.
func (d *Detector) DetectChains() []domain.Chain {
	return d.ChainsIn(d.source.Snapshot())
}

// ChainsIn is DetectChains over a given snapshot
func (d *Detector) ChainsIn(snapshot *domain.Snapshot) []domain.Chain {
	return d.sweep(snapshot, func(result domain.ResolutionResult) bool {
		return result.Chain != nil && result.Chain.ChainLength > 1
	})
}

// DetectLoops returns every loop reachable from an enabled rule's source,
// deduplicated by first hop
func (d *Detector) DetectLoops() []domain.Chain {
	return d.LoopsIn(d.source.Snapshot())
}

// LoopsIn is DetectLoops over a given snapshot
func (d *Detector) LoopsIn(snapshot *domain.Snapshot) []domain.Chain {
	return d.sweep(snapshot, func(result domain.ResolutionResult) bool {
		return result.Status == domain.StatusLoop && result.Chain != nil
	})
}

func (d *Detector) sweep(snapshot *domain.Snapshot, keep func(domain.ResolutionResult) bool) []domain.Chain {
	found := []domain.Chain{}
	if snapshot == nil {
		return found
	}

	seen := make(map[string]struct{})
	for _, rule := range snapshot.Rules {
		if !rule.IsEnabled {
			continue
		}

		result := d.resolver.ResolveIn(snapshot, rule.Source)
		if !keep(result) {
			continue
		}

		first := result.Chain.FirstRuleID()
		if _, dup := seen[first]; dup {
			continue
		}
		seen[first] = struct{}{}
		found = append(found, *result.Chain)
	}
	return found
}

// DetectShadowed returns enabled literal rules that can never win because an
// earlier enabled rule matches their source
func (d *Detector) DetectShadowed() []Shadowed {
	return d.ShadowedIn(d.source.Snapshot())
}

// ShadowedIn is DetectShadowed over a given snapshot
func (d *Detector) ShadowedIn(snapshot *domain.Snapshot) []Shadowed {
	shadowed := []Shadowed{}
	enabled := snapshot.Enabled()

	for i := range enabled {
		rule := &enabled[i]
		// Regex rules can match paths other than their own source, so an
		// earlier match on the source alone does not make them unreachable
		if rule.IsRegex {
			continue
		}
		for j := 0; j < i; j++ {
			if d.matcher.Matches(&enabled[j], rule.Source) {
				shadowed = append(shadowed, Shadowed{Rule: *rule, ShadowedBy: enabled[j]})
				break
			}
		}
	}
	return shadowed
}

// Report runs every audit over one snapshot in parallel
func (d *Detector) Report(ctx context.Context) (*Report, error) {
	snapshot := d.source.Snapshot()
	report := &Report{
		SnapshotVersion: snapshot.Version,
		RuleCount:       len(snapshot.Rules),
		EnabledCount:    len(snapshot.Enabled()),
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		report.Chains = d.ChainsIn(snapshot)
		return egCtx.Err()
	})
	eg.Go(func() error {
		report.Loops = d.LoopsIn(snapshot)
		return egCtx.Err()
	})
	eg.Go(func() error {
		report.Shadowed = d.ShadowedIn(snapshot)
		return egCtx.Err()
	})
	eg.Go(func() error {
		broken := d.matcher.BrokenPatterns(snapshot.Rules)
		if broken == nil {
			broken = []string{}
		}
		report.BrokenPatterns = broken
		return egCtx.Err()
	})

	if err := eg.Wait(); err != nil {
		return nil, domain.NewAppErrorWithCause(
			domain.ErrInternal,
			"Audit cancelled",
			500,
			err,
			map[string]any{"snapshot_version": snapshot.Version},
		).WithContext(ctx, "audit")
	}

	report.GeneratedAt = time.Now().UTC()
	return report, nil
}
