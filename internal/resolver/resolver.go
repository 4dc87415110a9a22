package resolver

import (
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// DefaultMaxChainLength is the hop bound used when none is configured
const DefaultMaxChainLength = 3

// Resolver follows redirect chains over the current rule snapshot.
// It holds no traversal state, so one Resolver serves any number of
// concurrent callers.
type Resolver struct {
	source         domain.SnapshotSource
	matcher        domain.PatternMatcher
	maxChainLength int
}

// New creates a Resolver. A non-positive maxChainLength selects DefaultMaxChainLength.
func New(source domain.SnapshotSource, matcher domain.PatternMatcher, maxChainLength int) *Resolver {
	if maxChainLength <= 0 {
		maxChainLength = DefaultMaxChainLength
	}
	return &Resolver{
		source:         source,
		matcher:        matcher,
		maxChainLength: maxChainLength,
	}
}

// Resolve follows redirects from path against the current snapshot
func (r *Resolver) Resolve(path string) domain.ResolutionResult {
	return r.ResolveIn(r.source.Snapshot(), path)
}

// ResolveIn follows redirects from path against the given snapshot
func (r *Resolver) ResolveIn(snapshot *domain.Snapshot, path string) domain.ResolutionResult {
	var rules []domain.Rule
	if snapshot != nil {
		rules = snapshot.Rules
	}
	return Walk(rules, r.matcher, path, r.maxChainLength)
}

// MaxChainLength returns the configured hop bound
func (r *Resolver) MaxChainLength() int {
	return r.maxChainLength
}

// Walk resolves path against rules in order. It is a pure function: the
// visited set and chain live only for the duration of the call.
//
// The walk stops when a path repeats (loop), when no rule matches the current
// path, or once the chain holds more than maxChainLength rules. In the last
// case the result is a chain whose final destination is the path that was
// about to be resolved next, so at most maxChainLength+1 hops are reported.
// A non-positive maxChainLength selects DefaultMaxChainLength.
func Walk(rules []domain.Rule, matcher domain.PatternMatcher, path string, maxChainLength int) domain.ResolutionResult {
	if maxChainLength <= 0 {
		maxChainLength = DefaultMaxChainLength
	}
	visited := make(map[string]struct{}, maxChainLength+1)
	chain := make([]domain.Rule, 0, maxChainLength+1)
	current := path

	for {
		if _, seen := visited[current]; seen {
			result := domain.ResolutionResult{
				Source: path,
				Status: domain.StatusLoop,
				Chain: &domain.Chain{
					Redirects:   chain,
					ChainLength: len(chain),
				},
			}
			if len(chain) > 0 {
				result.MatchedRedirect = &chain[0]
			}
			return result
		}
		visited[current] = struct{}{}

		match := firstMatch(rules, matcher, current)
		if match == nil {
			return settle(path, chain, current)
		}

		chain = append(chain, *match)
		current = match.Destination

		if len(chain) > maxChainLength {
			return domain.ResolutionResult{
				Source:           path,
				MatchedRedirect:  &chain[0],
				FinalDestination: current,
				Status:           domain.StatusChain,
				Chain: &domain.Chain{
					Redirects:        chain,
					FinalDestination: current,
					ChainLength:      len(chain),
				},
			}
		}
	}
}

// settle builds the result for a walk that ended because nothing matched current
func settle(path string, chain []domain.Rule, current string) domain.ResolutionResult {
	switch len(chain) {
	case 0:
		return domain.ResolutionResult{Source: path, Status: domain.StatusNoMatch}
	case 1:
		return domain.ResolutionResult{
			Source:           path,
			MatchedRedirect:  &chain[0],
			FinalDestination: current,
			Status:           domain.StatusSuccess,
		}
	default:
		return domain.ResolutionResult{
			Source:           path,
			MatchedRedirect:  &chain[0],
			FinalDestination: current,
			Status:           domain.StatusChain,
			Chain: &domain.Chain{
				Redirects:        chain,
				FinalDestination: current,
				ChainLength:      len(chain),
			},
		}
	}
}

// firstMatch returns the first enabled rule in order that matches path
func firstMatch(rules []domain.Rule, matcher domain.PatternMatcher, path string) *domain.Rule {
	for i := range rules {
		if !rules[i].IsEnabled {
			continue
		}
		if matcher.Matches(&rules[i], path) {
			return &rules[i]
		}
	}
	return nil
}
