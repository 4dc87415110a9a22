package matcher

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/cache"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// compiledPattern remembers which source a pattern was compiled from.
// A nil re records a source that failed to compile.
type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

// Config controls matcher behavior
type Config struct {
	EnableRegex bool
	CacheSize   int
}

// DefaultConfig returns regex matching enabled with a 10000 entry pattern cache
func DefaultConfig() Config {
	return Config{EnableRegex: true, CacheSize: 10000}
}

// Matcher implements domain.PatternMatcher. It is safe for concurrent use.
type Matcher struct {
	enableRegex bool
	patterns    *cache.LRU[compiledPattern]
}

// NewMatcher creates a new Matcher instance
func NewMatcher(cfg Config) *Matcher {
	return &Matcher{
		enableRegex: cfg.EnableRegex,
		patterns:    cache.NewLRU[compiledPattern](cfg.CacheSize),
	}
}

// Matches reports whether rule applies to path. Disabled rules never match,
// literal rules require exact equality and regex rules whose pattern does
// not compile never match.
func (m *Matcher) Matches(rule *domain.Rule, path string) bool {
	if rule == nil || !rule.IsEnabled {
		return false
	}

	if !rule.IsRegex {
		return rule.Source == path
	}

	if !m.enableRegex {
		return false
	}

	re := m.compiled(rule)
	if re == nil {
		return false
	}
	return re.MatchString(path)
}

// compiled returns the cached pattern for rule, compiling on a miss or when
// the rule's source changed since it was cached
func (m *Matcher) compiled(rule *domain.Rule) *regexp.Regexp {
	if entry, ok := m.patterns.Get(rule.ID); ok && entry.source == rule.Source {
		return entry.re
	}

	re, err := regexp.Compile(rule.Source)
	if err != nil {
		log.Debug().Err(err).Str("rule_id", rule.ID).Str("pattern", rule.Source).Msg("Regex rule does not compile, treating as non-matching")
		re = nil
	}

	m.patterns.Set(rule.ID, compiledPattern{source: rule.Source, re: re})
	return re
}

// Invalidate drops the cached pattern for a rule
func (m *Matcher) Invalidate(id string) {
	m.patterns.Invalidate(id)
}

// BrokenPatterns returns the ids of enabled regex rules whose source fails to compile
func (m *Matcher) BrokenPatterns(rules []domain.Rule) []string {
	var broken []string
	for i := range rules {
		rule := &rules[i]
		if !rule.IsEnabled || !rule.IsRegex {
			continue
		}
		if m.compiled(rule) == nil {
			broken = append(broken, rule.ID)
		}
	}
	return broken
}

// RegexEnabled reports whether regex rules are allowed to match
func (m *Matcher) RegexEnabled() bool {
	return m.enableRegex
}

// CacheStats returns compiled pattern cache statistics
func (m *Matcher) CacheStats() domain.CacheStats {
	return m.patterns.Stats()
}

// HealthCheck performs a health check on the matcher
func (m *Matcher) HealthCheck(ctx context.Context) domain.HealthStatus {
	cacheHealth := m.patterns.HealthCheck(ctx)

	status := domain.HealthStatusHealthy
	message := "Matcher is operating normally"
	details := map[string]any{
		"regex_enabled":       m.enableRegex,
		"pattern_cache_size":  cacheHealth.Details["size"],
		"pattern_cache_ratio": cacheHealth.Details["hit_ratio"],
	}

	if cacheHealth.Status != domain.HealthStatusHealthy {
		status = domain.HealthStatusDegraded
		message = "Pattern cache issues detected"
		details["cache_status"] = cacheHealth.Status
		details["cache_message"] = cacheHealth.Message
	}

	return domain.HealthStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// GetStats returns matcher statistics
func (m *Matcher) GetStats(ctx context.Context) map[string]any {
	stats := m.patterns.Stats()
	return map[string]any{
		"regex_enabled":           m.enableRegex,
		"pattern_cache_hits":      stats.Hits,
		"pattern_cache_misses":    stats.Misses,
		"pattern_cache_size":      stats.Size,
		"pattern_cache_max_size":  stats.MaxSize,
		"pattern_cache_hit_ratio": stats.HitRatio,
		"pattern_cache_evictions": m.patterns.Evictions(),
	}
}
