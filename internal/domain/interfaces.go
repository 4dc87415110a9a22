package domain

import "context"

// SnapshotSource hands out the current immutable rule snapshot
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// RuleRepository defines the contract for rule storage operations
type RuleRepository interface {
	SnapshotSource

	Add(draft RuleDraft) Rule
	AddMany(drafts []RuleDraft) []Rule
	Update(id string, patch RulePatch) (Rule, bool)
	Delete(id string) bool
	DeleteMany(ids []string) int
	Toggle(id string) (Rule, bool)
	SetEnabled(ids []string, enabled bool) int
	Move(id string, index int) bool
	RecordHit(id string) bool
	Flush(ctx context.Context) error

	// Health and monitoring
	HealthCheck(ctx context.Context) HealthStatus
	GetStats(ctx context.Context) map[string]any
}

// PatternMatcher decides whether a single rule matches a path
type PatternMatcher interface {
	Matches(rule *Rule, path string) bool
	Invalidate(id string)

	// Health and monitoring
	HealthCheck(ctx context.Context) HealthStatus
	GetStats(ctx context.Context) map[string]any
}

// Resolver follows redirect chains from a start path
type Resolver interface {
	Resolve(path string) ResolutionResult
	ResolveIn(snapshot *Snapshot, path string) ResolutionResult
	MaxChainLength() int
}

// HealthChecker defines the interface for system health monitoring
type HealthChecker interface {
	CheckHealth(ctx context.Context) SystemHealth
	CheckComponent(ctx context.Context, component string) HealthStatus
}

// Validator defines the interface for input validation
type Validator interface {
	ValidateDraft(draft *RuleDraft) error
	ValidatePatch(patch *RulePatch) error
	ValidatePath(path string) error
}
