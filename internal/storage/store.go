package storage

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// Persister saves and restores whole rule snapshots
type Persister interface {
	Load(ctx context.Context) ([]domain.Rule, error)
	Save(ctx context.Context, snapshot *domain.Snapshot) error
	Location() string
}

// StoreConfig holds configuration for the Store
type StoreConfig struct {
	// Persister is optional; a nil persister keeps rules in memory only
	Persister Persister
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Store implements domain.RuleRepository as a copy-on-write ordered rule list.
// Readers load the current snapshot without locking; writers serialize on mu
// and publish a fresh snapshot for every change.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[domain.Snapshot]
	issued  map[string]struct{}

	persister Persister
	now       func() time.Time
	// dirty is set when the published snapshot has not been saved
	dirty bool

	lastSaveErr atomic.Pointer[string]
}

// NewStore creates an in-memory Store
func NewStore() *Store {
	return NewStoreWithConfig(StoreConfig{})
}

// NewStoreWithConfig creates a new Store with full configuration
func NewStoreWithConfig(config StoreConfig) *Store {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		issued:    make(map[string]struct{}),
		persister: config.Persister,
		now:       now,
	}
	s.current.Store(&domain.Snapshot{Rules: []domain.Rule{}})
	return s
}

// Load replaces the rule set with the persisted one, if a persister is configured
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return domain.NewAppErrorWithCause(
			domain.ErrInternal,
			"Load cancelled",
			500,
			ctx.Err(),
			map[string]any{"operation": "load"},
		)
	default:
	}

	rules, err := s.persister.Load(ctx)
	if err != nil {
		return domain.NewAppErrorWithCause(
			domain.ErrInternal,
			"Failed to load persisted rules",
			500,
			err,
			map[string]any{"location": s.persister.Location()},
		).WithContext(ctx, "load")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := make([]domain.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = s.newID()
		}
		if _, dup := s.issued[rule.ID]; dup {
			log.Warn().Str("rule_id", rule.ID).Msg("Skipping persisted rule with duplicate id")
			continue
		}
		s.issued[rule.ID] = struct{}{}
		loaded = append(loaded, rule)
	}

	cur := s.current.Load()
	s.current.Store(&domain.Snapshot{Version: cur.Version + 1, Rules: loaded})

	log.Info().Int("rules", len(loaded)).Str("location", s.persister.Location()).Msg("Loaded persisted redirect rules")
	return nil
}

// Snapshot returns the current immutable rule snapshot
func (s *Store) Snapshot() *domain.Snapshot {
	return s.current.Load()
}

// GetAllRules returns a copy of all rules in store order
func (s *Store) GetAllRules() []domain.Rule {
	return slices.Clone(s.current.Load().Rules)
}

// GetRuleByID retrieves a rule by its ID
func (s *Store) GetRuleByID(id string) (domain.Rule, bool) {
	return s.current.Load().Find(id)
}

// Add assigns identity and timestamps to draft and appends it
func (s *Store) Add(draft domain.RuleDraft) domain.Rule {
	return s.AddMany([]domain.RuleDraft{draft})[0]
}

// AddMany appends a batch of drafts under a single published snapshot
func (s *Store) AddMany(drafts []domain.RuleDraft) []domain.Rule {
	if len(drafts) == 0 {
		return []domain.Rule{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	added := make([]domain.Rule, len(drafts))
	for i, draft := range drafts {
		id := s.newID()
		s.issued[id] = struct{}{}
		added[i] = domain.Rule{
			ID:          id,
			Source:      draft.Source,
			Destination: draft.Destination,
			Type:        draft.Type,
			IsRegex:     draft.IsRegex,
			IsEnabled:   draft.IsEnabled,
			Hits:        0,
			CreatedAt:   now,
			UpdatedAt:   now,
			Notes:       draft.Notes,
		}
	}

	cur := s.current.Load()
	next := make([]domain.Rule, 0, len(cur.Rules)+len(added))
	next = append(next, cur.Rules...)
	next = append(next, added...)
	s.publish(next)

	return slices.Clone(added)
}

// Update merges patch into the rule with the given id and refreshes UpdatedAt.
// An unknown id is a no-op.
func (s *Store) Update(id string, patch domain.RulePatch) (domain.Rule, bool) {
	var updated domain.Rule
	ok := s.mutate(func(rules []domain.Rule) bool {
		i := indexOf(rules, id)
		if i < 0 {
			return false
		}
		patch.Apply(&rules[i])
		rules[i].UpdatedAt = s.now()
		updated = rules[i]
		return true
	})
	if !ok {
		log.Warn().Str("rule_id", id).Msg("Update ignored for unknown rule")
	}
	return updated, ok
}

// Delete removes the rule with the given id
func (s *Store) Delete(id string) bool {
	return s.DeleteMany([]string{id}) == 1
}

// DeleteMany removes every listed rule that exists and returns how many were removed
func (s *Store) DeleteMany(ids []string) int {
	drop := toSet(ids)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := make([]domain.Rule, 0, len(cur.Rules))
	for _, rule := range cur.Rules {
		if _, ok := drop[rule.ID]; ok {
			removed++
			continue
		}
		next = append(next, rule)
	}

	if removed > 0 {
		s.publish(next)
	}
	return removed
}

// Toggle flips IsEnabled on the rule with the given id
func (s *Store) Toggle(id string) (domain.Rule, bool) {
	var toggled domain.Rule
	ok := s.mutate(func(rules []domain.Rule) bool {
		i := indexOf(rules, id)
		if i < 0 {
			return false
		}
		rules[i].IsEnabled = !rules[i].IsEnabled
		rules[i].UpdatedAt = s.now()
		toggled = rules[i]
		return true
	})
	return toggled, ok
}

// SetEnabled sets IsEnabled on every listed rule and returns how many rules exist.
// Rules already in the requested state keep their UpdatedAt.
func (s *Store) SetEnabled(ids []string, enabled bool) int {
	want := toSet(ids)
	found := 0

	s.mutate(func(rules []domain.Rule) bool {
		changed := false
		now := s.now()
		for i := range rules {
			if _, ok := want[rules[i].ID]; !ok {
				continue
			}
			found++
			if rules[i].IsEnabled != enabled {
				rules[i].IsEnabled = enabled
				rules[i].UpdatedAt = now
				changed = true
			}
		}
		return changed
	})
	return found
}

// Move relocates a rule to index, clamped to the valid range. This is the
// only operation that changes evaluation order.
func (s *Store) Move(id string, index int) bool {
	return s.mutate(func(rules []domain.Rule) bool {
		from := indexOf(rules, id)
		if from < 0 {
			return false
		}
		to := min(max(index, 0), len(rules)-1)
		if from == to {
			return true
		}
		rule := rules[from]
		rule.UpdatedAt = s.now()
		// Delete then Insert stays within the same backing array
		reordered := slices.Insert(slices.Delete(rules, from, from+1), to, rule)
		copy(rules, reordered)
		return true
	})
}

// RecordHit increments the usage counter of a rule. It does not touch
// UpdatedAt and is not persisted on its own: counters reach disk with the
// next structural change or an explicit Flush.
func (s *Store) RecordHit(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	i := indexOf(cur.Rules, id)
	if i < 0 {
		return false
	}
	next := slices.Clone(cur.Rules)
	next[i].Hits++
	s.current.Store(&domain.Snapshot{Version: cur.Version + 1, Rules: next})
	s.dirty = true
	return true
}

// Flush persists the current snapshot if anything changed since the last save
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	return s.save(ctx, s.current.Load())
}

// mutate runs fn against a private copy of the rules and publishes it when fn reports a change
func (s *Store) mutate(fn func(rules []domain.Rule) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.current.Load().Rules)
	if !fn(next) {
		return false
	}
	s.publish(next)
	return true
}

// publish must be called with mu held
func (s *Store) publish(rules []domain.Rule) {
	cur := s.current.Load()
	snap := &domain.Snapshot{Version: cur.Version + 1, Rules: rules}
	s.current.Store(snap)

	if s.persister == nil {
		return
	}
	_ = s.save(context.Background(), snap)
}

// save must be called with mu held
func (s *Store) save(ctx context.Context, snap *domain.Snapshot) error {
	if err := s.persister.Save(ctx, snap); err != nil {
		msg := err.Error()
		s.lastSaveErr.Store(&msg)
		s.dirty = true
		log.Error().Err(err).Uint64("version", snap.Version).Str("location", s.persister.Location()).Msg("Failed to persist rule snapshot")
		return err
	}
	s.lastSaveErr.Store(nil)
	s.dirty = false
	return nil
}

// newID must be called with mu held
func (s *Store) newID() string {
	for {
		id := uuid.New().String()
		if _, taken := s.issued[id]; !taken {
			return id
		}
	}
}

func indexOf(rules []domain.Rule, id string) int {
	return slices.IndexFunc(rules, func(r domain.Rule) bool { return r.ID == id })
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// HealthCheck performs a health check on the storage system
func (s *Store) HealthCheck(ctx context.Context) domain.HealthStatus {
	snap := s.current.Load()

	status := domain.HealthStatusHealthy
	message := "Storage is operating normally"
	details := map[string]any{
		"rule_count":       len(snap.Rules),
		"snapshot_version": snap.Version,
		"persistent":       s.persister != nil,
	}

	if s.persister != nil {
		details["location"] = s.persister.Location()
		if lastErr := s.lastSaveErr.Load(); lastErr != nil {
			status = domain.HealthStatusDegraded
			message = "Last snapshot could not be persisted"
			details["error"] = *lastErr
		}
	}

	return domain.HealthStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// GetStats returns storage statistics
func (s *Store) GetStats(ctx context.Context) map[string]any {
	snap := s.current.Load()

	enabled, regex := 0, 0
	typeCount := make(map[string]int)
	var hits int64
	for _, rule := range snap.Rules {
		if rule.IsEnabled {
			enabled++
		}
		if rule.IsRegex {
			regex++
		}
		typeCount[string(rule.Type)]++
		hits += rule.Hits
	}

	return map[string]any{
		"rule_count":       len(snap.Rules),
		"enabled_rules":    enabled,
		"disabled_rules":   len(snap.Rules) - enabled,
		"regex_rules":      regex,
		"rule_types":       typeCount,
		"total_hits":       hits,
		"snapshot_version": snap.Version,
	}
}
