package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(source, destination string) domain.RuleDraft {
	return domain.RuleDraft{
		Source:      source,
		Destination: destination,
		Type:        domain.RedirectPermanent,
		IsEnabled:   true,
	}
}

// fakeClock returns a strictly increasing time on every call
func fakeClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func ids(rules []domain.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestStore_AddAssignsIdentity(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Now: fakeClock()})

	rule := store.Add(draft("/old", "/new"))

	_, err := uuid.Parse(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rule.Hits)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)
	assert.Equal(t, "/old", rule.Source)
	assert.Equal(t, "/new", rule.Destination)

	got, ok := store.GetRuleByID(rule.ID)
	require.True(t, ok)
	assert.Equal(t, rule, got)
}

func TestStore_PreservesInsertionOrder(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/x"))
	b := store.Add(draft("/b", "/x"))
	c := store.Add(draft("/c", "/x"))

	store.Update(b.ID, domain.RulePatch{Notes: ptr("edited")})
	store.Toggle(a.ID)

	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(store.GetAllRules()))
}

func TestStore_Update(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Now: fakeClock()})
	rule := store.Add(draft("/old", "/new"))

	updated, ok := store.Update(rule.ID, domain.RulePatch{
		Destination: ptr("/newer"),
		IsRegex:     ptr(true),
	})
	require.True(t, ok)

	assert.Equal(t, "/old", updated.Source)
	assert.Equal(t, "/newer", updated.Destination)
	assert.True(t, updated.IsRegex)
	assert.Equal(t, rule.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(rule.UpdatedAt))
	assert.Equal(t, rule.ID, updated.ID)
}

func TestStore_UnknownIDIsNoOp(t *testing.T) {
	store := NewStore()
	store.Add(draft("/a", "/b"))
	before := store.Snapshot()

	_, ok := store.Update("missing", domain.RulePatch{Source: ptr("/x")})
	assert.False(t, ok)
	assert.False(t, store.Delete("missing"))
	_, ok = store.Toggle("missing")
	assert.False(t, ok)
	assert.False(t, store.Move("missing", 0))
	assert.False(t, store.RecordHit("missing"))
	assert.Equal(t, 0, store.DeleteMany([]string{"missing", "other"}))
	assert.Equal(t, 0, store.SetEnabled([]string{"missing"}, false))

	assert.Same(t, before, store.Snapshot())
}

func TestStore_DeleteMany(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/x"))
	b := store.Add(draft("/b", "/x"))
	c := store.Add(draft("/c", "/x"))

	removed := store.DeleteMany([]string{a.ID, c.ID, "missing"})
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{b.ID}, ids(store.GetAllRules()))

	assert.True(t, store.Delete(b.ID))
	assert.Empty(t, store.GetAllRules())
}

func TestStore_Toggle(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Now: fakeClock()})
	rule := store.Add(draft("/a", "/b"))

	toggled, ok := store.Toggle(rule.ID)
	require.True(t, ok)
	assert.False(t, toggled.IsEnabled)
	assert.True(t, toggled.UpdatedAt.After(rule.UpdatedAt))

	toggled, _ = store.Toggle(rule.ID)
	assert.True(t, toggled.IsEnabled)
}

func TestStore_SetEnabled(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/x"))
	b := store.Add(draft("/b", "/x"))
	c := store.Add(draft("/c", "/x"))

	found := store.SetEnabled([]string{a.ID, b.ID, "missing"}, false)
	assert.Equal(t, 2, found)

	snap := store.Snapshot()
	assert.Equal(t, []string{c.ID}, ids(snap.Enabled()))
}

func TestStore_Move(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/x"))
	b := store.Add(draft("/b", "/x"))
	c := store.Add(draft("/c", "/x"))

	require.True(t, store.Move(c.ID, 0))
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(store.GetAllRules()))

	require.True(t, store.Move(c.ID, 99))
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(store.GetAllRules()))

	require.True(t, store.Move(a.ID, -5))
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(store.GetAllRules()))

	require.True(t, store.Move(a.ID, 1))
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, ids(store.GetAllRules()))
}

func TestStore_RecordHitKeepsUpdatedAt(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Now: fakeClock()})
	rule := store.Add(draft("/a", "/b"))

	require.True(t, store.RecordHit(rule.ID))
	require.True(t, store.RecordHit(rule.ID))

	got, _ := store.GetRuleByID(rule.ID)
	assert.Equal(t, int64(2), got.Hits)
	assert.Equal(t, rule.UpdatedAt, got.UpdatedAt)
}

func TestStore_SnapshotsAreImmutable(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/x"))

	old := store.Snapshot()
	store.Update(a.ID, domain.RulePatch{Destination: ptr("/y")})
	store.Add(draft("/b", "/x"))
	store.Delete(a.ID)

	require.Len(t, old.Rules, 1)
	assert.Equal(t, "/x", old.Rules[0].Destination)
	assert.Greater(t, store.Snapshot().Version, old.Version)
}

func TestStore_AddManyPublishesOnce(t *testing.T) {
	store := NewStore()
	before := store.Snapshot().Version

	added := store.AddMany([]domain.RuleDraft{draft("/a", "/b"), draft("/c", "/d")})

	assert.Len(t, added, 2)
	assert.Equal(t, before+1, store.Snapshot().Version)
	assert.Empty(t, store.AddMany(nil))
	assert.Equal(t, before+1, store.Snapshot().Version)
}

func TestStore_ConcurrentAddProducesUniqueIDs(t *testing.T) {
	store := NewStore()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				store.Add(draft("/a", "/b"))
			}
		}()
	}
	wg.Wait()

	rules := store.GetAllRules()
	require.Len(t, rules, workers*perWorker)

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		_, dup := seen[r.ID]
		require.False(t, dup, "duplicate id %s", r.ID)
		seen[r.ID] = struct{}{}
	}
}

func TestStore_ReadersNeverSeePartialWrites(t *testing.T) {
	store := NewStore()
	for i := 0; i < 10; i++ {
		store.Add(draft("/a", "/b"))
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			all := ids(store.GetAllRules())
			store.SetEnabled(all, false)
			store.SetEnabled(all, true)
		}
	}()

	for i := 0; i < 500; i++ {
		snap := store.Snapshot()
		enabled := len(snap.Enabled())
		// SetEnabled flips the whole set in one publish
		assert.True(t, enabled == 0 || enabled == 10, "observed %d enabled rules", enabled)
	}
	close(done)
	wg.Wait()
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redirects.yaml")
	ctx := context.Background()

	store1 := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	require.NoError(t, store1.Load(ctx))

	a := store1.Add(draft("/a", "/b"))
	b := store1.Add(domain.RuleDraft{Source: `^/blog/\d+$`, Destination: "/news", Type: domain.RedirectFound, IsRegex: true, Notes: "legacy blog"})
	store1.RecordHit(a.ID)
	require.NoError(t, store1.Flush(ctx))

	store2 := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	require.NoError(t, store2.Load(ctx))

	rules := store2.GetAllRules()
	require.Len(t, rules, 2)
	assert.Equal(t, []string{a.ID, b.ID}, ids(rules))
	assert.Equal(t, int64(1), rules[0].Hits)
	assert.Equal(t, domain.RedirectFound, rules[1].Type)
	assert.True(t, rules[1].IsRegex)
	assert.False(t, rules[1].IsEnabled)
	assert.Equal(t, "legacy blog", rules[1].Notes)
	assert.True(t, a.CreatedAt.Equal(rules[0].CreatedAt))
}

func TestStore_HitsPersistOnFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redirects.yaml")
	ctx := context.Background()

	store1 := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	rule := store1.Add(draft("/a", "/b"))
	store1.RecordHit(rule.ID)

	reload := func() domain.Rule {
		store := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
		require.NoError(t, store.Load(ctx))
		got, ok := store.GetRuleByID(rule.ID)
		require.True(t, ok)
		return got
	}

	assert.Equal(t, int64(0), reload().Hits)

	require.NoError(t, store1.Flush(ctx))
	assert.Equal(t, int64(1), reload().Hits)

	// Nothing left to write
	require.NoError(t, store1.Flush(ctx))
	assert.NoError(t, NewStore().Flush(ctx))
}

func TestStore_PersistenceJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redirects.json")
	ctx := context.Background()

	store1 := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	rule := store1.Add(draft("/a", "/b"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source": "/a"`)

	store2 := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	require.NoError(t, store2.Load(ctx))
	got, ok := store2.GetRuleByID(rule.ID)
	require.True(t, ok)
	assert.Equal(t, "/b", got.Destination)
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(filepath.Join(t.TempDir(), "none.yaml"))})
	require.NoError(t, store.Load(context.Background()))
	assert.Empty(t, store.GetAllRules())
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redirects.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: [::"), 0644))

	store := NewStoreWithConfig(StoreConfig{Persister: NewFilePersister(path)})
	err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrInternal)
}

type failingPersister struct{}

func (failingPersister) Load(ctx context.Context) ([]domain.Rule, error) { return nil, nil }
func (failingPersister) Save(ctx context.Context, s *domain.Snapshot) error {
	return errors.New("disk full")
}
func (failingPersister) Location() string { return "memory://failing" }

func TestStore_SaveFailureDegradesHealth(t *testing.T) {
	store := NewStoreWithConfig(StoreConfig{Persister: failingPersister{}})
	rule := store.Add(draft("/a", "/b"))

	// The in-memory state is kept even when persisting fails
	_, ok := store.GetRuleByID(rule.ID)
	assert.True(t, ok)

	health := store.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, health.Status)
	assert.Equal(t, "disk full", health.Details["error"])
}

func TestStore_Stats(t *testing.T) {
	store := NewStore()
	a := store.Add(draft("/a", "/b"))
	store.Add(domain.RuleDraft{Source: ".*", Destination: "/c", Type: domain.RedirectTemporary, IsRegex: true, IsEnabled: false})
	store.RecordHit(a.ID)

	stats := store.GetStats(context.Background())
	assert.Equal(t, 2, stats["rule_count"])
	assert.Equal(t, 1, stats["enabled_rules"])
	assert.Equal(t, 1, stats["disabled_rules"])
	assert.Equal(t, 1, stats["regex_rules"])
	assert.Equal(t, int64(1), stats["total_hits"])
}

// Feature: github.com/freewebtopdf/redirect-resolver, Property: order survives unrelated mutations
func TestProperty_DeletePreservesRelativeOrder(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("deleting any subset keeps the remaining rules in insertion order", prop.ForAll(
		func(n int, mask []bool) bool {
			store := NewStore()
			var all []string
			for i := 0; i < n; i++ {
				all = append(all, store.Add(draft("/p", "/q")).ID)
			}

			var drop, keep []string
			for i, id := range all {
				if i < len(mask) && mask[i] {
					drop = append(drop, id)
				} else {
					keep = append(keep, id)
				}
			}

			store.DeleteMany(drop)
			got := ids(store.GetAllRules())
			if len(got) != len(keep) {
				return false
			}
			for i := range got {
				if got[i] != keep[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func ptr[T any](v T) *T {
	return &v
}
