package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/engine"
	"github.com/freewebtopdf/redirect-resolver/internal/storage"
)

func newChecker(t *testing.T, store *storage.Store, drafts ...domain.RuleDraft) *SystemHealthChecker {
	t.Helper()
	e := engine.New(store, engine.DefaultConfig())
	for _, d := range drafts {
		_, err := e.AddRule(d)
		require.NoError(t, err)
	}
	return NewSystemHealthChecker(e.Store(), e.Matcher(), e).WithCacheTTL(0)
}

func draft(source, destination string, regex bool) domain.RuleDraft {
	return domain.RuleDraft{Source: source, Destination: destination, Type: domain.RedirectPermanent, IsRegex: regex, IsEnabled: true}
}

func TestCheckHealth_Healthy(t *testing.T) {
	h := newChecker(t, storage.NewStore(), draft("/a", "/b", false))

	result := h.CheckHealth(context.Background())

	assert.Equal(t, domain.HealthStatusHealthy, result.Status)
	assert.Contains(t, result.Components, "storage")
	assert.Contains(t, result.Components, "matcher")
	assert.Contains(t, result.Components, "rules")
	assert.Contains(t, result.Metrics, "storage")
	assert.Contains(t, result.Metrics, "matcher")
	assert.True(t, h.IsHealthy(context.Background()))
}

func TestCheckHealth_LoopDegrades(t *testing.T) {
	h := newChecker(t, storage.NewStore(), draft("/a", "/a", false))

	result := h.CheckHealth(context.Background())

	assert.Equal(t, domain.HealthStatusDegraded, result.Status)
	rules := result.Components["rules"]
	assert.Equal(t, domain.HealthStatusDegraded, rules.Status)
	assert.Equal(t, 1, rules.Details["loops"])
}

func TestCheckHealth_BrokenPatternDegrades(t *testing.T) {
	h := newChecker(t, storage.NewStore(), draft("^/(unclosed", "/b", true))

	rules := h.CheckComponent(context.Background(), "rules")

	assert.Equal(t, domain.HealthStatusDegraded, rules.Status)
	assert.Equal(t, 1, rules.Details["broken_patterns"])
	assert.Len(t, rules.Details["broken_pattern_ids"], 1)
}

type failingPersister struct{}

func (failingPersister) Load(ctx context.Context) ([]domain.Rule, error) { return nil, nil }
func (failingPersister) Save(ctx context.Context, s *domain.Snapshot) error {
	return errors.New("disk full")
}
func (failingPersister) Location() string { return "memory://failing" }

func TestCheckHealth_StorageFailureDegrades(t *testing.T) {
	store := storage.NewStoreWithConfig(storage.StoreConfig{Persister: failingPersister{}})
	h := newChecker(t, store, draft("/a", "/b", false))

	result := h.CheckHealth(context.Background())

	assert.Equal(t, domain.HealthStatusDegraded, result.Status)
	assert.Equal(t, domain.HealthStatusDegraded, result.Components["storage"].Status)
}

func TestCheckHealth_Cached(t *testing.T) {
	e := engine.New(storage.NewStore(), engine.DefaultConfig())
	h := NewSystemHealthChecker(e.Store(), e.Matcher(), e).WithCacheTTL(time.Hour)

	first := h.CheckHealth(context.Background())
	_, err := e.AddRule(draft("/a", "/b", false))
	require.NoError(t, err)
	_, err = e.AddRule(draft("/b", "/a", false))
	require.NoError(t, err)

	second := h.CheckHealth(context.Background())
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, domain.HealthStatusHealthy, second.Status)
}

func TestCheckComponent_Unknown(t *testing.T) {
	h := newChecker(t, storage.NewStore())

	status := h.CheckComponent(context.Background(), "cache")
	assert.Equal(t, domain.HealthStatusUnhealthy, status.Status)
}

func TestGetDetailedHealth(t *testing.T) {
	h := newChecker(t, storage.NewStore())

	detailed := h.GetDetailedHealth(context.Background())
	assert.Equal(t, domain.HealthStatusHealthy, detailed["overall_status"])
	assert.Contains(t, detailed, "diagnostics")
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, domain.HealthStatusDegraded, aggregateStatus(domain.HealthStatusHealthy, domain.HealthStatusDegraded))
	assert.Equal(t, domain.HealthStatusUnhealthy, aggregateStatus(domain.HealthStatusDegraded, domain.HealthStatusUnhealthy))
	assert.Equal(t, domain.HealthStatusUnhealthy, aggregateStatus(domain.HealthStatusUnhealthy, domain.HealthStatusHealthy))
}
