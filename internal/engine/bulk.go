package engine

import (
	"slices"

	"github.com/rs/zerolog/log"
)

// BulkSetEnabled enables or disables every listed rule in one change and
// returns how many of the ids exist
func (e *Engine) BulkSetEnabled(ids []string, enabled bool) int {
	if len(ids) == 0 {
		return 0
	}

	found := e.store.SetEnabled(ids, enabled)
	e.refreshRuleGauge()

	log.Info().Int("requested", len(ids)).Int("found", found).Bool("enabled", enabled).Msg("Bulk enable applied")
	return found
}

// BulkDelete removes every listed rule in one change and returns how many were removed
func (e *Engine) BulkDelete(ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	removed := e.store.DeleteMany(ids)
	e.discard(ids)
	e.refreshRuleGauge()

	log.Info().Int("requested", len(ids)).Int("removed", removed).Msg("Bulk delete applied")
	return removed
}

// Select adds existing rules to the selection and returns how many were added
func (e *Engine) Select(ids ...string) int {
	snap := e.store.Snapshot()

	e.selMu.Lock()
	defer e.selMu.Unlock()

	added := 0
	for _, id := range ids {
		if _, ok := snap.Find(id); !ok {
			continue
		}
		if _, ok := e.selection[id]; !ok {
			e.selection[id] = struct{}{}
			added++
		}
	}
	return added
}

// Deselect removes ids from the selection
func (e *Engine) Deselect(ids ...string) {
	e.forget(ids)
}

// ClearSelection empties the selection
func (e *Engine) ClearSelection() {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	clear(e.selection)
}

// Selected returns the selected rule ids in evaluation order. Ids of rules
// that no longer exist are dropped.
func (e *Engine) Selected() []string {
	snap := e.store.Snapshot()

	e.selMu.Lock()
	defer e.selMu.Unlock()

	out := make([]string, 0, len(e.selection))
	for _, rule := range snap.Rules {
		if _, ok := e.selection[rule.ID]; ok {
			out = append(out, rule.ID)
		}
	}
	for id := range e.selection {
		if !slices.Contains(out, id) {
			delete(e.selection, id)
		}
	}
	return out
}

// SetSelectedEnabled applies BulkSetEnabled to the selection
func (e *Engine) SetSelectedEnabled(enabled bool) int {
	return e.BulkSetEnabled(e.Selected(), enabled)
}

// DeleteSelected applies BulkDelete to the selection
func (e *Engine) DeleteSelected() int {
	return e.BulkDelete(e.Selected())
}

// discard drops deleted rules from the selection and the pattern cache
func (e *Engine) discard(ids []string) {
	for _, id := range ids {
		e.matcher.Invalidate(id)
	}
	e.forget(ids)
}

func (e *Engine) forget(ids []string) {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	for _, id := range ids {
		delete(e.selection, id)
	}
}
