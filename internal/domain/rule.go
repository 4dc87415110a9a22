package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// RedirectType is the HTTP status code carried by a redirect rule
type RedirectType string

const (
	RedirectPermanent         RedirectType = "301"
	RedirectFound             RedirectType = "302"
	RedirectTemporary         RedirectType = "307"
	RedirectPermanentRedirect RedirectType = "308"
)

// RedirectTypes lists every accepted redirect type in ascending order
var RedirectTypes = []RedirectType{RedirectPermanent, RedirectFound, RedirectTemporary, RedirectPermanentRedirect}

// IsValid reports whether t is one of the supported status codes
func (t RedirectType) IsValid() bool {
	return slices.Contains(RedirectTypes, t)
}

// StatusCode returns the numeric HTTP status for the type, 301 for unknown values
func (t RedirectType) StatusCode() int {
	switch t {
	case RedirectFound:
		return 302
	case RedirectTemporary:
		return 307
	case RedirectPermanentRedirect:
		return 308
	default:
		return 301
	}
}

// UnmarshalJSON accepts the type either as a string ("301") or a bare number (301)
func (t *RedirectType) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = RedirectType(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("redirect type must be a string or integer: %w", err)
	}
	*t = RedirectType(fmt.Sprint(n))
	return nil
}

// Rule represents a source to destination redirect mapping
type Rule struct {
	ID          string       `json:"id" yaml:"id"`
	Source      string       `json:"source" yaml:"source"`
	Destination string       `json:"destination" yaml:"destination"`
	Type        RedirectType `json:"type" yaml:"type"`
	IsRegex     bool         `json:"is_regex" yaml:"is_regex"`
	IsEnabled   bool         `json:"is_enabled" yaml:"is_enabled"`
	Hits        int64        `json:"hits" yaml:"hits"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"updated_at"`
	Notes       string       `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// RuleDraft carries the caller-supplied fields of a rule before the store
// assigns identity, counters and timestamps
type RuleDraft struct {
	Source      string       `json:"source" yaml:"source" validate:"required,max=2048"`
	Destination string       `json:"destination" yaml:"destination" validate:"required,max=2048"`
	Type        RedirectType `json:"type" yaml:"type" validate:"redirect_type"`
	IsRegex     bool         `json:"is_regex" yaml:"is_regex"`
	IsEnabled   bool         `json:"is_enabled" yaml:"is_enabled"`
	Notes       string       `json:"notes,omitempty" yaml:"notes,omitempty" validate:"max=4096"`
}

// RulePatch is a partial update; nil fields are left untouched
type RulePatch struct {
	Source      *string       `json:"source,omitempty" validate:"omitempty,min=1,max=2048"`
	Destination *string       `json:"destination,omitempty" validate:"omitempty,min=1,max=2048"`
	Type        *RedirectType `json:"type,omitempty" validate:"omitempty,redirect_type"`
	IsRegex     *bool         `json:"is_regex,omitempty"`
	IsEnabled   *bool         `json:"is_enabled,omitempty"`
	Notes       *string       `json:"notes,omitempty" validate:"omitempty,max=4096"`
}

// Apply merges the patch into r. It does not touch timestamps.
func (p RulePatch) Apply(r *Rule) {
	if p.Source != nil {
		r.Source = *p.Source
	}
	if p.Destination != nil {
		r.Destination = *p.Destination
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.IsRegex != nil {
		r.IsRegex = *p.IsRegex
	}
	if p.IsEnabled != nil {
		r.IsEnabled = *p.IsEnabled
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}

// TouchesSource reports whether applying the patch can change how the rule matches
func (p RulePatch) TouchesSource() bool {
	return p.Source != nil || p.IsRegex != nil
}

// Snapshot is an immutable, ordered view of the rule set. Callers must not
// modify Rules; the store publishes a fresh snapshot for every mutation.
type Snapshot struct {
	Version uint64
	Rules   []Rule
}

// Enabled returns the enabled rules in store order
func (s *Snapshot) Enabled() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.IsEnabled {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the rule with the given id
func (s *Snapshot) Find(id string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// ResolutionStatus classifies the outcome of a single resolution
type ResolutionStatus string

const (
	StatusSuccess ResolutionStatus = "success"
	StatusChain   ResolutionStatus = "chain"
	StatusNoMatch ResolutionStatus = "no-match"
	StatusLoop    ResolutionStatus = "loop"
)

// Chain is the sequence of rules traversed from one start path
type Chain struct {
	Redirects        []Rule `json:"redirects"`
	FinalDestination string `json:"final_destination,omitempty"`
	ChainLength      int    `json:"chain_length"`
}

// FirstRuleID returns the id of the first hop, or "" for an empty chain
func (c *Chain) FirstRuleID() string {
	if c == nil || len(c.Redirects) == 0 {
		return ""
	}
	return c.Redirects[0].ID
}

// ResolutionResult is the outcome of following redirects from Source
type ResolutionResult struct {
	Source           string           `json:"source"`
	MatchedRedirect  *Rule            `json:"matched_redirect"`
	FinalDestination string           `json:"final_destination,omitempty"`
	Status           ResolutionStatus `json:"status"`
	Chain            *Chain           `json:"chain,omitempty"`
}

// Redirects reports whether the result carries a destination to send the client to
func (r ResolutionResult) Redirects() bool {
	return r.Status == StatusSuccess || r.Status == StatusChain
}

// CacheStats represents cache performance metrics
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Size     int     `json:"size"`
	MaxSize  int     `json:"max_size"`
	HitRatio float64 `json:"hit_ratio"`
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string         `json:"status"` // "healthy", "unhealthy", "degraded"
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Health status constants
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusDegraded  = "degraded"
)

// SystemHealth represents overall system health
type SystemHealth struct {
	Status     string                  `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Components map[string]HealthStatus `json:"components"`
	Metrics    map[string]any          `json:"metrics,omitempty"`
	Uptime     time.Duration           `json:"uptime"`
}
