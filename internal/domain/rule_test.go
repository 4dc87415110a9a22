package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectType(t *testing.T) {
	tests := []struct {
		typ    RedirectType
		valid  bool
		status int
	}{
		{RedirectPermanent, true, 301},
		{RedirectFound, true, 302},
		{RedirectTemporary, true, 307},
		{RedirectPermanentRedirect, true, 308},
		{"303", false, 301},
		{"", false, 301},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.typ.IsValid())
			assert.Equal(t, tt.status, tt.typ.StatusCode())
		})
	}
}

func TestRedirectType_UnmarshalJSON(t *testing.T) {
	var got struct {
		Type RedirectType `json:"type"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"type":"302"}`), &got))
	assert.Equal(t, RedirectFound, got.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"type":307}`), &got))
	assert.Equal(t, RedirectTemporary, got.Type)

	assert.Error(t, json.Unmarshal([]byte(`{"type":true}`), &got))
}

func TestRulePatch_Apply(t *testing.T) {
	rule := Rule{ID: "id", Source: "/a", Destination: "/b", Type: RedirectPermanent, IsEnabled: true, Notes: "keep"}
	dest := "/c"
	typ := RedirectFound
	regex := true

	patch := RulePatch{Destination: &dest, Type: &typ, IsRegex: &regex}
	patch.Apply(&rule)

	assert.Equal(t, "id", rule.ID)
	assert.Equal(t, "/a", rule.Source)
	assert.Equal(t, "/c", rule.Destination)
	assert.Equal(t, RedirectFound, rule.Type)
	assert.True(t, rule.IsRegex)
	assert.True(t, rule.IsEnabled)
	assert.Equal(t, "keep", rule.Notes)
	assert.True(t, patch.TouchesSource())
	assert.False(t, RulePatch{Destination: &dest}.TouchesSource())
}

func TestSnapshot(t *testing.T) {
	snap := &Snapshot{Rules: []Rule{
		{ID: "1", IsEnabled: true},
		{ID: "2", IsEnabled: false},
		{ID: "3", IsEnabled: true},
	}}

	enabled := snap.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "1", enabled[0].ID)
	assert.Equal(t, "3", enabled[1].ID)

	rule, ok := snap.Find("2")
	assert.True(t, ok)
	assert.Equal(t, "2", rule.ID)
	_, ok = snap.Find("4")
	assert.False(t, ok)

	var empty *Snapshot
	assert.Nil(t, empty.Enabled())
	_, ok = empty.Find("1")
	assert.False(t, ok)
}

func TestResolutionResult_JSON(t *testing.T) {
	data, err := json.Marshal(ResolutionResult{Source: "/x", Status: StatusNoMatch})
	require.NoError(t, err)

	assert.JSONEq(t, `{"source":"/x","matched_redirect":null,"status":"no-match"}`, string(data))
}

func TestValidateDraft(t *testing.T) {
	v := NewValidator()

	valid := RuleDraft{Source: "/old", Destination: "/new", Type: RedirectPermanent}
	assert.NoError(t, v.ValidateDraft(&valid))

	tests := []struct {
		name   string
		draft  RuleDraft
		fields []string
	}{
		{"missing source", RuleDraft{Destination: "/new", Type: RedirectPermanent}, []string{"source"}},
		{"missing destination", RuleDraft{Source: "/old", Type: RedirectPermanent}, []string{"destination"}},
		{"bad type", RuleDraft{Source: "/old", Destination: "/new", Type: "303"}, []string{"type"}},
		{"source too long", RuleDraft{Source: strings.Repeat("a", 2049), Destination: "/new", Type: RedirectFound}, []string{"source"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDraft(&tt.draft)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			appErr := err.(*AppError)
			assert.Equal(t, 422, appErr.StatusCode)
			assert.Equal(t, tt.fields, appErr.Details.(map[string]any)["fields"])
		})
	}

	assert.Error(t, v.ValidateDraft(nil))
}

func TestValidateDraft_DangerousDestination(t *testing.T) {
	v := NewValidator()

	for _, dest := range []string{"javascript:alert(1)", "VBScript:msgbox", "data:text/html,<b>x</b>"} {
		draft := RuleDraft{Source: "/old", Destination: dest, Type: RedirectPermanent}
		assert.Error(t, v.ValidateDraft(&draft), dest)
	}
}

func TestValidatePatch(t *testing.T) {
	v := NewValidator()

	empty := ""
	bad := RedirectType("999")
	good := RedirectTemporary
	dest := "/fine"

	assert.NoError(t, v.ValidatePatch(&RulePatch{}))
	assert.NoError(t, v.ValidatePatch(&RulePatch{Type: &good, Destination: &dest}))
	assert.Error(t, v.ValidatePatch(&RulePatch{Source: &empty}))
	assert.Error(t, v.ValidatePatch(&RulePatch{Type: &bad}))
	assert.Error(t, v.ValidatePatch(nil))
}

func TestValidatePath(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePath("/old-page"))
	assert.Error(t, v.ValidatePath(""))
	assert.Error(t, v.ValidatePath("/a\r\nSet-Cookie: x"))
	assert.Error(t, v.ValidatePath(strings.Repeat("a", 2049)))
	assert.Error(t, v.ValidatePath(string([]byte{0xff, 0xfe})))
}

func TestAppError(t *testing.T) {
	err := NewAppError(ErrNotFound, "Rule not found", 404, nil)
	assert.Equal(t, "NOT_FOUND: Rule not found", err.Error())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidationError(err))
}

// Feature: github.com/freewebtopdf/redirect-resolver, Property: draft validation accepts every supported type
func TestProperty_ValidDraftsPass(t *testing.T) {
	properties := gopter.NewProperties(nil)
	v := NewValidator()

	properties.Property("drafts with non-empty paths and a supported type validate", prop.ForAll(
		func(source, destination string, typ RedirectType) bool {
			draft := RuleDraft{Source: "/" + source, Destination: "/" + destination, Type: typ}
			return v.ValidateDraft(&draft) == nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) < 2000 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) < 2000 }),
		gen.OneConstOf(RedirectPermanent, RedirectFound, RedirectTemporary, RedirectPermanentRedirect),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
