package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/redirect-resolver/internal/audit"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

func execute(ctx context.Context, out io.Writer, args ...string) error {
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func writeRules(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const chainCSV = "/a,/b,301\n/b,/c,302\n/x,/y,307\n/y,/x,307\n"

func TestResolveCmd(t *testing.T) {
	file := writeRules(t, "rules.csv", chainCSV)

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "resolve", "-f", file, "/a", "/x", "/none"))

	var results []domain.ResolutionResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 3)

	assert.Equal(t, domain.StatusChain, results[0].Status)
	assert.Equal(t, "/c", results[0].FinalDestination)
	assert.Equal(t, domain.StatusLoop, results[1].Status)
	assert.Equal(t, domain.StatusNoMatch, results[2].Status)
}

func TestResolveCmd_MaxChainLength(t *testing.T) {
	file := writeRules(t, "rules.csv", chainCSV)

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "resolve", "-f", file, "--max-chain-length", "1", "/a"))

	var results []domain.ResolutionResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusChain, results[0].Status)
	assert.Equal(t, 2, results[0].Chain.ChainLength)
	assert.Equal(t, "/c", results[0].FinalDestination)
}

func TestChainsCmd(t *testing.T) {
	file := writeRules(t, "rules.csv", "/a,/b\n/b,/c\n/c,/d\n")

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "chains", "-f", file))

	var chains []domain.Chain
	require.NoError(t, json.Unmarshal(out.Bytes(), &chains))
	require.Len(t, chains, 2)
	assert.Equal(t, 3, chains[0].ChainLength)
	assert.Equal(t, "/d", chains[0].FinalDestination)
}

func TestLoopsCmd(t *testing.T) {
	file := writeRules(t, "rules.csv", chainCSV)

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "loops", "-f", file))

	var loops []domain.Chain
	require.NoError(t, json.Unmarshal(out.Bytes(), &loops))
	assert.Len(t, loops, 2)

	out.Reset()
	err := execute(context.Background(), &out, "loops", "-f", file, "--fail")
	assert.ErrorIs(t, err, errFindings)
}

func TestAuditCmd(t *testing.T) {
	file := writeRules(t, "rules.json", `[
  {"source": "/a", "destination": "/b"},
  {"source": "/a", "destination": "/never"},
  {"source": "([", "destination": "/z", "is_regex": true}
]`)

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "audit", "-f", file))

	var report audit.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 3, report.RuleCount)
	assert.Len(t, report.Shadowed, 1)
	assert.Len(t, report.BrokenPatterns, 1)

	err := execute(context.Background(), io.Discard, "audit", "-f", file, "--strict")
	assert.ErrorIs(t, err, errFindings)
}

func TestAuditCmd_StrictClean(t *testing.T) {
	file := writeRules(t, "rules.yaml", "rules:\n  - source: /a\n    destination: /b\n")

	assert.NoError(t, execute(context.Background(), io.Discard, "audit", "-f", file, "--strict"))
}

func TestConvertCmd(t *testing.T) {
	file := writeRules(t, "rules.yaml", "rules:\n  - source: /a\n    destination: /b\n    type: 308\n")

	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), &out, "convert", "-f", file, "--to", "csv"))
	assert.Equal(t, "/a,/b,308\n", out.String())
}

func TestFormatFlagOverridesExtension(t *testing.T) {
	file := writeRules(t, "rules.txt", "/a,/b,302\n")

	err := execute(context.Background(), io.Discard, "chains", "-f", file)
	assert.Error(t, err)

	assert.NoError(t, execute(context.Background(), io.Discard, "chains", "-f", file, "--format", "csv"))
}

func TestLoadErrors(t *testing.T) {
	tests := map[string][]string{
		"missing file flag": {"chains"},
		"unreadable file":   {"chains", "-f", filepath.Join(t.TempDir(), "absent.csv")},
		"invalid row":       {"chains", "-f", writeRules(t, "bad.csv", "/a,/b,301\n/only\n")},
		"bad default type":  {"chains", "-f", writeRules(t, "ok.csv", "/a,/b\n"), "--default-type", "303"},
		"bad target format": {"convert", "-f", writeRules(t, "ok2.csv", "/a,/b\n"), "--to", "xml"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			err := execute(context.Background(), io.Discard, args...)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, errFindings)
		})
	}
}
