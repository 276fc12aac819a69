package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	f, err := Parse([]byte(`
providers:
  p1:
    mode: subprocess
    command: ["x"]
`))
	require.NoError(t, err)
	p := f.Providers["p1"]
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, defaultIdleTTLSeconds, p.IdleTTLSeconds)
	assert.Equal(t, defaultHealthCheckIntervalSeconds, p.HealthCheckIntervalS)
	assert.Equal(t, defaultMaxConsecutiveFailures, p.MaxConsecutiveFailures)
	assert.Equal(t, defaultHealthCheckTopIntervalS, f.HealthCheck.IntervalS)
}

func TestParseRejectsUnknownProviderMode(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  p1:
    mode: telepathic
`))
	assert.Error(t, err)
}

func TestValidateRejectsGroupWithUnknownMember(t *testing.T) {
	f := &File{Providers: map[string]ProviderSpec{
		"g1": {ID: "g1", Mode: ModeGroup, Strategy: StrategyRoundRobin, Members: []Member{{ID: "ghost"}}},
	}}
	err := Validate(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown member")
}

func TestValidateRejectsNestedGroups(t *testing.T) {
	f := &File{Providers: map[string]ProviderSpec{
		"p1": {ID: "p1", Mode: ModeSubprocess, Command: []string{"x"}},
		"g1": {ID: "g1", Mode: ModeGroup, Strategy: StrategyRoundRobin, Members: []Member{{ID: "p1"}}},
		"g2": {ID: "g2", Mode: ModeGroup, Strategy: StrategyRoundRobin, Members: []Member{{ID: "g1"}}},
	}}
	err := Validate(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "itself a group")
}

func TestValidateRejectsMinHealthyAboveMemberCount(t *testing.T) {
	f := &File{Providers: map[string]ProviderSpec{
		"p1": {ID: "p1", Mode: ModeSubprocess, Command: []string{"x"}},
		"g1": {ID: "g1", Mode: ModeGroup, Strategy: StrategyRoundRobin, MinHealthy: 2, Members: []Member{{ID: "p1"}}},
	}}
	err := Validate(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_healthy")
}

func TestValidateRejectsGroupWithoutStrategy(t *testing.T) {
	f := &File{Providers: map[string]ProviderSpec{
		"p1": {ID: "p1", Mode: ModeSubprocess, Command: []string{"x"}},
		"g1": {ID: "g1", Mode: ModeGroup, Members: []Member{{ID: "p1"}}},
	}}
	err := Validate(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing or invalid strategy")
}

func TestSearchPathsOrder(t *testing.T) {
	t.Setenv("MCP_HANGAR_CONFIG", "/env/hangar.yaml")
	paths := SearchPaths("/explicit/hangar.yaml")
	require.GreaterOrEqual(t, len(paths), 3)
	assert.Equal(t, "/explicit/hangar.yaml", paths[0])
	assert.Equal(t, "/env/hangar.yaml", paths[1])
	assert.Equal(t, "hangar.yaml", paths[len(paths)-1])
}

func TestResolveFindsFirstExistingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hangar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: {}\n"), 0o644))

	t.Setenv("MCP_HANGAR_CONFIG", "")
	resolved, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
}

func TestResolveErrorsWhenNothingExists(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatchDeliversReparsedConfigOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hangar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop, err := Watch(ctx, path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	defer func() { _ = stop() }()

	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  p1:
    mode: subprocess
    command: ["x"]
`), 0o644))

	select {
	case f := <-updates:
		require.NotNil(t, f)
		assert.Contains(t, f.Providers, "p1")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
