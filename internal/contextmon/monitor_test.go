package contextmon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAndOverload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "a.go"),
		[]byte(strings.Repeat("some tokens here\n", 50)), 0o644))

	m, err := NewMonitor(root, 1000, 0.8, 40, nil)
	require.NoError(t, err)

	metrics := m.Compute("fix the parser", []string{"guidance one"}, []string{"pkg/sub/a.go", "missing.go"})
	assert.Greater(t, metrics.PromptTokens, 0)
	assert.Equal(t, 2, metrics.FilesInScope)
	assert.Equal(t, 2, metrics.DependencyDepth)
	assert.InDelta(t, float64(metrics.PromptTokens)/1000, metrics.Utilization, 1e-9)
}

func TestOverloadedByUtilization(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 100, 0.8, 40, nil)
	require.NoError(t, err)

	assert.False(t, m.Overloaded(Metrics{Utilization: 0.5, FilesInScope: 3}))
	assert.True(t, m.Overloaded(Metrics{Utilization: 0.8, FilesInScope: 3}))
	assert.True(t, m.Overloaded(Metrics{Utilization: 0.95, FilesInScope: 3}))
}

func TestOverloadedByFileCap(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 100000, 0.8, 40, nil)
	require.NoError(t, err)

	assert.False(t, m.Overloaded(Metrics{Utilization: 0.1, FilesInScope: 39}))
	assert.True(t, m.Overloaded(Metrics{Utilization: 0.1, FilesInScope: 40}))
}
