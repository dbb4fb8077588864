package contextmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveLeastRecentKeepsNewestHalf(t *testing.T) {
	root := t.TempDir()
	files := []string{"old.go", "mid.go", "new.go"}
	base := time.Now().Add(-time.Hour)
	for i, f := range files {
		path := filepath.Join(root, f)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	kept, err := RemoveLeastRecent{}.Reduce(files, TaskInfo{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.go", "mid.go"}, kept)
}

func TestRemoveLeastRecentSingleFileUntouched(t *testing.T) {
	kept, err := RemoveLeastRecent{}.Reduce([]string{"only.go"}, TaskInfo{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, []string{"only.go"}, kept)
}

func TestTaskRelevantOnlyKeepsMatchingFiles(t *testing.T) {
	files := []string{
		"internal/parser/parser.go",
		"internal/parser/lexer.go",
		"internal/server/http.go",
		"docs/readme.md",
	}
	info := TaskInfo{Description: "fix the parser so nested expressions survive"}

	kept, err := TaskRelevantOnly{}.Reduce(files, info)
	require.NoError(t, err)
	assert.NotEmpty(t, kept)
	assert.Contains(t, kept, "internal/parser/parser.go")
	assert.NotContains(t, kept, "docs/readme.md")
}

func TestTaskRelevantOnlyNeverReturnsEmpty(t *testing.T) {
	files := []string{"a.go", "b.go", "c.go"}
	info := TaskInfo{Description: "completely unrelated words zzz"}

	kept, err := TaskRelevantOnly{}.Reduce(files, info)
	require.NoError(t, err)
	assert.NotEmpty(t, kept, "reduction must keep the top-scored files even with no matches")
	assert.LessOrEqual(t, len(kept), len(files))
}

func TestHighChangeFrequencyKeepsHottestFiles(t *testing.T) {
	files := []string{"cold.go", "warm.go", "hot.go", "untouched.go", "tepid.go"}
	info := TaskInfo{ChangeCounts: map[string]int{
		"hot.go":  9,
		"warm.go": 4,
		"cold.go": 1,
	}}

	kept, err := HighChangeFrequency{}.Reduce(files, info)
	require.NoError(t, err)
	assert.Equal(t, []string{"hot.go", "warm.go"}, kept)
}

func TestManualInterventionDefers(t *testing.T) {
	_, err := ManualIntervention{}.Reduce([]string{"a.go"}, TaskInfo{})
	assert.ErrorIs(t, err, ErrManualIntervention)
}

func TestStrategyByName(t *testing.T) {
	assert.Equal(t, "remove_least_recent", StrategyByName("remove_least_recent").Name())
	assert.Equal(t, "task_relevant_only", StrategyByName("task_relevant").Name())
	assert.Equal(t, "high_change_frequency", StrategyByName("high_change_frequency").Name())
	assert.Equal(t, "manual_intervention", StrategyByName("anything-else").Name())
}
