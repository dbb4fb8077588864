package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHunkLineCount(t *testing.T) {
	assert.Equal(t, 5, Hunk{OldLines: 5, NewLines: 2}.LineCount(), "removals dominate")
	assert.Equal(t, 7, Hunk{OldLines: 2, NewLines: 7}.LineCount(), "insertions dominate")
	assert.Equal(t, 3, Hunk{OldLines: 1, Content: "a\nb\nc\n"}.LineCount(), "content counted when NewLines unset")
	assert.Equal(t, 0, Hunk{}.LineCount())
}

func TestChangeSetTotals(t *testing.T) {
	cs := New([]Patch{
		{Path: "a.go", Hunks: []Hunk{{OldLines: 2, NewLines: 4}, {OldLines: 3, NewLines: 1}}},
		{Path: "b.go", Hunks: []Hunk{{OldLines: 0, NewLines: 10}}},
		{Path: "a.go", Hunks: []Hunk{{OldLines: 1, NewLines: 1}}},
	})

	assert.Equal(t, 2, cs.TotalFiles(), "duplicate paths count once")
	assert.Equal(t, 4+3+10+1, cs.TotalChangedLines())
	assert.Equal(t, []string{"a.go", "b.go"}, cs.Paths())
	assert.NotEmpty(t, cs.ID)
}

func TestNewChangeSetsGetDistinctIDs(t *testing.T) {
	a := New(nil)
	b := New(nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestHashContentStable(t *testing.T) {
	assert.Equal(t, HashContent("hello\n"), HashContent("hello\n"))
	assert.NotEqual(t, HashContent("hello\n"), HashContent("hello"))
	assert.Len(t, HashContent(""), 64)
}
