package changeset

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffRenderer produces unified diffs for changeset inspection and approval
// prompts.
type DiffRenderer struct {
	contextLines int
	colorEnabled bool
}

// NewDiffRenderer creates a renderer. contextLines is currently advisory; the
// patch text produced by diffmatchpatch carries its own context.
func NewDiffRenderer(contextLines int, colorEnabled bool) *DiffRenderer {
	return &DiffRenderer{contextLines: contextLines, colorEnabled: colorEnabled}
}

// Render returns a unified diff between old and new content for one file.
// Identical contents render as an empty string; binary content renders as a
// one-line notice.
func (r *DiffRenderer) Render(oldContent, newContent, filename string) string {
	if oldContent == newContent {
		return ""
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return fmt.Sprintf("Binary file %s has changed\n", filename)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(oldContent, diffs)
	patchText := dmp.PatchToText(patches)

	var sb strings.Builder
	sb.WriteString(r.colorize("--- a/"+filename+"\n", color.FgRed))
	sb.WriteString(r.colorize("+++ b/"+filename+"\n", color.FgGreen))
	for _, line := range strings.Split(patchText, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			sb.WriteString(r.colorize(line+"\n", color.FgCyan))
		case strings.HasPrefix(line, "+"):
			sb.WriteString(r.colorize(line+"\n", color.FgGreen))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(r.colorize(line+"\n", color.FgRed))
		case line != "":
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}

// Stats counts added and deleted lines between two contents.
func (r *DiffRenderer) Stats(oldContent, newContent string) (added, deleted int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += countLines(d.Text)
		}
	}
	return added, deleted
}

func (r *DiffRenderer) colorize(text string, attr color.Attribute) string {
	if !r.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func isBinary(content string) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for i := 0; i < limit; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
