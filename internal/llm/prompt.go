package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"refinery/internal/changeset"
	"refinery/internal/evaluator"
	"refinery/internal/loop"
)

// actionPayload is the wire shape the model is asked to produce.
type actionPayload struct {
	Action     string        `json:"action"`
	Reason     string        `json:"reason"`
	Confidence float64       `json:"confidence"`
	Files      []filePayload `json:"files"`
}

type filePayload struct {
	Path         string        `json:"path"`
	Content      string        `json:"content"`
	Hunks        []hunkPayload `json:"hunks"`
	ExpectedHash string        `json:"expected_hash"`
}

type hunkPayload struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Content  string `json:"content"`
}

// DefaultPromptStrategy builds prompts from the task and its accumulated
// refinement context, and turns model JSON back into changesets. Whole-file
// writes are rewritten as single-hunk patches against the current file content
// with an expected hash, so a concurrent edit surfaces as a conflict instead
// of a silent overwrite.
type DefaultPromptStrategy struct {
	root string
}

// NewPromptStrategy creates a strategy resolving file paths under root.
func NewPromptStrategy(root string) *DefaultPromptStrategy {
	return &DefaultPromptStrategy{root: root}
}

// InitialPrompt renders the first-iteration prompt.
func (s *DefaultPromptStrategy) InitialPrompt(task *loop.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s: %s\n\n", task.ID, task.Description)
	if len(task.TargetFiles) > 0 {
		sb.WriteString("Files in scope:\n")
		for _, f := range task.TargetFiles {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	if len(task.Spec.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.Spec.AcceptanceCriteria {
			fmt.Fprintf(&sb, "  - %s\n", c)
		}
	}
	s.appendScopeContents(&sb, task)
	s.appendRefinementContext(&sb, task)
	return sb.String()
}

// RefinementPrompt renders a follow-up prompt carrying the latest evaluation
// feedback on top of the task framing.
func (s *DefaultPromptStrategy) RefinementPrompt(task *loop.Task, report evaluator.Report) string {
	var sb strings.Builder
	sb.WriteString(s.InitialPrompt(task))
	fmt.Fprintf(&sb, "\nLast evaluation: status=%s score=%.2f\n", report.Status, report.Score)
	if len(report.SatisfiedThresholds) > 0 {
		fmt.Fprintf(&sb, "Passing checks: %s\n", strings.Join(report.SatisfiedThresholds, ", "))
	}
	if report.Failure != nil {
		fmt.Fprintf(&sb, "Failure category: %s\n", report.Failure.Category())
	}
	if logs := tail(report.Logs, 4000); logs != "" {
		fmt.Fprintf(&sb, "Evaluation logs:\n%s\n", logs)
	}
	sb.WriteString("\nAddress the failures above and propose the next action.\n")
	return sb.String()
}

// ParseActionRequest decodes model output into an ActionRequest. Markdown
// fences are stripped and malformed JSON is run through jsonrepair before the
// output is rejected; rejection is a *loop.ValidationError so the controller
// retries.
func (s *DefaultPromptStrategy) ParseActionRequest(output string, task *loop.Task) (*loop.ActionRequest, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, &loop.ValidationError{Reason: "no JSON object found in output"}
	}

	var payload actionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, &loop.ValidationError{Reason: fmt.Sprintf("unparseable JSON: %v", err)}
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, &loop.ValidationError{Reason: fmt.Sprintf("unparseable JSON after repair: %v", err)}
		}
	}

	switch payload.Action {
	case "noop":
		return &loop.ActionRequest{Kind: loop.ActionNoOp, Reason: payload.Reason, Confidence: payload.Confidence}, nil
	case "write", "patch":
	default:
		return nil, &loop.ValidationError{Reason: fmt.Sprintf("unknown action %q", payload.Action)}
	}
	if len(payload.Files) == 0 {
		return nil, &loop.ValidationError{Reason: fmt.Sprintf("action %q carries no files", payload.Action)}
	}

	patches := make([]changeset.Patch, 0, len(payload.Files))
	for _, f := range payload.Files {
		if f.Path == "" {
			return nil, &loop.ValidationError{Reason: "file entry with empty path"}
		}
		switch payload.Action {
		case "write":
			if f.Content == "" {
				return nil, &loop.ValidationError{Reason: fmt.Sprintf("write of %s carries no content", f.Path)}
			}
			patches = append(patches, s.wholeFilePatch(f.Path, f.Content))
		case "patch":
			if len(f.Hunks) == 0 {
				return nil, &loop.ValidationError{Reason: fmt.Sprintf("patch of %s carries no hunks", f.Path)}
			}
			hunks := make([]changeset.Hunk, 0, len(f.Hunks))
			for _, h := range f.Hunks {
				hunks = append(hunks, changeset.Hunk{
					OldStart: h.OldStart,
					OldLines: h.OldLines,
					NewStart: h.NewStart,
					NewLines: h.NewLines,
					Content:  h.Content,
				})
			}
			patches = append(patches, changeset.Patch{Path: f.Path, Hunks: hunks, ExpectedHash: f.ExpectedHash})
		}
	}

	kind := loop.ActionWrite
	if payload.Action == "patch" {
		kind = loop.ActionPatch
	}
	return &loop.ActionRequest{
		Kind:       kind,
		ChangeSet:  changeset.New(patches),
		Reason:     payload.Reason,
		Confidence: payload.Confidence,
	}, nil
}

// wholeFilePatch turns a full-content write into a single hunk replacing the
// file's current lines, pinned to the current content hash.
func (s *DefaultPromptStrategy) wholeFilePatch(path, content string) changeset.Patch {
	current := s.readFile(path)
	oldLines := countLines(current)
	return changeset.Patch{
		Path: path,
		Hunks: []changeset.Hunk{{
			OldStart: 1,
			OldLines: oldLines,
			NewStart: 1,
			NewLines: countLines(content),
			Content:  content,
		}},
		ExpectedHash: changeset.HashContent(current),
	}
}

const scopeContentBudget = 24000

func (s *DefaultPromptStrategy) appendScopeContents(sb *strings.Builder, task *loop.Task) {
	if s.root == "" {
		return
	}
	remaining := scopeContentBudget
	for _, f := range task.TargetFiles {
		content := s.readFile(f)
		if content == "" {
			continue
		}
		if len(content) > remaining {
			break
		}
		remaining -= len(content)
		fmt.Fprintf(sb, "\n--- %s ---\n%s", f, content)
	}
}

func (s *DefaultPromptStrategy) appendRefinementContext(sb *strings.Builder, task *loop.Task) {
	if len(task.RefinementContext) == 0 {
		return
	}
	sb.WriteString("\nGuidance from previous iterations:\n")
	for _, g := range task.RefinementContext {
		fmt.Fprintf(sb, "  - %s\n", g)
	}
}

func (s *DefaultPromptStrategy) readFile(path string) string {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return ""
	}
	return string(data)
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(content, "\n"), "\n"))
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// extractJSON pulls the outermost JSON object out of model output, tolerating
// markdown fences and surrounding prose.
func extractJSON(output string) string {
	trimmed := strings.TrimSpace(output)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = strings.TrimSpace(rest[:end])
		} else {
			trimmed = strings.TrimSpace(rest)
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
