package ui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/build"
	"forge/internal/client"
	"forge/internal/config"
	"forge/internal/graph"
	"forge/internal/protocol"
	"forge/internal/repair"
	"forge/internal/review"
	"forge/internal/robustness"
	"forge/internal/runlog"
	"forge/internal/tasks"
	"forge/internal/watcher"
)

func TestStatusTable(t *testing.T) {
	states := []tasks.ModuleState{
		{Module: "src/c", Level: 0, Progress: 4, Fingerprint: "0123456789abcdef0123"},
		{Module: "src/b", Level: 1, Progress: 2, Next: tasks.StageProjectConsistency},
		{Module: "src/a", Level: 2, Next: tasks.StageSelfConsistency},
	}

	out := StatusTable(DefaultStyles(), states)
	for _, want := range []string{"MODULE", "src/a", "src/b", "src/c", "4/4", "2/4", "project-consistency", "complete", "in progress", "pending", "0123456789ab"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "0123456789abc")

	assert.Equal(t, "3 modules: 1 complete, 1 in progress, 1 pending", StatusSummary(states))
}

func TestGraphView(t *testing.T) {
	root := t.TempDir()
	for name, deps := range map[string]string{"a": "src/b\n", "b": ""} {
		dir := filepath.Join(root, "src", name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.md"), []byte("x"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, graph.DefaultDepsFile), []byte(deps), 0644))
	}
	g, err := graph.Build(root, []string{"src/a/spec.md", "src/b/spec.md"}, graph.DefaultDepsFile)
	require.NoError(t, err)

	out := GraphView(DefaultStyles(), g)
	assert.Less(t, strings.Index(out, "level 0"), strings.Index(out, "level 1"))
	assert.Contains(t, out, "src/a -> src/b")
}

func TestErrorGuidance(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"missing auth", fmt.Errorf("load: %w", config.ErrMissingAuth), "No API Key"},
		{"cycle", &graph.CycleError{Module: "src/a", Path: []string{"src/a", "src/a"}}, "Dependency Cycle"},
		{"missing deps", &graph.MissingDepsError{Module: "src/a", File: "dependencies.txt"}, "Missing Dependency File"},
		{"exhausted", &repair.ExhaustedError{Attempts: 4}, "Build Still Failing"},
		{"rate limited", &client.HTTPError{StatusCode: 429}, "Rate Limit Reached"},
		{"unauthorized", &client.HTTPError{StatusCode: 401}, "Authentication Failed"},
		{"missing status", protocol.ErrMissingStatus, "Malformed Model Response"},
		{"circuit open", fmt.Errorf("review: %w", robustness.ErrCircuitOpen), "Backend Unavailable"},
		{"dial", errors.New("dial tcp 10.0.0.1:443: connection refused"), "Connection Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GetErrorGuidance(tt.err)
			require.NotNil(t, g)
			assert.Equal(t, tt.title, g.Title)
			assert.NotEmpty(t, g.Suggestions)
		})
	}

	assert.Nil(t, GetErrorGuidance(errors.New("something odd")))
	assert.Nil(t, GetErrorGuidance(nil))
}

func TestFormatErrorWithGuidance(t *testing.T) {
	err := &graph.CycleError{Module: "src/a", Path: []string{"src/a", "src/b", "src/a"}}
	out := FormatErrorWithGuidance(DefaultStyles(), err)
	assert.Contains(t, out, "src/a -> src/b -> src/a")
	assert.Contains(t, out, "Dependency Cycle")
	assert.Contains(t, out, "Try: forge graph")

	out = FormatErrorWithGuidance(DefaultStyles(), errors.New("plain"))
	assert.Contains(t, out, "Error: plain")
	assert.NotContains(t, out, "⎿")
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "a b", truncateError(" a\nb ", 10))
	assert.Equal(t, "abcd...", truncateError("abcdefghij", 7))
}

func TestMarkdownRenderer(t *testing.T) {
	r, err := NewMarkdownRenderer("notty", 80)
	require.NoError(t, err)
	out := r.Render("# Findings\n\n- section **two** is vague\n")
	assert.Contains(t, out, "Findings")
	assert.Contains(t, out, "two")

	var nilRenderer *MarkdownRenderer
	assert.Equal(t, "raw", nilRenderer.Render("raw"))
}

func TestPrinterReviewOutcome(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, nil, nil)

	p.ReviewOutcome(&review.Outcome{
		Task:    tasks.Task{SpecPath: "src/a/spec.md", Stage: tasks.StageSelfConsistency},
		Status:  protocol.StatusChangesRequested,
		Comment: "Define the timeout.",
	})
	out := buf.String()
	assert.Contains(t, out, "src/a/spec.md  self-consistency: changes requested")
	assert.Contains(t, out, "Define the timeout.")

	buf.Reset()
	p.ReviewSummary(&review.Summary{Complete: true})
	assert.Contains(t, buf.String(), "All specifications passed")
}

func TestPrinterRepair(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, nil, nil)

	p.RepairResult(&repair.Result{
		Attempts: 2,
		Build:    &build.Result{Duration: 1500 * time.Millisecond},
		Changes:  []protocol.FileMutation{protocol.Write("src/a.go", "x"), protocol.Delete("src/old.go")},
	}, "/tmp/runs/x")
	out := buf.String()
	assert.Contains(t, out, "Build passes after 2 attempt(s)")
	assert.Contains(t, out, "+ src/a.go")
	assert.Contains(t, out, "- src/old.go")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "run log: /tmp/runs/x")

	buf.Reset()
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	p.RepairFailure(&repair.ExhaustedError{Attempts: 4, LastOutput: strings.Join(lines, "\n")}, "")
	out = buf.String()
	assert.Contains(t, out, "after 4 attempt(s)")
	assert.Contains(t, out, "line 39")
	assert.NotContains(t, out, "line 0")
}

func TestPrinterChangesAndRuns(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, nil, nil)

	p.Changes([]watcher.Event{{Path: "src/a/spec.md", Operation: watcher.OpModify}})
	assert.Contains(t, buf.String(), "modify src/a/spec.md")

	buf.Reset()
	p.Runs(nil)
	assert.Contains(t, buf.String(), "No runs recorded")

	buf.Reset()
	p.Runs([]runlog.RunInfo{{Dir: "/r/1", Index: runlog.Index{Command: "build", Backend: "gemini", Started: time.Now()}}})
	assert.Contains(t, buf.String(), "unfinished")
	assert.Contains(t, buf.String(), "/r/1")
}

func TestThemes(t *testing.T) {
	assert.Equal(t, []ThemeType{ThemeDark, ThemeMacOS}, AvailableThemes())
	assert.Equal(t, GetTheme(ThemeDark), GetTheme("nope"))
	assert.NotNil(t, NewStyles(ThemeMacOS))
}
