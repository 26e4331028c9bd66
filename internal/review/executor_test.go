package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"forge/internal/client"
	"forge/internal/mutate"
	"forge/internal/protocol"
	"forge/internal/runlog"
	"forge/internal/security"
	"forge/internal/tasks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type scriptedClient struct {
	mu      sync.Mutex
	answers []string
	prompts []string
	// during runs inside Query, before the answer is returned.
	during func()
}

func (c *scriptedClient) Query(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.during != nil {
		c.during()
	}
	if len(c.answers) == 0 {
		return "", errors.New("no scripted answer left")
	}
	answer := c.answers[0]
	c.answers = c.answers[1:]
	return answer, nil
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// project lays out a -> b, c and d.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, deps := range map[string]string{"a": "src/b\n", "b": "", "c": "", "d": ""} {
		write(t, root, "src/"+name+"/spec.md", "# module "+name+"\n")
		write(t, root, "src/"+name+"/dependencies.txt", deps)
	}
	return root
}

func newExecutor(t *testing.T, root string, q client.Querier, rec runlog.Recorder) (*Executor, *tasks.Planner) {
	t.Helper()
	guard, err := security.NewWriteGuard(security.DefaultGuardConfig(root))
	require.NoError(t, err)
	planner, err := tasks.NewPlanner(tasks.Config{Root: root})
	require.NoError(t, err)

	e, err := NewExecutor(Options{
		Root:         root,
		Instructions: "Review carefully.",
		Planner:      planner,
		Client:       q,
		Applier:      mutate.NewApplier(guard),
		Recorder:     rec,
	})
	require.NoError(t, err)
	return e, planner
}

func progressOf(t *testing.T, p *tasks.Planner, module string) int {
	t.Helper()
	states, err := p.Status()
	require.NoError(t, err)
	for _, s := range states {
		if s.Module == module {
			return s.Progress
		}
	}
	t.Fatalf("module %s not found", module)
	return -1
}

func TestRunCompletesEveryStage(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/only/spec.md", "# only\n")
	write(t, root, "src/only/dependencies.txt", "")

	answers := make([]string, len(tasks.Stages))
	for i := range answers {
		answers[i] = "Looks good.\n%%%success\n"
	}
	client := &scriptedClient{answers: answers}
	e, p := newExecutor(t, root, client, nil)

	summary, err := e.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, summary.Complete)
	require.Len(t, summary.Outcomes, len(tasks.Stages))
	for i, out := range summary.Outcomes {
		assert.Equal(t, tasks.Stages[i], out.Task.Stage)
		assert.True(t, out.Recorded())
	}
	for i, stage := range tasks.Stages {
		assert.Contains(t, client.prompts[i], "## Review stage: "+string(stage))
		assert.Contains(t, client.prompts[i], "Review carefully.")
	}
	assert.Equal(t, len(tasks.Stages), progressOf(t, p, "src/only"))

	// Nothing left: a second run does not query.
	summary, err = e.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, summary.Complete)
	assert.Empty(t, summary.Outcomes)
	assert.Len(t, client.prompts, len(tasks.Stages))
}

func TestRunStopsOnChangesRequested(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{
		"%%%success\n",
		"%%%[\nSection 2 contradicts section 4.\n%%%]\n%%%changes-requested\n",
	}}
	rec := &memoryRecorder{}
	e, p := newExecutor(t, root, client, rec)

	summary, err := e.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, summary.Complete)
	require.Len(t, summary.Outcomes, 2)

	last := summary.Last()
	assert.Equal(t, protocol.StatusChangesRequested, last.Status)
	assert.Equal(t, "Section 2 contradicts section 4.", last.Comment)
	assert.False(t, last.Recorded())
	assert.Equal(t, 0, progressOf(t, p, last.Task.Module))

	assert.Equal(t, []string{"Section 2 contradicts section 4."}, rec.kinds[runlog.KindComment])
}

func TestRunHonorsMaxTasks(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{"%%%success\n", "%%%success\n", "%%%success\n"}}
	e, _ := newExecutor(t, root, client, nil)

	summary, err := e.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, summary.Complete)
	assert.Len(t, summary.Outcomes, 2)
	assert.Len(t, client.prompts, 2)
}

func TestChangesAttemptedAppliesMutations(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{
		"^^^src/b/notes.md\nclarified\n^^^end\n%%%changes-attempted\n",
	}}
	rec := &memoryRecorder{}
	e, p := newExecutor(t, root, client, rec)

	summary, err := e.Run(context.Background(), 0)
	require.NoError(t, err)
	out := summary.Last()
	require.NotNil(t, out)
	assert.Equal(t, protocol.StatusChangesAttempted, out.Status)
	require.NotNil(t, out.Report)
	assert.Equal(t, 1, out.Report.Count(mutate.Created))
	assert.Equal(t, 0, progressOf(t, p, out.Task.Module))

	data, err := os.ReadFile(filepath.Join(root, "src", "b", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "clarified", string(data))
	assert.Len(t, rec.kinds[runlog.KindChanges], 1)
	assert.Equal(t, 1, rec.applies)
}

func TestChangesAttemptedCannotEditSpec(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{
		"^^^src/b/spec.md\nrewritten\n^^^end\n%%%changes-attempted\n",
	}}
	e, _ := newExecutor(t, root, client, nil)

	_, err := e.Run(context.Background(), 0)
	var ae *mutate.ApplyError
	require.ErrorAs(t, err, &ae)
	var v *security.Violation
	assert.ErrorAs(t, err, &v)

	data, err := os.ReadFile(filepath.Join(root, "src", "b", "spec.md"))
	require.NoError(t, err)
	assert.Equal(t, "# module b\n", string(data))
}

func TestMissingStatusIsAnError(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{"I think it is fine."}}
	e, p := newExecutor(t, root, client, nil)

	_, err := e.Run(context.Background(), 0)
	assert.ErrorIs(t, err, protocol.ErrMissingStatus)
	assert.Equal(t, 0, progressOf(t, p, "src/b"))
}

func TestRelatedSpecsPerStage(t *testing.T) {
	root := project(t)
	client := &scriptedClient{answers: []string{"%%%changes-requested\n", "%%%changes-requested\n", "%%%changes-requested\n"}}
	e, _ := newExecutor(t, root, client, nil)
	ctx := context.Background()

	base := tasks.Task{SpecPath: "src/a/spec.md", Module: "src/a", Level: 1}

	for _, stage := range []tasks.Stage{
		tasks.StageSelfConsistency,
		tasks.StageDependencyConsistency,
		tasks.StageProjectConsistency,
	} {
		task := base
		task.Stage = stage
		_, err := e.Execute(ctx, &task)
		require.NoError(t, err)
	}

	self, deps, proj := client.prompts[0], client.prompts[1], client.prompts[2]
	assert.NotContains(t, self, "## Related specifications")

	assert.Contains(t, deps, "### src/b/spec.md")
	assert.NotContains(t, deps, "### src/c/spec.md")

	for _, other := range []string{"b", "c", "d"} {
		assert.Contains(t, proj, "### src/"+other+"/spec.md")
		assert.Contains(t, proj, "# module "+other)
	}
	assert.NotContains(t, proj, "### src/a/spec.md")
}

func TestSuccessRecordsContentSentToModel(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/only/spec.md", "original\n")
	write(t, root, "src/only/dependencies.txt", "")

	client := &scriptedClient{answers: []string{"%%%success\n"}}
	client.during = func() { write(t, root, "src/only/spec.md", "edited meanwhile\n") }
	e, p := newExecutor(t, root, client, nil)

	summary, err := e.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.True(t, strings.Contains(client.prompts[0], "original"))

	artifact, err := os.ReadFile(p.Cache().ArtifactPath("src/only", tasks.StageSelfConsistency))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(artifact))

	// The edit drifted from the recorded artifact.
	assert.Equal(t, 0, progressOf(t, p, "src/only"))
}

func TestRunCancelled(t *testing.T) {
	root := project(t)
	e, _ := newExecutor(t, root, &scriptedClient{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewExecutorRequiresCollaborators(t *testing.T) {
	_, err := NewExecutor(Options{})
	assert.Error(t, err)
}

type memoryRecorder struct {
	runlog.Nop
	kinds   map[runlog.Kind][]string
	applies int
}

func (r *memoryRecorder) Record(kind runlog.Kind, content string) {
	if r.kinds == nil {
		r.kinds = make(map[runlog.Kind][]string)
	}
	r.kinds[kind] = append(r.kinds[kind], content)
}

func (r *memoryRecorder) ObserveApply(*mutate.Report) { r.applies++ }
