package taskgraph

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/types"
)

const agent types.AgentID = "dehtyar"

func newEngine(t *testing.T) (*Engine, *state.TaskStore) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := state.NewTaskStore(db)
	return New(store), store
}

func statusPtr(s types.TaskStatus) *types.TaskStatus { return &s }

func TestCreateTask_RequiresTitle(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.CreateTask(context.Background(), agent, CreateInput{Title: ""})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)
}

func TestCreateTask_Pending(t *testing.T) {
	e, _ := newEngine(t)
	task, err := e.CreateTask(context.Background(), agent, CreateInput{Title: "Write report", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, 3, task.Priority)
	assert.Equal(t, agent, task.AgentID)
}

func TestCreateTask_EnforcesTwoLevels(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	goal, err := e.CreateTask(ctx, agent, CreateInput{Title: "goal"})
	require.NoError(t, err)
	sub, err := e.CreateTask(ctx, agent, CreateInput{Title: "sub", ParentTaskID: goal.ID})
	require.NoError(t, err)

	_, err = e.CreateTask(ctx, agent, CreateInput{Title: "too deep", ParentTaskID: sub.ID})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = e.CreateTask(ctx, agent, CreateInput{Title: "orphan", ParentTaskID: "missing"})
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDecomposeTask_Validation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	var ve *types.ValidationError

	_, err := e.DecomposeTask(ctx, agent, DecomposeInput{Goal: "", Subtasks: []SubtaskInput{{Title: "x"}}})
	require.ErrorAs(t, err, &ve)
	_, err = e.DecomposeTask(ctx, agent, DecomposeInput{Goal: "trip"})
	require.ErrorAs(t, err, &ve)
}

func TestDecomposeAndRollUp(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	d, err := e.DecomposeTask(ctx, agent, DecomposeInput{
		Goal:     "Plan trip",
		Subtasks: []SubtaskInput{{Title: "Book flight"}, {Title: "Book hotel"}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, d.Parent.Status)
	assert.Equal(t, 1, d.Parent.Priority)
	require.Len(t, d.Subtasks, 2)
	for i, st := range d.Subtasks {
		assert.Equal(t, types.TaskPending, st.Status)
		assert.Equal(t, i, st.Priority)
		assert.Equal(t, d.Parent.ID, st.ParentTaskID)
	}

	res, err := e.UpdateTask(ctx, agent, d.Subtasks[0].ID, UpdateInput{Status: statusPtr(types.TaskCompleted)})
	require.NoError(t, err)
	assert.False(t, res.ParentCompleted())
	require.NotNil(t, res.Task.CompletedAt)

	res, err = e.UpdateTask(ctx, agent, d.Subtasks[1].ID, UpdateInput{Status: statusPtr(types.TaskCompleted)})
	require.NoError(t, err)
	require.True(t, res.ParentCompleted())
	assert.Equal(t, types.TaskCompleted, res.Parent.Status)
	require.NotNil(t, res.Parent.CompletedAt)
	firstCompletion := *res.Parent.CompletedAt

	// Completing an already completed sibling neither re-fires nor restamps.
	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err = e.UpdateTask(ctx, agent, d.Subtasks[1].ID, UpdateInput{Status: statusPtr(types.TaskCompleted)})
	require.NoError(t, err)
	assert.False(t, res.ParentCompleted())

	detail, err := e.GetTask(ctx, agent, d.Parent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, detail.Task.Status)
	assert.True(t, detail.Task.CompletedAt.Equal(firstCompletion))
	assert.Equal(t, 2, detail.CompletedSubtasks)
	assert.Len(t, detail.Subtasks, 2)
}

type failingBatchStore struct {
	*state.TaskStore
}

func (f failingBatchStore) InsertBatch(context.Context, []*types.Task) error {
	return errors.New("disk full")
}

func TestDecomposeTask_PartialFailureKeepsParent(t *testing.T) {
	ctx := context.Background()
	_, store := newEngine(t)
	e := New(failingBatchStore{store})

	d, err := e.DecomposeTask(ctx, agent, DecomposeInput{Goal: "Plan trip", Subtasks: []SubtaskInput{{Title: "Book flight"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, d)
	require.NotNil(t, d.Parent)

	// Parent stays and can take subtasks directly.
	got, err := store.Get(ctx, d.Parent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, got.Status)
	_, err = e.CreateTask(ctx, agent, CreateInput{Title: "Book flight", ParentTaskID: d.Parent.ID})
	require.NoError(t, err)
}

func TestUpdateTask_Errors(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.UpdateTask(ctx, agent, "nonexistent-id", UpdateInput{Status: statusPtr(types.TaskCompleted)})
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)

	task, err := e.CreateTask(ctx, agent, CreateInput{Title: "t"})
	require.NoError(t, err)
	_, err = e.UpdateTask(ctx, agent, task.ID, UpdateInput{Status: statusPtr("done")})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = e.UpdateTask(ctx, agent, task.ID, UpdateInput{Status: statusPtr(types.TaskCompleted)})
	require.NoError(t, err)
	_, err = e.UpdateTask(ctx, agent, task.ID, UpdateInput{Status: statusPtr(types.TaskPending)})
	require.ErrorAs(t, err, &ve)
}

func TestUpdateTask_ResultOnly(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	task, err := e.CreateTask(ctx, agent, CreateInput{Title: "t"})
	require.NoError(t, err)

	result := "halfway"
	res, err := e.UpdateTask(ctx, agent, task.ID, UpdateInput{Result: &result})
	require.NoError(t, err)
	assert.Equal(t, "halfway", res.Task.Result)
	assert.Equal(t, types.TaskPending, res.Task.Status)
	assert.Nil(t, res.Task.CompletedAt)
}

func TestListTasks(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	d, err := e.DecomposeTask(ctx, agent, DecomposeInput{Goal: "goal", Subtasks: []SubtaskInput{{Title: "a"}, {Title: "b"}}})
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, agent, CreateInput{Title: "solo", Priority: 7})
	require.NoError(t, err)

	all, err := e.ListTasks(ctx, agent, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "solo", all[0].Title)

	parents, err := e.ListTasks(ctx, agent, ListOptions{ParentOnly: true})
	require.NoError(t, err)
	assert.Len(t, parents, 2)

	pending, err := e.ListTasks(ctx, agent, ListOptions{Status: types.TaskPending})
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	inProgress, err := e.ListTasks(ctx, agent, ListOptions{Status: types.TaskInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, d.Parent.ID, inProgress[0].ID)

	limited, err := e.ListTasks(ctx, agent, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = e.ListTasks(ctx, agent, ListOptions{Status: "bogus"})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestGetTask_NotFound(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.GetTask(context.Background(), agent, "missing")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestTasksAreScopedToTheirAgent(t *testing.T) {
	ctx := context.Background()
	e, store := newEngine(t)
	task, err := e.CreateTask(ctx, agent, CreateInput{Title: "mine"})
	require.NoError(t, err)

	var nf *types.NotFoundError
	_, err = e.GetTask(ctx, "intruder", task.ID)
	require.ErrorAs(t, err, &nf)

	_, err = e.UpdateTask(ctx, "intruder", task.ID, UpdateInput{Status: statusPtr(types.TaskCompleted)})
	require.ErrorAs(t, err, &nf)

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, got.Status)

	d, err := e.GetTask(ctx, agent, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", d.Task.Title)
}

func TestGetNextTask_NoneAvailable(t *testing.T) {
	e, _ := newEngine(t)
	task, ok, err := e.GetNextTask(context.Background(), agent)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, task)
}

func TestGetNextTask_ConcurrentCallersGetOneTask(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	only, err := e.CreateTask(ctx, agent, CreateInput{Title: "only one"})
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []types.TaskID
		nones   int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			task, ok, err := e.GetNextTask(ctx, agent)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				winners = append(winners, task.ID)
			} else {
				nones++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, only.ID, winners[0])
	assert.Equal(t, callers-1, nones)
}
