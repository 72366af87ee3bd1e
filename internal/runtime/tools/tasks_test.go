package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

func taskRegistry(t *testing.T) *runtime.Registry {
	t.Helper()
	r := runtime.NewRegistry()
	r.Register(NewTaskTools(taskgraph.New(state.NewTaskStore(openDB(t))))...)
	return r
}

func call(t *testing.T, r *runtime.Registry, name, input string) string {
	t.Helper()
	res := r.Dispatch(context.Background(), runtime.Call{Name: name, AgentID: "dehtyar", Input: json.RawMessage(input)})
	require.NoError(t, res.Err, res.Output)
	return res.Output
}

var idLine = regexp.MustCompile(`ID: (\S+)`)

func TestTaskToolsLifecycle(t *testing.T) {
	r := taskRegistry(t)
	assert.Equal(t, []string{"create_task", "decompose_task", "list_tasks", "get_task", "update_task", "get_next_task"}, r.Names())

	out := call(t, r, "decompose_task", `{"goal":"Plan trip","subtasks":[{"title":"Book flights"},{"title":"Find hotel"}]}`)
	assert.Contains(t, out, "[Task Decomposed]\nGoal: Plan trip\nID: ")
	assert.Contains(t, out, "Subtasks created (2):\n  1. Book flights (ID: ")
	ids := idLine.FindAllStringSubmatch(out, -1)
	require.Len(t, ids, 3)
	goalID, flightsID := ids[0][1], ids[1][1]
	flightsID = flightsID[:len(flightsID)-1] // trailing ')'

	out = call(t, r, "get_task", `{"task_id":"`+goalID+`"}`)
	assert.Contains(t, out, "[Task Details]\n🔄 Plan trip")
	assert.Contains(t, out, "Subtasks (0/2 completed):\n  1. ⏳ Book flights\n  2. ⏳ Find hotel")

	// Subtask priority defaults to position, so the later subtask is claimed first.
	out = call(t, r, "get_next_task", `{}`)
	assert.Contains(t, out, "[Next Task to Work On]\nTitle: Find hotel")
	hotelID := idLine.FindStringSubmatch(out)[1]

	out = call(t, r, "update_task", `{"task_id":"`+hotelID+`","status":"completed","result":"Booked"}`)
	assert.Contains(t, out, "[Task Updated]\nID: "+hotelID+"\nNew Status: completed\nCompleted: ")
	assert.NotContains(t, out, "parent task marked as completed")

	out = call(t, r, "update_task", `{"task_id":"`+flightsID+`","status":"completed"}`)
	assert.Contains(t, out, "✅ All subtasks complete - parent task marked as completed!")

	out = call(t, r, "list_tasks", `{"parent_only":true}`)
	assert.Equal(t, "[Current Tasks]\n1. ✅ Plan trip\n   ID: "+goalID+"\n   Status: completed", out)

	out = call(t, r, "get_next_task", `{}`)
	assert.Equal(t, "No pending tasks found. All tasks are complete or none exist.", out)
}

func TestCreateTaskTool(t *testing.T) {
	r := taskRegistry(t)

	out := call(t, r, "create_task", `{"title":"Write report","priority":3}`)
	assert.Regexp(t, `^\[Task Created\]\nID: \S+\nTitle: Write report\nPriority: 3\nStatus: pending$`, out)
	parentID := idLine.FindStringSubmatch(out)[1]

	out = call(t, r, "create_task", `{"title":"Outline","parent_task_id":"`+parentID+`"}`)
	assert.Contains(t, out, "\nParent Task: "+parentID)
	childID := idLine.FindStringSubmatch(out)[1]

	res := r.Dispatch(context.Background(), runtime.Call{Name: "create_task", AgentID: "dehtyar",
		Input: json.RawMessage(`{"title":"Too deep","parent_task_id":"` + childID + `"}`)})
	require.Error(t, res.Err)
	assert.Contains(t, res.Output, "Error: ")
	assert.Contains(t, res.Output, "two levels")
}

func TestTaskToolErrors(t *testing.T) {
	r := taskRegistry(t)

	for name, input := range map[string]string{
		"get_task":       `{}`,
		"update_task":    `{"task_id":"missing","status":"completed"}`,
		"list_tasks":     `{"status":"blocked"}`,
		"decompose_task": `{"goal":"x","subtasks":[]}`,
	} {
		res := r.Dispatch(context.Background(), runtime.Call{Name: name, AgentID: "dehtyar", Input: json.RawMessage(input)})
		assert.Error(t, res.Err, name)
	}

	out := call(t, r, "list_tasks", `{}`)
	assert.Equal(t, "No tasks found.", out)
}

func TestTaskToolsHideOtherAgentsTasks(t *testing.T) {
	r := taskRegistry(t)
	id := idLine.FindStringSubmatch(call(t, r, "create_task", `{"title":"private"}`))[1]

	for name, input := range map[string]string{
		"get_task":    `{"task_id":"` + id + `"}`,
		"update_task": `{"task_id":"` + id + `","status":"completed"}`,
	} {
		res := r.Dispatch(context.Background(), runtime.Call{Name: name, AgentID: "critic", Input: json.RawMessage(input)})
		var nf *types.NotFoundError
		require.ErrorAs(t, res.Err, &nf, name)
	}

	out := call(t, r, "get_task", `{"task_id":"`+id+`"}`)
	assert.Contains(t, out, "⏳ private")
}

func TestUpdateTaskRejectsBackwardMove(t *testing.T) {
	r := taskRegistry(t)
	id := idLine.FindStringSubmatch(call(t, r, "create_task", `{"title":"t"}`))[1]
	call(t, r, "update_task", `{"task_id":"`+id+`","status":"completed"}`)

	res := r.Dispatch(context.Background(), runtime.Call{Name: "update_task", AgentID: "dehtyar",
		Input: json.RawMessage(`{"task_id":"` + id + `","status":"pending"}`)})
	require.Error(t, res.Err)
	assert.Contains(t, res.Output, "cannot move task from completed back to pending")
}

func TestRegisterDefaults(t *testing.T) {
	db := openDB(t)
	r := runtime.NewRegistry()
	RegisterDefaults(r, Options{
		Memories: state.NewMemoryStore(db),
		Tasks:    taskgraph.New(state.NewTaskStore(db)),
	})
	assert.Equal(t, []string{
		"web_search", "fetch_url", "get_datetime", "calculator",
		"memory_store", "memory_recall",
		"create_task", "decompose_task", "list_tasks", "get_task", "update_task", "get_next_task",
		"code_executor",
	}, r.Names())
}
