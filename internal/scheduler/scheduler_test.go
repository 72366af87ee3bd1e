package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/config"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

type fakeChat struct {
	mu   sync.Mutex
	reqs []runtime.TurnRequest
	err  error
}

func (f *fakeChat) Chat(_ context.Context, req runtime.TurnRequest) (*runtime.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &runtime.TurnResult{Content: "done: " + req.Message[:min(len(req.Message), 12)]}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeDeliver struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (f *fakeDeliver) Deliver(_ context.Context, address, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[address] = message
	return f.err
}

func newEngine(t *testing.T) *taskgraph.Engine {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return taskgraph.New(state.NewTaskStore(db))
}

func TestSchedulerFires(t *testing.T) {
	chat := &fakeChat{}
	sched := New([]config.Schedule{
		{Name: "every-second", Cron: "* * * * * *", Agent: "dehtyar", Prompt: "check in", Enabled: true},
		{Name: "disabled", Cron: "* * * * * *", Agent: "dehtyar", Prompt: "no", Enabled: false},
		{Name: "broken", Cron: "not a cron", Agent: "dehtyar", Prompt: "no", Enabled: true},
	}, newEngine(t), chat, nil)

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
	assert.Equal(t, 1, sched.Entries())

	assert.Eventually(t, func() bool { return chat.calls() > 0 }, 2500*time.Millisecond, 50*time.Millisecond)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	for _, req := range chat.reqs {
		assert.Equal(t, "check in", req.Message)
		assert.Equal(t, types.ConversationKey("autopilot:every-second"), req.Key)
	}
}

func TestRunNowWithPrompt(t *testing.T) {
	chat, out := &fakeChat{}, &fakeDeliver{}
	sched := New([]config.Schedule{
		{Name: "standup", Agent: "planner", Prompt: "Summarize open tasks", Deliver: "log:standup"},
	}, newEngine(t), chat, out)

	got, err := sched.RunNow(context.Background(), "standup")
	require.NoError(t, err)
	assert.Equal(t, "done: Summarize op", got)
	assert.Equal(t, "done: Summarize op", out.sent["log:standup"])
	assert.Equal(t, types.AgentID("planner"), chat.reqs[0].AgentID)
}

func TestRunNowClaimsNextTask(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	task, err := engine.CreateTask(ctx, "researcher", taskgraph.CreateInput{Title: "Compare vendors", Priority: 2})
	require.NoError(t, err)

	chat := &fakeChat{}
	sched := New([]config.Schedule{{Name: "work", Agent: "researcher"}}, engine, chat, nil)

	_, err = sched.RunNow(ctx, "work")
	require.NoError(t, err)
	require.Len(t, chat.reqs, 1)
	msg := chat.reqs[0].Message
	assert.True(t, strings.HasPrefix(msg, "[Next Task to Work On]\nTitle: Compare vendors"))
	assert.Contains(t, msg, "task_id "+string(task.ID))

	d, err := engine.GetTask(ctx, "researcher", task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, d.Task.Status)

	got, err := sched.RunNow(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, got, "nothing left to claim")
	assert.Equal(t, 1, chat.calls())
}

func TestRunNowErrors(t *testing.T) {
	sched := New(nil, newEngine(t), &fakeChat{}, nil)
	_, err := sched.RunNow(context.Background(), "missing")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)

	boom := errors.New("upstream down")
	sched = New([]config.Schedule{{Name: "x", Agent: "a", Prompt: "p", Deliver: "log:x"}}, newEngine(t), &fakeChat{err: boom}, &fakeDeliver{})
	_, err = sched.RunNow(context.Background(), "x")
	require.ErrorIs(t, err, boom)

	failing := &fakeDeliver{err: errors.New("no route")}
	sched = New([]config.Schedule{{Name: "y", Agent: "a", Prompt: "p", Deliver: "telegram:1:1"}}, newEngine(t), &fakeChat{}, failing)
	got, err := sched.RunNow(context.Background(), "y")
	require.Error(t, err)
	assert.Equal(t, "done: p", got)
}

func TestReload(t *testing.T) {
	sched := New(nil, newEngine(t), &fakeChat{}, nil)
	require.NoError(t, sched.Start(context.Background()))
	assert.Equal(t, 0, sched.Entries())

	require.NoError(t, sched.Reload([]config.Schedule{{Name: "n", Cron: "@hourly", Agent: "a", Prompt: "p", Enabled: true}}))
	defer sched.Stop()
	assert.Equal(t, 1, sched.Entries())
}
