// Package scheduler runs autopilot schedules: on each cron tick an agent
// either works its next pending task or answers a fixed prompt, and the
// answer is delivered to the schedule's address.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/agentcouncil/internal/config"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/runtime/tools"
	"github.com/user/agentcouncil/internal/types"
)

// Chatter runs a turn to completion.
type Chatter interface {
	Chat(ctx context.Context, req runtime.TurnRequest) (*runtime.TurnResult, error)
}

// TaskClaimer claims an agent's next pending task.
type TaskClaimer interface {
	GetNextTask(ctx context.Context, agentID types.AgentID) (*types.Task, bool, error)
}

// Deliverer sends output to an address.
type Deliverer interface {
	Deliver(ctx context.Context, address, message string) error
}

const defaultRunTimeout = 10 * time.Minute

// Scheduler fires config schedules through cron.
type Scheduler struct {
	mu        sync.Mutex
	schedules []config.Schedule
	cron      *cron.Cron
	ctx       context.Context

	tasks   TaskClaimer
	chat    Chatter
	deliver Deliverer
	timeout time.Duration
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. deliver may be nil, in which case output is only
// logged.
func New(schedules []config.Schedule, tasks TaskClaimer, chat Chatter, deliver Deliverer) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		tasks:     tasks,
		chat:      chat,
		deliver:   deliver,
		timeout:   defaultRunTimeout,
	}
}

func newCron() *cron.Cron {
	logger := cronLogger{slog.Default()}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Start registers every enabled schedule and starts the cron ticker. Fired
// runs use a context derived from ctx. Invalid expressions are logged and
// skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.cron = newCron()

	for _, sc := range s.schedules {
		if !sc.Enabled || sc.Cron == "" {
			continue
		}
		sc := sc
		if _, err := s.cron.AddFunc(sc.Cron, func() { s.fire(sc) }); err != nil {
			slog.Error("invalid cron schedule", "name", sc.Name, "cron", sc.Cron, "error", err)
			continue
		}
		slog.Info("scheduled autopilot", "name", sc.Name, "cron", sc.Cron, "agent", sc.Agent)
	}
	s.cron.Start()
	return nil
}

// Reload swaps in a new schedule list and restarts the ticker.
func (s *Scheduler) Reload(schedules []config.Schedule) error {
	s.Stop()
	s.mu.Lock()
	s.schedules = schedules
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.Start(ctx)
}

// Stop stops the ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func (s *Scheduler) fire(sc config.Schedule) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	slog.Info("autopilot firing", "name", sc.Name, "agent", sc.Agent)
	if _, err := s.run(ctx, sc); err != nil {
		slog.Error("autopilot run failed", "name", sc.Name, "error", err)
	}
}

// RunNow runs the named schedule immediately, enabled or not, and returns
// the agent's answer. An empty answer means there was no pending task.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	var (
		sc    config.Schedule
		found bool
	)
	for _, c := range s.schedules {
		if c.Name == name {
			sc, found = c, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return "", types.NotFound("schedule", name)
	}
	return s.run(ctx, sc)
}

func (s *Scheduler) run(ctx context.Context, sc config.Schedule) (string, error) {
	agentID := types.AgentID(sc.Agent)
	prompt := sc.Prompt
	if prompt == "" {
		task, ok, err := s.tasks.GetNextTask(ctx, agentID)
		if err != nil {
			return "", fmt.Errorf("claim next task: %w", err)
		}
		if !ok {
			slog.Info("autopilot idle, no pending tasks", "name", sc.Name, "agent", sc.Agent)
			return "", nil
		}
		prompt = TaskPrompt(task)
	}

	res, err := s.chat.Chat(ctx, runtime.TurnRequest{
		AgentID: agentID,
		Key:     types.NewConversationKey("autopilot", sc.Name),
		Message: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("run turn: %w", err)
	}

	if sc.Deliver != "" && s.deliver != nil {
		if err := s.deliver.Deliver(ctx, sc.Deliver, res.Content); err != nil {
			return res.Content, fmt.Errorf("deliver to %s: %w", sc.Deliver, err)
		}
	}
	return res.Content, nil
}

// TaskPrompt is the message an agent receives for a claimed task.
func TaskPrompt(t *types.Task) string {
	return tools.FormatNextTask(t) +
		"\n\nWork on this task now. When it is done, call update_task with task_id " +
		string(t.ID) + ", status completed and a short result."
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
