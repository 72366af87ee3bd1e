package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	begun    []string
	beginErr error
	delay    time.Duration
}

func (f *fakeRunner) Begin(_ context.Context, req runtime.TurnRequest) (*runtime.Turn, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.mu.Lock()
	f.begun = append(f.begun, req.Message)
	f.mu.Unlock()
	id := req.ConversationID
	if id == "" {
		id = "conv-new"
	}
	return &runtime.Turn{ConversationID: id, UserMessage: &types.Message{Content: req.Message}}, nil
}

func (f *fakeRunner) Run(ctx context.Context, turn *runtime.Turn, w io.Writer) (*runtime.TurnResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	answer := "echo: " + turn.UserMessage.Content
	fmt.Fprint(w, answer)
	return &runtime.TurnResult{ConversationID: turn.ConversationID, Content: answer}, nil
}

func TestLaneKey(t *testing.T) {
	if got := LaneKey(runtime.TurnRequest{ConversationID: "c1", Key: "telegram:1:1"}); got != "conv:c1" {
		t.Errorf("conversation id should win, got %q", got)
	}
	if got := LaneKey(runtime.TurnRequest{Key: "telegram:1:1"}); got != "key:telegram:1:1" {
		t.Errorf("unexpected key lane %q", got)
	}
	a, b := LaneKey(runtime.TurnRequest{}), LaneKey(runtime.TurnRequest{})
	if !strings.HasPrefix(a, "new:") || a == b {
		t.Errorf("new conversations should get distinct lanes, got %q and %q", a, b)
	}
}

func TestGatewayTurnStreamsAfterBegin(t *testing.T) {
	g := New(&fakeRunner{}, NewLanes(2), nil)

	var (
		sb      strings.Builder
		readyID types.ConversationID
	)
	res, err := g.Turn(context.Background(), runtime.TurnRequest{Message: "hi"}, func(turn *runtime.Turn) io.Writer {
		readyID = turn.ConversationID
		return &sb
	})
	if err != nil {
		t.Fatal(err)
	}
	if readyID != "conv-new" {
		t.Errorf("ready should see the conversation id, got %q", readyID)
	}
	if sb.String() != "echo: hi" || res.Content != "echo: hi" {
		t.Errorf("unexpected stream %q / result %q", sb.String(), res.Content)
	}
}

func TestGatewayBeginError(t *testing.T) {
	want := types.Invalid("message", "is required")
	g := New(&fakeRunner{beginErr: want}, NewLanes(1), nil)
	called := false
	_, err := g.Turn(context.Background(), runtime.TurnRequest{}, func(*runtime.Turn) io.Writer {
		called = true
		return io.Discard
	})
	if !errors.Is(err, want) {
		t.Errorf("expected begin error, got %v", err)
	}
	if called {
		t.Error("ready must not be called when Begin fails")
	}
}

func TestGatewaySubmitOrder(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	lanes := NewLanes(4)
	queue := NewQueue(lanes, 0)
	queue.Start(context.Background())
	defer queue.Stop()
	g := New(runner, lanes, queue)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		replies []string
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		err := g.Submit(runtime.TurnRequest{Key: "telegram:7:7", Message: fmt.Sprint(i)}, func(res *runtime.TurnResult, err error) {
			defer wg.Done()
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			replies = append(replies, res.Content)
			mu.Unlock()
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	want := []string{"echo: 0", "echo: 1", "echo: 2"}
	if strings.Join(replies, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, replies)
	}
}

func TestGatewaySubmitWithoutQueue(t *testing.T) {
	g := New(&fakeRunner{}, NewLanes(1), nil)
	if err := g.Submit(runtime.TurnRequest{Message: "x"}, nil); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped, got %v", err)
	}
}
