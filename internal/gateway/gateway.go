package gateway

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/user/agentcouncil/internal/runtime"
)

// Runner is the chat session controller.
type Runner interface {
	Begin(ctx context.Context, req runtime.TurnRequest) (*runtime.Turn, error)
	Run(ctx context.Context, turn *runtime.Turn, w io.Writer) (*runtime.TurnResult, error)
}

// Gateway admits turns from every surface through one set of lanes.
type Gateway struct {
	runner Runner
	lanes  *Lanes
	queue  *Queue
}

// New creates a Gateway. queue may be nil when only synchronous turns are
// needed.
func New(runner Runner, lanes *Lanes, queue *Queue) *Gateway {
	return &Gateway{runner: runner, lanes: lanes, queue: queue}
}

// LaneKey returns the lane a turn request runs in. Requests that will
// create a fresh conversation get a lane of their own.
func LaneKey(req runtime.TurnRequest) string {
	switch {
	case req.ConversationID != "":
		return "conv:" + string(req.ConversationID)
	case req.Key != "":
		return "key:" + string(req.Key)
	}
	return "new:" + uuid.NewString()
}

// Turn runs one turn in its lane. ready is called after the user message is
// persisted and returns the writer the response is streamed to; a nil ready
// discards the stream.
func (g *Gateway) Turn(ctx context.Context, req runtime.TurnRequest, ready func(*runtime.Turn) io.Writer) (*runtime.TurnResult, error) {
	var res *runtime.TurnResult
	err := g.lanes.Do(ctx, LaneKey(req), func(ctx context.Context) error {
		turn, err := g.runner.Begin(ctx, req)
		if err != nil {
			return err
		}
		var w io.Writer = io.Discard
		if ready != nil {
			w = ready(turn)
		}
		res, err = g.runner.Run(ctx, turn, w)
		return err
	})
	return res, err
}

// Chat runs a turn without a live stream and returns the final answer.
func (g *Gateway) Chat(ctx context.Context, req runtime.TurnRequest) (*runtime.TurnResult, error) {
	return g.Turn(ctx, req, nil)
}

// Submit queues a turn and calls done with its outcome on completion.
// Turns submitted for the same key run in submission order.
func (g *Gateway) Submit(req runtime.TurnRequest, done func(*runtime.TurnResult, error)) error {
	if g.queue == nil {
		return ErrQueueStopped
	}
	var res *runtime.TurnResult
	job := NewJob(LaneKey(req), func(ctx context.Context) (string, error) {
		turn, err := g.runner.Begin(ctx, req)
		if err != nil {
			return "", err
		}
		res, err = g.runner.Run(ctx, turn, io.Discard)
		if err != nil {
			return "", err
		}
		return res.Content, nil
	})
	job.OnComplete = func(j *Job) {
		if done != nil {
			done(res, j.Err)
		}
	}
	return g.queue.Enqueue(job)
}

// Lanes returns the gateway's lanes.
func (g *Gateway) Lanes() *Lanes { return g.lanes }
