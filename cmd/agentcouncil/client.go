package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/stream"
	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

// apiClient talks to a running daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

// chatHandlers receive a chat stream as it arrives. Nil fields are skipped.
type chatHandlers struct {
	Delta   func(text string)
	Tool    func(ev runtime.ToolResultEvent)
	Council func(ev council.Event)
}

// Chat sends one message and relays the stream to h. Non-200 responses are
// returned as *llm.UpstreamError so rate limits can be retried.
func (c *apiClient) Chat(ctx context.Context, req runtime.TurnRequest, h chatHandlers) (*runtime.TurnResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var result *runtime.TurnResult
	err = stream.Decode(resp.Body, func(f stream.Frame) error {
		switch f.Event {
		case "":
			if text, ok := f.Delta(); ok && text != "" && h.Delta != nil {
				h.Delta(text)
			}
		case "tool_result":
			var ev runtime.ToolResultEvent
			if json.Unmarshal([]byte(f.Data), &ev) == nil && h.Tool != nil {
				h.Tool(ev)
			}
		case "council":
			var ev council.Event
			if json.Unmarshal([]byte(f.Data), &ev) == nil && h.Council != nil {
				h.Council(ev)
			}
		case "done":
			result = &runtime.TurnResult{}
			if err := json.Unmarshal([]byte(f.Data), result); err != nil {
				return fmt.Errorf("decode chat result: %w", err)
			}
		case "error":
			return fmt.Errorf("chat failed: %s", errorMessage([]byte(f.Data)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("chat stream ended without a result")
	}
	if id := resp.Header.Get("X-Conversation-Id"); id != "" && result.ConversationID == "" {
		result.ConversationID = types.ConversationID(id)
	}
	return result, nil
}

// WatchCouncil streams a conversation's council events to fn until ctx
// ends or the server closes the stream.
func (c *apiClient) WatchCouncil(ctx context.Context, convID string, fn func(council.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/conversations/"+convID+"/council/events", nil)
	if err != nil {
		return fmt.Errorf("create watch request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("watch council: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	err = stream.Decode(resp.Body, func(f stream.Frame) error {
		if f.Event == "" {
			return nil
		}
		var ev council.Event
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil
		}
		fn(ev)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &llm.UpstreamError{StatusCode: resp.StatusCode, Body: errorMessage(data)}
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
