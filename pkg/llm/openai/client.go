package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/user/agentcouncil/pkg/llm"
)

const maxErrorBody = 64 * 1024

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
// Streams are issued as raw HTTP so the event bytes can be relayed
// unmodified; one-shot completions go through the official SDK.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
	sdk        sdk.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   4,
		},
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		sdk: sdk.NewClient(
			option.WithBaseURL(config.BaseURL),
			option.WithAPIKey(config.APIKey),
			option.WithHTTPClient(httpClient),
			// Retrying is the caller's decision.
			option.WithMaxRetries(0),
		),
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

func (c *Client) model(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.config.Model
}

// Stream posts a streaming request and returns the response body. Non-2xx
// responses are returned as *llm.UpstreamError.
func (c *Client) Stream(ctx context.Context, req llm.Request) (io.ReadCloser, error) {
	reqBody := chatRequest{
		Model:    c.model(req),
		Messages: req.Messages,
		Stream:   true,
	}
	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model(req)),
		Messages: toSDKMessages(req.Messages),
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(c.config.MaxTokens))
	}
	if c.config.Temperature != 0 {
		params.Temperature = sdk.Float(float64(c.config.Temperature))
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.UpstreamError{StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &llm.Response{
		Content: completion.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func toSDKMessages(messages []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "system":
			out[i] = sdk.SystemMessage(msg.Content)
		case "assistant":
			out[i] = sdk.AssistantMessage(msg.Content)
		default:
			out[i] = sdk.UserMessage(msg.Content)
		}
	}
	return out
}
