package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

// NewDateTime returns the get_datetime tool. now may be nil.
func NewDateTime(now func() time.Time) runtime.Tool {
	if now == nil {
		now = time.Now
	}
	return runtime.NewTool("get_datetime", "Get the current date, time and timezone", nil,
		func(context.Context, types.AgentID, struct{}) (string, error) {
			t := now()
			zone, _ := t.Zone()
			return fmt.Sprintf("[Current Date/Time]\nDate: %s\nTime: %s\nDay: %s\nTimezone: %s\nISO: %s",
				t.Format("2006-01-02"),
				t.Format("15:04:05"),
				t.Weekday(),
				zone,
				t.UTC().Format(time.RFC3339),
			), nil
		})
}

type calculatorInput struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression, e.g. (2+3)*sqrt(16)"`
}

// NewCalculator returns the calculator tool.
func NewCalculator() runtime.Tool {
	return runtime.NewTool("calculator", "Evaluate an arithmetic expression", nil,
		func(_ context.Context, _ types.AgentID, in calculatorInput) (string, error) {
			if strings.TrimSpace(in.Expression) == "" {
				return "", types.Invalid("expression", "no expression provided")
			}
			v, err := Evaluate(in.Expression)
			if err != nil {
				return "", err
			}
			return formatNumber(v), nil
		})
}

type codeInput struct {
	Code     string `json:"code" jsonschema_description:"Source code"`
	Language string `json:"language,omitempty" jsonschema_description:"Language name, default javascript"`
}

// NewCodeExecutor returns the code_executor tool. It never runs anything.
func NewCodeExecutor() runtime.Tool {
	return runtime.NewTool("code_executor", "Describe code; execution is not available", nil,
		func(_ context.Context, _ types.AgentID, in codeInput) (string, error) {
			lang := in.Language
			if lang == "" {
				lang = "javascript"
			}
			return fmt.Sprintf("[Code Execution - %s]\nCode:\n```%s\n%s\n```\n\n"+
				"Note: Secure code execution is not available. "+
				"I can reason about what this code would do, but cannot execute it directly.", lang, lang, in.Code), nil
		})
}
