package runtime

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/user/agentcouncil/internal/council"
)

var directivePattern = regexp.MustCompile("(?s)```(tool|council)[ \\t]*\\r?\\n(.*?)```")

// ToolDirective asks the runtime to run one tool.
type ToolDirective struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// CouncilDirective asks the runtime to convene a council.
type CouncilDirective struct {
	Summon []council.Summon `json:"summon"`
}

// Directives is what a model reply asked for.
type Directives struct {
	Tools   []ToolDirective
	Council *CouncilDirective
	// Thought is the reply text with directive blocks removed.
	Thought string
	// Malformed counts directive blocks that did not decode.
	Malformed int
}

// Empty reports whether the reply asked for nothing.
func (d Directives) Empty() bool { return len(d.Tools) == 0 && d.Council == nil }

// ParseDirectives extracts fenced tool and council blocks from a reply.
// Only the first well-formed council block counts.
func ParseDirectives(content string) Directives {
	var d Directives
	for _, m := range directivePattern.FindAllStringSubmatch(content, -1) {
		body := strings.TrimSpace(m[2])
		switch m[1] {
		case "tool":
			var td ToolDirective
			if err := json.Unmarshal([]byte(body), &td); err != nil || td.Name == "" {
				d.Malformed++
				continue
			}
			d.Tools = append(d.Tools, td)
		case "council":
			var cd CouncilDirective
			if err := json.Unmarshal([]byte(body), &cd); err != nil || len(cd.Summon) == 0 {
				d.Malformed++
				continue
			}
			if d.Council == nil {
				d.Council = &cd
			}
		}
	}
	d.Thought = strings.TrimSpace(directivePattern.ReplaceAllString(content, ""))
	return d
}
