package ai

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Upstream intent/sentiment signal names read by the builtin tools.
const (
	SignalTaskInquiry        = "task_inquiry"
	SignalDeadlineConcern    = "deadline_concern"
	SignalStress             = "stress"
	SignalInformationSeeking = "information_seeking"
	SignalDocumentQuestion   = "document_question"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ToolContext is one dispatch request. Sentiment holds opaque upstream
// scores; Arguments holds explicit, already parsed call arguments.
type ToolContext struct {
	UserID         int64
	OrganizationID int64
	Sentiment      map[string]int
	Arguments      map[string]any
}

// Signal returns the named sentiment score, 0 when absent.
func (tc ToolContext) Signal(name string) int {
	return tc.Sentiment[name]
}

func (tc ToolContext) StringArg(name string) (string, bool) {
	v, ok := tc.Arguments[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// IntArg accepts the numeric shapes JSON decoding and callers produce.
func (tc ToolContext) IntArg(name string) (int64, bool) {
	switch v := tc.Arguments[name].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ToolResult is the outcome of one tool execution. Success with a nil
// ContextPrompt means "nothing relevant found"; Success=false means the call
// itself was malformed or failed.
type ToolResult struct {
	Success       bool    `json:"success"`
	ToolName      string  `json:"tool_name"`
	ContextPrompt *string `json:"context_prompt,omitempty"`
	SuggestedRole *string `json:"suggested_role,omitempty"`
	DebugInfo     string  `json:"debug_info,omitempty"`
}

// Tool is a pluggable, read-only capability. Relevance must return 0 when no
// applicable signal is present. Execute may be called speculatively.
type Tool interface {
	Name() string
	Description() string
	BasePriority() int
	Parameters() map[string]*schema.ParameterInfo
	Relevance(tc ToolContext) int
	Execute(ctx context.Context, tc ToolContext) ToolResult
}

// ClampScore bounds a relevance score to [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

func strPtr(s string) *string {
	return &s
}

func found(name, prompt string) ToolResult {
	return ToolResult{Success: true, ToolName: name, ContextPrompt: strPtr(prompt)}
}

func nothing(name, debug string) ToolResult {
	return ToolResult{Success: true, ToolName: name, DebugInfo: debug}
}

func failed(name, debug string) ToolResult {
	return ToolResult{Success: false, ToolName: name, DebugInfo: debug}
}
