package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"nudgebot/internal/metrics"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// Dispatcher scores a fixed tool registry against a turn and fires at most
// one tool.
type Dispatcher struct {
	tools     []Tool
	byName    map[string]Tool
	threshold int
}

// Score is one tool's relevance for a turn.
type Score struct {
	Tool         string `json:"tool"`
	Score        int    `json:"score"`
	BasePriority int    `json:"base_priority"`
	order        int
}

// NewDispatcher registers tools in order. threshold is the minimum score a
// selected tool needs before Dispatch runs it.
func NewDispatcher(threshold int, tools ...Tool) (*Dispatcher, error) {
	d := &Dispatcher{byName: make(map[string]Tool, len(tools)), threshold: ClampScore(threshold)}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := d.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		d.byName[t.Name()] = t
		d.tools = append(d.tools, t)
	}
	return d, nil
}

func (d *Dispatcher) Threshold() int {
	return d.threshold
}

func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, len(d.tools))
	copy(out, d.tools)
	return out
}

// Score returns every tool's clamped score, best first: higher score, then
// higher base priority, then registration order.
func (d *Dispatcher) Score(tc ToolContext) []Score {
	scores := make([]Score, 0, len(d.tools))
	for i, t := range d.tools {
		scores = append(scores, Score{
			Tool:         t.Name(),
			Score:        ClampScore(t.Relevance(tc)),
			BasePriority: t.BasePriority(),
			order:        i,
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.BasePriority != b.BasePriority {
			return a.BasePriority > b.BasePriority
		}
		return a.order < b.order
	})
	return scores
}

// Select returns the best tool and its score, or nil for an empty registry.
func (d *Dispatcher) Select(tc ToolContext) (Tool, int) {
	scores := d.Score(tc)
	if len(scores) == 0 {
		return nil, 0
	}
	return d.byName[scores[0].Tool], scores[0].Score
}

// Dispatch executes the selected tool when its score is positive and reaches
// the threshold. fired reports whether a tool ran.
func (d *Dispatcher) Dispatch(ctx context.Context, tc ToolContext) (ToolResult, bool) {
	t, score := d.Select(tc)
	if t == nil || score == 0 || score < d.threshold {
		return ToolResult{}, false
	}
	slog.Debug("tool selected", "tool", t.Name(), "score", score, "user_id", tc.UserID)
	return d.run(ctx, t, tc), true
}

// Invoke runs a tool by name, bypassing scoring.
func (d *Dispatcher) Invoke(ctx context.Context, name string, tc ToolContext) ToolResult {
	t, ok := d.byName[name]
	if !ok {
		return failed(name, "unknown tool")
	}
	return d.run(ctx, t, tc)
}

func (d *Dispatcher) run(ctx context.Context, t Tool, tc ToolContext) ToolResult {
	metrics.ToolDispatch.WithLabelValues(t.Name()).Inc()
	res := t.Execute(ctx, tc)
	if res.ToolName == "" {
		res.ToolName = t.Name()
	}
	return res
}

// EinoTools exposes the registry to a function-calling model. Each call runs
// Invoke with base plus the model supplied arguments.
func (d *Dispatcher) EinoTools(base ToolContext) []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(d.tools))
	for _, t := range d.tools {
		name := t.Name()
		info := &schema.ToolInfo{Name: name, Desc: t.Description()}
		if params := t.Parameters(); len(params) > 0 {
			info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
		}
		out = append(out, utils.NewTool(info, func(ctx context.Context, args map[string]any) (string, error) {
			tc := base
			tc.Arguments = args
			return renderToolResult(d.Invoke(ctx, name, tc)), nil
		}))
	}
	return out
}

// renderToolResult is what the model reads back from a tool call.
func renderToolResult(res ToolResult) string {
	switch {
	case !res.Success:
		return "tool failed: " + res.DebugInfo
	case res.ContextPrompt == nil:
		return "no relevant data found"
	default:
		return *res.ContextPrompt
	}
}

// MarshalScores is used for debug output.
func MarshalScores(scores []Score) string {
	b, err := json.Marshal(scores)
	if err != nil {
		return "[]"
	}
	return string(b)
}
