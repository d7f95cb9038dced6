package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"nudgebot/internal/models"
)

const (
	taskListLimit    = 10
	dueSoonWindow    = 72 * time.Hour
	recentWinsWindow = 7 * 24 * time.Hour
)

// TaskReader is the read side of the workspace store used by the task tools.
type TaskReader interface {
	OpenTasks(ctx context.Context, orgID, userID int64, limit int) ([]*models.Task, error)
	TasksDueBefore(ctx context.Context, orgID, userID int64, deadline time.Time, limit int) ([]*models.Task, error)
	CompletedSince(ctx context.Context, orgID, userID int64, since time.Time, limit int) ([]*models.Task, error)
}

type taskTool struct {
	tasks TaskReader
	now   func() time.Time
}

func (t taskTool) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now().UTC()
}

func (taskTool) Parameters() map[string]*schema.ParameterInfo {
	return nil
}

// TaskOverviewTool lists the caller's open tasks.
type TaskOverviewTool struct{ taskTool }

func NewTaskOverviewTool(tasks TaskReader) *TaskOverviewTool {
	return &TaskOverviewTool{taskTool{tasks: tasks}}
}

func (*TaskOverviewTool) Name() string { return "task_overview" }
func (*TaskOverviewTool) Description() string {
	return "List the user's open tasks with their codes, titles and status."
}
func (*TaskOverviewTool) BasePriority() int { return 30 }

func (*TaskOverviewTool) Relevance(tc ToolContext) int {
	return ClampScore(tc.Signal(SignalTaskInquiry))
}

func (t *TaskOverviewTool) Execute(ctx context.Context, tc ToolContext) ToolResult {
	tasks, err := t.tasks.OpenTasks(ctx, tc.OrganizationID, tc.UserID, taskListLimit)
	if err != nil {
		return failed(t.Name(), fmt.Sprintf("load open tasks: %v", err))
	}
	if len(tasks) == 0 {
		return nothing(t.Name(), "no open tasks")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user currently has %d open task(s):\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (%s)", task.Code, task.Title, task.Status)
		if task.DueAt != nil {
			fmt.Fprintf(&b, ", due %s", task.DueAt.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	return found(t.Name(), strings.TrimSpace(b.String()))
}

// DueSoonTool reports open tasks whose deadline falls within the next 72h.
type DueSoonTool struct{ taskTool }

func NewDueSoonTool(tasks TaskReader) *DueSoonTool {
	return &DueSoonTool{taskTool{tasks: tasks}}
}

func (*DueSoonTool) Name() string { return "due_soon" }
func (*DueSoonTool) Description() string {
	return "List the user's unfinished tasks that are due within the next three days."
}
func (*DueSoonTool) BasePriority() int { return 20 }

func (*DueSoonTool) Relevance(tc ToolContext) int {
	return ClampScore(tc.Signal(SignalDeadlineConcern))
}

func (t *DueSoonTool) Execute(ctx context.Context, tc ToolContext) ToolResult {
	now := t.clock()
	tasks, err := t.tasks.TasksDueBefore(ctx, tc.OrganizationID, tc.UserID, now.Add(dueSoonWindow), taskListLimit)
	if err != nil {
		return failed(t.Name(), fmt.Sprintf("load due tasks: %v", err))
	}
	if len(tasks) == 0 {
		return nothing(t.Name(), "nothing due in the next 72h")
	}
	var b strings.Builder
	b.WriteString("Tasks due within the next 72 hours:\n")
	for _, task := range tasks {
		if task.DueAt == nil {
			continue
		}
		left := task.DueAt.Sub(now).Round(time.Hour)
		if left < 0 {
			fmt.Fprintf(&b, "- [%s] %s is overdue by %s\n", task.Code, task.Title, -left)
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s is due in %s\n", task.Code, task.Title, left)
	}
	return found(t.Name(), strings.TrimSpace(b.String()))
}

// EncouragementTool recalls recent wins for a stressed user and suggests a
// coaching tone.
type EncouragementTool struct{ taskTool }

func NewEncouragementTool(tasks TaskReader) *EncouragementTool {
	return &EncouragementTool{taskTool{tasks: tasks}}
}

func (*EncouragementTool) Name() string { return "encouragement" }
func (*EncouragementTool) Description() string {
	return "Recall tasks the user finished this week to encourage them."
}
func (*EncouragementTool) BasePriority() int { return 10 }

func (*EncouragementTool) Relevance(tc ToolContext) int {
	return ClampScore(tc.Signal(SignalStress))
}

func (t *EncouragementTool) Execute(ctx context.Context, tc ToolContext) ToolResult {
	tasks, err := t.tasks.CompletedSince(ctx, tc.OrganizationID, tc.UserID, t.clock().Add(-recentWinsWindow), taskListLimit)
	if err != nil {
		return failed(t.Name(), fmt.Sprintf("load completed tasks: %v", err))
	}
	res := ToolResult{Success: true, ToolName: t.Name(), SuggestedRole: strPtr("coach")}
	if len(tasks) == 0 {
		res.ContextPrompt = strPtr("The user seems stressed. They have no completed tasks this week; be gentle and suggest one small next step.")
		return res
	}
	codes := make([]string, 0, len(tasks))
	for _, task := range tasks {
		codes = append(codes, fmt.Sprintf("[%s] %s", task.Code, task.Title))
	}
	res.ContextPrompt = strPtr(fmt.Sprintf(
		"The user seems stressed. Remind them of what they finished in the last 7 days: %s.",
		strings.Join(codes, ", ")))
	return res
}
