package workspace

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"nudgebot/internal/models"
	"nudgebot/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db)
}

func TestEditItemBumpsVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	org, _ := svc.CreateOrganization(ctx, "acme", true, "")
	u, _ := svc.CreateUser(ctx, org.ID, "Ada")
	ws, err := svc.CreateWorkspace(ctx, org.ID, "core", u.ID)
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	item, err := svc.CreateItem(ctx, models.Item{OrganizationID: org.ID, WorkspaceID: ws, Code: "DOC-1", Title: "Plan", Content: "a"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	tokens := map[string]bool{models.VersionToken(item.UpdatedAt): true}
	for i := 0; i < 5; i++ {
		edited, err := svc.EditItem(ctx, item.ID, u.ID, "b")
		if err != nil {
			t.Fatalf("EditItem: %v", err)
		}
		tok := models.VersionToken(edited.UpdatedAt)
		if tokens[tok] {
			t.Fatalf("edit %d reused version token %s", i, tok)
		}
		tokens[tok] = true
	}

	live, err := svc.Item(ctx, item.ID)
	if err != nil || live == nil {
		t.Fatalf("Item: %v", err)
	}
	if live.Content != "b" || live.NotifiedContent != "a" {
		t.Fatalf("content = %q baseline = %q", live.Content, live.NotifiedContent)
	}

	if err := svc.AdvanceItemBaseline(ctx, item.ID, "b", live.UpdatedAt); err != nil {
		t.Fatalf("AdvanceItemBaseline: %v", err)
	}
	live, _ = svc.Item(ctx, item.ID)
	if live.NotifiedContent != "b" {
		t.Fatalf("baseline not advanced: %q", live.NotifiedContent)
	}
}

func TestAdvanceBaselineIgnoresOldVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	org, _ := svc.CreateOrganization(ctx, "acme", true, "")
	u, _ := svc.CreateUser(ctx, org.ID, "Ada")
	ws, _ := svc.CreateWorkspace(ctx, org.ID, "core", u.ID)
	item, _ := svc.CreateItem(ctx, models.Item{OrganizationID: org.ID, WorkspaceID: ws, Code: "DOC-1", Title: "Plan", Content: "a"})
	first, _ := svc.EditItem(ctx, item.ID, u.ID, "b")
	if _, err := svc.EditItem(ctx, item.ID, u.ID, "c"); err != nil {
		t.Fatalf("EditItem: %v", err)
	}
	if err := svc.AdvanceItemBaseline(ctx, item.ID, "b", first.UpdatedAt); err != nil {
		t.Fatalf("AdvanceItemBaseline: %v", err)
	}
	live, _ := svc.Item(ctx, item.ID)
	if live.NotifiedContent != "a" {
		t.Fatalf("baseline moved for superseded version: %q", live.NotifiedContent)
	}
}

func TestMissingEntitiesReturnNil(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if o, err := svc.Organization(ctx, 99); err != nil || o != nil {
		t.Fatalf("Organization = %v, %v", o, err)
	}
	if task, err := svc.Task(ctx, 99); err != nil || task != nil {
		t.Fatalf("Task = %v, %v", task, err)
	}
	if c, err := svc.Comment(ctx, 99); err != nil || c != nil {
		t.Fatalf("Comment = %v, %v", c, err)
	}
	if b, err := svc.SystemBot(ctx); err != nil || b != nil {
		t.Fatalf("SystemBot = %v, %v", b, err)
	}
	if got := svc.DisplayName(ctx, 99); got != "Someone" {
		t.Fatalf("DisplayName = %q", got)
	}
}

func TestTaskQueries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	org, _ := svc.CreateOrganization(ctx, "acme", true, "")
	u, _ := svc.CreateUser(ctx, org.ID, "Ada")
	ws, _ := svc.CreateWorkspace(ctx, org.ID, "core", u.ID)

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(30 * 24 * time.Hour)
	mk := func(code string, due *time.Time) *models.Task {
		task, err := svc.CreateTask(ctx, models.Task{OrganizationID: org.ID, WorkspaceID: ws, Code: code, Title: code, AssigneeID: &u.ID, DueAt: due})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		return task
	}
	mk("T-1", &soon)
	mk("T-2", &later)
	done := mk("T-3", nil)
	if _, err := svc.CompleteTask(ctx, done.ID, u.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	open, err := svc.OpenTasks(ctx, org.ID, u.ID, 10)
	if err != nil {
		t.Fatalf("OpenTasks: %v", err)
	}
	if len(open) != 2 || open[0].Code != "T-1" {
		t.Fatalf("OpenTasks = %+v", open)
	}

	due, err := svc.TasksDueBefore(ctx, org.ID, u.ID, time.Now().Add(72*time.Hour), 10)
	if err != nil {
		t.Fatalf("TasksDueBefore: %v", err)
	}
	if len(due) != 1 || due[0].Code != "T-1" {
		t.Fatalf("TasksDueBefore = %+v", due)
	}

	completed, err := svc.CompletedSince(ctx, org.ID, u.ID, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("CompletedSince: %v", err)
	}
	if len(completed) != 1 || completed[0].Code != "T-3" {
		t.Fatalf("CompletedSince = %+v", completed)
	}
}

func TestActiveBotsAndSystemBot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	org, _ := svc.CreateOrganization(ctx, "acme", true, "")
	sys, _ := svc.CreateBot(ctx, models.Bot{Name: "Herald", Category: models.BotSystem})
	chatty, _ := svc.CreateBot(ctx, models.Bot{Name: "Pip", Category: models.BotChat})
	other, _ := svc.CreateBot(ctx, models.Bot{Name: "Quill", Category: models.BotTask})
	for _, b := range []*models.Bot{sys, chatty, other} {
		if err := svc.EnableBot(ctx, org.ID, b.ID); err != nil {
			t.Fatalf("EnableBot: %v", err)
		}
	}
	if err := svc.EnableBot(ctx, org.ID, chatty.ID); err != nil {
		t.Fatalf("EnableBot twice: %v", err)
	}
	if err := svc.DisableBot(ctx, org.ID, other.ID); err != nil {
		t.Fatalf("DisableBot: %v", err)
	}

	bots, err := svc.ActiveBots(ctx, org.ID)
	if err != nil {
		t.Fatalf("ActiveBots: %v", err)
	}
	if len(bots) != 1 || bots[0].ID != chatty.ID {
		t.Fatalf("ActiveBots = %+v", bots)
	}
	got, err := svc.SystemBot(ctx)
	if err != nil || got == nil || got.ID != sys.ID {
		t.Fatalf("SystemBot = %+v, %v", got, err)
	}
}
