package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"nudgebot/internal/models"
)

type fakeGen struct {
	fn    func(system, user string) (string, error)
	calls int
}

func (f *fakeGen) GenerateText(_ context.Context, system, user string) (string, error) {
	f.calls++
	return f.fn(system, user)
}

func TestComposePersona(t *testing.T) {
	got := ComposePersona("Announce edits.", " Cheerful owl ", "")
	if got != "Announce edits.\n\nPersona:\nCheerful owl" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if ComposePersona("", "", "") != "" {
		t.Fatal("all-empty parts should compose to empty")
	}
	full := ComposePersona("base", "p", "c")
	if !strings.HasSuffix(full, "Constraints:\nc") {
		t.Fatalf("constraints missing in %q", full)
	}
}

func TestSpeakFallbacks(t *testing.T) {
	ctx := context.Background()

	out, err := NewSpeaker(nil, time.Second).Speak(ctx, "s", "u", "fallback", 0)
	if out != "fallback" || !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("nil generator: %q %v", out, err)
	}

	failing := &fakeGen{fn: func(string, string) (string, error) { return "", errors.New("boom") }}
	out, err = NewSpeaker(failing, time.Second).Speak(ctx, "s", "u", "fallback", 0)
	if out != "fallback" || !errors.Is(err, ErrGeneration) {
		t.Fatalf("failing generator: %q %v", out, err)
	}

	blank := &fakeGen{fn: func(string, string) (string, error) { return "  ", nil }}
	if out, _ := NewSpeaker(blank, time.Second).Speak(ctx, "s", "u", "fallback", 0); out != "fallback" {
		t.Fatalf("empty output should fall back, got %q", out)
	}

	panicky := &fakeGen{fn: func(string, string) (string, error) { panic("nil map") }}
	if out, err := NewSpeaker(panicky, time.Second).Speak(ctx, "s", "u", "fallback", 0); out != "fallback" || err == nil {
		t.Fatalf("panicking generator: %q %v", out, err)
	}

	slow := &fakeGen{fn: func(string, string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", context.DeadlineExceeded
	}}
	if out, _ := NewSpeaker(slow, 10*time.Millisecond).Speak(ctx, "s", "u", "fallback", 0); out != "fallback" {
		t.Fatalf("timeout should fall back, got %q", out)
	}

	long := &fakeGen{fn: func(string, string) (string, error) { return strings.Repeat("é", 400), nil }}
	out, err = NewSpeaker(long, time.Second).Speak(ctx, "s", "u", "fallback", 280)
	if err != nil || utf8.RuneCountInString(out) != 280 || !strings.HasSuffix(out, "…") {
		t.Fatalf("clamp failed: %d runes, err=%v", utf8.RuneCountInString(out), err)
	}
}

type memBots struct {
	bots   map[int64]*models.Bot
	active []*models.Bot
	system *models.Bot
	err    error
}

func (m *memBots) Bot(_ context.Context, id int64) (*models.Bot, error) { return m.bots[id], nil }
func (m *memBots) ActiveBots(context.Context, int64) ([]*models.Bot, error) {
	return m.active, m.err
}
func (m *memBots) SystemBot(context.Context) (*models.Bot, error) { return m.system, nil }

func TestSelector(t *testing.T) {
	ctx := context.Background()
	system := &models.Bot{ID: 1, Name: "System", Category: models.BotSystem, Active: true}
	writer := &models.Bot{ID: 12, Name: "Quill", Description: "documentation", Active: true}
	coach := &models.Bot{ID: 13, Name: "Coach", Description: "planning", Active: true}
	store := &memBots{
		bots:   map[int64]*models.Bot{1: system, 12: writer, 13: coach},
		active: []*models.Bot{writer, coach},
		system: system,
	}

	gen := &fakeGen{fn: func(_, user string) (string, error) {
		if !strings.Contains(user, "12: Quill - documentation") {
			return "", errors.New("candidates missing")
		}
		return " 13\n", nil
	}}
	sel := NewSelector(store, gen, 0, time.Second)
	if bot, err := sel.ByContent(ctx, 1, "roadmap"); err != nil || bot.ID != 13 {
		t.Fatalf("ByContent = %+v, %v", bot, err)
	}

	for _, reply := range []string{"Candidate 12 is not a fit; 13 is", "13 (Coach)", "12, 13", "99"} {
		prose := NewSelector(store, &fakeGen{fn: func(string, string) (string, error) { return reply, nil }}, 0, time.Second)
		if bot, _ := prose.ByContent(ctx, 1, "x"); bot.ID != system.ID {
			t.Fatalf("reply %q should use the system bot, got %d", reply, bot.ID)
		}
	}
	if bot := matchCandidate("12.", store.active); bot == nil || bot.ID != 12 {
		t.Fatalf("bare id with period not accepted: %+v", bot)
	}

	noMatch := NewSelector(store, &fakeGen{fn: func(string, string) (string, error) { return "none fits, 0", nil }}, 0, time.Second)
	if bot, _ := noMatch.ByContent(ctx, 1, "x"); bot.ID != system.ID {
		t.Fatalf("no match should use the system bot, got %d", bot.ID)
	}
	broken := NewSelector(store, &fakeGen{fn: func(string, string) (string, error) { return "", errors.New("down") }}, 0, time.Second)
	if bot, _ := broken.ByContent(ctx, 1, "x"); bot.ID != system.ID {
		t.Fatalf("generator failure should use the system bot, got %d", bot.ID)
	}

	sel.pick = func(n int) int { return n - 1 }
	if bot, _ := sel.Random(ctx, 1); bot.ID != coach.ID {
		t.Fatalf("Random picked %d", bot.ID)
	}

	empty := NewSelector(&memBots{system: system}, gen, 0, time.Second)
	if bot, _ := empty.Random(ctx, 1); bot.ID != system.ID {
		t.Fatalf("no candidates should use the system bot, got %d", bot.ID)
	}
	if bot, _ := empty.ByContent(ctx, 1, "x"); bot.ID != system.ID {
		t.Fatalf("no candidates should use the system bot, got %d", bot.ID)
	}

	configured := NewSelector(store, nil, 12, time.Second)
	if bot, _ := configured.SystemBot(ctx); bot.ID != 12 {
		t.Fatalf("configured system bot ignored, got %d", bot.ID)
	}
	if _, err := NewSelector(&memBots{}, nil, 0, time.Second).SystemBot(ctx); !errors.Is(err, ErrNoBot) {
		t.Fatalf("expected ErrNoBot, got %v", err)
	}
}

func TestRichTextNormalizer(t *testing.T) {
	doc := `{"type":"doc","content":[
		{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Plan"}]},
		{"type":"paragraph","content":[{"type":"text","text":"Ship "},{"type":"text","text":"now","marks":[{"type":"bold"}]}]},
		{"type":"bulletList","content":[
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]}]},
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}
		]},
		{"type":"taskList","content":[
			{"type":"taskItem","attrs":{"checked":true},"content":[{"type":"paragraph","content":[{"type":"text","text":"done"}]}]}
		]}
	]}`
	got, ok := RichTextNormalizer{}.ToMarkdown(doc)
	if !ok {
		t.Fatal("document not recognised")
	}
	want := "## Plan\nShip **now**\n- one\n- two\n- [x] done"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}

	if out, ok := (RichTextNormalizer{}).ToMarkdown("plain text"); ok || out != "plain text" {
		t.Fatalf("plain text should pass through, got %q %v", out, ok)
	}
	if out, ok := (RichTextNormalizer{}).ToMarkdown(`{"not":"a doc"}`); ok || out != `{"not":"a doc"}` {
		t.Fatalf("foreign json should pass through, got %q %v", out, ok)
	}
}

func TestGuard(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	store := &memEntities{items: map[int64]*models.Item{5: {ID: 5, UpdatedAt: ts}}}
	g := NewGuard(store)

	job := models.NotificationJob{Kind: models.JobItemUpdated, EntityID: 5, SnapshotToken: models.VersionToken(ts)}
	if snap, err := g.Check(ctx, job); err != nil || snap.Item == nil {
		t.Fatalf("fresh job rejected: %v", err)
	}
	job.SnapshotToken = models.VersionToken(ts.Add(-time.Microsecond))
	if _, err := g.Check(ctx, job); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	job.EntityID = 6
	if _, err := g.Check(ctx, job); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	store.err = errors.New("io")
	var pe *PersistenceError
	if _, err := g.Check(ctx, job); !errors.As(err, &pe) || !pe.Retryable() {
		t.Fatalf("expected retryable persistence error, got %v", err)
	}
}

type memEntities struct {
	items map[int64]*models.Item
	err   error
}

func (m *memEntities) Task(context.Context, int64) (*models.Task, error) { return nil, m.err }
func (m *memEntities) Item(_ context.Context, id int64) (*models.Item, error) {
	return m.items[id], m.err
}
func (m *memEntities) Comment(context.Context, int64) (*models.Comment, error) { return nil, m.err }
