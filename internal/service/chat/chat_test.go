package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nudgebot/internal/models"
	"nudgebot/internal/realtime"
	"nudgebot/internal/service/workspace"
	"nudgebot/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

type published struct {
	group   string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
	fail   bool
	onPub  func(published)
}

func (r *recordingBroadcaster) Publish(_ context.Context, group, eventType string, payload any) error {
	p := published{group: group, event: eventType, payload: payload}
	if r.onPub != nil {
		r.onPub(p)
	}
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	if r.fail {
		return errors.New("broker down")
	}
	return nil
}

type fixture struct {
	db    *sql.DB
	ws    *workspace.Service
	chat  *Service
	org   *models.Organization
	alice *models.User
	bob   *models.User
	bot   *models.Bot
	wsID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	return seedFixture(t, db)
}

// newFileFixture backs the fixture with a WAL database file so several
// connections write concurrently.
func newFileFixture(t *testing.T, conns int) *fixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "chat.db") + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(conns)
	return seedFixture(t, db)
}

func seedFixture(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	ws := workspace.NewService(db)
	org, _ := ws.CreateOrganization(ctx, "acme", true, "")
	alice, _ := ws.CreateUser(ctx, org.ID, "Alice")
	bob, _ := ws.CreateUser(ctx, org.ID, "Bob")
	wsID, err := ws.CreateWorkspace(ctx, org.ID, "core", alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	bot, _ := ws.CreateBot(ctx, models.Bot{Name: "Pip", Category: models.BotChat})
	return &fixture{db: db, ws: ws, chat: NewService(db, storage.DialectSQLite, ws), org: org, alice: alice, bob: bob, bot: bot, wsID: wsID}
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestEnsureActorsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1, err := f.chat.EnsureUserActor(ctx, f.org.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("EnsureUserActor: %v", err)
	}
	a2, _ := f.chat.EnsureUserActor(ctx, f.org.ID, f.alice.ID)
	if a1.ID != a2.ID || a1.UserID == nil || *a1.UserID != f.alice.ID || a1.IsBot() {
		t.Fatalf("user actor mismatch: %+v %+v", a1, a2)
	}
	b1, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	b2, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	if b1.ID != b2.ID || !b1.IsBot() {
		t.Fatalf("bot actor mismatch: %+v %+v", b1, b2)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM chat_actors`); got != 2 {
		t.Fatalf("actors = %d, want 2", got)
	}
}

func TestGetOrCreateConcurrentCallsYieldOneRoom(t *testing.T) {
	f := newFileFixture(t, 8)
	ctx := context.Background()
	botActor, err := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	if err != nil {
		t.Fatalf("EnsureBotActor: %v", err)
	}

	const callers = 32
	ids := make([]int64, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := f.chat.GetOrCreate(ctx, f.org.ID, f.alice.ID, botActor.ID)
			errs[i] = err
			if room != nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got room %d, want %d", i, ids[i], ids[0])
		}
	}
	if got := f.count(t, `SELECT COUNT(*) FROM rooms WHERE kind = ?`, models.RoomAssistant); got != 1 {
		t.Fatalf("assistant rooms = %d, want 1", got)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM room_members WHERE room_id = ? AND actor_id = ?`, ids[0], botActor.ID); got != 1 {
		t.Fatalf("bot memberships = %d, want 1", got)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM room_members WHERE room_id = ?`, ids[0]); got != 2 {
		t.Fatalf("members = %d, want 2", got)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM rooms`); got != 1 {
		t.Fatalf("rooms = %d, want 1", got)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM (SELECT DISTINCT room_id, actor_id FROM room_members)`); got != f.count(t, `SELECT COUNT(*) FROM room_members`) {
		t.Fatalf("duplicate room members: %d distinct", got)
	}
	if got := f.count(t, `SELECT COUNT(*) FROM chat_actors WHERE user_id = ?`, f.alice.ID); got != 1 {
		t.Fatalf("alice actors = %d, want 1", got)
	}
}

func TestDirectRoomKeyIsUnordered(t *testing.T) {
	if DirectRoomKey(1, 5, 3) != DirectRoomKey(1, 3, 5) {
		t.Fatal("direct key depends on argument order")
	}
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.chat.EnsureUserActor(ctx, f.org.ID, f.alice.ID)
	b, _ := f.chat.EnsureUserActor(ctx, f.org.ID, f.bob.ID)
	r1, err := f.chat.GetOrCreateDirect(ctx, f.org.ID, a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}
	r2, _ := f.chat.GetOrCreateDirect(ctx, f.org.ID, b.ID, a.ID)
	if r1.ID != r2.ID || r1.Kind != models.RoomDirect {
		t.Fatalf("direct rooms differ: %+v %+v", r1, r2)
	}
	if _, err := f.chat.GetOrCreateDirect(ctx, f.org.ID, a.ID, a.ID); err == nil {
		t.Fatal("self direct room should fail")
	}
}

func TestGroupRoomPreloadsMembersAndBotJoinsLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.chat.GetOrCreateGroup(ctx, f.org.ID, f.wsID, ScopeWorkspace)
	if err != nil {
		t.Fatalf("GetOrCreateGroup: %v", err)
	}
	members, _ := f.chat.Members(ctx, room.ID)
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	if room.WorkspaceID == nil || *room.WorkspaceID != f.wsID {
		t.Fatalf("workspace id not recorded: %+v", room)
	}

	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	added, err := f.chat.EnsureMember(ctx, room.ID, botActor.ID, models.RoleBot)
	if err != nil || !added {
		t.Fatalf("EnsureMember = %v, %v", added, err)
	}
	added, err = f.chat.EnsureMember(ctx, room.ID, botActor.ID, models.RoleBot)
	if err != nil || added {
		t.Fatalf("second EnsureMember = %v, %v", added, err)
	}

	orgRoom, err := f.chat.GetOrCreateGroup(ctx, f.org.ID, f.wsID, ScopeOrganization)
	if err != nil {
		t.Fatalf("org group: %v", err)
	}
	if orgRoom.ID == room.ID || orgRoom.Key != GroupRoomKey(f.org.ID, 0, ScopeOrganization) {
		t.Fatalf("org scope should use its own room: %+v", orgRoom)
	}
}

func TestSendPublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	room, _ := f.chat.GetOrCreate(ctx, f.org.ID, f.alice.ID, botActor.ID)
	userActor, _ := f.chat.EnsureUserActor(ctx, f.org.ID, f.alice.ID)

	b := &recordingBroadcaster{}
	b.onPub = func(p published) {
		if p.event != realtime.EventMessageReceived {
			return
		}
		payload := p.payload.(realtime.MessagePayload)
		if n := f.count(t, `SELECT COUNT(*) FROM messages WHERE id = ?`, payload.MessageID); n != 1 {
			t.Errorf("message %d not committed before publish", payload.MessageID)
		}
	}
	d := NewDispatcher(f.chat, b)

	msg, err := d.Send(ctx, OutgoingMessage{RoomID: room.ID, SenderActorID: botActor.ID, Kind: models.KindNotification, Content: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(b.events) != 2 {
		t.Fatalf("events = %d, want 2", len(b.events))
	}
	if b.events[0].group != realtime.RoomGroup(room.ID) || b.events[1].group != realtime.OrgGroup(f.org.ID) {
		t.Fatalf("unexpected groups: %+v", b.events)
	}
	unread := b.events[1].payload.(realtime.UnreadPayload)
	if unread.Unread[userActor.ID] != 1 || unread.Unread[botActor.ID] != 0 {
		t.Fatalf("unread = %+v", unread.Unread)
	}
	if _, err := json.Marshal(unread); err != nil {
		t.Fatalf("unread payload must encode: %v", err)
	}

	got, _ := f.chat.Room(ctx, room.ID)
	if got.LastActivityAt.Before(msg.CreatedAt) {
		t.Fatalf("room activity %s before message %s", got.LastActivityAt, msg.CreatedAt)
	}

	if err := f.chat.MarkRead(ctx, room.ID, userActor.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n := f.count(t, `SELECT unread_count FROM room_members WHERE room_id = ? AND actor_id = ?`, room.ID, userActor.ID); n != 0 {
		t.Fatalf("unread after MarkRead = %d", n)
	}
}

func TestSendDedupeKeyRejectsSecondDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	room, _ := f.chat.GetOrCreate(ctx, f.org.ID, f.alice.ID, botActor.ID)
	b := &recordingBroadcaster{}
	d := NewDispatcher(f.chat, b)

	msg := OutgoingMessage{RoomID: room.ID, SenderActorID: botActor.ID, Content: "done", DedupeKey: "task:1:100"}
	if _, err := d.Send(ctx, msg); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if _, err := d.Send(ctx, msg); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Send = %v, want ErrDuplicate", err)
	}
	if n := f.count(t, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, room.ID); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
	if len(b.events) != 2 {
		t.Fatalf("duplicate must not publish, events = %d", len(b.events))
	}

	purged, err := f.chat.PurgeDeliveries(ctx, time.Now().Add(time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDeliveries = %d, %v", purged, err)
	}
}

func TestSendRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	room, _ := f.chat.GetOrCreateGroup(ctx, f.org.ID, f.wsID, ScopeWorkspace)
	d := NewDispatcher(f.chat, &recordingBroadcaster{})
	if _, err := d.Send(ctx, OutgoingMessage{RoomID: room.ID, SenderActorID: botActor.ID, Content: "hi"}); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Send = %v, want ErrNotMember", err)
	}
	if _, err := d.Send(ctx, OutgoingMessage{RoomID: 999, SenderActorID: botActor.ID, Content: "hi"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Send = %v, want ErrRoomNotFound", err)
	}
}

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	room, _ := f.chat.GetOrCreate(ctx, f.org.ID, f.alice.ID, botActor.ID)
	d := NewDispatcher(f.chat, &recordingBroadcaster{fail: true})
	if _, err := d.Send(ctx, OutgoingMessage{RoomID: room.ID, SenderActorID: botActor.ID, Content: "x"}); err != nil {
		t.Fatalf("Send with broken broker: %v", err)
	}
}

func TestWithTypingClearsOnError(t *testing.T) {
	b := &recordingBroadcaster{}
	d := NewDispatcher(nil, b)
	boom := errors.New("generation exploded")
	err := d.WithTyping(context.Background(), 7, 3, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("WithTyping = %v", err)
	}
	if len(b.events) != 2 {
		t.Fatalf("typing events = %d, want 2", len(b.events))
	}
	first := b.events[0].payload.(realtime.TypingPayload)
	last := b.events[1].payload.(realtime.TypingPayload)
	if !first.Typing || last.Typing {
		t.Fatalf("typing bracket = %v then %v", first.Typing, last.Typing)
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	botActor, _ := f.chat.EnsureBotActor(ctx, f.org.ID, f.bot.ID)
	room, _ := f.chat.GetOrCreate(ctx, f.org.ID, f.alice.ID, botActor.ID)
	d := NewDispatcher(f.chat, nil)
	for _, c := range []string{"one", "two", "three"} {
		if _, err := d.Send(ctx, OutgoingMessage{RoomID: room.ID, SenderActorID: botActor.ID, Content: c}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	hist, err := f.chat.History(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Content != "two" || hist[1].Content != "three" {
		t.Fatalf("History = %+v", hist)
	}
}
