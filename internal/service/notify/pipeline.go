package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"nudgebot/internal/metrics"
	"nudgebot/internal/models"
	"nudgebot/internal/service/chat"
)

// Store is the workspace data the pipeline reads and the one write it makes.
type Store interface {
	VersionReader
	BotStore
	Organization(ctx context.Context, id int64) (*models.Organization, error)
	DisplayName(ctx context.Context, userID int64) string
	AdvanceItemBaseline(ctx context.Context, itemID int64, content string, version time.Time) error
}

// Rooms resolves where a notification is posted.
type Rooms interface {
	EnsureBotActor(ctx context.Context, orgID, botID int64) (*models.ChatActor, error)
	GetOrCreate(ctx context.Context, orgID, targetUserID, botActorID int64) (*models.Room, error)
	GetOrCreateGroup(ctx context.Context, orgID, workspaceID int64, scope string) (*models.Room, error)
	EnsureMember(ctx context.Context, roomID, actorID int64, role models.MemberRole) (bool, error)
}

// Messenger persists and announces messages.
type Messenger interface {
	Send(ctx context.Context, msg chat.OutgoingMessage) (*models.Message, error)
	WithTyping(ctx context.Context, roomID, actorID int64, fn func(ctx context.Context) error) error
}

type Options struct {
	Diff                DiffOptions
	CelebrationMaxRunes int
	// GroupScope is the fallback when an organization sets none.
	GroupScope string
}

// Pipeline executes notification jobs: fetch, freshness check, diff,
// generate, persist, publish. Handle is safe for concurrent use.
type Pipeline struct {
	store      Store
	rooms      Rooms
	messenger  Messenger
	guard      *Guard
	selector   *Selector
	speaker    *Speaker
	normalizer Normalizer
	opts       Options
}

func NewPipeline(store Store, rooms Rooms, messenger Messenger, selector *Selector, speaker *Speaker, normalizer Normalizer, opts Options) *Pipeline {
	if opts.GroupScope == "" {
		opts.GroupScope = chat.ScopeWorkspace
	}
	return &Pipeline{
		store:      store,
		rooms:      rooms,
		messenger:  messenger,
		guard:      NewGuard(store),
		selector:   selector,
		speaker:    speaker,
		normalizer: normalizer,
		opts:       opts,
	}
}

// DedupeKey identifies one delivery of an entity version.
func DedupeKey(prefix string, entityID int64, token string) string {
	return fmt.Sprintf("%s:%d:%s", prefix, entityID, token)
}

// Handle runs one job. Stale, missing and disabled jobs return nil; only
// persistence failures come back as retryable errors. Panics are converted
// into non-retryable errors.
func (p *Pipeline) Handle(ctx context.Context, job models.NotificationJob) (err error) {
	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification pipeline panic", "job_id", job.ID, "kind", job.Kind, "panic", r, "stack", string(debug.Stack()))
			outcome = OutcomeFailed
			err = fmt.Errorf("notification job %s panicked: %v", job.ID, r)
		}
		p.record(job, outcome, err, time.Since(start))
	}()

	outcome, err = p.run(ctx, job)
	if err != nil {
		switch {
		case errors.Is(err, ErrStale), errors.Is(err, ErrNotFound), errors.Is(err, ErrDisabled):
			outcome = outcomeFor(err)
			err = nil
		default:
			outcome = OutcomeFailed
		}
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, job models.NotificationJob) (Outcome, error) {
	org, err := p.store.Organization(ctx, job.OrganizationID)
	if err != nil {
		return OutcomeFailed, &PersistenceError{Op: "load organization", EntityID: job.EntityID, OrgID: job.OrganizationID, Err: err}
	}
	if org == nil {
		return OutcomeNotFound, ErrNotFound
	}
	if !org.NotificationsEnabled {
		return OutcomeDisabled, ErrDisabled
	}
	snap, err := p.guard.Check(ctx, job)
	if err != nil {
		return OutcomeFailed, err
	}
	switch job.Kind {
	case models.JobItemUpdated:
		return p.itemUpdated(ctx, job, org, snap.Item)
	case models.JobTaskCompleted:
		return p.taskCompleted(ctx, job, org, snap.Task)
	case models.JobCommentCreated:
		return p.commentCreated(ctx, job, org, snap.Comment)
	default:
		return OutcomeFailed, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (p *Pipeline) itemUpdated(ctx context.Context, job models.NotificationJob, org *models.Organization, item *models.Item) (Outcome, error) {
	newText := normalizeText(p.normalizer, item.Content)
	diff := ExtractDiff(normalizeText(p.normalizer, item.NotifiedContent), newText, p.opts.Diff)
	if diff == "" {
		return OutcomeNoChange, nil
	}

	bot, err := p.selector.ByContent(ctx, org.ID, newText)
	if err != nil {
		return OutcomeFailed, withJob(err, job)
	}
	room, botActor, err := p.groupRoom(ctx, job, org, item.WorkspaceID, bot)
	if err != nil {
		return OutcomeFailed, err
	}

	actorID := job.ActorUserID
	if actorID == 0 && item.UpdatedBy != nil {
		actorID = *item.UpdatedBy
	}
	user := p.store.DisplayName(ctx, actorID)
	outcome, err := p.deliver(ctx, job, bot, room.ID, botActor.ID,
		ComposePersona(itemUpdatedInstruction, bot.Persona, bot.Constraint),
		itemUpdatedPrompt(user, item.Code, item.Title, diff),
		ItemUpdatedFallback(user, item.Code), 0,
		DedupeKey("item", item.ID, job.SnapshotToken))
	if err != nil {
		return outcome, err
	}
	// a duplicate means an earlier attempt delivered but may not have advanced
	if err := p.store.AdvanceItemBaseline(ctx, item.ID, item.Content, item.UpdatedAt); err != nil {
		return OutcomeFailed, &PersistenceError{Op: "advance item baseline", EntityID: item.ID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}
	return outcome, nil
}

func (p *Pipeline) taskCompleted(ctx context.Context, job models.NotificationJob, org *models.Organization, task *models.Task) (Outcome, error) {
	if task.Status != models.TaskDone {
		return OutcomeStale, ErrStale
	}
	bot, err := p.selector.Random(ctx, org.ID)
	if err != nil {
		return OutcomeFailed, withJob(err, job)
	}
	room, botActor, err := p.groupRoom(ctx, job, org, task.WorkspaceID, bot)
	if err != nil {
		return OutcomeFailed, err
	}

	actorID := job.ActorUserID
	if task.CompletedBy != nil {
		actorID = *task.CompletedBy
	}
	user := p.store.DisplayName(ctx, actorID)
	return p.deliver(ctx, job, bot, room.ID, botActor.ID,
		ComposePersona(taskCompletedInstruction, bot.Persona, bot.Constraint),
		taskCompletedPrompt(user, task.Code, task.Title),
		TaskCompletedFallback(user, task.Code), p.opts.CelebrationMaxRunes,
		DedupeKey("task", task.ID, job.SnapshotToken))
}

func (p *Pipeline) commentCreated(ctx context.Context, job models.NotificationJob, org *models.Organization, comment *models.Comment) (Outcome, error) {
	if comment.Kind != models.CommentUrge {
		return OutcomeIgnored, nil
	}
	task, err := p.store.Task(ctx, comment.TaskID)
	if err != nil {
		return OutcomeFailed, &PersistenceError{Op: "load task", EntityID: comment.ID, OrgID: org.ID, Err: err}
	}
	if task == nil {
		return OutcomeNotFound, ErrNotFound
	}
	if task.AssigneeID == nil || *task.AssigneeID == comment.AuthorID {
		return OutcomeSelfNotify, nil
	}

	bot, err := p.selector.SystemBot(ctx)
	if err != nil {
		return OutcomeFailed, withJob(err, job)
	}
	botActor, err := p.rooms.EnsureBotActor(ctx, org.ID, bot.ID)
	if err != nil {
		return OutcomeFailed, &PersistenceError{Op: "ensure bot actor", EntityID: comment.ID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}
	room, err := p.rooms.GetOrCreate(ctx, org.ID, *task.AssigneeID, botActor.ID)
	if err != nil {
		return OutcomeFailed, &PersistenceError{Op: "get assistant room", EntityID: comment.ID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}

	author := p.store.DisplayName(ctx, comment.AuthorID)
	return p.deliver(ctx, job, bot, room.ID, botActor.ID,
		ComposePersona(urgeInstruction, bot.Persona, bot.Constraint),
		urgePrompt(author, task.Code, task.Title, comment.Body),
		UrgeFallback(author, task.Code, task.Title), 0,
		DedupeKey("comment", comment.ID, job.SnapshotToken))
}

// groupRoom resolves the shared room for a workspace and joins the bot on
// first use.
func (p *Pipeline) groupRoom(ctx context.Context, job models.NotificationJob, org *models.Organization, workspaceID int64, bot *models.Bot) (*models.Room, *models.ChatActor, error) {
	botActor, err := p.rooms.EnsureBotActor(ctx, org.ID, bot.ID)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "ensure bot actor", EntityID: job.EntityID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}
	scope := org.GroupScope
	if scope == "" {
		scope = p.opts.GroupScope
	}
	room, err := p.rooms.GetOrCreateGroup(ctx, org.ID, workspaceID, scope)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "get group room", EntityID: job.EntityID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}
	if _, err := p.rooms.EnsureMember(ctx, room.ID, botActor.ID, models.RoleBot); err != nil {
		return nil, nil, &PersistenceError{Op: "join bot to room", EntityID: job.EntityID, OrgID: org.ID, BotID: bot.ID, Err: err}
	}
	return room, botActor, nil
}

// deliver generates inside the typing bracket and sends the message.
func (p *Pipeline) deliver(ctx context.Context, job models.NotificationJob, bot *models.Bot, roomID, botActorID int64, system, user, fallback string, maxRunes int, dedupeKey string) (Outcome, error) {
	err := p.messenger.WithTyping(ctx, roomID, botActorID, func(ctx context.Context) error {
		text, genErr := p.speaker.Speak(ctx, system, user, fallback, maxRunes)
		if genErr != nil {
			slog.Info("using fallback message", "job_id", job.ID, "bot_id", bot.ID, "err", genErr)
		}
		_, err := p.messenger.Send(ctx, chat.OutgoingMessage{
			RoomID:        roomID,
			SenderActorID: botActorID,
			Kind:          models.KindNotification,
			Content:       text,
			DedupeKey:     dedupeKey,
		})
		return err
	})
	switch {
	case err == nil:
		return OutcomeDelivered, nil
	case errors.Is(err, chat.ErrDuplicate):
		return OutcomeDuplicate, nil
	default:
		return OutcomeFailed, &PersistenceError{Op: "send notification", EntityID: job.EntityID, OrgID: job.OrganizationID, BotID: bot.ID, Err: err}
	}
}

func withJob(err error, job models.NotificationJob) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		pe.EntityID, pe.OrgID = job.EntityID, job.OrganizationID
	}
	return err
}

func (p *Pipeline) record(job models.NotificationJob, outcome Outcome, err error, took time.Duration) {
	metrics.Notifications.WithLabelValues(string(job.Kind), string(outcome)).Inc()
	attrs := []any{
		"job_id", job.ID,
		"kind", job.Kind,
		"org_id", job.OrganizationID,
		"entity_id", job.EntityID,
		"attempt", job.Attempt,
		"outcome", outcome,
		"took", took,
	}
	if err != nil {
		slog.Error("notification job failed", append(attrs, "err", err)...)
		return
	}
	slog.Info("notification job finished", attrs...)
}
