package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nudgebot/internal/models"
	"nudgebot/internal/service/ai"
)

const routingContentRunes = 2000

// idReply accepts a bare candidate id, optionally followed by a period.
var idReply = regexp.MustCompile(`^(\d+)\.?$`)

// BotStore is the bot catalogue read by the selector.
type BotStore interface {
	Bot(ctx context.Context, id int64) (*models.Bot, error)
	ActiveBots(ctx context.Context, orgID int64) ([]*models.Bot, error)
	SystemBot(ctx context.Context) (*models.Bot, error)
}

// Selector picks the bot that voices a notification.
type Selector struct {
	store       BotStore
	gen         ai.Generator
	systemBotID int64
	timeout     time.Duration
	pick        func(n int) int
}

func NewSelector(store BotStore, gen ai.Generator, systemBotID int64, timeout time.Duration) *Selector {
	return &Selector{store: store, gen: gen, systemBotID: systemBotID, timeout: timeout, pick: rand.IntN}
}

// SystemBot resolves the configured system bot, else the catalogue's.
func (s *Selector) SystemBot(ctx context.Context) (*models.Bot, error) {
	if s.systemBotID > 0 {
		bot, err := s.store.Bot(ctx, s.systemBotID)
		if err != nil {
			return nil, &PersistenceError{Op: "load system bot", BotID: s.systemBotID, Err: err}
		}
		if bot != nil && bot.Active {
			return bot, nil
		}
		slog.Warn("configured system bot unavailable", "bot_id", s.systemBotID)
	}
	bot, err := s.store.SystemBot(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load system bot", Err: err}
	}
	if bot == nil {
		return nil, ErrNoBot
	}
	return bot, nil
}

// Random picks uniformly among the organization's active bots.
func (s *Selector) Random(ctx context.Context, orgID int64) (*models.Bot, error) {
	bots, err := s.store.ActiveBots(ctx, orgID)
	if err != nil {
		slog.Warn("list active bots failed", "org_id", orgID, "err", err)
		return s.SystemBot(ctx)
	}
	if len(bots) == 0 {
		return s.SystemBot(ctx)
	}
	return bots[s.pick(len(bots))], nil
}

// ByContent asks the generator which bot best matches content.
func (s *Selector) ByContent(ctx context.Context, orgID int64, content string) (*models.Bot, error) {
	bots, err := s.store.ActiveBots(ctx, orgID)
	if err != nil {
		slog.Warn("list active bots failed", "org_id", orgID, "err", err)
		return s.SystemBot(ctx)
	}
	if len(bots) == 0 || s.gen == nil {
		return s.SystemBot(ctx)
	}
	reply, err := s.classify(ctx, bots, content)
	if err != nil {
		slog.Warn("bot classification failed", "org_id", orgID, "err", err)
		return s.SystemBot(ctx)
	}
	if bot := matchCandidate(reply, bots); bot != nil {
		return bot, nil
	}
	slog.Info("no bot matched content", "org_id", orgID)
	return s.SystemBot(ctx)
}

func (s *Selector) classify(ctx context.Context, bots []*models.Bot, content string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrGeneration, r)
		}
	}()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	var b strings.Builder
	b.WriteString("Candidates:\n")
	for _, bot := range bots {
		fmt.Fprintf(&b, "%d: %s - %s\n", bot.ID, bot.Name, bot.Description)
	}
	b.WriteString("\nContent:\n")
	b.WriteString(clampRunes(content, routingContentRunes))
	return s.gen.GenerateText(ctx, routingInstruction, b.String())
}

// matchCandidate resolves a reply that is exactly one candidate id. Prose
// replies are rejected even when they mention an id.
func matchCandidate(reply string, bots []*models.Bot) *models.Bot {
	m := idReply.FindStringSubmatch(strings.TrimSpace(reply))
	if m == nil {
		return nil
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	for _, b := range bots {
		if b.ID == id {
			return b
		}
	}
	return nil
}
