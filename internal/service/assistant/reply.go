package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"nudgebot/internal/config"
	"nudgebot/internal/metrics"
	"nudgebot/internal/models"
	"nudgebot/internal/service/ai"
	"nudgebot/internal/service/chat"
	"nudgebot/internal/service/notify"
)

var (
	ErrEmptyTurn   = errors.New("turn content is empty")
	ErrUnknownUser = errors.New("user not found in organization")
	ErrNoBot       = errors.New("no assistant bot available")
)

const baseInstruction = `You are a workplace assistant inside a task tracker. Answer the user's latest message briefly and concretely. Use the supplied context when it is relevant and never invent tasks, deadlines or files.`

const fallbackReply = "I can't answer right now. Please try again in a moment."

// Turn is one inbound user message for the assistant.
type Turn struct {
	OrganizationID int64          `json:"organization_id" binding:"required"`
	UserID         int64          `json:"user_id" binding:"required"`
	Content        string         `json:"content" binding:"required"`
	Sentiment      map[string]int `json:"sentiment"`
	Tool           string         `json:"tool"`
	Arguments      map[string]any `json:"arguments"`
}

// Reply is what a turn produced.
type Reply struct {
	RoomID      int64           `json:"room_id"`
	UserMessage *models.Message `json:"user_message"`
	BotMessage  *models.Message `json:"bot_message"`
	Tool        *ai.ToolResult  `json:"tool,omitempty"`
	Fallback    bool            `json:"fallback"`
}

// Model answers a conversation. *ai.Client satisfies it.
type Model interface {
	Chat(ctx context.Context, msgs []*schema.Message) (string, error)
	ChatWithTools(ctx context.Context, msgs []*schema.Message, tools []tool.BaseTool) (string, error)
}

type Directory interface {
	User(ctx context.Context, id int64) (*models.User, error)
	Bot(ctx context.Context, id int64) (*models.Bot, error)
	SystemBot(ctx context.Context) (*models.Bot, error)
}

type Service struct {
	dir       Directory
	chat      *chat.Service
	messenger *chat.Dispatcher
	tools     *ai.Dispatcher
	model     Model
	cfg       config.AssistantConfig
}

// NewService wires the reply flow. model may be nil, in which case every
// reply is the fallback text plus any tool context.
func NewService(dir Directory, chatSvc *chat.Service, messenger *chat.Dispatcher, tools *ai.Dispatcher, model Model, cfg config.AssistantConfig) *Service {
	return &Service{
		dir:       dir,
		chat:      chatSvc,
		messenger: messenger,
		tools:     tools,
		model:     model,
		cfg:       cfg,
	}
}

// Reply stores the user's message in their assistant room and answers it as
// the assistant bot.
func (s *Service) Reply(ctx context.Context, turn Turn) (*Reply, error) {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return nil, ErrEmptyTurn
	}
	user, err := s.dir.User(ctx, turn.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.OrganizationID != turn.OrganizationID {
		return nil, ErrUnknownUser
	}
	bot, err := s.bot(ctx)
	if err != nil {
		return nil, err
	}

	userActor, err := s.chat.EnsureUserActor(ctx, turn.OrganizationID, user.ID)
	if err != nil {
		return nil, err
	}
	botActor, err := s.chat.EnsureBotActor(ctx, turn.OrganizationID, bot.ID)
	if err != nil {
		return nil, err
	}
	room, err := s.chat.GetOrCreate(ctx, turn.OrganizationID, user.ID, botActor.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.chat.History(ctx, room.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	userMsg, err := s.messenger.Send(ctx, chat.OutgoingMessage{
		RoomID:        room.ID,
		SenderActorID: userActor.ID,
		Kind:          models.KindText,
		Content:       content,
	})
	if err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	out := &Reply{RoomID: room.ID, UserMessage: userMsg}
	err = s.messenger.WithTyping(ctx, room.ID, botActor.ID, func(ctx context.Context) error {
		tc := ai.ToolContext{
			UserID:         user.ID,
			OrganizationID: turn.OrganizationID,
			Sentiment:      turn.Sentiment,
			Arguments:      turn.Arguments,
		}
		var (
			res   ai.ToolResult
			fired bool
		)
		if s.tools != nil {
			if name := strings.TrimSpace(turn.Tool); name != "" {
				res, fired = s.tools.Invoke(ctx, name, tc), true
			} else {
				res, fired = s.tools.Dispatch(ctx, tc)
			}
		}
		if fired {
			out.Tool = &res
		}

		system := notify.ComposePersona(systemPrompt(res), bot.Persona, bot.Constraint)
		msgs := conversation(system, history, botActor.ID, content)

		text, genErr := s.generate(ctx, msgs, tc)
		if genErr != nil {
			slog.Warn("assistant generation failed", "room_id", room.ID, "err", genErr)
			metrics.GenerationFallbacks.WithLabelValues("assistant").Inc()
			text = fallbackText(res)
			out.Fallback = true
		}

		botMsg, err := s.messenger.Send(ctx, chat.OutgoingMessage{
			RoomID:        room.ID,
			SenderActorID: botActor.ID,
			Kind:          models.KindText,
			Content:       text,
		})
		if err != nil {
			return fmt.Errorf("store bot reply: %w", err)
		}
		out.BotMessage = botMsg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) bot(ctx context.Context) (*models.Bot, error) {
	if s.cfg.BotID > 0 {
		b, err := s.dir.Bot(ctx, s.cfg.BotID)
		if err != nil {
			return nil, err
		}
		if b != nil && b.Active {
			return b, nil
		}
		slog.Warn("configured assistant bot unavailable, using system bot", "bot_id", s.cfg.BotID)
	}
	b, err := s.dir.SystemBot(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNoBot
	}
	return b, nil
}

func (s *Service) generate(ctx context.Context, msgs []*schema.Message, tc ai.ToolContext) (string, error) {
	if s.model == nil {
		return "", ai.ErrNotConfigured
	}
	if s.cfg.AgentTools && s.tools != nil {
		return s.model.ChatWithTools(ctx, msgs, s.tools.EinoTools(tc))
	}
	return s.model.Chat(ctx, msgs)
}

func systemPrompt(res ai.ToolResult) string {
	var b strings.Builder
	b.WriteString(baseInstruction)
	if res.SuggestedRole != nil && *res.SuggestedRole != "" {
		fmt.Fprintf(&b, "\n\nRespond in the role of a %s.", *res.SuggestedRole)
	}
	if res.ContextPrompt != nil && *res.ContextPrompt != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(*res.ContextPrompt)
	}
	return b.String()
}

// conversation maps stored room history onto model roles. Bot-authored
// messages become assistant turns, everything else user turns.
func conversation(system string, history []*models.Message, botActorID int64, content string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.SenderActorID == botActorID {
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		} else {
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return append(msgs, schema.UserMessage(content))
}

func fallbackText(res ai.ToolResult) string {
	if res.Success && res.ContextPrompt != nil && strings.TrimSpace(*res.ContextPrompt) != "" {
		return fallbackReply + "\n\nHere is what I found:\n" + strings.TrimSpace(*res.ContextPrompt)
	}
	return fallbackReply
}
