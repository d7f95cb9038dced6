package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nudgebot/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrNotConfigured is returned when no generative provider is set up.
var ErrNotConfigured = errors.New("generative provider not configured")

// ErrEmptyResponse is returned when the model answered with blank text.
var ErrEmptyResponse = errors.New("empty model response")

// Generator turns a prompt pair into text.
type Generator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client wraps an eino chat model with a per-call timeout and a shared rate
// limit.
type Client struct {
	chatModel model.ToolCallingChatModel
	limiter   *rate.Limiter
	timeout   time.Duration
}

// NewChatModel builds the eino chat model for a configured provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// NewClient returns ErrNotConfigured when cfg selects no provider.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil || cfg.AI.Provider == "" {
		return nil, ErrNotConfigured
	}
	provCfg, ok := cfg.Providers[cfg.AI.Provider]
	if !ok || provCfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	chatModel, err := NewChatModel(ctx, cfg.AI.Provider, provCfg, cfg.AI.Model)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return NewClientWithModel(chatModel, cfg.AI.Timeout(), cfg.AI.RatePerMinute), nil
}

func NewClientWithModel(chatModel model.ToolCallingChatModel, timeout time.Duration, perMinute int) *Client {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
		burst = perMinute
	}
	return &Client{
		chatModel: chatModel,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
	}
}

func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, schema.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, schema.UserMessage(userPrompt))
	return c.generate(ctx, msgs, nil)
}

// Chat answers a conversation with the plain model.
func (c *Client) Chat(ctx context.Context, msgs []*schema.Message) (string, error) {
	return c.generate(ctx, msgs, nil)
}

// ChatWithTools answers through a react agent that may call tools. The
// agent is built per call because tools carry per-turn context.
func (c *Client) ChatWithTools(ctx context.Context, msgs []*schema.Message, tools []tool.BaseTool) (string, error) {
	if len(tools) == 0 {
		return c.Chat(ctx, msgs)
	}
	if c == nil || c.chatModel == nil {
		return "", ErrNotConfigured
	}
	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: c.chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools,
		},
	})
	if err != nil {
		return "", fmt.Errorf("init react agent: %w", err)
	}
	return c.generate(ctx, msgs, agent)
}

func (c *Client) generate(ctx context.Context, msgs []*schema.Message, agent *react.Agent) (string, error) {
	if c == nil || c.chatModel == nil {
		return "", ErrNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	var (
		out *schema.Message
		err error
	)
	if agent != nil {
		out, err = agent.Generate(ctx, msgs)
	} else {
		out, err = c.chatModel.Generate(ctx, msgs)
	}
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(out.Content), nil
}
