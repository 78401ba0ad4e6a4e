// ABOUTME: Anthropic Messages API backend with streaming and per-session history
// ABOUTME: Emits assistant blocks as they complete and a result event per turn

package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096

	// Published per-million-token prices for the default model, used for
	// the cost figure reported in result events.
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0
)

// AnthropicConfig configures an Anthropic-backed conversation.
type AnthropicConfig struct {
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// Model defaults to claude-sonnet-4-5.
	Model string
	// MaxTokens defaults to 4096.
	MaxTokens int64
	// SystemPrompt defaults to EmailAssistantPrompt.
	SystemPrompt string
}

// Anthropic streams turns through the Anthropic Messages API. It keeps the
// full conversation history in memory, so one instance serves one session.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	logger    *slog.Logger

	mu      sync.Mutex
	history []anthropic.MessageParam
	started bool
	closed  bool
}

// NewAnthropic creates a backend for a single conversation.
func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = EmailAssistantPrompt
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		system:    system,
		logger:    logger.With("component", "anthropic-backend"),
	}
}

// Generate sends one user turn and returns the event stream for it.
func (a *Anthropic) Generate(ctx context.Context, turn string) (<-chan *Event, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrBackendClosed
	}
	firstTurn := !a.started
	a.started = true
	a.history = append(a.history, anthropic.NewUserMessage(anthropic.NewTextBlock(turn)))
	messages := make([]anthropic.MessageParam, len(a.history))
	copy(messages, a.history)
	a.mu.Unlock()

	ch := make(chan *Event, 16)
	go a.run(ctx, ch, messages, firstTurn)
	return ch, nil
}

func (a *Anthropic) run(ctx context.Context, ch chan<- *Event, messages []anthropic.MessageParam, firstTurn bool) {
	defer close(ch)

	if firstTurn {
		data, _ := json.Marshal(map[string]string{"model": string(a.model)})
		ch <- &Event{Kind: KindSystem, Subtype: "init", Data: data}
	}

	start := time.Now()
	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: a.system}},
		Messages:  messages,
	})

	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			a.logger.Warn("failed to accumulate stream event", "error", err)
			continue
		}

		// Emit each content block as soon as it completes rather than
		// waiting for the whole message.
		if stop, ok := event.AsAny().(anthropic.ContentBlockStopEvent); ok {
			if stop.Index >= 0 && int(stop.Index) < len(message.Content) {
				if blk := convertBlock(message.Content[stop.Index]); blk != nil {
					ch <- &Event{Kind: KindAssistant, Blocks: []Block{*blk}}
				}
			}
		}
	}

	duration := time.Since(start).Milliseconds()

	if err := stream.Err(); err != nil {
		a.logger.Error("streaming turn failed", "error", err)
		ch <- &Event{Kind: KindResult, Result: &Result{
			Success:    false,
			Error:      err.Error(),
			DurationMS: duration,
		}}
		return
	}

	a.mu.Lock()
	a.history = append(a.history, message.ToParam())
	a.mu.Unlock()

	var texts []string
	for _, block := range message.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			texts = append(texts, b.Text)
		}
	}

	cost := float64(message.Usage.InputTokens)*inputCostPerMTok/1e6 +
		float64(message.Usage.OutputTokens)*outputCostPerMTok/1e6

	ch <- &Event{Kind: KindResult, Result: &Result{
		Success:    true,
		Result:     strings.Join(texts, "\n"),
		CostUSD:    cost,
		DurationMS: duration,
	}}
}

func convertBlock(block anthropic.ContentBlockUnion) *Block {
	switch b := block.AsAny().(type) {
	case anthropic.TextBlock:
		return &Block{Type: BlockText, Text: b.Text}
	case anthropic.ToolUseBlock:
		return &Block{
			Type:      BlockToolUse,
			ToolName:  b.Name,
			ToolID:    b.ID,
			ToolInput: json.RawMessage(b.JSON.Input.Raw()),
		}
	default:
		return nil
	}
}

// Close marks the backend closed. In-flight turns finish on their own.
func (a *Anthropic) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
