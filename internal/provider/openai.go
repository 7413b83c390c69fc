package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ShayCichocki/tandem/internal/config"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// availabilityTimeout bounds the model listing used as a health probe.
const availabilityTimeout = 3 * time.Second

// OpenAI generates text with the Chat Completions API. Any compatible
// server works, which makes it the usual local tier backend.
type OpenAI struct {
	client      openai.Client
	model       string
	baseURL     string
	maxTokens   int64
	temperature float64
	tracker     *TokenTracker
}

// NewOpenAI creates a Chat Completions client from provider config.
func NewOpenAI(cfg config.ProviderConfig, tracker *TokenTracker) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	apiKey, _ := config.ResolveAPIKey(cfg)
	if apiKey == "" {
		if config.RequiresAPIKey(cfg) {
			return nil, fmt.Errorf("openai: %w (set %s)", config.ErrNoAPIKey, config.EnvVar(config.KindOpenAI))
		}
		// Local servers ignore the key but the SDK wants one.
		apiKey = "local"
	}

	if tracker == nil {
		tracker = NewTokenTracker()
	}
	return &OpenAI{
		client:      openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:       cfg.Model,
		baseURL:     baseURL,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		tracker:     tracker,
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai/" + o.model }

// Available lists models on the server as a cheap health probe.
func (o *OpenAI) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	_, err := o.client.Models.List(ctx)
	return err == nil
}

// Generate sends a chat completion with an optional system message.
// Servers that omit usage get a tokenizer estimate instead.
func (o *OpenAI) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: messages,
	}
	maxTokens := o.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(maxTokens)
	}
	temperature := o.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	params.Temperature = openai.Float(temperature)

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai generate: response has no choices")
	}

	text := resp.Choices[0].Message.Content
	usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if usage.Total() == 0 {
		usage = Usage{
			InputTokens:  int64(EstimateTokens(o.model, opts.System+prompt)),
			OutputTokens: int64(EstimateTokens(o.model, text)),
		}
	}
	o.tracker.Add(usage.InputTokens, usage.OutputTokens)

	model := resp.Model
	if model == "" {
		model = o.model
	}
	return &Generation{
		Text:    text,
		Usage:   usage,
		Latency: time.Since(start),
		Model:   model,
	}, nil
}
