package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/ShayCichocki/tandem/internal/config"
)

const geminiDefaultModel = "gemini-2.5-pro"

// Gemini generates text with the Google GenAI API.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	tracker     *TokenTracker
}

// NewGemini creates a GenAI client from provider config.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, tracker *TokenTracker) (*Gemini, error) {
	apiKey, _ := config.ResolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w (set %s)", config.ErrNoAPIKey, config.EnvVar(config.KindGemini))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	if tracker == nil {
		tracker = NewTokenTracker()
	}
	return &Gemini{
		client:      client,
		model:       model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		tracker:     tracker,
	}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini/" + g.model }

// Available implements Provider. Credentials were checked at construction.
func (g *Gemini) Available(ctx context.Context) bool { return ctx.Err() == nil }

// Generate runs a single-turn content generation.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	temp := g.temperature
	if opts.Temperature != nil {
		temp = float32(*opts.Temperature)
	}
	cfg.Temperature = &temp
	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int32(opts.MaxTokens)
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if usage.Total() == 0 {
		usage = Usage{
			InputTokens:  int64(EstimateTokens("", opts.System+prompt)),
			OutputTokens: int64(EstimateTokens("", text)),
		}
	}
	g.tracker.Add(usage.InputTokens, usage.OutputTokens)

	return &Generation{
		Text:    text,
		Usage:   usage,
		Latency: time.Since(start),
		Model:   g.model,
	}, nil
}
