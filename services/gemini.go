package services

import (
	"context"
	"fmt"
	"strings"

	"plantops/models"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiReasoner asks a Gemini model for a decision through the genai SDK.
type GeminiReasoner struct {
	client  *genai.Client
	model   string
	tracker *UsageTracker
	logger  *zap.Logger
}

func NewGeminiReasoner(ctx context.Context, apiKey, model string, tracker *UsageTracker, logger *zap.Logger) (*GeminiReasoner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiReasoner{
		client:  client,
		model:   model,
		tracker: tracker,
		logger:  logger,
	}, nil
}

func (g *GeminiReasoner) Decide(ctx context.Context, req *models.DecisionRequest) (*models.Decision, error) {
	parts := []*genai.Part{genai.NewPartFromText(BuildUserPrompt(req))}
	photo := loadPhoto(req.PhotoPath, g.logger)
	if photo != nil {
		parts = append(parts,
			genai.NewPartFromBytes(photo, "image/jpeg"),
			genai.NewPartFromText("A photo of the plant is attached above. Factor any visible stress into the decision."),
		)
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(req), genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}

	g.logger.Info("Requesting plant decision",
		zap.String("provider", "gemini"),
		zap.String("model", g.model),
		zap.Bool("photo", photo != nil))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	if resp.UsageMetadata != nil {
		in := int64(resp.UsageMetadata.PromptTokenCount)
		out := int64(resp.UsageMetadata.CandidatesTokenCount)
		g.tracker.Record(in, out)
		g.logger.Info("Decision response received",
			zap.Int64("input_tokens", in),
			zap.Int64("output_tokens", out))
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("reasoning service returned an empty response")
	}
	return ParseDecision(text)
}
