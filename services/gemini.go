package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"clarify/models"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiOracle scores messages with a Gemini model.
type GeminiOracle struct {
	client *genai.Client
	model  string
}

func NewGeminiOracle(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	config := &genai.ClientConfig{}
	if apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiOracle{client: client, model: model}, nil
}

func (g *GeminiOracle) Invoke(ctx context.Context, req OracleRequest) (json.RawMessage, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("gemini client not initialized")
	}
	prompt := req.Prompt
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		prompt += "\n\nThe JSON must satisfy this schema:\n" + string(schema)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	text := cleanModelOutput(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty model response", models.ErrContractViolation)
	}
	return json.RawMessage(text), nil
}

func classifyGeminiError(err error) error {
	code := 0
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	msg := err.Error()
	switch {
	case code == http.StatusTooManyRequests, strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("gemini: %v: %w", err, models.ErrRateLimited)
	case code >= 500, strings.Contains(msg, "UNAVAILABLE"):
		return fmt.Errorf("gemini: %v: %w", err, models.ErrTransient)
	}
	return fmt.Errorf("gemini: %w", err)
}

func cleanModelOutput(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
