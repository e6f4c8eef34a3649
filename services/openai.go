package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"clarify/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOracle scores messages with an OpenAI chat model in JSON mode.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

func NewOpenAIOracle(apiKey, model string) (*OpenAIOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIOracle{client: openai.NewClient(apiKey), model: model}, nil
}

func (o *OpenAIOracle) Invoke(ctx context.Context, req OracleRequest) (json.RawMessage, error) {
	system := "You are a conversation coach. Reply with a single JSON object."
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		system += " The object must satisfy this JSON schema: " + string(schema)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", models.ErrContractViolation)
	}
	return json.RawMessage(cleanModelOutput(resp.Choices[0].Message.Content)), nil
}

func classifyOpenAIError(err error) error {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %v: %w", err, models.ErrRateLimited)
	case code >= 500:
		return fmt.Errorf("openai: %v: %w", err, models.ErrTransient)
	}
	return fmt.Errorf("openai: %w", err)
}
