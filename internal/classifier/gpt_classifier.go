package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTResponse struct {
	Title string `json:"title"`
}

// GPTClassifier asks an OpenAI chat model for a title and falls back to the
// simple classifier when the call or its answer is unusable.
type GPTClassifier struct {
	client      chatClient
	model       string
	maxTokens   int
	temperature float64
	fallback    *SimpleClassifier
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewSimpleClassifier(0, 0),
		logger:      logger,
	}
}

func (c *GPTClassifier) SuggestTitle(ctx context.Context, text string) string {
	prompt := fmt.Sprintf(`Write a short title (at most 8 words) for the following personal note.
Answer in the language of the note.

Return the response as a JSON object with this structure:
{
    "title": "the title"
}

Note: %s`, text)

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallback.SuggestTitle(ctx, text)
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("GPT response has no choices")
		return c.fallback.SuggestTitle(ctx, text)
	}

	var gptResponse GPTResponse
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(response), &gptResponse); err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return c.fallback.SuggestTitle(ctx, text)
	}

	title := strings.TrimSpace(gptResponse.Title)
	if title == "" {
		return c.fallback.SuggestTitle(ctx, text)
	}
	return truncate(title, maxTitleRunes)
}
