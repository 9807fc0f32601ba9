package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

type GPTTopicAnalyzer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTTopicAnalyzer(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTTopicAnalyzer {
	return &GPTTopicAnalyzer{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (c *GPTTopicAnalyzer) AnalyzeTopics(ctx context.Context, messages []models.Message) ([]TopicFinding, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: topicSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: "Analyze the following conversation:\n\n" + formatConversation(messages),
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        offTopicFunction,
						Description: "Report messages that are off topic for the lesson",
						Parameters:  json.RawMessage(offTopicSchema),
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: offTopicFunction},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get GPT response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("GPT response has no choices")
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name != offTopicFunction {
			continue
		}
		findings, err := parseFindings(call.Function.Arguments)
		if err != nil {
			c.logger.Error("Failed to parse GPT response",
				zap.Error(err),
				zap.String("response", call.Function.Arguments))
			return nil, err
		}
		return findings, nil
	}

	// The model answered in plain text instead of calling the tool.
	c.logger.Debug("GPT response carried no tool call", zap.String("model", c.model))
	return nil, nil
}
