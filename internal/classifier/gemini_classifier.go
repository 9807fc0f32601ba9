package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const geminiResponseFormat = `
Respond with a JSON object only, shaped like:
{"off_topic_messages": [{"message_id": "...", "reason": "...", "topic_type": "...", "severity": "low|medium|high"}]}`

type GeminiTopicAnalyzer struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiTopicAnalyzer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiTopicAnalyzer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiTopicAnalyzer{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

func (g *GeminiTopicAnalyzer) AnalyzeTopics(ctx context.Context, messages []models.Message) ([]TopicFinding, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(topicSystemPrompt + geminiResponseFormat)},
	}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text("Analyze the following conversation:\n\n"+formatConversation(messages)))
	if err != nil {
		return nil, fmt.Errorf("gemini analysis request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}

	findings, err := parseFindings(text.String())
	if err != nil {
		g.logger.Error("Failed to parse Gemini response", zap.Error(err), zap.String("response", text.String()))
		return nil, err
	}
	return findings, nil
}

func (g *GeminiTopicAnalyzer) Close() error {
	return g.client.Close()
}
