package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"minitwitter/internal/domain"
	openai "minitwitter/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI классифицирует текст через OpenAI-совместимый Chat Completions API.
// Таймаут и повторы задаёт вызывающий через контекст.
type OpenAI struct {
	client chatClient
	model  string
}

var _ domain.Classifier = (*OpenAI)(nil)

// NewOpenAI создаёт классификатор.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "llama3.2:1b"
	}
	return &OpenAI{client: client, model: model}
}

const systemPrompt = `You are a content moderator for a short-message social network.
Decide whether the user's text is harmful, dangerous or factually wrong.
Reply with a JSON object only: {"sentiment": "ok" | "dangerous", "correction": "..."}.
For "dangerous" put a short, safe rewrite of the text into "correction"; for "ok" leave it empty.`

type verdictPayload struct {
	Sentiment  string `json:"sentiment"`
	Verdict    string `json:"verdict"`
	Correction string `json:"correction"`
}

// Classify оценивает текст. Пустой, не-JSON или неизвестный ответ возвращает ErrMalformedVerdict.
func (c *OpenAI) Classify(ctx context.Context, text string) (domain.Verdict, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   300,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: "Analyze the following text for harmful or wrong content:\n" + clipRunes(text, 2000)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Verdict{}, fmt.Errorf("%w: empty completion", domain.ErrMalformedVerdict)
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

func parseVerdict(content string) (domain.Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	var parsed verdictPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrMalformedVerdict, err)
	}
	raw := parsed.Sentiment
	if raw == "" {
		raw = parsed.Verdict
	}
	kind, err := domain.ParseVerdictKind(raw)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: sentiment %q", err, raw)
	}
	return domain.Verdict{Kind: kind, Correction: strings.TrimSpace(parsed.Correction)}, nil
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
