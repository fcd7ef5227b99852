package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekRequest struct {
	Model       string            `json:"model"`
	Messages    []deepseekMessage `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream"`
}

type deepseekResponse struct {
	Choices []struct {
		Message      deepseekMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
}

type deepseekService struct {
	log         *logger.Logger
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// NewDeepseekService builds a client for the chat-completions API served by
// DeepSeek (and other OpenAI-compatible endpoints).
func NewDeepseekService(cfg config.AIConfig, client *http.Client, log *logger.Logger) GenerationProvider {
	serviceLog := log.With("service", "DeepseekService", "model", cfg.Model)
	if cfg.APIKey == "" {
		serviceLog.Warn("AI_API_KEY not set; calls might fail or be unauthorized")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &deepseekService{
		log:         serviceLog,
		client:      client,
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
	}
}

// NewGenerationProvider picks the provider named by AI_PROVIDER.
func NewGenerationProvider(cfg config.AIConfig, client *http.Client, log *logger.Logger) GenerationProvider {
	if cfg.Provider == config.ProviderDeepseek {
		return NewDeepseekService(cfg, client, log)
	}
	return NewGeminiService(cfg, client, log)
}

func (ds *deepseekService) Model() string {
	return ds.model
}

func (ds *deepseekService) GenerateText(ctx context.Context, convo types.ConversationContext) (string, error) {
	const op = "DeepseekService.GenerateText"

	//1) Build request body
	payload := deepseekRequest{
		Model:       ds.model,
		Messages:    toDeepseekMessages(convo),
		Temperature: ds.temperature,
		MaxTokens:   ds.maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errordata.Provider(op, "failed to encode request", err)
	}

	//2) Call provider
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ds.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		ds.log.Warn("failed to build new request", "error", err)
		return "", errordata.Provider(op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ds.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+ds.apiKey)
	}
	resp, err := ds.client.Do(req)
	if err != nil {
		ds.log.Warn("failed to call deepseek", "error", err)
		return "", errordata.Provider(op, "provider unreachable", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		ds.log.Warn("failed to read deepseek response body", "error", err)
		return "", errordata.Provider(op, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ds.log.Warn("deepseek responded with non-2xx", "statusCode", resp.StatusCode, "body", truncate(string(bodyBytes), 512))
		return "", errordata.Provider(op, "provider rejected request", &ProviderStatusError{StatusCode: resp.StatusCode, Body: truncate(string(bodyBytes), 512)})
	}

	//3) Extract text
	var out deepseekResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		ds.log.Warn("deepseek response is not valid JSON", "error", err)
		return "", errordata.Provider(op, "malformed response", err)
	}
	if len(out.Choices) == 0 {
		return "", errordata.Provider(op, "no choices", ErrEmptyReply)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errordata.Provider(op, "empty choice", ErrEmptyReply)
	}
	ds.log.Debug("Deepseek call success", "finishReason", out.Choices[0].FinishReason, "chars", len(text))
	return text, nil
}

func toDeepseekMessages(convo types.ConversationContext) []deepseekMessage {
	msgs := make([]deepseekMessage, 0, len(convo.Turns)+1)
	if convo.System != "" {
		msgs = append(msgs, deepseekMessage{Role: "system", Content: convo.System})
	}
	for _, t := range convo.Turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		msgs = append(msgs, deepseekMessage{Role: t.Role, Content: t.Content})
	}
	return msgs
}
