package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

// GenerationProvider turns a conversation context into reply text.
type GenerationProvider interface {
	GenerateText(ctx context.Context, convo types.ConversationContext) (string, error)
	Model() string
}

var ErrEmptyReply = errors.New("provider returned no text")

// ProviderStatusError is a non-2xx answer from the provider.
type ProviderStatusError struct {
	StatusCode int
	Body       string
}

func (e *ProviderStatusError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.StatusCode, e.Body)
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiService struct {
	log         *logger.Logger
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// NewGeminiService builds the generateContent client. Timeouts are applied by
// the caller through ctx.
func NewGeminiService(cfg config.AIConfig, client *http.Client, log *logger.Logger) GenerationProvider {
	serviceLog := log.With("service", "GeminiService", "model", cfg.Model)
	if cfg.APIKey == "" {
		serviceLog.Warn("AI_API_KEY not set; calls might fail or be unauthorized")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &geminiService{
		log:         serviceLog,
		client:      client,
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
	}
}

func (gs *geminiService) Model() string {
	return gs.model
}

func (gs *geminiService) GenerateText(ctx context.Context, convo types.ConversationContext) (string, error) {
	const op = "GeminiService.GenerateText"

	//1) Build request body
	payload := geminiRequest{
		Contents: toGeminiContents(convo.Turns),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     gs.temperature,
			MaxOutputTokens: gs.maxTokens,
		},
	}
	if len(payload.Contents) == 0 {
		return "", errordata.Provider(op, "no user turn to answer", ErrEmptyReply)
	}
	if convo.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: convo.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errordata.Provider(op, "failed to encode request", err)
	}

	//2) Call provider
	reqURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", gs.baseURL, url.PathEscape(gs.model), url.QueryEscape(gs.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		gs.log.Warn("failed to build new request", "error", err)
		return "", errordata.Provider(op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := gs.client.Do(req)
	if err != nil {
		gs.log.Warn("failed to call gemini", "error", err)
		return "", errordata.Provider(op, "provider unreachable", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		gs.log.Warn("failed to read gemini response body", "error", err)
		return "", errordata.Provider(op, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gs.log.Warn("gemini responded with non-2xx", "statusCode", resp.StatusCode, "body", truncate(string(bodyBytes), 512))
		return "", errordata.Provider(op, "provider rejected request", &ProviderStatusError{StatusCode: resp.StatusCode, Body: truncate(string(bodyBytes), 512)})
	}

	//3) Extract text
	var out geminiResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		gs.log.Warn("gemini response is not valid JSON", "error", err)
		return "", errordata.Provider(op, "malformed response", err)
	}
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			gs.log.Warn("gemini blocked the prompt", "blockReason", out.PromptFeedback.BlockReason)
		}
		return "", errordata.Provider(op, "no candidates", ErrEmptyReply)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errordata.Provider(op, "empty candidate", ErrEmptyReply)
	}
	gs.log.Debug("Gemini call success", "finishReason", out.Candidates[0].FinishReason, "chars", len(text))
	return text, nil
}

// toGeminiContents maps turns onto Gemini roles. Consecutive turns with the
// same role are merged and leading model turns dropped, since the API wants
// alternating roles starting with the user.
func toGeminiContents(turns []types.Turn) []geminiContent {
	var contents []geminiContent
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := "user"
		if t.Role == types.RoleAssistant {
			role = "model"
		}
		if len(contents) == 0 && role == "model" {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, geminiPart{Text: t.Content})
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Content}}})
	}
	return contents
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
