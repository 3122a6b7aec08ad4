// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/NovellaStudio/internal/llm"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"
	defaultTitle   = "Novella Studio"
)

var recommended = []string{
	defaultModel,
	"anthropic/claude-sonnet-4",
	"openai/gpt-4o-mini",
	"mistralai/mistral-small-3.2-24b-instruct:free",
	"qwen/qwen3-235b-a22b:free",
}

func init() {
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{baseURL: defaultBaseURL, model: defaultModel, title: defaultTitle}
	})
}

// Provider 走 OpenAI chat completions 协议，base_url 可以指向任意兼容服务
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	title   string // X-Title
	referer string // HTTP-Referer
	models  []string
	client  *http.Client
}

// Initialize 读取 api_key、default_model、base_url、app_name、http_referer、custom_models
func (p *Provider) Initialize(config map[string]string) error {
	if config["api_key"] == "" {
		return fmt.Errorf("openrouter: %w", llm.ErrMissingAPIKey)
	}
	p.apiKey = config["api_key"]
	p.client = &http.Client{}

	if v := config["default_model"]; v != "" {
		p.model = v
	}
	if v := config["base_url"]; v != "" {
		p.baseURL = strings.TrimRight(v, "/")
	}
	if v, ok := config["app_name"]; ok {
		p.title = v
	}
	p.referer = config["http_referer"]

	// custom_models 是 JSON 字符串数组，解析失败时忽略
	if raw := config["custom_models"]; raw != "" {
		var models []string
		if json.Unmarshal([]byte(raw), &models) == nil && len(models) > 0 {
			p.models = models
		}
	}
	return nil
}

func (p *Provider) GetName() string { return "OpenRouter" }

func (p *Provider) GetSupportedModels() []string {
	if len(p.models) > 0 {
		return p.models
	}
	return recommended
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"` // 实际路由到的模型
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// buildMessages json_object 模式不校验结构，所以把结构写进系统提示
func buildMessages(req llm.CompletionRequest) ([]chatMessage, error) {
	system := req.SystemPrompt
	if req.WantsJSON() {
		schema, err := json.Marshal(req.ResponseSchema)
		if err != nil {
			return nil, err
		}
		if system != "" {
			system += "\n\n"
		}
		system += "Respond ONLY with valid JSON matching this JSON schema:\n" + string(schema)
	}

	out := make([]chatMessage, 0, len(req.History)+2)
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == llm.RoleModel {
			role = "assistant"
		}
		out = append(out, chatMessage{Role: role, Content: m.Text})
	}
	return append(out, chatMessage{Role: "user", Content: req.Prompt}), nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}
	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = p.model
	}
	if req.WantsJSON() {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	if err := p.post(ctx, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, llm.ErrEmptyResponse
	}

	model := out.Model
	if model == "" {
		model = body.Model
	}
	return &llm.CompletionResponse{
		Text:         out.Choices[0].Message.Content,
		FinishReason: out.Choices[0].FinishReason,
		TokensUsed:   out.Usage.TotalTokens,
		PromptTokens: out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("X-Title", p.title)
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("OpenRouter API错误(%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GenerateImage chat completions 没有图像接口
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	return nil, errors.Join(llm.ErrImagesUnsupported, fmt.Errorf("provider %s", p.GetName()))
}
