// internal/llm/providers/anthropic/anthropic.go
package anthropic

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
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-sonnet-4-5"
	defaultMaxTokens  = 8192

	// 结构化输出通过强制调用该工具实现
	respondTool = "respond"
)

var recommended = []string{defaultModel, "claude-haiku-4-5", "claude-opus-4-1"}

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{baseURL: defaultBaseURL, version: defaultAPIVersion, model: defaultModel}
	})
}

// Provider Messages API
type Provider struct {
	apiKey  string
	baseURL string
	version string
	model   string
	models  []string
	client  *http.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	if config["api_key"] == "" {
		return fmt.Errorf("anthropic: %w", llm.ErrMissingAPIKey)
	}
	p.apiKey = config["api_key"]
	p.client = &http.Client{}

	for key, dst := range map[string]*string{
		"default_model": &p.model,
		"base_url":      &p.baseURL,
		"api_version":   &p.version,
	} {
		if v := config[key]; v != "" {
			*dst = v
		}
	}
	p.baseURL = strings.TrimRight(p.baseURL, "/")

	if raw := config["custom_models"]; raw != "" {
		var models []string
		if json.Unmarshal([]byte(raw), &models) == nil && len(models) > 0 {
			p.models = models
		}
	}
	return nil
}

func (p *Provider) GetName() string { return "Anthropic Claude" }

func (p *Provider) GetSupportedModels() []string {
	if len(p.models) > 0 {
		return p.models
	}
	return recommended
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema *llm.Schema `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type messagesRequest struct {
	Model       string      `json:"model"`
	System      string      `json:"system,omitempty"`
	Messages    []message   `json:"messages"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float32     `json:"temperature,omitempty"`
	Tools       []tool      `json:"tools,omitempty"`
	ToolChoice  *toolChoice `json:"tool_choice,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type messagesResponse struct {
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toolSchema input_schema 只接受对象，其他结构包进 items 字段。wrapped 表示是否包过
func toolSchema(s *llm.Schema) (schema *llm.Schema, wrapped bool) {
	if s.Type == llm.TypeObject {
		return s, false
	}
	return &llm.Schema{
		Type:       llm.TypeObject,
		Properties: map[string]*llm.Schema{"items": s},
		Required:   []string{"items"},
	}, true
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := messagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]message, 0, len(req.History)+1),
	}
	if body.Model == "" {
		body.Model = p.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == llm.RoleModel {
			role = "assistant"
		}
		body.Messages = append(body.Messages, message{Role: role, Content: m.Text})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: req.Prompt})

	var wrapped bool
	if req.WantsJSON() {
		var schema *llm.Schema
		schema, wrapped = toolSchema(req.ResponseSchema)
		body.Tools = []tool{{Name: respondTool, Description: "Return the requested data.", InputSchema: schema}}
		body.ToolChoice = &toolChoice{Type: "tool", Name: respondTool}
	}

	var out messagesResponse
	if err := p.post(ctx, body, &out); err != nil {
		return nil, err
	}

	text, err := extractText(out.Content, req.WantsJSON(), wrapped)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, llm.ErrEmptyResponse
	}

	model := out.Model
	if model == "" {
		model = body.Model
	}
	return &llm.CompletionResponse{
		Text:         text,
		FinishReason: out.StopReason,
		TokensUsed:   out.Usage.InputTokens + out.Usage.OutputTokens,
		PromptTokens: out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// extractText 结构化请求取 respond 工具的输入，否则拼接所有文本块
func extractText(blocks []contentBlock, structured, wrapped bool) (string, error) {
	var sb strings.Builder
	for _, b := range blocks {
		switch {
		case structured && b.Type == "tool_use" && b.Name == respondTool:
			if !wrapped {
				return string(b.Input), nil
			}
			var holder struct {
				Items json.RawMessage `json:"items"`
			}
			if err := json.Unmarshal(b.Input, &holder); err != nil {
				return "", fmt.Errorf("解析工具输出失败: %w", err)
			}
			return string(holder.Items), nil
		case b.Type == "text":
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func (p *Provider) post(ctx context.Context, in messagesRequest, out *messagesResponse) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", p.version)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("anthropic api错误(%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GenerateImage Messages API 不生成图像
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	return nil, errors.Join(llm.ErrImagesUnsupported, fmt.Errorf("provider %s", p.GetName()))
}
