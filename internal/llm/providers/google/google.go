// internal/llm/providers/google/google.go
package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Corphon/NovellaStudio/internal/llm"
	"google.golang.org/genai"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
)

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.5-flash-lite",
			},
		}
	})
}

// Provider 通过官方 genai SDK 调用 Gemini
type Provider struct {
	client            *genai.Client
	defaultModel      string
	imageModel        string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("google: %w", llm.ErrMissingAPIKey)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := config["base_url"]; baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return fmt.Errorf("创建Gemini客户端失败: %w", err)
	}
	p.client = client

	p.defaultModel = DefaultTextModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	p.imageModel = DefaultImageModel
	if model := config["image_model"]; model != "" {
		p.imageModel = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		role := genai.RoleUser
		if msg.Role == llm.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(req.ResponseSchema)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini请求失败: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyResponse
	}

	out := &llm.CompletionResponse{
		Text:         text,
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if resp.ModelVersion != "" {
		out.ModelName = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.PromptTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
		out.TokensUsed = int(usage.TotalTokenCount)
	}
	return out, nil
}

// GenerateImage 取第一个候选中的内联图像数据
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = p.imageModel
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("Gemini图像生成失败: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llm.ErrEmptyResponse
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return &llm.ImageResponse{
			Data:      base64.StdEncoding.EncodeToString(part.InlineData.Data),
			MIMEType:  mime,
			ModelName: model,
		}, nil
	}
	return nil, llm.ErrEmptyResponse
}

func toGenaiSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             schemaTypes[s.Type],
		Description:      s.Description,
		Required:         s.Required,
		PropertyOrdering: s.PropertyOrdering,
		Items:            toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

var schemaTypes = map[llm.SchemaType]genai.Type{
	llm.TypeString:  genai.TypeString,
	llm.TypeNumber:  genai.TypeNumber,
	llm.TypeInteger: genai.TypeInteger,
	llm.TypeBoolean: genai.TypeBoolean,
	llm.TypeArray:   genai.TypeArray,
	llm.TypeObject:  genai.TypeObject,
}
