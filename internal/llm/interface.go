// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// 错误定义
var (
	ErrUnknownProvider   = errors.New("未知的AI提供者")
	ErrImagesUnsupported = errors.New("当前AI提供者不支持图像生成")
	ErrEmptyResponse     = errors.New("AI提供者返回了空结果")
	ErrProviderNotReady  = errors.New("AI服务未配置")
	ErrMissingAPIKey     = errors.New("API密钥未提供")
)

// SchemaType JSON 结构化输出的类型
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
	TypeObject  SchemaType = "object"
)

// Schema 描述期望的JSON响应结构，各提供者自行转换为自己的格式
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	// 属性的输出顺序，Gemini 会按此顺序生成
	PropertyOrdering []string `json:"-"`
	Items            *Schema  `json:"items,omitempty"`
	Required         []string `json:"required,omitempty"`
}

// Message 对话历史中的一条消息
type Message struct {
	Role string `json:"role"` // user / model
	Text string `json:"text"`
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// 请求参数标准化
type CompletionRequest struct {
	Prompt       string    `json:"prompt"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	History      []Message `json:"history,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float32   `json:"temperature,omitempty"`
	Model        string    `json:"model,omitempty"`
	// 非空时要求提供者返回符合该结构的JSON
	ResponseSchema *Schema `json:"response_schema,omitempty"`
}

// WantsJSON 请求是否要求JSON输出
func (r CompletionRequest) WantsJSON() bool {
	return r.ResponseSchema != nil
}

// 响应结构标准化
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// ImageRequest 图像生成请求
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// ImageResponse 图像生成结果，Data 为 base64 编码
type ImageResponse struct {
	Data      string `json:"data"`
	MIMEType  string `json:"mime_type"`
	ModelName string `json:"model_name,omitempty"`
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 文本生成，ResponseSchema 非空时返回JSON文本
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 图像生成，不支持时返回 ErrImagesUnsupported
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// ProviderFactory 提供者工厂函数
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂，通常在提供者包的 init 中调用
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称（已排序）
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSupportedModelsForProvider 获取指定提供商支持的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}
