// internal/services/llm_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/NovellaStudio/internal/config"
	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"golang.org/x/time/rate"
)

// 未在配置中指定 default_model 时按提供者选择
var providerDefaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"openrouter": "google/gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5",
}

const defaultLLMTimeout = 120 * time.Second

// LLMService 所有AI调用的唯一入口：就绪检查、限速、超时、指标和结构化结果缓存
type LLMService struct {
	mu           sync.RWMutex
	provider     llm.Provider
	providerName string
	defaultModel string
	ready        bool
	readyState   string
	cache        *responseCache
	limiter      *rate.Limiter
	timeout      time.Duration

	metrics *utils.AppMetrics
	logger  *utils.Logger
}

// llmCall 一次调用所需的提供者快照
type llmCall struct {
	provider llm.Provider
	name     string
	ctx      context.Context
	cancel   context.CancelFunc
}

func newLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache:      newResponseCache(responseCacheTTL, responseCacheCapacity),
		timeout:    defaultLLMTimeout,
		logger:     utils.GetLogger(),
	}
}

// NewLLMService 按当前配置创建。缺少密钥或初始化失败时返回未就绪的服务，不返回错误
func NewLLMService() *LLMService {
	s := newLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		s.readyState = "Failed to retrieve configuration"
		return s
	}
	s.timeout = cfg.LLMTimeout()
	s.SetRateLimit(cfg.LLMRateLimit)

	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		s.readyState = "API key not configured"
		return s
	}
	if err := s.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		s.logger.Warn("LLM提供商初始化失败", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err,
		})
	}
	return s
}

// NewLLMServiceWithProvider 直接使用已初始化的提供者，测试和嵌入场景使用
func NewLLMServiceWithProvider(name string, provider llm.Provider) *LLMService {
	s := newLLMService()
	s.provider, s.providerName = provider, name
	if provider != nil {
		s.ready, s.readyState = true, "Ready"
	}
	return s
}

func (s *LLMService) SetMetrics(m *utils.AppMetrics) { s.metrics = m }
func (s *LLMService) SetLogger(l *utils.Logger)      { s.logger = l }

// SetRateLimit 每秒请求数，<=0 关闭限速
func (s *LLMService) SetRateLimit(perSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = nil
	if perSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

func (s *LLMService) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *LLMService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready && s.provider != nil
}

func (s *LLMService) GetReadyState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyState
}

// GetProviderStatus 是否就绪及原因，nil 服务视为未初始化
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	return s.IsReady(), s.GetReadyState()
}

func (s *LLMService) GetProviderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerName
}

func (s *LLMService) GetSupportedModels() []string {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p == nil {
		return []string{}
	}
	return p.GetSupportedModels()
}

// UpdateProvider 切换提供者。成功时清空缓存，失败时服务变为未就绪
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.ready = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		return err
	}

	s.provider, s.providerName = provider, providerName
	s.defaultModel = configuredModel(cfg)
	s.ready, s.readyState = true, "Ready"
	s.cache = newResponseCache(responseCacheTTL, responseCacheCapacity)

	s.logger.Info("🤖 LLM提供商已就绪", map[string]interface{}{
		"provider": providerName,
		"model":    s.defaultModel,
	})
	return nil
}

// GetDefaultModel 请求未指定模型时实际使用的模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

// resolveModel 依次取：请求指定、配置的 default_model、提供者默认、提供者模型列表第一个
func (s *LLMService) resolveModel(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}

	s.mu.RLock()
	p, name, configured := s.provider, s.providerName, s.defaultModel
	s.mu.RUnlock()

	if configured != "" {
		return configured
	}
	if m, ok := providerDefaultModels[name]; ok {
		return m
	}
	if p != nil {
		if models := p.GetSupportedModels(); len(models) > 0 {
			return strings.TrimSpace(models[0])
		}
	}
	return ""
}

func configuredModel(cfg map[string]string) string {
	for _, key := range []string{"default_model", "model"} {
		if m := strings.TrimSpace(cfg[key]); m != "" {
			return m
		}
	}
	return ""
}

// begin 检查就绪、等待限速令牌，返回带超时的调用上下文
func (s *LLMService) begin(ctx context.Context) (*llmCall, error) {
	s.mu.RLock()
	p, name := s.provider, s.providerName
	ready, state := s.ready, s.readyState
	limiter, timeout := s.limiter, s.timeout
	s.mu.RUnlock()

	if !ready || p == nil {
		return nil, apperrors.NewUnavailableError("AI服务未就绪: "+state, llm.ErrProviderNotReady)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, classifyCallError(ctx, err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	return &llmCall{provider: p, name: name, ctx: callCtx, cancel: cancel}, nil
}

// Complete 单次文本生成，不走缓存
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	call, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer call.cancel()

	req.Model = s.resolveModel(req.Model)
	start := time.Now()
	resp, err := call.provider.CompleteText(call.ctx, req)
	if err != nil {
		s.recordError("llm_completion")
		return nil, classifyCallError(call.ctx, err)
	}
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(call.name, resp.ModelName, resp.TokensUsed, time.Since(start))
	}
	return resp, nil
}

// CreateStructuredCompletion 请求JSON输出并解析到 out。解析成功的结果按提示词、结构、模型缓存
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, req llm.CompletionRequest, out interface{}) error {
	if !req.WantsJSON() {
		return fmt.Errorf("structured completion requires a response schema")
	}
	req.Model = s.resolveModel(req.Model)

	schema, _ := json.Marshal(req.ResponseSchema)
	key := cacheKey(s.GetProviderName(), req.Model, req.SystemPrompt, string(schema), req.Prompt)
	if s.fromCache(key, out) {
		return nil
	}

	resp, err := s.Complete(ctx, req)
	if err != nil {
		return err
	}
	text := extractJSON(resp.Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		s.recordError("llm_parse")
		return apperrors.NewProcessingError("AI返回的内容无法解析为结构化数据", err)
	}
	s.currentCache().put(key, []byte(text))
	return nil
}

// GenerateImage 提供者不支持图像时返回校验错误
func (s *LLMService) GenerateImage(ctx context.Context, prompt string) (*llm.ImageResponse, error) {
	call, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer call.cancel()

	start := time.Now()
	resp, err := call.provider.GenerateImage(call.ctx, llm.ImageRequest{Prompt: prompt})
	switch {
	case errors.Is(err, llm.ErrImagesUnsupported):
		return nil, apperrors.NewValidationError("当前AI提供者不支持图像生成: "+call.name, err)
	case err != nil:
		s.recordError("llm_image")
		return nil, classifyCallError(call.ctx, err)
	}
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(call.name, resp.ModelName, 0, time.Since(start))
	}
	return resp, nil
}

// classifyCallError 超时归为 timeout，取消原样返回，其余提供者错误归为 unavailable
func classifyCallError(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewTimeoutError("AI请求超时", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.NewUnavailableError("AI请求失败", err)
	}
}

func (s *LLMService) recordError(component string) {
	if s.metrics != nil {
		s.metrics.RecordError("llm", component)
	}
}

func (s *LLMService) currentCache() *responseCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

func (s *LLMService) fromCache(key string, out interface{}) bool {
	payload, ok := s.currentCache().get(key)
	if !ok || json.Unmarshal(payload, out) != nil {
		return false
	}
	s.logger.Debug("LLM cache hit", map[string]interface{}{"cache_key_prefix": key[:8]})
	return true
}
