// internal/api/settings_handlers.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/Corphon/NovellaStudio/internal/config"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/gin-gonic/gin"
)

// sseHeartbeat SSE 心跳间隔
var sseHeartbeat = 15 * time.Second

// GetSettings 返回当前设置，不包含密钥本身
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	llmConfig := map[string]interface{}{
		"default_model": cfg.LLMConfig["default_model"],
		"base_url":      cfg.LLMConfig["base_url"],
		"has_api_key":   cfg.LLMConfig["api_key"] != "",
	}

	h.Response.Success(c, gin.H{
		"llm_provider":        cfg.LLMProvider,
		"llm_config":          llmConfig,
		"storage_backend":     cfg.StorageBackend,
		"debug_mode":          cfg.DebugMode,
		"port":                cfg.Port,
		"llm_timeout_seconds": cfg.LLMTimeoutSeconds,
		"providers":           llm.ListProviders(),
	}, "设置获取成功")
}

// SaveSettings 保存LLM设置并立即切换提供商
func (h *Handler) SaveSettings(c *gin.Context) {
	var req struct {
		LLMProvider string            `json:"llm_provider" binding:"required"`
		LLMConfig   map[string]string `json:"llm_config"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	if !slices.Contains(llm.ListProviders(), req.LLMProvider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "不支持的LLM提供商: "+req.LLMProvider)
		return
	}

	// 未提交新密钥时沿用已保存的密钥
	merged := map[string]string{}
	current := config.GetCurrentConfig()
	if current.LLMProvider == req.LLMProvider {
		for k, v := range current.LLMConfig {
			merged[k] = v
		}
	}
	for k, v := range req.LLMConfig {
		if k == "api_key" && v == "" {
			continue
		}
		merged[k] = v
	}

	if err := config.UpdateLLMConfig(req.LLMProvider, merged); err != nil {
		h.Response.InternalError(c, "保存LLM配置失败", err.Error())
		return
	}
	if err := h.LLMService.UpdateProvider(req.LLMProvider, merged); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "配置已保存，但LLM服务更新失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider": req.LLMProvider,
		"model":    h.LLMService.GetDefaultModel(),
	}, "设置保存成功")
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"ready":    ready,
		"status":   state,
		"provider": h.LLMService.GetProviderName(),
		"model":    h.LLMService.GetDefaultModel(),
		"models":   h.LLMService.GetSupportedModels(),
	})
}

// GetLLMModels 获取指定LLM提供商支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")
	if provider == "" {
		provider = h.LLMService.GetProviderName()
	}
	if !slices.Contains(llm.ListProviders(), provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "不支持的LLM提供商: "+provider)
		return
	}

	models := llm.GetSupportedModelsForProvider(provider)
	h.Response.Success(c, gin.H{
		"provider": provider,
		"models":   models,
		"count":    len(models),
	})
}

// TestConnection 发送一次简短请求验证提供商可用
func (h *Handler) TestConnection(c *gin.Context) {
	if !h.LLMService.IsReady() {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable,
			"LLM服务未就绪", h.LLMService.GetReadyState())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := h.LLMService.Complete(ctx, llm.CompletionRequest{
		Prompt:      "Reply with the single word: ok",
		MaxTokens:   5,
		Temperature: 0.1,
	}); err != nil {
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"provider":   h.LLMService.GetProviderName(),
		"status":     "connected",
		"latency_ms": time.Since(start).Milliseconds(),
	}, "连接测试成功")
}

// GetTaskStatus 获取任务当前进度快照
func (h *Handler) GetTaskStatus(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}
	h.Response.Success(c, tracker.Snapshot())
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	clientGone := c.Request.Context().Done()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	writeEvent(c, "connected", gin.H{"task_id": tracker.TaskID})

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(c, "progress", update)
			if update.Status == services.TaskCompleted || update.Status == services.TaskFailed {
				return
			}
		case <-ticker.C:
			writeEvent(c, "heartbeat", gin.H{"time": time.Now().Unix()})
		}
	}
}

func writeEvent(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

// GetMetrics 进程内指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	data := h.Metrics.Collector().GetMetrics()
	data["websocket_clients"] = h.Hub.ClientCount()
	h.Response.Success(c, data)
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":    "ok",
		"llm_ready": h.LLMService.IsReady(),
		"stories":   len(h.Store.List()),
	})
}
