// internal/api/handlers.go
package api

import (
	"encoding/json"
	"net/http"

	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	Store           *store.Store              // 应用状态
	LLMService      *services.LLMService      // 模型网关
	WriterService   *services.WriterService   // AI 写作功能
	ImportService   *services.ImportService   // 稿件导入
	ExportService   *services.ExportService   // 导出与统计
	ProgressService *services.ProgressService // 进度跟踪服务
	Metrics         *utils.AppMetrics
	Hub             *StoryHub
	Locks           *services.LockManager // 每个故事一个后台任务
	Response        *ResponseHelper
}

// NewHandler 创建处理器
func NewHandler(
	st *store.Store,
	llmService *services.LLMService,
	writer *services.WriterService,
	importer *services.ImportService,
	exporter *services.ExportService,
	progress *services.ProgressService,
	metrics *utils.AppMetrics,
	hub *StoryHub,
) *Handler {
	return &Handler{
		Store:           st,
		LLMService:      llmService,
		WriterService:   writer,
		ImportService:   importer,
		ExportService:   exporter,
		ProgressService: progress,
		Metrics:         metrics,
		Hub:             hub,
		Locks:           services.NewLockManager(),
		Response:        NewResponseHelper(),
	}
}

// bindJSON 解析请求体，失败时直接返回 400
func (h *Handler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return false
	}
	return true
}

// loadStory 读取路径中的故事，不存在时返回 404
func (h *Handler) loadStory(c *gin.Context) (*models.Story, bool) {
	story, err := h.Store.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return nil, false
	}
	return &story, true
}

// ===============================
// 故事
// ===============================

// ListStories 返回全部故事，顺序即书架顺序
func (h *Handler) ListStories(c *gin.Context) {
	stories := h.Store.List()
	active, _ := h.Store.Active()
	h.Response.Success(c, gin.H{
		"stories":   stories,
		"active_id": active.ID,
		"count":     len(stories),
	})
}

// GetStory 获取单个故事
func (h *Handler) GetStory(c *gin.Context) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	h.Response.Success(c, story)
}

// CreateStory 新建空白故事并设为当前故事
func (h *Handler) CreateStory(c *gin.Context) {
	var req struct {
		Language models.Language `json:"language"`
	}
	// 请求体可以为空
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	if req.Language != "" && !req.Language.Valid() {
		h.Response.BadRequest(c, "不支持的语言: "+string(req.Language))
		return
	}

	story, err := h.Store.Create(c.Request.Context(), req.Language)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, story, "故事已创建")
}

// DeleteStory 删除故事
func (h *Handler) DeleteStory(c *gin.Context) {
	if err := h.Store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil, "故事已删除")
}

// UpdateStoryField 整体替换故事的一个字段
func (h *Handler) UpdateStoryField(c *gin.Context) {
	var req struct {
		Value json.RawMessage `json:"value" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	story, err := h.Store.UpdateField(c.Request.Context(), c.Param("id"), c.Param("field"), req.Value)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, story, "字段已更新")
}

// GetEditableFields 列出可以整体替换的字段
func (h *Handler) GetEditableFields(c *gin.Context) {
	h.Response.Success(c, gin.H{"fields": store.EditableFields()})
}

// GetActiveStory 获取当前故事
func (h *Handler) GetActiveStory(c *gin.Context) {
	story, ok := h.Store.Active()
	if !ok {
		h.Response.Error(c, http.StatusNotFound, ErrorNoActiveStory, "当前没有打开的故事")
		return
	}
	h.Response.Success(c, story)
}

// SetActiveStory 切换当前故事
func (h *Handler) SetActiveStory(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	if err := h.Store.SetActive(req.ID); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"active_id": req.ID}, "已切换当前故事")
}

// ===============================
// 章节
// ===============================

// AddChapter 在故事末尾追加新章节
func (h *Handler) AddChapter(c *gin.Context) {
	chapter, err := h.Store.AddChapter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, chapter, "章节已创建")
}

// UpdateChapter 修改章节标题或正文，未提供的字段保持不变
func (h *Handler) UpdateChapter(c *gin.Context) {
	var req store.ChapterPatch
	if !h.bindJSON(c, &req) {
		return
	}
	if req.Title == nil && req.Content == nil {
		h.Response.BadRequest(c, "至少需要提供 title 或 content")
		return
	}

	chapter, err := h.Store.UpdateChapter(c.Request.Context(), c.Param("id"), c.Param("chapterID"), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, chapter)
}

// InsertIntoChapter 在光标位置插入文本
func (h *Handler) InsertIntoChapter(c *gin.Context) {
	var req struct {
		Cursor int    `json:"cursor"`
		Text   string `json:"text" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	chapter, err := h.Store.InsertAtCursor(c.Request.Context(), c.Param("id"), c.Param("chapterID"), req.Cursor, req.Text)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, chapter)
}

// AppendToChapter 以空行分隔追加到章节末尾
func (h *Handler) AppendToChapter(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	chapter, err := h.Store.AppendToChapter(c.Request.Context(), c.Param("id"), c.Param("chapterID"), req.Text)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, chapter)
}

// ===============================
// 角色与世界设定
// ===============================

// SaveCharacter 新增或更新角色，路径中的ID优先
func (h *Handler) SaveCharacter(c *gin.Context) {
	var character models.Character
	if !h.bindJSON(c, &character) {
		return
	}
	if id := c.Param("characterID"); id != "" {
		character.ID = id
	}

	saved, err := h.Store.SaveCharacter(c.Request.Context(), c.Param("id"), character)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saved, "角色已保存")
}

// DeleteCharacter 删除角色
func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.Store.DeleteCharacter(c.Request.Context(), c.Param("id"), c.Param("characterID")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil, "角色已删除")
}

// SaveWorldItem 新增或更新世界设定
func (h *Handler) SaveWorldItem(c *gin.Context) {
	var item models.WorldItem
	if !h.bindJSON(c, &item) {
		return
	}
	if id := c.Param("itemID"); id != "" {
		item.ID = id
	}

	saved, err := h.Store.SaveWorldItem(c.Request.Context(), c.Param("id"), item)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saved, "世界设定已保存")
}

// DeleteWorldItem 删除世界设定
func (h *Handler) DeleteWorldItem(c *gin.Context) {
	if err := h.Store.DeleteWorldItem(c.Request.Context(), c.Param("id"), c.Param("itemID")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil, "世界设定已删除")
}

// GetCatalog 前端选择器的全部选项
func (h *Handler) GetCatalog(c *gin.Context) {
	h.Response.Success(c, models.DefaultCatalog())
}
