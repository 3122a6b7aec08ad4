// internal/api/ai_handlers.go
package api

import (
	"context"
	"fmt"

	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/prompt"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProseRequest 续写请求
type ProseRequest struct {
	ChapterID   string             `json:"chapter_id" binding:"required"`
	Cursor      int                `json:"cursor"`
	Length      prompt.ProseLength `json:"length"`
	Instruction string             `json:"instruction"`
	// Commit 为 true 时把生成的文本插入光标位置
	Commit bool `json:"commit"`
}

// GenerateProse 在光标处续写
func (h *Handler) GenerateProse(c *gin.Context) {
	var req ProseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	opts := services.ProseOptions{Length: req.Length, Instruction: req.Instruction}

	if req.Commit {
		result, err := h.WriterService.WriteAtCursor(c.Request.Context(), c.Param("id"), req.ChapterID, req.Cursor, opts)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		h.Response.Success(c, result, "续写内容已插入")
		return
	}

	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	text, err := h.WriterService.GenerateProse(c.Request.Context(), story, req.ChapterID, req.Cursor, opts)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, services.WriteResult{Text: text})
}

// GenerateBeats 为章节生成后续节拍，失败时返回默认节拍
func (h *Handler) GenerateBeats(c *gin.Context) {
	var req struct {
		ChapterID string `json:"chapter_id" binding:"required"`
		Preceding string `json:"preceding"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	if story.FindChapter(req.ChapterID) < 0 {
		h.Response.NotFound(c, "章节")
		return
	}

	beats := h.WriterService.GenerateChapterBeats(c.Request.Context(), story, req.ChapterID, req.Preceding)
	h.Response.Success(c, gin.H{"beats": beats})
}

// PanicWrite 后台执行冲刺写作，通过任务ID查看进度
func (h *Handler) PanicWrite(c *gin.Context) {
	var req struct {
		ChapterID   string `json:"chapter_id" binding:"required"`
		Cursor      int    `json:"cursor"`
		Instruction string `json:"instruction"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	if story.FindChapter(req.ChapterID) < 0 {
		h.Response.NotFound(c, "章节")
		return
	}

	h.runTask(c, story.ID, "panic", func(ctx context.Context, tracker *services.ProgressTracker) (any, error) {
		return h.WriterService.PanicWrite(ctx, story.ID, req.ChapterID, req.Cursor, req.Instruction, tracker)
	})
}

// Genesis 后台依次生成世界观、角色与情节
func (h *Handler) Genesis(c *gin.Context) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	if err := services.CheckGenesisPrerequisites(story); err != nil {
		h.Response.FromError(c, err)
		return
	}

	h.runTask(c, story.ID, "genesis", func(ctx context.Context, tracker *services.ProgressTracker) (any, error) {
		return h.WriterService.Genesis(ctx, story.ID, tracker)
	})
}

// runTask 在后台运行任务，立即返回 202 与任务ID。同一故事已有任务在运行时返回 409
func (h *Handler) runTask(c *gin.Context, storyID, kind string, fn func(ctx context.Context, tracker *services.ProgressTracker) (any, error)) {
	taskID := uuid.NewString()
	release, err := h.Locks.TryAcquire(storyID, kind, taskID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	tracker := h.ProgressService.CreateTracker(taskID, kind)

	ctx := context.WithoutCancel(c.Request.Context())
	go runBackground(ctx, storyID, tracker, release, fn)

	h.Response.Accepted(c, gin.H{
		"task_id":      tracker.TaskID,
		"progress_url": "/api/progress/" + tracker.TaskID,
	}, "任务已开始，请订阅进度更新")
}

// runBackground 执行任务并结束跟踪器。先释放锁再标记完成或失败
func runBackground(ctx context.Context, storyID string, tracker *services.ProgressTracker, release func(), fn func(ctx context.Context, tracker *services.ProgressTracker) (any, error)) {
	result, err := callTask(ctx, storyID, tracker, fn)
	release()
	if err != nil {
		tracker.Fail(err.Error())
		return
	}
	tracker.Complete("完成", result)
}

// callTask 把任务中的 panic 转为错误
func callTask(ctx context.Context, storyID string, tracker *services.ProgressTracker, fn func(ctx context.Context, tracker *services.ProgressTracker) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().Error("后台任务崩溃", map[string]interface{}{
				"story_id": storyID,
				"task_id":  tracker.TaskID,
				"kind":     tracker.Kind,
				"err":      fmt.Sprint(r),
			})
			result, err = nil, fmt.Errorf("内部错误: %v", r)
		}
	}()
	return fn(ctx, tracker)
}

// Brainstorm 自由头脑风暴
func (h *Handler) Brainstorm(c *gin.Context) {
	var req struct {
		ElementType string `json:"element_type" binding:"required"`
		Input       string `json:"input"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	h.brainstorm(c, func(ctx context.Context, story *models.Story) (string, error) {
		return h.WriterService.Brainstorm(ctx, req.ElementType, story, req.Input)
	})
}

// BrainstormCharacter 生成单个角色档案
func (h *Handler) BrainstormCharacter(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Archetype string `json:"archetype"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	h.brainstorm(c, func(ctx context.Context, story *models.Story) (string, error) {
		return h.WriterService.GenerateCharacterProfile(ctx, story, req.Name, req.Archetype)
	})
}

// BrainstormWorld 生成某类世界观设定
func (h *Handler) BrainstormWorld(c *gin.Context) {
	var req struct {
		Category string `json:"category" binding:"required"`
		Topic    string `json:"topic"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	h.brainstorm(c, func(ctx context.Context, story *models.Story) (string, error) {
		return h.WriterService.GenerateWorldElement(ctx, story, req.Category, req.Topic)
	})
}

// BrainstormPlot 按情节结构生成大纲
func (h *Handler) BrainstormPlot(c *gin.Context) {
	var req struct {
		Structure string `json:"structure" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	h.brainstorm(c, func(ctx context.Context, story *models.Story) (string, error) {
		return h.WriterService.GeneratePlotStructure(ctx, story, req.Structure)
	})
}

// BrainstormList 生成清单
func (h *Handler) BrainstormList(c *gin.Context) {
	var req struct {
		Kind string `json:"kind" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	h.brainstorm(c, func(ctx context.Context, story *models.Story) (string, error) {
		return h.WriterService.GenerateList(ctx, story, req.Kind)
	})
}

func (h *Handler) brainstorm(c *gin.Context, fn func(ctx context.Context, story *models.Story) (string, error)) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	text, err := fn(c.Request.Context(), story)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"text": text})
}

// AutoSetup 生成标题、前提、基调与文风建议
func (h *Handler) AutoSetup(c *gin.Context) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	setup, err := h.WriterService.AutoSetup(c.Request.Context(), story)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, setup)
}

// AnalyzeStyle 分析写作样本的文风，样本为空时使用故事的文风参考
func (h *Handler) AnalyzeStyle(c *gin.Context) {
	var req struct {
		Sample string `json:"sample"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	sample := req.Sample
	if sample == "" {
		sample = story.StyleReference
	}

	style, err := h.WriterService.AnalyzeWritingStyle(c.Request.Context(), sample, story.Language)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"writing_style": style})
}

// GenerateCast 生成一组角色，append 为 true 时直接加入故事
func (h *Handler) GenerateCast(c *gin.Context) {
	var req struct {
		Append bool `json:"append"`
	}
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	story, ok := h.loadStory(c)
	if !ok {
		return
	}

	cast, err := h.WriterService.GenerateStructuredCast(c.Request.Context(), story)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	if req.Append {
		if cast, err = h.Store.AppendCharacters(c.Request.Context(), story.ID, cast); err != nil {
			h.Response.FromError(c, err)
			return
		}
	}
	h.Response.Success(c, gin.H{"characters": cast, "appended": req.Append})
}

// RefineCharacter 深化角色档案并保存
func (h *Handler) RefineCharacter(c *gin.Context) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	idx := story.FindCharacter(c.Param("characterID"))
	if idx < 0 {
		h.Response.NotFound(c, "角色")
		return
	}

	refined, err := h.WriterService.RefineCharacter(c.Request.Context(), story, story.Characters[idx])
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	saved, err := h.Store.SaveCharacter(c.Request.Context(), story.ID, refined)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saved, "角色档案已深化")
}

// RefineWorldItem 深化世界设定并保存
func (h *Handler) RefineWorldItem(c *gin.Context) {
	story, ok := h.loadStory(c)
	if !ok {
		return
	}
	idx := story.FindWorldItem(c.Param("itemID"))
	if idx < 0 {
		h.Response.NotFound(c, "世界设定")
		return
	}

	refined, err := h.WriterService.RefineWorldItem(c.Request.Context(), story, story.WorldItems[idx])
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	saved, err := h.Store.SaveWorldItem(c.Request.Context(), story.ID, refined)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saved, "世界设定已深化")
}

type paintRequest struct {
	Style string `json:"style"`
}

// PaintCharacter 生成角色肖像并保存
func (h *Handler) PaintCharacter(c *gin.Context) {
	var req paintRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	character, err := h.WriterService.PaintCharacter(c.Request.Context(), c.Param("id"), c.Param("characterID"), req.Style)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, character, "肖像已生成")
}

// PaintWorldItem 生成世界设定插图并保存
func (h *Handler) PaintWorldItem(c *gin.Context) {
	var req paintRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	item, err := h.WriterService.PaintWorldItem(c.Request.Context(), c.Param("id"), c.Param("itemID"), req.Style)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, item, "插图已生成")
}

// Chat 与写作助手对话，客户端保存并回传完整历史
func (h *Handler) Chat(c *gin.Context) {
	var req struct {
		Messages []models.ChatMessage `json:"messages" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	story, ok := h.loadStory(c)
	if !ok {
		return
	}

	reply, err := h.WriterService.Chat(c.Request.Context(), req.Messages, story)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, reply)
}
