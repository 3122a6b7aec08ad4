// internal/api/manuscript_handlers.go
package api

import (
	"net/http"
	"strconv"

	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/gin-gonic/gin"
)

// manuscriptInput 导入与分章共用的输入：JSON 正文或 multipart 上传的 file 字段
type manuscriptInput struct {
	Text     string          `json:"text"`
	Language models.Language `json:"language"`
	Async    bool            `json:"async"`
}

// readManuscript 读取请求中的稿件，失败时已写入错误响应
func (h *Handler) readManuscript(c *gin.Context) (manuscriptInput, bool) {
	var in manuscriptInput

	if c.ContentType() == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxUploadBytes+1<<20)
		fileHeader, err := c.FormFile("file")
		if err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "缺少上传文件", err.Error())
			return in, false
		}
		file, err := fileHeader.Open()
		if err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "无法读取上传文件", err.Error())
			return in, false
		}
		defer file.Close()

		text, err := services.DecodeUpload(file)
		if err != nil {
			h.Response.FromError(c, err)
			return in, false
		}
		in.Text = text
		in.Language = models.Language(c.PostForm("language"))
		in.Async, _ = strconv.ParseBool(c.PostForm("async"))
		return in, true
	}

	if !h.bindJSON(c, &in) {
		return in, false
	}
	in.Text = services.NormalizeNewlines(in.Text)
	return in, true
}

// ImportManuscript 导入稿件为新故事。async 为 true 时后台执行并返回任务ID
func (h *Handler) ImportManuscript(c *gin.Context) {
	in, ok := h.readManuscript(c)
	if !ok {
		return
	}
	if in.Language != "" && !in.Language.Valid() {
		h.Response.BadRequest(c, "不支持的语言: "+string(in.Language))
		return
	}

	if in.Async {
		tracker := h.ImportService.StartImport(c.Request.Context(), in.Text, in.Language)
		h.Response.Accepted(c, gin.H{
			"task_id":      tracker.TaskID,
			"progress_url": "/api/progress/" + tracker.TaskID,
		}, "导入已开始，请订阅进度更新")
		return
	}

	result, err := h.ImportService.Import(c.Request.Context(), in.Text, in.Language, nil)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, result, "导入完成")
}

// SegmentManuscript 只做分章，不调用AI也不写入状态
func (h *Handler) SegmentManuscript(c *gin.Context) {
	in, ok := h.readManuscript(c)
	if !ok {
		return
	}
	chapters := h.ImportService.Split(in.Text)
	h.Response.Success(c, gin.H{"chapters": chapters, "count": len(chapters)})
}

// storyIDParam 查询参数 story_id，缺省时使用当前故事
func (h *Handler) storyIDParam(c *gin.Context) (string, bool) {
	if id := c.Query("story_id"); id != "" {
		return id, true
	}
	active, ok := h.Store.Active()
	if !ok {
		h.Response.Error(c, http.StatusNotFound, ErrorNoActiveStory, "当前没有打开的故事")
		return "", false
	}
	return active.ID, true
}

// ExportStory 导出故事。download=true 直接下载文件，save=true 同时写入导出目录
func (h *Handler) ExportStory(c *gin.Context) {
	storyID, ok := h.storyIDParam(c)
	if !ok {
		return
	}
	format := models.ExportFormat(c.DefaultQuery("format", string(models.FormatMarkdown)))

	result, err := h.ExportService.Export(c.Request.Context(), storyID, format)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	if save, _ := strconv.ParseBool(c.Query("save")); save {
		path, size, err := h.ExportService.SaveExport(result)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		c.Header("X-Export-Path", path)
		c.Header("X-Export-Size", strconv.FormatInt(size, 10))
	}

	download, _ := strconv.ParseBool(c.Query("download"))
	h.Response.ExportResponse(c, result, download)
}

// GetStats 故事的字数、阅读时间与分章统计
func (h *Handler) GetStats(c *gin.Context) {
	storyID, ok := h.storyIDParam(c)
	if !ok {
		return
	}
	stats, err := h.ExportService.StatsFor(storyID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, stats)
}
