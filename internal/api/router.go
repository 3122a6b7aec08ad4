// internal/api/router.go
package api

import (
	"fmt"

	"github.com/Corphon/NovellaStudio/internal/config"
	"github.com/Corphon/NovellaStudio/internal/di"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gin-gonic/gin"
)

// RouterOptions 路由的运行参数
type RouterOptions struct {
	DebugMode bool
	// 每个客户端每秒请求数，<=0 时不限流
	RateLimit float64
	Logger    *utils.Logger
}

// SetupRouter 从容器取出已初始化的服务并配置HTTP路由
func SetupRouter(container *di.Container) (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	st, err := di.Resolve[*store.Store](container, di.ServiceStore)
	if err != nil {
		return nil, fmt.Errorf("状态存储未正确初始化: %w", err)
	}
	llmService, err := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if err != nil {
		return nil, fmt.Errorf("LLM服务未正确初始化: %w", err)
	}
	writer, err := di.Resolve[*services.WriterService](container, di.ServiceWriter)
	if err != nil {
		return nil, fmt.Errorf("写作服务未正确初始化: %w", err)
	}
	importer, err := di.Resolve[*services.ImportService](container, di.ServiceImport)
	if err != nil {
		return nil, fmt.Errorf("导入服务未正确初始化: %w", err)
	}
	exporter, err := di.Resolve[*services.ExportService](container, di.ServiceExport)
	if err != nil {
		return nil, fmt.Errorf("导出服务未正确初始化: %w", err)
	}
	progress, err := di.Resolve[*services.ProgressService](container, di.ServiceProgress)
	if err != nil {
		return nil, fmt.Errorf("进度服务未正确初始化: %w", err)
	}
	metrics, err := di.Resolve[*utils.AppMetrics](container, di.ServiceMetrics)
	if err != nil {
		return nil, fmt.Errorf("指标服务未正确初始化: %w", err)
	}
	hub, err := di.Resolve[*StoryHub](container, di.ServiceHub)
	if err != nil {
		return nil, fmt.Errorf("WebSocket广播未正确初始化: %w", err)
	}

	handler := NewHandler(st, llmService, writer, importer, exporter, progress, metrics, hub)
	return NewRouter(handler, RouterOptions{
		DebugMode: cfg.DebugMode,
		RateLimit: cfg.APIRateLimit,
		Logger:    utils.GetLogger(),
	}), nil
}

// NewRouter 注册全部路由
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(opts.Logger))
	if handler.Metrics != nil {
		r.Use(Metrics(handler.Metrics))
	}
	r.Use(CORS())

	// WebSocket 变更推送
	r.GET("/ws/stories", handler.Hub.ServeStories)
	r.GET("/health", handler.Health)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	if opts.RateLimit > 0 {
		api.Use(NewRateLimiter(opts.RateLimit, 0).Middleware(handler.Response))
	}
	{
		api.GET("/catalog", handler.GetCatalog)
		api.GET("/metrics", handler.GetMetrics)

		// ===============================
		// 设置与LLM
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
			settingsGroup.POST("/test-connection", handler.TestConnection)
		}

		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.SaveSettings)
		}

		// ===============================
		// 稿件导入导出
		// ===============================
		api.POST("/import", handler.ImportManuscript)
		api.POST("/segment", handler.SegmentManuscript)
		api.GET("/export", handler.ExportStory)
		api.GET("/stats", handler.GetStats)

		// ===============================
		// 任务进度
		// ===============================
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.GET("/tasks/:taskID", handler.GetTaskStatus)

		// ===============================
		// 故事
		// ===============================
		storiesGroup := api.Group("/stories")
		{
			storiesGroup.GET("", handler.ListStories)
			storiesGroup.POST("", handler.CreateStory)
			storiesGroup.GET("/fields", handler.GetEditableFields)
			storiesGroup.GET("/active", handler.GetActiveStory)
			storiesGroup.PUT("/active", handler.SetActiveStory)

			storiesGroup.GET("/:id", handler.GetStory)
			storiesGroup.DELETE("/:id", handler.DeleteStory)
			storiesGroup.PUT("/:id/fields/:field", handler.UpdateStoryField)

			// 章节
			storiesGroup.POST("/:id/chapters", handler.AddChapter)
			storiesGroup.PATCH("/:id/chapters/:chapterID", handler.UpdateChapter)
			storiesGroup.POST("/:id/chapters/:chapterID/insert", handler.InsertIntoChapter)
			storiesGroup.POST("/:id/chapters/:chapterID/append", handler.AppendToChapter)

			// 角色
			storiesGroup.POST("/:id/characters", handler.SaveCharacter)
			storiesGroup.PUT("/:id/characters/:characterID", handler.SaveCharacter)
			storiesGroup.DELETE("/:id/characters/:characterID", handler.DeleteCharacter)

			// 世界设定
			storiesGroup.POST("/:id/world", handler.SaveWorldItem)
			storiesGroup.PUT("/:id/world/:itemID", handler.SaveWorldItem)
			storiesGroup.DELETE("/:id/world/:itemID", handler.DeleteWorldItem)

			// AI 功能
			aiGroup := storiesGroup.Group("/:id/ai")
			{
				aiGroup.POST("/prose", handler.GenerateProse)
				aiGroup.POST("/beats", handler.GenerateBeats)
				aiGroup.POST("/panic", handler.PanicWrite)
				aiGroup.POST("/genesis", handler.Genesis)

				aiGroup.POST("/brainstorm", handler.Brainstorm)
				aiGroup.POST("/brainstorm/character", handler.BrainstormCharacter)
				aiGroup.POST("/brainstorm/world", handler.BrainstormWorld)
				aiGroup.POST("/brainstorm/plot", handler.BrainstormPlot)
				aiGroup.POST("/brainstorm/list", handler.BrainstormList)

				aiGroup.POST("/setup", handler.AutoSetup)
				aiGroup.POST("/style", handler.AnalyzeStyle)
				aiGroup.POST("/cast", handler.GenerateCast)
				aiGroup.POST("/chat", handler.Chat)

				aiGroup.POST("/characters/:characterID/refine", handler.RefineCharacter)
				aiGroup.POST("/characters/:characterID/paint", handler.PaintCharacter)
				aiGroup.POST("/world/:itemID/refine", handler.RefineWorldItem)
				aiGroup.POST("/world/:itemID/paint", handler.PaintWorldItem)
			}
		}
	}

	return r
}
