// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/NovellaStudio/internal/api"
	"github.com/Corphon/NovellaStudio/internal/config"
	"github.com/Corphon/NovellaStudio/internal/di"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/storage"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"

	// 注册LLM提供商
	_ "github.com/Corphon/NovellaStudio/internal/llm/providers/anthropic"
	_ "github.com/Corphon/NovellaStudio/internal/llm/providers/google"
	_ "github.com/Corphon/NovellaStudio/internal/llm/providers/openrouter"
)

const (
	progressCleanupInterval = 10 * time.Minute
	progressMaxAge          = time.Hour
	metricsReportInterval   = 5 * time.Minute
	shutdownTimeout         = 30 * time.Second
)

// server 便于测试替换 http.Server
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 持有进程级资源：服务容器、HTTP服务器与后台任务
type App struct {
	config    *config.AppConfig
	container *di.Container
	server    server
	stopChan  chan os.Signal
	logger    *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	backend storage.Backend
	hub     *api.StoryHub
	watcher *config.Watcher
	unsub   func()
}

// New 创建应用，cfg 通常来自 config.GetCurrentConfig()
func New(cfg *config.AppConfig, container *di.Container) *App {
	if container == nil {
		container = di.GetContainer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config:    cfg,
		container: container,
		stopChan:  make(chan os.Signal, 1),
		logger:    utils.GetLogger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Container 返回服务容器
func (a *App) Container() *di.Container {
	return a.container
}

// InitLogger 日志同时写入标准输出与按日期命名的文件
func (a *App) InitLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("novella_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		return err
	}
	a.logger.SetLogLevel(utils.ParseLogLevel(a.config.LogLevel))
	return nil
}

// InitServices 按依赖顺序创建所有服务并注册到容器
func (a *App) InitServices() error {
	cfg := a.config
	container := a.container
	container.Register(di.ServiceConfig, cfg)

	// 1. 存储后端与状态存储
	backend, err := storage.Open(storage.Kind(cfg.StorageBackend), cfg.DataDir)
	if err != nil {
		return fmt.Errorf("打开存储后端失败: %w", err)
	}
	a.backend = backend
	container.Register(di.ServiceStorage, backend)

	st, err := store.Open(a.ctx, backend, a.logger)
	if err != nil {
		return fmt.Errorf("加载故事数据失败: %w", err)
	}
	container.Register(di.ServiceStore, st)

	// 2. 指标
	metrics := utils.NewAppMetrics()
	container.Register(di.ServiceMetrics, metrics)

	// 3. LLM服务，未配置密钥时以未就绪状态启动
	llmService := services.NewLLMService()
	llmService.SetMetrics(metrics)
	container.Register(di.ServiceLLM, llmService)
	a.logger.Info("🤖 LLM服务已创建", map[string]interface{}{
		"provider": llmService.GetProviderName(),
		"state":    llmService.GetReadyState(),
	})

	// 4. 业务服务
	progress := services.NewProgressService()
	container.Register(di.ServiceProgress, progress)

	writer := services.NewWriterService(llmService, st, progress)
	container.Register(di.ServiceWriter, writer)

	importer := services.NewImportService(writer, st, progress)
	importer.SetMetrics(metrics)
	container.Register(di.ServiceImport, importer)

	exporter := services.NewExportService(st, filepath.Join(cfg.DataDir, "exports"))
	container.Register(di.ServiceExport, exporter)

	// 5. 变更推送
	hub := api.NewStoryHub(a.logger)
	hub.SetMetrics(metrics)
	go hub.Run()
	a.hub = hub
	container.Register(di.ServiceHub, hub)

	a.unsub = st.Subscribe(func(ev store.Event) {
		hub.Publish(ev)
		metrics.RecordStoreMutation(string(ev.Type))
	})

	a.startBackgroundTasks(progress, metrics)

	a.logger.Info("✅ 所有服务初始化完成", map[string]interface{}{
		"services": container.GetNames(),
		"stories":  len(st.List()),
		"backend":  cfg.StorageBackend,
	})
	return nil
}

func (a *App) startBackgroundTasks(progress *services.ProgressService, metrics *utils.AppMetrics) {
	metrics.StartMetricsCollection(a.ctx, metricsReportInterval)

	go func() {
		ticker := time.NewTicker(progressCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if n := progress.CleanupCompletedTasks(progressMaxAge); n > 0 {
					a.logger.Debug("清理已完成的任务", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

// WatchConfig 监听 config.json，外部修改LLM设置后立即生效
func (a *App) WatchConfig() error {
	llmService, err := di.Resolve[*services.LLMService](a.container, di.ServiceLLM)
	if err != nil {
		return err
	}

	w, err := config.NewWatcher(func(cfg *config.AppConfig) {
		a.logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
		llmService.SetTimeout(cfg.LLMTimeout())
		llmService.SetRateLimit(cfg.LLMRateLimit)
		if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
			return
		}
		if err := llmService.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
			a.logger.Warn("⚠️ 热加载LLM配置失败", map[string]interface{}{
				"provider": cfg.LLMProvider,
				"error":    err.Error(),
			})
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(a.ctx); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Run 启动HTTP服务器并阻塞到收到停止信号
func (a *App) Run() error {
	if a.server == nil {
		router, err := api.SetupRouter(a.container)
		if err != nil {
			return fmt.Errorf("设置路由失败: %w", err)
		}
		a.server = &http.Server{
			Addr:              ":" + a.config.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("🌐 服务器启动，监听端口 %s", a.config.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-a.stopChan:
	}

	a.logger.Info("🛑 正在关闭服务器...", nil)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	a.logger.Info("✅ 服务器优雅关闭完成", nil)
	return nil
}

// Stop 请求 Run 退出
func (a *App) Stop() {
	select {
	case a.stopChan <- syscall.SIGTERM:
	default:
	}
}

// cleanup 停止后台任务并释放存储，可重复调用
func (a *App) cleanup() {
	a.cancel()
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.backend != nil {
		if err := storage.Close(a.backend); err != nil {
			a.logger.Warn("关闭存储后端失败", map[string]interface{}{"error": err.Error()})
		}
		a.backend = nil
	}
	_ = a.logger.Sync()
}
