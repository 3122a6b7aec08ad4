// cmd/server/main.go
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/NovellaStudio/internal/app"
	"github.com/Corphon/NovellaStudio/internal/config"
	"github.com/Corphon/NovellaStudio/internal/di"
)

func main() {
	log.Println("🚀 启动 Novella Studio 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s，存储: %s", baseConfig.Port, baseConfig.StorageBackend)

	// 2. 创建必要的目录
	createDirectories(baseConfig)

	// 3. 初始化配置系统（config.json 保存LLM设置）
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}

	// 4. 日志与服务
	application := app.New(config.GetCurrentConfig(), di.GetContainer())
	if err := application.InitLogger(baseConfig.LogDir); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	if err := application.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	// 5. 配置热加载失败不影响启动
	if err := application.WatchConfig(); err != nil {
		log.Printf("⚠️ 配置热加载未启用: %v", err)
	}

	log.Printf("🔗 访问地址: http://localhost:%s", baseConfig.Port)
	if err := application.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
