// internal/config/watcher.go
package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/fsnotify/fsnotify"
)

// ChangeHandler 配置文件被外部修改后的回调
type ChangeHandler func(cfg *AppConfig)

// Watcher 监听 config.json，外部编辑后热加载LLM设置
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange ChangeHandler
	debounce time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher 为当前配置文件创建监听器，需先调用 InitConfig
func NewWatcher(onChange ChangeHandler) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		path:     ConfigFile(),
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start 非阻塞，监听配置文件所在目录（编辑器常用重命名方式保存）
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	utils.GetLogger().Info("👀 配置热加载已启用", map[string]interface{}{"file": w.path})
	go w.run(ctx)
	return nil
}

// Stop 停止监听并等待协程退出
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.watcher.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// 合并编辑器连续保存产生的多次事件
			pending = time.After(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			utils.GetLogger().Warn("配置文件监听出错", map[string]interface{}{"error": err})

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, changed, err := reloadFromDisk()
	if err != nil {
		utils.GetLogger().Warn("热加载配置失败", map[string]interface{}{"error": err})
		return
	}
	if !changed {
		return
	}

	utils.GetLogger().Info("🔄 配置文件已更新", map[string]interface{}{"provider": cfg.LLMProvider})
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
