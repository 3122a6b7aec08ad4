// internal/di/container.go
package di

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// 服务名称常量，路由和启动流程都通过它们取服务
const (
	ServiceConfig   = "config"
	ServiceStorage  = "storage"
	ServiceStore    = "store"
	ServiceLLM      = "llm"
	ServiceWriter   = "writer"
	ServiceImport   = "import"
	ServiceExport   = "export"
	ServiceProgress = "progress"
	ServiceMetrics  = "metrics"
	ServiceHub      = "hub"
)

// Container 按名称保存已初始化的服务
type Container struct {
	services map[string]interface{}
	mutex    sync.RWMutex
}

// 全局容器实例（单例模式）
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建空容器，测试中用它隔离全局状态
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 进程级容器
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册服务，同名服务会被替换
func (c *Container) Register(name string, service interface{}) {
	if service == nil {
		panic("di: nil service for " + name)
	}
	c.mutex.Lock()
	c.services[name] = service
	c.mutex.Unlock()
}

// Get 不存在时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.services[name]
}

func (c *Container) Has(name string) bool {
	return c.Get(name) != nil
}

// GetNames 已注册服务名，按字母排序
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return slices.Sorted(maps.Keys(c.services))
}

// Resolve 按名称取出服务并断言为 T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("服务未注册: %s", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("服务 %s 类型不匹配: %T", name, service)
	}
	return typed, nil
}

// MustResolve 失败时 panic，只在启动阶段使用
func MustResolve[T any](c *Container, name string) T {
	typed, err := Resolve[T](c, name)
	if err != nil {
		panic(err)
	}
	return typed
}
