// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 任务状态
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID   string `json:"taskId"`
	Kind     string `json:"kind"`
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message"`
	Status   string `json:"status"`
	Result   any    `json:"result,omitempty"`
}

// ProgressTracker 跟踪导入、创世等长时间任务的进度
type ProgressTracker struct {
	TaskID     string
	Kind       string
	Progress   int
	Message    string
	Status     string
	Result     any
	StartTime  time.Time
	UpdateTime time.Time

	subscribers map[chan ProgressUpdate]struct{}
	done        chan struct{}
	mutex       sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// StartTask 以新的任务ID创建跟踪器
func (s *ProgressService) StartTask(kind string) *ProgressTracker {
	return s.CreateTracker(uuid.NewString(), kind)
}

// CreateTracker 创建新的进度跟踪器，已存在时返回现有的
func (s *ProgressService) CreateTracker(taskID, kind string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		Kind:        kind,
		Message:     "任务初始化中...",
		Status:      TaskRunning,
		StartTime:   now,
		UpdateTime:  now,
		subscribers: make(map[chan ProgressUpdate]struct{}),
		done:        make(chan struct{}),
	}
	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Snapshot 当前状态
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		TaskID:   t.TaskID,
		Kind:     t.Kind,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
		Result:   t.Result,
	}
}

// Done 任务结束时关闭
func (t *ProgressTracker) Done() <-chan struct{} {
	return t.done
}

func (t *ProgressTracker) finished() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// UpdateProgress 更新任务进度，进度只增不减
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished() {
		return
	}
	if progress > t.Progress {
		t.Progress = min(progress, 99)
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcastLocked()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string, result any) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished() {
		return
	}
	t.Progress = 100
	if message == "" {
		message = "任务已完成"
	}
	t.Message = message
	t.Status = TaskCompleted
	t.Result = result
	t.UpdateTime = time.Now()

	t.broadcastLocked()
	close(t.done)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished() {
		return
	}
	t.Message = fmt.Sprintf("任务失败: %s", errorMsg)
	t.Status = TaskFailed
	t.UpdateTime = time.Now()

	t.broadcastLocked()
	close(t.done)
}

// 非阻塞发送，通道已满则跳过
func (t *ProgressTracker) broadcastLocked() {
	update := t.snapshotLocked()
	for subscriber := range t.subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.subscribers[subscriber] = struct{}{}
	subscriber <- t.snapshotLocked()
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.subscribers[subscriber]; !ok {
		return
	}
	delete(t.subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks 清理已结束且超过 maxAge 的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		stale := tracker.finished() && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if stale {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}
