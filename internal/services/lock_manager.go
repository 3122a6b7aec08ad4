// internal/services/lock_manager.go
package services

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
)

// ErrorCodeTaskInProgress 同一故事已有后台任务在运行
const ErrorCodeTaskInProgress = "TASK_IN_PROGRESS"

// LockManager 每个故事同一时间只允许一个长时间运行的AI任务（冲刺写作、创世）
type LockManager struct {
	storyLocks map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	nextToken  uint64
	now        func() time.Time
}

// LockInfo 持有锁的任务
type LockInfo struct {
	Kind     string    `json:"kind"`
	TaskID   string    `json:"task_id"`
	Acquired time.Time `json:"acquired"`
	token    uint64
}

// NewLockManager 创建锁管理器。超过 lockTTL 仍未释放的锁视为任务已卡死，可被新任务接管
func NewLockManager() *LockManager {
	return &LockManager{
		storyLocks: make(map[string]*LockInfo),
		lockTTL:    30 * time.Minute,
		now:        time.Now,
	}
}

// TryAcquire 非阻塞加锁，成功时返回释放函数（可重复调用）
func (lm *LockManager) TryAcquire(storyID, kind, taskID string) (func(), error) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := lm.now()
	if held, exists := lm.storyLocks[storyID]; exists && now.Sub(held.Acquired) < lm.lockTTL {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("故事正在执行其他任务: %s (%s)", held.Kind, held.TaskID), nil).
			WithCode(ErrorCodeTaskInProgress)
	}

	lm.nextToken++
	info := &LockInfo{Kind: kind, TaskID: taskID, Acquired: now, token: lm.nextToken}
	lm.storyLocks[storyID] = info

	var once sync.Once
	return func() {
		once.Do(func() { lm.release(storyID, info.token) })
	}, nil
}

// release 只释放自己持有的锁，已被接管的锁保持不变
func (lm *LockManager) release(storyID string, token uint64) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if held, exists := lm.storyLocks[storyID]; exists && held.token == token {
		delete(lm.storyLocks, storyID)
	}
}

// Holder 返回持有故事锁的任务
func (lm *LockManager) Holder(storyID string) (LockInfo, bool) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	held, exists := lm.storyLocks[storyID]
	if !exists {
		return LockInfo{}, false
	}
	return *held, true
}
