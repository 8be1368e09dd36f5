// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 会话级锁管理器，保证同一会话的事件串行执行
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.Mutex
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		sessionLocks: make(map[string]*LockInfo),
	}
}

// GetSessionLock 获取会话锁（线程安全）
func (lm *LockManager) GetSessionLock(sessionID string) *sync.RWMutex {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if lockInfo, exists := lm.sessionLocks[sessionID]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lockInfo := &LockInfo{
		Mutex:    &sync.RWMutex{},
		LastUsed: time.Now(),
	}
	lm.sessionLocks[sessionID] = lockInfo
	return lockInfo.Mutex
}

// ExecuteWithSessionLock 在会话写锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	lock := lm.GetSessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return fn()
}

// ExecuteWithSessionReadLock 在会话读锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionReadLock(sessionID string, fn func() error) error {
	lock := lm.GetSessionLock(sessionID)
	lock.RLock()
	defer lock.RUnlock()

	return fn()
}

// Remove 释放会话对应的锁记录
func (lm *LockManager) Remove(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	delete(lm.sessionLocks, sessionID)
}

// Len 当前持有的锁记录数
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	return len(lm.sessionLocks)
}
