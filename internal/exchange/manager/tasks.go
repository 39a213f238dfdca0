package manager

import (
	"context"
	"sync"

	"exhub/internal/logger"
)

// taskSet 跟踪后台重连任务，Stop 时统一取消并等待。
type taskSet struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func newTaskSet(parent context.Context) *taskSet {
	ctx, cancel := context.WithCancel(parent)
	return &taskSet{ctx: ctx, cancel: cancel}
}

// Go 启动一个任务；已关闭时返回 false。
func (t *taskSet) Go(name string, fn func(ctx context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[manager] 任务 %s panic: %v", name, r)
			}
		}()
		fn(t.ctx)
	}()
	return true
}

// Close 取消全部任务并等待退出，ctx 到期则放弃等待。
func (t *taskSet) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
