// Package workerpool 固定大小的工作池
//
// 基于 ants 的 goroutine 池执行任务，前置一个有界队列：
// Submit 从不阻塞，队列满时立即返回 apperr.ErrQueueFull。
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"testexec-platform/internal/shared/apperr"
)

// ErrClosed 工作池已关闭
var ErrClosed = errors.New("worker pool closed")

// Pool 有界队列 + 固定 worker 的工作池
type Pool struct {
	name  string
	pool  *ants.Pool
	queue chan func()
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New 创建工作池
// size: worker 数量；queueSize: 等待队列长度
func New(name string, size, queueSize int, log *zap.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("workerpool %s: size must be positive", name)
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pool." + name)

	ap, err := ants.NewPool(size, ants.WithPanicHandler(func(r interface{}) {
		log.Error("task panic", zap.Any("recover", r))
	}))
	if err != nil {
		return nil, fmt.Errorf("workerpool %s: %w", name, err)
	}

	p := &Pool{
		name:  name,
		pool:  ap,
		queue: make(chan func(), queueSize),
		log:   log,
		done:  make(chan struct{}),
	}
	go p.feed()
	return p, nil
}

// Submit 提交任务，不阻塞
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return fmt.Errorf("%s: %w", p.name, apperr.ErrQueueFull)
	}
}

// feed 将队列中的任务交给 ants，worker 全忙时在此等待
func (p *Pool) feed() {
	defer close(p.done)
	for task := range p.queue {
		if err := p.pool.Submit(task); err != nil {
			p.log.Error("submit to workers failed", zap.Error(err))
		}
	}
}

// Running 正在执行的任务数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Queued 队列中等待的任务数
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Cap worker 数量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Close 停止接收任务，等待已排队任务交付后释放 worker
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(timeout):
		return fmt.Errorf("workerpool %s: drain timeout", p.name)
	}
	return p.pool.ReleaseTimeout(timeout)
}
