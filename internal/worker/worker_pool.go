// ============================================================================
// Beaver-Migrate Worker Pool - 目的端批次並發處理器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine 的生命週期和批次分發
//
// 設計模式:
//   採用 Worker Pool 模式（工作池模式）：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發批次
//   3. 通過結果 channel 收集處理結果
//   4. 實際處理邏輯由 Handler 注入
//
// 架構組件:
//   ┌─────────────┐
//   │  Receiver   │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘ │
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 創建 Pool，初始化 channels
//   2. Start(n) - 啟動 n 個 Worker goroutines
//   3. Submit(task) - 提交任務到 taskCh
//   4. ReceiveResult() - 從 resultCh 讀取結果
//   5. Stop() - 停止接受新任務，處理完已接受的任務後關閉 resultCh
//
// 並發控制:
//   - taskCh 永不關閉；Worker 以 stopCh 得知停止
//   - Submit 在讀鎖下送出，Stop 取得寫鎖後才關閉 stopCh，
//     因此 Stop 之後不會有任務留在 taskCh 無人處理
//   - 結果以阻塞方式送出，呼叫端必須持續 ReceiveResult 直到 ErrPoolClosed
//
// ============================================================================

package worker

import (
	"errors"
	"log/slog"
	"sync"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	handler  Handler        // 任務處理邏輯
	workers  []*Worker      // 所有啟動的 Worker 實例
	taskCh   chan Task      // 任務通道
	resultCh chan Result    // 結果通道
	stopCh   chan struct{}  // 停止訊號
	wg       sync.WaitGroup // 等待所有 Worker 完成
	started  bool
	stopped  bool
	mu       sync.RWMutex // 保護 started/stopped；Submit 持讀鎖送出
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
//
// 參數：
//   - bufferSize: 任務和結果通道的緩衝大小
//   - handler: 每個任務的處理邏輯
func NewPool(bufferSize int, handler Handler) *Pool {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Pool{
		handler:  handler,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動指定數量的 Worker
//
// 錯誤處理：
//   - Pool 已啟動、已停止或未設定 handler 時回傳錯誤
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if p.handler == nil {
		return errors.New("pool has no handler")
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		worker := newWorker(i, p.handler, p.taskCh, p.resultCh, p.stopCh)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(worker)
	}

	p.started = true
	log.Debug("Worker pool started", "workers", workerCount, "buffer", cap(p.taskCh))
	return nil
}

// Submit 提交任務到 Worker Pool
//
// 通道已滿時阻塞，直到有 Worker 取走任務。
//
// 錯誤處理：
//   - ErrPoolNotStarted: Pool 尚未啟動
//   - ErrPoolClosed: Pool 已關閉
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	p.taskCh <- task
	return nil
}

// TrySubmit 非阻塞提交；通道已滿時回傳 false
func (p *Pool) TrySubmit(task Task) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return false, ErrPoolNotStarted
	}
	if p.stopped {
		return false, ErrPoolClosed
	}
	select {
	case p.taskCh <- task:
		return true, nil
	default:
		return false, nil
	}
}

// ReceiveResult 從結果通道接收執行結果
//
// Stop 之後仍會回傳已處理完成的結果，全部取完後回傳 ErrPoolClosed。
func (p *Pool) ReceiveResult() (Result, error) {
	result, ok := <-p.resultCh
	if !ok {
		return Result{}, ErrPoolClosed
	}
	return result, nil
}

// Stop 優雅地關閉 Worker Pool
//
// 關閉流程：
//  1. 取得寫鎖，設定 stopped（此後 Submit 一律失敗）
//  2. 關閉 stopCh，Worker 處理完緩衝中的任務後退出
//  3. 等待所有 Worker 完成
//  4. 關閉 resultCh
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if !p.started {
		close(p.resultCh)
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultCh)
	log.Debug("Worker pool stopped", "workers", len(p.workers))
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
