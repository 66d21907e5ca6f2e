package wal

// ============================================================================
// WAL 核心實作
// 職責：
// 1. 追加事件到日誌檔案（append-only，JSON lines）
// 2. 提供重放功能以恢復系統狀態
// 3. 支援日誌旋轉（快照後封存舊檔）
// 4. 確保寫入持久性與資料完整性
// ============================================================================
//
// 序號在 Rotate 後不歸零：快照記錄 LastSeq，恢復時只重放 seq > LastSeq 的事件。
// 重新開啟空檔時由 AdvanceTo 把序號推進到快照的 LastSeq。

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var log = slog.Default()

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options WAL 設定
type Options struct {
	SyncOnAppend  bool          // 每次追加都 flush 並 fsync
	BufferSize    int           // 緩衝事件數上限
	FlushInterval time.Duration // 緩衝最長停留時間
	Archive       bool          // Rotate 時以 zstd 壓縮封存舊檔；false 則直接刪除
}

// DefaultOptions 預設設定
func DefaultOptions() Options {
	return Options{
		BufferSize:    1000,
		FlushInterval: time.Second,
		Archive:       true,
	}
}

// WAL 表示 Write-Ahead Log 實例
type WAL struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	path    string
	seq     uint64
	opts    Options
	closed  bool

	buffer        []Event
	lastFlushTime time.Time
}

// ============================================================================
// 公開介面
// ============================================================================

/*
Open 建立或開啟一個 WAL 實例

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一個有效事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func Open(path string, opts Options) (*WAL, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	var seq uint64
	end, err := scanFile(path, func(event Event) error {
		seq = event.Seq
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read wal tail: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	// 截掉不完整的尾行，避免之後的追加接在殘行後面
	if stat, err := file.Stat(); err == nil && stat.Size() > end {
		log.Warn("Truncating torn wal tail", "path", path, "size", stat.Size(), "valid", end)
		if err := file.Truncate(end); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to truncate wal tail: %w", err)
		}
	}

	log.Info("WAL opened", "path", path, "last_seq", seq)
	return &WAL{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}, nil
}

// Append 追加一個事件到 WAL
//
// 行為：
// - 自動遞增 seq
// - 將 data 編碼為 JSON 並計算 checksum
// - 先放入緩衝；isForceFlush、緩衝已滿或逾時即寫入並同步到磁碟
func (w *WAL) Append(eventType EventType, key string, data any, isForceFlush bool) error {
	var body json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("wal: failed to encode %s event: %w", eventType, err)
		}
		body = raw
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	w.seq++
	event := Event{
		Seq:       w.seq,
		Type:      eventType,
		Key:       key,
		Data:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(eventType, key, w.seq, body)
	w.buffer = append(w.buffer, event)

	if isForceFlush || w.opts.SyncOnAppend ||
		len(w.buffer) >= w.opts.BufferSize ||
		time.Since(w.lastFlushTime) > w.opts.FlushInterval {
		return w.flushLocked()
	}
	return nil
}

// Flush 將緩衝事件寫入並同步到磁碟
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Replay 重放所有 WAL 事件
func (w *WAL) Replay(handler EventHandler) error {
	return w.ReplayAfter(0, handler)
}

// ReplayAfter 重放 seq > after 的事件
//
// 行為：
// - 先 flush 緩衝，再從頭讀取檔案
// - 驗證每個事件的 checksum
// - 最後一行不完整（寫入中途崩潰）時記錄警告並停止，不視為錯誤
// - 中段損壞回傳 *CorruptionError，handler 錯誤立即回傳
func (w *WAL) ReplayAfter(after uint64, handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}

	return scan(w.path, func(event Event) error {
		if event.Seq <= after {
			return nil
		}
		return handler(event)
	})
}

// AdvanceTo 確保下一個序號大於 seq
func (w *WAL) AdvanceTo(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.seq {
		w.seq = seq
	}
}

// Rotate 旋轉日誌檔案
//
// 快照寫入後呼叫：舊檔改名後視設定壓縮封存或刪除，新檔從空白開始，序號延續。
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%d", w.path, w.seq)
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = newFile
	w.encoder = json.NewEncoder(newFile)
	w.lastFlushTime = time.Now()

	if w.opts.Archive {
		if err := compressFile(rotated, rotated+".zst"); err != nil {
			log.Warn("Failed to archive rotated wal", "path", rotated, "error", err)
			return nil
		}
	}
	if err := os.Remove(rotated); err != nil {
		log.Warn("Failed to remove rotated wal", "path", rotated, "error", err)
	}

	log.Info("WAL rotated", "path", w.path, "last_seq", w.seq)
	return nil
}

// Close 關閉 WAL；關閉後的實例不可重用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// GetLastSeq 取得當前的事件序號
//
// 用途：快照時需要記錄 last_seq，確保恢復時知道從哪裡開始重放
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path WAL 檔案路徑
func (w *WAL) Path() string {
	return w.path
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// flushLocked 假設調用者已經持有 w.mu 鎖
func (w *WAL) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}
	for _, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			return err
		}
	}
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return nil
}

// scan 逐行讀取 WAL 檔案並驗證每個事件
func scan(path string, fn func(Event) error) error {
	_, err := scanFile(path, fn)
	return err
}

// scanFile 同 scan，另回傳最後一個完整事件結尾的位移
func scanFile(path string, fn func(Event) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var (
		offset  int64
		lastSeq uint64
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				if readErr == io.EOF {
					log.Warn("Ignoring torn wal tail", "path", path, "offset", offset, "last_seq", lastSeq)
					return offset, nil
				}
				return offset, &CorruptionError{Seq: lastSeq, Offset: offset, Cause: err}
			}
			if err := VerifyChecksum(event); err != nil {
				return offset, err
			}
			if err := fn(event); err != nil {
				return offset, err
			}
			lastSeq = event.Seq
		}
		offset += int64(len(line))

		if readErr == io.EOF {
			return offset, nil
		}
		if readErr != nil {
			return offset, readErr
		}
	}
}
