package wal

// ============================================================================
// WAL 工具函式
// 職責：讀取尾端事件、驗證、統計、人類可讀輸出與封存壓縮
// ============================================================================

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

// GetLastEvent 從 WAL 檔案讀取最後一個有效事件
//
// 採用從頭掃描：WAL 在每次快照後旋轉，檔案不會無限成長。
//
// 回傳：
//
//	最後一個事件；檔案為空則回傳 ErrEmptyWAL
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := scan(path, func(event Event) error {
		e := event
		last = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算 WAL 中的有效事件總數
func CountEvents(path string) (int, error) {
	n := 0
	err := scan(path, func(Event) error {
		n++
		return nil
	})
	return n, err
}

// ValidateWAL 驗證 WAL 檔案的完整性
//
// 檢查項目：JSON 格式、校驗和、seq 嚴格遞增且連續
func ValidateWAL(path string) error {
	var lastSeq uint64
	return scan(path, func(event Event) error {
		if lastSeq != 0 && event.Seq != lastSeq+1 {
			return fmt.Errorf("%w: seq %d follows %d", ErrSeqGap, event.Seq, lastSeq)
		}
		lastSeq = event.Seq
		return nil
	})
}

// DumpWAL 輸出 WAL 內容（人類可讀格式）
//
//	[Seq:1] OUTBOUND_SENT 3f2a… at 2024-01-01T00:00:00Z (checksum:0x12345678) 214B
func DumpWAL(path string, w io.Writer) error {
	return scan(path, func(event Event) error {
		_, err := fmt.Fprintf(w, "[Seq:%d] %s %s at %s (checksum:0x%08x) %dB\n",
			event.Seq,
			event.Type,
			event.Key,
			time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339),
			event.Checksum,
			len(event.Data))
		return err
	})
}

// Stats WAL 統計資訊
type Stats struct {
	TotalEvents int               `json:"total_events"`
	EventTypes  map[EventType]int `json:"event_types"`
	FirstSeq    uint64            `json:"first_seq"`
	LastSeq     uint64            `json:"last_seq"`
	TimeRange   [2]int64          `json:"time_range"`
}

// GetStats 取得 WAL 的統計資訊
func GetStats(path string) (*Stats, error) {
	stats := &Stats{EventTypes: make(map[EventType]int)}
	err := scan(path, func(event Event) error {
		if stats.TotalEvents == 0 {
			stats.FirstSeq = event.Seq
			stats.TimeRange[0] = event.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[event.Type]++
		stats.LastSeq = event.Seq
		stats.TimeRange[1] = event.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ============================================================================
// 封存壓縮
// ============================================================================

// compressFile 以 zstd 壓縮 srcPath 至 dstPath
func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// ExtractArchive 將 zstd 封存檔解壓至 dstPath，供 DumpWAL 等工具讀取
func ExtractArchive(archivePath, dstPath string) error {
	src, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, dec); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
