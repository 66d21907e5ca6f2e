package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

// Task 代表一個待處理的目的端批次
type Task struct {
	Ticket  types.Ticket  // 投遞票據，結果以此對應
	Payload []byte        // 已解壓縮的批次編碼
	Timeout time.Duration // 處理超時時間；0 表示不限
}

// Result 代表批次處理結果
type Result struct {
	Ticket   types.Ticket  // 投遞票據
	Success  bool          // 處理是否成功
	Error    error         // 錯誤訊息（如果有）
	Duration time.Duration // 實際處理時間
}

// Handler 實際處理任務的函式，由 Pool 的使用者注入
type Handler func(ctx context.Context, task Task) error
