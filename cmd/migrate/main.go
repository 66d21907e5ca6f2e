package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令
// 3. 處理頂層錯誤與 panic recovery
// ============================================================================
//
// go build -o bin/beaver-migrate ./cmd/migrate
// ./bin/beaver-migrate run -c configs/default.yaml

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/beaver-migrate/internal/cli"
)

var version = "dev" // -ldflags "-X main.version=..."

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "dev" {
		rootCmd.Version = version
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
