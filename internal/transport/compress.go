package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// 共用的 zstd 編解碼器；EncodeAll/DecodeAll 可併發使用
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(256<<20))
)

// Compress 壓縮線上傳輸的批次
func Compress(payload []byte) []byte {
	return encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

// Decompress 解壓縮批次
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	return out, nil
}
