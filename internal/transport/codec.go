package transport

// ============================================================================
// 批次編碼
// 職責：
// 1. 批次信封的 JSON 編碼與解碼
// 2. 精確的編碼大小估算：EncodedSize == len(EncodeBatch(b))
// 3. 內容雜湊（blake2b-256），供重送去重與目的端冪等處理
// ============================================================================
//
// 大小推導：
//   json.Marshal(Batch) = `{"domain":` + D + `,"messages":[` + m1 + `,` + ... + mn + `]}`
//   其中 D = json(domain)、mi = json(message i)，
//   與單獨編碼每則訊息的結果逐位元組相同，因此大小可精確累加而不需整批重新編碼。

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"golang.org/x/crypto/blake2b"
)

var ErrInvalidBatch = errors.New("invalid batch payload")

// EncodeBatch 編碼批次
func EncodeBatch(b types.Batch) ([]byte, error) {
	if b.Messages == nil {
		b.Messages = []types.Message{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return data, nil
}

// DecodeBatch 解碼並驗證批次
func DecodeBatch(payload []byte) (types.Batch, error) {
	var b types.Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return b, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if b.Domain == "" {
		return b, fmt.Errorf("%w: missing domain", ErrInvalidBatch)
	}
	for i, m := range b.Messages {
		if err := m.Validate(); err != nil {
			return b, fmt.Errorf("%w: message %d: %v", ErrInvalidBatch, i, err)
		}
	}
	return b, nil
}

// MessageSize 單則訊息的編碼大小
func MessageSize(m types.Message) (int, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}
	return len(data), nil
}

// EnvelopeSize 不含任何訊息的信封大小
func EnvelopeSize(domain types.DomainID) int {
	d, _ := json.Marshal(domain)
	return len(`{"domain":`) + len(d) + len(`,"messages":[]}`)
}

// EncodedSize 由各訊息大小計算整批編碼大小
func EncodedSize(domain types.DomainID, messageSizes ...int) int {
	size := EnvelopeSize(domain)
	for i, s := range messageSizes {
		if i > 0 {
			size++ // ','
		}
		size += s
	}
	return size
}

// ContentHash 內容雜湊（hex）
func ContentHash(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
