package wal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 WAL 事件的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 涵蓋 Type、Key、Seq 與 Data；不包含 Timestamp。
func CalculateChecksum(eventType EventType, key string, seq uint64, data []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(strconv.AppendUint(nil, seq, 10))
	h.Write([]byte{0})
	h.Write(data)
	return h.Sum32()
}

// VerifyChecksum 驗證事件的校驗和
//
// 回傳：
//
//	nil 或 *ChecksumError
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event.Type, event.Key, event.Seq, event.Data)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
