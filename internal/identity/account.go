// ============================================================================
// Beaver-Migrate 身分轉換 - 帳戶識別碼與 SS58 定址
// ============================================================================
//
// Package: internal/identity
// 文件: account.go
// 功能: 32 位元組帳戶識別碼，以及 SS58 文字定址的解析與格式化
//
// SS58 格式:
//   base58( prefix ‖ id(32) ‖ checksum(2) )
//   checksum = blake2b-512("SS58PRE" ‖ prefix ‖ id) 的前 2 位元組
//   prefix < 64 佔 1 位元組，64..16383 佔 2 位元組
//
// ============================================================================

package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// 常用網路前綴
const (
	PrefixPolkadot  uint16 = 0
	PrefixKusama    uint16 = 2
	PrefixSubstrate uint16 = 42
)

var (
	ErrInvalidAddress  = errors.New("invalid ss58 address")
	ErrInvalidChecksum = errors.New("invalid ss58 checksum")
)

var ss58Pre = []byte("SS58PRE")

// AccountID 32 位元組帳戶識別碼
type AccountID [32]byte

// Hex 十六進位表示（0x 前綴）
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a AccountID) String() string {
	return a.Hex()
}

// SS58 以指定網路前綴格式化
func (a AccountID) SS58(prefix uint16) string {
	return FormatSS58(a, prefix)
}

// FormatSS58 將帳戶格式化為 SS58 位址
func FormatSS58(id AccountID, prefix uint16) string {
	head := encodePrefix(prefix)
	body := make([]byte, 0, len(head)+len(id)+2)
	body = append(body, head...)
	body = append(body, id[:]...)
	sum := ss58Checksum(body)
	body = append(body, sum[0], sum[1])
	return base58.Encode(body)
}

// ParseSS58 解析 SS58 位址，回傳帳戶與網路前綴
func ParseSS58(addr string) (AccountID, uint16, error) {
	var id AccountID

	raw, err := base58.Decode(addr)
	if err != nil {
		return id, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) == 0 {
		return id, 0, ErrInvalidAddress
	}

	prefix, headLen, err := decodePrefix(raw)
	if err != nil {
		return id, 0, err
	}
	if len(raw) != headLen+len(id)+2 {
		return id, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:headLen+len(id)]
	sum := ss58Checksum(body)
	if !bytes.Equal(sum[:2], raw[len(body):]) {
		return id, 0, ErrInvalidChecksum
	}

	copy(id[:], raw[headLen:])
	return id, prefix, nil
}

// MustParseSS58 同 ParseSS58，失敗時 panic（僅用於常數與測試）
func MustParseSS58(addr string) AccountID {
	id, _, err := ParseSS58(addr)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseAccount 接受 SS58 位址或 0x 十六進位帳戶
func ParseAccount(s string) (AccountID, error) {
	var id AccountID
	if len(s) == 66 && (s[:2] == "0x" || s[:2] == "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		copy(id[:], raw)
		return id, nil
	}
	id, _, err := ParseSS58(s)
	return id, err
}

func ss58Checksum(body []byte) [64]byte {
	buf := make([]byte, 0, len(ss58Pre)+len(body))
	buf = append(buf, ss58Pre...)
	buf = append(buf, body...)
	return blake2b.Sum512(buf)
}

func encodePrefix(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	first := byte((prefix&0b1111_1100)>>2) | 0b0100_0000
	second := byte(prefix>>8) | byte((prefix&0b11)<<6)
	return []byte{first, second}
}

func decodePrefix(raw []byte) (uint16, int, error) {
	switch b := raw[0]; {
	case b < 64:
		return uint16(b), 1, nil
	case b < 128:
		if len(raw) < 2 {
			return 0, 0, ErrInvalidAddress
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		return uint16(lower) | uint16(upper)<<8, 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, b)
	}
}
