package identity

// ============================================================================
// 身分轉換核心
// 職責：
// 1. 衍生帳戶：blake2b-256("modlpy/utilisuba" ‖ who ‖ u16le(index))，可沿路徑遞迴
// 2. 主權帳戶：來源端 "para" ‖ u16le(id) ‖ 0*26，目的端 "sibl" ‖ u16le(id) ‖ 0*26
// 3. 以擁有者 + 衍生路徑作為見證，將來源端衍生帳戶轉為目的端等價帳戶（無需對照表）
// ============================================================================

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrWrongDerivedTranslation 見證（擁有者 + 路徑）無法重算出來源帳戶
	ErrWrongDerivedTranslation = errors.New("wrong derived translation")
	// ErrNotSovereign 帳戶不是來源端主權帳戶格式
	ErrNotSovereign = errors.New("account is not a sovereign account")
)

var (
	derivePrefix   = []byte("modlpy/utilisuba")
	childPrefix    = []byte("para")
	siblingPrefix  = []byte("sibl")
	sovereignZeros = make([]byte, 26)
)

// Derive 計算 who 在 index 下的衍生帳戶
func Derive(who AccountID, index uint16) AccountID {
	buf := make([]byte, 0, len(derivePrefix)+len(who)+2)
	buf = append(buf, derivePrefix...)
	buf = append(buf, who[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, index)
	return blake2b.Sum256(buf)
}

// DeriveRecursive 沿 path 逐層衍生；空路徑回傳 who 本身
func DeriveRecursive(who AccountID, path []uint16) AccountID {
	account := who
	for _, index := range path {
		account = Derive(account, index)
	}
	return account
}

// SovereignChild 來源端平行鏈主權帳戶
func SovereignChild(paraID uint16) AccountID {
	return sovereign(childPrefix, paraID)
}

// SovereignSibling 目的端平行鏈主權帳戶
func SovereignSibling(paraID uint16) AccountID {
	return sovereign(siblingPrefix, paraID)
}

func sovereign(prefix []byte, paraID uint16) AccountID {
	var id AccountID
	copy(id[:4], prefix)
	binary.LittleEndian.PutUint16(id[4:6], paraID)
	return id
}

// SovereignParaID 若帳戶為來源端主權帳戶，回傳其平行鏈 ID
func SovereignParaID(from AccountID) (uint16, error) {
	if !bytes.Equal(from[:4], childPrefix) || !bytes.Equal(from[6:], sovereignZeros) {
		return 0, fmt.Errorf("%w: %s", ErrNotSovereign, from.Hex())
	}
	return binary.LittleEndian.Uint16(from[4:6]), nil
}

// TranslateSovereign 無路徑版本：來源端主權帳戶直接轉為目的端主權帳戶
func TranslateSovereign(from AccountID) (AccountID, error) {
	paraID, err := SovereignParaID(from)
	if err != nil {
		return AccountID{}, err
	}
	return SovereignSibling(paraID), nil
}

// TranslateDerived 將來源端衍生帳戶轉為目的端等價帳戶
//
// 參數：
//   - source: 要遷移的來源端帳戶
//   - owner: 來源端定址下的擁有者（主權帳戶）
//   - path: 衍生路徑
//
// 返回值：
//   - AccountID: 目的端帳戶 = DeriveRecursive(TranslateSovereign(owner), path)
//   - error: 見證不符時為 ErrWrongDerivedTranslation；擁有者不是主權帳戶時為 ErrNotSovereign
func TranslateDerived(source, owner AccountID, path []uint16) (AccountID, error) {
	if DeriveRecursive(owner, path) != source {
		return AccountID{}, fmt.Errorf("%w: %s is not derived from %s along %v",
			ErrWrongDerivedTranslation, source.Hex(), owner.Hex(), path)
	}

	translated, err := TranslateSovereign(owner)
	if err != nil {
		return AccountID{}, err
	}
	return DeriveRecursive(translated, path), nil
}

// VerifyParaDerived 確認 from/to 分別是平行鏈 paraID 的來源端與目的端衍生帳戶
func VerifyParaDerived(paraID uint16, path []uint16, from, to AccountID) error {
	if DeriveRecursive(SovereignChild(paraID), path) != from {
		return fmt.Errorf("%w: source %s does not match para %d along %v",
			ErrWrongDerivedTranslation, from.Hex(), paraID, path)
	}
	if DeriveRecursive(SovereignSibling(paraID), path) != to {
		return fmt.Errorf("%w: destination %s does not match para %d along %v",
			ErrWrongDerivedTranslation, to.Hex(), paraID, path)
	}
	return nil
}
