package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	para2004 = "13YMK2eZbf9AyGhewRs6W6QTJvBSM5bxpnTD8WgeDofbg8Q1"
	para2030 = "13YMK2eeopZtUNpeHnJ1Ws2HqMQG6Ts9PGCZYGyFbSYoZfcm"
	sibl2030 = "13cKp89TtYknbyYnqnF6dWN75q5ZosvFSuqzoEVkUAaNR47A"

	// para 2004 沿 [5, 2] 衍生，以及其目的端等價帳戶
	child2004x52 = "14KQD8dRoT3q2fCbCC49bFjU1diFu1d516tYuGmSUMmEoGNa"
	sibl2004x52  = "123oqim7B24XzwB1hC4Fh7LGwbTas3QmxL6v6sVd95eTD5ee"
)

// ============================================================================
// SS58
// ============================================================================

func TestSS58RoundTrip(t *testing.T) {
	id, prefix, err := ParseSS58(para2004)
	require.NoError(t, err)
	assert.Equal(t, PrefixPolkadot, prefix)
	assert.Equal(t, SovereignChild(2004), id)
	assert.Equal(t, para2004, id.SS58(PrefixPolkadot))

	// 同一帳戶在不同網路前綴下位址不同，但解析回同一帳戶
	generic := FormatSS58(id, PrefixSubstrate)
	assert.Equal(t, "5Ec4AhPax3JR2qp8L9F1NiC8yjQcQAK1JmU5Nyyu3MXHPCmc", FormatSS58(SovereignChild(2030), PrefixSubstrate))
	back, prefix, err := ParseSS58(generic)
	require.NoError(t, err)
	assert.Equal(t, PrefixSubstrate, prefix)
	assert.Equal(t, id, back)

	// 兩位元組前綴
	wide := FormatSS58(id, 1284)
	back, prefix, err = ParseSS58(wide)
	require.NoError(t, err)
	assert.Equal(t, uint16(1284), prefix)
	assert.Equal(t, id, back)
}

func TestParseSS58Errors(t *testing.T) {
	// 改動最後一個字元使 checksum 失效
	broken := para2004[:len(para2004)-1] + "2"
	_, _, err := ParseSS58(broken)
	assert.True(t, errors.Is(err, ErrInvalidChecksum) || errors.Is(err, ErrInvalidAddress))

	_, _, err = ParseSS58("0OIl")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, _, err = ParseSS58("")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	id, err := ParseAccount(SovereignSibling(7).Hex())
	require.NoError(t, err)
	assert.Equal(t, SovereignSibling(7), id)
}

// ============================================================================
// 衍生與主權帳戶
// ============================================================================

func TestSovereignTranslation(t *testing.T) {
	from := MustParseSS58(para2030)
	to, err := TranslateSovereign(from)
	require.NoError(t, err)
	assert.Equal(t, sibl2030, to.SS58(PrefixPolkadot))

	paraID, err := SovereignParaID(from)
	require.NoError(t, err)
	assert.Equal(t, uint16(2030), paraID)

	// 已是目的端格式或一般帳戶都不是來源端主權帳戶
	_, err = TranslateSovereign(to)
	assert.ErrorIs(t, err, ErrNotSovereign)
	_, err = TranslateSovereign(MustParseSS58(child2004x52))
	assert.ErrorIs(t, err, ErrNotSovereign)
}

func TestDeriveVectors(t *testing.T) {
	tests := []struct {
		name   string
		parent AccountID
		path   []uint16
		prefix uint16
		want   string
	}{
		{"para 2030 index 0", SovereignChild(2030), []uint16{0}, PrefixPolkadot, "14vtfeKAVKh1Jzb3s7e43SqZ3zB5MLsdCxZPoKDxeoCFKLu5"},
		{"sibl 2030 index 0", SovereignSibling(2030), []uint16{0}, PrefixSubstrate, "5ETehspFKFNpBbe5DsfuziN6BWq5Qwp1J8qcTQQoAxwa7BsS"},
		{"para 2004 path 5/2", SovereignChild(2004), []uint16{5, 2}, PrefixPolkadot, child2004x52},
		{"sibl 2004 path 5/2", SovereignSibling(2004), []uint16{5, 2}, PrefixPolkadot, sibl2004x52},
		{"empty path", SovereignChild(2004), nil, PrefixPolkadot, para2004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveRecursive(tt.parent, tt.path)
			assert.Equal(t, tt.want, got.SS58(tt.prefix))
		})
	}
}

// TestTranslateDerived 雙層衍生帳戶轉換
func TestTranslateDerived(t *testing.T) {
	source := MustParseSS58(child2004x52)
	owner := MustParseSS58(para2004)

	got, err := TranslateDerived(source, owner, []uint16{5, 2})
	require.NoError(t, err)
	assert.Equal(t, sibl2004x52, got.SS58(PrefixPolkadot))

	// 路徑錯誤
	_, err = TranslateDerived(source, owner, []uint16{5, 3})
	assert.ErrorIs(t, err, ErrWrongDerivedTranslation)

	// 擁有者錯誤
	_, err = TranslateDerived(source, MustParseSS58(para2030), []uint16{5, 2})
	assert.ErrorIs(t, err, ErrWrongDerivedTranslation)

	// 來源帳戶本身是主權帳戶而非衍生帳戶
	_, err = TranslateDerived(owner, MustParseSS58(para2030), []uint16{5, 2})
	assert.ErrorIs(t, err, ErrWrongDerivedTranslation)

	// 見證正確但擁有者不是主權帳戶
	plain := MustParseSS58(sibl2004x52)
	_, err = TranslateDerived(Derive(plain, 1), plain, []uint16{1})
	assert.ErrorIs(t, err, ErrNotSovereign)
}

func TestVerifyParaDerived(t *testing.T) {
	from := MustParseSS58(child2004x52)
	to := MustParseSS58(sibl2004x52)
	path := []uint16{5, 2}

	require.NoError(t, VerifyParaDerived(2004, path, from, to))
	assert.ErrorIs(t, VerifyParaDerived(2005, path, from, to), ErrWrongDerivedTranslation)
	assert.ErrorIs(t, VerifyParaDerived(2004, []uint16{5, 3}, from, to), ErrWrongDerivedTranslation)
	assert.ErrorIs(t, VerifyParaDerived(2004, path, from, from), ErrWrongDerivedTranslation)
	assert.ErrorIs(t, VerifyParaDerived(2004, path, to, from), ErrWrongDerivedTranslation)
}

// ============================================================================
// Mapper
// ============================================================================

func TestMapper(t *testing.T) {
	m, err := NewMapper(PrefixPolkadot, []Witness{
		{Source: child2004x52, Owner: para2004, Path: []uint16{5, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Witnesses())

	// 衍生帳戶
	out, err := m.MapAddress(child2004x52)
	require.NoError(t, err)
	assert.Equal(t, sibl2004x52, out)

	// 主權帳戶
	out, err = m.MapAddress(para2030)
	require.NoError(t, err)
	assert.Equal(t, sibl2030, out)

	// 一般帳戶原樣保留
	plain := "14vtfeKAVKh1Jzb3s7e43SqZ3zB5MLsdCxZPoKDxeoCFKLu5"
	out, err = m.MapAddress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	// 錯誤見證會拒絕該帳戶
	m.Register(MustParseSS58(plain), MustParseSS58(para2004), []uint16{0})
	_, err = m.MapAddress(plain)
	assert.ErrorIs(t, err, ErrWrongDerivedTranslation)

	_, err = NewMapper(PrefixPolkadot, []Witness{{Source: "nope", Owner: para2004}})
	assert.Error(t, err)
}
