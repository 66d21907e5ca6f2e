package types

import (
	"errors"
	"fmt"
)

// MessageKind 訊息種類，每個領域資料集對應一或多種
type MessageKind string

const (
	KindAccount           MessageKind = "account"
	KindMultisig          MessageKind = "multisig"
	KindProxy             MessageKind = "proxy"
	KindProxyAnnouncement MessageKind = "proxy_announcement"
	KindPreimageStatus    MessageKind = "preimage_status"
	KindVesting           MessageKind = "vesting"
)

// MessageKinds 所有訊息種類
var MessageKinds = []MessageKind{
	KindAccount,
	KindMultisig,
	KindProxy,
	KindProxyAnnouncement,
	KindPreimageStatus,
	KindVesting,
}

// DomainKinds 每個領域產生的訊息種類
var DomainKinds = map[DomainID][]MessageKind{
	DomainAccounts:  {KindAccount},
	DomainMultisigs: {KindMultisig},
	DomainProxies:   {KindProxy, KindProxyAnnouncement},
	DomainPreimages: {KindPreimageStatus},
	DomainVesting:   {KindVesting},
}

var ErrInvalidMessage = errors.New("invalid message")

// Message 可傳輸的遷移單位（tagged variant）
//
// Kind 決定唯一一個非 nil 的內容欄位；內容中的身分已轉換為目的端定址。
type Message struct {
	Kind         MessageKind          `json:"kind"`
	Account      *AccountMessage      `json:"account,omitempty"`
	Multisig     *MultisigMessage     `json:"multisig,omitempty"`
	Proxy        *ProxyMessage        `json:"proxy,omitempty"`
	Announcement *AnnouncementMessage `json:"announcement,omitempty"`
	Preimage     *PreimageMessage     `json:"preimage,omitempty"`
	Vesting      *VestingMessage      `json:"vesting,omitempty"`
}

// AccountMessage 帳戶餘額
type AccountMessage struct {
	Who      string `json:"who"`
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
	Nonce    uint32 `json:"nonce"`
}

// MultisigMessage 多簽押金（只遷移押金，操作本身不遷移）
type MultisigMessage struct {
	Creator  string `json:"creator"`
	Deposit  uint64 `json:"deposit"`
	CallHash string `json:"call_hash"`
}

// ProxyDefinition 單一代理設定
type ProxyDefinition struct {
	Delegate  string `json:"delegate"`
	ProxyType string `json:"proxy_type"`
	Delay     uint32 `json:"delay"`
}

// ProxyMessage 某帳戶的全部代理
type ProxyMessage struct {
	Delegator string            `json:"delegator"`
	Deposit   uint64            `json:"deposit"`
	Proxies   []ProxyDefinition `json:"proxies"`
}

// AnnouncementMessage 代理公告押金
type AnnouncementMessage struct {
	Depositor string `json:"depositor"`
	Deposit   uint64 `json:"deposit"`
}

// PreimageMessage 正規化後的 preimage 請求狀態
type PreimageMessage struct {
	Hash      string  `json:"hash"`
	Depositor string  `json:"depositor,omitempty"`
	Deposit   uint64  `json:"deposit"`
	Requested bool    `json:"requested"`
	Count     uint32  `json:"count"`
	Len       *uint32 `json:"len,omitempty"`
}

// VestingSchedule 單一解鎖排程
type VestingSchedule struct {
	Locked        uint64 `json:"locked"`
	PerBlock      uint64 `json:"per_block"`
	StartingBlock uint32 `json:"starting_block"`
}

// VestingMessage 某帳戶的全部解鎖排程
type VestingMessage struct {
	Who       string            `json:"who"`
	Schedules []VestingSchedule `json:"schedules"`
}

// Validate 檢查 Kind 與內容欄位是否一致
func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{
		m.Account != nil, m.Multisig != nil, m.Proxy != nil,
		m.Announcement != nil, m.Preimage != nil, m.Vesting != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set for kind %q", ErrInvalidMessage, set, m.Kind)
	}

	ok := false
	switch m.Kind {
	case KindAccount:
		ok = m.Account != nil
	case KindMultisig:
		ok = m.Multisig != nil
	case KindProxy:
		ok = m.Proxy != nil
	case KindProxyAnnouncement:
		ok = m.Announcement != nil
	case KindPreimageStatus:
		ok = m.Preimage != nil
	case KindVesting:
		ok = m.Vesting != nil
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Key 目的端記錄的主鍵
func (m Message) Key() string {
	switch m.Kind {
	case KindAccount:
		return m.Account.Who
	case KindMultisig:
		return m.Multisig.Creator + "/" + m.Multisig.CallHash
	case KindProxy:
		return m.Proxy.Delegator
	case KindProxyAnnouncement:
		return m.Announcement.Depositor
	case KindPreimageStatus:
		return m.Preimage.Hash
	case KindVesting:
		return m.Vesting.Who
	}
	return ""
}

// Amount 訊息對一致性檢查總額的貢獻（餘額或押金）
func (m Message) Amount() uint64 {
	switch m.Kind {
	case KindAccount:
		return m.Account.Free + m.Account.Reserved
	case KindMultisig:
		return m.Multisig.Deposit
	case KindProxy:
		return m.Proxy.Deposit
	case KindProxyAnnouncement:
		return m.Announcement.Deposit
	case KindPreimageStatus:
		return m.Preimage.Deposit
	case KindVesting:
		var sum uint64
		for _, s := range m.Vesting.Schedules {
			sum += s.Locked
		}
		return sum
	}
	return 0
}

// Batch 一起送出的訊息群組
type Batch struct {
	Domain   DomainID  `json:"domain"`
	Messages []Message `json:"messages"`
}
