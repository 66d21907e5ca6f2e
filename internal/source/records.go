package source

import "github.com/ChuLiYu/beaver-migrate/pkg/types"

// 來源資料表名稱
const (
	TableAccounts         = "accounts"
	TableMultisigs        = "multisigs"
	TableProxies          = "proxies"
	TableAnnouncements    = "proxy_announcements"
	TablePreimagesLegacy  = "preimage_status_legacy"
	TablePreimagesCurrent = "preimage_status"
	TableVesting          = "vesting"
)

// Tables 所有資料表，依領域遷移順序排列
var Tables = []string{
	TableAccounts,
	TableMultisigs,
	TableProxies,
	TableAnnouncements,
	TablePreimagesLegacy,
	TablePreimagesCurrent,
	TableVesting,
}

// DomainTables 每個領域依子階段順序讀取的資料表
var DomainTables = map[types.DomainID][]string{
	types.DomainAccounts:  {TableAccounts},
	types.DomainMultisigs: {TableMultisigs},
	types.DomainProxies:   {TableProxies, TableAnnouncements},
	types.DomainPreimages: {TablePreimagesLegacy, TablePreimagesCurrent},
	types.DomainVesting:   {TableVesting},
}

// AccountRecord 帳戶餘額，鍵為帳戶位址
type AccountRecord struct {
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
	Nonce    uint32 `json:"nonce"`
}

// MultisigRecord 多簽押金，鍵為 {creator}/{call_hash}
type MultisigRecord struct {
	Creator  string `json:"creator"`
	Deposit  uint64 `json:"deposit"`
	CallHash string `json:"call_hash"`
}

// ProxyRecord 代理設定，鍵為委託人位址
type ProxyRecord struct {
	Deposit uint64                  `json:"deposit"`
	Proxies []types.ProxyDefinition `json:"proxies"`
}

// AnnouncementRecord 代理公告押金，鍵為押金人位址
type AnnouncementRecord struct {
	Deposit uint64 `json:"deposit"`
}

// Deposit 押金（押金人 + 金額）
type Deposit struct {
	Who    string `json:"who"`
	Amount uint64 `json:"amount"`
}

// LegacyRequestStatus 舊格式 preimage 請求狀態，鍵為 preimage 雜湊
type LegacyRequestStatus struct {
	Unrequested *LegacyUnrequested `json:"unrequested,omitempty"`
	Requested   *LegacyRequested   `json:"requested,omitempty"`
}

type LegacyUnrequested struct {
	Deposit Deposit `json:"deposit"`
	Len     uint32  `json:"len"`
}

type LegacyRequested struct {
	Deposit *Deposit `json:"deposit,omitempty"`
	Count   uint32   `json:"count"`
	Len     *uint32  `json:"len,omitempty"`
}

// RequestStatus 新格式 preimage 請求狀態（以 ticket 取代 deposit），鍵為 preimage 雜湊
type RequestStatus struct {
	Unrequested *Unrequested `json:"unrequested,omitempty"`
	Requested   *Requested   `json:"requested,omitempty"`
}

type Unrequested struct {
	Ticket Deposit `json:"ticket"`
	Len    uint32  `json:"len"`
}

type Requested struct {
	MaybeTicket *Deposit `json:"maybe_ticket,omitempty"`
	Count       uint32   `json:"count"`
	MaybeLen    *uint32  `json:"maybe_len,omitempty"`
}

// VestingRecord 線性解鎖排程，鍵為帳戶位址
type VestingRecord struct {
	Schedules []types.VestingSchedule `json:"schedules"`
}
