package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one canonical double-entry ledger row. Every ingestion path
// (spreadsheet import, Tiny ERP sync) reduces to this shape.
type Transaction struct {
	ID       uint   `gorm:"primary_key" json:"id"`
	TenantId string `gorm:"index;size:64;not null;uniqueIndex:idx_tenant_origin_ref" json:"tenant_id" binding:"required"`
	// Cash-basis date.
	Date time.Time `gorm:"index;not null" json:"date"`
	// Accrual-basis date (competência); nil falls back to Date at query time.
	AccrualDate *time.Time      `gorm:"index" json:"accrual_date"`
	Debit       string          `gorm:"size:100;not null" json:"debit"`
	Credit      string          `gorm:"index;size:100;not null" json:"credit"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency    string          `gorm:"size:10;not null;default:BRL" json:"currency"`
	Memo        *string         `gorm:"size:500" json:"memo"`
	// Origin tags the ingestion path, e.g. "import:xlsx" or "ERP:Tiny:orders".
	Origin string `gorm:"size:100;not null;uniqueIndex:idx_tenant_origin_ref" json:"origin"`
	// SourceRef is the stable external identifier used for reconciliation.
	// Rows without one have no identity and are always inserted.
	SourceRef *string `gorm:"size:191;uniqueIndex:idx_tenant_origin_ref" json:"source_ref"`
	// Meta keeps the original payload for audit/debug.
	Meta      []byte    `gorm:"type:json" json:"meta"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type PCGType string

const (
	PCGTypeRevenue   PCGType = "REVENUE"
	PCGTypeDeduction PCGType = "DEDUCTION"
	PCGTypeCost      PCGType = "COST"
	PCGTypeOpex      PCGType = "OPEX"
	PCGTypeResult    PCGType = "RESULT"

	// PCGTypeUnknown labels ledger rows whose credit account has no
	// chart entry. Reports group them under this type, never drop them.
	PCGTypeUnknown = "UNKNOWN"
)

func PCGTypes() []PCGType {
	return []PCGType{PCGTypeRevenue, PCGTypeDeduction, PCGTypeCost, PCGTypeOpex, PCGTypeResult}
}

// PCGAccount is a chart-of-accounts entry (plano de contas gerencial).
// Read-side only: ingestion never mutates it.
type PCGAccount struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;uniqueIndex:idx_tenant_pcg_code" json:"tenant_id" binding:"required"`
	Code      string    `gorm:"size:100;not null;uniqueIndex:idx_tenant_pcg_code" json:"code" binding:"required"`
	Name      string    `gorm:"size:200;not null" json:"name" binding:"required"`
	Type      PCGType   `gorm:"size:20;not null" json:"type" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TinyIntegrationConfig holds per-tenant sync state. LastSyncAt/NextSyncAt
// transitions belong to the scheduler; the config endpoint owns the rest.
type TinyIntegrationConfig struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TenantId      string     `gorm:"size:64;not null;uniqueIndex" json:"tenant_id" binding:"required"`
	Token         string     `gorm:"size:191;not null" json:"-"`
	ModulesJSON   []byte     `gorm:"type:json" json:"-"`
	Enabled       *bool      `gorm:"not null;default:true" json:"enabled"`
	SyncFrequency int        `gorm:"not null;default:1440" json:"sync_frequency"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	NextSyncAt    *time.Time `json:"next_sync_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
