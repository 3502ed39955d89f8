package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table: one materialized balance row per
// canonical address.
type Account struct {
	Address        string     `gorm:"primaryKey"`
	Balance        int64      `gorm:"not null;default:0"`
	TotalEarned    int64      `gorm:"not null;default:0"`
	TotalSpent     int64      `gorm:"not null;default:0"`
	TotalPurchased int64      `gorm:"not null;default:0"`
	LastClaimAt    *time.Time `gorm:""`
	Streak         int64      `gorm:"not null;default:0"`
	CreatedAt      time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table (append-only).
type LedgerEntry struct {
	EntryID   string         `gorm:"type:uuid;primaryKey"`
	Address   string         `gorm:"not null;index:idx_ledger_address_created,priority:1"`
	Kind      string         `gorm:"not null"`
	Amount    int64          `gorm:"not null"`
	RelatedID *string        `gorm:""`
	Metadata  datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_ledger_address_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Purchase mirrors the purchases table. TxHash is unique once set so one
// payment proof can never settle two purchases.
type Purchase struct {
	PurchaseID   string     `gorm:"type:uuid;primaryKey"`
	Address      string     `gorm:"not null;index:idx_purchases_address_created,priority:1"`
	Tier         string     `gorm:"not null"`
	USDCCents    int64      `gorm:"not null"`
	ScarabAmount int64      `gorm:"not null"`
	Status       string     `gorm:"not null"`
	TxHash       *string    `gorm:"index:uniq_purchases_tx_hash,unique"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_purchases_address_created,priority:2"`
	ConfirmedAt  *time.Time `gorm:""`
}

func (Purchase) TableName() string { return "purchases" }

func (purchase *Purchase) BeforeCreate(tx *gorm.DB) error {
	if purchase.PurchaseID == "" {
		purchase.PurchaseID = uuid.NewString()
	}
	return nil
}
