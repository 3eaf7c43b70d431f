package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger store contract. Reconciliation and the DRE engine consume the ledger
// only through these functions; nothing else writes transaction rows.

// InsertTransactions inserts a batch, silently skipping rows that collide on
// the (tenant_id, origin, source_ref) unique index. Duplicate inserts of rows
// without identity are accepted; a conflict is a count, not an error.
// Returns how many rows actually landed.
func InsertTransactions(ctx context.Context, db *gorm.DB, batch []*Transaction) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&batch)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// TransactionFields is the updatable subset applied when a later sync revisits
// an existing (tenant, origin, sourceRef) row.
type TransactionFields struct {
	Date        time.Time
	AccrualDate *time.Time
	Debit       string
	Credit      string
	Amount      decimal.Decimal
	Currency    string
	Memo        *string
	Meta        []byte
}

func UpdateTransactionsByOriginRef(ctx context.Context, db *gorm.DB, tenantId string, origin string, sourceRef string, fields TransactionFields) error {
	return db.WithContext(ctx).
		Model(&Transaction{}).
		Where("tenant_id = ? AND origin = ? AND source_ref = ?", tenantId, origin, sourceRef).
		Updates(map[string]interface{}{
			"date":         fields.Date,
			"accrual_date": fields.AccrualDate,
			"debit":        fields.Debit,
			"credit":       fields.Credit,
			"amount":       fields.Amount,
			"currency":     fields.Currency,
			"memo":         fields.Memo,
			"meta":         fields.Meta,
		}).Error
}

// RefKey builds the identity lookup key for an (origin, sourceRef) pair.
func RefKey(origin, sourceRef string) string {
	return origin + "\x00" + sourceRef
}

// FindTransactionRefs returns which of the given refs already exist for the
// tenant within the given origins, keyed by RefKey. Identity is the
// (origin, sourceRef) pair, the same ref under another origin is a
// different row.
func FindTransactionRefs(ctx context.Context, db *gorm.DB, tenantId string, origins []string, refs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(refs) == 0 {
		return existing, nil
	}
	var found []struct {
		Origin    string
		SourceRef string
	}
	query := db.WithContext(ctx).
		Model(&Transaction{}).
		Select("origin, source_ref").
		Where("tenant_id = ? AND source_ref IN ?", tenantId, refs)
	if len(origins) > 0 {
		query = query.Where("origin IN ?", origins)
	}
	if err := query.Scan(&found).Error; err != nil {
		return nil, err
	}
	for _, row := range found {
		existing[RefKey(row.Origin, row.SourceRef)] = true
	}
	return existing, nil
}

var distinctColumns = map[string]bool{
	"origin":   true,
	"currency": true,
	"debit":    true,
	"credit":   true,
}

// ListDistinct lists distinct non-empty values of a whitelisted column for a
// tenant, ordered ascending. Used to build the DRE filter catalog.
func ListDistinct(ctx context.Context, db *gorm.DB, tenantId string, column string) ([]string, error) {
	if !distinctColumns[column] {
		return nil, fmt.Errorf("column %q is not listable", column)
	}
	var values []string
	err := db.WithContext(ctx).
		Model(&Transaction{}).
		Where("tenant_id = ?", tenantId).
		Distinct(column).
		Order(column + " asc").
		Pluck(column, &values).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func GetPCGAccounts(ctx context.Context, db *gorm.DB, tenantId string) ([]PCGAccount, error) {
	var accounts []PCGAccount
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("code asc").
		Find(&accounts).Error
	return accounts, err
}

func GetTinyConfig(ctx context.Context, db *gorm.DB, tenantId string) (*TinyIntegrationConfig, error) {
	var cfg TinyIntegrationConfig
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantId).Take(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}
