package models

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedDefaultPCG installs the default Brazilian DRE chart for a tenant.
// Idempotent: existing codes are left untouched.
func SeedDefaultPCG(ctx context.Context, db *gorm.DB, tenantId string) error {
	defaults := []PCGAccount{
		{TenantId: tenantId, Code: "3.1", Name: "Receita Bruta", Type: PCGTypeRevenue},
		{TenantId: tenantId, Code: "3.2", Name: "Dedução", Type: PCGTypeDeduction},
		{TenantId: tenantId, Code: "3.3", Name: "Receita Líquida", Type: PCGTypeRevenue},
		{TenantId: tenantId, Code: "4.1", Name: "CMV/CPV", Type: PCGTypeCost},
		{TenantId: tenantId, Code: "4.2", Name: "Margem Bruta", Type: PCGTypeRevenue},
		{TenantId: tenantId, Code: "5.1", Name: "Despesas Operacionais", Type: PCGTypeOpex},
		{TenantId: tenantId, Code: "9.1", Name: "Resultado do Exercício", Type: PCGTypeResult},
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaults).Error
}
