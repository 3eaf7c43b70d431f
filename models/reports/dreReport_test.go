package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/models/reports"
)

func openReportDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Transaction{}, &models.PCGAccount{}, &models.TinyIntegrationConfig{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedTxn(t *testing.T, db *gorm.DB, tenant, credit, amount, date string, accrual *string, origin string) {
	t.Helper()
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		t.Fatal(err)
	}
	txn := models.Transaction{
		TenantId: tenant,
		Date:     d,
		Debit:    "Clientes",
		Credit:   credit,
		Amount:   decimal.RequireFromString(amount),
		Currency: "BRL",
		Origin:   origin,
	}
	if accrual != nil {
		a, err := time.Parse("2006-01-02", *accrual)
		if err != nil {
			t.Fatal(err)
		}
		txn.AccrualDate = &a
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatal(err)
	}
}

func seedAccount(t *testing.T, db *gorm.DB, tenant, code, name string, typ models.PCGType) {
	t.Helper()
	if err := db.Create(&models.PCGAccount{TenantId: tenant, Code: code, Name: name, Type: typ}).Error; err != nil {
		t.Fatal(err)
	}
}

func TestGetDREReportMonthGrouping(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedAccount(t, db, "tenant-a", "3.1", "Receita Bruta", models.PCGTypeRevenue)
	seedTxn(t, db, "tenant-a", "3.1", "100", "2025-01-10", nil, "import:xlsx")
	seedTxn(t, db, "tenant-a", "3.1", "50", "2025-01-20", nil, "import:xlsx")
	seedTxn(t, db, "tenant-a", "3.1", "70", "2025-02-05", nil, "import:xlsx")

	resp, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a",
		From:     "2025-01",
		To:       "2025-02",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 month buckets", len(resp.Rows))
	}

	jan := resp.Rows[0]
	if jan.Period != "2025-01" || !jan.Total.Equal(decimal.RequireFromString("150")) || jan.Entries != 2 {
		t.Fatalf("january row = %+v, want 150 across 2 entries", jan)
	}
	if jan.PcgName != "Receita Bruta" || jan.PcgType != string(models.PCGTypeRevenue) {
		t.Fatalf("january row chart fields = %+v", jan)
	}

	if !resp.Summary.Total.Equal(decimal.RequireFromString("220")) {
		t.Fatalf("summary total = %s, want 220", resp.Summary.Total)
	}
	if !resp.Summary.ByPeriod["2025-02"].Equal(decimal.RequireFromString("70")) {
		t.Fatalf("byPeriod = %v", resp.Summary.ByPeriod)
	}
	if !resp.Summary.ByType["REVENUE"].Equal(decimal.RequireFromString("220")) {
		t.Fatalf("byType = %v", resp.Summary.ByType)
	}
	if resp.Meta.Basis != reports.BasisAccrual || resp.Meta.GroupBy != reports.GroupByMonth {
		t.Fatalf("meta defaults = %+v", resp.Meta)
	}
}

func TestGetDREReportRangeIsInclusiveByMonth(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedTxn(t, db, "tenant-a", "3.1", "10", "2025-01-31", nil, "import:xlsx")
	seedTxn(t, db, "tenant-a", "3.1", "20", "2025-02-01", nil, "import:xlsx")

	resp, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a",
		From:     "2025-01",
		To:       "2025-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("got %d rows, want only january", len(resp.Rows))
	}
	if !resp.Summary.Total.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("total = %s, want the last day of january included and february excluded", resp.Summary.Total)
	}
}

func TestGetDREReportAccrualBasis(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	accrual := "2025-01-15"
	// paid in march, earned in january
	seedTxn(t, db, "tenant-a", "3.1", "100", "2025-03-10", &accrual, "import:xlsx")

	byAccrual, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", Basis: reports.BasisAccrual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccrual.Rows) != 1 || byAccrual.Rows[0].Period != "2025-01" {
		t.Fatalf("accrual rows = %+v, want the january bucket", byAccrual.Rows)
	}

	byCash, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", Basis: reports.BasisCash,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byCash.Rows) != 0 {
		t.Fatalf("cash rows = %+v, want empty in january", byCash.Rows)
	}
}

func TestGetDREReportQuarterAndYearLabels(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedTxn(t, db, "tenant-a", "3.1", "10", "2025-02-10", nil, "import:xlsx")
	seedTxn(t, db, "tenant-a", "3.1", "20", "2025-05-10", nil, "import:xlsx")

	quarters, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-06", GroupBy: reports.GroupByQuarter,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(quarters.Rows) != 2 || quarters.Rows[0].Period != "2025-Q1" || quarters.Rows[1].Period != "2025-Q2" {
		t.Fatalf("quarter rows = %+v", quarters.Rows)
	}

	years, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-12", GroupBy: reports.GroupByYear,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(years.Rows) != 1 || years.Rows[0].Period != "2025" {
		t.Fatalf("year rows = %+v", years.Rows)
	}
	if !years.Rows[0].Total.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("year total = %s", years.Rows[0].Total)
	}
}

func TestGetDREReportFilters(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedAccount(t, db, "tenant-a", "3.1", "Receita Bruta", models.PCGTypeRevenue)
	seedAccount(t, db, "tenant-a", "5.1", "Despesas Operacionais", models.PCGTypeOpex)
	seedTxn(t, db, "tenant-a", "3.1", "100", "2025-01-10", nil, "ERP:Tiny:orders")
	seedTxn(t, db, "tenant-a", "5.1", "-40", "2025-01-12", nil, "import:xlsx")
	seedTxn(t, db, "tenant-b", "3.1", "999", "2025-01-10", nil, "import:xlsx")

	byOrigin, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", Origins: []string{"ERP:Tiny:orders"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byOrigin.Rows) != 1 || byOrigin.Rows[0].PcgCode != "3.1" {
		t.Fatalf("origin filter rows = %+v", byOrigin.Rows)
	}

	byType, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", Types: []string{"OPEX"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType.Rows) != 1 || byType.Rows[0].PcgCode != "5.1" {
		t.Fatalf("type filter rows = %+v", byType.Rows)
	}

	min := decimal.RequireFromString("0")
	byMin, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", MinAmount: &min,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byMin.Rows) != 1 || byMin.Rows[0].PcgCode != "3.1" {
		t.Fatalf("min amount rows = %+v", byMin.Rows)
	}

	bySearch, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01", Search: "despesas",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySearch.Rows) != 1 || bySearch.Rows[0].PcgCode != "5.1" {
		t.Fatalf("search rows = %+v", bySearch.Rows)
	}

	// tenant isolation
	if !byOrigin.Summary.Total.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("summary leaked another tenant: %s", byOrigin.Summary.Total)
	}
}

func TestGetDREReportUnknownAccountType(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedTxn(t, db, "tenant-a", "9.9.9", "42", "2025-01-10", nil, "import:xlsx")

	resp, err := reports.GetDREReport(ctx, db, reports.DREQuery{
		TenantId: "tenant-a", From: "2025-01", To: "2025-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].PcgType != models.PCGTypeUnknown {
		t.Fatalf("rows = %+v, want the row kept under UNKNOWN", resp.Rows)
	}
	if resp.Rows[0].PcgName != "9.9.9" {
		t.Fatalf("pcgName = %q, want the raw code when unmapped", resp.Rows[0].PcgName)
	}
	if !resp.Summary.ByType[models.PCGTypeUnknown].Equal(decimal.RequireFromString("42")) {
		t.Fatalf("byType = %v", resp.Summary.ByType)
	}
}

func TestGetDREReportValidation(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	cases := []reports.DREQuery{
		{TenantId: "", From: "2025-01", To: "2025-02"},
		{TenantId: "t", From: "2025-1", To: "2025-02"},
		{TenantId: "t", From: "2025-03", To: "2025-01"},
		{TenantId: "t", From: "2025-01", To: "2025-02", Basis: "banana"},
		{TenantId: "t", From: "2025-01", To: "2025-02", GroupBy: "week"},
	}
	for i, q := range cases {
		if _, err := reports.GetDREReport(ctx, db, q); err == nil {
			t.Errorf("case %d: expected a validation error", i)
		}
	}
}

func TestGetDREFilters(t *testing.T) {
	db := openReportDB(t)
	ctx := context.Background()

	seedAccount(t, db, "tenant-a", "3.1", "Receita Bruta", models.PCGTypeRevenue)
	seedTxn(t, db, "tenant-a", "3.1", "100", "2025-01-10", nil, "ERP:Tiny:orders")
	seedTxn(t, db, "tenant-a", "3.1", "50", "2025-01-11", nil, "import:xlsx")

	resp, err := reports.GetDREFilters(ctx, db, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.PcgAccounts) != 1 {
		t.Fatalf("accounts = %+v", resp.PcgAccounts)
	}
	if len(resp.Origins) != 2 {
		t.Fatalf("origins = %v, want both distinct origins", resp.Origins)
	}
	if len(resp.Bases) != 2 || len(resp.Groupings) != 3 {
		t.Fatalf("catalog = %+v", resp)
	}
	if len(resp.PcgTypes) != 5 {
		t.Fatalf("pcg types = %v", resp.PcgTypes)
	}
}
