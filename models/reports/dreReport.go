package reports

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumeara/dre_backend/models"
)

const (
	BasisCash    = "caixa"
	BasisAccrual = "competencia"

	GroupByMonth   = "month"
	GroupByQuarter = "quarter"
	GroupByYear    = "year"
)

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// DREQuery is one report request. From and To are inclusive YYYY-MM
// month bounds.
type DREQuery struct {
	TenantId  string
	From      string
	To        string
	Basis     string
	GroupBy   string
	Pcg       []string
	Types     []string
	Origins   []string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Search    string
}

type DRERow struct {
	Period  string          `json:"period"`
	PcgCode string          `json:"pcgCode"`
	PcgName string          `json:"pcgName,omitempty"`
	PcgType string          `json:"pcgType"`
	Total   decimal.Decimal `json:"total"`
	Entries int64           `json:"entries"`
}

type DRESummary struct {
	Total    decimal.Decimal            `json:"total"`
	ByType   map[string]decimal.Decimal `json:"byType"`
	ByPeriod map[string]decimal.Decimal `json:"byPeriod"`
	ByPcg    map[string]decimal.Decimal `json:"byPcg"`
}

type DREMeta struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Basis   string `json:"basis"`
	GroupBy string `json:"groupBy"`
}

type DREResponse struct {
	Rows    []DRERow   `json:"rows"`
	Summary DRESummary `json:"summary"`
	Meta    DREMeta    `json:"meta"`
}

func (q *DREQuery) normalize() error {
	if strings.TrimSpace(q.TenantId) == "" {
		return errors.New("tenantId is required")
	}
	if !periodPattern.MatchString(q.From) || !periodPattern.MatchString(q.To) {
		return errors.New("from and to must be YYYY-MM")
	}
	if q.From > q.To {
		return errors.New("from must not be after to")
	}
	switch q.Basis {
	case "":
		q.Basis = BasisAccrual
	case BasisCash, BasisAccrual:
	default:
		return fmt.Errorf("unknown basis %q", q.Basis)
	}
	switch q.GroupBy {
	case "":
		q.GroupBy = GroupByMonth
	case GroupByMonth, GroupByQuarter, GroupByYear:
	default:
		return fmt.Errorf("unknown groupBy %q", q.GroupBy)
	}
	return nil
}

type dreLedgerRow struct {
	Date        time.Time
	AccrualDate *time.Time
	Credit      string
	Amount      decimal.Decimal
	PcgName     *string
	PcgType     *string
}

// GetDREReport aggregates ledger rows into the DRE grid. Filtering
// happens in SQL, period bucketing and decimal summation happen here so
// the math is identical across database engines.
func GetDREReport(ctx context.Context, db *gorm.DB, query DREQuery) (*DREResponse, error) {
	if err := query.normalize(); err != nil {
		return nil, err
	}

	started := time.Now()
	cacheKey := dreCacheKey(query)
	if reportCacheEnabled() {
		var cached DREResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	fromTime, _ := time.Parse("2006-01", query.From)
	toTime, _ := time.Parse("2006-01", query.To)
	rangeEnd := toTime.AddDate(0, 1, 0)

	// the accrual basis prefers accrualDate and falls back to date
	dateExpr := "transactions.date"
	if query.Basis == BasisAccrual {
		dateExpr = "COALESCE(transactions.accrual_date, transactions.date)"
	}

	tx := db.WithContext(ctx).
		Table("transactions").
		Select("transactions.date, transactions.accrual_date, transactions.credit, transactions.amount, pcg_accounts.name AS pcg_name, pcg_accounts.type AS pcg_type").
		Joins("LEFT JOIN pcg_accounts ON pcg_accounts.tenant_id = transactions.tenant_id AND pcg_accounts.code = transactions.credit").
		Where("transactions.tenant_id = ?", query.TenantId).
		Where(dateExpr+" >= ? AND "+dateExpr+" < ?", fromTime, rangeEnd)

	if len(query.Pcg) > 0 {
		tx = tx.Where("transactions.credit IN ?", query.Pcg)
	}
	if len(query.Types) > 0 {
		tx = tx.Where("pcg_accounts.type IN ?", query.Types)
	}
	if len(query.Origins) > 0 {
		tx = tx.Where("transactions.origin IN ?", query.Origins)
	}
	if query.MinAmount != nil {
		tx = tx.Where("transactions.amount >= ?", *query.MinAmount)
	}
	if query.MaxAmount != nil {
		tx = tx.Where("transactions.amount <= ?", *query.MaxAmount)
	}
	if term := strings.TrimSpace(query.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		tx = tx.Where(
			"LOWER(COALESCE(pcg_accounts.name, '')) LIKE ? OR LOWER(transactions.credit) LIKE ? OR LOWER(transactions.debit) LIKE ? OR LOWER(COALESCE(transactions.memo, '')) LIKE ? OR LOWER(COALESCE(transactions.source_ref, '')) LIKE ?",
			like, like, like, like, like)
	}

	var rows []dreLedgerRow
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}

	response := aggregateDRE(rows, query)

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, response, reportCacheTTL())
	}
	logSlowReport(ctx, "dre", started, map[string]any{"rows": len(rows)})
	return response, nil
}

func aggregateDRE(rows []dreLedgerRow, query DREQuery) *DREResponse {
	type bucketKey struct {
		period string
		credit string
	}
	type bucket struct {
		total   decimal.Decimal
		entries int64
		name    string
		pcgType string
	}

	buckets := map[bucketKey]*bucket{}
	for _, row := range rows {
		basisDate := row.Date
		if query.Basis == BasisAccrual && row.AccrualDate != nil {
			basisDate = *row.AccrualDate
		}
		key := bucketKey{period: periodLabel(basisDate, query.GroupBy), credit: row.Credit}
		b := buckets[key]
		if b == nil {
			b = &bucket{pcgType: models.PCGTypeUnknown}
			if row.PcgName != nil && *row.PcgName != "" {
				b.name = *row.PcgName
			} else {
				// unmapped accounts show the raw code instead of a blank
				b.name = key.credit
			}
			if row.PcgType != nil && *row.PcgType != "" {
				b.pcgType = *row.PcgType
			}
			buckets[key] = b
		}
		b.total = b.total.Add(row.Amount)
		b.entries++
	}

	response := &DREResponse{
		Rows: make([]DRERow, 0, len(buckets)),
		Summary: DRESummary{
			ByType:   map[string]decimal.Decimal{},
			ByPeriod: map[string]decimal.Decimal{},
			ByPcg:    map[string]decimal.Decimal{},
		},
		Meta: DREMeta{
			From:    query.From,
			To:      query.To,
			Basis:   query.Basis,
			GroupBy: query.GroupBy,
		},
	}

	for key, b := range buckets {
		response.Rows = append(response.Rows, DRERow{
			Period:  key.period,
			PcgCode: key.credit,
			PcgName: b.name,
			PcgType: b.pcgType,
			Total:   b.total,
			Entries: b.entries,
		})
		response.Summary.Total = response.Summary.Total.Add(b.total)
		response.Summary.ByType[b.pcgType] = response.Summary.ByType[b.pcgType].Add(b.total)
		response.Summary.ByPeriod[key.period] = response.Summary.ByPeriod[key.period].Add(b.total)
		response.Summary.ByPcg[key.credit] = response.Summary.ByPcg[key.credit].Add(b.total)
	}

	sort.Slice(response.Rows, func(i, j int) bool {
		if response.Rows[i].Period != response.Rows[j].Period {
			return response.Rows[i].Period < response.Rows[j].Period
		}
		return response.Rows[i].PcgCode < response.Rows[j].PcgCode
	})
	return response
}

func periodLabel(t time.Time, groupBy string) string {
	switch groupBy {
	case GroupByQuarter:
		quarter := (int(t.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", t.Year(), quarter)
	case GroupByYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}

func dreCacheKey(query DREQuery) string {
	parts := []string{
		"DREReport", query.TenantId, query.From, query.To, query.Basis, query.GroupBy,
		strings.Join(query.Pcg, ","), strings.Join(query.Types, ","), strings.Join(query.Origins, ","),
		strings.ToLower(strings.TrimSpace(query.Search)),
	}
	if query.MinAmount != nil {
		parts = append(parts, "min:"+query.MinAmount.String())
	}
	if query.MaxAmount != nil {
		parts = append(parts, "max:"+query.MaxAmount.String())
	}
	return strings.Join(parts, ":")
}
