package reports

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lumeara/dre_backend/models"
)

type DREFiltersResponse struct {
	PcgAccounts []models.PCGAccount `json:"pcgAccounts"`
	PcgTypes    []models.PCGType    `json:"pcgTypes"`
	Origins     []string            `json:"origins"`
	Currencies  []string            `json:"currencies"`
	Bases       []string            `json:"bases"`
	Groupings   []string            `json:"groupings"`
}

// GetDREFilters returns the filter catalog the report UI offers:
// the tenant's chart of accounts plus the distinct origins and
// currencies actually present in its ledger.
func GetDREFilters(ctx context.Context, db *gorm.DB, tenantId string) (*DREFiltersResponse, error) {
	if strings.TrimSpace(tenantId) == "" {
		return nil, errors.New("tenantId is required")
	}

	started := time.Now()
	cacheKey := "DREFilters:" + tenantId
	if reportCacheEnabled() {
		var cached DREFiltersResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	accounts, err := models.GetPCGAccounts(ctx, db, tenantId)
	if err != nil {
		return nil, err
	}
	origins, err := models.ListDistinct(ctx, db, tenantId, "origin")
	if err != nil {
		return nil, err
	}
	currencies, err := models.ListDistinct(ctx, db, tenantId, "currency")
	if err != nil {
		return nil, err
	}

	response := &DREFiltersResponse{
		PcgAccounts: accounts,
		PcgTypes:    models.PCGTypes(),
		Origins:     origins,
		Currencies:  currencies,
		Bases:       []string{BasisCash, BasisAccrual},
		Groupings:   []string{GroupByMonth, GroupByQuarter, GroupByYear},
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, response, reportCacheTTL())
	}
	logSlowReport(ctx, "dre_filters", started, nil)
	return response, nil
}
