package tinysync

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
)

func defaultPageSize() int {
	if v := strings.TrimSpace(os.Getenv("TINY_PAGE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func detailConcurrency() int {
	if v := strings.TrimSpace(os.Getenv("TINY_DETAIL_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

// SyncTenant runs one full fetch -> map -> reconcile cycle for a
// tenant. Modules run independently: one module failing is recorded on
// its result row and the others still run. The returned error is
// non-nil only when no module could run at all.
func SyncTenant(ctx context.Context, db *gorm.DB, opts SyncOptions) (*SyncSummary, error) {
	logger := config.GetLogger()

	client, err := newTinyClient(opts.Token)
	if err != nil {
		return nil, err
	}
	defer client.close()

	modules := NormalizeModules(opts.Modules)
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize()
	}

	summary := &SyncSummary{
		TenantId: opts.TenantId,
		SyncedAt: time.Now().UTC(),
	}

	failures := 0
	for _, module := range modules {
		result := syncModule(ctx, db, client, module, opts, pageSize)
		if result.Error != "" {
			failures++
			config.LogError(logger, "tinysync", "SyncTenant",
				fmt.Sprintf("module %s failed for tenant %s", module, opts.TenantId),
				map[string]interface{}{"module": module, "tenantId": opts.TenantId},
				fmt.Errorf("%s", result.Error))
		}
		summary.Results = append(summary.Results, result)
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}
	if failures == len(modules) && failures > 0 {
		return summary, fmt.Errorf("all modules failed for tenant %s", opts.TenantId)
	}
	return summary, nil
}

func syncModule(ctx context.Context, db *gorm.DB, client *tinyClient, module ModuleKind, opts SyncOptions, pageSize int) ModuleResult {
	result := ModuleResult{Module: module}
	origin := originForModule(module)
	defaults := DefaultAccounts()

	var drafts []*models.Transaction
	for _, res := range resourcesForModule(module) {
		records, err := collectResource(ctx, client, res, opts.UpdateFrom, pageSize)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Pulled += len(records)
		for _, record := range records {
			drafts = append(drafts, mapRecord(module, record, opts.TenantId, origin, defaults)...)
		}
	}

	outcome, err := models.ReconcileTransactions(ctx, db, opts.TenantId, drafts)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	// persisted counts new rows only; revisited refs become updates
	result.Persisted = outcome.Inserted
	return result
}

// collectResource paginates the search endpoint until a short or empty
// page, upgrading each summary to its detail with bounded concurrency.
func collectResource(ctx context.Context, client *tinyClient, res resource, updateFrom string, pageSize int) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	for page := 1; ; page++ {
		summaries, err := client.searchPage(ctx, res, searchParams{
			page:       page,
			pageSize:   pageSize,
			updateFrom: updateFrom,
		})
		if err != nil {
			if page == 1 {
				return nil, err
			}
			// later pages failing truncates the run, what we have
			// still gets persisted
			return records, nil
		}
		if len(summaries) == 0 {
			return records, nil
		}

		details := make([]map[string]interface{}, len(summaries))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(detailConcurrency())
		for i, summary := range summaries {
			i, summary := i, summary
			group.Go(func() error {
				details[i] = client.fetchDetail(groupCtx, res, summary)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		records = append(records, details...)

		if len(summaries) < pageSize {
			return records, nil
		}
	}
}

func resourcesForModule(module ModuleKind) []resource {
	switch module {
	case ModuleOrders:
		return []resource{orderResource}
	case ModuleInvoices:
		return []resource{invoiceResource}
	case ModuleFinancial:
		return []resource{receivableResource, payableResource}
	}
	return nil
}

func originForModule(module ModuleKind) string {
	switch module {
	case ModuleOrders:
		return "ERP:Tiny:orders"
	case ModuleInvoices:
		return "ERP:Tiny:invoices"
	case ModuleFinancial:
		return "ERP:Tiny:financial"
	}
	return "ERP:Tiny"
}

func mapRecord(module ModuleKind, record map[string]interface{}, tenantId, origin string, defaults AccountDefaults) []*models.Transaction {
	switch module {
	case ModuleOrders:
		return MapOrderToTransactions(record, tenantId, origin, defaults)
	case ModuleInvoices:
		return MapInvoiceToTransactions(record, tenantId, origin, defaults)
	case ModuleFinancial:
		return MapFinancialToTransactions(record, tenantId, origin, defaults)
	}
	return nil
}
