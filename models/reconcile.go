package models

import (
	"context"

	"gorm.io/gorm"
)

type ReconcileResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	// Conflicted counts rows the store silently dropped on the
	// (tenant, origin, sourceRef) unique index. Accepted, not an error.
	Conflicted int `json:"conflicted"`
}

// ReconcileTransactions applies a batch of drafts for one tenant against the
// ledger. Drafts whose (origin, sourceRef) already exists become field-level
// updates; everything else is inserted. Drafts without a sourceRef have no
// identity and always insert (at-least-once by design).
func ReconcileTransactions(ctx context.Context, db *gorm.DB, tenantId string, drafts []*Transaction) (ReconcileResult, error) {
	var result ReconcileResult
	if len(drafts) == 0 {
		return result, nil
	}

	refSet := make(map[string]bool)
	originSet := make(map[string]bool)
	for _, draft := range drafts {
		if draft.SourceRef != nil && *draft.SourceRef != "" {
			refSet[*draft.SourceRef] = true
			originSet[draft.Origin] = true
		}
	}

	var existing map[string]bool
	if len(refSet) > 0 {
		refs := make([]string, 0, len(refSet))
		for ref := range refSet {
			refs = append(refs, ref)
		}
		origins := make([]string, 0, len(originSet))
		for origin := range originSet {
			origins = append(origins, origin)
		}
		var err error
		existing, err = FindTransactionRefs(ctx, db, tenantId, origins, refs)
		if err != nil {
			return result, err
		}
	}

	var fresh []*Transaction
	for _, draft := range drafts {
		draft.TenantId = tenantId
		if draft.SourceRef == nil || *draft.SourceRef == "" || !existing[RefKey(draft.Origin, *draft.SourceRef)] {
			fresh = append(fresh, draft)
			continue
		}
		err := UpdateTransactionsByOriginRef(ctx, db, tenantId, draft.Origin, *draft.SourceRef, TransactionFields{
			Date:        draft.Date,
			AccrualDate: draft.AccrualDate,
			Debit:       draft.Debit,
			Credit:      draft.Credit,
			Amount:      draft.Amount,
			Currency:    draft.Currency,
			Memo:        draft.Memo,
			Meta:        draft.Meta,
		})
		if err != nil {
			return result, err
		}
		result.Updated++
	}

	inserted, err := InsertTransactions(ctx, db, fresh)
	if err != nil {
		return result, err
	}
	result.Inserted = int(inserted)
	result.Conflicted = len(fresh) - int(inserted)
	return result, nil
}
