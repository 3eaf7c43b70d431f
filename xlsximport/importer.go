package xlsximport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lumeara/dre_backend/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	DefaultDebitAccount  = "Clientes"
	DefaultCreditAccount = "3.1"
	DefaultCurrency      = "BRL"
	DefaultOrigin        = "import:xlsx"
)

type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Imported    int          `json:"imported"`
	Skipped     int          `json:"skipped"`
	Sheet       string       `json:"sheet"`
	SkippedRows []SkippedRow `json:"skippedRows,omitempty"`
	Warning     string       `json:"warning,omitempty"`
}

var ErrNoSheet = errors.New("nenhuma aba encontrada no arquivo enviado")

// ImportTransactions reads an uploaded spreadsheet, normalizes each row into
// a transaction draft and persists the batch through the reconciliation
// engine. Row-level problems skip the row with a reason; only a structurally
// unreadable file is an error.
func ImportTransactions(ctx context.Context, db *gorm.DB, tenantId string, r io.Reader) (*ImportResult, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("não foi possível ler a planilha: %w", err)
	}
	defer file.Close()

	sheetName := pickSheet(file.GetSheetList())
	if sheetName == "" {
		return nil, ErrNoSheet
	}

	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("não foi possível ler a aba selecionada: %w", err)
	}
	if len(rows) < 2 {
		return &ImportResult{
			Sheet:   sheetName,
			Warning: "A planilha não contém linhas para importar.",
		}, nil
	}

	header := rows[0]
	var drafts []*models.Transaction
	var skipped []SkippedRow

	for i, cells := range rows[1:] {
		rowNumber := i + 2
		original := rowToRecord(header, cells)
		if len(original) == 0 {
			continue
		}
		normalized := NormalizeRow(original)

		draft, skip := normalizeRow(tenantId, original, normalized)
		if skip != "" {
			skipped = append(skipped, SkippedRow{Row: rowNumber, Reason: skip})
			continue
		}
		drafts = append(drafts, draft)
	}

	result := &ImportResult{
		Imported:    0,
		Skipped:     len(skipped),
		Sheet:       sheetName,
		SkippedRows: skipped,
	}

	if len(drafts) == 0 {
		result.Warning = "Nenhuma linha válida encontrada. Verifique os campos obrigatórios."
		return result, nil
	}

	if _, err := models.ReconcileTransactions(ctx, db, tenantId, drafts); err != nil {
		return nil, err
	}
	result.Imported = len(drafts)
	return result, nil
}

// Prefer a sheet literally named "Transactions" (any casing), else the first.
func pickSheet(sheets []string) string {
	for _, name := range sheets {
		if strings.EqualFold(name, "transactions") {
			return name
		}
	}
	if len(sheets) > 0 {
		return sheets[0]
	}
	return ""
}

func rowToRecord(header []string, cells []string) map[string]any {
	record := make(map[string]any, len(header))
	empty := true
	for col, key := range header {
		if strings.TrimSpace(key) == "" {
			continue
		}
		var value string
		if col < len(cells) {
			value = strings.TrimSpace(cells[col])
		}
		if value != "" {
			empty = false
		}
		record[key] = value
	}
	if empty {
		return nil
	}
	return record
}

func normalizeRow(tenantId string, original map[string]any, normalized map[string]any) (*models.Transaction, string) {
	dateValue, _ := Lookup(normalized, FieldAliases["date"])
	date, ok := ParseDate(dateValue)
	if !ok {
		return nil, "Data ausente ou inválida"
	}

	amountRaw, found := Lookup(normalized, FieldAliases["amount"])
	if !found {
		amountRaw, _ = LookupContains(normalized, amountContainsPatterns)
	}
	amount, ok := ParseAmount(amountRaw)
	if !ok {
		return nil, amountSkipReason(normalized)
	}

	draft := &models.Transaction{
		TenantId: tenantId,
		Date:     date,
		Amount:   amount,
		Currency: DefaultCurrency,
		Origin:   DefaultOrigin,
	}

	if accrualRaw, ok := Lookup(normalized, FieldAliases["accrualDate"]); ok {
		if accrual, ok := ParseDate(accrualRaw); ok {
			draft.AccrualDate = &accrual
		}
	}

	debitRaw, _ := Lookup(normalized, FieldAliases["debit"])
	creditRaw, _ := Lookup(normalized, FieldAliases["credit"])
	draft.Debit = ResolveAccount(debitRaw, DefaultDebitAccount)
	draft.Credit = ResolveAccount(creditRaw, DefaultCreditAccount)

	if currency, ok := Lookup(normalized, FieldAliases["currency"]); ok {
		draft.Currency = toString(currency)
	}
	if origin, ok := Lookup(normalized, FieldAliases["origin"]); ok {
		draft.Origin = toString(origin)
	}
	if refValue, ok := Lookup(normalized, FieldAliases["sourceRef"]); ok {
		ref := toString(refValue)
		draft.SourceRef = &ref
	}

	if memo := buildMemo(normalized); memo != "" {
		draft.Memo = &memo
	}

	if meta, err := json.Marshal(original); err == nil {
		draft.Meta = meta
	}

	return draft, ""
}

// Up to 6 candidate "valor"/"total" columns go into the reason so an operator
// can see what the resolver looked at.
func amountSkipReason(normalized map[string]any) string {
	var candidates []string
	keys := make([]string, 0, len(normalized))
	for key := range normalized {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !strings.Contains(key, "valor") && !strings.Contains(key, "total") {
			continue
		}
		candidates = append(candidates, fmt.Sprintf("%s:%s", key, toString(normalized[key])))
		if len(candidates) == 6 {
			break
		}
	}
	if len(candidates) == 0 {
		return "Valor ausente ou inválido"
	}
	return fmt.Sprintf("Valor ausente ou inválido (colunas: %s)", strings.Join(candidates, ", "))
}

func buildMemo(normalized map[string]any) string {
	if explicit, ok := Lookup(normalized, FieldAliases["memo"]); ok {
		return toString(explicit)
	}

	customer := normalized[NormalizeKey("cliente")]
	if isEmptyValue(customer) {
		customer = normalized[NormalizeKey("razaoSocial")]
	}
	var doc any
	for _, key := range []string{"numero", "pedido", "nota", "documento"} {
		if v := normalized[NormalizeKey(key)]; !isEmptyValue(v) {
			doc = v
			break
		}
	}

	var parts []string
	if !isEmptyValue(doc) {
		parts = append(parts, "Doc "+toString(doc))
	}
	if !isEmptyValue(customer) {
		parts = append(parts, "Cliente: "+toString(customer))
	}
	return strings.Join(parts, " · ")
}
