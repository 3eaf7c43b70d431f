package tinysync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/xlsximport"
)

// AccountDefaults holds the ledger accounts used when a Tiny record
// carries no classification of its own.
type AccountDefaults struct {
	Revenue    string
	Receivable string
	Expense    string
	Cash       string
}

func DefaultAccounts() AccountDefaults {
	return AccountDefaults{
		Revenue:    "3.1",
		Receivable: "Clientes",
		Expense:    "5.1",
		Cash:       "Caixa/Bancos",
	}
}

// MapOrderToTransactions maps one Tiny order to transaction drafts, one
// per line item, or a single whole-order draft when the order carries no
// items. Orders with no resolvable id or amount map to nothing.
func MapOrderToTransactions(order map[string]interface{}, tenantId, origin string, defaults AccountDefaults) []*models.Transaction {
	base := unwrapEntity(order, "pedido")
	id := entityId(base, order, "id", "id_pedido", "numero")
	if id == "" {
		return nil
	}
	date := entityDate(base, order, "data_pedido", "data", "data_emissao")
	items := extractItems(pickAny(base, order, "itens", "items", "produtos"))
	orderLabel := entityLabel(base, "numero", "numero_pedido", "id")

	if len(items) == 0 {
		amount, ok := entityAmount(base, order, "valor_total", "total_pedido", "total_venda", "total", "valor")
		if !ok || amount.IsZero() {
			return nil
		}
		return []*models.Transaction{buildTransaction(tenantId, origin, transactionInput{
			date:      date,
			debit:     defaults.Receivable,
			credit:    resolveAccountCode(base, defaults.Revenue),
			amount:    amount,
			memo:      orderMemo(orderLabel, ""),
			sourceRef: "tiny:order:" + id,
			meta:      map[string]interface{}{"order": order},
		})}
	}

	amounts, ok := itemAmounts(items, base, order)
	if !ok {
		return nil
	}
	drafts := make([]*models.Transaction, 0, len(items))
	for i, item := range items {
		if amounts[i].IsZero() {
			continue
		}
		drafts = append(drafts, buildTransaction(tenantId, origin, transactionInput{
			date:      date,
			debit:     defaults.Receivable,
			credit:    resolveItemAccount(item, base, defaults.Revenue),
			amount:    amounts[i],
			memo:      orderMemo(orderLabel, itemDescription(item)),
			sourceRef: "tiny:order:" + id + ":item:" + itemRef(item, i),
			meta:      map[string]interface{}{"order": order, "item": item},
		}))
	}
	return drafts
}

// MapInvoiceToTransactions maps one Tiny invoice the same way orders
// map, keyed tiny:invoice:{id}.
func MapInvoiceToTransactions(invoice map[string]interface{}, tenantId, origin string, defaults AccountDefaults) []*models.Transaction {
	base := unwrapEntity(invoice, "nota_fiscal", "nota")
	id := entityId(base, invoice, "id", "id_nota_fiscal", "numero")
	if id == "" {
		return nil
	}
	date := entityDate(base, invoice, "data_emissao", "data", "data_saida")
	items := extractItems(pickAny(base, invoice, "itens", "items"))
	invoiceLabel := entityLabel(base, "numero", "numero_nota", "id")

	if len(items) == 0 {
		amount, ok := entityAmount(base, invoice, "valor_nota", "valor_total", "valor", "total")
		if !ok || amount.IsZero() {
			return nil
		}
		return []*models.Transaction{buildTransaction(tenantId, origin, transactionInput{
			date:      date,
			debit:     defaults.Receivable,
			credit:    resolveAccountCode(base, defaults.Revenue),
			amount:    amount,
			memo:      invoiceMemo(invoiceLabel, ""),
			sourceRef: "tiny:invoice:" + id,
			meta:      map[string]interface{}{"invoice": invoice},
		})}
	}

	amounts, ok := itemAmounts(items, base, invoice)
	if !ok {
		return nil
	}
	drafts := make([]*models.Transaction, 0, len(items))
	for i, item := range items {
		if amounts[i].IsZero() {
			continue
		}
		drafts = append(drafts, buildTransaction(tenantId, origin, transactionInput{
			date:      date,
			debit:     defaults.Receivable,
			credit:    resolveItemAccount(item, base, defaults.Revenue),
			amount:    amounts[i],
			memo:      invoiceMemo(invoiceLabel, itemDescription(item)),
			sourceRef: "tiny:invoice:" + id + ":item:" + itemRef(item, i),
			meta:      map[string]interface{}{"invoice": invoice, "item": item},
		}))
	}
	return drafts
}

// MapFinancialToTransactions maps one receivable or payable entry to a
// single draft. Cancelled and zero-amount entries map to nothing.
// Payables carry a negative amount.
func MapFinancialToTransactions(entry map[string]interface{}, tenantId, origin string, defaults AccountDefaults) []*models.Transaction {
	base := unwrapEntity(entry, "conta", "titulo", "lancamento")
	id := entityId(base, entry, "id", "id_conta", "documento", "numero")
	if id == "" {
		return nil
	}
	if situacao := toLowerString(pickAny(base, entry, "situacao", "status")); strings.HasPrefix(situacao, "cancel") {
		return nil
	}

	tipo := toLowerString(pickAny(base, entry, "tipo", "natureza"))
	payable := strings.HasPrefix(tipo, "p")

	amount, ok := entityAmount(base, entry, "valor", "valor_titulo", "valor_total", "saldo")
	if !ok {
		amount, ok = sumParcelas(pickAny(base, entry, "parcelas"))
	}
	if !ok || amount.IsZero() {
		return nil
	}
	amount = amount.Abs()
	if payable {
		amount = amount.Neg()
	}

	date := entityDate(base, entry, "data_vencimento", "vencimento", "data_emissao", "data")

	debit := defaults.Receivable
	credit := resolveAccountCode(base, defaults.Revenue)
	if payable {
		debit = resolveAccountCode(base, defaults.Expense)
		credit = defaults.Cash
	}

	memo := entityLabel(base, "historico", "descricao", "cliente", "nome_cliente")
	if memo == "" {
		memo = entityLabel(base, "numero_doc", "documento")
	}

	return []*models.Transaction{buildTransaction(tenantId, origin, transactionInput{
		date:      date,
		debit:     debit,
		credit:    credit,
		amount:    amount,
		memo:      memo,
		sourceRef: "tiny:financial:" + id,
		meta:      map[string]interface{}{"financial": entry},
	})}
}

type transactionInput struct {
	date      time.Time
	debit     string
	credit    string
	amount    decimal.Decimal
	memo      string
	sourceRef string
	meta      map[string]interface{}
}

func buildTransaction(tenantId, origin string, in transactionInput) *models.Transaction {
	txn := &models.Transaction{
		TenantId: tenantId,
		Date:     in.date,
		Debit:    in.debit,
		Credit:   in.credit,
		Amount:   in.amount,
		Currency: "BRL",
		Origin:   origin,
	}
	if in.memo != "" {
		memo := in.memo
		txn.Memo = &memo
	}
	if in.sourceRef != "" {
		ref := in.sourceRef
		txn.SourceRef = &ref
	}
	if in.meta != nil {
		if raw, err := json.Marshal(in.meta); err == nil {
			txn.Meta = raw
		}
	}
	return txn
}

// unwrapEntity strips the single-record wrapper some endpoints put
// around the payload.
func unwrapEntity(entity map[string]interface{}, wrappers ...string) map[string]interface{} {
	for _, w := range wrappers {
		if inner, ok := entity[w].(map[string]interface{}); ok {
			return inner
		}
	}
	return entity
}

func pickAny(base, outer map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := base[key]; ok && v != nil {
			return v
		}
	}
	for _, key := range keys {
		if v, ok := outer[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func entityId(base, outer map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		for _, variant := range keyVariants(key) {
			if s := idToString(pickAny(base, outer, variant)); s != "" {
				return s
			}
		}
	}
	return ""
}

func entityLabel(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := idToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func entityDate(base, outer map[string]interface{}, keys ...string) time.Time {
	for _, key := range keys {
		if v := pickAny(base, outer, key); v != nil {
			if d, ok := xlsximport.ParseDate(v); ok {
				return d
			}
		}
	}
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func entityAmount(base, outer map[string]interface{}, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if v := pickAny(base, outer, key); v != nil {
			if d, ok := xlsximport.ParseAmount(v); ok && !d.IsZero() {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// extractItems accepts the three shapes Tiny serves item lists in: a
// bare array, an array of {"item": {...}} wrappers, or a map holding
// the array one level down.
func extractItems(raw interface{}) []map[string]interface{} {
	if raw == nil {
		return nil
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for _, key := range []string{"item", "itens", "items"} {
			if inner, ok := m[key]; ok {
				raw = inner
				break
			}
		}
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if inner, ok := m["item"].(map[string]interface{}); ok {
			out = append(out, inner)
			continue
		}
		out = append(out, m)
	}
	return out
}

// itemAmounts resolves one amount per item: the item's own total, then
// unit price times quantity, then an even share of the order total, and
// finally an even share of the summed installments. No resolvable
// amount at all means the whole record is unusable.
func itemAmounts(items []map[string]interface{}, base, outer map[string]interface{}) ([]decimal.Decimal, bool) {
	amounts := make([]decimal.Decimal, len(items))
	missing := false
	for i, item := range items {
		if d, ok := itemOwnAmount(item); ok {
			amounts[i] = d
			continue
		}
		missing = true
	}
	if !missing {
		return amounts, true
	}

	total, ok := entityAmount(base, outer, "valor_total", "total_pedido", "total_venda", "valor_nota", "total", "valor")
	if !ok {
		total, ok = sumParcelas(pickAny(base, outer, "parcelas"))
	}
	if !ok {
		return nil, false
	}
	share := total.Div(decimal.NewFromInt(int64(len(items))))
	for i := range amounts {
		if amounts[i].IsZero() {
			amounts[i] = share
		}
	}
	return amounts, true
}

func itemOwnAmount(item map[string]interface{}) (decimal.Decimal, bool) {
	for _, key := range []string{"valor_total", "valor", "total"} {
		if v, ok := item[key]; ok {
			if d, ok := xlsximport.ParseAmount(v); ok && !d.IsZero() {
				return d, true
			}
		}
	}
	unit, okUnit := xlsximport.ParseAmount(pickAny(item, item, "valor_unitario", "preco", "preco_unitario"))
	qty, okQty := xlsximport.ParseAmount(pickAny(item, item, "quantidade", "qtde"))
	if okUnit && okQty && !unit.IsZero() && !qty.IsZero() {
		return unit.Mul(qty), true
	}
	return decimal.Zero, false
}

func sumParcelas(raw interface{}) (decimal.Decimal, bool) {
	parcelas := extractItems(raw)
	if len(parcelas) == 0 {
		return decimal.Zero, false
	}
	total := decimal.Zero
	found := false
	for _, p := range parcelas {
		inner := p
		if wrapped, ok := p["parcela"].(map[string]interface{}); ok {
			inner = wrapped
		}
		if d, ok := xlsximport.ParseAmount(pickAny(inner, inner, "valor", "valor_parcela")); ok {
			total = total.Add(d)
			found = true
		}
	}
	return total, found
}

// resolveItemAccount walks the classification chain on the item first,
// then on the parent record.
func resolveItemAccount(item, base map[string]interface{}, fallback string) string {
	if code := classificationCode(item); code != "" {
		return code
	}
	return resolveAccountCode(base, fallback)
}

func resolveAccountCode(m map[string]interface{}, fallback string) string {
	if code := classificationCode(m); code != "" {
		return code
	}
	return fallback
}

func classificationCode(m map[string]interface{}) string {
	for _, key := range []string{"accountCode", "account_code", "conta_contabil", "classificacao"} {
		if s := idToString(m[key]); s != "" {
			return s
		}
	}
	for _, container := range []string{"conta_gerencial", "categoria", "plano_contas"} {
		if inner, ok := m[container].(map[string]interface{}); ok {
			for _, key := range []string{"codigo", "code", "id"} {
				if s := idToString(inner[key]); s != "" {
					return s
				}
			}
		}
		if s := idToString(m[container]); s != "" {
			return s
		}
	}
	return ""
}

func itemDescription(item map[string]interface{}) string {
	return entityLabel(item, "descricao", "descricao_produto", "nome", "produto")
}

func itemRef(item map[string]interface{}, index int) string {
	if s := entityId(item, item, "id", "id_produto", "codigo"); s != "" {
		return s
	}
	return fmt.Sprintf("%d", index)
}

func orderMemo(orderLabel, itemDesc string) string {
	return composeMemo("Pedido", orderLabel, itemDesc)
}

func invoiceMemo(invoiceLabel, itemDesc string) string {
	return composeMemo("Nota", invoiceLabel, itemDesc)
}

func composeMemo(prefix, label, itemDesc string) string {
	var parts []string
	if label != "" {
		parts = append(parts, prefix+" "+label)
	}
	if itemDesc != "" {
		parts = append(parts, itemDesc)
	}
	return strings.Join(parts, " · ")
}

func toLowerString(v interface{}) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}
